// Package config models the process-wide settings named in spec section 9
// (REPOSITORIES, CACHE_ROOT, SHARED_CACHE_ROOT) as an explicit value
// threaded through the API rather than ambient globals, so the core stays
// testable and reentrant.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Repository is (name, host, backend_kind) as defined in spec section 6.
type Repository struct {
	Name    string `mapstructure:"name"`
	Host    string `mapstructure:"host"`
	Backend string `mapstructure:"backend"`
}

func (r Repository) String() string {
	return fmt.Sprintf("Repository(%q, %q, %q)", r.Name, r.Host, r.Backend)
}

// Catalog is the optional Postgres index connection, left zero-valued to
// mean "no catalog configured" (spec section 4.6 treats the catalog as a
// caching layer, never a hard dependency).
type Catalog struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Configured reports whether enough of the catalog connection was supplied
// to attempt opening it.
func (c Catalog) Configured() bool {
	return c.Host != "" && c.Database != ""
}

// Config holds every process-wide setting corpusdb needs. It is loaded once
// at startup and from then on is plain data, safe to copy and pass down
// through pipeline calls.
type Config struct {
	Repositories    []Repository `mapstructure:"repositories"`
	CacheRoot       string       `mapstructure:"cache_root"`
	SharedCacheRoot string       `mapstructure:"shared_cache_root"`
	Workers         int          `mapstructure:"workers"`
	Catalog         Catalog      `mapstructure:"catalog"`
}

const envPrefix = "CORPUSDB"

// Load reads configuration from an optional YAML file plus CORPUSDB_*
// environment overrides, matching the layered file+env approach the
// Fauli-music-janitor CLI uses with viper. cfgFile may be empty, in which
// case only defaults and environment variables apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("cache_root", defaultCacheRoot())
	v.SetDefault("shared_cache_root", "")
	v.SetDefault("workers", 0)
	v.SetDefault("catalog.sslmode", "disable")
	v.SetDefault("catalog.port", 5432)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	// REPOSITORIES from the environment is a ';'-separated list of
	// name=host=backend triples, since viper's AutomaticEnv can't populate
	// a slice of structs on its own.
	if raw := os.Getenv(envPrefix + "_REPOSITORIES"); raw != "" {
		repos, err := parseRepositoriesEnv(raw)
		if err != nil {
			return nil, err
		}
		v.Set("repositories", repos)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers()
	}

	return cfg, nil
}

func parseRepositoriesEnv(raw string) ([]Repository, error) {
	var repos []Repository
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed repository entry %q, want name=host=backend", entry)
		}
		repos = append(repos, Repository{Name: parts[0], Host: parts[1], Backend: parts[2]})
	}
	return repos, nil
}

func defaultCacheRoot() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "corpusdb")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cache", "corpusdb")
	}
	return filepath.Join(home, ".cache", "corpusdb")
}

func defaultWorkers() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}
