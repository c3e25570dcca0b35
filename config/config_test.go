package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheRoot == "" {
		t.Error("expected a non-empty default cache root")
	}
	if cfg.Workers <= 0 {
		t.Errorf("expected positive default worker count, got %d", cfg.Workers)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpusdb.yaml")
	contents := "cache_root: /tmp/cache\nshared_cache_root: /tmp/shared\nworkers: 4\nrepositories:\n  - name: data-local\n    host: /data\n    backend: file-system\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheRoot != "/tmp/cache" {
		t.Errorf("CacheRoot = %q, want /tmp/cache", cfg.CacheRoot)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if len(cfg.Repositories) != 1 || cfg.Repositories[0].Name != "data-local" {
		t.Fatalf("Repositories = %+v", cfg.Repositories)
	}
}

func TestParseRepositoriesEnv(t *testing.T) {
	repos, err := parseRepositoriesEnv("data-local=/data=file-system;data-public=s3.example.com=s3")
	if err != nil {
		t.Fatalf("parseRepositoriesEnv() error = %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("len(repos) = %d, want 2", len(repos))
	}
	if repos[1].Backend != "s3" {
		t.Errorf("repos[1].Backend = %q, want s3", repos[1].Backend)
	}
}

func TestParseRepositoriesEnvMalformed(t *testing.T) {
	if _, err := parseRepositoriesEnv("bad-entry"); err == nil {
		t.Error("expected error for malformed entry")
	}
}
