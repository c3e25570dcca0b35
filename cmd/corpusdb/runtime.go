package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"corpusdb/cachemgr"
	"corpusdb/catalog"
	"corpusdb/config"
	"corpusdb/resolver"
)

// loadRuntime reads process configuration and wires a Resolver and cache
// Manager from it, shared by every subcommand. When a catalog is
// configured, it is opened and attached to the resolver so version lookups
// consult the index before scanning every repository.
func loadRuntime() (*config.Config, *resolver.Resolver, *cachemgr.Manager, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, nil, nil, err
	}
	res := resolver.New(cfg.Repositories)
	if cfg.Catalog.Configured() {
		cat, err := openCatalog(cfg.Catalog)
		if err != nil {
			log.Warn().Err(err).Msg("catalog configured but unavailable, falling back to backend scans")
		} else {
			res.Catalog = cat
		}
	}
	cache := cachemgr.New(cfg.CacheRoot, cfg.SharedCacheRoot)
	return cfg, res, cache, nil
}

func openCatalog(c config.Catalog) (*catalog.Catalog, error) {
	return catalog.Open(catalog.DSN{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Database,
		SSLMode:  c.SSLMode,
	})
}
