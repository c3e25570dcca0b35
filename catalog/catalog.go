// Package catalog is an optional Postgres-backed index of resolved
// (name, version, repository) tuples, adapted from the artifact registry's
// gorm-backed metadata store. It is a caching layer only: the dependency
// table and header remain the source of truth (spec section 4.6); the
// catalog exists so a fleet of consumers can answer "what versions exist"
// without re-scanning every backend on every call.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one indexed (name, version) publication.
type Entry struct {
	Name       string `gorm:"primaryKey;size:255;not null"`
	Version    string `gorm:"primaryKey;size:64;not null"`
	Repository string `gorm:"primaryKey;size:255;not null"`
	Backend    string `gorm:"size:64;not null"`
	Host       string `gorm:"size:512;not null"`

	PublishedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Catalog wraps a *gorm.DB connection to the index database.
type Catalog struct {
	db *gorm.DB
}

// DSN is a Postgres connection string, matching the artifact registry's
// key='value' DSN construction.
type DSN struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DSN) String() string {
	return fmt.Sprintf(
		"host='%s' port='%d' user='%s' password='%s' dbname='%s' sslmode='%s'",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// Open connects to Postgres and migrates the catalog schema.
func Open(dsn DSN) (*Catalog, error) {
	db, err := gorm.Open(postgres.Open(dsn.String()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, &DatabaseError{Inner: err}
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, &DatabaseError{Inner: err}
	}
	log.Debug().Str("component", "catalog").Str("host", dsn.Host).Msg("connected to catalog database")
	return &Catalog{db: db}, nil
}

// Record upserts one resolved publication into the catalog, called by the
// publish pipeline immediately after a version becomes visible.
func (c *Catalog) Record(ctx context.Context, e Entry) error {
	_, err := gorm.G[Entry](c.db).Where(&Entry{Name: e.Name, Version: e.Version, Repository: e.Repository}).Delete(ctx)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapErrorWithDetails(err, "delete existing catalog entry", entryDetail(e))
	}
	if err := gorm.G[Entry](c.db).Create(ctx, &e); err != nil {
		return wrapErrorWithDetails(err, "record catalog entry", entryDetail(e))
	}
	return nil
}

// Versions returns every version of name recorded in the catalog, across
// every repository, without touching a backend.
func (c *Catalog) Versions(ctx context.Context, name string) ([]string, error) {
	entries, err := gorm.G[Entry](c.db).Where(&Entry{Name: name}).Find(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "list catalog versions", name)
	}
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.Version]; ok {
			continue
		}
		seen[e.Version] = struct{}{}
		out = append(out, e.Version)
	}
	return out, nil
}

// Repositories returns every repository name that has published (name,
// version). The query sets no ordering, so the order of the names is
// whatever the database returns.
func (c *Catalog) Repositories(ctx context.Context, name, version string) ([]string, error) {
	entries, err := gorm.G[Entry](c.db).Where(&Entry{Name: name, Version: version}).Find(ctx)
	if err != nil {
		return nil, wrapErrorWithDetails(err, "list catalog repositories", name+"/"+version)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Repository
	}
	return out, nil
}

// Forget removes every catalog entry for name, used when a database is
// deleted from every repository.
func (c *Catalog) Forget(ctx context.Context, name string) error {
	_, err := gorm.G[Entry](c.db).Where(&Entry{Name: name}).Delete(ctx)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapErrorWithDetails(err, "forget catalog entries", name)
	}
	return nil
}

func entryDetail(e Entry) string {
	return fmt.Sprintf("name=%q version=%q repository=%q", e.Name, e.Version, e.Repository)
}
