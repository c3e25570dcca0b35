// Package resolver implements the Version Resolver (spec section 4.6):
// finding versions of a database across configured repositories and
// picking the latest, grounded on repository.py's Repository lookups.
package resolver

import (
	"context"
	"errors"
	"sort"

	"github.com/coreos/go-semver/semver"
	"github.com/rs/zerolog/log"

	"corpusdb/backend"
	"corpusdb/catalog"
	"corpusdb/config"
	"corpusdb/corpuserr"
)

// Resolver looks up databases across an ordered list of repositories,
// consulted left-to-right (spec section 6, REPOSITORIES).
type Resolver struct {
	Repositories []config.Repository
	Backends     map[string]backend.Backend // by repository Name, pre-opened by the caller

	// Catalog is an optional Postgres index consulted before scanning every
	// backend. It is a caching layer only (spec section 4.6): a miss or a
	// nil Catalog always falls back to the authoritative backend scan, and
	// a successful scan is written back so later calls can skip it.
	Catalog *catalog.Catalog
}

// New builds a Resolver, opening a backend for every configured repository
// via the open registry (backend.New). A repository whose backend_kind is
// unregistered or unavailable on this platform is skipped, not fatal,
// matching spec section 4.6's "skipped silently" for read paths.
func New(repos []config.Repository) *Resolver {
	backends := make(map[string]backend.Backend, len(repos))
	for _, r := range repos {
		b, err := backend.New(r.Backend, r.Host)
		if err != nil {
			log.Warn().Str("component", "resolver").Str("repository", r.Name).Err(err).
				Msg("skipping repository with unavailable backend")
			continue
		}
		backends[r.Name] = b
	}
	return &Resolver{Repositories: repos, Backends: backends}
}

// Versions scans every configured repository via ListVersions and returns
// the sorted union. Non-existent repositories and transport failures other
// than network errors are skipped silently. When a Catalog is configured,
// it is consulted first and only bypassed on a miss.
func (r *Resolver) Versions(ctx context.Context, name string) ([]string, error) {
	if r.Catalog != nil {
		if cached, err := r.Catalog.Versions(ctx, name); err == nil && len(cached) > 0 {
			sortSemver(cached)
			return cached, nil
		}
	}

	seen := make(map[string]struct{})
	for _, repo := range r.Repositories {
		b, ok := r.Backends[repo.Name]
		if !ok {
			continue
		}
		versions, err := b.ListVersions(ctx, name)
		if err != nil {
			var netErr *corpuserr.NetworkError
			if errors.As(err, &netErr) {
				return nil, err
			}
			log.Debug().Str("component", "resolver").Str("repository", repo.Name).Err(err).
				Msg("skipping repository during version scan")
			continue
		}
		for _, v := range versions {
			seen[v] = struct{}{}
			r.recordCatalogEntry(ctx, name, v, repo)
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sortSemver(out)
	return out, nil
}

// recordCatalogEntry writes a scan result back into the catalog. Failures
// are logged, not surfaced: the catalog is a cache, and a scan that already
// succeeded must not fail because the cache write did.
func (r *Resolver) recordCatalogEntry(ctx context.Context, name, version string, repo config.Repository) {
	if r.Catalog == nil {
		return
	}
	entry := catalog.Entry{Name: name, Version: version, Repository: repo.Name, Backend: repo.Backend, Host: repo.Host}
	if err := r.Catalog.Record(ctx, entry); err != nil {
		log.Debug().Str("component", "resolver").Str("repository", repo.Name).Err(err).
			Msg("failed to record catalog entry, continuing without it")
	}
}

// Repository returns the first configured repository, in declaration
// order, that contains the exact (name, version) pair. When a Catalog is
// configured, its recorded repository names are tried first, in the order
// the catalog returns them, before falling back to a full scan of every
// configured repository.
func (r *Resolver) Repository(ctx context.Context, name, version string) (config.Repository, backend.Backend, error) {
	if r.Catalog != nil {
		if names, err := r.Catalog.Repositories(ctx, name, version); err == nil {
			for _, repoName := range names {
				if repo, b, ok := r.tryRepository(ctx, repoName, name, version); ok {
					return repo, b, nil
				}
			}
		}
	}

	for _, repo := range r.Repositories {
		if repo, b, ok := r.tryRepository(ctx, repo.Name, name, version); ok {
			return repo, b, nil
		}
	}
	return config.Repository{}, nil, &corpuserr.NotFoundError{Search: name + "/" + version}
}

func (r *Resolver) tryRepository(ctx context.Context, repoName, name, version string) (config.Repository, backend.Backend, bool) {
	b, ok := r.Backends[repoName]
	if !ok {
		return config.Repository{}, nil, false
	}
	published, err := backend.Published(ctx, b, name, version)
	if err != nil || !published {
		return config.Repository{}, nil, false
	}
	for _, repo := range r.Repositories {
		if repo.Name == repoName {
			return repo, b, true
		}
	}
	return config.Repository{}, nil, false
}

// LatestVersion returns the maximum version under strict semver ordering.
func (r *Resolver) LatestVersion(ctx context.Context, name string) (string, error) {
	versions, err := r.Versions(ctx, name)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", &corpuserr.NotFoundError{Search: name}
	}
	return versions[len(versions)-1], nil
}

// Available is one row of the availability table (spec section 4.6).
type Available struct {
	Name       string
	Version    string
	Repository string
	Backend    string
	Host       string
}

// AvailableAll enumerates every (name, version) pair across the given
// repositories (or all configured ones if repos is empty), skipping any
// pair whose db.yaml or db.parquet is missing.
func (r *Resolver) AvailableAll(ctx context.Context, names []string, repos []string) ([]Available, error) {
	wanted := make(map[string]struct{}, len(repos))
	for _, r := range repos {
		wanted[r] = struct{}{}
	}

	var out []Available
	for _, repo := range r.Repositories {
		if len(wanted) > 0 {
			if _, ok := wanted[repo.Name]; !ok {
				continue
			}
		}
		b, ok := r.Backends[repo.Name]
		if !ok {
			continue
		}
		for _, name := range names {
			versions, err := b.ListVersions(ctx, name)
			if err != nil {
				continue
			}
			for _, v := range versions {
				published, err := backend.Published(ctx, b, name, v)
				if err != nil || !published {
					continue
				}
				out = append(out, Available{Name: name, Version: v, Repository: repo.Name, Backend: repo.Backend, Host: repo.Host})
			}
		}
	}
	return out, nil
}

func sortSemver(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i])
		vj, errj := semver.NewVersion(versions[j])
		if erri != nil || errj != nil {
			return versions[i] < versions[j]
		}
		return vi.LessThan(*vj)
	})
}
