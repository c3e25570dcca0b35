// Package info implements header-level introspection (spec section 4.9):
// answering questions about schemes, splits, tables, raters, languages,
// duration, and file counts without materializing any media, grounded on
// repository.py's Repository.get_header/get_deps split between cheap
// header reads and the heavier dependency table fetch.
package info

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"corpusdb/backend"
	"corpusdb/cachemgr"
	"corpusdb/deptable"
	"corpusdb/resolver"
)

// Header mirrors the subset of db.yaml that info queries answer questions
// about. Keys not listed here are ignored when decoding, so a caller that
// only needs, say, Languages doesn't force us to model the entire audformat
// header schema
// (explicitly out of scope, spec section 1).
type Header struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Author      string         `yaml:"author"`
	License     string         `yaml:"license"`
	Languages   []string       `yaml:"languages"`
	Schemes     map[string]any `yaml:"schemes"`
	Splits      map[string]any `yaml:"splits"`
	Raters      map[string]any `yaml:"raters"`
	Tables      map[string]any `yaml:"tables"`
	Media       map[string]any `yaml:"media"`
	Source      string         `yaml:"source"`
	Meta        map[string]any `yaml:"meta,omitempty"`
}

// Request describes one info query.
type Request struct {
	Name     string
	Version  string // empty means latest
	Cache    *cachemgr.Manager
	Resolver *resolver.Resolver
}

// Result is a fetched header, plus the dependency table only if the caller
// asked for it via WithDependencyTable.
type Result struct {
	Version string
	Header  Header
	Table   *deptable.Table
}

// Fetch fetches and caches db.yaml only, answering header-level questions
// without ever touching a media archive.
func Fetch(ctx context.Context, req Request) (*Result, error) {
	return fetch(ctx, req, false)
}

// WithDependencyTable fetches db.yaml and db.parquet, needed for questions
// that require per-file totals (duration, checksum, file count).
func WithDependencyTable(ctx context.Context, req Request) (*Result, error) {
	return fetch(ctx, req, true)
}

func fetch(ctx context.Context, req Request, includeTable bool) (*Result, error) {
	version := req.Version
	var err error
	if version == "" {
		version, err = req.Resolver.LatestVersion(ctx, req.Name)
		if err != nil {
			return nil, err
		}
	}
	_, b, err := req.Resolver.Repository(ctx, req.Name, version)
	if err != nil {
		return nil, err
	}

	dir := req.Cache.WriteDir(req.Name, version, "default", false)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	headerPath := filepath.Join(dir, "db.yaml")
	if err := fetchIfMissing(ctx, b, backend.HeaderKey(req.Name, version), headerPath); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, err
	}
	var header Header
	if err := yaml.Unmarshal(raw, &header); err != nil {
		return nil, err
	}

	result := &Result{Version: version, Header: header}
	if !includeTable {
		return result, nil
	}

	tablePath := filepath.Join(dir, "db.parquet")
	if _, statErr := os.Stat(tablePath); statErr == nil {
		table, err := deptable.ReadParquet(tablePath)
		if err == nil {
			result.Table = table
			return result, nil
		}
	}
	table, err := deptable.Fetch(ctx, b, backend.DependencyTableCandidates(req.Name, version), dir)
	if err != nil {
		return nil, err
	}
	result.Table = table
	return result, nil
}

func fetchIfMissing(ctx context.Context, b backend.Backend, key, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	return b.Get(ctx, key, dst)
}

// Duration returns the total duration in seconds of every non-tombstoned
// media file, requiring the dependency table.
func Duration(table *deptable.Table) float64 {
	var total float64
	for _, p := range table.Media() {
		if removed, _ := table.Removed(p); removed {
			continue
		}
		d, _ := table.Duration(p)
		total += d
	}
	return total
}

// FileCount returns the number of non-tombstoned media files.
func FileCount(table *deptable.Table) int {
	n := 0
	for _, p := range table.Media() {
		if removed, _ := table.Removed(p); removed {
			continue
		}
		n++
	}
	return n
}

// LanguageList returns the header's declared languages.
func (h Header) LanguageList() []string { return h.Languages }

// TableNames returns the header's declared table identifiers.
func (h Header) TableNames() []string {
	names := make([]string, 0, len(h.Tables))
	for k := range h.Tables {
		names = append(names, k)
	}
	return names
}
