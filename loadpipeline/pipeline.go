// Package loadpipeline implements the end-to-end consumer flow (spec
// section 4.7): resolve, lock, fetch header and dependency table, plan the
// required scope, reuse what's already cached, fetch and unpack the rest,
// apply flavor transforms, and finalize.
package loadpipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"corpusdb/archivecodec"
	"corpusdb/backend"
	"corpusdb/cachemgr"
	"corpusdb/corpuserr"
	"corpusdb/deptable"
	"corpusdb/flavor"
	"corpusdb/resolver"
)

// Filters narrows a load to a subset of the database (spec section 4.7).
type Filters struct {
	Tables       []string // nil means all
	Media        []string // nil means all
	Attachments  []string // nil means all
	OnlyMetadata bool
}

// Request describes one load pipeline invocation.
type Request struct {
	Name     string
	Version  string // empty means latest
	Flavor   flavor.Spec
	Filters  Filters
	Workers  int
	Cache    *cachemgr.Manager
	Resolver *resolver.Resolver
	// PreferSharedWrite mirrors §4.4: write to the shared cache tier when
	// it is writable and the caller opted in.
	PreferSharedWrite bool
	Transformer       flavor.Transformer
}

// Result is what a successful (possibly partial) load produced.
type Result struct {
	Dir     string
	Table   *deptable.Table
	Version string
}

const maxRetries = 3
const retryBaseDelay = 1 * time.Second
const retryMaxDelay = 30 * time.Second

// Run executes the load pipeline for req and returns the materialized
// flavor directory. A partial fetch failure surfaces as *corpuserr.LoadError
// and a transform-only failure as *corpuserr.FlavorError, while still
// returning a Result reflecting whatever succeeded.
func Run(ctx context.Context, req Request) (*Result, error) {
	logger := log.With().Str("component", "loadpipeline").Str("name", req.Name).Logger()

	flavorSpec, err := flavor.New(req.Flavor)
	if err != nil {
		return nil, err
	}

	// 1. Resolve.
	version := req.Version
	if version == "" {
		version, err = req.Resolver.LatestVersion(ctx, req.Name)
		if err != nil {
			return nil, err
		}
	}
	repo, b, err := req.Resolver.Repository(ctx, req.Name, version)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("repository", repo.Name).Str("version", version).Logger()

	// 2. Acquire lock on the target flavor directory.
	dir := req.Cache.WriteDir(req.Name, version, flavorSpec.ID(), req.PreferSharedWrite)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &corpuserr.IoError{Op: "mkdir " + dir, Inner: err}
	}
	lock, err := cachemgr.Acquire(dir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	// 3. Fetch header + dependency table.
	table, err := fetchDependencyTable(ctx, b, req.Name, version, dir)
	if err != nil {
		return nil, err
	}
	if err := fetchIfMissing(ctx, b, backend.HeaderKey(req.Name, version), filepath.Join(dir, "db.yaml")); err != nil {
		return nil, err
	}

	// 4. Plan.
	scope := plan(table, req.Filters)

	// 5. Reuse scan.
	remaining := reuseScan(req.Cache, req.Name, dir, table, scope)

	// 6. Fetch.
	logger.Debug().Int("scope", len(scope)).Int("remaining_after_reuse", len(remaining)).Msg("planned load scope")
	fetchFailed := fetchArchives(ctx, b, req.Name, version, dir, table, remaining, req.Workers)

	// 7. Transform. Kept separate from fetchFailed so a caller can tell
	// "fetched but transform failed" from "fetch failed" (spec section 4.5).
	var transformFailed []corpuserr.FailedPath
	if !flavorSpec.IsDefault() && !req.Filters.OnlyMetadata {
		transformFailed = applyFlavor(dir, table, scope, flavorSpec, req.Transformer, req.Workers)
	}

	result := &Result{Dir: dir, Table: table, Version: version}

	// 8. Finalize.
	if len(fetchFailed) == 0 && len(transformFailed) == 0 {
		if err := cachemgr.MarkComplete(dir); err != nil {
			return result, &corpuserr.IoError{Op: "mark complete " + dir, Inner: err}
		}
		return result, nil
	}
	if len(fetchFailed) > 0 {
		if len(transformFailed) > 0 {
			logger.Warn().Int("transform_failed", len(transformFailed)).
				Msg("transform failures also occurred during a load that already failed to fetch")
		}
		return result, &corpuserr.LoadError{Failed: fetchFailed}
	}
	return result, &corpuserr.FlavorError{Failed: transformFailed}
}

func fetchDependencyTable(ctx context.Context, b backend.Backend, name, version, dir string) (*deptable.Table, error) {
	dst := filepath.Join(dir, "db.parquet")
	if _, err := os.Stat(dst); err == nil {
		if tbl, err := deptable.ReadParquet(dst); err == nil {
			return tbl, nil
		}
	}
	return deptable.Fetch(ctx, b, backend.DependencyTableCandidates(name, version), dir)
}

func fetchIfMissing(ctx context.Context, b backend.Backend, key, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	return b.Get(ctx, key, dst)
}

// plan intersects the requested filters against the dependency table,
// excluding tombstoned media unless explicitly requested (spec 4.7 step 4).
func plan(table *deptable.Table, f Filters) []string {
	var scope []string
	scope = append(scope, intersect(table.Tables(), f.Tables)...)
	scope = append(scope, intersect(table.Attachments(), f.Attachments)...)
	if !f.OnlyMetadata {
		removed := make(map[string]bool, len(table.RemovedMedia()))
		for _, p := range table.RemovedMedia() {
			removed[p] = true
		}
		for _, p := range intersect(table.Media(), f.Media) {
			if !removed[p] || f.Media != nil {
				scope = append(scope, p)
			}
		}
	}
	return scope
}

func intersect(all []string, filter []string) []string {
	if filter == nil {
		return all
	}
	want := make(map[string]struct{}, len(filter))
	for _, p := range filter {
		want[p] = struct{}{}
	}
	var out []string
	for _, p := range all {
		if _, ok := want[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// reuseScan attempts cross-version hard-link reuse for each required path,
// linking a matching sibling file directly into dir, and returns the
// subset that still needs a fresh fetch. Reuse is best-effort: a link/copy
// failure just leaves the path in remaining (spec section 4.4).
func reuseScan(cache *cachemgr.Manager, name, dir string, table *deptable.Table, scope []string) []string {
	candidates := cache.ReuseCandidates(name)
	if len(candidates) == 0 {
		return scope
	}
	checksums := table.ChecksumBatch(scope)

	var remaining []string
	for _, p := range scope {
		want := checksums[p]
		target := filepath.Join(dir, filepath.FromSlash(p))
		if _, err := os.Stat(target); err == nil {
			continue
		}

		reused := false
		for _, candidateDir := range candidates {
			candidate := filepath.Join(candidateDir, filepath.FromSlash(p))
			sum, err := archivecodec.Checksum(candidate)
			if err != nil || sum != want {
				continue
			}
			if err := cachemgr.ReuseFile(candidate, target); err == nil {
				reused = true
				break
			}
		}
		if !reused {
			remaining = append(remaining, p)
		}
	}
	return remaining
}

// archiveGroup is every remaining path packed under one archive key.
type archiveGroup struct {
	kind      deptable.Kind
	archiveID string
	paths     []string
}

// fetchArchives downloads and unpacks every archive that still owns a
// remaining path, bounded by workers concurrent fetches, retrying each
// archive up to maxRetries times with exponential backoff. Each archive is
// fetched from the version recorded on its rows, falling back to version.
func fetchArchives(ctx context.Context, b backend.Backend, name, version, dir string, table *deptable.Table, remaining []string, workers int) []corpuserr.FailedPath {
	groups := groupByArchive(table, remaining)
	if workers <= 0 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers)
	results := make(chan []corpuserr.FailedPath, len(groups))

	for _, g := range groups {
		g := g
		archiveVersion := version
		if v, err := table.Version(g.paths[0]); err == nil && v != "" {
			archiveVersion = v
		}
		p.Go(func() {
			results <- fetchOneArchive(ctx, b, name, archiveVersion, dir, g)
		})
	}
	p.Wait()
	close(results)

	var failed []corpuserr.FailedPath
	for r := range results {
		failed = append(failed, r...)
	}
	return failed
}

func groupByArchive(table *deptable.Table, paths []string) []archiveGroup {
	archives := table.ArchiveBatch(paths)
	kinds := table.KindBatch(paths)

	type key struct {
		kind    deptable.Kind
		archive string
	}
	index := make(map[key]int)
	var groups []archiveGroup
	for _, p := range paths {
		k := key{kind: kinds[p], archive: archives[p]}
		if idx, ok := index[k]; ok {
			groups[idx].paths = append(groups[idx].paths, p)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, archiveGroup{kind: k.kind, archiveID: k.archive, paths: []string{p}})
	}
	return groups
}

func fetchOneArchive(ctx context.Context, b backend.Backend, name, version, dir string, g archiveGroup) []corpuserr.FailedPath {
	key := archiveKeyFor(name, version, g.kind, g.archiveID)

	tmp := filepath.Join(dir, ".fetch-"+g.archiveID+".zip")
	defer os.Remove(tmp)

	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			if delay < retryMaxDelay {
				delay *= 2
			}
		}
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		os.Remove(tmp)
		if err := b.Get(ctx, key, tmp); err != nil {
			lastErr = err
			continue
		}
		if err := archivecodec.Unpack(tmp, dir); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	failed := make([]corpuserr.FailedPath, len(g.paths))
	for i, p := range g.paths {
		failed[i] = corpuserr.FailedPath{Path: p, Cause: lastErr}
	}
	return failed
}

func archiveKeyFor(name, version string, kind deptable.Kind, archiveID string) string {
	switch kind {
	case deptable.KindMeta:
		return backend.TableArchiveKey(name, version, archiveID)
	case deptable.KindAttachment:
		return backend.AttachmentArchiveKey(name, version, archiveID)
	default:
		return backend.MediaArchiveKey(name, version, archiveID)
	}
}

func applyFlavor(dir string, table *deptable.Table, scope []string, spec flavor.Spec, transformer flavor.Transformer, workers int) []corpuserr.FailedPath {
	if transformer == nil {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	p := pool.New().WithMaxGoroutines(workers)
	results := make(chan *corpuserr.FailedPath, len(scope))

	for _, path := range scope {
		path := path
		kind, err := table.KindOf(path)
		if err != nil || kind != deptable.KindMedia {
			continue
		}
		p.Go(func() {
			results <- transformOne(dir, table, path, spec, transformer)
		})
	}
	p.Wait()
	close(results)

	var failed []corpuserr.FailedPath
	for r := range results {
		if r != nil {
			failed = append(failed, *r)
		}
	}
	return failed
}

func transformOne(dir string, table *deptable.Table, path string, spec flavor.Spec, transformer flavor.Transformer) *corpuserr.FailedPath {
	src := filepath.Join(dir, filepath.FromSlash(path))
	format, _ := table.Format(path)
	bitDepth, _ := table.BitDepth(path)
	channels, _ := table.Channels(path)
	rate, _ := table.SamplingRate(path)
	props := flavor.SourceProps{Format: format, BitDepth: bitDepth, Channels: channels, SamplingRate: rate}

	if !spec.NeedsConversion(props) {
		return nil
	}
	dst := filepath.Join(dir, filepath.FromSlash(spec.Destination(path)))
	if err := transformer.Transform(src, dst, props, spec); err != nil {
		return &corpuserr.FailedPath{Path: path, Cause: err}
	}
	return nil
}
