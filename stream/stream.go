// Package stream implements the streaming iterator (spec section 4.10):
// row-batched iteration over a dependency table's media files, optionally
// shuffled within a bounded buffer, fetching each batch's media on demand
// before it is yielded. Grounded on the load pipeline's fetch/reuse
// machinery (loadpipeline.Run), reused here per-batch instead of
// up front.
package stream

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"

	"corpusdb/archivecodec"
	"corpusdb/backend"
	"corpusdb/cachemgr"
	"corpusdb/corpuserr"
	"corpusdb/deptable"
	"corpusdb/resolver"
)

// Options configures one streaming iteration.
type Options struct {
	Name       string
	Version    string // empty means latest
	FlavorID   string // cache subdirectory to materialize batches into; "default" if empty
	BatchSize  int
	BufferSize int   // 0 disables shuffling
	Seed       int64 // only meaningful when BufferSize > 0
	Workers    int
	Cache      *cachemgr.Manager
	Resolver   *resolver.Resolver
}

// Batch is one emitted group of rows, with every listed media file present
// on disk under Dir by the time it is returned from Next.
type Batch struct {
	Dir  string
	Rows []deptable.Row
}

// Iterator yields batches of a dependency table's media rows in order
// (optionally buffer-shuffled), fetching each batch's files just-in-time.
type Iterator struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    Options
	backend backend.Backend
	table   *deptable.Table
	dir     string
	order   []int
	pos     int
}

// New resolves the requested database version and prepares an Iterator
// over its media rows. It fetches only the header and dependency table;
// no media is downloaded until the caller calls Next.
func New(ctx context.Context, opts Options) (*Iterator, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.FlavorID == "" {
		opts.FlavorID = "default"
	}

	version := opts.Version
	var err error
	if version == "" {
		version, err = opts.Resolver.LatestVersion(ctx, opts.Name)
		if err != nil {
			return nil, err
		}
	}
	_, b, err := opts.Resolver.Repository(ctx, opts.Name, version)
	if err != nil {
		return nil, err
	}
	opts.Version = version

	dir := opts.Cache.WriteDir(opts.Name, version, opts.FlavorID, false)
	table, err := fetchTable(ctx, b, opts.Name, version, dir)
	if err != nil {
		return nil, err
	}

	order := activeRowIndices(table)
	if opts.BufferSize > 0 {
		shuffleWithinBuffer(order, opts.BufferSize, opts.Seed)
	}

	iterCtx, cancel := context.WithCancel(ctx)
	return &Iterator{
		ctx: iterCtx, cancel: cancel, opts: opts,
		backend: b, table: table, dir: dir, order: order,
	}, nil
}

func fetchTable(ctx context.Context, b backend.Backend, name, version, dir string) (*deptable.Table, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &corpuserr.IoError{Op: "mkdir " + dir, Inner: err}
	}
	dst := filepath.Join(dir, "db.parquet")
	if _, ok := statOK(dst); ok {
		return deptable.ReadParquet(dst)
	}
	return deptable.Fetch(ctx, b, backend.DependencyTableCandidates(name, version), dir)
}

func statOK(path string) (os.FileInfo, bool) {
	info, err := os.Stat(path)
	return info, err == nil
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}

func activeRowIndices(table *deptable.Table) []int {
	var order []int
	for i, p := range table.Media() {
		if removed, _ := table.Removed(p); !removed {
			order = append(order, i)
		}
	}
	return order
}

// shuffleWithinBuffer applies a Fisher-Yates shuffle restricted to
// consecutive windows of size buf, using a seeded PRNG so a given seed
// always produces the same order (spec section 4.10).
func shuffleWithinBuffer(order []int, buf int, seed int64) {
	r := rand.New(rand.NewSource(seed))
	for start := 0; start < len(order); start += buf {
		end := start + buf
		if end > len(order) {
			end = len(order)
		}
		window := order[start:end]
		r.Shuffle(len(window), func(i, j int) { window[i], window[j] = window[j], window[i] })
	}
}

// Next returns the next batch, or (nil, io.EOF)-equivalent via a nil batch
// and nil error once exhausted. Fetch failures for individual files are
// aggregated into a *corpuserr.LoadError rather than aborting the batch.
func (it *Iterator) Next() (*Batch, error) {
	if it.pos >= len(it.order) {
		return nil, nil
	}
	if err := it.ctx.Err(); err != nil {
		return nil, err
	}

	media := it.table.Media()
	end := it.pos + it.opts.BatchSize
	if end > len(it.order) {
		end = len(it.order)
	}

	rows := make([]deptable.Row, 0, end-it.pos)
	var paths []string
	for _, idx := range it.order[it.pos:end] {
		path := media[idx]
		row, err := it.table.Row(path)
		if err != nil {
			continue
		}
		rows = append(rows, row)
		paths = append(paths, path)
	}
	it.pos = end

	failed := it.materialize(paths)
	batch := &Batch{Dir: it.dir, Rows: rows}
	if len(failed) > 0 {
		return batch, &corpuserr.LoadError{Failed: failed}
	}
	return batch, nil
}

func (it *Iterator) materialize(paths []string) []corpuserr.FailedPath {
	var failed []corpuserr.FailedPath
	groups := groupByArchive(it.table, paths)
	for _, g := range groups {
		if err := it.ctx.Err(); err != nil {
			for _, p := range g.paths {
				failed = append(failed, corpuserr.FailedPath{Path: p, Cause: err})
			}
			continue
		}
		if allPresent(it.dir, g.paths) {
			continue
		}
		version := it.opts.Version
		if v, err := it.table.Version(g.paths[0]); err == nil && v != "" {
			version = v
		}
		if err := fetchAndUnpack(it.ctx, it.backend, it.opts.Name, version, it.dir, g); err != nil {
			for _, p := range g.paths {
				failed = append(failed, corpuserr.FailedPath{Path: p, Cause: err})
			}
		}
	}
	return failed
}

type archiveGroup struct {
	archiveID string
	paths     []string
}

func groupByArchive(table *deptable.Table, paths []string) []archiveGroup {
	archives := table.ArchiveBatch(paths)
	index := make(map[string]int)
	var groups []archiveGroup
	for _, p := range paths {
		a := archives[p]
		if idx, ok := index[a]; ok {
			groups[idx].paths = append(groups[idx].paths, p)
			continue
		}
		index[a] = len(groups)
		groups = append(groups, archiveGroup{archiveID: a, paths: []string{p}})
	}
	return groups
}

func allPresent(dir string, paths []string) bool {
	for _, p := range paths {
		if _, ok := statOK(filepath.Join(dir, filepath.FromSlash(p))); !ok {
			return false
		}
	}
	return true
}

func fetchAndUnpack(ctx context.Context, b backend.Backend, name, version, dir string, g archiveGroup) error {
	key := backend.MediaArchiveKey(name, version, g.archiveID)
	tmp := filepath.Join(dir, ".stream-fetch-"+g.archiveID+".zip")
	if err := b.Get(ctx, key, tmp); err != nil {
		return err
	}
	defer removeQuiet(tmp)
	return archivecodec.Unpack(tmp, dir)
}

// Close cancels any in-flight fetch, implementing the cooperative
// cancellation contract of spec section 4.10 ("a consumer dropping the
// iterator stops pending fetches").
func (it *Iterator) Close() {
	it.cancel()
}
