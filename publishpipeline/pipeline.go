// Package publishpipeline implements the end-to-end producer flow (spec
// section 4.8): diff a build directory against a previous version, pack
// changed files into content-addressed archives, upload them, and commit
// the new version atomically by uploading db.parquet then db.yaml last.
package publishpipeline

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"corpusdb/archivecodec"
	"corpusdb/backend"
	"corpusdb/catalog"
	"corpusdb/corpuserr"
	"corpusdb/deptable"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Request describes one publish pipeline invocation.
type Request struct {
	BuildDir        string
	Name            string
	Version         string
	PreviousVersion string // empty means no prior version
	Repository      string
	Backend         backend.Backend
	Workers         int

	// Attachments/Tables/Media enumerate build-relative paths discovered by
	// the caller (an audformat collaborator in a full system; here callers
	// pass the sets directly, per spec section 1's explicit "audformat
	// schema is out of scope" boundary).
	Attachments []string
	Tables      []string
	Media       []string

	// Catalog, if set, is recorded into immediately after the version
	// becomes visible, so readers can answer "what versions exist" without
	// re-scanning the backend (spec section 4.6).
	Catalog *catalog.Catalog

	// Probe, if set, is consulted for every new or modified media file so
	// its bit depth, channel count, sampling rate, and duration (spec
	// section 3) can be recorded. Audio decoding itself is out of scope
	// here (an audformat/audio collaborator's job, spec section 6); a nil
	// Probe leaves these columns zero, matching a caller that doesn't have
	// one available.
	Probe MediaProbe
}

// MediaProbe reads the audio properties of a media file the way a real
// audformat/audio collaborator would (spec section 6), without corpusdb
// itself decoding audio.
type MediaProbe interface {
	Probe(path string) (bitDepth, channels, samplingRate int32, duration float64, err error)
}

// Result summarizes a successful publish.
type Result struct {
	Table   *deptable.Table
	Version string
}

// Run executes the publish pipeline for req.
func Run(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	// 1. Load prior state.
	prior := deptable.New()
	if req.PreviousVersion != "" {
		tmp, err := fetchPriorTable(ctx, req.Backend, req.Name, req.PreviousVersion)
		if err != nil {
			return nil, err
		}
		prior = tmp
	}

	table := deptable.New()

	// 2. Discover attachments.
	if err := discoverAttachments(req, prior, table); err != nil {
		return nil, err
	}

	// 3. Discover tables.
	if err := discoverTables(req, prior, table); err != nil {
		return nil, err
	}

	// 4. Discover media.
	newMedia, modifiedMedia, _, err := discoverMedia(req, prior, table)
	if err != nil {
		return nil, err
	}
	tombstoneRemovedMedia(prior, req.Media, table)

	// 5. Assign archives.
	groups := assignArchives(newMedia, modifiedMedia, req.Version)

	// 6. Pack & upload.
	if err := packAndUpload(ctx, req, groups, prior); err != nil {
		return nil, err
	}

	// 7. Write dependency table.
	tablePath := filepath.Join(req.BuildDir, ".corpusdb-db.parquet")
	if err := table.WriteParquet(tablePath); err != nil {
		return nil, err
	}
	defer os.Remove(tablePath)
	if err := req.Backend.Put(ctx, tablePath, backend.DependencyTableKey(req.Name, req.Version)); err != nil {
		return nil, err
	}

	// 8. Publish header last — this is the visibility commit.
	headerPath := filepath.Join(req.BuildDir, "db.yaml")
	if err := req.Backend.Put(ctx, headerPath, backend.HeaderKey(req.Name, req.Version)); err != nil {
		return nil, err
	}

	if req.Catalog != nil {
		entry := catalog.Entry{Name: req.Name, Version: req.Version, Repository: req.Repository}
		if err := req.Catalog.Record(ctx, entry); err != nil {
			log.Warn().Str("component", "publishpipeline").Err(err).
				Msg("published version is visible but catalog record failed")
		}
	}

	return &Result{Table: table, Version: req.Version}, nil
}

func validate(req Request) error {
	v, err := semver.NewVersion(req.Version)
	if err != nil {
		return &corpuserr.InvalidArgumentError{Reason: "version does not parse as semver: " + req.Version}
	}
	if req.PreviousVersion != "" {
		prev, err := semver.NewVersion(req.PreviousVersion)
		if err != nil {
			return &corpuserr.InvalidArgumentError{Reason: "previous_version does not parse as semver: " + req.PreviousVersion}
		}
		if !prev.LessThan(*v) {
			return &corpuserr.InvalidArgumentError{Reason: "previous_version must be strictly less than version"}
		}
	}
	for _, t := range req.Tables {
		if !idPattern.MatchString(tableIDOf(t)) {
			return &corpuserr.InvalidArgumentError{Reason: "table id contains illegal characters: " + t}
		}
	}
	for _, m := range req.Media {
		ext := extOf(m)
		if ext != strings.ToLower(ext) {
			return &corpuserr.InvalidArgumentError{Reason: "media extension must be lowercase: " + m}
		}
	}
	allPaths := append(append(append([]string{}, req.Attachments...), req.Tables...), req.Media...)
	for _, p := range allPaths {
		if !isPortable(p) {
			return &corpuserr.InvalidArgumentError{Reason: "path is not portable (absolute or escapes build root): " + p}
		}
	}
	return nil
}

func isPortable(p string) bool {
	if filepath.IsAbs(p) {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	return !strings.HasPrefix(clean, "../") && clean != ".."
}

func extOf(p string) string {
	idx := strings.LastIndex(p, ".")
	if idx < 0 {
		return ""
	}
	return p[idx+1:]
}

func tableIDOf(p string) string {
	base := filepath.Base(p)
	base = strings.TrimPrefix(base, "db.")
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		base = base[:idx]
	}
	return base
}

func fetchPriorTable(ctx context.Context, b backend.Backend, name, version string) (*deptable.Table, error) {
	dir, err := os.MkdirTemp("", "corpusdb-prior-*")
	if err != nil {
		return nil, &corpuserr.IoError{Op: "mkdtemp", Inner: err}
	}
	defer os.RemoveAll(dir)

	return deptable.Fetch(ctx, b, backend.DependencyTableCandidates(name, version), dir)
}

func discoverAttachments(req Request, prior, table *deptable.Table) error {
	results, err := parallelChecksums(req.Workers, req.BuildDir, req.Attachments)
	if err != nil {
		return err
	}
	for _, path := range req.Attachments {
		checksum := results[path]
		version := req.Version
		archiveID := tableIDOf(path)
		if prevChecksum, err := prior.Checksum(path); err == nil && prevChecksum == checksum {
			if v, err := prior.Version(path); err == nil {
				version = v
			}
			if a, err := prior.Archive(path); err == nil {
				archiveID = a
			}
		}
		table.AddAttachment(path, version, archiveID, checksum)
	}
	return nil
}

func discoverTables(req Request, prior, table *deptable.Table) error {
	results, err := parallelChecksums(req.Workers, req.BuildDir, req.Tables)
	if err != nil {
		return err
	}
	for _, path := range req.Tables {
		checksum := results[path]
		version := req.Version
		if prevChecksum, err := prior.Checksum(path); err == nil && prevChecksum == checksum {
			if v, err := prior.Version(path); err == nil {
				version = v
			}
		}
		table.AddMeta(path, version, checksum)
	}
	return nil
}

// discoverMedia classifies media files as new, modified, or unchanged
// relative to prior, and populates table with rows for every media path
// still present in the build (spec section 4.8 step 4).
func discoverMedia(req Request, prior, table *deptable.Table) (newPaths, modifiedPaths, unchangedPaths []string, err error) {
	checksums, err := parallelChecksums(req.Workers, req.BuildDir, req.Media)
	if err != nil {
		return nil, nil, nil, err
	}

	var rows []deptable.Row
	for _, path := range req.Media {
		checksum := checksums[path]
		row := deptable.Row{
			Path:     path,
			Format:   extOf(path),
			Checksum: checksum,
			Version:  req.Version,
		}
		if prevRow, perr := prior.Row(path); perr == nil {
			if prevRow.Checksum == checksum {
				row.Archive = prevRow.Archive
				row.Version = prevRow.Version
				row.BitDepth = prevRow.BitDepth
				row.Channels = prevRow.Channels
				row.SamplingRate = prevRow.SamplingRate
				row.Duration = prevRow.Duration
				unchangedPaths = append(unchangedPaths, path)
			} else {
				row.Archive = archivecodec.Fingerprint([]string{path}, req.Version)
				probeMedia(req, path, &row)
				modifiedPaths = append(modifiedPaths, path)
			}
		} else {
			row.Archive = archivecodec.Fingerprint([]string{path}, req.Version)
			probeMedia(req, path, &row)
			newPaths = append(newPaths, path)
		}
		rows = append(rows, row)
	}
	if err := table.AddMedia(rows); err != nil {
		return nil, nil, nil, err
	}
	return newPaths, modifiedPaths, unchangedPaths, nil
}

// probeMedia fills in row's audio properties from req.Probe when one is
// configured. A probe error is logged and left as zero columns rather than
// failing the publish: the properties are descriptive metadata, not part
// of the content-addressing scheme.
func probeMedia(req Request, path string, row *deptable.Row) {
	if req.Probe == nil {
		return
	}
	bitDepth, channels, samplingRate, duration, err := req.Probe.Probe(filepath.Join(req.BuildDir, filepath.FromSlash(path)))
	if err != nil {
		log.Warn().Str("component", "publishpipeline").Str("path", path).Err(err).Msg("media probe failed, leaving audio properties unset")
		return
	}
	row.BitDepth = bitDepth
	row.Channels = channels
	row.SamplingRate = samplingRate
	row.Duration = duration
}

// tombstoneRemovedMedia adds a tombstoned row for every media path present
// in prior but absent from the current build (spec section 4.8 step 4).
func tombstoneRemovedMedia(prior *deptable.Table, currentMedia []string, table *deptable.Table) {
	current := make(map[string]struct{}, len(currentMedia))
	for _, p := range currentMedia {
		current[p] = struct{}{}
	}
	for _, path := range prior.Media() {
		if _, ok := current[path]; ok {
			continue
		}
		row, err := prior.Row(path)
		if err != nil {
			continue
		}
		row.Removed = true
		_ = table.AddMedia([]deptable.Row{row})
	}
}

// archiveAssignment is one archive still needing pack+upload.
type archiveAssignment struct {
	fingerprint string
	paths       []string
}

// assignArchives assigns one content-addressed archive per new or modified
// media file, fingerprinted per spec section 4.8 step 5. This mirrors the
// original implementation's default of one archive per file (keyed by a
// UID derived from the file path) rather than bundling unrelated files
// together. Unchanged media keeps its prior archive and needs no work here.
func assignArchives(newPaths, modifiedPaths []string, version string) []archiveAssignment {
	all := append(append([]string{}, newPaths...), modifiedPaths...)
	groups := make([]archiveAssignment, 0, len(all))
	for _, path := range all {
		groups = append(groups, archiveAssignment{
			fingerprint: archivecodec.Fingerprint([]string{path}, version),
			paths:       []string{path},
		})
	}
	return groups
}

func packAndUpload(ctx context.Context, req Request, groups []archiveAssignment, prior *deptable.Table) error {
	if req.Workers <= 0 {
		req.Workers = 1
	}

	p := pool.New().WithMaxGoroutines(req.Workers).WithErrors()
	for _, g := range groups {
		g := g
		p.Go(func() error {
			return packAndUploadOne(ctx, req, g)
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	if err := uploadUnpublishedTables(ctx, req, prior); err != nil {
		return err
	}
	return uploadUnpublishedAttachments(ctx, req, prior)
}

func packAndUploadOne(ctx context.Context, req Request, g archiveAssignment) error {
	exists, err := req.Backend.Exists(ctx, backend.MediaArchiveKey(req.Name, req.Version, g.fingerprint))
	if err == nil && exists {
		return nil // resumable: already uploaded on a prior attempt
	}

	entries := make([]archivecodec.Entry, len(g.paths))
	for i, p := range g.paths {
		entries[i] = archivecodec.Entry{Path: p, Source: filepath.Join(req.BuildDir, filepath.FromSlash(p))}
	}
	tmp := filepath.Join(os.TempDir(), "corpusdb-"+g.fingerprint+".zip")
	defer os.Remove(tmp)
	if err := archivecodec.Pack(tmp, entries); err != nil {
		return err
	}
	return req.Backend.Put(ctx, tmp, backend.MediaArchiveKey(req.Name, req.Version, g.fingerprint))
}

func uploadUnpublishedTables(ctx context.Context, req Request, prior *deptable.Table) error {
	for _, path := range req.Tables {
		id := tableIDOf(path)
		key := backend.TableArchiveKey(req.Name, req.Version, id)
		if changed, err := isChangedSince(prior, path, req.BuildDir); err != nil || !changed {
			continue
		}
		tmp := filepath.Join(os.TempDir(), "corpusdb-table-"+id+".zip")
		if err := archivecodec.Pack(tmp, []archivecodec.Entry{{Path: path, Source: filepath.Join(req.BuildDir, path)}}); err != nil {
			return err
		}
		err := req.Backend.Put(ctx, tmp, key)
		os.Remove(tmp)
		if err != nil {
			return err
		}
	}
	return nil
}

func uploadUnpublishedAttachments(ctx context.Context, req Request, prior *deptable.Table) error {
	for _, path := range req.Attachments {
		id := tableIDOf(path)
		key := backend.AttachmentArchiveKey(req.Name, req.Version, id)
		if changed, err := isChangedSince(prior, path, req.BuildDir); err != nil || !changed {
			continue
		}
		tmp := filepath.Join(os.TempDir(), "corpusdb-attachment-"+id+".zip")
		if err := archivecodec.Pack(tmp, []archivecodec.Entry{{Path: path, Source: filepath.Join(req.BuildDir, path)}}); err != nil {
			return err
		}
		err := req.Backend.Put(ctx, tmp, key)
		os.Remove(tmp)
		if err != nil {
			return err
		}
	}
	return nil
}

func isChangedSince(prior *deptable.Table, path, buildDir string) (bool, error) {
	checksum, err := archivecodec.Checksum(filepath.Join(buildDir, filepath.FromSlash(path)))
	if err != nil {
		return false, err
	}
	prevChecksum, err := prior.Checksum(path)
	if err != nil {
		return true, nil // new path, must upload
	}
	return prevChecksum != checksum, nil
}

func parallelChecksums(workers int, buildDir string, paths []string) (map[string]string, error) {
	if workers <= 0 {
		workers = 1
	}
	type result struct {
		path     string
		checksum string
		err      error
	}
	p := pool.NewWithResults[result]().WithMaxGoroutines(workers)
	for _, path := range paths {
		path := path
		p.Go(func() result {
			sum, err := archivecodec.Checksum(filepath.Join(buildDir, filepath.FromSlash(path)))
			return result{path: path, checksum: sum, err: err}
		})
	}
	results := p.Wait()

	out := make(map[string]string, len(results))
	for _, r := range results {
		if r.err != nil {
			return nil, &corpuserr.IoError{Op: "checksum " + r.path, Inner: r.err}
		}
		out[r.path] = r.checksum
	}
	return out, nil
}
