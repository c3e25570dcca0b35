// Package deptable implements the dependency table (spec section 4.1): the
// columnar manifest that is the sole source of truth about what a database
// version contains. It favors a struct-of-arrays layout with a hash index
// on path, per spec section 9's performance note that a row-per-object
// linked structure will not meet the throughput target for media() over
// 10^6 rows.
package deptable

import (
	"sort"
	"strings"
	"sync"

	"corpusdb/corpuserr"
)

// Kind is an artifact's role within a database.
type Kind int32

const (
	KindMeta Kind = iota
	KindMedia
	KindAttachment
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindMedia:
		return "media"
	case KindAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// Row is one artifact entry, matching the schema in spec section 3.
type Row struct {
	Path         string
	Archive      string
	Kind         Kind
	Format       string
	Version      string
	Checksum     string
	Removed      bool
	BitDepth     int32
	Channels     int32
	SamplingRate int32
	Duration     float64
}

// Table is the in-memory dependency table: struct-of-arrays columns plus a
// hash index from path to row position, preserving insertion order.
type Table struct {
	mu sync.RWMutex

	path         []string
	archive      []string
	kind         []Kind
	format       []string
	version      []string
	checksum     []string
	removed      []bool
	bitDepth     []int32
	channels     []int32
	samplingRate []int32
	duration     []float64

	index map[string]int
}

// New returns an empty dependency table.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.path)
}

// Contains reports whether path has a row.
func (t *Table) Contains(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[path]
	return ok
}

// Row returns a copy of the row for path.
func (t *Table) Row(path string) (Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return Row{}, &corpuserr.NotFoundError{Search: path}
	}
	return t.rowAt(idx), nil
}

func (t *Table) rowAt(idx int) Row {
	return Row{
		Path:         t.path[idx],
		Archive:      t.archive[idx],
		Kind:         t.kind[idx],
		Format:       t.format[idx],
		Version:      t.version[idx],
		Checksum:     t.checksum[idx],
		Removed:      t.removed[idx],
		BitDepth:     t.bitDepth[idx],
		Channels:     t.channels[idx],
		SamplingRate: t.samplingRate[idx],
		Duration:     t.duration[idx],
	}
}

// Files returns every path, in insertion order.
func (t *Table) Files() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.path))
	copy(out, t.path)
	return out
}

func (t *Table) filterByKind(k Kind) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for i, kk := range t.kind {
		if kk == k {
			out = append(out, t.path[i])
		}
	}
	return out
}

// Media returns every media path, insertion order.
func (t *Table) Media() []string { return t.filterByKind(KindMedia) }

// Tables returns every table path, insertion order.
func (t *Table) Tables() []string { return t.filterByKind(KindMeta) }

// Attachments returns every attachment path, insertion order.
func (t *Table) Attachments() []string { return t.filterByKind(KindAttachment) }

// RemovedMedia returns every tombstoned media path.
func (t *Table) RemovedMedia() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for i, k := range t.kind {
		if k == KindMedia && t.removed[i] {
			out = append(out, t.path[i])
		}
	}
	return out
}

// Archives returns every distinct archive fingerprint, sorted.
func (t *Table) Archives() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, a := range t.archive {
		if a != "" {
			seen[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// TableIDs derives the table_id used in backend keys (spec section 4.3) for
// every table row, by stripping the "db." prefix and extension from its
// path, matching the original implementation's meta-archive naming.
func (t *Table) TableIDs() []string {
	paths := t.Tables()
	ids := make([]string, len(paths))
	for i, p := range paths {
		ids[i] = tableID(p)
	}
	return ids
}

func tableID(path string) string {
	base := path
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimPrefix(base, "db.")
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		base = base[:idx]
	}
	return base
}

// AttachmentIDs returns the archive value (attachment id) of every
// attachment row.
func (t *Table) AttachmentIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for i, k := range t.kind {
		if k == KindAttachment {
			ids = append(ids, t.archive[i])
		}
	}
	return ids
}

func notFound(path string) error { return &corpuserr.NotFoundError{Search: path} }

// Archive returns the archive fingerprint of path.
func (t *Table) Archive(path string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return "", notFound(path)
	}
	return t.archive[idx], nil
}

// Checksum returns the checksum of path.
func (t *Table) Checksum(path string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return "", notFound(path)
	}
	return t.checksum[idx], nil
}

// Version returns the last-write version of path.
func (t *Table) Version(path string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return "", notFound(path)
	}
	return t.version[idx], nil
}

// Duration returns the duration in seconds of path.
func (t *Table) Duration(path string) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return 0, notFound(path)
	}
	return t.duration[idx], nil
}

// BitDepth returns the PCM bit depth of path.
func (t *Table) BitDepth(path string) (int32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return 0, notFound(path)
	}
	return t.bitDepth[idx], nil
}

// Channels returns the channel count of path.
func (t *Table) Channels(path string) (int32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return 0, notFound(path)
	}
	return t.channels[idx], nil
}

// SamplingRate returns the sample rate in Hz of path.
func (t *Table) SamplingRate(path string) (int32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return 0, notFound(path)
	}
	return t.samplingRate[idx], nil
}

// Format returns the lowercase file extension of path.
func (t *Table) Format(path string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return "", notFound(path)
	}
	return t.format[idx], nil
}

// KindOf returns the artifact role of path.
func (t *Table) KindOf(path string) (Kind, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return 0, notFound(path)
	}
	return t.kind[idx], nil
}

// Removed reports whether path is tombstoned.
func (t *Table) Removed(path string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[path]
	if !ok {
		return false, notFound(path)
	}
	return t.removed[idx], nil
}

// ArchiveBatch is the batch form of Archive: missing paths are omitted
// rather than raising NotFoundError, since batch callers typically already
// intersected against Files().
func (t *Table) ArchiveBatch(paths []string) map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.archive[idx]
		}
	}
	return out
}

// ChecksumBatch is the batch form of Checksum.
func (t *Table) ChecksumBatch(paths []string) map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.checksum[idx]
		}
	}
	return out
}

// VersionBatch is the batch form of Version.
func (t *Table) VersionBatch(paths []string) map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.version[idx]
		}
	}
	return out
}

// RemovedBatch is the batch form of Removed.
func (t *Table) RemovedBatch(paths []string) map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.removed[idx]
		}
	}
	return out
}

// DurationBatch is the batch form of Duration.
func (t *Table) DurationBatch(paths []string) map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.duration[idx]
		}
	}
	return out
}

// BitDepthBatch is the batch form of BitDepth.
func (t *Table) BitDepthBatch(paths []string) map[string]int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int32, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.bitDepth[idx]
		}
	}
	return out
}

// ChannelsBatch is the batch form of Channels.
func (t *Table) ChannelsBatch(paths []string) map[string]int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int32, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.channels[idx]
		}
	}
	return out
}

// SamplingRateBatch is the batch form of SamplingRate.
func (t *Table) SamplingRateBatch(paths []string) map[string]int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int32, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.samplingRate[idx]
		}
	}
	return out
}

// FormatBatch is the batch form of Format.
func (t *Table) FormatBatch(paths []string) map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.format[idx]
		}
	}
	return out
}

// KindBatch is the batch form of KindOf.
func (t *Table) KindBatch(paths []string) map[string]Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Kind, len(paths))
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			out[p] = t.kind[idx]
		}
	}
	return out
}

// Equal reports semantic equality: same set of paths, each with identical
// column values, regardless of row order (spec section 4.1).
func (t *Table) Equal(other *Table) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	if len(t.path) != len(other.path) {
		return false
	}
	for path, idx := range t.index {
		oidx, ok := other.index[path]
		if !ok {
			return false
		}
		if t.rowAt(idx) != other.rowAt(oidx) {
			return false
		}
	}
	return true
}
