package deptable

import (
	"fmt"
	"strings"

	"corpusdb/corpuserr"
)

// AddMedia bulk-inserts new media rows. Every row must be new; callers hold
// exclusive access to the table for the duration (spec section 5,
// "mutations to the dependency table must be serialized by the caller").
func (t *Table) AddMedia(rows []Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range rows {
		if r.Path == "" {
			return &corpuserr.InvalidArgumentError{Reason: "media row path must not be empty"}
		}
		if _, exists := t.index[r.Path]; exists {
			return &corpuserr.InvalidArgumentError{Reason: fmt.Sprintf("media row %q already exists", r.Path)}
		}
	}

	for _, r := range rows {
		r.Kind = KindMedia
		t.append(r)
	}
	return nil
}

// AddMeta inserts or overwrites a table row. The archive value and format
// are derived from path, matching the original implementation's
// db.<table_id>.<ext> naming convention.
func (t *Table) AddMeta(path, version, checksum string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, exists := t.index[path]; exists {
		t.removeAtLocked(idx)
	}

	t.append(Row{
		Path:     path,
		Archive:  tableID(path),
		Kind:     KindMeta,
		Format:   extensionOf(path),
		Version:  version,
		Checksum: checksum,
	})
}

// AddAttachment inserts or overwrites an attachment row.
func (t *Table) AddAttachment(path, version, archive, checksum string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, exists := t.index[path]; exists {
		t.removeAtLocked(idx)
	}

	t.append(Row{
		Path:     path,
		Archive:  archive,
		Kind:     KindAttachment,
		Format:   extensionOf(path),
		Version:  version,
		Checksum: checksum,
	})
}

// UpdateMedia changes the bytes (archive/checksum/metadata) of existing
// media rows, in place. Every path must already exist.
func (t *Table) UpdateMedia(rows []Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range rows {
		if _, ok := t.index[r.Path]; !ok {
			return notFound(r.Path)
		}
	}
	for _, r := range rows {
		idx := t.index[r.Path]
		t.archive[idx] = r.Archive
		t.format[idx] = r.Format
		t.version[idx] = r.Version
		t.checksum[idx] = r.Checksum
		t.removed[idx] = r.Removed
		t.bitDepth[idx] = r.BitDepth
		t.channels[idx] = r.Channels
		t.samplingRate[idx] = r.SamplingRate
		t.duration[idx] = r.Duration
	}
	return nil
}

// UpdateMediaVersion bumps the version column of the given paths without
// touching any other field, used when a file's bytes were unchanged but a
// new version is being published (spec section 3, "version monotonically
// tracks the last write").
func (t *Table) UpdateMediaVersion(paths []string, version string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range paths {
		if idx, ok := t.index[p]; ok {
			t.version[idx] = version
		}
	}
}

// Remove tombstones a media row. Non-media rows are rejected, matching the
// invariant that removed is only ever true for kind=media.
func (t *Table) Remove(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.index[path]
	if !ok {
		return notFound(path)
	}
	if t.kind[idx] != KindMedia {
		return &corpuserr.InvalidArgumentError{Reason: fmt.Sprintf("cannot remove non-media row %q", path)}
	}
	t.removed[idx] = true
	return nil
}

// Drop physically deletes rows. Used only during publish when synthesizing
// a new version's table (e.g. before re-adding a table file with fresh
// content).
func (t *Table) Drop(paths []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	toDrop := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		toDrop[p] = struct{}{}
	}
	t.filterInPlace(func(p string) bool {
		_, drop := toDrop[p]
		return !drop
	})
}

// append adds a row at the end of every column and records its index.
func (t *Table) append(r Row) {
	t.path = append(t.path, r.Path)
	t.archive = append(t.archive, r.Archive)
	t.kind = append(t.kind, r.Kind)
	t.format = append(t.format, r.Format)
	t.version = append(t.version, r.Version)
	t.checksum = append(t.checksum, r.Checksum)
	t.removed = append(t.removed, r.Removed)
	t.bitDepth = append(t.bitDepth, r.BitDepth)
	t.channels = append(t.channels, r.Channels)
	t.samplingRate = append(t.samplingRate, r.SamplingRate)
	t.duration = append(t.duration, r.Duration)
	t.index[r.Path] = len(t.path) - 1
}

// removeAtLocked physically removes the row at idx, called while already
// holding t.mu.
func (t *Table) removeAtLocked(idx int) {
	path := t.path[idx]
	t.filterInPlace(func(p string) bool { return p != path })
}

// filterInPlace rebuilds every column keeping only rows whose path
// satisfies keep, then rebuilds the index. Must be called with t.mu held.
func (t *Table) filterInPlace(keep func(path string) bool) {
	n := len(t.path)
	newLen := 0
	for i := 0; i < n; i++ {
		if !keep(t.path[i]) {
			continue
		}
		t.path[newLen] = t.path[i]
		t.archive[newLen] = t.archive[i]
		t.kind[newLen] = t.kind[i]
		t.format[newLen] = t.format[i]
		t.version[newLen] = t.version[i]
		t.checksum[newLen] = t.checksum[i]
		t.removed[newLen] = t.removed[i]
		t.bitDepth[newLen] = t.bitDepth[i]
		t.channels[newLen] = t.channels[i]
		t.samplingRate[newLen] = t.samplingRate[i]
		t.duration[newLen] = t.duration[i]
		newLen++
	}
	t.path = t.path[:newLen]
	t.archive = t.archive[:newLen]
	t.kind = t.kind[:newLen]
	t.format = t.format[:newLen]
	t.version = t.version[:newLen]
	t.checksum = t.checksum[:newLen]
	t.removed = t.removed[:newLen]
	t.bitDepth = t.bitDepth[:newLen]
	t.channels = t.channels[:newLen]
	t.samplingRate = t.samplingRate[:newLen]
	t.duration = t.duration[:newLen]

	t.index = make(map[string]int, newLen)
	for i, p := range t.path {
		t.index[p] = i
	}
}

func extensionOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	return strings.ToLower(path[idx+1:])
}
