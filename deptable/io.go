package deptable

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"corpusdb/backend"
	"corpusdb/corpuserr"
)

// Read loads a dependency table from path, dispatching on its extension and
// normalizing every legacy format to the canonical columnar table (spec
// section 9: "implementers should centralize this in a single reader that
// dispatches on extension"). Callers that already know they are reading a
// freshly published table may call ReadParquet directly; Read exists for
// paths whose format is not yet known, including legacy CSV and pickle
// caches encountered on load.
func Read(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return ReadParquet(path)
	case ".csv":
		return ReadCSV(path)
	case ".pkl", ".pickle":
		return ReadPickle(path)
	default:
		return nil, &corpuserr.CorruptError{Path: path, Reason: "unrecognized dependency table extension"}
	}
}

// Fetch downloads the first dependency table found among candidates (as
// produced by backend.DependencyTableCandidates) into dir and dispatches on
// its extension via Read. Callers only need to know a database's name and
// version, not which format its dependency table happens to be published
// in.
func Fetch(ctx context.Context, b backend.Backend, candidates []string, dir string) (*Table, error) {
	for _, key := range candidates {
		ok, err := b.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dst := filepath.Join(dir, filepath.Base(key))
		if err := b.Get(ctx, key, dst); err != nil {
			return nil, err
		}
		return Read(dst)
	}
	return nil, &corpuserr.NotFoundError{Search: "dependency table"}
}

// parquetRow is the on-disk column layout for the Parquet dependency table
// format (spec section 3), mirroring the pandas.DataFrame column order the
// original implementation writes.
type parquetRow struct {
	Path         string  `parquet:"file"`
	Archive      string  `parquet:"archive"`
	BitDepth     int32   `parquet:"bit_depth"`
	Channels     int32   `parquet:"channels"`
	Checksum     string  `parquet:"checksum"`
	Duration     float64 `parquet:"duration"`
	Format       string  `parquet:"format"`
	Removed      bool    `parquet:"removed"`
	SamplingRate int32   `parquet:"sampling_rate"`
	Kind         int32   `parquet:"type"`
	Version      string  `parquet:"version"`
}

// WriteParquet serializes the table to path in the canonical Parquet
// format used for every new database version (spec section 4.1).
func (t *Table) WriteParquet(path string) error {
	t.mu.RLock()
	rows := make([]parquetRow, len(t.path))
	for i := range t.path {
		rows[i] = parquetRow{
			Path:         t.path[i],
			Archive:      t.archive[i],
			BitDepth:     t.bitDepth[i],
			Channels:     t.channels[i],
			Checksum:     t.checksum[i],
			Duration:     t.duration[i],
			Format:       t.format[i],
			Removed:      t.removed[i],
			SamplingRate: t.samplingRate[i],
			Kind:         int32(t.kind[i]),
			Version:      t.version[i],
		}
	}
	t.mu.RUnlock()

	if err := parquet.WriteFile(path, rows); err != nil {
		return &corpuserr.IoError{Op: "write parquet dependency table", Inner: err}
	}
	return nil
}

// ReadParquet loads a table previously written by WriteParquet.
func ReadParquet(path string) (*Table, error) {
	rows, err := parquet.ReadFile[parquetRow](path)
	if err != nil {
		return nil, &corpuserr.IoError{Op: "read parquet dependency table", Inner: err}
	}
	tbl := New()
	for _, r := range rows {
		tbl.append(Row{
			Path:         r.Path,
			Archive:      r.Archive,
			Kind:         Kind(r.Kind),
			Format:       r.Format,
			Version:      r.Version,
			Checksum:     r.Checksum,
			Removed:      r.Removed,
			BitDepth:     r.BitDepth,
			Channels:     r.Channels,
			SamplingRate: r.SamplingRate,
			Duration:     r.Duration,
		})
	}
	return tbl, nil
}

// legacy CSV column order, fixed by every dependency table ever written in
// that format (original implementation's define.py DEPEND_FIELD_NAMES).
var csvColumns = []string{
	"file", "archive", "bit_depth", "channels", "checksum",
	"duration", "format", "removed", "sampling_rate", "type", "version",
}

// ReadCSV loads a legacy dependency table, kept for reading databases
// published before the Parquet format existed (spec section 9).
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller-provided
	if err != nil {
		return nil, &corpuserr.IoError{Op: "open legacy csv dependency table", Inner: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, &corpuserr.IoError{Op: "parse legacy csv dependency table", Inner: err}
	}
	if len(records) == 0 {
		return New(), nil
	}

	header := records[0]
	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.TrimSpace(name)] = i
	}
	for _, want := range csvColumns {
		if _, ok := colIdx[want]; !ok {
			return nil, &corpuserr.CorruptError{Path: path, Reason: fmt.Sprintf("missing column %q", want)}
		}
	}

	tbl := New()
	for _, rec := range records[1:] {
		row, err := parseCSVRow(rec, colIdx)
		if err != nil {
			return nil, &corpuserr.CorruptError{Path: path, Reason: err.Error()}
		}
		tbl.append(row)
	}
	return tbl, nil
}

func parseCSVRow(rec []string, colIdx map[string]int) (Row, error) {
	get := func(name string) string { return rec[colIdx[name]] }

	bitDepth, err := parseOptionalInt32(get("bit_depth"))
	if err != nil {
		return Row{}, fmt.Errorf("bit_depth: %w", err)
	}
	channels, err := parseOptionalInt32(get("channels"))
	if err != nil {
		return Row{}, fmt.Errorf("channels: %w", err)
	}
	samplingRate, err := parseOptionalInt32(get("sampling_rate"))
	if err != nil {
		return Row{}, fmt.Errorf("sampling_rate: %w", err)
	}
	duration, err := parseOptionalFloat(get("duration"))
	if err != nil {
		return Row{}, fmt.Errorf("duration: %w", err)
	}
	removed, err := strconv.ParseBool(orDefault(get("removed"), "False"))
	if err != nil {
		return Row{}, fmt.Errorf("removed: %w", err)
	}
	kind, err := parseKind(get("type"))
	if err != nil {
		return Row{}, err
	}

	return Row{
		Path:         get("file"),
		Archive:      get("archive"),
		Kind:         kind,
		Format:       get("format"),
		Version:      get("version"),
		Checksum:     get("checksum"),
		Removed:      removed,
		BitDepth:     bitDepth,
		Channels:     channels,
		SamplingRate: samplingRate,
		Duration:     duration,
	}, nil
}

func parseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "meta":
		return KindMeta, nil
	case "1", "media":
		return KindMedia, nil
	case "2", "attachment":
		return KindAttachment, nil
	default:
		return 0, fmt.Errorf("type: unrecognized kind %q", s)
	}
}

func parseOptionalInt32(s string) (int32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func parseOptionalFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
