// Package archivecodec packs and unpacks the ZIP-like content-addressed
// archives that back the dependency table's media/meta/attachment rows
// (spec section 4.2). Compression is deflate via klauspost/compress, which
// is registered as the Deflate codec on each archive writer and reader, so
// archives remain readable by any ordinary zip tool.
package archivecodec

import (
	"archive/zip"
	"crypto/md5" //nolint:gosec // MD5 is the checksum algorithm the dependency table schema specifies, not used for security
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	kflate "github.com/klauspost/compress/flate"

	"corpusdb/corpuserr"
)

// archiveNamespace anchors the UUIDv5 fingerprints computed for archives so
// they never collide with UUIDs generated for an unrelated purpose.
var archiveNamespace = uuid.MustParse("6f6d0f2a-6b8b-4a0b-9b0a-9a0a1f9f6a30")

// Entry is one file to pack into an archive.
type Entry struct {
	// Path is the archive-relative path (forward-slash separated).
	Path string
	// Source is the absolute path of the file on disk to read from.
	Source string
}

// Fingerprint computes the deterministic archive identifier for a sorted
// set of member paths under a given version, per spec section 4.8 step 5:
// "the UUIDv5 of the sorted list of its member paths joined with the new
// version string".
func Fingerprint(paths []string, version string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	key := version
	for _, p := range sorted {
		key += "\x00" + p
	}
	return uuid.NewSHA1(archiveNamespace, []byte(key)).String()
}

// Pack writes entries into a new zip archive at dest, sorted by path for
// reproducibility.
func Pack(dest string, entries []Entry) error {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &corpuserr.IoError{Op: "mkdir for archive " + dest, Inner: err}
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // dest is caller-provided
	if err != nil {
		return &corpuserr.IoError{Op: "create archive " + dest, Inner: err}
	}

	w := zip.NewWriter(f)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return kflate.NewWriter(out, kflate.DefaultCompression)
	})
	for _, e := range sorted {
		if err := packOne(w, e); err != nil {
			w.Close()
			f.Close()
			os.Remove(tmp)
			return &corpuserr.IoError{Op: "pack " + e.Path, Inner: err}
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &corpuserr.IoError{Op: "close archive " + dest, Inner: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &corpuserr.IoError{Op: "close archive file " + dest, Inner: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return &corpuserr.IoError{Op: "rename archive into place " + dest, Inner: err}
	}
	return nil
}

func packOne(w *zip.Writer, e Entry) error {
	src, err := os.Open(e.Source) //nolint:gosec // e.Source is caller-provided
	if err != nil {
		return err
	}
	defer src.Close()

	header := &zip.FileHeader{Name: e.Path, Method: zip.Deflate}
	dst, err := w.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

// Unpack extracts every entry of src into dest, preserving relative paths.
// An entry whose destination file already exists with a matching MD5
// checksum is left untouched, making unpack idempotent (spec section 4.2).
func Unpack(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return &corpuserr.CorruptError{Path: src, Reason: err.Error()}
	}
	defer r.Close()
	r.RegisterDecompressor(zip.Deflate, func(in io.Reader) io.ReadCloser {
		return kflate.NewReader(in)
	})

	for _, f := range r.File {
		if err := unpackOne(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func unpackOne(f *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(f.Name))
	if !isWithin(dest, target) {
		return &corpuserr.CorruptError{Path: f.Name, Reason: "archive entry escapes destination directory"}
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return &corpuserr.IoError{Op: "mkdir " + target, Inner: err}
		}
		return nil
	}

	rc, err := f.Open()
	if err != nil {
		return &corpuserr.CorruptError{Path: f.Name, Reason: err.Error()}
	}
	defer rc.Close()

	if same, err := matchesExistingChecksum(target, f); err == nil && same {
		io.Copy(io.Discard, rc)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &corpuserr.IoError{Op: "mkdir " + filepath.Dir(target), Inner: err}
	}
	tmp := target + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec // target derived from validated archive-relative path
	if err != nil {
		return &corpuserr.IoError{Op: "create " + target, Inner: err}
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmp)
		return &corpuserr.IoError{Op: "write " + target, Inner: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return &corpuserr.IoError{Op: "close " + target, Inner: err}
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return &corpuserr.IoError{Op: "rename into place " + target, Inner: err}
	}
	return nil
}

func matchesExistingChecksum(target string, f *zip.File) (bool, error) {
	existing, err := os.Open(target) //nolint:gosec // target derived from validated archive-relative path
	if err != nil {
		return false, err
	}
	defer existing.Close()

	h := md5.New() //nolint:gosec // checksum algorithm mandated by the dependency table schema
	if _, err := io.Copy(h, existing); err != nil {
		return false, err
	}
	got := hex.EncodeToString(h.Sum(nil))

	src, err := f.Open()
	if err != nil {
		return false, err
	}
	defer src.Close()
	h2 := md5.New() //nolint:gosec // see above
	if _, err := io.Copy(h2, src); err != nil {
		return false, err
	}
	want := hex.EncodeToString(h2.Sum(nil))

	return got == want, nil
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !hasParentEscape(rel)
}

func hasParentEscape(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

// Checksum returns the hex-encoded MD5 checksum of a local file, the
// content checksum recorded in the dependency table (spec section 3).
func Checksum(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller-provided
	if err != nil {
		return "", &corpuserr.IoError{Op: "checksum " + path, Inner: err}
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // checksum algorithm mandated by the dependency table schema
	if _, err := io.Copy(h, f); err != nil {
		return "", &corpuserr.IoError{Op: "checksum " + path, Inner: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
