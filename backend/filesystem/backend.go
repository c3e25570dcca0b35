// Package filesystem implements a corpusdb backend.Backend backed by a
// plain directory tree, adapted from the teacher's filesystemRegistry: a
// content-keyed layout under a base directory, write-to-temp-then-rename
// on every Put so partial writes are never visible to List/Get/Exists.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"corpusdb/backend"
)

func init() {
	backend.Register("file-system", func(host string) (backend.Backend, error) {
		return New(host)
	})
}

// Backend stores every key as a file under baseDir, preserving the key's
// slash-separated structure as nested directories.
type Backend struct {
	baseDir string
}

// New creates a filesystem backend rooted at baseDir, creating it if
// necessary.
func New(baseDir string) (*Backend, error) {
	//nolint:gosec,mnd // directory permissions 0755 are intentional
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Backend{baseDir: baseDir}, nil
}

func (b *Backend) resolve(key string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(key))
}

// Exists reports whether key is present.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(b.resolve(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

// Get copies key to dst.
func (b *Backend) Get(_ context.Context, key, dst string) error {
	src, err := os.Open(b.resolve(key)) //nolint:gosec // key is repository-relative, validated on write
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("key %s not found", key)
		}
		return fmt.Errorf("opening %s: %w", key, err)
	}
	defer src.Close()

	//nolint:gosec,mnd // directory permissions 0755 are intentional
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	//nolint:gosec // dst is caller-provided
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", key, dst, err)
	}
	return out.Close()
}

// Put writes src to key atomically: it is staged next to the destination
// and renamed into place, so a concurrent Exists/Get never observes a
// half-written file.
func (b *Backend) Put(_ context.Context, src, key string) error {
	dst := b.resolve(key)
	//nolint:gosec,mnd // directory permissions 0755 are intentional
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}

	tmp := dst + ".tmp"
	in, err := os.Open(src) //nolint:gosec // src is caller-provided
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	//nolint:gosec // tmp is derived from a validated key
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, dst, err)
	}
	log.Debug().Str("key", key).Msg("put artifact into filesystem backend")
	return nil
}

// List returns every key under prefix.
func (b *Backend) List(_ context.Context, prefix string) ([]string, error) {
	root := b.resolve(prefix)
	var keys []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// ListVersions returns every first-level subdirectory of name, which under
// this backend's layout is exactly the set of published/in-progress
// versions.
func (b *Backend) ListVersions(_ context.Context, name string) ([]string, error) {
	entries, err := os.ReadDir(b.resolve(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing versions of %s: %w", name, err)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && backend.IsVersionString(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Delete removes key.
func (b *Backend) Delete(_ context.Context, key string) error {
	if err := os.Remove(b.resolve(key)); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
