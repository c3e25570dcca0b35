// Package cachemgr implements the two-tier cache layout and cross-process
// locking described in spec section 4.4, grounded on lock.py's FolderLock
// two-phase wait and the cache-tree conventions implied by repository.py.
package cachemgr

import (
	"io"
	"os"
	"path/filepath"

	"corpusdb/deptable"
)

const completeMarker = ".complete"

// Manager resolves flavor directories across a user (writable) cache tier
// and an optional shared (read-first) tier.
type Manager struct {
	UserRoot   string
	SharedRoot string // empty disables the shared tier
}

// New returns a Manager rooted at userRoot with an optional sharedRoot.
func New(userRoot, sharedRoot string) *Manager {
	return &Manager{UserRoot: userRoot, SharedRoot: sharedRoot}
}

// FlavorDir returns the on-disk directory for one flavor of one version of
// a database, per spec section 3's cache layout:
// <cache>/<name>/<version>/<flavor_id>/.
func (m *Manager) FlavorDir(root, name, version, flavorID string) string {
	return filepath.Join(root, name, version, flavorID)
}

// Resolve returns the directory to read (name, version, flavorID) from,
// checking the shared tier first, then the user tier, matching spec
// section 4.4's "shared, then user" read order. ok is false if neither
// tier has the directory.
func (m *Manager) Resolve(name, version, flavorID string) (dir string, ok bool) {
	if m.SharedRoot != "" {
		shared := m.FlavorDir(m.SharedRoot, name, version, flavorID)
		if dirExists(shared) {
			return shared, true
		}
	}
	user := m.FlavorDir(m.UserRoot, name, version, flavorID)
	if dirExists(user) {
		return user, true
	}
	return "", false
}

// WriteDir returns the directory writes for (name, version, flavorID)
// should go to: the shared tier only if it is both configured and
// requested by the caller as writable, else the user tier.
func (m *Manager) WriteDir(name, version, flavorID string, preferShared bool) string {
	if preferShared && m.SharedRoot != "" && isWritable(m.SharedRoot) {
		return m.FlavorDir(m.SharedRoot, name, version, flavorID)
	}
	return m.FlavorDir(m.UserRoot, name, version, flavorID)
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func isWritable(root string) bool {
	probe := filepath.Join(root, ".write-probe")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return false
	}
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // probe path is under a configured cache root
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// IsComplete reports whether dir carries the completeness sentinel and,
// per spec section 4.4, that every path listed in table (already narrowed
// to the requested scope by the caller) exists on disk.
func IsComplete(dir string, table *deptable.Table, scope []string) bool {
	if _, err := os.Stat(filepath.Join(dir, completeMarker)); err != nil {
		return false
	}
	for _, path := range scope {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(path))); err != nil {
			return false
		}
	}
	return true
}

// MarkComplete writes the .complete sentinel, called once a flavor
// directory has fully materialized its requested scope.
func MarkComplete(dir string) error {
	f, err := os.OpenFile(filepath.Join(dir, completeMarker), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// ReuseCandidates lists sibling flavor/version directories under both cache
// tiers for name, in no particular order, used by the load pipeline's
// cross-version reuse scan (spec section 4.4).
func (m *Manager) ReuseCandidates(name string) []string {
	var out []string
	for _, root := range []string{m.SharedRoot, m.UserRoot} {
		if root == "" {
			continue
		}
		nameDir := filepath.Join(root, name)
		versions, err := os.ReadDir(nameDir)
		if err != nil {
			continue
		}
		for _, v := range versions {
			if !v.IsDir() {
				continue
			}
			flavors, err := os.ReadDir(filepath.Join(nameDir, v.Name()))
			if err != nil {
				continue
			}
			for _, fl := range flavors {
				if fl.IsDir() {
					out = append(out, filepath.Join(nameDir, v.Name(), fl.Name()))
				}
			}
		}
	}
	return out
}

// ReuseFile attempts a hard link from src to dst, falling back to a copy on
// any cross-device or filesystem error, per spec section 4.4's "best
// effort; on failure, fall back to fresh fetch" (here: fall back to copy
// before giving up entirely).
func ReuseFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // src comes from a resolved cache path
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec // dst comes from a resolved cache path
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
