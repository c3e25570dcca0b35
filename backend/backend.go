// Package backend defines the small capability set corpusdb consumes from a
// repository (spec section 4.3) and the canonical key naming convention
// (spec section 4.3, "bit-exact"). Concrete transports (filesystem,
// S3-compatible, ...) live in subpackages and are looked up through the
// open plug-in Registry.
package backend

import (
	"context"
	"path"
)

// Backend is the capability set the core consumes from a repository. All
// methods operate on fully-qualified keys built by the Key* helpers below,
// so the interface stays agnostic to how a given transport lays out its
// storage internally.
type Backend interface {
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Get streams key into the caller-provided destination path dst,
	// which must not already exist as a partially-written file.
	Get(ctx context.Context, key, dst string) error

	// Put uploads src to key. Partial uploads must not be visible to
	// List/Get/Exists until Put returns (atomic from the reader's
	// perspective).
	Put(ctx context.Context, src, key string) error

	// List returns every key under prefix, in a deterministic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// ListVersions returns every version published for name.
	ListVersions(ctx context.Context, name string) ([]string, error)

	// Delete removes key. Optional per spec section 4.3; implementations
	// that don't support deletion may return UnsupportedBackendError.
	Delete(ctx context.Context, key string) error
}

// HeaderKey is the key of a database's header file.
func HeaderKey(name, version string) string {
	return path.Join(name, version, "db.yaml")
}

// DependencyTableKey is the key of a database's dependency table.
func DependencyTableKey(name, version string) string {
	return path.Join(name, version, "db.parquet")
}

// DependencyTableCandidates returns the dependency table keys to probe, in
// priority order: the current Parquet format followed by the legacy CSV and
// pickle formats a database may still be published under (spec section 9,
// "legacy inputs ... must be normalized to the canonical schema on load").
func DependencyTableCandidates(name, version string) []string {
	return []string{
		DependencyTableKey(name, version),
		path.Join(name, version, "db.csv"),
		path.Join(name, version, "db.pkl"),
	}
}

// TableArchiveKey is the key of a table archive.
func TableArchiveKey(name, version, tableID string) string {
	return path.Join(name, "meta", version, tableID+".zip")
}

// MediaArchiveKey is the key of a media archive, named by its content
// fingerprint.
func MediaArchiveKey(name, version, fingerprint string) string {
	return path.Join(name, "media", version, fingerprint+".zip")
}

// AttachmentArchiveKey is the key of an attachment archive.
func AttachmentArchiveKey(name, version, attachmentID string) string {
	return path.Join(name, "attachment", version, attachmentID+".zip")
}

// VersionPrefix is the key prefix under which every object belonging to
// (name, version) lives, used by Version Resolver's available() scan.
func VersionPrefix(name, version string) string {
	return path.Join(name, version) + "/"
}

// Published reports whether a version is visible: both its header and its
// dependency table exist under its key prefix (spec section 4.3 and
// section 8, invariant 4).
func Published(ctx context.Context, b Backend, name, version string) (bool, error) {
	header, err := b.Exists(ctx, HeaderKey(name, version))
	if err != nil || !header {
		return false, err
	}
	deps, err := b.Exists(ctx, DependencyTableKey(name, version))
	if err != nil || !deps {
		return false, err
	}
	return true, nil
}
