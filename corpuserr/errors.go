// Package corpuserr centralizes the error kinds surfaced by corpusdb (spec
// section 7). Each kind is its own type so callers can discriminate with
// errors.As instead of string matching.
package corpuserr

import "fmt"

// NotFoundError is returned when a database or version is absent from every
// configured repository, or when a dependency table row does not exist.
type NotFoundError struct {
	Search string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Search)
}

// InvalidArgumentError signals a bad version string, an illegal artifact id,
// or a non-portable build directory.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s", e.Reason)
}

// NetworkError wraps a transport-level failure that survived retries.
type NetworkError struct {
	Op    string
	Inner error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Inner)
}

func (e *NetworkError) Unwrap() error { return e.Inner }

// AuthError signals credential rejection by a backend.
type AuthError struct {
	Backend string
	Inner   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error on backend %s: %v", e.Backend, e.Inner)
}

func (e *AuthError) Unwrap() error { return e.Inner }

// CorruptError signals a checksum or format mismatch discovered on read.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt %s: %s", e.Path, e.Reason)
}

// LockTimeoutError is returned when a cache lock could not be obtained
// within the 24h abandon window (spec section 4.4).
type LockTimeoutError struct {
	Path string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout acquiring %s", e.Path)
}

// UnsupportedBackendError signals an unregistered backend_kind.
type UnsupportedBackendError struct {
	Kind string
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("unsupported backend kind %q", e.Kind)
}

// UnsupportedConversionError is returned by the audio transform
// collaborator when a flavor cannot be produced from a source file.
type UnsupportedConversionError struct {
	Reason string
}

func (e *UnsupportedConversionError) Error() string {
	return fmt.Sprintf("unsupported conversion: %s", e.Reason)
}

// FailedPath records one path that could not be materialized and why,
// used by both FlavorError and LoadError aggregates.
type FailedPath struct {
	Path  string
	Cause error
}

// FlavorError aggregates per-file flavor transform failures. Transform
// errors never abort a load; they are collected and surfaced once at the
// end (spec section 4.5).
type FlavorError struct {
	Failed []FailedPath
}

func (e *FlavorError) Error() string {
	return fmt.Sprintf("flavor transform failed for %d file(s)", len(e.Failed))
}

// LoadError aggregates per-path fetch/unpack failures from a load pipeline
// run. The cache is left consistent: every on-disk file matches its
// recorded checksum (spec section 4.7 partial-failure semantics).
type LoadError struct {
	Failed []FailedPath
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load failed for %d path(s)", len(e.Failed))
}

// IoError wraps a local filesystem failure (write, rename, mkdir, ...).
type IoError struct {
	Op    string
	Inner error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Inner)
}

func (e *IoError) Unwrap() error { return e.Inner }
