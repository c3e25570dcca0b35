package backend

import "errors"

// Static errors, kept as package-level sentinels to avoid allocating a new
// error value on every validation failure (matches the teacher's
// registry/errors.go convention).
var (
	ErrEmptyName    = errors.New("repository name cannot be empty")
	ErrEmptyHost    = errors.New("repository host cannot be empty")
	ErrEmptyBackend = errors.New("repository backend kind cannot be empty")
)
