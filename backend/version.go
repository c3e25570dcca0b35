package backend

import "github.com/coreos/go-semver/semver"

// IsVersionString reports whether s parses as a strict semver version. Used
// by backends to tell apart a version directory from a category directory
// (meta/media/attachment) sharing the same parent as version directories.
func IsVersionString(s string) bool {
	_, err := semver.NewVersion(s)
	return err == nil
}
