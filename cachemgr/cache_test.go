package cachemgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusdb/deptable"
)

func TestResolvePrefersSharedTier(t *testing.T) {
	user := t.TempDir()
	shared := t.TempDir()
	m := New(user, shared)

	require.NoError(t, os.MkdirAll(m.FlavorDir(shared, "emodb", "1.0.0", "default"), 0o755))
	require.NoError(t, os.MkdirAll(m.FlavorDir(user, "emodb", "1.0.0", "default"), 0o755))

	dir, ok := m.Resolve("emodb", "1.0.0", "default")
	require.True(t, ok)
	assert.Equal(t, m.FlavorDir(shared, "emodb", "1.0.0", "default"), dir)
}

func TestResolveFallsBackToUserTier(t *testing.T) {
	m := New(t.TempDir(), t.TempDir())
	require.NoError(t, os.MkdirAll(m.FlavorDir(m.UserRoot, "emodb", "1.0.0", "default"), 0o755))

	dir, ok := m.Resolve("emodb", "1.0.0", "default")
	require.True(t, ok)
	assert.Equal(t, m.FlavorDir(m.UserRoot, "emodb", "1.0.0", "default"), dir)
}

func TestResolveMissingReturnsFalse(t *testing.T) {
	m := New(t.TempDir(), "")
	_, ok := m.Resolve("emodb", "1.0.0", "default")
	assert.False(t, ok)
}

func TestIsCompleteRequiresSentinelAndFiles(t *testing.T) {
	dir := t.TempDir()
	tbl := deptable.New()
	require.NoError(t, tbl.AddMedia([]deptable.Row{{Path: "a.wav", Version: "1.0.0"}}))

	assert.False(t, IsComplete(dir, tbl, []string{"a.wav"}))

	require.NoError(t, MarkComplete(dir))
	assert.False(t, IsComplete(dir, tbl, []string{"a.wav"}), "sentinel alone is not enough if scoped file is missing")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.wav"), []byte("x"), 0o644))
	assert.True(t, IsComplete(dir, tbl, []string{"a.wav"}))
}

func TestReuseFileHardLinksOrCopies(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dst := filepath.Join(t.TempDir(), "nested", "a.wav")
	require.NoError(t, ReuseFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestLockExclusion(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	require.NoError(t, err)

	_, err = AcquireWithTimeout(dir, 20*time.Millisecond, 60*time.Millisecond)
	require.Error(t, err)

	require.NoError(t, l1.Release())

	l2, err := AcquireWithTimeout(dir, 20*time.Millisecond, 60*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
