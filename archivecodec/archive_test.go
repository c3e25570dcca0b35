package archivecodec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestPackUnpackRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.wav"), "audio-a")
	writeFile(t, filepath.Join(src, "nested/b.wav"), "audio-b")

	archive := filepath.Join(t.TempDir(), "arc.zip")
	err := Pack(archive, []Entry{
		{Path: "a.wav", Source: filepath.Join(src, "a.wav")},
		{Path: "nested/b.wav", Source: filepath.Join(src, "nested/b.wav")},
	})
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Unpack(archive, dest))

	gotA, err := os.ReadFile(filepath.Join(dest, "a.wav"))
	require.NoError(t, err)
	assert.Equal(t, "audio-a", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(dest, "nested", "b.wav"))
	require.NoError(t, err)
	assert.Equal(t, "audio-b", string(gotB))
}

func TestUnpackRejectsPathEscape(t *testing.T) {
	// Build a hand-rolled entry name that would escape dest if not guarded.
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "evil"), "payload")

	archive := filepath.Join(t.TempDir(), "arc.zip")
	require.NoError(t, Pack(archive, []Entry{{Path: "../evil", Source: filepath.Join(src, "evil")}}))

	dest := t.TempDir()
	err := Unpack(archive, dest)
	require.Error(t, err)
}

func TestUnpackIsIdempotentOnMatchingChecksum(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.wav"), "audio-a")

	archive := filepath.Join(t.TempDir(), "arc.zip")
	require.NoError(t, Pack(archive, []Entry{{Path: "a.wav", Source: filepath.Join(src, "a.wav")}}))

	dest := t.TempDir()
	require.NoError(t, Unpack(archive, dest))

	target := filepath.Join(dest, "a.wav")
	info1, err := os.Stat(target)
	require.NoError(t, err)

	require.NoError(t, Unpack(archive, dest))
	info2, err := os.Stat(target)
	require.NoError(t, err)

	assert.Equal(t, info1.ModTime(), info2.ModTime(), "unpack should skip rewriting an unchanged file")
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint([]string{"b.wav", "a.wav"}, "1.0.0")
	b := Fingerprint([]string{"a.wav", "b.wav"}, "1.0.0")
	assert.Equal(t, a, b, "fingerprint must be order-independent over input paths")

	c := Fingerprint([]string{"a.wav", "b.wav"}, "2.0.0")
	assert.NotEqual(t, a, c, "fingerprint must depend on version")
}

func TestChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	writeFile(t, path, "hello")

	sum, err := Checksum(path)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)
}
