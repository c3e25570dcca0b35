package deptable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusdb/corpuserr"
)

func TestAddMediaAndQuery(t *testing.T) {
	tbl := New()
	err := tbl.AddMedia([]Row{
		{Path: "audio/001.wav", Archive: "abc123", Format: "wav", Version: "1.0.0", Checksum: "chk1", BitDepth: 16, Channels: 1, SamplingRate: 16000, Duration: 3.5},
		{Path: "audio/002.wav", Archive: "def456", Format: "wav", Version: "1.0.0", Checksum: "chk2", BitDepth: 16, Channels: 2, SamplingRate: 44100, Duration: 5.0},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.ElementsMatch(t, []string{"audio/001.wav", "audio/002.wav"}, tbl.Media())
	assert.Empty(t, tbl.Tables())

	rate, err := tbl.SamplingRate("audio/002.wav")
	require.NoError(t, err)
	assert.Equal(t, int32(44100), rate)
}

func TestAddMediaRejectsDuplicate(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.AddMedia([]Row{{Path: "a.wav", Version: "1.0.0"}}))

	err := tbl.AddMedia([]Row{{Path: "a.wav", Version: "2.0.0"}})
	require.Error(t, err)
	var invalid *corpuserr.InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, 1, tbl.Len(), "failed insert must not partially apply")
}

func TestAddMetaOverwritesExisting(t *testing.T) {
	tbl := New()
	tbl.AddMeta("db.files.parquet", "1.0.0", "chk1")
	assert.Equal(t, 1, tbl.Len())

	tbl.AddMeta("db.files.parquet", "2.0.0", "chk2")
	assert.Equal(t, 1, tbl.Len(), "re-adding the same table path must overwrite, not duplicate")

	v, err := tbl.Version("db.files.parquet")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v)

	id := tbl.TableIDs()
	require.Len(t, id, 1)
	assert.Equal(t, "files", id[0])
}

func TestAddAttachment(t *testing.T) {
	tbl := New()
	tbl.AddAttachment("extra/readme.txt", "1.0.0", "att-hash", "chk")

	assert.Equal(t, []string{"extra/readme.txt"}, tbl.Attachments())
	assert.Equal(t, []string{"att-hash"}, tbl.AttachmentIDs())

	kind, err := tbl.KindOf("extra/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, KindAttachment, kind)
}

func TestUpdateMediaRequiresExistingPath(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.AddMedia([]Row{{Path: "a.wav", Version: "1.0.0"}}))

	err := tbl.UpdateMedia([]Row{{Path: "missing.wav", Version: "1.0.0"}})
	require.Error(t, err)
	var notFound *corpuserr.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	err = tbl.UpdateMedia([]Row{{Path: "a.wav", Version: "2.0.0", Checksum: "newchk"}})
	require.NoError(t, err)
	v, _ := tbl.Version("a.wav")
	assert.Equal(t, "2.0.0", v)
	c, _ := tbl.Checksum("a.wav")
	assert.Equal(t, "newchk", c)
}

func TestUpdateMediaVersionSkipsMissingPaths(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.AddMedia([]Row{{Path: "a.wav", Version: "1.0.0"}}))

	tbl.UpdateMediaVersion([]string{"a.wav", "missing.wav"}, "2.0.0")

	v, err := tbl.Version("a.wav")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v)
	assert.Equal(t, 1, tbl.Len())
}

func TestRemoveRejectsNonMediaRows(t *testing.T) {
	tbl := New()
	tbl.AddMeta("db.files.parquet", "1.0.0", "chk")

	err := tbl.Remove("db.files.parquet")
	require.Error(t, err)
	var invalid *corpuserr.InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)
}

func TestRemoveTombstonesMedia(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.AddMedia([]Row{{Path: "a.wav", Version: "1.0.0"}}))

	require.NoError(t, tbl.Remove("a.wav"))

	removed, err := tbl.Removed("a.wav")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"a.wav"}, tbl.RemovedMedia())
	assert.Equal(t, 1, tbl.Len(), "removal tombstones, it does not drop the row")
}

func TestDropDeletesRowsAndRebuildsIndex(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.AddMedia([]Row{
		{Path: "a.wav", Version: "1.0.0"},
		{Path: "b.wav", Version: "1.0.0"},
		{Path: "c.wav", Version: "1.0.0"},
	}))

	tbl.Drop([]string{"b.wav"})

	assert.Equal(t, 2, tbl.Len())
	assert.False(t, tbl.Contains("b.wav"))
	assert.True(t, tbl.Contains("a.wav"))
	assert.True(t, tbl.Contains("c.wav"))

	// index must still resolve correctly after the rebuild
	v, err := tbl.Version("c.wav")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)
}

func TestBatchGettersOmitMissingPaths(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.AddMedia([]Row{
		{Path: "a.wav", Version: "1.0.0", Checksum: "chk-a", Duration: 1.5, BitDepth: 16, Channels: 1, SamplingRate: 16000, Archive: "arc-a"},
	}))

	paths := []string{"a.wav", "missing.wav"}
	assert.Equal(t, map[string]string{"a.wav": "chk-a"}, tbl.ChecksumBatch(paths))
	assert.Equal(t, map[string]float64{"a.wav": 1.5}, tbl.DurationBatch(paths))
	assert.Equal(t, map[string]int32{"a.wav": 16}, tbl.BitDepthBatch(paths))
	assert.Equal(t, map[string]int32{"a.wav": 1}, tbl.ChannelsBatch(paths))
	assert.Equal(t, map[string]int32{"a.wav": 16000}, tbl.SamplingRateBatch(paths))
	assert.Equal(t, map[string]string{"a.wav": "arc-a"}, tbl.ArchiveBatch(paths))
	assert.Equal(t, map[string]Kind{"a.wav": KindMedia}, tbl.KindBatch(paths))
}

func TestEqualIgnoresRowOrder(t *testing.T) {
	a := New()
	require.NoError(t, a.AddMedia([]Row{
		{Path: "a.wav", Version: "1.0.0", Checksum: "x"},
		{Path: "b.wav", Version: "1.0.0", Checksum: "y"},
	}))

	b := New()
	require.NoError(t, b.AddMedia([]Row{
		{Path: "b.wav", Version: "1.0.0", Checksum: "y"},
		{Path: "a.wav", Version: "1.0.0", Checksum: "x"},
	}))

	assert.True(t, a.Equal(b))

	b.UpdateMediaVersion([]string{"a.wav"}, "2.0.0")
	assert.False(t, a.Equal(b))
}
