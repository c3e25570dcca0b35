package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusdb/archivecodec"
	"corpusdb/backend"
	memorybackend "corpusdb/backend/memory"
	"corpusdb/cachemgr"
	"corpusdb/config"
	"corpusdb/deptable"
	"corpusdb/resolver"
)

// seedMultiFileDatabase publishes a version of "emodb" with n media files,
// each in its own archive, directly into b.
func seedMultiFileDatabase(t *testing.T, b backend.Backend, n int) {
	t.Helper()
	ctx := context.Background()
	work := t.TempDir()

	tbl := deptable.New()
	var rows []deptable.Row
	for i := 0; i < n; i++ {
		name := "f" + itoa(i) + ".wav"
		src := filepath.Join(work, name)
		require.NoError(t, os.WriteFile(src, []byte("bytes-"+itoa(i)), 0o644))
		checksum, err := archivecodec.Checksum(src)
		require.NoError(t, err)

		archiveID := "arc" + itoa(i)
		archivePath := filepath.Join(work, archiveID+".zip")
		require.NoError(t, archivecodec.Pack(archivePath, []archivecodec.Entry{{Path: name, Source: src}}))
		require.NoError(t, b.Put(ctx, archivePath, backend.MediaArchiveKey("emodb", "1.0.0", archiveID)))

		rows = append(rows, deptable.Row{Path: name, Archive: archiveID, Format: "wav", Version: "1.0.0", Checksum: checksum})
	}
	require.NoError(t, tbl.AddMedia(rows))

	tablePath := filepath.Join(work, "db.parquet")
	require.NoError(t, tbl.WriteParquet(tablePath))
	require.NoError(t, b.Put(ctx, tablePath, backend.DependencyTableKey("emodb", "1.0.0")))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

func TestIteratorYieldsAllRowsInBatches(t *testing.T) {
	b := memorybackend.New()
	backend.Register("stream-test", func(string) (backend.Backend, error) { return b, nil })
	seedMultiFileDatabase(t, b, 5)

	res := resolver.New([]config.Repository{{Name: "repo", Host: "h", Backend: "stream-test"}})
	cache := cachemgr.New(t.TempDir(), "")

	it, err := New(context.Background(), Options{Name: "emodb", BatchSize: 2, Cache: cache, Resolver: res})
	require.NoError(t, err)
	defer it.Close()

	var total int
	for {
		batch, err := it.Next()
		require.NoError(t, err)
		if batch == nil {
			break
		}
		for _, row := range batch.Rows {
			data, err := os.ReadFile(filepath.Join(batch.Dir, row.Path))
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		}
		total += len(batch.Rows)
	}
	assert.Equal(t, 5, total)
}

func TestShuffleWithinBufferIsDeterministicForASeed(t *testing.T) {
	order1 := []int{0, 1, 2, 3, 4, 5, 6, 7}
	order2 := []int{0, 1, 2, 3, 4, 5, 6, 7}
	shuffleWithinBuffer(order1, 4, 42)
	shuffleWithinBuffer(order2, 4, 42)
	assert.Equal(t, order1, order2)
}

func TestShuffleWithinBufferKeepsWindowsDisjoint(t *testing.T) {
	order := []int{0, 1, 2, 3, 4, 5, 6, 7}
	shuffleWithinBuffer(order, 4, 7)
	firstWindow := map[int]bool{0: true, 1: true, 2: true, 3: true}
	for _, v := range order[:4] {
		assert.True(t, firstWindow[v], "element %d leaked out of its shuffle window", v)
	}
}

func TestCloseCancelsPendingFetch(t *testing.T) {
	b := memorybackend.New()
	backend.Register("stream-test-cancel", func(string) (backend.Backend, error) { return b, nil })
	seedMultiFileDatabase(t, b, 2)

	res := resolver.New([]config.Repository{{Name: "repo", Host: "h", Backend: "stream-test-cancel"}})
	cache := cachemgr.New(t.TempDir(), "")

	it, err := New(context.Background(), Options{Name: "emodb", BatchSize: 1, Cache: cache, Resolver: res})
	require.NoError(t, err)
	it.Close()

	_, err = it.Next()
	require.Error(t, err)
}
