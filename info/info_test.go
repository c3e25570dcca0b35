package info

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusdb/backend"
	memorybackend "corpusdb/backend/memory"
	"corpusdb/cachemgr"
	"corpusdb/config"
	"corpusdb/deptable"
	"corpusdb/resolver"
)

func seedHeaderAndTable(t *testing.T, b backend.Backend, name, version string) {
	t.Helper()
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "db.yaml")
	require.NoError(t, os.WriteFile(headerPath, []byte(""+
		"name: "+name+"\n"+
		"description: a test corpus\n"+
		"languages:\n  - eng\n  - deu\n"+
		"tables:\n  emotion: {}\n  speaker: {}\n"), 0o644))
	require.NoError(t, b.Put(context.Background(), headerPath, backend.HeaderKey(name, version)))

	tbl := deptable.New()
	require.NoError(t, tbl.AddMedia([]deptable.Row{
		{Path: "a.wav", Version: version, Duration: 1.5},
		{Path: "b.wav", Version: version, Duration: 2.5},
	}))
	tablePath := filepath.Join(dir, "db.parquet")
	require.NoError(t, tbl.WriteParquet(tablePath))
	require.NoError(t, b.Put(context.Background(), tablePath, backend.DependencyTableKey(name, version)))
}

func TestFetchReturnsHeaderWithoutTable(t *testing.T) {
	b := memorybackend.New()
	backend.Register("info-test", func(string) (backend.Backend, error) { return b, nil })
	seedHeaderAndTable(t, b, "emodb", "1.0.0")

	res := resolver.New([]config.Repository{{Name: "repo", Host: "h", Backend: "info-test"}})
	cache := cachemgr.New(t.TempDir(), "")

	result, err := Fetch(context.Background(), Request{Name: "emodb", Version: "1.0.0", Cache: cache, Resolver: res})
	require.NoError(t, err)
	assert.Equal(t, "emodb", result.Header.Name)
	assert.ElementsMatch(t, []string{"eng", "deu"}, result.Header.Languages)
	assert.ElementsMatch(t, []string{"emotion", "speaker"}, result.Header.TableNames())
	assert.Nil(t, result.Table)
}

func TestWithDependencyTableComputesDuration(t *testing.T) {
	b := memorybackend.New()
	backend.Register("info-test-table", func(string) (backend.Backend, error) { return b, nil })
	seedHeaderAndTable(t, b, "emodb", "1.0.0")

	res := resolver.New([]config.Repository{{Name: "repo", Host: "h", Backend: "info-test-table"}})
	cache := cachemgr.New(t.TempDir(), "")

	result, err := WithDependencyTable(context.Background(), Request{Name: "emodb", Version: "1.0.0", Cache: cache, Resolver: res})
	require.NoError(t, err)
	require.NotNil(t, result.Table)
	assert.Equal(t, 4.0, Duration(result.Table))
	assert.Equal(t, 2, FileCount(result.Table))
}

func TestFileCountExcludesTombstonedMedia(t *testing.T) {
	tbl := deptable.New()
	require.NoError(t, tbl.AddMedia([]deptable.Row{
		{Path: "a.wav", Version: "1.0.0"},
		{Path: "b.wav", Version: "1.0.0"},
	}))
	require.NoError(t, tbl.Remove("b.wav"))
	assert.Equal(t, 1, FileCount(tbl))
}
