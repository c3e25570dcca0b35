package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusdb/backend"
	memorybackend "corpusdb/backend/memory"
	"corpusdb/config"
)

func seedVersion(t *testing.T, b backend.Backend, name, version string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	require.NoError(t, b.Put(context.Background(), src, backend.HeaderKey(name, version)))
	require.NoError(t, b.Put(context.Background(), src, backend.DependencyTableKey(name, version)))
}

func TestVersionsUnionsAcrossRepositories(t *testing.T) {
	b1 := memorybackend.New()
	b2 := memorybackend.New()
	backend.Register("resolver-test-a", func(string) (backend.Backend, error) { return b1, nil })
	backend.Register("resolver-test-b", func(string) (backend.Backend, error) { return b2, nil })

	seedVersion(t, b1, "emodb", "1.0.0")
	seedVersion(t, b2, "emodb", "2.0.0")

	r := New([]config.Repository{
		{Name: "repo-a", Host: "h1", Backend: "resolver-test-a"},
		{Name: "repo-b", Host: "h2", Backend: "resolver-test-b"},
	})

	versions, err := r.Versions(context.Background(), "emodb")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, versions)

	latest, err := r.LatestVersion(context.Background(), "emodb")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", latest)
}

func TestRepositoryReturnsFirstMatchInDeclarationOrder(t *testing.T) {
	b1 := memorybackend.New()
	b2 := memorybackend.New()
	backend.Register("resolver-test-c", func(string) (backend.Backend, error) { return b1, nil })
	backend.Register("resolver-test-d", func(string) (backend.Backend, error) { return b2, nil })

	seedVersion(t, b2, "emodb", "1.0.0")

	r := New([]config.Repository{
		{Name: "repo-a", Host: "h1", Backend: "resolver-test-c"},
		{Name: "repo-b", Host: "h2", Backend: "resolver-test-d"},
	})

	repo, _, err := r.Repository(context.Background(), "emodb", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "repo-b", repo.Name)
}

func TestLatestVersionNotFound(t *testing.T) {
	r := New(nil)
	_, err := r.LatestVersion(context.Background(), "missing")
	require.Error(t, err)
}
