package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBackendRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()

	dir := t.TempDir()
	src := filepath.Join(dir, "db.parquet")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	key := "emodb/1.0.0/db.parquet"
	if err := b.Put(ctx, src, key); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ok, err := b.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v, want true, nil", ok, err)
	}

	dst := filepath.Join(dir, "out.parquet")
	if err := b.Get(ctx, key, dst); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "payload" {
		t.Errorf("got %q, want payload", got)
	}

	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ok, _ = b.Exists(ctx, key)
	if ok {
		t.Error("expected key to be gone after Delete")
	}
}

func TestBackendListVersions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New()
	dir := t.TempDir()
	src := filepath.Join(dir, "f")
	os.WriteFile(src, []byte("x"), 0o644)

	b.Put(ctx, src, "emodb/1.0.0/db.yaml")
	b.Put(ctx, src, "emodb/2.0.0/db.yaml")
	b.Put(ctx, src, "otherdb/1.0.0/db.yaml")

	versions, err := b.ListVersions(ctx, "emodb")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("ListVersions() = %v, want 2 entries", versions)
	}
}
