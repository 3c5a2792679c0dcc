package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStorage(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, "file:"+filepath.Join(t.TempDir(), "corgi.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	runStoreSuite(t, s)
}

func TestSQLiteStorage_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := "file:" + filepath.Join(t.TempDir(), "corgi.db")

	first, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := first.Create(ctx, newLink("persist1", "")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	first.Close()

	second, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()

	if _, err := second.GetByCode(ctx, "elga.io", "persist1"); err != nil {
		t.Errorf("GetByCode() after reopen error = %v", err)
	}
}
