package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPendingFiles_OrdersUpMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "0003_dir.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := pendingFiles(dir)
	if err != nil {
		t.Fatalf("pendingFiles: %v", err)
	}
	if strings.Join(got, ",") != "0001_a.up.sql,0002_b.up.sql" {
		t.Errorf("unexpected files %v", got)
	}
}

func TestPendingFiles_MissingDir(t *testing.T) {
	if _, err := pendingFiles(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
