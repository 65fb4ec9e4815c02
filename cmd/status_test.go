package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShortID(t *testing.T) {
	for id, want := range map[string]string{
		"0f8e4c1a-2b3d-4e5f-8a9b-0c1d2e3f4a5b": "0f8e4c1a",
		"abc":                                  "abc",
		"":                                     "",
	} {
		if got := shortID(id); got != want {
			t.Errorf("shortID(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{2621440, "2.5 MB"},
		{1 << 30, "1.0 GB"},
		{3 << 40, "3.0 TB"},
		{5 << 50, "5120.0 TB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStoreSize(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cr.db")

	if _, err := storeSize(db); err == nil {
		t.Error("expected error for missing database")
	}

	write := func(name string, n int) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, n), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("cr.db", 4096)
	if got, err := storeSize(db); err != nil || got != 4096 {
		t.Errorf("storeSize = %d, %v; want 4096", got, err)
	}

	write("cr.db-wal", 1000)
	write("cr.db-shm", 24)
	if got, err := storeSize(db); err != nil || got != 5120 {
		t.Errorf("storeSize with WAL = %d, %v; want 5120", got, err)
	}
}
