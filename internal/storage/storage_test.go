package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestBootstrapCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	d := NewDisk(dir)
	if err := d.Bootstrap(); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if _, err := d.ListEntries(); err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
}

func TestWriteOpenReadDelete(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk(dir)
	if err := d.Bootstrap(); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	payload := []byte("hello sst")
	if err := d.Write("id-1", payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ids, err := d.ListEntries()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "id-1" {
		t.Fatalf("expected [id-1], got %v", ids)
	}

	entry, err := d.Open("id-1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer entry.Close()

	buf := make([]byte, len(payload))
	if _, err := entry.ReadAt(buf, 0); err != nil {
		t.Fatalf("read at failed: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("expected %q, got %q", payload, buf)
	}

	if err := d.Delete("id-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	ids, err = d.ListEntries()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no entries after delete, got %v", ids)
	}
}

func TestDeleteMissingIsNotError(t *testing.T) {
	d := NewDisk(t.TempDir())
	if err := d.Bootstrap(); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if err := d.Delete("nonexistent"); err != nil {
		t.Fatalf("expected no error deleting missing id, got %v", err)
	}
}
