package engine

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau/lsmkv/internal/config"
	"github.com/bureau/lsmkv/internal/storage"
	"github.com/bureau/lsmkv/internal/wal"
)

func newTestEngine(t *testing.T, memTableMaxSize int) *Engine {
	t.Helper()
	dir := t.TempDir()

	st := storage.NewDisk(filepath.Join(dir, "sst"))
	ws, err := wal.NewDiskWalStorage(filepath.Join(dir, "wal"))
	if err != nil {
		t.Fatalf("new wal storage failed: %v", err)
	}

	cfg := config.New(
		config.WithDataDir(dir),
		config.WithMemTableMaxSize(memTableMaxSize),
		config.WithCompactionInterval(time.Hour),
	)

	e, err := New(cfg, st, ws)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	t.Cleanup(func() { e.Shutdown() })
	return e
}

func TestSetThenGet(t *testing.T) {
	e := newTestEngine(t, config.DefaultMemTableMaxSize)

	if err := e.Set([]byte("foo"), []byte("bar")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, found, err := e.Get([]byte("foo"))
	if err != nil {
		t.Fatalf("get errored: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("bar")) {
		t.Fatalf("expected found bar, got %v %q", found, value)
	}

	if _, found, _ := e.Get([]byte("missing")); found {
		t.Fatal("expected miss for absent key")
	}
}

func TestSetRejectsValidationFailures(t *testing.T) {
	e := newTestEngine(t, config.DefaultMemTableMaxSize)

	cases := []struct {
		name  string
		key   []byte
		value []byte
	}{
		{"empty key", []byte{}, []byte("v")},
		{"empty value", []byte("k"), []byte{}},
		{"oversize key", bytes.Repeat([]byte("k"), 513), []byte("v")},
		{"oversize value", []byte("k"), bytes.Repeat([]byte("v"), 2049)},
	}
	for _, tc := range cases {
		if err := e.Set(tc.key, tc.value); err == nil {
			t.Errorf("%s: expected validation error, got nil", tc.name)
		}
	}
}

func TestMemTableOverflowFlushesToSST(t *testing.T) {
	// A small MemTable budget forces several overflow-and-flush cycles
	// across the 40 inserts below.
	e := newTestEngine(t, 4096)

	for i := 0; i < 40; i++ {
		key := []byte{byte('a' + i%26), byte(i)}
		value := bytes.Repeat([]byte("v"), 64)
		if err := e.Set(key, value); err != nil {
			t.Fatalf("set %d failed: %v", i, err)
		}
	}

	// Every key, whether still in the MemTable or flushed to an SST, must
	// still resolve.
	for i := 0; i < 40; i++ {
		key := []byte{byte('a' + i%26), byte(i)}
		value, found, err := e.Get(key)
		if err != nil {
			t.Fatalf("get %d errored: %v", i, err)
		}
		if !found || !bytes.Equal(value, bytes.Repeat([]byte("v"), 64)) {
			t.Fatalf("get %d: expected found, got %v %q", i, found, value)
		}
	}
}

func TestRecoversFromWALAfterRestart(t *testing.T) {
	dir := t.TempDir()
	sstDir := filepath.Join(dir, "sst")
	walDir := filepath.Join(dir, "wal")

	st := storage.NewDisk(sstDir)
	ws, err := wal.NewDiskWalStorage(walDir)
	if err != nil {
		t.Fatalf("new wal storage failed: %v", err)
	}
	cfg := config.New(config.WithDataDir(dir), config.WithCompactionInterval(time.Hour))

	e, err := New(cfg, st, ws)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	if err := e.Set([]byte("foo"), []byte("bar")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	st2 := storage.NewDisk(sstDir)
	ws2, err := wal.NewDiskWalStorage(walDir)
	if err != nil {
		t.Fatalf("reopen wal storage failed: %v", err)
	}
	e2, err := New(cfg, st2, ws2)
	if err != nil {
		t.Fatalf("reopen engine failed: %v", err)
	}
	defer e2.Shutdown()

	value, found, err := e2.Get([]byte("foo"))
	if err != nil {
		t.Fatalf("get errored: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("bar")) {
		t.Fatalf("expected recovered bar, got %v %q", found, value)
	}
}
