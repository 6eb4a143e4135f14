package compactor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau/lsmkv/internal/cache"
	"github.com/bureau/lsmkv/internal/dispatcher"
	"github.com/bureau/lsmkv/internal/index"
	"github.com/bureau/lsmkv/internal/memtable"
	"github.com/bureau/lsmkv/internal/storage"
)

func newTestRig(t *testing.T) (*dispatcher.Dispatcher, storage.Storage) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sst")
	disk := storage.NewDisk(dir)
	if err := disk.Bootstrap(); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	idx := index.New(nil)
	c := cache.New(16)
	disp := dispatcher.New(disk, idx, c, 32)
	return disp, disk
}

func mustCreateTable(t *testing.T, disp *dispatcher.Dispatcher, pairs map[string]string) {
	t.Helper()
	m := memtable.New(memtable.DefaultMaxSize)
	for k, v := range pairs {
		p := m.Probe([]byte(k), []byte(v))
		m.Insert([]byte(k), []byte(v), p.NewSize)
	}
	ack, done := disp.CreateTable(m)
	if ack != nil {
		t.Fatalf("create table ack failed: %v", ack)
	}
	if err := <-done; err != nil {
		t.Fatalf("create table persist failed: %v", err)
	}
}

func TestRunOnceSkipsBelowThreshold(t *testing.T) {
	disp, st := newTestRig(t)
	mustCreateTable(t, disp, map[string]string{"a": "1"})

	c := New(disp, st, memtable.DefaultMaxSize, time.Hour, 10)
	defer c.Stop()
	c.runOnce()

	if got := len(disp.SnapshotOldest()); got != 1 {
		t.Fatalf("expected untouched index with 1 entry, got %d", got)
	}
}

func TestRunOnceDedupsShadowedKey(t *testing.T) {
	disp, st := newTestRig(t)

	// Oldest table: "a"->old (shadowed later), "z"->keep (never overwritten).
	mustCreateTable(t, disp, map[string]string{"a": "old", "z": "keep"})
	for i := 0; i < 2; i++ {
		mustCreateTable(t, disp, map[string]string{"pad": "x"})
	}
	// Newest table overwrites "a".
	mustCreateTable(t, disp, map[string]string{"a": "new"})

	c := New(disp, st, memtable.DefaultMaxSize, time.Hour, 2)
	defer c.Stop()
	c.runOnce()

	value, found := disp.Get([]byte("a"))
	if !found || string(value) != "new" {
		t.Fatalf("expected newest value for a, got %v %q", found, value)
	}
	value, found = disp.Get([]byte("z"))
	if !found || string(value) != "keep" {
		t.Fatalf("expected z to survive compaction, got %v %q", found, value)
	}
}
