package dispatcher

import (
	"path/filepath"
	"testing"

	"github.com/bureau/lsmkv/internal/cache"
	"github.com/bureau/lsmkv/internal/index"
	"github.com/bureau/lsmkv/internal/memtable"
	"github.com/bureau/lsmkv/internal/storage"
)

func newDispatcher(t *testing.T, bufSize int) *Dispatcher {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sst")
	disk := storage.NewDisk(dir)
	if err := disk.Bootstrap(); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	idx := index.New(nil)
	c := cache.New(16)
	return New(disk, idx, c, bufSize)
}

func seededMemTable(pairs map[string]string) *memtable.MemTable {
	m := memtable.New(memtable.DefaultMaxSize)
	for k, v := range pairs {
		p := m.Probe([]byte(k), []byte(v))
		m.Insert([]byte(k), []byte(v), p.NewSize)
	}
	return m
}

func TestCreateTableThenGet(t *testing.T) {
	d := newDispatcher(t, 32)
	m := seededMemTable(map[string]string{"foo": "bar", "baz": "qux"})

	ack, done := d.CreateTable(m)
	if ack != nil {
		t.Fatalf("create table ack failed: %v", ack)
	}
	if err := <-done; err != nil {
		t.Fatalf("create table persist failed: %v", err)
	}

	value, found := d.Get([]byte("foo"))
	if !found || string(value) != "bar" {
		t.Fatalf("expected found bar, got %v %q", found, value)
	}

	if _, found := d.Get([]byte("missing")); found {
		t.Fatal("expected miss for absent key")
	}
}

func TestBackpressureAcksAfterPersist(t *testing.T) {
	d := newDispatcher(t, 0)
	m := seededMemTable(map[string]string{"k": "v"})

	ack, done := d.CreateTable(m)
	if ack != nil {
		t.Fatalf("create table failed: %v", ack)
	}
	<-done

	// With bufSize 0 the ack only arrives once persisted, so the value
	// must already be visible.
	value, found := d.Get([]byte("k"))
	if !found || string(value) != "v" {
		t.Fatalf("expected found v, got %v %q", found, value)
	}
}

func TestUpdateDeletesSST(t *testing.T) {
	d := newDispatcher(t, 0)
	m := seededMemTable(map[string]string{"k": "v"})
	ack, done := d.CreateTable(m)
	if ack != nil {
		t.Fatalf("create table failed: %v", ack)
	}
	<-done

	ids := d.index.Ids()
	if len(ids) != 1 {
		t.Fatalf("expected 1 indexed sst, got %d", len(ids))
	}

	if err := d.Update(ids[0], nil); err != nil {
		t.Fatalf("update delete failed: %v", err)
	}

	if _, found := d.Get([]byte("k")); found {
		t.Fatal("expected key to be gone after delete")
	}
	if len(d.index.Ids()) != 0 {
		t.Fatalf("expected index to be empty, got %d entries", len(d.index.Ids()))
	}
}

func TestShutdownClosesStorage(t *testing.T) {
	d := newDispatcher(t, 32)
	d.Shutdown()
}
