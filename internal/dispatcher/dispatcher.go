// Package dispatcher serializes every disk-backed state transition (SST
// persistence, SST lookup, compaction rewrites) behind a single owning
// goroutine, the same single-owner-goroutine pattern the teacher uses for
// its WALWriter.loop().
package dispatcher

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/bureau/lsmkv/internal/cache"
	"github.com/bureau/lsmkv/internal/config"
	"github.com/bureau/lsmkv/internal/index"
	"github.com/bureau/lsmkv/internal/memtable"
	"github.com/bureau/lsmkv/internal/sstable"
	"github.com/bureau/lsmkv/internal/storage"
)

// Dispatcher owns the Index, Cache and Storage. All access happens inside
// its single loop goroutine; callers interact only through the exported
// methods below, which round-trip through its command channel.
type Dispatcher struct {
	ch chan any

	storage storage.Storage
	index   *index.Index
	cache   *cache.Cache
	bufSize int

	inFlight int
}

type getResponse struct {
	value []byte
	found bool
}

type cmdGet struct {
	key  []byte
	resp chan getResponse
}

type cmdCreateTable struct {
	mt   *memtable.MemTable
	resp chan error
	done chan error
}

// cmdUpdate implements the Update(id, option<memtable>) command: mt == nil
// means delete, non-nil means rebuild under a fresh id that takes the old
// id's place in the Index (see handleUpdate).
type cmdUpdate struct {
	id   string
	mt   *memtable.MemTable
	resp chan error
}

// cmdPersisted is the internal completion signal a persist goroutine sends
// back once an SST write finishes, keeping the Index/Cache mutation inside
// the owning goroutine. resp is non-nil only when the original CreateTable
// call deferred its acknowledgement to the backpressure branch.
type cmdPersisted struct {
	id   string
	mt   *memtable.MemTable
	err  error
	resp chan error
	done chan error
}

type cmdShutdown struct {
	resp chan struct{}
}

// cmdSnapshot returns a copy of the Index's oldest-first id order, the read
// compaction needs without holding the Index pointer itself.
type cmdSnapshot struct {
	resp chan []string
}

// New constructs a Dispatcher over storage, starting from idx and cache,
// with bufSize concurrent in-flight SST persists before CreateTable starts
// blocking its caller (the backpressure mechanism described in the
// concurrency model).
func New(st storage.Storage, idx *index.Index, c *cache.Cache, bufSize int) *Dispatcher {
	d := &Dispatcher{
		ch:      make(chan any, config.DefaultDispatcherCmdBuffer),
		storage: st,
		index:   idx,
		cache:   c,
		bufSize: bufSize,
	}
	go d.loop()
	return d
}

// Get looks up key, preferring the Cache, falling back to the Index
// newest-first.
func (d *Dispatcher) Get(key []byte) ([]byte, bool) {
	resp := make(chan getResponse, 1)
	d.ch <- &cmdGet{key: append([]byte(nil), key...), resp: resp}
	r := <-resp
	return r.value, r.found
}

// CreateTable persists mt as a new SST and prepends it to the Index. The
// returned ack error resolves immediately if the in-flight persist count is
// below bufSize, otherwise it blocks until the persist completes
// (backpressure). The returned done channel always resolves once the
// persist actually finishes, regardless of which branch acked — callers
// that need to know the SST is durably on disk (e.g. before dropping a
// superseded WAL generation) must wait on done, not on the ack alone.
func (d *Dispatcher) CreateTable(mt *memtable.MemTable) (ackErr error, done <-chan error) {
	ack := make(chan error, 1)
	doneCh := make(chan error, 1)
	d.ch <- &cmdCreateTable{mt: mt, resp: ack, done: doneCh}
	return <-ack, doneCh
}

// Update rebuilds (mt != nil) or deletes (mt == nil) the SST at id.
func (d *Dispatcher) Update(id string, mt *memtable.MemTable) error {
	resp := make(chan error, 1)
	d.ch <- &cmdUpdate{id: id, mt: mt, resp: resp}
	return <-resp
}

// SnapshotOldest returns the current SST ids in oldest-first order. The
// Index is owned exclusively by this Dispatcher's loop goroutine, so
// compaction (or anything else that needs a consistent view of disk state)
// must go through this command rather than holding the Index pointer
// itself.
func (d *Dispatcher) SnapshotOldest() []string {
	resp := make(chan []string, 1)
	d.ch <- &cmdSnapshot{resp: resp}
	return <-resp
}

// Shutdown closes the underlying storage and stops the loop.
func (d *Dispatcher) Shutdown() {
	resp := make(chan struct{})
	d.ch <- &cmdShutdown{resp: resp}
	<-resp
}

func (d *Dispatcher) loop() {
	for cmd := range d.ch {
		switch c := cmd.(type) {
		case *cmdGet:
			d.handleGet(c)
		case *cmdCreateTable:
			d.handleCreateTable(c)
		case *cmdUpdate:
			d.handleUpdate(c)
		case *cmdPersisted:
			d.handlePersisted(c)
		case *cmdSnapshot:
			c.resp <- d.index.Oldest()
		case *cmdShutdown:
			d.handleShutdown(c)
			return
		}
	}
}

func (d *Dispatcher) handleGet(c *cmdGet) {
	result, v, freq := d.cache.Check(c.key)
	if result == cache.Found {
		c.resp <- getResponse{value: v.Data, found: true}
		return
	}

	for pos, id := range d.index.Ids() {
		value, found, err := d.lookupSST(id, c.key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dispatcher: sst %s: %v\n", id, err)
			continue
		}
		if !found {
			continue
		}
		if result == cache.Candidate {
			d.cache.TryInsert(c.key, cache.Value{Data: value, Frequency: freq, Generation: pos + 1})
		}
		c.resp <- getResponse{value: value, found: true}
		return
	}

	c.resp <- getResponse{found: false}
}

func (d *Dispatcher) lookupSST(id string, key []byte) ([]byte, bool, error) {
	entry, err := d.storage.Open(id)
	if err != nil {
		return nil, false, fmt.Errorf("open: %w", err)
	}
	defer entry.Close()
	return sstable.Lookup(entry, key)
}

func (d *Dispatcher) handleCreateTable(c *cmdCreateTable) {
	id := uuid.Must(uuid.NewV7()).String()
	immediate := d.inFlight < d.bufSize
	d.inFlight++

	if immediate {
		c.resp <- nil
		go d.persist(id, c.mt, nil, c.done)
		return
	}
	go d.persist(id, c.mt, c.resp, c.done)
}

func (d *Dispatcher) persist(id string, mt *memtable.MemTable, resp, done chan error) {
	table := sstable.Build(mt)
	blob, err := table.Encode()
	if err == nil {
		err = d.storage.Write(id, blob)
	}
	d.ch <- &cmdPersisted{id: id, mt: mt, err: err, resp: resp, done: done}
}

func (d *Dispatcher) handlePersisted(c *cmdPersisted) {
	d.inFlight--
	if c.err == nil {
		d.index.Prepend(c.id)
		d.cache.Refresh(c.mt)
	} else {
		fmt.Fprintf(os.Stderr, "dispatcher: persist %s: %v\n", c.id, c.err)
	}
	if c.resp != nil {
		c.resp <- c.err
	}
	c.done <- c.err
}

// handleUpdate implements compaction's rewrite: a partial overwrite of the
// same SST id risks leaving a half-written file wearing a name the Index
// still considers valid, so a rebuild always lands under a fresh id and
// replaces the old one in the Index only once the new blob is durably
// written; the old blob is deleted only after that succeeds.
func (d *Dispatcher) handleUpdate(c *cmdUpdate) {
	if c.mt == nil {
		err := d.storage.Delete(c.id)
		d.index.Delete(c.id)
		c.resp <- err
		return
	}

	newID := uuid.Must(uuid.NewV7()).String()
	table := sstable.Build(c.mt)
	blob, err := table.Encode()
	if err == nil {
		err = d.storage.Write(newID, blob)
	}
	if err != nil {
		c.resp <- err
		return
	}

	d.index.Replace(c.id, newID)
	if err := d.storage.Delete(c.id); err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher: delete superseded sst %s: %v\n", c.id, err)
	}
	c.resp <- nil
}

func (d *Dispatcher) handleShutdown(c *cmdShutdown) {
	if err := d.storage.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher: close storage: %v\n", err)
	}
	c.resp <- struct{}{}
}
