// Package engine is the front door of the store: it owns the active
// MemTable and WAL, validates and serializes every GET/SET, and spawns the
// Dispatcher and Compactor as peer goroutines.
package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau/lsmkv/internal/block"
	"github.com/bureau/lsmkv/internal/cache"
	"github.com/bureau/lsmkv/internal/compactor"
	"github.com/bureau/lsmkv/internal/config"
	"github.com/bureau/lsmkv/internal/dispatcher"
	"github.com/bureau/lsmkv/internal/index"
	"github.com/bureau/lsmkv/internal/memtable"
	"github.com/bureau/lsmkv/internal/storage"
	"github.com/bureau/lsmkv/internal/wal"
)

var (
	// ErrEngineClosed is returned by Get/Set once the Engine has begun or
	// finished shutting down.
	ErrEngineClosed = errors.New("engine: closed")
	// ErrEmptyKey and ErrEmptyValue signal validation failures on SET.
	ErrEmptyKey   = errors.New("engine: empty key")
	ErrEmptyValue = errors.New("engine: empty value")
	// ErrKeyTooLarge and ErrValueTooLarge signal SET payloads over the caps.
	ErrKeyTooLarge   = fmt.Errorf("engine: key exceeds %d bytes", block.MaxKeySize)
	ErrValueTooLarge = fmt.Errorf("engine: value exceeds %d bytes", block.MaxValueSize)
)

// Engine is the single owner of the active MemTable and WAL. Every exported
// method round-trips through its command channel so all state mutation
// happens inside one goroutine, the teacher's WALWriter.loop() pattern
// widened to a full command dispatch loop.
type Engine struct {
	ch chan any

	wal *wal.WAL
	mt  *memtable.MemTable
	cfg config.EngineConfig

	dispatcher *dispatcher.Dispatcher
	compactor  *compactor.Compactor

	closed chan struct{}
}

type getResponse struct {
	value []byte
	found bool
}

type cmdGet struct {
	key  []byte
	resp chan getResponse
}

type cmdSet struct {
	key   []byte
	value []byte
	resp  chan error
}

type cmdShutdown struct {
	resp chan struct{}
}

// New bootstraps Storage, recovers the MemTable from the WAL held by ws,
// seeds the Index from existing SSTs, and starts the Engine, Dispatcher and
// Compactor loops.
func New(cfg config.EngineConfig, st storage.Storage, ws wal.WalStorage) (*Engine, error) {
	if err := st.Bootstrap(); err != nil {
		return nil, fmt.Errorf("engine: bootstrap storage: %w", err)
	}

	ids, err := st.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("engine: list entries: %w", err)
	}
	idx := index.New(ids)

	w, records, err := wal.Init(ws)
	if err != nil {
		return nil, fmt.Errorf("engine: init wal: %w", err)
	}
	mt := memtable.FromWAL(cfg.MemTableMaxSize, records)

	c := cache.New(cfg.CacheCapacity)
	disp := dispatcher.New(st, idx, c, cfg.SSTBufSize)
	comp := compactor.New(disp, st, cfg.MemTableMaxSize, cfg.CompactionInterval, cfg.CompactionThreshold)

	e := &Engine{
		ch:         make(chan any, config.DefaultEngineCommandBuffer),
		wal:        w,
		mt:         mt,
		cfg:        cfg,
		dispatcher: disp,
		compactor:  comp,
		closed:     make(chan struct{}),
	}
	go e.loop()
	return e, nil
}

// Get returns the value for key, consulting the MemTable first and falling
// back to the Dispatcher (Cache, then SSTs newest-first) on miss.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	resp := make(chan getResponse, 1)
	select {
	case e.ch <- &cmdGet{key: key, resp: resp}:
	case <-e.closed:
		return nil, false, ErrEngineClosed
	}
	r := <-resp
	return r.value, r.found, nil
}

// Set validates and durably writes (key, value), returning once the record
// is WAL-flushed (or buffered within the current page) and the MemTable has
// been updated.
func (e *Engine) Set(key, value []byte) error {
	if err := validate(key, value); err != nil {
		return err
	}
	resp := make(chan error, 1)
	select {
	case e.ch <- &cmdSet{key: key, value: value, resp: resp}:
	case <-e.closed:
		return ErrEngineClosed
	}
	return <-resp
}

func validate(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(value) == 0 {
		return ErrEmptyValue
	}
	if len(key) > block.MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(value) > block.MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

// Shutdown stops the Compactor, stops the Dispatcher, flushes the WAL, and
// stops the Engine loop.
func (e *Engine) Shutdown() error {
	resp := make(chan struct{})
	select {
	case e.ch <- &cmdShutdown{resp: resp}:
	case <-e.closed:
		return nil
	}
	<-resp
	return nil
}

func (e *Engine) loop() {
	defer close(e.closed)
	for cmd := range e.ch {
		switch c := cmd.(type) {
		case *cmdGet:
			e.handleGet(c)
		case *cmdSet:
			e.handleSet(c)
		case *cmdShutdown:
			e.handleShutdown(c)
			return
		}
	}
}

func (e *Engine) handleGet(c *cmdGet) {
	if v, ok := e.mt.Get(c.key); ok {
		c.resp <- getResponse{value: v, found: true}
		return
	}
	value, found := e.dispatcher.Get(c.key)
	c.resp <- getResponse{value: value, found: found}
}

func (e *Engine) handleSet(c *cmdSet) {
	probe := e.mt.Probe(c.key, c.value)

	if probe.Available {
		if err := e.wal.Append(c.key, c.value); err != nil {
			fmt.Fprintf(os.Stderr, "engine: fatal wal append error: %v\n", err)
			c.resp <- err
			close(e.ch)
			return
		}
		e.mt.Insert(c.key, c.value, probe.NewSize)
		c.resp <- nil
		return
	}

	old := e.mt
	e.mt = memtable.New(e.cfg.MemTableMaxSize)

	sealedGen, err := e.wal.Rotate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: fatal wal rotate error: %v\n", err)
		c.resp <- err
		close(e.ch)
		return
	}
	if err := e.wal.Append(c.key, c.value); err != nil {
		fmt.Fprintf(os.Stderr, "engine: fatal wal append error: %v\n", err)
		c.resp <- err
		close(e.ch)
		return
	}

	np := e.mt.Probe(c.key, c.value)
	e.mt.Insert(c.key, c.value, np.NewSize)
	c.resp <- nil

	// CreateTable's ack only gates backpressure on the next MemTable swap;
	// the superseded WAL generation (sealedGen) is only safe to drop once
	// its SST is actually durable, which done reports regardless of which
	// branch acked. Several generations can be pending drop at once under
	// backpressure, so each goroutine names only the exact generation this
	// CreateTable call sealed. Dropping it is not on the hot path, so it
	// runs off-loop.
	ack, done := e.dispatcher.CreateTable(old)
	if ack != nil {
		fmt.Fprintf(os.Stderr, "engine: create table: %v\n", ack)
	}
	go func() {
		if err := <-done; err != nil {
			fmt.Fprintf(os.Stderr, "engine: persist old memtable: %v\n", err)
			return
		}
		if err := e.wal.DropGeneration(sealedGen); err != nil {
			fmt.Fprintf(os.Stderr, "engine: drop wal generation %d: %v\n", sealedGen, err)
		}
	}()
}

func (e *Engine) handleShutdown(c *cmdShutdown) {
	e.compactor.Stop()
	e.dispatcher.Shutdown()
	if err := e.wal.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "engine: close wal: %v\n", err)
	}
	c.resp <- struct{}{}
}
