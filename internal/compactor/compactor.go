// Package compactor periodically removes keys in older SSTs that are
// shadowed by newer ones, reducing space amplification. Grounded on the
// teacher's segmentmanager rotation/cleanup lifecycle (close-then-replace),
// generalized into a periodic multi-SST dedup pass driven by a
// time.Ticker, the same long-lived-goroutine idiom the teacher's WAL
// writer uses for its own background loop.
package compactor

import (
	"fmt"
	"os"
	"time"

	"github.com/bureau/lsmkv/internal/dispatcher"
	"github.com/bureau/lsmkv/internal/memtable"
	"github.com/bureau/lsmkv/internal/sstable"
	"github.com/bureau/lsmkv/internal/storage"
)

// Compactor drives the periodic dedup pass described in the component
// design: every interval, skip if fewer than threshold SSTs exist;
// otherwise walk the Index oldest-first, strip out any key shadowed by a
// newer SST, and emit Update commands for whatever changed. The Index
// itself is owned exclusively by the Dispatcher's loop goroutine; the
// Compactor only ever sees it through SnapshotOldest, never by holding the
// pointer, so there is no shared mutable state between the two goroutines.
type Compactor struct {
	disp         *dispatcher.Dispatcher
	storage      storage.Storage
	memTableSize int
	interval     time.Duration
	threshold    int

	stop chan struct{}
	done chan struct{}
}

// New constructs a Compactor and starts its background loop. memTableSize
// is the Engine's configured MemTable byte budget, used when rebuilding a
// dedup'd SST so compaction's accounting matches the rest of the system.
func New(disp *dispatcher.Dispatcher, st storage.Storage, memTableSize int, interval time.Duration, threshold int) *Compactor {
	c := &Compactor{
		disp:         disp,
		storage:      st,
		memTableSize: memTableSize,
		interval:     interval,
		threshold:    threshold,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.loop()
	return c
}

// Stop ends the background loop and waits for it to exit.
func (c *Compactor) Stop() {
	select {
	case <-c.done:
		return
	default:
	}
	close(c.stop)
	<-c.done
}

func (c *Compactor) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.runOnce()
		}
	}
}

// runOnce executes a single compaction pass. The package's tests call it
// directly to drive compaction deterministically instead of waiting on the
// ticker.
func (c *Compactor) runOnce() {
	ids := c.disp.SnapshotOldest()
	if len(ids) < c.threshold {
		return
	}

	decoded := make([]map[string][]byte, len(ids))
	for i, id := range ids {
		m, err := c.readSST(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "compactor: read %s: %v\n", id, err)
			return
		}
		decoded[i] = m
	}

	for i := 0; i < len(ids)-1; i++ {
		freed := false
		for j := i + 1; j < len(ids); j++ {
			for k := range decoded[j] {
				if _, ok := decoded[i][k]; ok {
					delete(decoded[i], k)
					freed = true
				}
			}
		}
		if !freed {
			continue
		}

		if len(decoded[i]) == 0 {
			if err := c.disp.Update(ids[i], nil); err != nil {
				fmt.Fprintf(os.Stderr, "compactor: delete %s: %v\n", ids[i], err)
			}
			continue
		}

		rebuilt := memtable.New(c.memTableSize)
		for k, v := range decoded[i] {
			p := rebuilt.Probe([]byte(k), v)
			rebuilt.Insert([]byte(k), v, p.NewSize)
		}
		if err := c.disp.Update(ids[i], rebuilt); err != nil {
			fmt.Fprintf(os.Stderr, "compactor: rebuild %s: %v\n", ids[i], err)
		}
	}
}

func (c *Compactor) readSST(id string) (map[string][]byte, error) {
	entry, err := c.storage.Open(id)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer entry.Close()

	blob, err := readAll(entry)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	records, err := sstable.Entries(blob)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	m := make(map[string][]byte, len(records))
	for _, r := range records {
		m[string(r.Key)] = r.Value
	}
	return m, nil
}

// readAllBufSize comfortably exceeds any SST a default-sized MemTable can
// produce (bloom filter + table index + a few dozen 4 KiB blocks), so one
// ReadAll call is enough without first stat-ing the blob.
const readAllBufSize = 1 << 20

func readAll(entry storage.Entry) ([]byte, error) {
	buf := make([]byte, readAllBufSize)
	n, err := entry.ReadAll(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
