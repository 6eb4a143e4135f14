// Package memtable implements the ordered in-memory write buffer sitting in
// front of SST flushes. It tracks an accounted byte size that approximates
// what the MemTable would cost once flushed to a Block-paginated SST, so the
// engine can predict overflow before it happens.
package memtable

import (
	"bytes"
	"fmt"
	"iter"
	"sort"

	"github.com/bureau/lsmkv/internal/block"
)

// DefaultMaxSize is 64 KiB, i.e. 16 blocks, the compile-time default budget
// for one MemTable generation.
const DefaultMaxSize = 64 * 1024

// Record is a single (key, value) pair as seen by an iterator over the
// MemTable, in ascending key order.
type Record struct {
	Key   []byte
	Value []byte
}

// Probe is the result of probing whether an insert would fit.
type Probe struct {
	Available bool
	// NewSize is only meaningful when Available is true: the accounted size
	// the MemTable would have after the insert.
	NewSize int
}

// MemTable is a sorted map keyed by byte-slice key, holding the current
// values plus a running accounted size.
type MemTable struct {
	maxSize int
	size    int
	keys    []string // kept sorted; binary search gives index into data
	data    map[string][]byte
}

// New returns an empty MemTable with the given byte budget.
func New(maxSize int) *MemTable {
	return &MemTable{
		maxSize: maxSize,
		size:    baseOverhead(maxSize),
		data:    make(map[string][]byte),
	}
}

// baseOverhead approximates per-block padding overhead: half the max key
// size (256 bytes) of slack for every 4096 bytes of budget.
func baseOverhead(maxSize int) int {
	return (maxSize / block.Size) * (block.MaxKeySize / 2)
}

func (m *MemTable) find(key string) (int, bool) {
	i := sort.SearchStrings(m.keys, key)
	return i, i < len(m.keys) && m.keys[i] == key
}

// Probe computes the new accounted size from inserting (key, value) and
// reports whether it fits within max_size, reserving room for one more
// maximum-sized entry so the next call is guaranteed to fit.
func (m *MemTable) Probe(key, value []byte) Probe {
	newEntry := block.EntrySize(key, value)

	projected := m.size + newEntry
	if _, exists := m.find(string(key)); exists {
		projected -= block.EntrySize(key, m.data[string(key)])
	}

	reserve := block.EntrySize(make([]byte, block.MaxKeySize), make([]byte, block.MaxValueSize))
	if projected+reserve > m.maxSize {
		return Probe{Available: false}
	}

	return Probe{Available: true, NewSize: projected}
}

// Insert writes (key, value) into the ordered map. If newSize is supplied
// (non-negative), it is trusted as the post-insert accounted size (as
// returned by a prior Probe); otherwise the current size is adjusted by this
// insert's entry size, less the replaced entry's size if the key existed.
func (m *MemTable) Insert(key, value []byte, newSize int) {
	k := string(key)
	i, exists := m.find(k)

	if newSize >= 0 {
		m.size = newSize
	} else if exists {
		m.size += block.EntrySize(key, value) - block.EntrySize(key, m.data[k])
	} else {
		m.size += block.EntrySize(key, value)
	}

	v := append([]byte(nil), value...)
	m.data[k] = v

	if !exists {
		m.keys = append(m.keys, "")
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = k
	}
}

// Get returns the current value for key, if present.
func (m *MemTable) Get(key []byte) ([]byte, bool) {
	v, ok := m.data[string(key)]
	return v, ok
}

// Len reports the number of distinct keys held.
func (m *MemTable) Len() int { return len(m.keys) }

// Size reports the current accounted byte size.
func (m *MemTable) Size() int { return m.size }

// MaxSize reports the configured byte budget.
func (m *MemTable) MaxSize() int { return m.maxSize }

// Iterator walks entries in ascending key order, the order an SST builder
// packs them into blocks.
func (m *MemTable) Iterator() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, k := range m.keys {
			if !yield(Record{Key: []byte(k), Value: m.data[k]}) {
				return
			}
		}
	}
}

// FromWAL seeds a fresh MemTable from a replay sequence of recovered
// records, in the order they were appended to the WAL. It panics if the
// replay would exceed max_size, since a WAL generation is never allowed to
// outgrow the MemTable it seeds.
func FromWAL(maxSize int, records []Record) *MemTable {
	m := New(maxSize)
	for _, r := range records {
		p := m.Probe(r.Key, r.Value)
		if !p.Available {
			panic(fmt.Sprintf("memtable: from_wal: replay of %d records exceeds max_size %d", len(records), maxSize))
		}
		m.Insert(r.Key, r.Value, p.NewSize)
	}
	return m
}

// Compare exposes lexicographic key ordering for callers outside this
// package (e.g. the SST table index scan).
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}
