// Package cache implements the frequency×generation scored lookup cache
// sitting in front of SST reads. Hot keys backed by SSTs deep in the index
// (expensive to re-fetch) are preferred for retention over keys backed by
// shallow SSTs, via a weighted least-frequently-used (WLFU) eviction
// policy.
package cache

import "github.com/bureau/lsmkv/internal/memtable"

// Value is a cached (value, frequency, generation) triple. score =
// frequency * generation: higher means "worth keeping", since the value is
// both in demand and expensive to re-fetch.
type Value struct {
	Data       []byte
	Frequency  uint32
	Generation int
}

func (v Value) score() uint64 {
	return uint64(v.Frequency) * uint64(v.Generation)
}

// Result is the outcome of a Check call.
type Result int

const (
	// Miss: the key is neither cached nor a promising insert candidate.
	Miss Result = iota
	// Candidate: the key is not cached, but its estimated frequency clears
	// the admission threshold; the caller should read through to disk and
	// offer the result to TryInsert.
	Candidate
	// Found: the key is cached; Value holds the hit.
	Found
)

// Cache is a bounded, score-ordered lookup cache keyed by byte-slice key.
type Cache struct {
	capacity int
	sketch   *sketch
	entries  map[string]*Value

	// wlfu tracks a single eviction candidate, updated opportunistically on
	// every Found, per the spec's heuristic (accuracy not required).
	wlfuKey   string
	wlfuValid bool
}

// New returns an empty cache bounded to capacity entries.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		sketch:   newSketch(),
		entries:  make(map[string]*Value),
	}
}

// Check increments key's estimated frequency and reports Found if the key
// is currently cached (updating its stored frequency), Candidate if it
// isn't cached but its frequency clears the admission threshold, or Miss
// otherwise.
func (c *Cache) Check(key []byte) (Result, Value, uint32) {
	freq := c.sketch.increment(key)

	if v, ok := c.entries[string(key)]; ok {
		v.Frequency = freq
		c.updateWLFUCandidate(string(key), *v)
		return Found, *v, freq
	}

	threshold := minInt(100, len(c.entries))
	if int(freq) >= threshold {
		return Candidate, Value{}, freq
	}
	return Miss, Value{}, freq
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// updateWLFUCandidate opportunistically records key as the eviction
// candidate if it now has the lowest score of any tracked candidate.
func (c *Cache) updateWLFUCandidate(key string, v Value) {
	if !c.wlfuValid {
		c.wlfuKey = key
		c.wlfuValid = true
		return
	}
	if cur, ok := c.entries[c.wlfuKey]; !ok || v.score() < cur.score() {
		c.wlfuKey = key
	}
}

// TryInsert admits (key, value) into the cache. If the cache has spare
// capacity, it is inserted directly. If full, the tracked WLFU candidate is
// evicted if one is known; failing that, the cache is scanned for any
// entry scoring lower than the candidate and that entry is evicted;
// failing that, the insert is refused.
func (c *Cache) TryInsert(key []byte, value Value) bool {
	k := string(key)

	if len(c.entries) < c.capacity {
		c.insert(k, value)
		return true
	}

	if c.wlfuValid {
		if _, ok := c.entries[c.wlfuKey]; ok && c.wlfuKey != k {
			delete(c.entries, c.wlfuKey)
			c.wlfuValid = false
			c.insert(k, value)
			return true
		}
		c.wlfuValid = false
	}

	var weakestKey string
	var weakestScore uint64
	found := false
	for ek, ev := range c.entries {
		if !found || ev.score() < weakestScore {
			weakestKey = ek
			weakestScore = ev.score()
			found = true
		}
	}

	if found && weakestScore < value.score() {
		delete(c.entries, weakestKey)
		c.insert(k, value)
		return true
	}

	return false
}

func (c *Cache) insert(key string, value Value) {
	v := value
	c.entries[key] = &v
}

// Refresh is called whenever a new SST joins the index: every cached
// entry's generation advances by one (it is now one SST deeper), and any
// key also present in the just-flushed MemTable has its cached data
// replaced with the fresher value and its generation reset to 1 (it is now
// backed by the newest SST).
func (c *Cache) Refresh(flushed *memtable.MemTable) {
	for _, v := range c.entries {
		v.Generation++
	}
	for r := range flushed.Iterator() {
		if v, ok := c.entries[string(r.Key)]; ok {
			v.Data = append([]byte(nil), r.Value...)
			v.Generation = 1
		}
	}
}

// RefreshValue replaces the cached data for key if present, resetting its
// generation to 1 (freshest).
func (c *Cache) RefreshValue(key, value []byte) {
	if v, ok := c.entries[string(key)]; ok {
		v.Data = append([]byte(nil), value...)
		v.Generation = 1
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int { return len(c.entries) }
