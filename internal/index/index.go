// Package index maintains the ordered, newest-first list of SST ids backing
// a Dispatcher's view of the on-disk key space.
package index

import "sort"

// Index is a mutable sequence of SST ids sorted newest-first. SST ids are
// UUIDv7 strings, which sort lexicographically in creation order, so
// "newest" is simply the lexicographically greatest id.
type Index struct {
	ids []string
}

// New builds an Index from an unordered set of ids, sorting them
// descending (newest first).
func New(ids []string) *Index {
	cp := append([]string(nil), ids...)
	sort.Sort(sort.Reverse(sort.StringSlice(cp)))
	return &Index{ids: cp}
}

// Prepend inserts a freshly created id at the front; callers must only
// prepend ids newer than every existing entry (true for UUIDv7 creation
// order), so the list stays sorted without a full re-sort.
func (x *Index) Prepend(id string) {
	x.ids = append([]string{id}, x.ids...)
}

// Delete removes id if present; it is a no-op otherwise.
func (x *Index) Delete(id string) {
	for i, existing := range x.ids {
		if existing == id {
			x.ids = append(x.ids[:i], x.ids[i+1:]...)
			return
		}
	}
}

// Replace swaps an existing id for a freshly written one in the same
// position, so a compaction rewrite doesn't disturb the newest-first order
// (and therefore the cache generation) of any other SST. No-op if oldID is
// absent.
func (x *Index) Replace(oldID, newID string) {
	for i, existing := range x.ids {
		if existing == oldID {
			x.ids[i] = newID
			return
		}
	}
}

// Ids returns the current newest-first id list. The caller must not mutate
// the returned slice.
func (x *Index) Ids() []string { return x.ids }

// Len reports the number of tracked SSTs.
func (x *Index) Len() int { return len(x.ids) }

// Position returns the 0-based position of id in newest-first order, or -1
// if absent. Position 0 means newest (generation 1 for the cache).
func (x *Index) Position(id string) int {
	for i, existing := range x.ids {
		if existing == id {
			return i
		}
	}
	return -1
}

// Oldest returns the ids in ascending (oldest-first) order, the traversal
// order the compactor needs.
func (x *Index) Oldest() []string {
	cp := append([]string(nil), x.ids...)
	sort.Strings(cp)
	return cp
}
