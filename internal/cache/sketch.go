package cache

import "hash/maphash"

const (
	sketchRows = 4
	sketchCols = 4096
)

// sketch is a count-min sketch used to estimate per-key demand without
// paying for an exact counter per key. Four rows, each hashed with a
// different seed, give a cheap probabilistic upper bound on frequency
// (hash collisions can only inflate a counter).
type sketch struct {
	rows [sketchRows][sketchCols]uint32
	seed [sketchRows]maphash.Seed
}

func newSketch() *sketch {
	s := &sketch{}
	for i := range s.seed {
		s.seed[i] = maphash.MakeSeed()
	}
	return s
}

func (s *sketch) columns(key []byte) [sketchRows]uint32 {
	var cols [sketchRows]uint32
	for i := range s.seed {
		var h maphash.Hash
		h.SetSeed(s.seed[i])
		h.Write(key)
		cols[i] = uint32(h.Sum64() % sketchCols)
	}
	return cols
}

// increment bumps every row's counter for key and returns the new minimum
// across rows, the count-min estimate of key's frequency.
func (s *sketch) increment(key []byte) uint32 {
	cols := s.columns(key)
	min := ^uint32(0)
	for i, c := range cols {
		s.rows[i][c]++
		if s.rows[i][c] < min {
			min = s.rows[i][c]
		}
	}
	return min
}

// estimate returns the current minimum across rows without incrementing.
func (s *sketch) estimate(key []byte) uint32 {
	cols := s.columns(key)
	min := ^uint32(0)
	for i, c := range cols {
		if s.rows[i][c] < min {
			min = s.rows[i][c]
		}
	}
	return min
}
