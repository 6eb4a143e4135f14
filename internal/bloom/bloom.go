// Package bloom wraps github.com/bits-and-blooms/bloom/v3 with the
// fixed-size, CRC32-trailered on-disk framing an SST requires: every encoded
// filter has the same length, so the first read of an SST (which reads
// exactly [0:Size]) is predictable regardless of how many keys were
// actually inserted. Size is not a compile-time constant: it is computed
// once at package init from the library's encoding of a reference filter,
// so it follows whatever that encoding produces.
package bloom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	bloomlib "github.com/bits-and-blooms/bloom/v3"
)

const (
	// capacity and falsePositiveRate size the filter for ~6400 keys per SST
	// at a 1% false-positive rate, matching one MemTable flush.
	capacity         = 6400
	falsePositiveRate = 0.01

	crcSize = 4
)

// Size is the fixed on-disk size of an encoded filter: the two header
// uint32s (k, m-bits) the library's WriteTo emits, the bit array itself, and
// the CRC32 trailer. Computed once from a reference filter so it stays in
// sync with whatever bloomlib.NewWithEstimates actually allocates.
var Size int

func init() {
	ref := bloomlib.NewWithEstimates(capacity, falsePositiveRate)
	var buf bytes.Buffer
	if _, err := ref.WriteTo(&buf); err != nil {
		panic(fmt.Sprintf("bloom: failed to size reference filter: %v", err))
	}
	Size = buf.Len() + crcSize
}

// Filter answers "definitely not present" in O(1) before an SST's table
// index is consulted.
type Filter struct {
	f *bloomlib.BloomFilter
}

// New returns an empty filter sized for one SST's worth of keys.
func New() *Filter {
	return &Filter{f: bloomlib.NewWithEstimates(capacity, falsePositiveRate)}
}

// Set records key as present.
func (f *Filter) Set(key []byte) {
	f.f.Add(key)
}

// Check returns false only when key is definitely absent; true may be a
// false positive at the configured rate.
func (f *Filter) Check(key []byte) bool {
	return f.f.Test(key)
}

// Encode serializes the filter to exactly Size bytes, zero-padded if the
// library's own encoding is shorter than the fixed reference size.
func (f *Filter) Encode() ([]byte, error) {
	var body bytes.Buffer
	if _, err := f.f.WriteTo(&body); err != nil {
		return nil, fmt.Errorf("bloom: encode: %w", err)
	}

	out := make([]byte, Size)
	if body.Len()+crcSize > Size {
		return nil, fmt.Errorf("bloom: encode: body %d bytes exceeds fixed size %d", body.Len(), Size-crcSize)
	}
	copy(out, body.Bytes())

	crc := crc32.ChecksumIEEE(out[:Size-crcSize])
	binary.BigEndian.PutUint32(out[Size-crcSize:], crc)

	return out, nil
}

// Decode parses a filter previously produced by Encode, verifying the CRC32
// trailer.
func Decode(buf []byte) (*Filter, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("bloom: decode: expected %d bytes, got %d", Size, len(buf))
	}

	wantCRC := binary.BigEndian.Uint32(buf[Size-crcSize:])
	gotCRC := crc32.ChecksumIEEE(buf[:Size-crcSize])
	if wantCRC != gotCRC {
		return nil, fmt.Errorf("bloom: decode: crc mismatch: want %x got %x", wantCRC, gotCRC)
	}

	f := &bloomlib.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(buf[:Size-crcSize])); err != nil {
		return nil, fmt.Errorf("bloom: decode: %w", err)
	}

	return &Filter{f: f}, nil
}
