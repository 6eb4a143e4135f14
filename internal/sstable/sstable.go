// Package sstable implements the immutable, sorted on-disk representation
// of a flushed MemTable: a Bloom filter, a table index, and a sequence of
// fixed-size blocks, laid out as [Bloom ∥ TableIndex ∥ Block1 … BlockN].
package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/bureau/lsmkv/internal/block"
	"github.com/bureau/lsmkv/internal/bloom"
	"github.com/bureau/lsmkv/internal/memtable"
)

const indexCRCSize = 4

type indexEntry struct {
	firstKey    []byte
	lastKey     []byte
	blockOffset uint32
}

// Table is a fully built, encodable SST.
type Table struct {
	bloom  *bloom.Filter
	index  []indexEntry
	blocks [][block.Size]byte
}

// Build packs a MemTable's entries (visited in ascending key order) into
// fixed-size blocks, populating the Bloom filter and table index as it
// goes.
func Build(m *memtable.MemTable) *Table {
	t := &Table{bloom: bloom.New()}

	cur := block.New()
	blockStart := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		t.index = append(t.index, indexEntry{
			firstKey:    append([]byte(nil), cur.FirstKey()...),
			lastKey:     append([]byte(nil), cur.LastKey()...),
			blockOffset: uint32(blockStart),
		})
		t.blocks = append(t.blocks, cur.Encode())
		blockStart += block.Size
	}

	for r := range m.Iterator() {
		if !cur.Add(r.Key, r.Value) {
			flush()
			cur = block.New()
			cur.Add(r.Key, r.Value)
		}
		t.bloom.Set(r.Key)
	}
	flush()

	return t
}

// Encode concatenates the Bloom filter, table index, and blocks into the
// final on-disk byte stream.
func (t *Table) Encode() ([]byte, error) {
	bloomBytes, err := t.bloom.Encode()
	if err != nil {
		return nil, fmt.Errorf("sstable: encode bloom: %w", err)
	}

	indexBytes, err := encodeIndex(t.index)
	if err != nil {
		return nil, fmt.Errorf("sstable: encode index: %w", err)
	}

	out := make([]byte, 0, len(bloomBytes)+len(indexBytes)+len(t.blocks)*block.Size)
	out = append(out, bloomBytes...)
	out = append(out, indexBytes...)
	for _, b := range t.blocks {
		out = append(out, b[:]...)
	}
	return out, nil
}

// encodeIndex writes total_index_len:u16 ∥ entry_count:u16 ∥ entries ∥
// crc32:u32, where each entry is first_key_len:u16 ∥ first_key ∥
// last_key_len:u16 ∥ last_key ∥ block_offset:u32.
func encodeIndex(entries []indexEntry) ([]byte, error) {
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&body, binary.BigEndian, uint16(len(e.firstKey)))
		body.Write(e.firstKey)
		binary.Write(&body, binary.BigEndian, uint16(len(e.lastKey)))
		body.Write(e.lastKey)
		binary.Write(&body, binary.BigEndian, e.blockOffset)
	}

	totalLen := 2 + body.Len() + indexCRCSize
	if totalLen > 0xFFFF {
		return nil, fmt.Errorf("sstable: index too large: %d bytes", totalLen)
	}

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint16(totalLen))
	out.Write(body.Bytes())

	crc := crc32.ChecksumIEEE(out.Bytes())
	binary.Write(&out, binary.BigEndian, crc)

	return out.Bytes(), nil
}

func decodeIndex(buf []byte) ([]indexEntry, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("sstable: index: truncated length header")
	}
	totalLen := int(binary.BigEndian.Uint16(buf))
	if totalLen > len(buf) {
		return nil, 0, fmt.Errorf("sstable: index: declared length %d exceeds available %d", totalLen, len(buf))
	}
	if totalLen < 2+2+indexCRCSize {
		return nil, 0, fmt.Errorf("sstable: index: declared length %d too small", totalLen)
	}

	region := buf[:totalLen]
	payload := region[2 : totalLen-indexCRCSize]
	wantCRC := binary.BigEndian.Uint32(region[totalLen-indexCRCSize:])
	gotCRC := crc32.ChecksumIEEE(region[:totalLen-indexCRCSize])
	if wantCRC != gotCRC {
		return nil, 0, fmt.Errorf("sstable: index: crc mismatch")
	}

	if len(payload) < 2 {
		return nil, 0, fmt.Errorf("sstable: index: truncated entry count")
	}
	count := int(binary.BigEndian.Uint16(payload))
	payload = payload[2:]

	entries := make([]indexEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(payload) < 2 {
			return nil, 0, fmt.Errorf("sstable: index: entry %d truncated", i)
		}
		fkLen := int(binary.BigEndian.Uint16(payload))
		payload = payload[2:]
		if len(payload) < fkLen+2 {
			return nil, 0, fmt.Errorf("sstable: index: entry %d first key truncated", i)
		}
		firstKey := payload[:fkLen]
		payload = payload[fkLen:]

		lkLen := int(binary.BigEndian.Uint16(payload))
		payload = payload[2:]
		if len(payload) < lkLen+4 {
			return nil, 0, fmt.Errorf("sstable: index: entry %d last key truncated", i)
		}
		lastKey := payload[:lkLen]
		payload = payload[lkLen:]

		blockOffset := binary.BigEndian.Uint32(payload)
		payload = payload[4:]

		entries = append(entries, indexEntry{
			firstKey:    append([]byte(nil), firstKey...),
			lastKey:     append([]byte(nil), lastKey...),
			blockOffset: blockOffset,
		})
	}

	return entries, totalLen, nil
}

// Reader is a borrow-only handle over a read-only SST blob, implementing
// the lookup algorithm against a storage.Entry supplied by the Storage
// abstraction.
type Reader interface {
	ReadAt(buf []byte, offset int64) (int, error)
	ReadAll(buf []byte) (int, error)
}

// Lookup performs a point lookup against an encoded SST blob:
//  1. Read [0 .. BLOOM_SIZE+2): decode Bloom, read index length.
//  2. If Bloom says "not present", return not found.
//  3. Read and decode the index; scan for the entry whose range covers key.
//  4. Read the 4096-byte block at BLOOM_SIZE+INDEX_LEN+block_offset; decode
//     it; return block.Get(key).
//
// Any CRC mismatch, malformed length prefix, or short read is a fatal error
// for this lookup; the caller surfaces it to the client and does not retry.
func Lookup(r Reader, key []byte) ([]byte, bool, error) {
	head := make([]byte, bloom.Size+2)
	if n, err := r.ReadAt(head, 0); err != nil || n != len(head) {
		return nil, false, fmt.Errorf("sstable: lookup: read header: %w", err)
	}

	bloomFilter, err := bloom.Decode(head[:bloom.Size])
	if err != nil {
		return nil, false, fmt.Errorf("sstable: lookup: %w", err)
	}

	if !bloomFilter.Check(key) {
		return nil, false, nil
	}

	indexLen := int(binary.BigEndian.Uint16(head[bloom.Size:]))
	indexBuf := make([]byte, indexLen)
	if n, err := r.ReadAt(indexBuf, int64(bloom.Size)); err != nil || n != indexLen {
		return nil, false, fmt.Errorf("sstable: lookup: read index: %w", err)
	}

	entries, _, err := decodeIndex(indexBuf)
	if err != nil {
		return nil, false, fmt.Errorf("sstable: lookup: %w", err)
	}

	i := sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].lastKey, key) >= 0
	})
	if i >= len(entries) || bytes.Compare(entries[i].firstKey, key) > 0 {
		return nil, false, nil
	}

	blocksStart := int64(bloom.Size + indexLen)
	buf := make([]byte, block.Size)
	readOffset := blocksStart + int64(entries[i].blockOffset)
	if n, err := r.ReadAt(buf, readOffset); err != nil || n != block.Size {
		return nil, false, fmt.Errorf("sstable: lookup: read block: %w", err)
	}

	b, err := block.Decode(buf)
	if err != nil {
		return nil, false, fmt.Errorf("sstable: lookup: %w", err)
	}

	v, ok := b.Get(key)
	return v, ok, nil
}

// Entries returns every (key, value) pair in the table, in ascending key
// order, by decoding all its blocks. Used by compaction, which needs to
// rebuild a MemTable-shaped view of an existing SST.
func Entries(blob []byte) ([]memtable.Record, error) {
	if len(blob) < bloom.Size+2 {
		return nil, fmt.Errorf("sstable: entries: blob too small")
	}
	indexLen := int(binary.BigEndian.Uint16(blob[bloom.Size:]))
	if bloom.Size+indexLen > len(blob) {
		return nil, fmt.Errorf("sstable: entries: index out of range")
	}
	entries, _, err := decodeIndex(blob[bloom.Size : bloom.Size+indexLen])
	if err != nil {
		return nil, fmt.Errorf("sstable: entries: %w", err)
	}

	blocksStart := bloom.Size + indexLen
	var out []memtable.Record
	for i := range entries {
		start := blocksStart + int(entries[i].blockOffset)
		if start+block.Size > len(blob) {
			return nil, fmt.Errorf("sstable: entries: block %d out of range", i)
		}
		b, err := block.Decode(blob[start : start+block.Size])
		if err != nil {
			return nil, fmt.Errorf("sstable: entries: block %d: %w", i, err)
		}
		for _, r := range b.Records() {
			out = append(out, memtable.Record{Key: r.Key, Value: r.Value})
		}
	}
	return out, nil
}
