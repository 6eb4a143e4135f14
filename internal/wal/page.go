package wal

import "fmt"

// PageSize is the fixed on-disk size of one WAL page.
const PageSize = 4096

// page accumulates whole records into a 4096-byte buffer in insertion
// order, refusing to add a record that would not fit.
type page struct {
	buf []byte
}

func newPage() *page {
	return &page{buf: make([]byte, 0, PageSize)}
}

// add appends rec's encoding if it fits in the remaining page space.
func (p *page) add(rec Record) bool {
	if len(p.buf)+rec.encodedSize() > PageSize {
		return false
	}
	p.buf = rec.encode(p.buf)
	return true
}

// empty reports whether the page holds no records.
func (p *page) empty() bool { return len(p.buf) == 0 }

// encode zero-pads the buffered page to exactly PageSize bytes.
func (p *page) encode() [PageSize]byte {
	var out [PageSize]byte
	copy(out[:], p.buf)
	return out
}

// parsePage iterates records in a page until entry_len==0 or the page ends,
// verifying each record's CRC32. A malformed page is a fatal recovery
// error.
func parsePage(buf []byte) ([]Record, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("wal: page: expected %d bytes, got %d", PageSize, len(buf))
	}

	var records []Record
	offset := 0
	for offset < len(buf) {
		rec, consumed, ok, err := decodeRecord(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("wal: page: malformed record at offset %d: %w", offset, err)
		}
		if !ok {
			break
		}
		records = append(records, rec)
		offset += consumed
	}

	return records, nil
}
