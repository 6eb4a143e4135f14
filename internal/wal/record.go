package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// recordFixedOverhead is the framing bytes of one record: entry_len:u16,
// key_len:u16, value_len:u16 and the trailing crc32:u32.
const recordFixedOverhead = 2 + 2 + 2 + 4 // entry_len, key_len, value_len, crc32

// Record is a single WAL entry: a committed SET's key and value.
type Record struct {
	Key   []byte
	Value []byte
}

// encodedSize is entry_len:u16 ∥ key_len:u16 ∥ key ∥ value_len:u16 ∥ value ∥
// crc32:u32, where entry_len covers everything except itself and the crc.
func (r Record) encodedSize() int {
	return recordFixedOverhead + len(r.Key) + len(r.Value)
}

// encode appends r's wire representation to buf and returns the result.
// entry_len covers the bytes from key_len through value, i.e. encodedSize -
// 2 (entry_len itself) - 4 (trailing crc).
func (r Record) encode(buf []byte) []byte {
	entryLen := uint16(r.encodedSize() - 2 - 4)

	start := len(buf)
	buf = appendUint16(buf, entryLen)
	buf = appendUint16(buf, uint16(len(r.Key)))
	buf = append(buf, r.Key...)
	buf = appendUint16(buf, uint16(len(r.Value)))
	buf = append(buf, r.Value...)

	crc := crc32.ChecksumIEEE(buf[start:])
	buf = appendUint32(buf, crc)

	return buf
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// decodeRecord parses one record from the front of buf, returning the
// record, the number of bytes consumed, and an error. A leading entry_len
// of zero signals "no more records in this page" and is reported via
// ok=false with no error.
func decodeRecord(buf []byte) (rec Record, consumed int, ok bool, err error) {
	if len(buf) < 2 {
		return Record{}, 0, false, nil
	}

	entryLen := binary.BigEndian.Uint16(buf)
	if entryLen == 0 {
		return Record{}, 0, false, nil
	}

	total := 2 + int(entryLen) + 4
	if total > len(buf) {
		return Record{}, 0, false, fmt.Errorf("wal: record: truncated: need %d bytes, have %d", total, len(buf))
	}

	framed := buf[:2+int(entryLen)]
	wantCRC := binary.BigEndian.Uint32(buf[2+int(entryLen):])
	gotCRC := crc32.ChecksumIEEE(framed)
	if wantCRC != gotCRC {
		return Record{}, 0, false, fmt.Errorf("wal: record: crc mismatch: want %x got %x", wantCRC, gotCRC)
	}

	body := framed[2:]
	if len(body) < 2 {
		return Record{}, 0, false, fmt.Errorf("wal: record: truncated key length")
	}
	keyLen := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	if len(body) < keyLen+2 {
		return Record{}, 0, false, fmt.Errorf("wal: record: truncated key")
	}
	key := append([]byte(nil), body[:keyLen]...)
	body = body[keyLen:]

	valLen := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	if len(body) < valLen {
		return Record{}, 0, false, fmt.Errorf("wal: record: truncated value")
	}
	value := append([]byte(nil), body[:valLen]...)

	return Record{Key: key, Value: value}, total, true, nil
}
