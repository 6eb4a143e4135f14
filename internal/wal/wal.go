// Package wal implements the write-ahead log: page-oriented append with a
// 4 KiB buffered page, generation rotation, and crash recovery into a
// replay list of Records for MemTable seeding. Grounded on the teacher
// repo's root-level wal.go/wal_writer.go (Log.Encode/Decode CRC framing,
// WALWriter's channel-owned single-writer loop).
package wal

import "fmt"

// WAL buffers records into 4 KiB pages and hands full pages to a
// WalStorage for durable, synced append.
type WAL struct {
	storage WalStorage
	buf     *page
}

// Init opens (or creates) the WAL via storage, replays any persisted pages
// into a flat Record list (oldest first) for MemTable seeding, and returns
// a WAL ready to accept new appends. PersistedData only ever contains the
// active generation plus whatever sealed generations are still pending a
// drop (see WalStorage), so this already implements the recovery policy of
// reading the newest generation plus any retained generation not yet known
// durable — it never accumulates unrelated history because a dropped
// generation's file is gone by the time this runs.
func Init(storage WalStorage) (*WAL, []Record, error) {
	persisted, err := storage.PersistedData()
	if err != nil {
		return nil, nil, fmt.Errorf("wal: init: %w", err)
	}

	var records []Record
	for offset := 0; offset+PageSize <= len(persisted); offset += PageSize {
		pageRecords, err := parsePage(persisted[offset : offset+PageSize])
		if err != nil {
			return nil, nil, fmt.Errorf("wal: init: recovery: %w", err)
		}
		records = append(records, pageRecords...)
	}

	return &WAL{storage: storage, buf: newPage()}, records, nil
}

// Append encodes (key, value) as a record. If it does not fit in the
// currently buffered page, the buffer is zero-padded to 4096 bytes and
// handed to storage (which syncs it) before a new page buffer is started
// and the record retried. Append returns only once any page it flushed as
// part of this call is durably persisted; a record that merely extends the
// buffer defers durability to the next flush or rotate.
func (w *WAL) Append(key, value []byte) error {
	rec := Record{Key: key, Value: value}

	if !w.buf.add(rec) {
		if err := w.flushBuffer(); err != nil {
			return fmt.Errorf("wal: append: %w", err)
		}
		w.buf = newPage()
		if !w.buf.add(rec) {
			return fmt.Errorf("wal: append: record of %d bytes does not fit in an empty page", rec.encodedSize())
		}
	}

	return nil
}

// flushBuffer pads and hands the buffered page to storage, regardless of
// whether it is empty (Flush/Rotate may be called with nothing buffered).
func (w *WAL) flushBuffer() error {
	encoded := w.buf.encode()
	if err := w.storage.Append(encoded[:]); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Flush pads and flushes the currently buffered page, if it holds any
// records.
func (w *WAL) Flush() error {
	if w.buf.empty() {
		return nil
	}
	if err := w.flushBuffer(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	w.buf = newPage()
	return nil
}

// Rotate flushes the buffered page, asks storage to start a new
// generation, and starts a fresh page buffer, returning the id of the
// generation it just sealed. That generation is kept on disk until the
// caller calls DropGeneration(id) once it has confirmed the corresponding
// SST is durable (the safer recovery rule). Rotate may be called again
// before a prior sealed generation is dropped — several can be pending at
// once when multiple MemTable flushes are in flight concurrently — so the
// caller must remember the id it gets back and name it explicitly later.
func (w *WAL) Rotate() (int, error) {
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("wal: rotate: %w", err)
	}
	sealed, err := w.storage.Rotate()
	if err != nil {
		return 0, fmt.Errorf("wal: rotate: %w", err)
	}
	return sealed, nil
}

// DropGeneration deletes the WAL generation named by id, once the caller
// has confirmed durability of the SST flush that superseded it. It is a
// no-op if id is not pending (already dropped, or never sealed).
func (w *WAL) DropGeneration(id int) error {
	if err := w.storage.DropGeneration(id); err != nil {
		return fmt.Errorf("wal: drop generation %d: %w", id, err)
	}
	return nil
}

// Close flushes any buffered page and closes the underlying storage.
func (w *WAL) Close() error {
	if err := w.Flush(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	if err := w.storage.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	return nil
}
