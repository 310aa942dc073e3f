package columnstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"hlldb.dev/hlldb/internal/hll"
)

// AOF is an append-only log of column mutations, replayed on startup to
// rebuild the store between snapshots: a buffered writer over a single
// file, guarded by one mutex since appends are inherently sequential.
type AOF struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer

	syncEach bool
}

const (
	aofOpUpdate byte = 0x01
	aofOpMerge  byte = 0x02
)

// NewAOF opens (creating if necessary) the log file at path for appending.
func NewAOF(path string, syncEach bool) (*AOF, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("aof: opening %s: %w", path, err)
	}
	return &AOF{
		file:     f,
		writer:   bufio.NewWriter(f),
		syncEach: syncEach,
	}, nil
}

// AppendUpdate records a single-hash Update call.
//
// Record layout: op(1) | table_len(2) | table | column_len(2) | column | hash(8)
func (a *AOF) AppendUpdate(key ColumnKey, h uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writeHeader(aofOpUpdate, key); err != nil {
		return err
	}
	if err := binary.Write(a.writer, binary.BigEndian, h); err != nil {
		return err
	}
	return a.maybeSync()
}

// AppendMerge records a Merge call, storing the full serialized sketch that
// was merged in.
//
// Record layout: op(1) | table_len(2) | table | column_len(2) | column | payload_len(4) | payload
func (a *AOF) AppendMerge(key ColumnKey, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writeHeader(aofOpMerge, key); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := a.writer.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := a.writer.Write(payload); err != nil {
		return err
	}
	return a.maybeSync()
}

func (a *AOF) writeHeader(op byte, key ColumnKey) error {
	if err := a.writer.WriteByte(op); err != nil {
		return err
	}
	if err := writeLenPrefixed(a.writer, key.Table); err != nil {
		return err
	}
	return writeLenPrefixed(a.writer, key.Column)
}

func writeLenPrefixed(w *bufio.Writer, s string) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func (a *AOF) maybeSync() error {
	if err := a.writer.Flush(); err != nil {
		return err
	}
	if a.syncEach {
		return a.file.Sync()
	}
	return nil
}

// Fsync flushes the buffered writer and forces the file to disk. Call it
// periodically when syncEach is false, trading a bounded window of durability
// loss for throughput.
func (a *AOF) Fsync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writer.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close flushes and closes the underlying file.
func (a *AOF) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writer.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}

// Replay reads every record from the beginning of the log and applies it to
// store. It is meant to run once at startup, before the store serves traffic.
func Replay(path string, store *Store) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("aof: opening %s for replay: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		op, err := r.ReadByte()
		if err != nil {
			break // EOF, or a truncated final record from a crash mid-write
		}

		table, err := readLenPrefixed(r)
		if err != nil {
			break
		}
		column, err := readLenPrefixed(r)
		if err != nil {
			break
		}
		key := ColumnKey{Table: table, Column: column}

		switch op {
		case aofOpUpdate:
			var h uint64
			if err := binary.Read(r, binary.BigEndian, &h); err != nil {
				return nil
			}
			store.Update(key, h)

		case aofOpMerge:
			var lenBuf [4]byte
			if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
				return nil
			}
			n := binary.BigEndian.Uint32(lenBuf[:])
			payload := make([]byte, n)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil
			}
			src, err := hll.Decode(payload)
			if err != nil {
				return fmt.Errorf("aof: replaying merge for %s: %w", key, err)
			}
			store.Merge(key, src)

		default:
			return fmt.Errorf("aof: unknown opcode %#x at replay", op)
		}
	}

	return nil
}

func readLenPrefixed(r *bufio.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
