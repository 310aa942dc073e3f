package columnstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
)

// snapshotMagic identifies a full-store binary snapshot, written once as a
// header before any shard blocks and verified on load.
const snapshotMagic = "HDB1"

const (
	opShardData byte = 0xFE
	opEOF       byte = 0xFF
)

// SaveSnapshot serializes every column's sketch to w in a single pass,
// shard by shard. Each shard is copied into a scratch buffer under a brief
// read lock and then written without holding it, so a slow disk never stalls
// writers on the other 255 shards.
func (s *Store) SaveSnapshot(w io.Writer) error {
	table := crc64.MakeTable(crc64.ISO)
	checksum := crc64.New(table)
	mw := io.MultiWriter(w, checksum)
	bw := bufio.NewWriter(mw)

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}

	shardBuf := new(bytes.Buffer)
	lenBuf := make([]byte, 4)

	for i := 0; i < shardCount; i++ {
		sh := s.shards[i]

		sh.mu.RLock()
		count := len(sh.sketches)
		if count == 0 {
			sh.mu.RUnlock()
			continue
		}

		type entry struct {
			key   ColumnKey
			bytes []byte
		}
		entries := make([]entry, 0, count)
		for k, sk := range sh.sketches {
			entries = append(entries, entry{key: k, bytes: sk.Serialize()})
		}
		sh.mu.RUnlock()

		shardBuf.Reset()
		shardBuf.WriteByte(opShardData)
		shardBuf.WriteByte(byte(i))
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(entries)))
		shardBuf.Write(lenBuf)

		for _, e := range entries {
			writeString(shardBuf, lenBuf, e.key.Table)
			writeString(shardBuf, lenBuf, e.key.Column)
			binary.LittleEndian.PutUint32(lenBuf, uint32(len(e.bytes)))
			shardBuf.Write(lenBuf)
			shardBuf.Write(e.bytes)
		}

		if _, err := shardBuf.WriteTo(bw); err != nil {
			return err
		}
	}

	if err := bw.WriteByte(opEOF); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, checksum.Sum64())
}

func writeString(buf *bytes.Buffer, lenBuf []byte, s string) {
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(s)))
	buf.Write(lenBuf)
	buf.WriteString(s)
}

// LoadSnapshot replaces the store's contents with the data read from r. Every
// entry is decoded into a scratch store, which routes each key to its shard
// by rehashing it; the shard ID embedded in each block is read but not used.
// Any checksum, structural or decode error aborts before any shard is touched.
func (s *Store) LoadSnapshot(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("columnstore: reading snapshot: %w", err)
	}
	if len(data) < len(snapshotMagic)+8 {
		return errors.New("columnstore: snapshot too small")
	}

	body := data[:len(data)-8]
	wantChecksum := binary.LittleEndian.Uint64(data[len(data)-8:])

	table := crc64.MakeTable(crc64.ISO)
	if crc64.Checksum(body, table) != wantChecksum {
		return errors.New("columnstore: snapshot checksum mismatch")
	}

	if string(body[:len(snapshotMagic)]) != snapshotMagic {
		return errors.New("columnstore: invalid snapshot header")
	}

	br := bufio.NewReader(bytes.NewReader(body[len(snapshotMagic):]))

	type entry struct {
		shard int
		key   ColumnKey
		bytes []byte
	}
	var entries []entry

	lenBuf := make([]byte, 4)
	for {
		op, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("columnstore: truncated snapshot: %w", err)
		}
		if op == opEOF {
			break
		}
		if op != opShardData {
			return fmt.Errorf("columnstore: unexpected opcode %#x in snapshot", op)
		}

		shardID, err := br.ReadByte()
		if err != nil {
			return err
		}
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			return err
		}
		count := binary.LittleEndian.Uint32(lenBuf)

		for i := uint32(0); i < count; i++ {
			tbl, err := readString(br, lenBuf)
			if err != nil {
				return err
			}
			col, err := readString(br, lenBuf)
			if err != nil {
				return err
			}
			if _, err := io.ReadFull(br, lenBuf); err != nil {
				return err
			}
			n := binary.LittleEndian.Uint32(lenBuf)
			payload := make([]byte, n)
			if _, err := io.ReadFull(br, payload); err != nil {
				return err
			}

			entries = append(entries, entry{
				shard: int(shardID),
				key:   ColumnKey{Table: tbl, Column: col},
				bytes: payload,
			})
		}
	}

	// Everything parsed cleanly; decode every sketch before mutating the
	// store so a single malformed sketch payload doesn't leave a partial load.
	decoded := make(map[ColumnKey][]byte, len(entries))
	for _, e := range entries {
		decoded[e.key] = e.bytes
	}
	fresh := New(s.log)
	for k, payload := range decoded {
		if err := fresh.LoadBytes(k, payload); err != nil {
			return fmt.Errorf("columnstore: decoding column %s: %w", k, err)
		}
	}

	for i := range s.shards {
		s.shards[i].mu.Lock()
	}
	for i := range s.shards {
		s.shards[i].sketches = fresh.shards[i].sketches
	}
	for i := range s.shards {
		s.shards[i].mu.Unlock()
	}

	return nil
}

func readString(r *bufio.Reader, lenBuf []byte) (string, error) {
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
