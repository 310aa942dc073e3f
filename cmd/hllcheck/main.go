// hllcheck is a diagnostic tool for inspecting column-store snapshot files.
// It performs a streaming verification of the shard blocks and the CRC64
// checksum, and validates and decodes each column's sketch to classify it by
// encoding kind.
//
// Usage
// =====
//
//	hllcheck -file snapshot.hdb
//	hllcheck -file snapshot.hdb -v
//
// Exit Codes
// ==========
//
// 0: The file is valid.
// 1: The file is corrupted, truncated, or unreadable.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"time"

	"hlldb.dev/hlldb/internal/hll"
)

const (
	snapshotMagic = "HDB1"
	opShardData   = 0xFE
	opEOF         = 0xFF
)

// countReader tracks the cumulative number of bytes read from the file, used
// as the offset in reports. It sits beneath a bufio.Reader, so the offset is
// how far the buffered reader has read, which can run ahead of the record
// being parsed.
type countReader struct {
	r     io.Reader
	count int64
}

func (cr *countReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

func (cr *countReader) ReadByte() (byte, error) {
	var buf [1]byte
	n, err := cr.r.Read(buf[:])
	cr.count += int64(n)
	return buf[0], err
}

func main() {
	filePath := flag.String("file", "hlldb.snapshot", "path to a column store snapshot file")
	verbose := flag.Bool("v", false, "verbose mode (print every column)")
	flag.Parse()

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] cannot open file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	fmt.Printf("[offset 0] checking snapshot %s\n", *filePath)

	crcTable := crc64.MakeTable(crc64.ISO)
	hasher := crc64.New(crcTable)
	counter := &countReader{r: f}
	reader := bufio.NewReader(counter)

	header := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(reader, header); err != nil {
		die(counter.count, "failed to read header", err)
	}
	if string(header) != snapshotMagic {
		die(counter.count, fmt.Sprintf("invalid magic header: expected %q, got %q", snapshotMagic, header), nil)
	}
	hasher.Write(header)

	lenBuf := make([]byte, 4)
	totalColumns := 0
	kindCounts := make(map[hll.Kind]int)
	start := time.Now()

	for {
		opcode, err := reader.ReadByte()
		if err != nil {
			die(counter.count, "failed reading opcode", err)
		}
		hasher.Write([]byte{opcode})

		if opcode == opEOF {
			break
		}
		if opcode != opShardData {
			die(counter.count, fmt.Sprintf("unexpected opcode: %#x", opcode), nil)
		}

		shardIDByte, err := reader.ReadByte()
		if err != nil {
			die(counter.count, "failed reading shard id", err)
		}
		hasher.Write([]byte{shardIDByte})

		if _, err := io.ReadFull(reader, lenBuf); err != nil {
			die(counter.count, "failed reading column count", err)
		}
		hasher.Write(lenBuf)
		count := binary.LittleEndian.Uint32(lenBuf)

		if count > 0 && *verbose {
			fmt.Printf("[offset %d] shard %d: %d columns\n", counter.count, shardIDByte, count)
		}

		for i := uint32(0); i < count; i++ {
			table := readString(reader, hasher, &counter.count)
			column := readString(reader, hasher, &counter.count)

			if _, err := io.ReadFull(reader, lenBuf); err != nil {
				die(counter.count, "truncated sketch length", err)
			}
			hasher.Write(lenBuf)
			n := binary.LittleEndian.Uint32(lenBuf)

			payload := make([]byte, n)
			if _, err := io.ReadFull(reader, payload); err != nil {
				die(counter.count, "truncated sketch payload", err)
			}
			hasher.Write(payload)

			totalColumns++

			if !hll.IsValid(payload) {
				die(counter.count, fmt.Sprintf("column %s.%s has an invalid sketch encoding", table, column), nil)
			}
			sk, err := hll.Decode(payload)
			if err != nil {
				die(counter.count, fmt.Sprintf("column %s.%s failed to decode", table, column), err)
			}
			kindCounts[sk.Kind()]++

			if *verbose {
				fmt.Printf("[offset %d] %s.%s [%s] estimate=%d bytes=%d\n",
					counter.count, table, column, sk.Kind(), sk.EstimateCardinality(), len(payload))
			}
		}
	}

	calculated := hasher.Sum64()
	storedBytes := make([]byte, 8)
	if _, err := io.ReadFull(reader, storedBytes); err != nil {
		die(counter.count, "failed to read checksum", err)
	}
	stored := binary.LittleEndian.Uint64(storedBytes)

	if stored != calculated {
		fmt.Printf("[offset %d] checksum MISMATCH\n", counter.count)
		fmt.Printf("   file:       %016x\n", stored)
		fmt.Printf("   calculated: %016x\n", calculated)
		os.Exit(1)
	}

	fmt.Printf("[offset %d] checksum OK (%016x)\n", counter.count, stored)
	fmt.Println("\nsummary:")
	fmt.Printf("  process time:  %v\n", time.Since(start))
	fmt.Printf("  total columns: %d\n", totalColumns)
	for k, c := range kindCounts {
		fmt.Printf("    %-10s %d\n", k, c)
	}
}

func readString(r *bufio.Reader, hasher io.Writer, offset *int64) string {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		die(*offset, "truncated string length", err)
	}
	hasher.Write(lenBuf)
	n := binary.LittleEndian.Uint32(lenBuf)

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		die(*offset, "truncated string data", err)
	}
	hasher.Write(buf)
	return string(buf)
}

func die(offset int64, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "[offset %d] fatal: %s: %v\n", offset, msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "[offset %d] fatal: %s\n", offset, msg)
	}
	os.Exit(1)
}
