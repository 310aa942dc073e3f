package columnstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"

	"hlldb.dev/hlldb/internal/hll"
)

func hashOf(s string) uint64 {
	return xxhash.Sum64String(s)
}

func TestUpdateCreatesColumnOnFirstUse(t *testing.T) {
	s := New(nil)
	key := ColumnKey{Table: "events", Column: "user_id"}

	if _, ok := s.Estimate(key); ok {
		t.Fatal("column should not exist before first update")
	}

	s.Update(key, hashOf("alice"))

	got, ok := s.Estimate(key)
	if !ok {
		t.Fatal("column should exist after update")
	}
	if got != 1 {
		t.Errorf("estimate = %d, want 1", got)
	}
}

func TestColumnsAreIndependent(t *testing.T) {
	s := New(nil)
	a := ColumnKey{Table: "events", Column: "user_id"}
	b := ColumnKey{Table: "events", Column: "session_id"}

	s.Update(a, hashOf("x"))
	s.Update(b, hashOf("y"))
	s.Update(b, hashOf("z"))

	na, _ := s.Estimate(a)
	nb, _ := s.Estimate(b)
	if na != 1 {
		t.Errorf("column a estimate = %d, want 1", na)
	}
	if nb != 2 {
		t.Errorf("column b estimate = %d, want 2", nb)
	}
}

func TestMergeCombinesColumns(t *testing.T) {
	s := New(nil)
	dst := ColumnKey{Table: "t", Column: "c"}
	s.Update(dst, hashOf("a"))
	s.Update(dst, hashOf("b"))

	other := New(nil)
	otherKey := ColumnKey{Table: "other", Column: "c"}
	other.Update(otherKey, hashOf("c"))
	other.Update(otherKey, hashOf("d"))

	otherBytes, ok := other.Bytes(otherKey)
	if !ok {
		t.Fatal("expected other column to exist")
	}

	decoded, err := hll.Decode(otherBytes)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s.Merge(dst, decoded)

	got, _ := s.Estimate(dst)
	if got != 4 {
		t.Errorf("merged estimate = %d, want 4", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New(nil)
	keys := []ColumnKey{
		{Table: "orders", Column: "customer_id"},
		{Table: "orders", Column: "product_id"},
		{Table: "clicks", Column: "session_id"},
	}
	for i, k := range keys {
		for j := 0; j <= i*3; j++ {
			s.Update(k, hashOf(k.String()+string(rune('a'+j))))
		}
	}

	var buf bytes.Buffer
	if err := s.SaveSnapshot(&buf); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	restored := New(nil)
	if err := restored.LoadSnapshot(&buf); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	for _, k := range keys {
		want, ok := s.Estimate(k)
		if !ok {
			t.Fatalf("original missing column %s", k)
		}
		got, ok := restored.Estimate(k)
		if !ok {
			t.Fatalf("restored missing column %s", k)
		}
		if got != want {
			t.Errorf("column %s: estimate after restore = %d, want %d", k, got, want)
		}
	}
}

func TestLoadSnapshotRejectsCorruptChecksum(t *testing.T) {
	s := New(nil)
	s.Update(ColumnKey{Table: "t", Column: "c"}, hashOf("a"))

	var buf bytes.Buffer
	if err := s.SaveSnapshot(&buf); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	corrupt := buf.Bytes()
	corrupt[len(snapshotMagic)+2] ^= 0xFF

	restored := New(nil)
	if err := restored.LoadSnapshot(bytes.NewReader(corrupt)); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

func TestAOFReplayRebuildsStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.aof")

	log, err := NewAOF(path, true)
	if err != nil {
		t.Fatalf("NewAOF: %v", err)
	}

	s := New(log)
	key := ColumnKey{Table: "events", Column: "user_id"}
	s.Update(key, hashOf("a"))
	s.Update(key, hashOf("b"))
	s.Update(key, hashOf("c"))

	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restored := New(nil)
	if err := Replay(path, restored); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	want, _ := s.Estimate(key)
	got, ok := restored.Estimate(key)
	if !ok {
		t.Fatal("replayed store missing column")
	}
	if got != want {
		t.Errorf("replayed estimate = %d, want %d", got, want)
	}
}

func TestAOFReplayMissingFileIsNotAnError(t *testing.T) {
	s := New(nil)
	if err := Replay(filepath.Join(t.TempDir(), "missing.aof"), s); err != nil {
		t.Errorf("Replay on missing file should be a no-op, got: %v", err)
	}
}

func TestReplayIgnoresTrailingPartialRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.aof")

	log, err := NewAOF(path, true)
	if err != nil {
		t.Fatalf("NewAOF: %v", err)
	}
	key := ColumnKey{Table: "t", Column: "c"}
	if err := log.AppendUpdate(key, hashOf("a")); err != nil {
		t.Fatalf("AppendUpdate: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-write of a second record: truncate to a partial header.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte{aofOpUpdate, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restored := New(nil)
	if err := Replay(path, restored); err != nil {
		t.Fatalf("Replay should tolerate a truncated trailing record, got: %v", err)
	}
	got, ok := restored.Estimate(key)
	if !ok || got != 1 {
		t.Errorf("estimate = %d, ok=%v, want 1, true", got, ok)
	}
}
