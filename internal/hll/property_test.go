package hll

import (
	"testing"
	"testing/quick"
)

// buildSketch folds a slice of hashes into a fresh sketch, in order.
func buildSketch(hashes []uint64) *Sketch {
	s := New()
	for _, h := range hashes {
		s.Update(h)
	}
	return s
}

func TestPropertyIdempotentInsert(t *testing.T) {
	f := func(h uint64, seed []uint64) bool {
		s := buildSketch(seed)
		s.Update(h)
		before := s.EstimateCardinality()
		s.Update(h)
		after := s.EstimateCardinality()
		return before == after
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func TestPropertyMergeCommutative(t *testing.T) {
	f := func(x, y []uint64) bool {
		a, b := buildSketch(x), buildSketch(y)

		ab := New()
		ab.Merge(a)
		ab.Merge(b)

		ba := New()
		ba.Merge(b)
		ba.Merge(a)

		return ab.EstimateCardinality() == ba.EstimateCardinality()
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func TestPropertyMergeAssociative(t *testing.T) {
	f := func(x, y, z []uint64) bool {
		a, b, c := buildSketch(x), buildSketch(y), buildSketch(z)

		ab := New()
		ab.Merge(a)
		ab.Merge(b)
		abc1 := New()
		abc1.Merge(ab)
		abc1.Merge(c)

		bc := New()
		bc.Merge(b)
		bc.Merge(c)
		abc2 := New()
		abc2.Merge(a)
		abc2.Merge(bc)

		return abc1.EstimateCardinality() == abc2.EstimateCardinality()
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 100}); err != nil {
		t.Error(err)
	}
}

func TestPropertyMergeEqualsUnion(t *testing.T) {
	f := func(x, y []uint64) bool {
		union := append(append([]uint64{}, x...), y...)
		direct := buildSketch(union)

		merged := New()
		merged.Merge(buildSketch(x))
		merged.Merge(buildSketch(y))

		return direct.EstimateCardinality() == merged.EstimateCardinality()
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func TestPropertyKindMonotone(t *testing.T) {
	f := func(hashes []uint64) bool {
		s := New()
		last := s.Kind()
		for _, h := range hashes {
			s.Update(h)
			if s.Kind() < last {
				return false
			}
			last = s.Kind()
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func TestPropertyBoundedSizes(t *testing.T) {
	f := func(hashes []uint64) bool {
		s := buildSketch(hashes)
		if s.SerializedSize() > MaxSerializedSize {
			return false
		}
		if s.Kind() == KindExplicit && len(s.explicit) > ExplicitCap {
			return false
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func TestPropertyExplicitExactness(t *testing.T) {
	f := func(hashes []uint64) bool {
		// Dedup and cap the input to ExplicitCap so we stay in the exact regime.
		seen := make(map[uint64]bool)
		var distinct []uint64
		for _, h := range hashes {
			if !seen[h] {
				seen[h] = true
				distinct = append(distinct, h)
			}
			if len(distinct) == ExplicitCap {
				break
			}
		}

		s := buildSketch(distinct)
		return s.EstimateCardinality() == int64(len(distinct))
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
