package hll

import "sort"

// ExplicitCap is the inclusive maximum number of hashes kept in the explicit
// representation. It is load-bearing for the wire format: the stored count
// must fit in a single byte, and must not be changed independently of the
// codec in codec.go.
const ExplicitCap = 160

// explicitSet is a strictly ascending, deduplicated slice of hashes, kept
// sorted so cardinality is just its length and serialization needs no
// further work: walk to the insertion point with a binary search, then
// shift the tail right by one with copy().
type explicitSet []uint64

// contains reports whether h is already present, without mutating s.
func (s explicitSet) contains(h uint64) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= h })
	return i < len(s) && s[i] == h
}

// insert adds h if it is not already present, keeping the slice ascending.
// It reports whether the set changed. Insertion is O(log n) to find the
// slot and O(n) to shift, bounded by ExplicitCap.
func (s explicitSet) insert(h uint64) (explicitSet, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= h })
	if i < len(s) && s[i] == h {
		return s, false
	}

	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = h
	return s, true
}

// toRegisters folds every stored hash into a freshly allocated dense
// register array, used when the explicit set overflows ExplicitCap.
func (s explicitSet) toRegisters() []byte {
	regs := make([]byte, Registers)
	for _, h := range s {
		foldHash(regs, h)
	}
	return regs
}
