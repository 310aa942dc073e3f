package hll

import "math/bits"

// Precision is the register-index bit width. It is persisted in the wire
// format's implicit register count and must not change without a format
// version bump.
const Precision = 14

// Registers is the number of registers in the dense representation, 2^Precision.
const Registers = 1 << Precision

// ZeroCountBits is the number of hash bits fed into the trailing-zero count
// for each register, 64 - Precision.
const ZeroCountBits = 64 - Precision

// registerIndexMask selects the low Precision bits of a hash as the register
// index. Registers is a power of two, so mod and mask are equivalent; the
// mask is faster.
const registerIndexMask = uint64(Registers - 1)

// registerGuardBit forces bit ZeroCountBits of the shifted hash to 1 so that
// TrailingZeros64 is always well-defined, even when every remaining bit of
// the hash happens to be zero.
const registerGuardBit = uint64(1) << ZeroCountBits

// registerValue computes the (index, rank) pair a 64-bit hash contributes to
// the dense register array.
//
// The low Precision bits select the register. The remaining ZeroCountBits
// bits determine the rank: one plus the position of the first 1 bit,
// counting from the least significant bit. The guard bit bounds the rank to
// [1, ZeroCountBits+1].
func registerValue(h uint64) (index uint32, rank uint8) {
	index = uint32(h & registerIndexMask)
	shifted := (h >> Precision) | registerGuardBit
	rank = uint8(bits.TrailingZeros64(shifted)) + 1
	return index, rank
}

// foldHash updates a dense register array in place with a single hash,
// applying the standard "keep the maximum observed rank" rule. It reports
// whether the array was actually modified.
func foldHash(regs []byte, h uint64) bool {
	idx, rank := registerValue(h)
	if rank > regs[idx] {
		regs[idx] = rank
		return true
	}
	return false
}

// mergeMax computes the element-wise maximum of src into dst, the register
// engine's contribution to Sketch.Merge. It reports whether dst changed.
// Commutative, associative and idempotent since max() is.
func mergeMax(dst, src []byte) bool {
	changed := false
	for i, v := range src {
		if v > dst[i] {
			dst[i] = v
			changed = true
		}
	}
	return changed
}

// countZeroRegisters returns the number of registers still at their initial
// value of zero, used by the small-range linear-counting correction.
func countZeroRegisters(regs []byte) uint32 {
	var v uint32
	for _, r := range regs {
		if r == 0 {
			v++
		}
	}
	return v
}
