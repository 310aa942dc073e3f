package hll

import (
	"encoding/binary"
	"sort"
)

// SparseCap is the inclusive maximum number of non-zero registers a decoded
// SPARSE payload may carry.
const SparseCap = 4096

// sparseRecordSize is the on-wire size of one (index, value) pair in the
// SPARSE payload: a 2-byte little-endian index and a 1-byte value.
const sparseRecordSize = 3

// Encode appends the sketch's current byte-layout representation to dst and
// returns the resulting slice. The layout is:
//
//	EMPTY:    [tag]
//	EXPLICIT: [tag][n uint8][n * hash uint64 LE, ascending]
//	SPARSE:   [tag][count int32 LE][count * (index uint16 LE, value uint8), ascending index]
//	FULL:     [tag][Registers register bytes, index order]
//
// A sketch in the FULL representation is always emitted as FULL; Encode
// never re-compacts a FULL sketch to SPARSE even if it would fit, since a
// Sketch that reached FULL only did so because a caller (Update, Merge)
// asked it to grow and there is no benefit in re-inspecting the array on
// every serialize. Decode accepts either.
func (s *Sketch) Encode(dst []byte) []byte {
	switch s.kind {
	case KindEmpty:
		return append(dst, byte(KindEmpty))

	case KindExplicit:
		dst = append(dst, byte(KindExplicit), byte(len(s.explicit)))
		var buf [8]byte
		for _, h := range s.explicit {
			binary.LittleEndian.PutUint64(buf[:], h)
			dst = append(dst, buf[:]...)
		}
		return dst

	case KindSparse:
		dst = append(dst, byte(KindSparse))
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s.sparse)))
		dst = append(dst, lenBuf[:]...)

		indices := make([]int, 0, len(s.sparse))
		for idx := range s.sparse {
			indices = append(indices, int(idx))
		}
		sort.Ints(indices)

		var rec [3]byte
		for _, idx := range indices {
			binary.LittleEndian.PutUint16(rec[:2], uint16(idx))
			rec[2] = s.sparse[uint32(idx)]
			dst = append(dst, rec[:]...)
		}
		return dst

	case KindFull:
		dst = append(dst, byte(KindFull))
		return append(dst, s.full...)

	default:
		return dst
	}
}

// Serialize is a convenience wrapper around Encode that allocates a
// right-sized buffer.
func (s *Sketch) Serialize() []byte {
	return s.Encode(make([]byte, 0, s.SerializedSize()))
}

// SerializedSize returns the exact number of bytes Encode will produce for
// the sketch's current state.
func (s *Sketch) SerializedSize() int {
	switch s.kind {
	case KindEmpty:
		return EmptySerializedSize
	case KindExplicit:
		return 2 + 8*len(s.explicit)
	case KindSparse:
		return 5 + sparseRecordSize*len(s.sparse)
	case KindFull:
		return 1 + Registers
	default:
		return EmptySerializedSize
	}
}

// Decode replaces s's state with the sketch encoded in data. Any prior
// payload is discarded first — Decode always clears before loading, per the
// normative resolution of the legacy "deserialize into EMPTY only" behavior.
// On error s is left EMPTY and no partial state survives.
func (s *Sketch) Decode(data []byte) error {
	s.Clear()

	if len(data) < 1 {
		return ErrInvalidEncoding
	}

	switch Kind(data[0]) {
	case KindEmpty:
		if len(data) != EmptySerializedSize {
			return ErrInvalidEncoding
		}
		return nil

	case KindExplicit:
		if len(data) < 2 {
			return ErrInvalidEncoding
		}
		n := int(data[1])
		want := 2 + 8*n
		if len(data) != want {
			return ErrInvalidEncoding
		}
		set := make(explicitSet, n)
		for i := 0; i < n; i++ {
			off := 2 + 8*i
			set[i] = binary.LittleEndian.Uint64(data[off : off+8])
		}
		s.kind = KindExplicit
		s.explicit = set
		return nil

	case KindSparse:
		if len(data) < 5 {
			return ErrInvalidEncoding
		}
		count := binary.LittleEndian.Uint32(data[1:5])
		if count > SparseCap {
			return ErrInvalidEncoding
		}
		want := 5 + sparseRecordSize*int(count)
		if len(data) != want {
			return ErrInvalidEncoding
		}

		m := make(map[uint32]byte, count)
		off := 5
		for i := uint32(0); i < count; i++ {
			idx := binary.LittleEndian.Uint16(data[off : off+2])
			if int(idx) >= Registers {
				s.Clear()
				return ErrInvalidEncoding
			}
			m[uint32(idx)] = data[off+2]
			off += sparseRecordSize
		}
		s.kind = KindSparse
		s.sparse = m
		return nil

	case KindFull:
		if len(data) != 1+Registers {
			return ErrInvalidEncoding
		}
		regs := make([]byte, Registers)
		copy(regs, data[1:])
		s.kind = KindFull
		s.full = regs
		return nil

	default:
		return ErrInvalidEncoding
	}
}

// Decode parses data into a new sketch. It is the free-function counterpart
// to (*Sketch).Decode for callers that don't already have a Sketch to reuse.
func Decode(data []byte) (*Sketch, error) {
	s := New()
	if err := s.Decode(data); err != nil {
		return nil, err
	}
	return s, nil
}

// IsValid is a cheap, O(1) classifier: it reads the type tag and checks that
// the buffer's length is plausible for that tag, without decoding the
// payload. It does not validate sparse register indices.
func IsValid(data []byte) bool {
	if len(data) < 1 {
		return false
	}

	switch Kind(data[0]) {
	case KindEmpty:
		return len(data) >= EmptySerializedSize
	case KindExplicit:
		if len(data) < 2 {
			return false
		}
		n := int(data[1])
		return len(data) == 2+8*n
	case KindSparse:
		if len(data) < 5 {
			return false
		}
		count := binary.LittleEndian.Uint32(data[1:5])
		return len(data) == 5+sparseRecordSize*int(count)
	case KindFull:
		return len(data) >= 1+Registers
	default:
		return false
	}
}
