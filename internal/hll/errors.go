package hll

import "errors"

// ErrInvalidEncoding is returned by Decode when the type tag is unknown, the
// declared length does not match the remaining bytes, or a sparse record
// carries a register index outside [0, Registers). No partial state is left
// on the target sketch when this is returned.
var ErrInvalidEncoding = errors.New("hll: invalid encoding")
