package capnp

import "github.com/pkg/errors"

// Sentinel error kinds from spec.md §7. Callers may compare against these
// with errors.Is even though call sites wrap them with context via
// github.com/pkg/errors.
var (
	// ErrMalformedPointer covers unexpected kind bits, out-of-range
	// offsets, and misaligned sizes encountered while decoding a pointer.
	ErrMalformedPointer = errors.New("capnp: malformed pointer")
	// ErrOutOfBounds covers a segment read or write beyond its buffer.
	ErrOutOfBounds = errors.New("capnp: address out of bounds")
	// ErrReadLimit is returned once a message's read-traversal budget is
	// exhausted.
	ErrReadLimit = errors.New("capnp: read traversal limit reached")
	// ErrDepthLimit is returned once a message's pointer-nesting budget is
	// exhausted.
	ErrDepthLimit = errors.New("capnp: depth limit reached")
	// ErrOverflow covers address or size arithmetic overflow.
	ErrOverflow = errors.New("capnp: address or size overflow")
)

var (
	errBadLandingPad = errors.Wrap(ErrMalformedPointer, "invalid far pointer landing pad")
	errBadTag        = errors.Wrap(ErrMalformedPointer, "invalid inline-composite tag word")
	errOtherPointer  = errors.Wrap(ErrMalformedPointer, "unknown pointer kind")
	errObjectSize    = errors.Wrap(ErrMalformedPointer, "invalid object size")
	errElementSize   = errors.Wrap(ErrMalformedPointer, "mismatched list element size")
	errListSize      = errors.Wrap(ErrMalformedPointer, "invalid list size")
	errBitListStruct = errors.New("capnp: SetStruct called on a bit list")
)
