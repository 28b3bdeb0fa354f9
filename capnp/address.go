package capnp

// Address is a byte offset within a segment.
type Address uint32

// Size is a size of a region of a segment in bytes.
type Size uint32

// wordSize is the number of bytes in a word, Cap'n Proto's unit of
// allocation.
const wordSize Size = 8

// maxSize is the largest representable Size.
const maxSize Size = 1<<32 - 1

// maxDepth bounds recursive pointer traversal. The wire format forbids
// cycles, but a corrupt or adversarial message can still chain pointers
// arbitrarily deep.
const maxDepth uint = 64

func (sz Size) isZero() bool { return sz == 0 }

// padToWord rounds sz up to the nearest word boundary.
func (sz Size) padToWord() Size {
	return (sz + (wordSize - 1)) &^ (wordSize - 1)
}

// times returns sz*n, or !ok on overflow.
func (sz Size) times(n int32) (Size, bool) {
	if n < 0 {
		return 0, false
	}
	total := uint64(sz) * uint64(n)
	if total > uint64(maxSize) {
		return 0, false
	}
	return Size(total), true
}

// addSize returns a+Address(sz), or !ok on overflow or if it would exceed
// the maximum addressable offset.
func (a Address) addSize(sz Size) (Address, bool) {
	total := uint64(a) + uint64(sz)
	if total > uint64(maxSize) {
		return 0, false
	}
	return Address(total), true
}

// addOffset returns a+off, or !ok on overflow.
func (a Address) addOffset(off Address) (Address, bool) {
	return a.addSize(Size(off))
}

// element returns the address of the i'th element of sz-sized elements
// starting at a.
func (a Address) element(i int32, sz Size) (Address, bool) {
	offset, ok := sz.times(i)
	if !ok {
		return 0, false
	}
	return a.addSize(offset)
}

// ObjectSize records the size of a struct's data and pointer sections.
type ObjectSize struct {
	DataSize     Size
	PointerCount uint16
}

func (sz ObjectSize) totalSize() Size {
	return sz.DataSize + Size(sz.PointerCount)*wordSize
}

func (sz ObjectSize) isZero() bool {
	return sz.DataSize == 0 && sz.PointerCount == 0
}

// isValid reports whether sz can be represented in a struct pointer's
// 16-bit data-word-count / 16-bit pointer-count fields.
func (sz ObjectSize) isValid() bool {
	return sz.DataSize.padToWord()/wordSize <= 0xffff
}

func (sz ObjectSize) dataWordCount() int16 {
	return int16(sz.DataSize.padToWord() / wordSize)
}

func (sz ObjectSize) totalWordCount() int32 {
	return int32(sz.dataWordCount()) + int32(sz.PointerCount)
}

// BitOffset is a bit index within a segment's data region, counted
// LSB-first within each byte: bit i lives in byte i/8 at mask 1<<(i%8).
type BitOffset uint32

func (b BitOffset) offset() Address {
	return Address(b / 8)
}

func (b BitOffset) mask() byte {
	return 1 << (uint(b) % 8)
}
