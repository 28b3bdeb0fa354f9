package capnp

// Struct is a reference to a struct's data and pointer sections: a
// Struct-kind Ref from spec.md §3, specialized.
type Struct struct {
	seg        *Segment
	off        Address
	size       ObjectSize
	depthLimit uint

	// isListMember marks a Struct obtained from a list element via
	// List.Struct; writeStructPtr always copies such a struct rather than
	// pointing into the list's body.
	isListMember bool
}

// NewStruct allocates a new struct of the given size, preferring
// placement in s.
func NewStruct(s *Segment, sz ObjectSize) (Struct, error) {
	if !sz.isValid() {
		return Struct{}, errObjectSize
	}
	sz.DataSize = sz.DataSize.padToWord()
	seg, addr, err := alloc(s, sz.totalSize())
	if err != nil {
		return Struct{}, err
	}
	return Struct{seg: seg, off: addr, size: sz, depthLimit: maxDepth}, nil
}

// ToPtr converts the struct to a generic Ptr.
func (p Struct) ToPtr() Ptr {
	if p.seg == nil {
		return Ptr{}
	}
	return Ptr{seg: p.seg, off: p.off, size: p.size, depthLimit: p.depthLimit, flags: structPtrFlag}
}

// IsValid reports whether p references a segment.
func (p Struct) IsValid() bool { return p.seg != nil }

// Segment returns the segment the struct lives in.
func (p Struct) Segment() *Segment { return p.seg }

// Size returns the struct's data/pointer section sizes.
func (p Struct) Size() ObjectSize { return p.size }

func (p Struct) readSize() Size {
	if p.seg == nil {
		return 0
	}
	return p.size.totalSize()
}

// dataAddress returns the address of bit 0 of the data section.
func (p Struct) dataAddress() Address { return p.off }

// ptrSlotAddress returns the address of pointer slot i, which the caller
// must have already checked is within p.size.PointerCount.
func (p Struct) ptrSlotAddress(i int16) Address {
	return p.off + Address(p.size.DataSize) + Address(i)*Address(wordSize)
}

// Bit reads a single bit at the given bit offset from the data section,
// returning false if the offset falls past the struct's data words
// (spec.md §8's schema-default boundary behavior).
func (p Struct) Bit(off BitOffset) bool {
	if p.seg == nil || uint64(off) >= uint64(p.size.DataSize)*8 {
		return false
	}
	addr := p.dataAddress().addOffsetOrZero(off.offset())
	return p.seg.readUint8(addr)&off.mask() != 0
}

// SetBit sets a single bit at the given bit offset.
func (p Struct) SetBit(off BitOffset, v bool) {
	addr := p.dataAddress().addOffsetOrZero(off.offset())
	b := p.seg.slice(addr, 1)
	if v {
		b[0] |= off.mask()
	} else {
		b[0] &^= off.mask()
	}
}

func (a Address) addOffsetOrZero(off Address) Address {
	r, ok := a.addOffset(off)
	if !ok {
		return a
	}
	return r
}

// dataFits reports whether a bitAlign-bit-aligned, bitLen-bit-wide field
// lies entirely within the struct's data section.
func (p Struct) dataFits(bitAlign, bitLen uint32) bool {
	return uint64(bitAlign)+uint64(bitLen) <= uint64(p.size.DataSize)*8
}

// Uint8/16/32/64 read fixed-width data fields at the given byte offset
// (bitAlign/8), returning 0 if the field falls past the data section.

func (p Struct) Uint8(off Address) uint8 {
	if p.seg == nil || !p.regionInBounds(off, 1) {
		return 0
	}
	return p.seg.readUint8(p.off + off)
}

func (p Struct) SetUint8(off Address, v uint8) {
	p.seg.writeUint8(p.off+off, v)
}

func (p Struct) Uint16(off Address) uint16 {
	if p.seg == nil || !p.regionInBounds(off, 2) {
		return 0
	}
	return p.seg.readUint16(p.off + off)
}

func (p Struct) SetUint16(off Address, v uint16) {
	p.seg.writeUint16(p.off+off, v)
}

func (p Struct) Uint32(off Address) uint32 {
	if p.seg == nil || !p.regionInBounds(off, 4) {
		return 0
	}
	return p.seg.readUint32(p.off + off)
}

func (p Struct) SetUint32(off Address, v uint32) {
	p.seg.writeUint32(p.off+off, v)
}

func (p Struct) Uint64(off Address) uint64 {
	if p.seg == nil || !p.regionInBounds(off, 8) {
		return 0
	}
	return p.seg.readUint64(p.off + off)
}

func (p Struct) SetUint64(off Address, v uint64) {
	p.seg.writeUint64(p.off+off, v)
}

func (p Struct) regionInBounds(off Address, sz Size) bool {
	end, ok := off.addSize(sz)
	if !ok || Address(p.size.DataSize) < end {
		return false
	}
	return true
}

// Ptr returns the struct's i'th pointer-section pointer, or Null if i is
// out of range for the struct's pointer section (the schema default path
// of spec.md §4.2's read_struct_ptr).
func (p Struct) Ptr(i int16) (Ptr, error) {
	if p.seg == nil || i < 0 || i >= int16(p.size.PointerCount) {
		return Ptr{}, nil
	}
	return p.seg.readPtr(p.ptrSlotAddress(i), p.depthLimit)
}

// SetPtr sets the struct's i'th pointer-section pointer to v.
func (p Struct) SetPtr(i int16, v Ptr) error {
	if i < 0 || i >= int16(p.size.PointerCount) {
		panic("SetPtr: pointer index out of range")
	}
	return p.seg.writePtr(p.ptrSlotAddress(i), v, false)
}

// copyStruct deep-copies src's data and pointer sections into dst,
// recursively copying any pointed-to objects so dst ends up self
// contained in its own message.
func copyStruct(dst, src Struct) error {
	if src.seg == nil {
		return nil
	}
	srcData := src.seg.slice(src.off, src.size.DataSize)
	dstData := dst.seg.slice(dst.off, dst.size.DataSize)
	dataLen := len(srcData)
	if len(dstData) < dataLen {
		dataLen = len(dstData)
	}
	copy(dstData[:dataLen], srcData[:dataLen])

	ptrCount := src.size.PointerCount
	if dst.size.PointerCount < ptrCount {
		ptrCount = dst.size.PointerCount
	}
	for i := int16(0); i < int16(ptrCount); i++ {
		srcPtr, err := src.Ptr(i)
		if err != nil {
			return err
		}
		if err := dst.seg.writePtr(dst.ptrSlotAddress(i), srcPtr, true); err != nil {
			return err
		}
	}
	return nil
}
