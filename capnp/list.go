package capnp

import (
	"math"
	"strconv"
)

// listFlags records the special list layouts (spec.md §3's elem_size
// beyond plain fixed-width data) that change how elements are addressed.
type listFlags uint8

const (
	listIsComposite listFlags = 1 << iota
	listIsBit
)

// List is a reference to a sequence of elements: a List-kind Ref from
// spec.md §3, before a caller picks a typed view (BitList, PointerList,
// UInt8List, ...).
type List struct {
	seg        *Segment
	off        Address // past the composite tag word, if any
	length     int32
	size       ObjectSize
	depthLimit uint
	flags      listFlags
}

func newPrimitiveList(s *Segment, elemSize Size, n int32) (List, error) {
	total, ok := elemSize.times(n)
	if !ok {
		return List{}, ErrOverflow
	}
	seg, addr, err := alloc(s, total)
	if err != nil {
		return List{}, err
	}
	return List{seg: seg, off: addr, length: n, size: ObjectSize{DataSize: elemSize}, depthLimit: maxDepth}, nil
}

// NewCompositeList creates an inline-composite list of n elements of size
// sz, writing the tag word spec.md §4.2 describes.
func NewCompositeList(s *Segment, sz ObjectSize, n int32) (List, error) {
	if !sz.isValid() {
		return List{}, errObjectSize
	}
	sz.DataSize = sz.DataSize.padToWord()
	total, ok := sz.totalSize().times(n)
	if !ok || total > maxSize-wordSize {
		return List{}, ErrOverflow
	}
	seg, addr, err := alloc(s, wordSize+total)
	if err != nil {
		return List{}, err
	}
	seg.writeRawPointer(addr, rawStructPointer(pointerOffset(n), sz))
	return List{seg: seg, off: addr + Address(wordSize), length: n, size: sz, flags: listIsComposite, depthLimit: maxDepth}, nil
}

// NewBitList creates a new packed-bit list of n booleans.
func NewBitList(s *Segment, n int32) (List, error) {
	seg, addr, err := alloc(s, Size((int64(n)+7)/8))
	if err != nil {
		return List{}, err
	}
	return List{seg: seg, off: addr, length: n, flags: listIsBit, depthLimit: maxDepth}, nil
}

// NewPointerList creates a new list of n pointers.
func NewPointerList(s *Segment, n int32) (List, error) {
	total, ok := wordSize.times(n)
	if !ok {
		return List{}, ErrOverflow
	}
	seg, addr, err := alloc(s, total)
	if err != nil {
		return List{}, err
	}
	return List{seg: seg, off: addr, length: n, size: ObjectSize{PointerCount: 1}, depthLimit: maxDepth}, nil
}

// ToPtr converts the list to a generic Ptr.
func (l List) ToPtr() Ptr {
	if l.seg == nil {
		return Ptr{}
	}
	var f ptrFlags
	if l.flags&listIsComposite != 0 {
		f |= isCompositeList
	}
	if l.flags&listIsBit != 0 {
		f |= isBitList
	}
	return Ptr{seg: l.seg, off: l.off, lenOrCap: uint32(l.length), size: l.size, depthLimit: l.depthLimit, flags: listPtrFlag(f)}
}

// Segment returns the segment the list lives in.
func (l List) Segment() *Segment { return l.seg }

// IsValid reports whether l references a segment.
func (l List) IsValid() bool { return l.seg != nil }

// Len returns the number of elements.
func (l List) Len() int {
	if l.seg == nil {
		return 0
	}
	return int(l.length)
}

func (l List) readSize() Size {
	if l.seg == nil {
		return 0
	}
	e := l.size.totalSize()
	if e == 0 {
		e = wordSize
	}
	sz, ok := e.times(l.length)
	if !ok {
		return maxSize
	}
	return sz
}

// allocSize returns the number of bytes l occupies, for copying l whole
// into another message.
func (l List) allocSize() Size {
	if l.seg == nil {
		return 0
	}
	if l.flags&listIsBit != 0 {
		return Size((l.length + 7) / 8)
	}
	sz, _ := l.size.totalSize().times(l.length)
	if l.flags&listIsComposite == 0 {
		return sz
	}
	return sz + wordSize
}

// raw returns the equivalent list pointer with a zero offset, used when
// emitting a pointer to this list.
func (l List) raw() wirePointer {
	if l.seg == nil {
		return 0
	}
	if l.flags&listIsComposite != 0 {
		return rawListPointer(0, compositeList, l.length*l.size.totalWordCount())
	}
	if l.flags&listIsBit != 0 {
		return rawListPointer(0, bit1List, l.length)
	}
	if l.size.PointerCount == 1 && l.size.DataSize == 0 {
		return rawListPointer(0, pointerList, l.length)
	}
	if l.size.PointerCount != 0 {
		panic(errListSize)
	}
	switch l.size.DataSize {
	case 0:
		return rawListPointer(0, voidList, l.length)
	case 1:
		return rawListPointer(0, byte1List, l.length)
	case 2:
		return rawListPointer(0, byte2List, l.length)
	case 4:
		return rawListPointer(0, byte4List, l.length)
	case 8:
		return rawListPointer(0, byte8List, l.length)
	default:
		panic(errListSize)
	}
}

func (l List) checkIndex(i int) {
	if l.seg == nil || i < 0 || i >= int(l.length) {
		panic(ErrOutOfBounds)
	}
}

func (l List) primitiveElem(i int, want ObjectSize) (Address, error) {
	l.checkIndex(i)
	if l.flags&listIsBit != 0 {
		return 0, errElementSize
	}
	if l.flags&listIsComposite == 0 {
		if l.size != want {
			return 0, errElementSize
		}
	} else if l.size.DataSize < want.DataSize || l.size.PointerCount < want.PointerCount {
		return 0, errElementSize
	}
	return l.off.element(int32(i), l.size.totalSize())
}

// Struct returns the i'th element as a struct (valid for inline-composite
// and pointer-sized-zero lists).
func (l List) Struct(i int) Struct {
	l.checkIndex(i)
	if l.flags&listIsBit != 0 {
		return Struct{}
	}
	addr, ok := l.off.element(int32(i), l.size.totalSize())
	if !ok {
		return Struct{}
	}
	return Struct{seg: l.seg, off: addr, size: l.size, isListMember: true, depthLimit: l.depthLimit - 1}
}

// SetStruct copies s into the i'th element.
func (l List) SetStruct(i int, s Struct) error {
	if l.flags&listIsBit != 0 {
		return errBitListStruct
	}
	return copyStruct(l.Struct(i), s)
}

// BitAt returns the i'th bit of a bit list.
func (l List) BitAt(i int) bool {
	l.checkIndex(i)
	if l.flags&listIsBit == 0 {
		return false
	}
	bit := BitOffset(i)
	addr, _ := l.off.addOffset(bit.offset())
	return l.seg.readUint8(addr)&bit.mask() != 0
}

// SetBitAt sets the i'th bit of a bit list.
func (l List) SetBitAt(i int, v bool) {
	l.checkIndex(i)
	if l.flags&listIsBit == 0 {
		panic(errElementSize)
	}
	bit := BitOffset(i)
	addr, _ := l.off.addOffset(bit.offset())
	b := l.seg.slice(addr, 1)
	if v {
		b[0] |= bit.mask()
	} else {
		b[0] &^= bit.mask()
	}
}

// PtrAt returns the i'th pointer of a pointer list.
func (l List) PtrAt(i int) (Ptr, error) {
	addr, err := l.primitiveElem(i, ObjectSize{PointerCount: 1})
	if err != nil {
		return Ptr{}, err
	}
	return l.seg.readPtr(addr, l.depthLimit)
}

// SetPtrAt sets the i'th pointer of a pointer list.
func (l List) SetPtrAt(i int, v Ptr) error {
	addr, err := l.primitiveElem(i, ObjectSize{PointerCount: 1})
	if err != nil {
		return err
	}
	return l.seg.writePtr(addr, v, false)
}

// NewText allocates a NUL-terminated byte list from v: len(v)+1 bytes,
// with the final byte left zero. Text length is the wire count minus one
// (spec.md §4.2, §6).
func NewText(s *Segment, v string) (List, error) {
	l, err := newPrimitiveList(s, 1, int32(len(v)+1))
	if err != nil {
		return List{}, err
	}
	copy(l.seg.slice(l.off, Size(len(v))), v)
	return l, nil
}

// NewData allocates a byte list from v, with no trailing NUL.
func NewData(s *Segment, v []byte) (List, error) {
	l, err := newPrimitiveList(s, 1, int32(len(v)))
	if err != nil {
		return List{}, err
	}
	copy(l.seg.slice(l.off, Size(len(v))), v)
	return l, nil
}

// UInt8At / SetUInt8At and friends below give typed element access over a
// primitive list without introducing a wrapper type per element width, the
// way a schema-compiled accessor normally would.

func (l List) UInt8At(i int) uint8 {
	addr, err := l.primitiveElem(i, ObjectSize{DataSize: 1})
	if err != nil {
		return 0
	}
	return l.seg.readUint8(addr)
}

func (l List) SetUInt8At(i int, v uint8) {
	addr, err := l.primitiveElem(i, ObjectSize{DataSize: 1})
	if err != nil {
		panic(err)
	}
	l.seg.writeUint8(addr, v)
}

func (l List) UInt16At(i int) uint16 {
	addr, err := l.primitiveElem(i, ObjectSize{DataSize: 2})
	if err != nil {
		return 0
	}
	return l.seg.readUint16(addr)
}

func (l List) SetUInt16At(i int, v uint16) {
	addr, err := l.primitiveElem(i, ObjectSize{DataSize: 2})
	if err != nil {
		panic(err)
	}
	l.seg.writeUint16(addr, v)
}

func (l List) UInt32At(i int) uint32 {
	addr, err := l.primitiveElem(i, ObjectSize{DataSize: 4})
	if err != nil {
		return 0
	}
	return l.seg.readUint32(addr)
}

func (l List) SetUInt32At(i int, v uint32) {
	addr, err := l.primitiveElem(i, ObjectSize{DataSize: 4})
	if err != nil {
		panic(err)
	}
	l.seg.writeUint32(addr, v)
}

func (l List) UInt64At(i int) uint64 {
	addr, err := l.primitiveElem(i, ObjectSize{DataSize: 8})
	if err != nil {
		return 0
	}
	return l.seg.readUint64(addr)
}

func (l List) SetUInt64At(i int, v uint64) {
	addr, err := l.primitiveElem(i, ObjectSize{DataSize: 8})
	if err != nil {
		panic(err)
	}
	l.seg.writeUint64(addr, v)
}

func (l List) Float32At(i int) float32 {
	return math.Float32frombits(l.UInt32At(i))
}

func (l List) SetFloat32At(i int, v float32) {
	l.SetUInt32At(i, math.Float32bits(v))
}

func (l List) Float64At(i int) float64 {
	return math.Float64frombits(l.UInt64At(i))
}

func (l List) SetFloat64At(i int, v float64) {
	l.SetUInt64At(i, math.Float64bits(v))
}

// String renders a UInt8 list in Cap'n Proto schema list-literal form,
// e.g. "[1, 2, 3]", for debugging.
func (l List) String() string {
	var buf []byte
	buf = append(buf, '[')
	for i := 0; i < l.Len(); i++ {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = strconv.AppendUint(buf, uint64(l.UInt8At(i)), 10)
	}
	buf = append(buf, ']')
	return string(buf)
}
