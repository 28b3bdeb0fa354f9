package capnp

// ptrFlags records which of Struct/List/Interface a Ptr holds, plus list
// sub-flags (composite/bit), packed into one byte.
type ptrFlags uint8

const (
	structPtrFlag    ptrFlags = 1
	listPtrFlag_     ptrFlags = 2 // set alongside list sub-flags below
	interfacePtrFlag ptrFlags = 3

	isCompositeList ptrFlags = 1 << 4
	isBitList       ptrFlags = 1 << 5
)

type ptrKindTag int

const (
	nullPtrType ptrKindTag = iota
	structPtrType
	listPtrType
	interfacePtrType
)

func (f ptrFlags) ptrType() ptrKindTag {
	switch f & 3 {
	case structPtrFlag:
		return structPtrType
	case interfacePtrFlag:
		return interfacePtrType
	default:
		if f&listPtrFlag_ != 0 {
			return listPtrType
		}
		return nullPtrType
	}
}

func listPtrFlag(lf ptrFlags) ptrFlags {
	return listPtrFlag_ | lf
}

// Ptr is a generic, decoded reference to a struct, list, or capability
// living in a segment: the Ref of spec.md §3, specialized by kind. The
// zero Ptr is the Null reference.
type Ptr struct {
	seg        *Segment
	off        Address
	lenOrCap   uint32 // list length; an interface's capability index lives in cap
	size       ObjectSize
	depthLimit uint
	flags      ptrFlags
	cap        CapabilityID
}

// IsValid reports whether p is anything other than Null.
func (p Ptr) IsValid() bool { return p.seg != nil }

// Struct returns p as a Struct, or the zero Struct if p is not one.
func (p Ptr) Struct() Struct {
	if p.flags.ptrType() != structPtrType {
		return Struct{}
	}
	return Struct{seg: p.seg, off: p.off, size: p.size, depthLimit: p.depthLimit}
}

// List returns p as a List, or the zero List if p is not one.
func (p Ptr) List() List {
	if p.flags.ptrType() != listPtrType {
		return List{}
	}
	var lf listFlags
	if p.flags&isCompositeList != 0 {
		lf |= listIsComposite
	}
	if p.flags&isBitList != 0 {
		lf |= listIsBit
	}
	return List{seg: p.seg, off: p.off, length: int32(p.lenOrCap), size: p.size, depthLimit: p.depthLimit, flags: lf}
}

// Interface returns p as an Interface, or the zero Interface if p is not
// one.
func (p Ptr) Interface() Interface {
	if p.flags.ptrType() != interfacePtrType {
		return Interface{}
	}
	return Interface{seg: p.seg, cap: p.cap}
}

// Text returns p's value as a NUL-terminated byte list's user-visible
// string, or "" if p is not a one-byte list.
func (p Ptr) Text() string {
	return p.TextDefault("")
}

// TextDefault is like Text but returns def if p is Null.
func (p Ptr) TextDefault(def string) string {
	b, ok := p.textBytes()
	if !ok {
		return def
	}
	return string(b)
}

// TextBytes returns the raw bytes of a text list, not including the
// trailing NUL, sharing memory with the segment.
func (p Ptr) TextBytes() []byte {
	b, _ := p.textBytes()
	return b
}

func (p Ptr) textBytes() (b []byte, ok bool) {
	l := p.List()
	if l.seg == nil || l.flags != 0 || l.size.PointerCount != 0 || l.size.DataSize != 1 {
		return nil, false
	}
	if l.length == 0 {
		return nil, false
	}
	all := l.seg.slice(l.off, Size(l.length))
	return all[:len(all)-1], true
}

// Data returns p's value as a byte list, sharing memory with the segment.
func (p Ptr) Data() []byte {
	return p.DataDefault(nil)
}

// DataDefault is like Data but returns def if p is Null.
func (p Ptr) DataDefault(def []byte) []byte {
	l := p.List()
	if l.seg == nil || l.flags != 0 || l.size.PointerCount != 0 || l.size.DataSize != 1 {
		return def
	}
	return l.seg.slice(l.off, Size(l.length))
}

// readPtr decodes the pointer word at (s, paddr), following any far
// indirection first, then dispatching on the resolved word's kind.
func (s *Segment) readPtr(paddr Address, depthLimit uint) (Ptr, error) {
	seg, base, word, err := s.resolveFarPointer(paddr)
	if err != nil {
		return Ptr{}, err
	}
	if word == 0 {
		return Ptr{}, nil
	}
	if depthLimit == 0 {
		return Ptr{}, ErrDepthLimit
	}

	switch word.kind() {
	case structKind:
		return seg.decodeStructPtr(base, word, depthLimit)
	case listKind:
		return seg.decodeListPtr(base, word, depthLimit)
	case otherKind:
		return seg.decodeInterfacePtr(word)
	default:
		return Ptr{}, errBadLandingPad
	}
}

func (s *Segment) decodeStructPtr(base Address, word wirePointer, depthLimit uint) (Ptr, error) {
	st, err := s.readStructPtr(base, word)
	if err != nil {
		return Ptr{}, err
	}
	if !s.msg.ReadLimiter().canRead(st.size.totalSize()) {
		return Ptr{}, ErrReadLimit
	}
	st.depthLimit = depthLimit - 1
	return st.ToPtr(), nil
}

func (s *Segment) decodeListPtr(base Address, word wirePointer, depthLimit uint) (Ptr, error) {
	l, err := s.readListPtr(base, word)
	if err != nil {
		return Ptr{}, err
	}
	if !s.msg.ReadLimiter().canRead(l.readSize()) {
		return Ptr{}, ErrReadLimit
	}
	l.depthLimit = depthLimit - 1
	return l.ToPtr(), nil
}

func (s *Segment) decodeInterfacePtr(word wirePointer) (Ptr, error) {
	if int(word>>2)&3 != 0 {
		return Ptr{}, errOtherPointer
	}
	return Interface{seg: s, cap: word.capabilityIndex()}.ToPtr(), nil
}

// resolvePointerOffset turns val's offset field into an absolute address
// relative to base, shared by the struct and list decode paths.
func resolvePointerOffset(val wirePointer, base Address) (Address, error) {
	addr, ok := val.offset().resolve(base)
	if !ok {
		return 0, ErrMalformedPointer
	}
	return addr, nil
}

func (s *Segment) readStructPtr(base Address, val wirePointer) (Struct, error) {
	addr, err := resolvePointerOffset(val, base)
	if err != nil {
		return Struct{}, err
	}
	sz := val.structSize()
	if !s.regionInBounds(addr, sz.totalSize()) {
		return Struct{}, ErrMalformedPointer
	}
	return Struct{seg: s, off: addr, size: sz}, nil
}

func (s *Segment) readListPtr(base Address, val wirePointer) (List, error) {
	addr, err := resolvePointerOffset(val, base)
	if err != nil {
		return List{}, err
	}
	span, ok := val.totalListSize()
	if !ok {
		return List{}, ErrOverflow
	}
	if !s.regionInBounds(addr, span) {
		return List{}, ErrMalformedPointer
	}

	switch val.listKind() {
	case compositeList:
		return s.readCompositeListPtr(addr)
	case bit1List:
		return List{seg: s, off: addr, length: val.numListElements(), flags: listIsBit}, nil
	default:
		return List{seg: s, size: val.elementSize(), off: addr, length: val.numListElements()}, nil
	}
}

// readCompositeListPtr reads the inline struct-size tag word that precedes
// a composite list's elements and builds the List describing them.
func (s *Segment) readCompositeListPtr(tagAddr Address) (List, error) {
	tag := s.readRawPointer(tagAddr)
	if tag.kind() != structKind {
		return List{}, errBadTag
	}
	elemsAddr, ok := tagAddr.addSize(wordSize)
	if !ok {
		return List{}, ErrOverflow
	}
	elemSize := tag.structSize()
	count := int32(tag.offset())
	span, ok := elemSize.totalSize().times(count)
	if !ok {
		return List{}, ErrOverflow
	}
	if !s.regionInBounds(elemsAddr, span) {
		return List{}, ErrMalformedPointer
	}
	return List{seg: s, size: elemSize, off: elemsAddr, length: count, flags: listIsComposite}, nil
}

// resolveFarPointer reads the pointer at (s, paddr) and, if it is a far or
// double-far pointer, follows it with far-following disabled on the
// landing pad, per spec.md §4.2 step 2.
func (s *Segment) resolveFarPointer(paddr Address) (dst *Segment, base Address, word wirePointer, err error) {
	word = s.readRawPointer(paddr)
	switch word.kind() {
	case doubleFarKind:
		return s.followDoubleFar(word)
	case farKind:
		return s.followSingleFar(word)
	default:
		next, ok := paddr.addSize(wordSize)
		if !ok {
			return nil, 0, 0, ErrOverflow
		}
		return s, next, word, nil
	}
}

// followSingleFar resolves a one-hop far pointer to the near pointer it
// lands on.
func (s *Segment) followSingleFar(word wirePointer) (*Segment, Address, wirePointer, error) {
	landingSeg, err := s.lookupSegment(word.farSegment())
	if err != nil {
		return nil, 0, 0, err
	}
	landingAddr := word.farAddress()
	if !landingSeg.regionInBounds(landingAddr, wordSize) {
		return nil, 0, 0, ErrMalformedPointer
	}
	base, ok := landingAddr.addSize(wordSize)
	if !ok {
		return nil, 0, 0, ErrOverflow
	}
	return landingSeg, base, landingSeg.readRawPointer(landingAddr), nil
}

// followDoubleFar resolves a two-word landing pad (a far pointer plus a
// struct/list tag word) into the segment and synthetic near pointer it
// describes.
func (s *Segment) followDoubleFar(word wirePointer) (*Segment, Address, wirePointer, error) {
	padSeg, err := s.lookupSegment(word.farSegment())
	if err != nil {
		return nil, 0, 0, err
	}
	padAddr := word.farAddress()
	if !padSeg.regionInBounds(padAddr, wordSize*2) {
		return nil, 0, 0, ErrMalformedPointer
	}
	farWord := padSeg.readRawPointer(padAddr)
	if farWord.kind() != farKind {
		return nil, 0, 0, errBadLandingPad
	}
	tagAddr, ok := padAddr.addSize(wordSize)
	if !ok {
		return nil, 0, 0, ErrOverflow
	}
	tagWord := padSeg.readRawPointer(tagAddr)
	if k := tagWord.kind(); (k != structKind && k != listKind) || tagWord.offset() != 0 {
		return nil, 0, 0, errBadLandingPad
	}
	targetSeg, err := s.lookupSegment(farWord.farSegment())
	if err != nil {
		return nil, 0, 0, err
	}
	return targetSeg, 0, landingPadNearPointer(farWord, tagWord), nil
}

// writePtr encodes src into the pointer word at off, copying src into s's
// message first if needed (cross-message, or forceCopy requested), and
// emitting a near, far, or double-far pointer depending on whether src
// ends up in the same segment as off.
func (s *Segment) writePtr(off Address, src Ptr, forceCopy bool) error {
	if !src.IsValid() {
		s.writeRawPointer(off, 0)
		return nil
	}
	switch src.flags.ptrType() {
	case structPtrType:
		return s.writeStructPtr(off, src, forceCopy)
	case listPtrType:
		return s.writeListPtr(off, src, forceCopy)
	case interfacePtrType:
		return s.writeInterfacePtr(off, src)
	default:
		panic("writePtr: unreachable ptr type")
	}
}

func (s *Segment) writeStructPtr(off Address, src Ptr, forceCopy bool) error {
	st := src.Struct()
	if st.size.isZero() {
		// Zero-sized structs are encoded with offset -1 so they are
		// never confused with Null; no allocation needed.
		s.writeRawPointer(off, rawStructPointer(-1, ObjectSize{}))
		return nil
	}
	if forceCopy || src.seg.msg != s.msg || st.isListMember {
		clone, err := cloneStructInto(s, st)
		if err != nil {
			return err
		}
		st = clone
	}
	return s.emitPointer(off, st.seg, st.off, rawStructPointer(0, st.size))
}

func cloneStructInto(s *Segment, src Struct) (Struct, error) {
	seg, addr, err := alloc(s, src.size.totalSize())
	if err != nil {
		return Struct{}, err
	}
	dst := Struct{seg: seg, off: addr, size: src.size, depthLimit: maxDepth}
	if err := copyStruct(dst, src); err != nil {
		return Struct{}, err
	}
	return dst, nil
}

func (s *Segment) writeListPtr(off Address, src Ptr, forceCopy bool) error {
	l := src.List()
	if forceCopy || src.seg.msg != s.msg {
		clone, err := cloneListInto(s, l)
		if err != nil {
			return err
		}
		l = clone
	}
	addr := l.off
	if l.flags&listIsComposite != 0 {
		addr -= Address(wordSize)
	}
	return s.emitPointer(off, l.seg, addr, l.raw())
}

func cloneListInto(s *Segment, src List) (List, error) {
	sz := src.allocSize()
	seg, addr, err := alloc(s, sz)
	if err != nil {
		return List{}, err
	}
	dst := List{seg: seg, off: addr, length: src.length, size: src.size, flags: src.flags, depthLimit: maxDepth}
	if dst.flags&listIsComposite != 0 {
		seg.writeRawPointer(addr, src.seg.readRawPointer(src.off-Address(wordSize)))
		newOff, ok := dst.off.addSize(wordSize)
		if !ok {
			return List{}, ErrOverflow
		}
		dst.off = newOff
		sz -= wordSize
	}
	if dst.flags&listIsBit != 0 || dst.size.PointerCount == 0 {
		end, _ := src.off.addSize(sz)
		copy(seg.data[dst.off:], src.seg.data[src.off:end])
		return dst, nil
	}
	for i := 0; i < src.Len(); i++ {
		if err := copyStruct(dst.Struct(i), src.Struct(i)); err != nil {
			return List{}, err
		}
	}
	return dst, nil
}

func (s *Segment) writeInterfacePtr(off Address, src Ptr) error {
	iface := src.Interface()
	if src.seg.msg != s.msg {
		id := s.msg.AddCap(iface.Client())
		iface = NewInterface(s, id)
	}
	s.writeRawPointer(off, iface.value(off))
	return nil
}

// emitPointer writes the pointer word at off that resolves to (dstSeg,
// dstAddr), choosing a near, far, or double-far encoding depending on
// whether dstSeg is reachable in one hop and how much spare room it has.
func (s *Segment) emitPointer(off Address, dstSeg *Segment, dstAddr Address, raw wirePointer) error {
	if dstSeg == s {
		s.writeRawPointer(off, raw.withOffset(nearPointerOffset(off, dstAddr)))
		return nil
	}
	if hasCapacity(dstSeg.data, wordSize) {
		_, padAddr, err := alloc(dstSeg, wordSize)
		if err != nil {
			return err
		}
		dstSeg.writeRawPointer(padAddr, raw.withOffset(nearPointerOffset(padAddr, dstAddr)))
		s.writeRawPointer(off, rawFarPointer(dstSeg.id, padAddr))
		return nil
	}
	padSeg, padAddr, err := alloc(s, wordSize*2)
	if err != nil {
		return err
	}
	padSeg.writeRawPointer(padAddr, rawFarPointer(dstSeg.id, dstAddr))
	padSeg.writeRawPointer(padAddr+Address(wordSize), raw)
	s.writeRawPointer(off, rawDoubleFarPointer(padSeg.id, padAddr))
	return nil
}
