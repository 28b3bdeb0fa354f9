package capnp

import (
	"github.com/pkg/errors"
)

// A SegmentID is a numeric identifier for a Segment within a Message.
type SegmentID uint32

// A Segment is a single word-aligned, growable byte buffer belonging to a
// Message. It is the unit the segment store hands readers and writers.
type Segment struct {
	msg  *Message
	id   SegmentID
	data []byte
}

// Message returns the Message that owns s.
func (s *Segment) Message() *Message { return s.msg }

// ID returns the segment's id.
func (s *Segment) ID() SegmentID { return s.id }

// Data returns the raw bytes backing the segment.
func (s *Segment) Data() []byte { return s.data }

func (s *Segment) inBounds(addr Address) bool {
	return addr < Address(len(s.data))
}

func (s *Segment) regionInBounds(base Address, sz Size) bool {
	end, ok := base.addSize(sz)
	if !ok {
		return false
	}
	return end <= Address(len(s.data))
}

func (s *Segment) slice(base Address, sz Size) []byte {
	return s.data[base : base+Address(sz)]
}

// littleEndianGet assembles an unsigned integer from the n bytes at addr,
// least-significant byte first.
func littleEndianGet(b []byte) uint64 {
	var v uint64
	for i, c := range b {
		v |= uint64(c) << (8 * uint(i))
	}
	return v
}

// littleEndianPut scatters v's low len(b) bytes into b, least-significant
// byte first.
func littleEndianPut(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func (s *Segment) readUint8(addr Address) uint8 {
	return s.slice(addr, 1)[0]
}

func (s *Segment) readUint16(addr Address) uint16 {
	return uint16(littleEndianGet(s.slice(addr, 2)))
}

func (s *Segment) readUint32(addr Address) uint32 {
	return uint32(littleEndianGet(s.slice(addr, 4)))
}

func (s *Segment) readUint64(addr Address) uint64 {
	return littleEndianGet(s.slice(addr, 8))
}

func (s *Segment) writeUint8(addr Address, v uint8) {
	s.slice(addr, 1)[0] = v
}

func (s *Segment) writeUint16(addr Address, v uint16) {
	littleEndianPut(s.slice(addr, 2), uint64(v))
}

func (s *Segment) writeUint32(addr Address, v uint32) {
	littleEndianPut(s.slice(addr, 4), uint64(v))
}

func (s *Segment) writeUint64(addr Address, v uint64) {
	littleEndianPut(s.slice(addr, 8), v)
}

// readRawPointer and writeRawPointer move a pointer word between a
// segment's bytes and its decoded wirePointer form; every struct/list/far
// pointer access in this package funnels through these two.
func (s *Segment) readRawPointer(addr Address) wirePointer {
	word := s.readUint64(addr)
	return wirePointer(word)
}

func (s *Segment) writeRawPointer(addr Address, v wirePointer) {
	s.writeUint64(addr, uint64(v))
}

// lookupSegment resolves a far pointer's target segment id, short-circuiting
// the common case where the far pointer stays within its own segment.
func (s *Segment) lookupSegment(id SegmentID) (*Segment, error) {
	if id == s.id {
		return s, nil
	}
	return s.msg.Segment(id)
}

// Arena is the segment store's allocation backend: given a minimum size, it
// returns a segment (existing or newly created) with enough free room.
// Implementations may place the request in any segment that has room, or
// create a new one, per spec.md §4.1.
type Arena interface {
	// NumSegments returns the number of segments currently known.
	NumSegments() int64
	// Data returns the current bytes of segment id.
	Data(id SegmentID) ([]byte, error)
	// Allocate finds or creates room for sz more bytes, preferring
	// segHint if it still has room, and returns the chosen segment id and
	// the full (possibly grown) backing slice for that segment; the new
	// room is the last sz bytes of that slice.
	Allocate(segHint SegmentID, existing map[SegmentID]*Segment, sz Size) (id SegmentID, data []byte, err error)
}

// ErrOutOfMemory is returned by a size-capped Arena once its budget is
// exhausted, per spec.md §4.1.
var ErrOutOfMemory = errors.New("capnp: out of memory")

// A Message is a Cap'n Proto message: an ordered set of segments sharing a
// capability table. It is the segment store described in spec.md §3/§4.1.
type Message struct {
	Arena Arena

	// CapTable holds the capabilities referenced by Interface pointers in
	// this message, indexed by CapabilityID.
	CapTable []Client

	segs    map[SegmentID]*Segment
	readLim readLimiter

	// DepthLimit overrides the default maxDepth if non-zero.
	DepthLimit uint
}

func (m *Message) depthLimit() uint {
	if m.DepthLimit != 0 {
		return m.DepthLimit
	}
	return maxDepth
}

// NewMessage creates a message backed by arena, reserving the first word of
// segment 0 for the root pointer, and returns its first segment.
func NewMessage(arena Arena) (*Message, *Segment, error) {
	msg := &Message{Arena: arena}
	msg.readLim.reset(defaultTraverseLimit)
	first, err := msg.Segment(0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "capnp: new message")
	}
	if !first.regionInBounds(0, wordSize) {
		if _, _, err := alloc(first, wordSize); err != nil {
			return nil, nil, errors.Wrap(err, "capnp: new message")
		}
	}
	return msg, first, nil
}

// Segment returns the segment with the given id, fetching it from the
// arena on first use.
func (m *Message) Segment(id SegmentID) (*Segment, error) {
	if m.segs == nil {
		m.segs = make(map[SegmentID]*Segment)
	}
	if s := m.segs[id]; s != nil {
		return s, nil
	}
	data, err := m.Arena.Data(id)
	if err != nil {
		return nil, errors.Wrapf(err, "capnp: segment %d", id)
	}
	s := &Segment{msg: m, id: id, data: data}
	m.segs[id] = s
	return s, nil
}

// NumSegments returns the number of segments in the message.
func (m *Message) NumSegments() int64 {
	return m.Arena.NumSegments()
}

// ReadLimiter returns the message's read-traversal budget tracker.
func (m *Message) ReadLimiter() *readLimiter { return &m.readLim }

// Reset replaces the message's Arena with arena and clears its cached
// segments, cap table and read budget, forcing a
// re-fetch of segment data on next access. Used after in-place updates via
// update_segment so stale cached slices aren't served.
func (m *Message) Reset(arena Arena) {
	m.Arena = arena
	m.segs = nil
	m.CapTable = nil
	m.readLim.reset(defaultTraverseLimit)
}

// AddCap appends c to the message's capability table, returning its index.
func (m *Message) AddCap(c Client) CapabilityID {
	m.CapTable = append(m.CapTable, c)
	return CapabilityID(len(m.CapTable) - 1)
}

// Root returns the message's root pointer, read from the first word of
// segment 0.
func (m *Message) Root() (Ptr, error) {
	s, err := m.Segment(0)
	if err != nil {
		return Ptr{}, err
	}
	if !s.regionInBounds(0, wordSize) {
		return Ptr{}, nil
	}
	return s.readPtr(0, m.depthLimit())
}

// SetRoot sets the message's root pointer.
func (m *Message) SetRoot(p Ptr) error {
	s, err := m.Segment(0)
	if err != nil {
		return err
	}
	if !s.regionInBounds(0, wordSize) {
		_, _, err := alloc(s, wordSize)
		if err != nil {
			return err
		}
		s, err = m.Segment(0)
		if err != nil {
			return err
		}
	}
	return s.writePtr(0, p, false)
}

// alloc reserves sz bytes (rounded up to a word), preferring segment s,
// and returns the segment it landed in along with the starting address.
// This is the segment store's alloc(segment_hint, words) operation from
// spec.md §4.1; every offset handed back is word-aligned.
func alloc(s *Segment, sz Size) (*Segment, Address, error) {
	sz = sz.padToWord()
	id, data, err := s.msg.Arena.Allocate(s.id, s.msg.segs, sz)
	if err != nil {
		return nil, 0, err
	}
	if s.msg.segs == nil {
		s.msg.segs = make(map[SegmentID]*Segment)
	}
	seg := s.msg.segs[id]
	if seg == nil {
		seg = &Segment{msg: s.msg, id: id}
		s.msg.segs[id] = seg
	}
	addr := Address(len(seg.data))
	seg.data = data
	return seg, addr, nil
}

func hasCapacity(data []byte, sz Size) bool {
	return Size(cap(data)-len(data)) >= sz
}
