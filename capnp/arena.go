package capnp

// SingleSegmentArena is an Arena that keeps exactly one, growing segment.
// It is the simplest segment store: every alloc grows the same buffer,
// matching spec.md §4.1's "may place the request in any segment with free
// room" freedom degenerated to a single segment.
type SingleSegmentArena struct {
	data []byte
}

// NewSingleSegmentArena wraps an existing buffer (may be nil) as the sole
// segment of a new message.
func NewSingleSegmentArena(b []byte) *SingleSegmentArena {
	return &SingleSegmentArena{data: b}
}

func (a *SingleSegmentArena) NumSegments() int64 { return 1 }

func (a *SingleSegmentArena) Data(id SegmentID) ([]byte, error) {
	if id != 0 {
		return nil, ErrOutOfBounds
	}
	return a.data, nil
}

func (a *SingleSegmentArena) Allocate(segHint SegmentID, existing map[SegmentID]*Segment, sz Size) (SegmentID, []byte, error) {
	if hasCapacity(a.data, sz) {
		a.data = append(a.data, make([]byte, sz)...)
		return 0, a.data, nil
	}
	inc := nextAllocSize(Size(len(a.data)), sz)
	buf := make([]byte, len(a.data), len(a.data)+int(inc))
	copy(buf, a.data)
	buf = append(buf, make([]byte, sz)...)
	a.data = buf
	return 0, buf, nil
}

// MultiSegmentArena is an Arena that places each allocation in whichever
// existing segment has room, or creates a new segment, per spec.md §4.1.
// An optional MaxSegmentSize bounds any one segment's growth so allocation
// beyond it forces a new segment (and therefore a far pointer) instead of
// growing forever.
type MultiSegmentArena struct {
	segs           [][]byte
	MaxSegmentSize Size // 0 means unbounded
	MaxTotalSize   Size // 0 means unbounded; guards ErrOutOfMemory
}

// NewMultiSegmentArena creates an arena with no segments yet.
func NewMultiSegmentArena() *MultiSegmentArena {
	return &MultiSegmentArena{}
}

// NewMultiSegmentArenaFromSegments wraps already-decoded segment bodies (as
// produced by StreamParser) as a read-mostly arena: Allocate still works,
// appending past what was decoded, matching how a vat both reads an inbound
// message and, for results embedded in the same message, writes into it.
func NewMultiSegmentArenaFromSegments(segs [][]byte) *MultiSegmentArena {
	return &MultiSegmentArena{segs: segs}
}

func (a *MultiSegmentArena) NumSegments() int64 { return int64(len(a.segs)) }

func (a *MultiSegmentArena) Data(id SegmentID) ([]byte, error) {
	if int(id) >= len(a.segs) {
		return nil, ErrOutOfBounds
	}
	return a.segs[id], nil
}

func (a *MultiSegmentArena) totalSize() Size {
	var total Size
	for _, s := range a.segs {
		total += Size(len(s))
	}
	return total
}

func (a *MultiSegmentArena) Allocate(segHint SegmentID, existing map[SegmentID]*Segment, sz Size) (SegmentID, []byte, error) {
	if int(segHint) < len(a.segs) {
		cur := a.currentData(segHint, existing)
		if hasCapacity(cur, sz) && (a.MaxSegmentSize == 0 || Size(len(cur))+sz <= a.MaxSegmentSize) {
			a.segs[segHint] = append(cur, make([]byte, sz)...)
			return segHint, a.segs[segHint], nil
		}
	}
	for id := range a.segs {
		if SegmentID(id) == segHint {
			continue
		}
		cur := a.currentData(SegmentID(id), existing)
		if hasCapacity(cur, sz) && (a.MaxSegmentSize == 0 || Size(len(cur))+sz <= a.MaxSegmentSize) {
			a.segs[id] = append(cur, make([]byte, sz)...)
			return SegmentID(id), a.segs[id], nil
		}
	}
	if a.MaxTotalSize != 0 && a.totalSize()+sz > a.MaxTotalSize {
		return 0, nil, ErrOutOfMemory
	}
	id := SegmentID(len(a.segs))
	buf := make([]byte, sz, nextAllocSize(0, sz))
	a.segs = append(a.segs, buf)
	return id, buf, nil
}

// currentData returns the freshest view of a segment: the live Segment's
// data if one has been materialized (it may have grown past what a.segs
// records via in-place appends elsewhere), else the arena's own copy.
func (a *MultiSegmentArena) currentData(id SegmentID, existing map[SegmentID]*Segment) []byte {
	if s := existing[id]; s != nil {
		return s.data
	}
	return a.segs[id]
}

// nextAllocSize picks a new capacity for a segment that must grow by at
// least need bytes: double the current size (amortizing future allocs)
// but always room for at least need.
func nextAllocSize(current, need Size) Size {
	grown := current * 2
	if grown < current+need {
		grown = current + need
	}
	if grown < wordSize {
		grown = wordSize
	}
	return grown
}
