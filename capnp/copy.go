package capnp

// Copy implements the traversal/deep-copy operation: it flattens ref into a
// brand new, single-segment message that stands alone, with no pointer
// reaching back into ref's original message. This is how a vat forwards a
// parameter or result it does not want to keep a live reference into (spec.md
// §4.3): Null copies to a lone zero root word; Struct and List (including
// inline-composite and pointer lists) copy recursively, every pointer slot
// rewritten to a near offset within the new segment.
//
// The returned *Message shares no state with ref's message; its first
// segment's bytes, prefixed with the framing header Encoder writes, are
// what a transport actually puts on the wire.
func Copy(ref Ptr) (*Message, error) {
	msg, seg, err := NewMessage(NewSingleSegmentArena(nil))
	if err != nil {
		return nil, err
	}
	if !seg.regionInBounds(0, wordSize) {
		if _, _, err := alloc(seg, wordSize); err != nil {
			return nil, err
		}
		seg, err = msg.Segment(0)
		if err != nil {
			return nil, err
		}
	}
	if err := seg.writePtr(0, ref, true); err != nil {
		return nil, err
	}
	return msg, nil
}
