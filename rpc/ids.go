package rpc

// QuestionID identifies an outbound call this vat is waiting on an answer
// for.
type QuestionID uint32

// AnswerID identifies an inbound call this vat is computing a result for.
// Answer ids are assigned by the peer (they reuse the peer's question id).
type AnswerID uint32

// ExportID identifies a local capability this vat has handed to its peer.
type ExportID uint32

// ImportID identifies a capability the peer has handed to this vat.
type ImportID uint32

// idgen hands out monotonically increasing ids, reusing released ones so a
// long-lived connection's tables don't grow without bound. Spec.md §3's
// invariant (v) — a question id is never reused before finish — is the
// caller's job: release only after the table entry is actually gone.
type idgen struct {
	next uint32
	free []uint32
}

func (g *idgen) alloc() uint32 {
	if n := len(g.free); n > 0 {
		id := g.free[n-1]
		g.free = g.free[:n-1]
		return id
	}
	id := g.next
	g.next++
	return id
}

func (g *idgen) release(id uint32) {
	g.free = append(g.free, id)
}
