package rpc

import "github.com/kwohlfahrt/ecapnp/capnp"

// question is a Questions table entry: an outbound call this vat is
// waiting on an answer for (spec.md §3's Questions table).
type question struct {
	id        QuestionID
	method    capnp.Method
	result    *Promise
	paramCaps []ExportID // exports created translating this call's params
	canceled  bool

	// down marks a question whose originating vat has gone away (spec.md
	// §4.5/§4.6's DOWN state): the answer, if it ever arrives, is no
	// longer deliverable to anyone.
	down bool
}

// answer is an Answers table entry: an inbound call this vat is computing
// a result for. id is the peer's question id, reused as the answer id.
type answer struct {
	id          AnswerID
	result      *Promise
	resultCaps  []ExportID // exports created translating this call's results
	returnSent  bool
	finishRecvd bool
	cancel      func()

	// down marks an answer whose session died before a Finish arrived
	// (spec.md §4.5/§4.6's DOWN state): its cancel has already run, so a
	// caller-death race landing here is a no-op rather than a double
	// cancel.
	down bool
}

// export is an Exports table entry: a local capability this vat has
// handed to its peer, ref-counted per spec.md §3 invariant (iv).
type export struct {
	id       ExportID
	client   Client
	refCount uint32
}

// imp is an Imports table entry: a capability the peer has handed to this
// vat, represented locally as a Client that issues calls back over the
// wire.
type imp struct {
	id       ImportID
	client   Client
	refCount uint32
}

// tables bundles the vat's four bookkeeping maps plus their id generators.
// It has no lock of its own: the receive loop and caller goroutines all
// read and mutate it while holding Vat.mu.
type tables struct {
	questions   map[QuestionID]*question
	questionIDs idgen

	answers map[AnswerID]*answer

	exports      map[ExportID]*export
	exportIDs    idgen
	exportByCap  map[Client]ExportID // reverse index for dedup, invariant (vi)

	imports   map[ImportID]*imp
	importIDs idgen
}

func newTables() *tables {
	return &tables{
		questions:   make(map[QuestionID]*question),
		answers:     make(map[AnswerID]*answer),
		exports:     make(map[ExportID]*export),
		exportByCap: make(map[Client]ExportID),
		imports:     make(map[ImportID]*imp),
	}
}

func (t *tables) newQuestion(method capnp.Method) *question {
	q := &question{id: QuestionID(t.questionIDs.alloc()), method: method, result: NewPromise()}
	t.questions[q.id] = q
	return q
}

func (t *tables) popQuestion(id QuestionID) *question {
	q := t.questions[id]
	delete(t.questions, id)
	if q != nil {
		t.questionIDs.release(uint32(id))
	}
	return q
}

func (t *tables) insertAnswer(id AnswerID, cancel func()) *answer {
	if _, exists := t.answers[id]; exists {
		return nil
	}
	a := &answer{id: id, result: NewPromise(), cancel: cancel}
	t.answers[id] = a
	return a
}

func (t *tables) popAnswer(id AnswerID) *answer {
	a := t.answers[id]
	delete(t.answers, id)
	return a
}

// exportFor returns the export id for client, creating one (ref-count 1)
// if none exists yet, or bumping an existing one's ref-count (spec.md §4.5
// "allocate or reuse an export id; emit senderHosted{id} and bump
// ref-count").
func (t *tables) exportFor(client Client) ExportID {
	if id, ok := t.exportByCap[client]; ok {
		t.exports[id].refCount++
		return id
	}
	id := ExportID(t.exportIDs.alloc())
	t.exports[id] = &export{id: id, client: client, refCount: 1}
	t.exportByCap[client] = id
	return id
}

// releaseExport drops count references from export id, removing it (and
// closing its client) once the ref-count reaches zero.
func (t *tables) releaseExport(id ExportID, count uint32) {
	e := t.exports[id]
	if e == nil {
		return
	}
	if count >= e.refCount {
		delete(t.exports, id)
		delete(t.exportByCap, e.client)
		e.client.Close()
		return
	}
	e.refCount -= count
}

func (t *tables) findExport(id ExportID) *export { return t.exports[id] }

// addImport returns the Client for a peer-hosted capability, creating an
// import table entry the first time id is seen.
func (t *tables) addImport(id ImportID, makeClient func() Client) Client {
	if im, ok := t.imports[id]; ok {
		im.refCount++
		return im.client
	}
	c := makeClient()
	t.imports[id] = &imp{id: id, client: c, refCount: 1}
	return c
}

// markDown transitions every outstanding question and answer to DOWN: the
// session they belonged to is gone, so no further Return or Finish will
// ever arrive for them. Each question's and answer's Promise is broken
// with err, each live answer handler is canceled, and the tables are left
// empty so a racing Return/Finish dispatched just before the session died
// finds nothing to act on.
func (t *tables) markDown(err error) ([]*question, []*answer) {
	qs := make([]*question, 0, len(t.questions))
	for _, q := range t.questions {
		q.down = true
		qs = append(qs, q)
	}
	ans := make([]*answer, 0, len(t.answers))
	for _, a := range t.answers {
		a.down = true
		ans = append(ans, a)
	}
	t.questions = make(map[QuestionID]*question)
	t.answers = make(map[AnswerID]*answer)

	for _, q := range qs {
		q.result.Break(err)
	}
	for _, a := range ans {
		if a.cancel != nil {
			a.cancel()
		}
		a.result.Break(err)
	}
	return qs, ans
}

func (t *tables) releaseImport(id ImportID, count uint32) {
	im := t.imports[id]
	if im == nil {
		return
	}
	if count >= im.refCount {
		delete(t.imports, id)
		return
	}
	im.refCount -= count
}
