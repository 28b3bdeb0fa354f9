package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kwohlfahrt/ecapnp/capnp"
)

func noopHandle(*Call) (capnp.Struct, error) { return capnp.Struct{}, nil }

func TestExportForDedupsSameClient(t *testing.T) {
	tb := newTables()
	c := &LocalClient{Handle: noopHandle}

	id1 := tb.exportFor(c)
	id2 := tb.exportFor(c)
	require.Equal(t, id1, id2)
	require.EqualValues(t, 2, tb.exports[id1].refCount)
}

func TestExportForDistinctClientsGetDistinctIds(t *testing.T) {
	tb := newTables()
	a := &LocalClient{Handle: noopHandle}
	b := &LocalClient{Handle: noopHandle}

	idA := tb.exportFor(a)
	idB := tb.exportFor(b)
	require.NotEqual(t, idA, idB)
}

func TestReleaseExportClosesAtZero(t *testing.T) {
	tb := newTables()
	c := &signalClient{closed: make(chan struct{})}
	tb.exportFor(c)
	tb.exportFor(c) // refCount == 2

	tb.releaseExport(tb.exportByCap[c], 1)
	require.NotNil(t, tb.findExport(0))
	select {
	case <-c.closed:
		t.Fatal("client closed while still referenced")
	default:
	}

	tb.releaseExport(0, 1)
	require.Nil(t, tb.findExport(0))
	select {
	case <-c.closed:
	default:
		t.Fatal("client not closed when its ref-count reached zero")
	}
}

func TestAddImportReusesEntry(t *testing.T) {
	tb := newTables()
	calls := 0
	make1 := func() Client {
		calls++
		return ErrorClient{Err: errFixture}
	}

	c1 := tb.addImport(ImportID(5), make1)
	c2 := tb.addImport(ImportID(5), make1)
	require.Equal(t, c1.(ErrorClient).Err, c2.(ErrorClient).Err)
	require.Equal(t, 1, calls, "makeClient should only run once per import id")
	require.EqualValues(t, 2, tb.imports[ImportID(5)].refCount)
}

func TestReleaseImportRemovesAtZero(t *testing.T) {
	tb := newTables()
	tb.addImport(ImportID(1), func() Client { return ErrorClient{Err: errFixture} })
	tb.releaseImport(ImportID(1), 1)
	require.Nil(t, tb.imports[ImportID(1)])
}

func TestNewQuestionAndPopQuestion(t *testing.T) {
	tb := newTables()
	q := tb.newQuestion(capnp.Method{InterfaceID: 1, MethodID: 2})
	require.NotNil(t, tb.questions[q.id])

	popped := tb.popQuestion(q.id)
	require.Equal(t, q, popped)
	require.Nil(t, tb.questions[q.id])

	// the id should now be reusable.
	q2 := tb.newQuestion(capnp.Method{})
	require.Equal(t, q.id, q2.id)
}

func TestMarkDownBreaksQuestionsAndAnswers(t *testing.T) {
	tb := newTables()
	q := tb.newQuestion(capnp.Method{InterfaceID: 1, MethodID: 2})

	canceled := false
	a := tb.insertAnswer(AnswerID(3), func() { canceled = true })

	tb.markDown(errFixture)

	require.True(t, q.down)
	require.True(t, a.down)
	require.True(t, canceled, "markDown should cancel a live answer's handler")

	_, err, done := q.result.Peek()
	require.True(t, done)
	require.Equal(t, errFixture, err)

	_, err, done = a.result.Peek()
	require.True(t, done)
	require.Equal(t, errFixture, err)

	require.Empty(t, tb.questions)
	require.Empty(t, tb.answers)
}

func TestInsertAnswerRejectsDuplicate(t *testing.T) {
	tb := newTables()
	a := tb.insertAnswer(AnswerID(9), nil)
	require.NotNil(t, a)

	dup := tb.insertAnswer(AnswerID(9), nil)
	require.Nil(t, dup)

	tb.popAnswer(AnswerID(9))
	a2 := tb.insertAnswer(AnswerID(9), nil)
	require.NotNil(t, a2)
}
