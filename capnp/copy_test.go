package capnp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyProducesIndependentMessage(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)

	s, err := NewStruct(seg, ObjectSize{DataSize: 8, PointerCount: 1})
	require.NoError(t, err)
	s.SetUint64(0, 123)
	txt, err := NewText(seg, "original")
	require.NoError(t, err)
	require.NoError(t, s.SetPtr(0, txt.ToPtr()))

	copied, err := Copy(s.ToPtr())
	require.NoError(t, err)

	// Mutating the source after the copy must not affect the copy.
	s.SetUint64(0, 999)

	root, err := copied.Root()
	require.NoError(t, err)
	require.Equal(t, uint64(123), root.Struct().Uint64(0))
	p, err := root.Struct().Ptr(0)
	require.NoError(t, err)
	require.Equal(t, "original", p.Text())

	require.NotSame(t, seg, root.Struct().Segment())
}

func TestCopyOfNullPointer(t *testing.T) {
	copied, err := Copy(Ptr{})
	require.NoError(t, err)
	root, err := copied.Root()
	require.NoError(t, err)
	require.False(t, root.IsValid())
}

func TestCopyOfList(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)
	l, err := NewCompositeList(seg, ObjectSize{DataSize: 8}, 2)
	require.NoError(t, err)
	l.Struct(0).SetUint64(0, 1)
	l.Struct(1).SetUint64(0, 2)

	copied, err := Copy(l.ToPtr())
	require.NoError(t, err)
	root, err := copied.Root()
	require.NoError(t, err)
	cl := root.List()
	require.Equal(t, 2, cl.Len())
	require.Equal(t, uint64(1), cl.Struct(0).Uint64(0))
	require.Equal(t, uint64(2), cl.Struct(1).Uint64(0))
}
