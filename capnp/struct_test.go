package capnp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructScalarRoundTrip(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)

	s, err := NewStruct(seg, ObjectSize{DataSize: 16, PointerCount: 1})
	require.NoError(t, err)

	s.SetUint64(0, 0xdeadbeefcafebabe)
	s.SetUint32(8, 42)
	s.SetBit(BitOffset(96), true)

	require.Equal(t, uint64(0xdeadbeefcafebabe), s.Uint64(0))
	require.Equal(t, uint32(42), s.Uint32(8))
	require.True(t, s.Bit(BitOffset(96)))
	require.False(t, s.Bit(BitOffset(97)))
}

func TestStructTextPointerRoundTrip(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)

	s, err := NewStruct(seg, ObjectSize{PointerCount: 1})
	require.NoError(t, err)

	txt, err := NewText(seg, "hello, vat")
	require.NoError(t, err)
	require.NoError(t, s.SetPtr(0, txt.ToPtr()))

	p, err := s.Ptr(0)
	require.NoError(t, err)
	require.Equal(t, "hello, vat", p.Text())
}

func TestStructNullPointerReadsAsInvalid(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)
	s, err := NewStruct(seg, ObjectSize{PointerCount: 2})
	require.NoError(t, err)

	p, err := s.Ptr(0)
	require.NoError(t, err)
	require.False(t, p.IsValid())

	p, err = s.Ptr(5) // out of range for this struct's pointer section
	require.NoError(t, err)
	require.False(t, p.IsValid())
}

func TestCompositeListOfStructs(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)

	l, err := NewCompositeList(seg, ObjectSize{DataSize: 8}, 3)
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())

	for i := 0; i < 3; i++ {
		l.Struct(i).SetUint64(0, uint64(i*10))
	}
	for i := 0; i < 3; i++ {
		require.Equal(t, uint64(i*10), l.Struct(i).Uint64(0))
	}
}

func TestBitListPacksLSBFirst(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)

	l, err := NewBitList(seg, 10)
	require.NoError(t, err)
	pattern := []bool{true, false, true, true, false, false, true, false, true, true}
	for i, v := range pattern {
		l.SetBitAt(i, v)
	}
	for i, v := range pattern {
		require.Equal(t, v, l.BitAt(i), "bit %d", i)
	}
	// Bit i lives in byte i/8 under mask 1<<(i%8).
	require.Equal(t, []byte{0x4d, 0x03}, l.seg.slice(l.off, 2))
}

func TestCrossMessagePtrCopiesStructs(t *testing.T) {
	_, seg1, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)
	inner, err := NewStruct(seg1, ObjectSize{DataSize: 8})
	require.NoError(t, err)
	inner.SetUint64(0, 99)

	_, seg2, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)
	outer, err := NewStruct(seg2, ObjectSize{PointerCount: 1})
	require.NoError(t, err)
	require.NoError(t, outer.SetPtr(0, inner.ToPtr()))

	// mutate the original after copying; the copy must be independent.
	inner.SetUint64(0, 1)

	got, err := outer.Ptr(0)
	require.NoError(t, err)
	require.Equal(t, uint64(99), got.Struct().Uint64(0))
}
