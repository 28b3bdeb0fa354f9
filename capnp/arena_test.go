package capnp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleSegmentArenaGrows(t *testing.T) {
	arena := NewSingleSegmentArena(nil)
	id, data, err := arena.Allocate(0, nil, 16)
	require.NoError(t, err)
	require.Equal(t, SegmentID(0), id)
	require.Len(t, data, 16)

	id, data, err = arena.Allocate(0, nil, 8)
	require.NoError(t, err)
	require.Equal(t, SegmentID(0), id)
	require.Len(t, data, 24)
}

func TestMultiSegmentArenaAllocatesNewSegmentWhenFull(t *testing.T) {
	arena := NewMultiSegmentArena()
	arena.MaxSegmentSize = 16

	id0, _, err := arena.Allocate(0, nil, 16)
	require.NoError(t, err)
	require.Equal(t, SegmentID(0), id0)

	id1, _, err := arena.Allocate(0, nil, 16)
	require.NoError(t, err)
	require.Equal(t, SegmentID(1), id1, "second allocation should spill into a new segment")
}

func TestMultiSegmentArenaOutOfMemory(t *testing.T) {
	arena := NewMultiSegmentArena()
	arena.MaxTotalSize = 8

	_, _, err := arena.Allocate(0, nil, 8)
	require.NoError(t, err)

	_, _, err = arena.Allocate(0, nil, 8)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestMultiSegmentArenaFromSegmentsReadable(t *testing.T) {
	segs := [][]byte{make([]byte, 8), make([]byte, 16)}
	arena := NewMultiSegmentArenaFromSegments(segs)
	require.EqualValues(t, 2, arena.NumSegments())

	d, err := arena.Data(1)
	require.NoError(t, err)
	require.Len(t, d, 16)

	_, err = arena.Data(2)
	require.ErrorIs(t, err, ErrOutOfBounds)
}
