package capnp

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestMessage(t *testing.T, text string) *Message {
	t.Helper()
	msg, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)
	s, err := NewStruct(seg, ObjectSize{DataSize: 8, PointerCount: 1})
	require.NoError(t, err)
	s.SetUint64(0, 7)
	txt, err := NewText(seg, text)
	require.NoError(t, err)
	require.NoError(t, s.SetPtr(0, txt.ToPtr()))
	require.NoError(t, msg.SetRoot(s.ToPtr()))
	return msg
}

func TestEncoderDecoderRoundTrip(t *testing.T) {
	msg := buildTestMessage(t, "roundtrip")

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(msg))

	dec := NewDecoder(&buf)
	out, err := dec.Decode()
	require.NoError(t, err)

	root, err := out.Root()
	require.NoError(t, err)
	require.Equal(t, uint64(7), root.Struct().Uint64(0))
	p, err := root.Struct().Ptr(0)
	require.NoError(t, err)
	require.Equal(t, "roundtrip", p.Text())
}

func TestDecoderEOFOnEmptyStream(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil))
	_, err := dec.Decode()
	require.ErrorIs(t, err, io.EOF)
}

func TestEncoderOddSegmentCountPadsHeader(t *testing.T) {
	// A single-segment message has segCount=1 (odd), so per spec.md's
	// literal framing rule the header table is padded to a whole number
	// of words (one extra uint32 of zero padding after the one size).
	msg := buildTestMessage(t, "x")
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(msg))

	// header = 4 (count-1) + 4 (one size) + 4 (pad) = 12 bytes before body.
	require.True(t, buf.Len() > 12)
	header := buf.Bytes()[:12]
	pad := header[8:12]
	require.Equal(t, []byte{0, 0, 0, 0}, pad)
}

func TestStreamParserFeedInChunks(t *testing.T) {
	msg := buildTestMessage(t, "chunked")
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(msg))
	raw := buf.Bytes()

	var p StreamParser
	var got [][][]byte
	for i := 0; i < len(raw); i++ {
		msgs, err := p.Feed(raw[i : i+1])
		require.NoError(t, err)
		got = append(got, msgs...)
	}
	require.Len(t, got, 1)
	require.Len(t, got[0], 1)
}

func TestStreamParserRejectsAbsurdSegmentCount(t *testing.T) {
	var p StreamParser
	header := make([]byte, 4)
	header[0], header[1], header[2], header[3] = 0xff, 0xff, 0xff, 0xff
	_, err := p.Feed(header)
	require.Error(t, err)
}
