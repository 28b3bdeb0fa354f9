package capnp

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// maxStreamSegments bounds the seg_count_minus_one field read off the wire,
// matching the message-size hardening readLimiter already gives traversal.
const maxStreamSegments = 1 << 16

var errBadSegmentCount = errors.New("capnp: invalid segment count in stream header")

type streamState int

const (
	needHeader streamState = iota
	needSegmentSizes
	needSegmentBodies
)

// StreamParser is the stream-safe framing parser of spec.md §4.4: it accepts
// arbitrary byte chunks via Feed and yields every whole message completed so
// far. Internally it holds exactly one of three states ("need header", "need
// segment sizes", "need segment bodies") and advances as bytes arrive,
// carrying any unconsumed partial state across Feed calls.
type StreamParser struct {
	state   streamState
	buf     []byte
	sizes   []uint32
	bodies  [][]byte
	bodyIdx int
}

// Feed appends chunk to the parser's internal buffer and returns every
// message it can fully decode from the accumulated bytes. Each message is
// returned as its ordered list of segment bodies. Bytes belonging to a
// message still in progress are retained internally, not returned as
// leftover: the next Feed call picks up where this one left off.
func (p *StreamParser) Feed(chunk []byte) ([][][]byte, error) {
	p.buf = append(p.buf, chunk...)
	var msgs [][][]byte
	for {
		switch p.state {
		case needHeader:
			if len(p.buf) < 4 {
				return msgs, nil
			}
			segCount := int(binary.LittleEndian.Uint32(p.buf[:4])) + 1
			if segCount <= 0 || segCount > maxStreamSegments {
				return msgs, errBadSegmentCount
			}
			p.buf = p.buf[4:]
			p.sizes = make([]uint32, segCount)
			p.state = needSegmentSizes
		case needSegmentSizes:
			tableBytes := len(p.sizes) * 4
			pad := 0
			if len(p.sizes)%2 == 1 {
				pad = 4
			}
			need := tableBytes + pad
			if len(p.buf) < need {
				return msgs, nil
			}
			for i := range p.sizes {
				p.sizes[i] = binary.LittleEndian.Uint32(p.buf[i*4:])
			}
			p.buf = p.buf[need:]
			p.bodies = make([][]byte, len(p.sizes))
			p.bodyIdx = 0
			p.state = needSegmentBodies
		case needSegmentBodies:
			for p.bodyIdx < len(p.sizes) {
				need := int(p.sizes[p.bodyIdx]) * int(wordSize)
				if len(p.buf) < need {
					return msgs, nil
				}
				body := make([]byte, need)
				copy(body, p.buf[:need])
				p.bodies[p.bodyIdx] = body
				p.buf = p.buf[need:]
				p.bodyIdx++
			}
			msgs = append(msgs, p.bodies)
			p.sizes = nil
			p.bodies = nil
			p.bodyIdx = 0
			p.state = needHeader
		}
	}
}

// Decoder reads a stream of framed messages off an io.Reader, for transports
// that hand the vat a blocking byte stream rather than discrete chunks.
type Decoder struct {
	r   *bufio.Reader
	buf []byte
}

// NewDecoder returns a decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads exactly one framed message and returns a *Message backed by
// its decoded segments; later allocations into it add room through a
// MultiSegmentArena.
func (d *Decoder) Decode() (*Message, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(d.r, countBuf[:]); err != nil {
		return nil, err
	}
	segCount := int(binary.LittleEndian.Uint32(countBuf[:])) + 1
	if segCount <= 0 || segCount > maxStreamSegments {
		return nil, errBadSegmentCount
	}
	sizes := make([]uint32, segCount)
	tableBytes := segCount * 4
	if segCount%2 == 1 {
		tableBytes += 4
	}
	table := make([]byte, tableBytes)
	if _, err := io.ReadFull(d.r, table); err != nil {
		return nil, err
	}
	for i := range sizes {
		sizes[i] = binary.LittleEndian.Uint32(table[i*4:])
	}
	segs := make([][]byte, segCount)
	for i, sz := range sizes {
		body := make([]byte, int(sz)*int(wordSize))
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, err
		}
		segs[i] = body
	}
	arena := NewMultiSegmentArenaFromSegments(segs)
	msg := &Message{Arena: arena}
	msg.readLim.reset(defaultTraverseLimit)
	return msg, nil
}

// Encoder writes framed messages to an io.Writer.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes msg's current segments to the stream in the layout of
// spec.md §4.4: header, then bodies, emitted fresh every call rather than
// rewritten in place.
func (e *Encoder) Encode(msg *Message) error {
	n := msg.NumSegments()
	var header []byte
	header = binary.LittleEndian.AppendUint32(header, uint32(n-1))
	segs := make([][]byte, n)
	for i := int64(0); i < n; i++ {
		s, err := msg.Segment(SegmentID(i))
		if err != nil {
			return err
		}
		segs[i] = s.Data()
		header = binary.LittleEndian.AppendUint32(header, uint32(len(segs[i]))/uint32(wordSize))
	}
	if n%2 == 1 {
		header = binary.LittleEndian.AppendUint32(header, 0)
	}
	if _, err := e.w.Write(header); err != nil {
		return err
	}
	for _, b := range segs {
		if _, err := e.w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
