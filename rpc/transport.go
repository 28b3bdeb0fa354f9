package rpc

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/kwohlfahrt/ecapnp/capnp"
)

// Transport is how a Vat exchanges rpc.Message values with its peer. A vat
// never touches bytes directly; it only ever calls SendMessage/RecvMessage.
type Transport interface {
	SendMessage(ctx context.Context, m Message) error
	RecvMessage(ctx context.Context) (Message, error)
	Close() error
}

// streamTransport is the default Transport, framing messages per spec.md
// §4.4 over a blocking byte stream.
type streamTransport struct {
	rwc io.ReadWriteCloser
	dec *capnp.Decoder
	enc *capnp.Encoder
}

// NewStreamTransport wraps rwc in the spec.md §4.4 framing.
func NewStreamTransport(rwc io.ReadWriteCloser) Transport {
	return &streamTransport{
		rwc: rwc,
		dec: capnp.NewDecoder(rwc),
		enc: capnp.NewEncoder(rwc),
	}
}

func (t *streamTransport) SendMessage(ctx context.Context, m Message) error {
	return t.enc.Encode(m.Segment().Message())
}

func (t *streamTransport) RecvMessage(ctx context.Context) (Message, error) {
	msg, err := t.dec.Decode()
	if err != nil {
		return Message{}, err
	}
	root, err := msg.Root()
	if err != nil {
		return Message{}, err
	}
	return MessageFromPtr(root), nil
}

func (t *streamTransport) Close() error { return t.rwc.Close() }

// Default retry tuning for SafeTransport: conservative enough to ride out a
// blip in the underlying connection without hammering it, but bounded so a
// truly dead connection still surfaces an error instead of hanging forever.
const (
	defaultSleepBetweenTemporaryError = 500 * time.Millisecond
	defaultMaxRetries                 = 3
)

// temporaryReadWriteCloser retries a Read that fails with a temporary error
// up to maxRetries times, sleeping between attempts, before giving up.
type temporaryReadWriteCloser struct {
	io.ReadWriteCloser

	retries             int
	sleepBetweenRetries time.Duration
	maxRetries          int
}

func (r *temporaryReadWriteCloser) Read(p []byte) (int, error) {
	n, err := r.ReadWriteCloser.Read(p)
	if n == 0 && err != nil && isTemporaryError(err) {
		if r.retries >= r.maxRetries {
			return 0, errors.Wrap(err, "rpc: read failed after multiple temporary errors")
		}
		r.retries++
		time.Sleep(r.sleepBetweenRetries)
		return 0, nil
	}
	if err == nil {
		r.retries = 0
	}
	return n, err
}

func isTemporaryError(e error) bool {
	type temp interface{ Temporary() bool }
	t, ok := e.(temp)
	return ok && t.Temporary()
}

// SafeTransport wraps rw so transient read errors on the underlying
// connection are retried rather than immediately killing the session.
func SafeTransport(rw io.ReadWriteCloser) Transport {
	return NewStreamTransport(&temporaryReadWriteCloser{
		ReadWriteCloser:     rw,
		maxRetries:          defaultMaxRetries,
		sleepBetweenRetries: defaultSleepBetweenTemporaryError,
	})
}
