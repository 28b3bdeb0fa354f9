package rpc

import (
	"context"

	"github.com/rs/zerolog"
)

// loggingTransport wraps a Transport and logs every message crossing it,
// tagged with its direction and RPC variant. It
// never touches message bytes directly (the wire layout is hand-rolled,
// not schema-compiled, so there is no schema-driven text dump available to
// it the way the teacher's formatMsg had one) — logging is limited to the
// message's Which discriminant; no question, answer or export ids are logged.
type loggingTransport struct {
	Transport
	log zerolog.Logger
}

// NewLoggingTransport returns a Transport that proxies to t, logging a
// debug line for every message sent and received.
func NewLoggingTransport(t Transport, log zerolog.Logger) Transport {
	return &loggingTransport{Transport: t, log: log}
}

func (t *loggingTransport) SendMessage(ctx context.Context, m Message) error {
	t.log.Debug().Str("dir", "tx").Str("which", m.Which().String()).Msg("rpc message")
	return t.Transport.SendMessage(ctx, m)
}

func (t *loggingTransport) RecvMessage(ctx context.Context) (Message, error) {
	m, err := t.Transport.RecvMessage(ctx)
	if err != nil {
		t.log.Debug().Err(err).Msg("rpc: receive failed")
		return m, err
	}
	t.log.Debug().Str("dir", "rx").Str("which", m.Which().String()).Msg("rpc message")
	return m, nil
}

func (w MessageWhich) String() string {
	switch w {
	case MessageUnimplemented:
		return "unimplemented"
	case MessageAbort:
		return "abort"
	case MessageCall:
		return "call"
	case MessageReturn:
		return "return"
	case MessageFinish:
		return "finish"
	case MessageRestore:
		return "restore"
	case MessageRelease:
		return "release"
	case MessageBootstrap:
		return "bootstrap"
	default:
		return "unknown"
	}
}
