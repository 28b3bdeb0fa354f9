package rpc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/kwohlfahrt/ecapnp/capnp"
)

// Call is an invocation of a single method, with params already decoded
// into the caller's message.
type Call struct {
	Ctx    context.Context
	Method capnp.Method
	Params capnp.Struct
}

// Client is anything that can answer a Call: a local Go object, or a proxy
// standing in for a capability that lives on the peer. Every capability
// handle in spec.md §3 — Local, Remote, Exported, Promise — is reachable
// through this one interface so the dispatcher never needs to know which
// kind it is holding.
type Client interface {
	Call(call *Call) *Promise
	Close() error
}

// ErrorClient is a Client that answers every call with err, used in place
// of a capability that could never be resolved (e.g. a broken promise, or
// an unknown export id).
type ErrorClient struct{ Err error }

func (c ErrorClient) Call(*Call) *Promise { return Broken(c.Err) }
func (c ErrorClient) Close() error        { return nil }

// LocalClient adapts a plain Go method-dispatch function to a Client, for
// capabilities hosted on this vat. It is always held by pointer: the
// Exports table keys its dedup index on Client identity (spec.md §3
// invariant (vi) via the export reverse index), and a pointer's identity
// is stable and comparable even though the Handle field is not.
type LocalClient struct {
	Handle func(call *Call) (capnp.Struct, error)
}

func (c *LocalClient) Call(call *Call) *Promise {
	p := NewPromise()
	go func() {
		res, err := c.Handle(call)
		if err != nil {
			p.Break(err)
			return
		}
		p.Fulfill(res.ToPtr())
	}()
	return p
}

func (c *LocalClient) Close() error { return nil }

// promiseState is where a Promise sits in spec.md §4.6's question/answer
// state machine, generalized to any locally observed resolution.
type promiseState int

const (
	pending promiseState = iota
	fulfilled
	broken
)

// queuedCall is a call pipelined onto a Promise before it resolved: once
// the promise's value is known, transform navigates to the capability the
// call is actually against (spec.md §4.5 "Pipelining (local)").
type queuedCall struct {
	transform []PipelineOp
	call      *Call
	result    *Promise
}

// Promise is a value that will eventually be fulfilled with a pointer or
// broken with an error — the uniform representation behind a Questions or
// Answers table entry, and behind a locally pipelined call.
type Promise struct {
	mu     sync.Mutex
	state  promiseState
	value  capnp.Ptr
	err    error
	done   chan struct{}
	queued []queuedCall
}

// NewPromise returns an unresolved promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Fulfilled returns an already-resolved promise holding v.
func Fulfilled(v capnp.Ptr) *Promise {
	p := NewPromise()
	p.Fulfill(v)
	return p
}

// Broken returns an already-resolved promise holding err.
func Broken(err error) *Promise {
	p := NewPromise()
	p.Break(err)
	return p
}

// Fulfill resolves p with v, running any calls pipelined while it was
// pending. Fulfilling an already-resolved promise is a no-op.
func (p *Promise) Fulfill(v capnp.Ptr) {
	p.mu.Lock()
	if p.state != pending {
		p.mu.Unlock()
		return
	}
	p.state = fulfilled
	p.value = v
	queued := p.queued
	p.queued = nil
	close(p.done)
	p.mu.Unlock()
	for _, q := range queued {
		runQueuedCall(q, v, nil)
	}
}

// Break resolves p with err.
func (p *Promise) Break(err error) {
	p.mu.Lock()
	if p.state != pending {
		p.mu.Unlock()
		return
	}
	p.state = broken
	p.err = err
	queued := p.queued
	p.queued = nil
	close(p.done)
	p.mu.Unlock()
	for _, q := range queued {
		runQueuedCall(q, capnp.Ptr{}, err)
	}
}

// Peek reports the promise's resolution without blocking: done is false if
// it is still pending.
func (p *Promise) Peek() (v capnp.Ptr, err error, done bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err, p.state != pending
}

// Done returns a channel closed once p resolves, for selecting against
// alongside a caller's own liveness signal.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Wait blocks until p resolves or ctx is done.
func (p *Promise) Wait(ctx context.Context) (capnp.Ptr, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return capnp.Ptr{}, ctx.Err()
	}
}

// QueueCall pipelines call onto p: when p resolves, transform navigates to
// the target capability within the resolved value and call is dispatched
// against it. The returned promise resolves with that nested call's result.
func (p *Promise) QueueCall(transform []PipelineOp, call *Call) *Promise {
	result := NewPromise()
	p.mu.Lock()
	if p.state == pending {
		p.queued = append(p.queued, queuedCall{transform: transform, call: call, result: result})
		p.mu.Unlock()
		return result
	}
	v, err := p.value, p.err
	p.mu.Unlock()
	runQueuedCall(queuedCall{transform: transform, call: call, result: result}, v, err)
	return result
}

func runQueuedCall(q queuedCall, v capnp.Ptr, err error) {
	if err != nil {
		q.result.Break(errors.Wrap(err, "pipelined call: target broken"))
		return
	}
	target, err := TransformPtr(v, q.transform)
	if err != nil {
		q.result.Break(err)
		return
	}
	capClient := target.Interface().Client()
	if capClient == nil {
		q.result.Break(ErrNullClient)
		return
	}
	answer := (capnpClientAdapter{c: capClient}).Call(q.call)
	go func() {
		v, err := answer.Wait(q.call.Ctx)
		if err != nil {
			q.result.Break(err)
		} else {
			q.result.Fulfill(v)
		}
	}()
}

// ErrNullClient is returned when a transform resolves to a null
// capability.
var ErrNullClient = errors.New("rpc: call on null capability")

// TransformPtr walks transform's pointer-field steps starting from root,
// per spec.md §4.5's promised-answer transform.
func TransformPtr(root capnp.Ptr, transform []PipelineOp) (capnp.Ptr, error) {
	cur := root
	for _, op := range transform {
		if !cur.IsValid() {
			return capnp.Ptr{}, nil
		}
		p, err := cur.Struct().Ptr(int16(op.Field))
		if err != nil {
			return capnp.Ptr{}, err
		}
		cur = p
	}
	return cur, nil
}

// capnpClientAdapter wraps a capnp.Client taken from a message's cap table
// as an rpc.Client the vat's tables can hold onto uniformly.
type capnpClientAdapter struct{ c capnp.Client }

func (a capnpClientAdapter) Call(call *Call) *Promise {
	p := NewPromise()
	go func() {
		res, err := a.c.Call(call.Ctx, call.Method, call.Params.ToPtr())
		if err != nil {
			p.Break(err)
			return
		}
		p.Fulfill(res)
	}()
	return p
}

func (a capnpClientAdapter) Close() error { return a.c.Close() }
