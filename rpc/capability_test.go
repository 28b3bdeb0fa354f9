package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kwohlfahrt/ecapnp/capnp"
)

func TestPromiseFulfillThenWait(t *testing.T) {
	p := NewPromise()
	_, seg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	txt, err := capnp.NewText(seg, "done")
	require.NoError(t, err)

	p.Fulfill(txt.ToPtr())

	v, err, done := p.Peek()
	require.True(t, done)
	require.NoError(t, err)
	require.Equal(t, "done", v.Text())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err = p.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "done", v.Text())
}

func TestPromiseBreakIsSticky(t *testing.T) {
	p := NewPromise()
	boom := require.New(t)
	p.Break(errFixture)
	p.Fulfill(capnp.Ptr{}) // no-op: already resolved

	_, err, done := p.Peek()
	boom.True(done)
	boom.Equal(errFixture, err)
}

func TestPromiseQueueCallRunsAfterFulfill(t *testing.T) {
	p := NewPromise()

	_, seg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	root, err := capnp.NewStruct(seg, capnp.ObjectSize{PointerCount: 1})
	require.NoError(t, err)

	called := make(chan struct{}, 1)
	target := &LocalClient{Handle: func(call *Call) (capnp.Struct, error) {
		called <- struct{}{}
		return capnp.Struct{}, nil
	}}
	capID := seg.Message().AddCap(rpcToCapnpClient{c: target})
	require.NoError(t, root.SetPtr(0, capnp.NewInterface(seg, capID).ToPtr()))

	p.Fulfill(root.ToPtr())

	result := p.QueueCall([]PipelineOp{{Field: 0}}, &Call{Ctx: context.Background()})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = result.Wait(ctx)
	require.NoError(t, err)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("pipelined call never reached target")
	}
}

func TestLocalClientCallFulfillsOnSuccess(t *testing.T) {
	c := &LocalClient{Handle: func(call *Call) (capnp.Struct, error) {
		return capnp.Struct{}, nil
	}}
	p := c.Call(&Call{Ctx: context.Background()})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := p.Wait(ctx)
	require.NoError(t, err)
}

func TestErrorClientAlwaysBreaks(t *testing.T) {
	c := ErrorClient{Err: errFixture}
	p := c.Call(&Call{Ctx: context.Background()})
	_, err, done := p.Peek()
	require.True(t, done)
	require.Equal(t, errFixture, err)
}

var errFixture = fixtureErr{}

type fixtureErr struct{}

func (fixtureErr) Error() string { return "fixture error" }
