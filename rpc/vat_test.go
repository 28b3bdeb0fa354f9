package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kwohlfahrt/ecapnp/capnp"
)

func doubleHandler(call *Call) (capnp.Struct, error) {
	result, err := capnp.NewStruct(call.Params.Segment(), capnp.ObjectSize{DataSize: 8})
	if err != nil {
		return capnp.Struct{}, err
	}
	result.SetUint64(0, call.Params.Uint64(0)*2)
	return result, nil
}

func TestVatRestoreThenCallRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	serverVat := NewVat(NewStreamTransport(serverConn), WithRestorer(
		func(ctx context.Context, objectID capnp.Ptr) (Client, error) {
			return &LocalClient{Handle: doubleHandler}, nil
		},
	))
	clientVat := NewVat(NewStreamTransport(clientConn))
	defer clientVat.Stop()
	defer serverVat.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, objSeg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	objID, err := capnp.NewText(objSeg, "doubler")
	require.NoError(t, err)

	restorePromise := clientVat.ImportCapability(ctx, objID.ToPtr())
	capVal, err := restorePromise.Wait(ctx)
	require.NoError(t, err)
	require.True(t, capVal.IsValid())

	capClient := ClientFromPtr(capVal)

	_, paramSeg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	params, err := capnp.NewStruct(paramSeg, capnp.ObjectSize{DataSize: 8})
	require.NoError(t, err)
	params.SetUint64(0, 21)

	resultPromise := capClient.Call(&Call{
		Ctx:    ctx,
		Method: capnp.Method{InterfaceID: 0x1, MethodID: 0},
		Params: params,
	})
	resVal, err := resultPromise.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(42), resVal.Struct().Uint64(0))
}

// signalClient is a Client whose only job is to report when it is closed,
// so a test can observe an export's ref-count reaching zero.
type signalClient struct {
	closed chan struct{}
}

func (c *signalClient) Call(*Call) *Promise { return Broken(errors.New("signalClient: not callable")) }
func (c *signalClient) Close() error {
	close(c.closed)
	return nil
}

func TestVatFinishReleasesEmbeddedResultCap(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	resultCap := &signalClient{closed: make(chan struct{})}

	factoryHandler := func(call *Call) (capnp.Struct, error) {
		seg := call.Params.Segment()
		capID := seg.Message().AddCap(rpcToCapnpClient{c: resultCap})
		iface := capnp.NewInterface(seg, capID)
		st, err := capnp.NewStruct(seg, capnp.ObjectSize{PointerCount: 1})
		if err != nil {
			return capnp.Struct{}, err
		}
		if err := st.SetPtr(0, iface.ToPtr()); err != nil {
			return capnp.Struct{}, err
		}
		return st, nil
	}

	serverVat := NewVat(NewStreamTransport(serverConn), WithRestorer(
		func(ctx context.Context, objectID capnp.Ptr) (Client, error) {
			return &LocalClient{Handle: factoryHandler}, nil
		},
	))
	clientVat := NewVat(NewStreamTransport(clientConn))
	defer clientVat.Stop()
	defer serverVat.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, objSeg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	objID, err := capnp.NewText(objSeg, "factory")
	require.NoError(t, err)

	restorePromise := clientVat.ImportCapability(ctx, objID.ToPtr())
	capVal, err := restorePromise.Wait(ctx)
	require.NoError(t, err)
	factoryClient := ClientFromPtr(capVal)

	_, paramSeg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	params, err := capnp.NewStruct(paramSeg, capnp.ObjectSize{})
	require.NoError(t, err)

	resultPromise := factoryClient.Call(&Call{
		Ctx:    ctx,
		Method: capnp.Method{InterfaceID: 0x2, MethodID: 0},
		Params: params,
	})
	resVal, err := resultPromise.Wait(ctx)
	require.NoError(t, err)
	require.True(t, resVal.IsValid())

	select {
	case <-resultCap.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("server never released the exported result capability")
	}

	serverVat.mu.Lock()
	_, stillExported := serverVat.t.exportByCap[resultCap]
	serverVat.mu.Unlock()
	require.False(t, stillExported)
}

func TestVatBootstrapRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	serverVat := NewVat(NewStreamTransport(serverConn), WithMainInterface(&LocalClient{Handle: doubleHandler}))
	clientVat := NewVat(NewStreamTransport(clientConn))
	defer clientVat.Stop()
	defer serverVat.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	capVal, err := clientVat.Bootstrap(ctx).Wait(ctx)
	require.NoError(t, err)
	require.True(t, capVal.IsValid())

	capClient := ClientFromPtr(capVal)

	_, paramSeg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	params, err := capnp.NewStruct(paramSeg, capnp.ObjectSize{DataSize: 8})
	require.NoError(t, err)
	params.SetUint64(0, 9)

	resultPromise := capClient.Call(&Call{
		Ctx:    ctx,
		Method: capnp.Method{InterfaceID: 0x1, MethodID: 0},
		Params: params,
	})
	resVal, err := resultPromise.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(18), resVal.Struct().Uint64(0))
}

func TestVatBootstrapWithoutMainInterfaceFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	serverVat := NewVat(NewStreamTransport(serverConn))
	clientVat := NewVat(NewStreamTransport(clientConn))
	defer clientVat.Stop()
	defer serverVat.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := clientVat.Bootstrap(ctx).Wait(ctx)
	require.Error(t, err)
}

func TestVatCallerDeathFinishesQuestion(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	started := make(chan struct{})
	release := make(chan struct{})
	blockingHandler := func(call *Call) (capnp.Struct, error) {
		close(started)
		select {
		case <-release:
		case <-call.Ctx.Done():
		}
		return capnp.NewStruct(call.Params.Segment(), capnp.ObjectSize{})
	}

	serverVat := NewVat(NewStreamTransport(serverConn), WithMainInterface(&LocalClient{Handle: blockingHandler}))
	clientVat := NewVat(NewStreamTransport(clientConn))
	defer clientVat.Stop()
	defer serverVat.Stop()
	defer close(release)

	bgCtx, bgCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer bgCancel()

	capVal, err := clientVat.Bootstrap(bgCtx).Wait(bgCtx)
	require.NoError(t, err)
	capClient := ClientFromPtr(capVal)

	_, paramSeg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	params, err := capnp.NewStruct(paramSeg, capnp.ObjectSize{})
	require.NoError(t, err)

	callCtx, callCancel := context.WithCancel(context.Background())
	resultPromise := capClient.Call(&Call{
		Ctx:    callCtx,
		Method: capnp.Method{InterfaceID: 0x1, MethodID: 0},
		Params: params,
	})

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("server never started handling the call")
	}

	callCancel()

	_, err = resultPromise.Wait(bgCtx)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		serverVat.mu.Lock()
		defer serverVat.mu.Unlock()
		_, stillPending := serverVat.t.answers[AnswerID(0)]
		return !stillPending
	}, 5*time.Second, 10*time.Millisecond, "server should finish the answer once the caller gives up")
}

func TestVatRestoreWithoutRestorerFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	serverVat := NewVat(NewStreamTransport(serverConn))
	clientVat := NewVat(NewStreamTransport(clientConn))
	defer clientVat.Stop()
	defer serverVat.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, objSeg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	objID, err := capnp.NewText(objSeg, "missing")
	require.NoError(t, err)

	_, err = clientVat.ImportCapability(ctx, objID.ToPtr()).Wait(ctx)
	require.Error(t, err)
}
