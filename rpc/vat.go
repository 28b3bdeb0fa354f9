package rpc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kwohlfahrt/ecapnp/capnp"
	"github.com/kwohlfahrt/ecapnp/rpc/rpcmetrics"
)

// Restorer answers a peer's restore message, the by-object-id capability
// acquisition path from spec.md §4.6. A Vat that also wants to hand out a
// single well-known capability to any peer uses WithMainInterface instead.
type Restorer func(ctx context.Context, objectID capnp.Ptr) (Client, error)

// Vat is one end of a two-party session (spec.md §4.5): a Transport plus
// the four bookkeeping tables, driven by a single receive loop that is the
// only goroutine allowed to touch the tables without holding mu. Sends can
// come from any goroutine (a pipelined call, a Close on an export) and are
// serialized through sendMu.
//
// Deliberately out of scope, per spec.md §1's Non-goals: embargoes and
// disembargo ordering, and third-party ("level 3") capability routing —
// a thirdPartyHosted descriptor is always translated to an ErrorClient.
type Vat struct {
	id        uuid.UUID
	transport Transport
	restore   Restorer
	main      Client
	log       zerolog.Logger

	mu sync.Mutex
	t  *tables

	sendMu sync.Mutex

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// VatOption configures a Vat at construction time.
type VatOption func(*Vat)

// WithRestorer sets the callback that answers the peer's restore messages.
// A Vat with no restorer rejects every inbound restore.
func WithRestorer(r Restorer) VatOption { return func(v *Vat) { v.restore = r } }

// WithMainInterface sets the Client returned to the peer's Bootstrap
// messages (the zero-object-id capability-acquisition path mirroring
// rpc.MainInterface/Conn.Bootstrap in the teacher's rpc package, alongside
// the restore-by-object-id path above). A Vat with no main interface
// rejects every inbound Bootstrap.
func WithMainInterface(c Client) VatOption { return func(v *Vat) { v.main = c } }

// WithLogger sets the logger used for session diagnostics. The default is
// a no-op logger.
func WithLogger(log zerolog.Logger) VatOption { return func(v *Vat) { v.log = log } }

// NewVat starts a session over transport and begins servicing inbound
// messages on a background goroutine immediately.
func NewVat(transport Transport, opts ...VatOption) *Vat {
	v := &Vat{
		id:        uuid.New(),
		transport: transport,
		t:         newTables(),
		log:       zerolog.Nop(),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.With().Str("vatId", v.id.String()).Logger()
	v.wg.Add(1)
	go v.recvLoop()
	return v
}

// ID returns the session's unique identifier, for correlating log lines
// and metrics across a Vat's lifetime.
func (v *Vat) ID() uuid.UUID { return v.id }

// Stop closes the underlying transport and waits for the receive loop to
// exit, breaking every outstanding Promise with the resulting error.
func (v *Vat) Stop() error {
	v.closeOnce.Do(func() {
		close(v.closing)
		v.closeErr = v.transport.Close()
	})
	v.wg.Wait()
	v.closeExports()
	return v.closeErr
}

// fail puts every outstanding question and answer into the DOWN state
// (spec.md §4.5/§4.6) and tears down the session, since the originating
// vat for any of them is now unreachable.
func (v *Vat) fail(err error) {
	v.mu.Lock()
	v.t.markDown(err)
	v.mu.Unlock()
	v.closeOnce.Do(func() {
		close(v.closing)
		v.closeErr = err
		v.transport.Close()
	})
	v.closeExports()
}

// closeExports drops every capability this vat has handed to its peer,
// closing them all concurrently: a session ending is not the individual
// Release traffic that would otherwise ref-count them down one at a time.
func (v *Vat) closeExports() {
	v.mu.Lock()
	exports := v.t.exports
	v.t.exports = make(map[ExportID]*export)
	v.t.exportByCap = make(map[Client]ExportID)
	v.mu.Unlock()

	g := new(errgroup.Group)
	for _, e := range exports {
		e := e
		g.Go(func() error { return e.client.Close() })
	}
	if err := g.Wait(); err != nil {
		v.log.Debug().Err(err).Msg("rpc: error closing an exported capability during shutdown")
	}
}

func (v *Vat) recvLoop() {
	defer v.wg.Done()
	ctx := context.Background()
	for {
		m, err := v.transport.RecvMessage(ctx)
		if err != nil {
			v.fail(errors.Wrap(err, "rpc: receive failed"))
			return
		}
		if err := v.dispatch(ctx, m); err != nil {
			v.log.Error().Err(err).Msg("rpc: dispatch failed, aborting session")
			v.sendAbort(ctx, err)
			v.fail(err)
			return
		}
	}
}

func (v *Vat) dispatch(ctx context.Context, m Message) error {
	switch m.Which() {
	case MessageCall:
		return v.handleCall(ctx, m)
	case MessageReturn:
		return v.handleReturn(ctx, m)
	case MessageFinish:
		return v.handleFinish(m)
	case MessageRelease:
		return v.handleRelease(m)
	case MessageRestore:
		return v.handleRestore(ctx, m)
	case MessageBootstrap:
		return v.handleBootstrap(ctx, m)
	case MessageAbort:
		exc, err := m.Abort()
		if err != nil {
			return errors.New("rpc: peer aborted session")
		}
		return errors.Errorf("rpc: peer aborted session: %s", exc.Reason())
	case MessageUnimplemented:
		v.log.Debug().Msg("rpc: peer does not implement a message we sent")
		return nil
	default:
		return v.sendUnimplemented(ctx, m)
	}
}

func newEnvelope() (Message, error) {
	_, seg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	if err != nil {
		return Message{}, err
	}
	m, err := NewMessage(seg)
	if err != nil {
		return Message{}, err
	}
	if err := seg.Message().SetRoot(m.ToPtr()); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (v *Vat) send(ctx context.Context, m Message) error {
	v.sendMu.Lock()
	defer v.sendMu.Unlock()
	return v.transport.SendMessage(ctx, m)
}

func (v *Vat) sendAbort(ctx context.Context, cause error) {
	m, err := newEnvelope()
	if err != nil {
		return
	}
	exc, err := m.NewAbort()
	if err != nil {
		return
	}
	if err := exc.SetReason(cause.Error()); err != nil {
		return
	}
	v.send(ctx, m)
}

func (v *Vat) sendUnimplemented(ctx context.Context, orig Message) error {
	m, err := newEnvelope()
	if err != nil {
		return err
	}
	if err := m.SetUnimplemented(orig); err != nil {
		return err
	}
	return v.send(ctx, m)
}

// rpcToCapnpClient adapts an rpc.Client (the vat-level abstraction) to a
// capnp.Client (the engine-level one an Interface pointer resolves to), so
// a local or imported capability can be embedded in outbound content via
// Message.AddCap.
type rpcToCapnpClient struct{ c Client }

func (w rpcToCapnpClient) Call(ctx context.Context, m capnp.Method, params capnp.Ptr) (capnp.Ptr, error) {
	answer := w.c.Call(&Call{Ctx: ctx, Method: m, Params: params.Struct()})
	return answer.Wait(ctx)
}

func (w rpcToCapnpClient) Close() error { return w.c.Close() }

// remoteClient is an rpc.Client for a capability the peer hosts: calling
// it sends a Call message back over the wire against the peer's export.
type remoteClient struct {
	v  *Vat
	id ImportID
}

func (c *remoteClient) Call(call *Call) *Promise {
	env, err := newEnvelope()
	if err != nil {
		return Broken(err)
	}
	c.v.mu.Lock()
	q := c.v.t.newQuestion(call.Method)
	c.v.mu.Unlock()

	cm, err := env.NewCall()
	if err != nil {
		q.result.Break(err)
		return q.result
	}
	cm.SetQuestionId(q.id)
	cm.SetInterfaceId(call.Method.InterfaceID)
	cm.SetMethodId(call.Method.MethodID)
	cm.SetTargetKind(TargetImportedCap)
	cm.SetImportedCap(ExportID(c.id))

	pm, err := cm.NewParams()
	if err != nil {
		q.result.Break(err)
		return q.result
	}
	if err := pm.SetContent(call.Params.ToPtr()); err != nil {
		q.result.Break(err)
		return q.result
	}
	minted, err := c.v.buildOutboundCapTable(pm, nil)
	if err != nil {
		q.result.Break(err)
		return q.result
	}
	c.v.mu.Lock()
	q.paramCaps = minted
	c.v.mu.Unlock()
	if err := c.v.send(call.Ctx, env); err != nil {
		c.v.mu.Lock()
		c.v.t.popQuestion(q.id)
		c.v.mu.Unlock()
		q.result.Break(err)
		return q.result
	}
	done := rpcmetrics.ClientCallTimer(call.Method.InterfaceID, call.Method.MethodID)
	go c.watchOriginator(call.Ctx, q)
	go func() {
		_, err := q.result.Wait(call.Ctx)
		done(err)
	}()
	return q.result
}

// watchOriginator implements the caller-death half of spec.md §4.5/§4.6's
// DOWN state: if the context behind this call is canceled before an answer
// arrives, the caller that originated the question is gone, so there is no
// one left to deliver a Return to. The question is marked down and a
// Finish is sent immediately, telling the peer to stop computing the
// answer and release whatever it exported for it, instead of leaving the
// question to be cleaned up only once (if ever) a Return eventually shows
// up.
func (c *remoteClient) watchOriginator(ctx context.Context, q *question) {
	select {
	case <-q.result.Done():
		return
	case <-ctx.Done():
	}
	c.v.mu.Lock()
	live := c.v.t.popQuestion(q.id)
	if live != nil {
		live.down = true
		live.canceled = true
		for _, id := range live.paramCaps {
			c.v.t.releaseExport(id, 1)
		}
	}
	c.v.mu.Unlock()
	if live == nil {
		return
	}
	q.result.Break(ctx.Err())

	fin, err := newEnvelope()
	if err != nil {
		return
	}
	fm, err := fin.NewFinish()
	if err != nil {
		return
	}
	fm.SetQuestionId(q.id)
	fm.SetReleaseResultCaps(true)
	c.v.send(context.Background(), fin)
}

func (c *remoteClient) Close() error {
	c.v.mu.Lock()
	c.v.t.releaseImport(c.id, 1)
	c.v.mu.Unlock()
	m, err := newEnvelope()
	if err != nil {
		return err
	}
	rm, err := m.NewRelease()
	if err != nil {
		return err
	}
	rm.SetId(ExportID(c.id))
	rm.SetReferenceCount(1)
	return c.v.send(context.Background(), m)
}

// pipelineClient is an rpc.Client for a capability reached only through a
// not-yet-resolved Promise (a local answer, or a promise the peer is
// itself still computing) — calling it queues onto the promise per
// spec.md §4.5's pipelining.
type pipelineClient struct {
	promise   *Promise
	transform []PipelineOp
}

func (c *pipelineClient) Call(call *Call) *Promise { return c.promise.QueueCall(c.transform, call) }
func (c *pipelineClient) Close() error             { return nil }

// ImportCapability resolves objectID against the peer's restorer, per
// spec.md §4.6. The returned Promise's value, once fulfilled, is a Ptr
// whose Interface names the resolved capability; use ClientFromPtr to get
// a callable Client out of it.
func (v *Vat) ImportCapability(ctx context.Context, objectID capnp.Ptr) *Promise {
	env, err := newEnvelope()
	if err != nil {
		return Broken(err)
	}
	v.mu.Lock()
	q := v.t.newQuestion(capnp.Method{})
	v.mu.Unlock()

	rm, err := env.NewRestore()
	if err != nil {
		q.result.Break(err)
		return q.result
	}
	rm.SetQuestionId(q.id)
	if err := rm.SetObjectId(objectID); err != nil {
		q.result.Break(err)
		return q.result
	}
	if err := v.send(ctx, env); err != nil {
		v.mu.Lock()
		v.t.popQuestion(q.id)
		v.mu.Unlock()
		q.result.Break(err)
	}
	return q.result
}

// Bootstrap asks the peer for its main interface, the zero-object-id
// counterpart to ImportCapability. The returned Promise resolves the same
// way: a Ptr whose Interface names the resolved capability.
func (v *Vat) Bootstrap(ctx context.Context) *Promise {
	env, err := newEnvelope()
	if err != nil {
		return Broken(err)
	}
	v.mu.Lock()
	q := v.t.newQuestion(capnp.Method{})
	v.mu.Unlock()

	bm, err := env.NewBootstrap()
	if err != nil {
		q.result.Break(err)
		return q.result
	}
	bm.SetQuestionId(q.id)
	if err := v.send(ctx, env); err != nil {
		v.mu.Lock()
		v.t.popQuestion(q.id)
		v.mu.Unlock()
		q.result.Break(err)
	}
	return q.result
}

// ClientFromPtr wraps an Interface-valued Ptr (typically the resolved
// value of an ImportCapability promise, or a capability found inside a
// call's result) as a Client the caller can invoke.
func ClientFromPtr(p capnp.Ptr) Client {
	c := p.Interface().Client()
	if c == nil {
		return ErrorClient{Err: ErrNullClient}
	}
	return capnpClientAdapter{c: c}
}

// buildOutboundCapTable writes one CapDescriptor per capability referenced
// from content, in the order Message.AddCap assigned their CapabilityID —
// the same order writePtr's cross-message copy populates when content was
// built in a different message (spec.md §4.5's cap-table translation,
// outbound direction). caps lets a caller who already knows the message's
// cap table pass it directly; nil means "read it off pm's segment".
func (v *Vat) buildOutboundCapTable(pm PayloadMsg, caps []capnp.Client) ([]ExportID, error) {
	if caps == nil {
		caps = pm.Segment().Message().CapTable
	}
	if len(caps) == 0 {
		_, err := pm.NewCapTable(0)
		return nil, err
	}
	table, err := pm.NewCapTable(len(caps))
	if err != nil {
		return nil, err
	}
	var minted []ExportID
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range caps {
		d := CapDescriptorAt(table, i)
		if rc, ok := c.(*remoteClient); ok {
			d.SetReceiverHosted(ImportID(rc.id))
			continue
		}
		var rc Client
		if w, ok := c.(rpcToCapnpClient); ok {
			rc = w.c
		} else {
			rc = capnpClientAdapter{c: c}
		}
		id := v.t.exportFor(rc)
		d.SetSenderHosted(id)
		minted = append(minted, id)
	}
	return minted, nil
}

// translateInboundCapTable populates pm's underlying message's cap table
// from its wire CapDescriptor list, so Interface pointers inside pm's
// content resolve to real, callable Clients (spec.md §4.5's cap-table
// translation, inbound direction).
func (v *Vat) translateInboundCapTable(pm PayloadMsg) error {
	table, err := pm.CapTable()
	if err != nil {
		return err
	}
	msg := pm.Segment().Message()
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i < table.Len(); i++ {
		d := CapDescriptorAt(table, i)
		var rc Client
		switch d.Which() {
		case DescriptorSenderHosted, DescriptorSenderPromise:
			id := ImportID(d.SenderHosted())
			rc = v.t.addImport(id, func() Client { return &remoteClient{v: v, id: id} })
		case DescriptorReceiverHosted:
			id := ExportID(d.ReceiverHosted())
			if e := v.t.findExport(id); e != nil {
				rc = e.client
			} else {
				rc = ErrorClient{Err: errors.New("rpc: receiverHosted names an unknown export")}
			}
		case DescriptorReceiverAnswer:
			ref, err := d.ReceiverAnswer()
			if err != nil {
				return err
			}
			transform, err := ref.Transform()
			if err != nil {
				return err
			}
			if q, ok := v.t.questions[ref.QuestionId()]; ok {
				rc = &pipelineClient{promise: q.result, transform: transform}
			} else {
				rc = ErrorClient{Err: errors.New("rpc: receiverAnswer names an unknown question")}
			}
		default:
			rc = ErrorClient{Err: errors.New("rpc: unsupported capability descriptor (third-party hosting is not implemented)")}
		}
		msg.AddCap(rpcToCapnpClient{c: rc})
	}
	return nil
}

func (v *Vat) reportTableSizes() {
	v.mu.Lock()
	exports, imports := len(v.t.exports), len(v.t.imports)
	v.mu.Unlock()
	rpcmetrics.SetTableSizes(exports, imports)
}

func (v *Vat) handleRestore(ctx context.Context, m Message) error {
	rm, err := m.Restore()
	if err != nil {
		return err
	}
	objID, err := rm.ObjectId()
	if err != nil {
		return err
	}
	qid := rm.QuestionId()
	go func() {
		if v.restore == nil {
			v.sendReturnException(ctx, AnswerID(qid), errors.New("rpc: peer has no restorer configured"))
			return
		}
		client, err := v.restore(ctx, objID)
		if err != nil {
			v.sendReturnException(ctx, AnswerID(qid), err)
			return
		}
		v.sendReturnCapability(ctx, AnswerID(qid), client)
	}()
	return nil
}

func (v *Vat) handleBootstrap(ctx context.Context, m Message) error {
	bm, err := m.Bootstrap()
	if err != nil {
		return err
	}
	qid := bm.QuestionId()
	go func() {
		if v.main == nil {
			v.sendReturnException(ctx, AnswerID(qid), errors.New("rpc: peer has no main interface configured"))
			return
		}
		v.sendReturnCapability(ctx, AnswerID(qid), v.main)
	}()
	return nil
}

// sendReturnCapability answers a restore with a single capability as the
// whole result, the common "give me the bootstrap interface" shape.
func (v *Vat) sendReturnCapability(ctx context.Context, aid AnswerID, client Client) {
	env, err := newEnvelope()
	if err != nil {
		return
	}
	capID := env.Segment().Message().AddCap(rpcToCapnpClient{c: client})
	content := capnp.NewInterface(env.Segment(), capID).ToPtr()
	v.completeReturn(ctx, aid, content, env)
}

// handleCall routes an inbound Call to its target (an export this vat
// hosts, or one of this vat's own not-yet-returned answers) and sends
// back the Return once the target resolves.
func (v *Vat) handleCall(ctx context.Context, m Message) error {
	cm, err := m.Call()
	if err != nil {
		return err
	}
	pm, err := cm.Params()
	if err != nil {
		return err
	}
	if err := v.translateInboundCapTable(pm); err != nil {
		return err
	}
	content, err := pm.Content()
	if err != nil {
		return err
	}
	method := capnp.Method{InterfaceID: cm.InterfaceId(), MethodID: cm.MethodId()}

	var target Client
	switch cm.TargetKind() {
	case TargetImportedCap:
		id := cm.ImportedCap()
		v.mu.Lock()
		e := v.t.findExport(id)
		v.mu.Unlock()
		if e == nil {
			target = ErrorClient{Err: errors.New("rpc: call against an unknown export")}
		} else {
			target = e.client
		}
	case TargetPromisedAnswer:
		ref, err := cm.PromisedAnswer()
		if err != nil {
			return err
		}
		transform, err := ref.Transform()
		if err != nil {
			return err
		}
		v.mu.Lock()
		a := v.t.answers[AnswerID(ref.QuestionId())]
		v.mu.Unlock()
		if a == nil {
			target = ErrorClient{Err: errors.New("rpc: call against an unknown pipelined answer")}
		} else {
			target = &pipelineClient{promise: a.result, transform: transform}
		}
	default:
		target = ErrorClient{Err: errors.New("rpc: unknown call target kind")}
	}

	aid := AnswerID(cm.QuestionId())
	callCtx, cancel := context.WithCancel(ctx)
	v.mu.Lock()
	a := v.t.insertAnswer(aid, cancel)
	v.mu.Unlock()
	if a == nil {
		cancel()
		return v.sendReturnException(ctx, aid, errors.New("rpc: duplicate question id"))
	}

	go func() {
		var val capnp.Ptr
		err := rpcmetrics.ObserveServerCall(method.InterfaceID, method.MethodID, func() error {
			p := target.Call(&Call{Ctx: callCtx, Method: method, Params: content.Struct()})
			v, err := p.Wait(callCtx)
			val = v
			return err
		})
		if err != nil {
			a.result.Break(err)
			v.sendReturnException(ctx, aid, err)
			return
		}
		a.result.Fulfill(val)
		v.sendReturnValue(ctx, aid, val)
	}()
	return nil
}

func (v *Vat) sendReturnValue(ctx context.Context, aid AnswerID, val capnp.Ptr) {
	env, err := newEnvelope()
	if err != nil {
		return
	}
	v.completeReturn(ctx, aid, val, env)
}

func (v *Vat) sendReturnException(ctx context.Context, aid AnswerID, cause error) error {
	env, err := newEnvelope()
	if err != nil {
		return err
	}
	rm, err := env.NewReturn()
	if err != nil {
		return err
	}
	rm.SetAnswerId(aid)
	rm.SetReleaseParamCaps(true)
	if err := rm.SetException(cause.Error()); err != nil {
		return err
	}
	return v.send(ctx, env)
}

// completeReturn finishes building a results Return for aid around
// content (already living in env's segment, or about to be copied into it
// by SetContent) and sends it.
func (v *Vat) completeReturn(ctx context.Context, aid AnswerID, content capnp.Ptr, env Message) {
	rm, err := env.NewReturn()
	if err != nil {
		return
	}
	rm.SetAnswerId(aid)
	rm.SetReleaseParamCaps(true)
	pm, err := rm.NewResults()
	if err != nil {
		return
	}
	if err := pm.SetContent(content); err != nil {
		return
	}
	minted, err := v.buildOutboundCapTable(pm, nil)
	if err != nil {
		return
	}
	v.mu.Lock()
	if a, ok := v.t.answers[aid]; ok {
		a.resultCaps = minted
	}
	v.mu.Unlock()
	v.send(ctx, env)
}

func (v *Vat) handleReturn(ctx context.Context, m Message) error {
	rm, err := m.Return()
	if err != nil {
		return err
	}
	qid := QuestionID(rm.AnswerId())
	v.mu.Lock()
	q := v.t.popQuestion(qid)
	v.mu.Unlock()
	if q == nil {
		return nil
	}

	// releaseResultCaps tells the callee it may drop the exports backing
	// this answer's results. A bare-capability result (the restore/
	// "give me a capability" shape) is kept alive for the caller to go on
	// using; a capability merely embedded in a data result is released,
	// since nothing here forms a durable reference to it beyond the
	// import translateInboundCapTable already created.
	releaseResultCaps := true

	switch rm.Which() {
	case ReturnException:
		exc, err := rm.Exception()
		if err != nil {
			q.result.Break(err)
		} else {
			q.result.Break(errors.New("rpc: " + exc.Reason()))
		}
	case ReturnCanceled:
		q.result.Break(errors.New("rpc: call was canceled"))
	default:
		pm, err := rm.Results()
		if err != nil {
			q.result.Break(err)
			break
		}
		if err := v.translateInboundCapTable(pm); err != nil {
			q.result.Break(err)
			break
		}
		content, err := pm.Content()
		if err != nil {
			q.result.Break(err)
			break
		}
		if content.Interface().IsValid() {
			releaseResultCaps = false
		}
		q.result.Fulfill(content)
	}

	if rm.ReleaseParamCaps() {
		v.mu.Lock()
		for _, id := range q.paramCaps {
			v.t.releaseExport(id, 1)
		}
		v.mu.Unlock()
	}

	fin, err := newEnvelope()
	if err != nil {
		return err
	}
	fm, err := fin.NewFinish()
	if err != nil {
		return err
	}
	fm.SetQuestionId(qid)
	fm.SetReleaseResultCaps(releaseResultCaps)
	return v.send(ctx, fin)
}

func (v *Vat) handleFinish(m Message) error {
	fm, err := m.Finish()
	if err != nil {
		return err
	}
	aid := AnswerID(fm.QuestionId())
	v.mu.Lock()
	a := v.t.popAnswer(aid)
	v.mu.Unlock()
	if a == nil {
		return nil
	}
	a.finishRecvd = true
	if a.cancel != nil {
		a.cancel()
	}
	if fm.ReleaseResultCaps() {
		v.mu.Lock()
		for _, id := range a.resultCaps {
			v.t.releaseExport(id, 1)
		}
		v.mu.Unlock()
	}
	v.reportTableSizes()
	return nil
}

func (v *Vat) handleRelease(m Message) error {
	rm, err := m.Release()
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.t.releaseExport(rm.Id(), rm.ReferenceCount())
	v.mu.Unlock()
	v.reportTableSizes()
	return nil
}
