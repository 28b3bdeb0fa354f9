package rpc

import (
	"github.com/kwohlfahrt/ecapnp/capnp"
)

// MessageWhich is the RPC Message union's discriminant, restricted to the
// variants spec.md §4.5 names: call, return, restore, finish, release,
// unimplemented, plus bootstrap and abort (the latter treated by spec.md §7
// as a terminal signal rather than a dispatched variant).
type MessageWhich uint16

const (
	MessageUnimplemented MessageWhich = iota
	MessageAbort
	MessageCall
	MessageReturn
	MessageFinish
	MessageRestore
	MessageRelease
	MessageBootstrap
)

var (
	messageSize       = capnp.ObjectSize{DataSize: 8, PointerCount: 1}
	callSize          = capnp.ObjectSize{DataSize: 24, PointerCount: 2}
	answerRefSize     = capnp.ObjectSize{DataSize: 8, PointerCount: 1}
	pipelineOpSize    = capnp.ObjectSize{DataSize: 8, PointerCount: 0}
	payloadSize       = capnp.ObjectSize{DataSize: 0, PointerCount: 2}
	capDescriptorSize = capnp.ObjectSize{DataSize: 8, PointerCount: 1}
	returnSize        = capnp.ObjectSize{DataSize: 8, PointerCount: 2}
	exceptionSize     = capnp.ObjectSize{DataSize: 8, PointerCount: 1}
	finishSize        = capnp.ObjectSize{DataSize: 8, PointerCount: 0}
	releaseSize       = capnp.ObjectSize{DataSize: 8, PointerCount: 0}
	restoreSize       = capnp.ObjectSize{DataSize: 8, PointerCount: 1}
	bootstrapSize     = capnp.ObjectSize{DataSize: 8, PointerCount: 0}
	abortSize         = capnp.ObjectSize{DataSize: 0, PointerCount: 1}
	unimplementedSize = capnp.ObjectSize{DataSize: 0, PointerCount: 1}
)

// Message wraps the struct carrying the RPC union: a one-word discriminant
// plus a single pointer to the active variant's own struct. A real schema
// compiler would generate this layout from rpc.capnp; here it is written
// by hand since schema compilation is an external collaborator (spec.md
// §1's out-of-scope list).
type Message struct{ s capnp.Struct }

// NewMessage allocates an empty, variant-less Message in seg.
func NewMessage(seg *capnp.Segment) (Message, error) {
	s, err := capnp.NewStruct(seg, messageSize)
	if err != nil {
		return Message{}, err
	}
	return Message{s}, nil
}

// MessageFromPtr views an existing struct pointer as a Message, e.g. one
// just decoded off the wire.
func MessageFromPtr(p capnp.Ptr) Message { return Message{p.Struct()} }

func (m Message) ToPtr() capnp.Ptr   { return m.s.ToPtr() }
func (m Message) Segment() *capnp.Segment { return m.s.Segment() }
func (m Message) Which() MessageWhich     { return MessageWhich(m.s.Uint16(0)) }

func (m Message) setVariant(which MessageWhich, v capnp.Ptr) error {
	m.s.SetUint16(0, uint16(which))
	return m.s.SetPtr(0, v)
}

func (m Message) NewCall() (CallMsg, error) {
	s, err := capnp.NewStruct(m.s.Segment(), callSize)
	if err != nil {
		return CallMsg{}, err
	}
	if err := m.setVariant(MessageCall, s.ToPtr()); err != nil {
		return CallMsg{}, err
	}
	return CallMsg{s}, nil
}

func (m Message) Call() (CallMsg, error) {
	p, err := m.s.Ptr(0)
	if err != nil {
		return CallMsg{}, err
	}
	return CallMsg{p.Struct()}, nil
}

func (m Message) NewReturn() (ReturnMsg, error) {
	s, err := capnp.NewStruct(m.s.Segment(), returnSize)
	if err != nil {
		return ReturnMsg{}, err
	}
	if err := m.setVariant(MessageReturn, s.ToPtr()); err != nil {
		return ReturnMsg{}, err
	}
	return ReturnMsg{s}, nil
}

func (m Message) Return() (ReturnMsg, error) {
	p, err := m.s.Ptr(0)
	if err != nil {
		return ReturnMsg{}, err
	}
	return ReturnMsg{p.Struct()}, nil
}

func (m Message) NewFinish() (FinishMsg, error) {
	s, err := capnp.NewStruct(m.s.Segment(), finishSize)
	if err != nil {
		return FinishMsg{}, err
	}
	if err := m.setVariant(MessageFinish, s.ToPtr()); err != nil {
		return FinishMsg{}, err
	}
	return FinishMsg{s}, nil
}

func (m Message) Finish() (FinishMsg, error) {
	p, err := m.s.Ptr(0)
	if err != nil {
		return FinishMsg{}, err
	}
	return FinishMsg{p.Struct()}, nil
}

func (m Message) NewRelease() (ReleaseMsg, error) {
	s, err := capnp.NewStruct(m.s.Segment(), releaseSize)
	if err != nil {
		return ReleaseMsg{}, err
	}
	if err := m.setVariant(MessageRelease, s.ToPtr()); err != nil {
		return ReleaseMsg{}, err
	}
	return ReleaseMsg{s}, nil
}

func (m Message) Release() (ReleaseMsg, error) {
	p, err := m.s.Ptr(0)
	if err != nil {
		return ReleaseMsg{}, err
	}
	return ReleaseMsg{p.Struct()}, nil
}

func (m Message) NewRestore() (RestoreMsg, error) {
	s, err := capnp.NewStruct(m.s.Segment(), restoreSize)
	if err != nil {
		return RestoreMsg{}, err
	}
	if err := m.setVariant(MessageRestore, s.ToPtr()); err != nil {
		return RestoreMsg{}, err
	}
	return RestoreMsg{s}, nil
}

func (m Message) Restore() (RestoreMsg, error) {
	p, err := m.s.Ptr(0)
	if err != nil {
		return RestoreMsg{}, err
	}
	return RestoreMsg{p.Struct()}, nil
}

func (m Message) NewBootstrap() (BootstrapMsg, error) {
	s, err := capnp.NewStruct(m.s.Segment(), bootstrapSize)
	if err != nil {
		return BootstrapMsg{}, err
	}
	if err := m.setVariant(MessageBootstrap, s.ToPtr()); err != nil {
		return BootstrapMsg{}, err
	}
	return BootstrapMsg{s}, nil
}

func (m Message) Bootstrap() (BootstrapMsg, error) {
	p, err := m.s.Ptr(0)
	if err != nil {
		return BootstrapMsg{}, err
	}
	return BootstrapMsg{p.Struct()}, nil
}

func (m Message) NewAbort() (ExceptionMsg, error) {
	s, err := capnp.NewStruct(m.s.Segment(), exceptionSize)
	if err != nil {
		return ExceptionMsg{}, err
	}
	if err := m.setVariant(MessageAbort, s.ToPtr()); err != nil {
		return ExceptionMsg{}, err
	}
	return ExceptionMsg{s}, nil
}

func (m Message) Abort() (ExceptionMsg, error) {
	p, err := m.s.Ptr(0)
	if err != nil {
		return ExceptionMsg{}, err
	}
	return ExceptionMsg{p.Struct()}, nil
}

// SetUnimplemented records orig (copied, so it survives orig's own message
// being reused) as the echoed-back original message.
func (m Message) SetUnimplemented(orig Message) error {
	blob, err := capnp.Copy(orig.ToPtr())
	if err != nil {
		return err
	}
	root, err := blob.Root()
	if err != nil {
		return err
	}
	s, err := capnp.NewStruct(m.s.Segment(), unimplementedSize)
	if err != nil {
		return err
	}
	if err := s.SetPtr(0, root); err != nil {
		return err
	}
	return m.setVariant(MessageUnimplemented, s.ToPtr())
}

func (m Message) Unimplemented() (Message, error) {
	p, err := m.s.Ptr(0)
	if err != nil {
		return Message{}, err
	}
	orig, err := p.Struct().Ptr(0)
	if err != nil {
		return Message{}, err
	}
	return MessageFromPtr(orig), nil
}

// CallTargetKind distinguishes a Call's two possible targets (spec.md
// §4.5's MessageTarget union, level-2 subset).
type CallTargetKind uint16

const (
	TargetImportedCap CallTargetKind = iota
	TargetPromisedAnswer
)

// CallMsg is the wire Call message: a method invocation against either an
// imported capability or a not-yet-resolved answer.
type CallMsg struct{ s capnp.Struct }

func (c CallMsg) ToPtr() capnp.Ptr { return c.s.ToPtr() }

func (c CallMsg) QuestionId() QuestionID    { return QuestionID(c.s.Uint32(0)) }
func (c CallMsg) SetQuestionId(id QuestionID) { c.s.SetUint32(0, uint32(id)) }

func (c CallMsg) MethodId() uint16    { return c.s.Uint16(4) }
func (c CallMsg) SetMethodId(v uint16) { c.s.SetUint16(4, v) }

func (c CallMsg) TargetKind() CallTargetKind    { return CallTargetKind(c.s.Uint16(6)) }
func (c CallMsg) SetTargetKind(k CallTargetKind) { c.s.SetUint16(6, uint16(k)) }

func (c CallMsg) InterfaceId() uint64    { return c.s.Uint64(8) }
func (c CallMsg) SetInterfaceId(v uint64) { c.s.SetUint64(8, v) }

func (c CallMsg) ImportedCap() ExportID     { return ExportID(c.s.Uint32(16)) }
func (c CallMsg) SetImportedCap(id ExportID) { c.s.SetUint32(16, uint32(id)) }

func (c CallMsg) PromisedAnswer() (AnswerRefMsg, error) {
	p, err := c.s.Ptr(0)
	if err != nil {
		return AnswerRefMsg{}, err
	}
	return AnswerRefMsg{p.Struct()}, nil
}

func (c CallMsg) NewPromisedAnswer() (AnswerRefMsg, error) {
	s, err := capnp.NewStruct(c.s.Segment(), answerRefSize)
	if err != nil {
		return AnswerRefMsg{}, err
	}
	return AnswerRefMsg{s}, c.s.SetPtr(0, s.ToPtr())
}

func (c CallMsg) Params() (PayloadMsg, error) {
	p, err := c.s.Ptr(1)
	if err != nil {
		return PayloadMsg{}, err
	}
	return PayloadMsg{p.Struct()}, nil
}

func (c CallMsg) NewParams() (PayloadMsg, error) {
	s, err := capnp.NewStruct(c.s.Segment(), payloadSize)
	if err != nil {
		return PayloadMsg{}, err
	}
	return PayloadMsg{s}, c.s.SetPtr(1, s.ToPtr())
}

// AnswerRefMsg is {questionId, transform}: the shape spec.md §4.5 gives
// both a Call's promisedAnswer target and a CapDescriptor's receiverAnswer
// variant, so both reuse it.
type AnswerRefMsg struct{ s capnp.Struct }

func (a AnswerRefMsg) QuestionId() QuestionID      { return QuestionID(a.s.Uint32(0)) }
func (a AnswerRefMsg) SetQuestionId(id QuestionID) { a.s.SetUint32(0, uint32(id)) }

func (a AnswerRefMsg) Transform() ([]PipelineOp, error) {
	p, err := a.s.Ptr(0)
	if err != nil {
		return nil, err
	}
	l := p.List()
	ops := make([]PipelineOp, l.Len())
	for i := range ops {
		ops[i] = PipelineOp{Field: l.Struct(i).Uint16(0)}
	}
	return ops, nil
}

func (a AnswerRefMsg) SetTransform(ops []PipelineOp) error {
	l, err := capnp.NewCompositeList(a.s.Segment(), pipelineOpSize, int32(len(ops)))
	if err != nil {
		return err
	}
	for i, op := range ops {
		l.Struct(i).SetUint16(0, op.Field)
	}
	return a.s.SetPtr(0, l.ToPtr())
}

// PipelineOp is a single promised-answer transform step: spec.md §4.5
// only needs getPointerField, so that's the only op this engine supports.
type PipelineOp struct {
	Field uint16
}

// PayloadMsg carries a call's params or a return's results: the user
// content root plus the cap-descriptors its interface pointers index into.
type PayloadMsg struct{ s capnp.Struct }

func (p PayloadMsg) Segment() *capnp.Segment { return p.s.Segment() }

func (p PayloadMsg) Content() (capnp.Ptr, error) { return p.s.Ptr(0) }
func (p PayloadMsg) SetContent(v capnp.Ptr) error { return p.s.SetPtr(0, v) }

func (p PayloadMsg) CapTable() (capnp.List, error) {
	v, err := p.s.Ptr(1)
	if err != nil {
		return capnp.List{}, err
	}
	return v.List(), nil
}

func (p PayloadMsg) NewCapTable(n int) (capnp.List, error) {
	l, err := capnp.NewCompositeList(p.s.Segment(), capDescriptorSize, int32(n))
	if err != nil {
		return capnp.List{}, err
	}
	return l, p.s.SetPtr(1, l.ToPtr())
}

// CapDescriptorWhich is a CapDescriptor's discriminant (spec.md §4.5's
// cap-table translation targets, plus thirdPartyHosted which this engine
// always treats as unimplemented per the spec's Open Question).
type CapDescriptorWhich uint16

const (
	DescriptorNone CapDescriptorWhich = iota
	DescriptorSenderHosted
	DescriptorSenderPromise
	DescriptorReceiverHosted
	DescriptorReceiverAnswer
	DescriptorThirdPartyHosted
)

// CapDescriptorAt views the i'th element of a cap-table list.
func CapDescriptorAt(l capnp.List, i int) CapDescriptorMsg {
	return CapDescriptorMsg{l.Struct(i)}
}

type CapDescriptorMsg struct{ s capnp.Struct }

func (d CapDescriptorMsg) Which() CapDescriptorWhich { return CapDescriptorWhich(d.s.Uint16(0)) }

func (d CapDescriptorMsg) SetNone() { d.s.SetUint16(0, uint16(DescriptorNone)) }

func (d CapDescriptorMsg) SenderHosted() ExportID { return ExportID(d.s.Uint32(4)) }
func (d CapDescriptorMsg) SetSenderHosted(id ExportID) {
	d.s.SetUint16(0, uint16(DescriptorSenderHosted))
	d.s.SetUint32(4, uint32(id))
}

func (d CapDescriptorMsg) SenderPromise() ExportID { return ExportID(d.s.Uint32(4)) }
func (d CapDescriptorMsg) SetSenderPromise(id ExportID) {
	d.s.SetUint16(0, uint16(DescriptorSenderPromise))
	d.s.SetUint32(4, uint32(id))
}

func (d CapDescriptorMsg) ReceiverHosted() ImportID { return ImportID(d.s.Uint32(4)) }
func (d CapDescriptorMsg) SetReceiverHosted(id ImportID) {
	d.s.SetUint16(0, uint16(DescriptorReceiverHosted))
	d.s.SetUint32(4, uint32(id))
}

func (d CapDescriptorMsg) ReceiverAnswer() (AnswerRefMsg, error) {
	p, err := d.s.Ptr(0)
	if err != nil {
		return AnswerRefMsg{}, err
	}
	return AnswerRefMsg{p.Struct()}, nil
}

func (d CapDescriptorMsg) SetReceiverAnswer(id QuestionID, transform []PipelineOp) error {
	d.s.SetUint16(0, uint16(DescriptorReceiverAnswer))
	s, err := capnp.NewStruct(d.s.Segment(), answerRefSize)
	if err != nil {
		return err
	}
	ref := AnswerRefMsg{s}
	ref.SetQuestionId(id)
	if err := ref.SetTransform(transform); err != nil {
		return err
	}
	return d.s.SetPtr(0, s.ToPtr())
}

func (d CapDescriptorMsg) SetThirdPartyHosted() { d.s.SetUint16(0, uint16(DescriptorThirdPartyHosted)) }

// ReturnWhich is a Return's discriminant.
type ReturnWhich uint16

const (
	ReturnResults ReturnWhich = iota
	ReturnException
	ReturnCanceled
)

type ReturnMsg struct{ s capnp.Struct }

func (r ReturnMsg) Segment() *capnp.Segment { return r.s.Segment() }

func (r ReturnMsg) AnswerId() AnswerID      { return AnswerID(r.s.Uint32(0)) }
func (r ReturnMsg) SetAnswerId(id AnswerID) { r.s.SetUint32(0, uint32(id)) }

func (r ReturnMsg) Which() ReturnWhich { return ReturnWhich(r.s.Uint16(4)) }

func (r ReturnMsg) ReleaseParamCaps() bool      { return r.s.Bit(capnp.BitOffset(48)) }
func (r ReturnMsg) SetReleaseParamCaps(v bool)  { r.s.SetBit(capnp.BitOffset(48), v) }

func (r ReturnMsg) NewResults() (PayloadMsg, error) {
	r.s.SetUint16(4, uint16(ReturnResults))
	s, err := capnp.NewStruct(r.s.Segment(), payloadSize)
	if err != nil {
		return PayloadMsg{}, err
	}
	return PayloadMsg{s}, r.s.SetPtr(0, s.ToPtr())
}

func (r ReturnMsg) Results() (PayloadMsg, error) {
	p, err := r.s.Ptr(0)
	if err != nil {
		return PayloadMsg{}, err
	}
	return PayloadMsg{p.Struct()}, nil
}

func (r ReturnMsg) SetException(reason string) error {
	r.s.SetUint16(4, uint16(ReturnException))
	s, err := capnp.NewStruct(r.s.Segment(), exceptionSize)
	if err != nil {
		return err
	}
	e := ExceptionMsg{s}
	if err := e.SetReason(reason); err != nil {
		return err
	}
	return r.s.SetPtr(1, s.ToPtr())
}

func (r ReturnMsg) Exception() (ExceptionMsg, error) {
	p, err := r.s.Ptr(1)
	if err != nil {
		return ExceptionMsg{}, err
	}
	return ExceptionMsg{p.Struct()}, nil
}

func (r ReturnMsg) SetCanceled() { r.s.SetUint16(4, uint16(ReturnCanceled)) }

type ExceptionMsg struct{ s capnp.Struct }

func (e ExceptionMsg) Reason() string {
	p, err := e.s.Ptr(0)
	if err != nil {
		return ""
	}
	return p.Text()
}

func (e ExceptionMsg) SetReason(s string) error {
	l, err := capnp.NewText(e.s.Segment(), s)
	if err != nil {
		return err
	}
	return e.s.SetPtr(0, l.ToPtr())
}

type FinishMsg struct{ s capnp.Struct }

func (f FinishMsg) QuestionId() QuestionID      { return QuestionID(f.s.Uint32(0)) }
func (f FinishMsg) SetQuestionId(id QuestionID) { f.s.SetUint32(0, uint32(id)) }

func (f FinishMsg) ReleaseResultCaps() bool     { return f.s.Bit(capnp.BitOffset(32)) }
func (f FinishMsg) SetReleaseResultCaps(v bool) { f.s.SetBit(capnp.BitOffset(32), v) }

type ReleaseMsg struct{ s capnp.Struct }

func (r ReleaseMsg) Id() ExportID               { return ExportID(r.s.Uint32(0)) }
func (r ReleaseMsg) SetId(id ExportID)          { r.s.SetUint32(0, uint32(id)) }
func (r ReleaseMsg) ReferenceCount() uint32     { return r.s.Uint32(4) }
func (r ReleaseMsg) SetReferenceCount(n uint32) { r.s.SetUint32(4, n) }

type RestoreMsg struct{ s capnp.Struct }

func (r RestoreMsg) QuestionId() QuestionID      { return QuestionID(r.s.Uint32(0)) }
func (r RestoreMsg) SetQuestionId(id QuestionID) { r.s.SetUint32(0, uint32(id)) }

func (r RestoreMsg) ObjectId() (capnp.Ptr, error) { return r.s.Ptr(0) }
func (r RestoreMsg) SetObjectId(v capnp.Ptr) error { return r.s.SetPtr(0, v) }

// BootstrapMsg carries no object id: it asks the peer for whatever Client
// it registered as its vat's main interface via WithMainInterface.
type BootstrapMsg struct{ s capnp.Struct }

func (b BootstrapMsg) QuestionId() QuestionID      { return QuestionID(b.s.Uint32(0)) }
func (b BootstrapMsg) SetQuestionId(id QuestionID) { b.s.SetUint32(0, uint32(id)) }
