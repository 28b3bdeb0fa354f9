package capnp

import "context"

// CapabilityID is an index into a Message's capability table.
type CapabilityID uint32

// Method identifies an interface method by the schema ids the external
// schema adapter would otherwise resolve from a method name, per
// spec.md §6.
type Method struct {
	InterfaceID uint64
	MethodID    uint16
}

// Client is the external collaborator invoked when an inbound call
// resolves to a capability hosted in this process (spec.md §1's "typed
// accessor layer" consumer). The rpc package supplies concrete Clients
// backed by the four-table vat machinery; this package only needs to know
// how to invoke and release one.
type Client interface {
	Call(ctx context.Context, m Method, params Ptr) (Ptr, error)
	Close() error
}

// Interface is a pointer to a capability: an index into the owning
// message's capability table.
type Interface struct {
	seg *Segment
	cap CapabilityID
}

// NewInterface creates an interface pointer referencing capability cap in
// s's message. cap must already have been added via Message.AddCap.
func NewInterface(s *Segment, cap CapabilityID) Interface {
	return Interface{seg: s, cap: cap}
}

// IsValid reports whether i points at a real segment.
func (i Interface) IsValid() bool { return i.seg != nil }

// Capability returns the index of i within its message's capability table.
func (i Interface) Capability() CapabilityID { return i.cap }

// Client returns the local Client the capability resolves to, or nil if
// none is set (e.g. a capability received over the wire before its
// cap-table entry was translated).
func (i Interface) Client() Client {
	if i.seg == nil || int(i.cap) >= len(i.seg.msg.CapTable) {
		return nil
	}
	return i.seg.msg.CapTable[i.cap]
}

func (i Interface) value(paddr Address) wirePointer {
	return rawInterfacePointer(i.cap)
}

// ToPtr converts i to a generic Ptr.
func (i Interface) ToPtr() Ptr {
	if i.seg == nil {
		return Ptr{}
	}
	return Ptr{
		seg:   i.seg,
		flags: interfacePtrFlag,
		cap:   i.cap,
	}
}
