package events

import "net/netip"

// LeaseAcquiredEvent is published when a device's FSM commits a lease
// (VALIDATING -> BOUND with LeaseApplied(ok=true)).
type LeaseAcquiredEvent struct {
	Interface string
	IfIndex   int
	Addresses []netip.Addr
	T1        int64
	T2        int64
}

// LeaseReleasedEvent is published when a user-initiated Release has been
// sent; no reply from the server is awaited.
type LeaseReleasedEvent struct {
	Interface string
	IfIndex   int
}

// LeaseLostEvent is published when a lease is abandoned without an
// explicit release: the REQUESTING retransmission budget running out
// ("timeout"), the lease expiring in REBINDING ("lease expired"), a local
// apply failure ("local apply failed"), or a DAD conflict ("dad conflict").
type LeaseLostEvent struct {
	Interface string
	IfIndex   int
	Reason    string
}

// StateChangedEvent mirrors every FSM transition, primarily for metrics
// and the control API's live event stream.
type StateChangedEvent struct {
	Interface string
	IfIndex   int
	From      string
	To        string
}

// LinkStateEvent is published by the link manager on interface up/down.
type LinkStateEvent struct {
	Interface string
	IfIndex   int
	Up        bool
}

// PacketDroppedEvent is published by the supervisor for every dropped
// inbound message: Reason is the dispatcher's drop reason, or "malformed"
// when the packet did not decode.
type PacketDroppedEvent struct {
	Interface string
	IfIndex   int
	Reason    string
}
