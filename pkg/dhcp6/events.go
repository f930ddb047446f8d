package dhcp6

import (
	"time"

	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
)

// Callbacks are the FSM's external collaborators, injected by the
// supervisor. Every field mirrors an out-of-scope component named by the
// design: the codec, the socket, the applier, and the clock/scheduler.
// None of them are called while the device's mutex is held for longer
// than the call itself — LeaseApplied is expected to arrive later, off a
// worker pool, once ApplyLease's async work finishes.
type Callbacks struct {
	// Send transmits an already-encoded packet. A non-nil error is
	// reported to the FSM as TransientNetwork.
	Send func(payload []byte) error

	// Encode builds the wire bytes for an outbound transaction.
	Encode func(req EncodeRequest) ([]byte, error)

	// ApplyLease hands a newly bound lease to the applier. It does not
	// block: completion arrives later via Device.LeaseApplied.
	ApplyLease func(d *Device, lease *Lease)

	// WithdrawLease removes previously applied addresses, e.g. on
	// RELEASED or when a renewal replaces a subset of addresses.
	WithdrawLease func(d *Device, addrs []string)

	// EmitLeaseAcquired, EmitLeaseReleased and EmitLeaseLost surface the
	// lease lifecycle events named by the FSM's public interface.
	EmitLeaseAcquired func(d *Device, lease *Lease)
	EmitLeaseReleased func(d *Device)
	EmitLeaseLost     func(d *Device, reason string)

	// EmitStateChanged fires on every transition, for logging/metrics.
	EmitStateChanged func(d *Device, from, to State)

	// ScheduleDeadline and CancelDeadline drive the device's single
	// pending deadline in the shared scheduler.
	ScheduleDeadline func(ifindex int, at time.Time)
	CancelDeadline   func(ifindex int)

	// Now returns the current time; overridable so tests can control it.
	Now func() time.Time
}

// EncodeRequest re-exports dhcp6wire's request shape so callers assembling
// Callbacks.Encode don't need to import dhcp6wire themselves.
type EncodeRequest = dhcp6wire.EncodeRequest
