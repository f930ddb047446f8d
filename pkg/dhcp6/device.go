package dhcp6

import (
	"net/netip"
	"sync"
	"time"

	"github.com/bytesbymike/wicked/pkg/config"
	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
)

// ApplyResult is the applier's outcome for a lease handed to it via
// Callbacks.ApplyLease, mirroring pkg/leaseapplier.Result without this
// package importing leaseapplier (which itself imports dhcp6).
type ApplyResult uint8

const (
	ApplyAccepted ApplyResult = iota
	ApplyDADConflict
	ApplyFailed
)

// Device is one interface's DHCPv6 client context: the FSM's state plus
// everything a transition needs to read or update. Every exported method
// takes the device's mutex, matching the single-owner-per-device
// invariant — a Device is never touched concurrently from two goroutines.
type Device struct {
	mu sync.Mutex

	IfIndex int
	IfName  string
	Profile config.Profile

	linkReady  bool
	clientDUID []byte
	iaID       uint32

	state State
	tx    *Transaction
	sel   *SelectionBuffer

	lease        *Lease
	pendingLease *Lease

	// excludedServers holds the ServerDUID of every server declined this
	// run (a DAD conflict on the address it offered), keyed by string so
	// it survives a fresh Solicit round without picking the same server
	// again. Cleared on LinkDown/Stop, when the client restarts cold.
	excludedServers map[string]struct{}

	fsm *FSM
}

// NewDevice constructs a device in INIT. iaID is derived once from
// ifindex and held for the device's lifetime, per the data model's
// invariant that ia_id is immutable after construction.
func NewDevice(ifindex int, ifname string, profile config.Profile, clientDUID []byte, cb Callbacks) *Device {
	d := &Device{
		IfIndex:    ifindex,
		IfName:     ifname,
		Profile:    profile,
		clientDUID: append([]byte(nil), clientDUID...),
		iaID:       uint32(ifindex),
		state:      Init,
		sel:        NewSelectionBuffer(),
	}
	d.fsm = newFSM(d, cb)
	return d
}

func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) Lease() *Lease {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lease
}

func (d *Device) LinkReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linkReady
}

// CurrentXID returns the xid of the in-flight transaction, or 0 with ok
// false if the device is not in a transactional state.
func (d *Device) CurrentXID() (xid uint32, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil {
		return 0, false
	}
	return d.tx.XID, true
}

// LinkUp, LinkDown, Start, Stop, UserRenew, UserRelease, RxMessage and
// LeaseApplied are the FSM's public event surface (spec §6): every one of
// them takes the mutex, runs the transition table, and returns.

func (d *Device) LinkUp(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linkReady = true
	d.fsm.onLinkUp(now)
}

func (d *Device) LinkDown(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linkReady = false
	d.fsm.onLinkDown(now)
}

// RestoreLease seeds a device with a lease recovered from the on-disk
// cache before Start is first called, so onStart's cached-lease branch
// can choose REBOOT/Confirm instead of a cold Solicit. Calling it after
// the device has left INIT has no effect.
func (d *Device) RestoreLease(lease *Lease) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Init {
		return
	}
	d.lease = lease
}

func (d *Device) Start(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.onStart(now)
}

func (d *Device) Stop(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.onStop(now)
}

func (d *Device) UserRenew(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.onUserRenew(now)
}

func (d *Device) UserRelease(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.onUserRelease(now)
}

func (d *Device) TimerFired(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.onTimerFired(now)
}

// LeaseApplied reports the applier's outcome for the lease handed to it
// via Callbacks.ApplyLease. On ApplyDADConflict, conflict identifies the
// address the kernel rejected; it is the zero netip.Addr otherwise.
func (d *Device) LeaseApplied(result ApplyResult, conflict netip.Addr, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.onLeaseApplied(result, conflict, now)
}

func (d *Device) excludeServer(serverDUID []byte) {
	if d.excludedServers == nil {
		d.excludedServers = make(map[string]struct{})
	}
	d.excludedServers[string(serverDUID)] = struct{}{}
}

func (d *Device) isServerExcluded(serverDUID []byte) bool {
	_, ok := d.excludedServers[string(serverDUID)]
	return ok
}

func (d *Device) clearExcludedServers() {
	d.excludedServers = nil
}

// RxMessage feeds one already-decoded, already-dispatch-approved message
// into the transition table.
func (d *Device) RxMessage(msg *dhcp6wire.ParsedMessage, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.onRxMessage(msg, now)
}
