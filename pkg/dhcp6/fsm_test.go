package dhcp6

import (
	"net/netip"
	"testing"
	"time"

	"github.com/bytesbymike/wicked/pkg/config"
	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness wires a Device to a fake clock and records everything the FSM
// hands to its callbacks, so scenario tests can assert on outbound
// requests and emitted lease events without a real socket or applier.
type harness struct {
	dev          *Device
	sent         []dhcp6wire.EncodeRequest
	acquired     []*Lease
	released     bool
	lost         []string
	deadline     time.Time
	haveDeadline bool
	applyResult  bool
	applyCalls   int
}

func newHarness(profile config.Profile) *harness {
	h := &harness{applyResult: true}
	cb := Callbacks{
		Encode: func(req dhcp6wire.EncodeRequest) ([]byte, error) {
			h.sent = append(h.sent, req)
			return []byte("encoded"), nil
		},
		Send: func(payload []byte) error { return nil },
		// ApplyLease only records the request here: the real applier
		// reports back asynchronously via LeaseApplied, off its own
		// worker pool, never by reentering the caller's stack. Tests
		// drive that confirmation as an explicit next step.
		ApplyLease: func(d *Device, lease *Lease) {
			h.applyCalls++
		},
		WithdrawLease: func(d *Device, addrs []string) {},
		EmitLeaseAcquired: func(d *Device, lease *Lease) {
			h.acquired = append(h.acquired, lease)
		},
		EmitLeaseReleased: func(d *Device) { h.released = true },
		EmitLeaseLost: func(d *Device, reason string) { h.lost = append(h.lost, reason) },
		EmitStateChanged: func(d *Device, from, to State) {},
		ScheduleDeadline: func(ifindex int, at time.Time) {
			h.deadline = at
			h.haveDeadline = true
		},
		CancelDeadline: func(ifindex int) { h.haveDeadline = false },
	}
	h.dev = NewDevice(1, "eth0", profile, []byte{0, 1, 2, 3}, cb)
	return h
}

func (h *harness) lastSent() dhcp6wire.EncodeRequest {
	return h.sent[len(h.sent)-1]
}

func advertise(serverDUID []byte, pref int, addr string, preferredSec, validSec uint32) *dhcp6wire.ParsedMessage {
	return &dhcp6wire.ParsedMessage{
		Type:       dhcp6wire.MsgAdvertise,
		ServerDUID: serverDUID,
		Preference: pref,
		Status:     dhcp6wire.StatusSuccess,
		IANA: &dhcp6wire.IANA{
			IAID:   1,
			Status: dhcp6wire.StatusSuccess,
			Addrs: []dhcp6wire.IAAddr{
				{Address: netip.MustParseAddr(addr), Preferred: preferredSec, Valid: validSec},
			},
		},
	}
}

func reply(serverDUID []byte, addr string, preferredSec, validSec, t1, t2 uint32) *dhcp6wire.ParsedMessage {
	return &dhcp6wire.ParsedMessage{
		Type:       dhcp6wire.MsgReply,
		ServerDUID: serverDUID,
		Status:     dhcp6wire.StatusSuccess,
		IANA: &dhcp6wire.IANA{
			IAID:   1,
			T1:     t1,
			T2:     t2,
			Status: dhcp6wire.StatusSuccess,
			Addrs: []dhcp6wire.IAAddr{
				{Address: netip.MustParseAddr(addr), Preferred: preferredSec, Valid: validSec},
			},
		},
	}
}

func managedProfile() config.Profile {
	return config.Profile{Mode: config.ModeManaged}
}

// Scenario 1: Solicit -> Advertise(pref 0) -> Request -> Reply -> Bound.
func TestScenarioBasicBind(t *testing.T) {
	h := newHarness(managedProfile())
	start := time.Now()

	h.dev.Start(start)
	require.Equal(t, Selecting, h.dev.State())
	require.Len(t, h.sent, 1)
	assert.Equal(t, dhcp6wire.MsgSolicit, h.lastSent().Type)

	h.dev.RxMessage(advertise([]byte("server-a"), 0, "2001:db8::1", 3600, 7200), start.Add(500*time.Millisecond))
	require.Equal(t, Selecting, h.dev.State(), "a plain Advertise must not shortcut SELECTING")

	h.dev.TimerFired(start.Add(1 * time.Second))
	require.Equal(t, Requesting, h.dev.State())
	assert.Equal(t, dhcp6wire.MsgRequest, h.lastSent().Type)

	h.dev.RxMessage(reply([]byte("server-a"), "2001:db8::1", 3600, 7200, 1800, 2880), start.Add(1100*time.Millisecond))
	require.Equal(t, Validating, h.dev.State())
	require.Equal(t, 1, h.applyCalls)

	h.dev.LeaseApplied(ApplyAccepted, netip.Addr{}, start.Add(1200*time.Millisecond))
	require.Equal(t, Bound, h.dev.State())
	require.Len(t, h.acquired, 1)
	assert.Equal(t, "2001:db8::1", h.acquired[0].Addresses[0].Address)
	assert.True(t, h.haveDeadline)
}

// Scenario 2: an Advertise with preference 255 short-circuits the wait for
// more Advertises and moves straight to REQUESTING.
func TestScenarioPreference255ShortCircuits(t *testing.T) {
	h := newHarness(managedProfile())
	start := time.Now()

	h.dev.Start(start)
	h.dev.RxMessage(advertise([]byte("server-b"), 255, "2001:db8::2", 3600, 7200), start.Add(300*time.Millisecond))

	require.Equal(t, Requesting, h.dev.State())
	assert.Equal(t, dhcp6wire.MsgRequest, h.lastSent().Type)
}

// Scenario 3: rapid-commit Reply in SELECTING bypasses REQUESTING.
func TestScenarioRapidCommit(t *testing.T) {
	profile := managedProfile()
	profile.RapidCommit = true
	h := newHarness(profile)
	start := time.Now()

	h.dev.Start(start)
	require.Equal(t, Selecting, h.dev.State())

	msg := reply([]byte("server-c"), "2001:db8::3", 3600, 7200, 0, 0)
	msg.RapidCommit = true
	h.dev.RxMessage(msg, start.Add(200*time.Millisecond))

	require.Equal(t, Validating, h.dev.State(), "rapid-commit reply must bypass REQUESTING")
	h.dev.LeaseApplied(ApplyAccepted, netip.Addr{}, start.Add(210*time.Millisecond))
	require.Equal(t, Bound, h.dev.State())
}

// Scenario 4: applier reports a local apply failure; the device restarts
// through INIT rather than staying bound to an address it could not install.
func TestScenarioLocalApplyFailure(t *testing.T) {
	h := newHarness(managedProfile())
	h.applyResult = false
	start := time.Now()

	h.dev.Start(start)
	h.dev.TimerFired(start.Add(1 * time.Second)) // no advertise arrived; retransmits solicit
	require.Equal(t, Selecting, h.dev.State())

	h.dev.RxMessage(advertise([]byte("server-d"), 0, "2001:db8::4", 3600, 7200), start.Add(1100*time.Millisecond))
	h.dev.TimerFired(start.Add(2 * time.Second))
	require.Equal(t, Requesting, h.dev.State())

	h.dev.RxMessage(reply([]byte("server-d"), "2001:db8::4", 3600, 7200, 1800, 2880), start.Add(2100*time.Millisecond))
	require.Equal(t, Validating, h.dev.State())

	h.dev.LeaseApplied(ApplyFailed, netip.Addr{}, start.Add(2200*time.Millisecond))
	require.Equal(t, Init, h.dev.State())
	require.Len(t, h.lost, 1)
	assert.Equal(t, "local apply failed", h.lost[0])
}

// Scenario 4 (DAD conflict): the applier reports a duplicate-address
// conflict on the accepted lease. The device must Decline the address,
// return to SELECTING instead of INIT, and never pick the declined server
// again even once it re-advertises.
func TestScenarioDADConflictDeclinesAndReselects(t *testing.T) {
	h := newHarness(managedProfile())
	start := time.Now()

	h.dev.Start(start)
	h.dev.RxMessage(advertise([]byte("server-h"), 0, "2001:db8::b", 3600, 7200), start)
	h.dev.TimerFired(start.Add(time.Second))
	require.Equal(t, Requesting, h.dev.State())

	h.dev.RxMessage(reply([]byte("server-h"), "2001:db8::b", 3600, 7200, 1800, 2880), start.Add(1100*time.Millisecond))
	require.Equal(t, Validating, h.dev.State())

	conflict := netip.MustParseAddr("2001:db8::b")
	sentBeforeApply := len(h.sent)
	h.dev.LeaseApplied(ApplyDADConflict, conflict, start.Add(1150*time.Millisecond))

	require.Equal(t, Selecting, h.dev.State(), "a DAD conflict must return to SELECTING, not INIT")
	require.Len(t, h.lost, 1)
	assert.Equal(t, "dad conflict", h.lost[0])

	// declineAndReselect sends the Decline, then startManaged immediately
	// sends the next Solicit; the Decline is the first of the two.
	require.Len(t, h.sent, sentBeforeApply+2)
	decline := h.sent[sentBeforeApply]
	assert.Equal(t, dhcp6wire.MsgDecline, decline.Type)
	assert.Equal(t, []byte("server-h"), decline.ServerDUID)
	require.Len(t, decline.Addresses, 1)
	assert.Equal(t, conflict, decline.Addresses[0])
	assert.Equal(t, dhcp6wire.MsgSolicit, h.lastSent().Type)

	// The declined server re-advertises, but it must never be selected
	// again this run.
	h.dev.RxMessage(advertise([]byte("server-h"), 0, "2001:db8::b", 3600, 7200), start.Add(1200*time.Millisecond))
	assert.Equal(t, 0, h.dev.sel.Len(), "an excluded server's Advertise must not be buffered")
}

// Scenario 5: T1 expiry drives BOUND -> RENEWING -> REBINDING -> BOUND.
func TestScenarioRenewRebind(t *testing.T) {
	h := newHarness(managedProfile())
	start := time.Now()

	h.dev.Start(start)
	h.dev.RxMessage(advertise([]byte("server-e"), 0, "2001:db8::5", 30, 30), start)
	h.dev.TimerFired(start.Add(time.Second))
	h.dev.RxMessage(reply([]byte("server-e"), "2001:db8::5", 30, 30, 10, 16), start.Add(1100*time.Millisecond))
	h.dev.LeaseApplied(ApplyAccepted, netip.Addr{}, start.Add(1150*time.Millisecond))
	require.Equal(t, Bound, h.dev.State())

	boundAt := start.Add(1100 * time.Millisecond)
	h.dev.TimerFired(boundAt.Add(10 * time.Second))
	require.Equal(t, Renewing, h.dev.State())
	assert.Equal(t, dhcp6wire.MsgRenew, h.lastSent().Type)

	h.dev.TimerFired(boundAt.Add(16 * time.Second))
	require.Equal(t, Rebinding, h.dev.State())
	assert.Equal(t, dhcp6wire.MsgRebind, h.lastSent().Type)

	h.dev.RxMessage(reply([]byte("server-e"), "2001:db8::5", 3600, 7200, 1800, 2880), boundAt.Add(16300*time.Millisecond))
	h.dev.LeaseApplied(ApplyAccepted, netip.Addr{}, boundAt.Add(16350*time.Millisecond))
	require.Equal(t, Bound, h.dev.State())
	require.Len(t, h.acquired, 2)
}

// Scenario 6: Start(managed) with a cached, unexpired lease goes to REBOOT
// and issues Confirm; no reply within MRD falls back to SELECTING.
func TestScenarioConfirmOnReboot(t *testing.T) {
	h := newHarness(managedProfile())
	start := time.Now()
	h.dev.lease = &Lease{
		Addresses: []LeaseAddr{{Address: "2001:db8::6", Valid: time.Hour}},
		AcquiredAt: start,
	}

	h.dev.Start(start)
	require.Equal(t, Reboot, h.dev.State())
	assert.Equal(t, dhcp6wire.MsgConfirm, h.lastSent().Type)

	h.dev.TimerFired(start.Add(11 * time.Second))
	require.Equal(t, Selecting, h.dev.State())
}

// Idempotent release: a second UserRelease once RELEASED is a no-op.
func TestUserReleaseIsIdempotent(t *testing.T) {
	h := newHarness(managedProfile())
	start := time.Now()
	h.dev.Start(start)
	h.dev.RxMessage(advertise([]byte("server-f"), 0, "2001:db8::7", 3600, 7200), start)
	h.dev.TimerFired(start.Add(time.Second))
	h.dev.RxMessage(reply([]byte("server-f"), "2001:db8::7", 3600, 7200, 1800, 2880), start.Add(1100*time.Millisecond))
	h.dev.LeaseApplied(ApplyAccepted, netip.Addr{}, start.Add(1150*time.Millisecond))
	require.Equal(t, Bound, h.dev.State())

	h.dev.UserRelease(start.Add(2 * time.Second))
	require.Equal(t, Released, h.dev.State())
	sentAfterFirstRelease := len(h.sent)

	h.dev.UserRelease(start.Add(3 * time.Second))
	require.Equal(t, Released, h.dev.State())
	assert.Equal(t, sentAfterFirstRelease, len(h.sent), "second UserRelease in RELEASED must not send anything")
}

// Invariant: current_xid is set iff state is one of the transactional
// states.
func TestCurrentXIDInvariant(t *testing.T) {
	h := newHarness(managedProfile())
	start := time.Now()

	_, ok := h.dev.CurrentXID()
	assert.False(t, ok, "INIT must not have a current xid")

	h.dev.Start(start)
	_, ok = h.dev.CurrentXID()
	assert.True(t, ok, "SELECTING must have a current xid")

	h.dev.RxMessage(advertise([]byte("server-g"), 0, "2001:db8::8", 3600, 7200), start)
	h.dev.TimerFired(start.Add(time.Second))
	h.dev.RxMessage(reply([]byte("server-g"), "2001:db8::8", 3600, 7200, 1800, 2880), start.Add(1100*time.Millisecond))
	_, ok = h.dev.CurrentXID()
	assert.False(t, ok, "VALIDATING must not have a current xid")

	h.dev.LeaseApplied(ApplyAccepted, netip.Addr{}, start.Add(1150*time.Millisecond))
	_, ok = h.dev.CurrentXID()
	assert.False(t, ok, "BOUND must not have a current xid")
}

// Invariant: T1 <= T2 <= min(valid_lifetime) for the accepted lease.
func TestLeaseTimerOrderingInvariant(t *testing.T) {
	iana := &dhcp6wire.IANA{
		Addrs: []dhcp6wire.IAAddr{{Address: netip.MustParseAddr("2001:db8::9"), Preferred: 100, Valid: 200}},
	}
	l := leaseFromIANA([]byte("s"), netip.Addr{}, iana, time.Now())
	assert.LessOrEqual(t, l.T1, l.T2)
	assert.LessOrEqual(t, l.T2, l.Addresses[0].Valid)
}

// Invariant: the pending advertise set holds at most one entry per server.
func TestSelectionBufferDedupesByServer(t *testing.T) {
	buf := NewSelectionBuffer()
	now := time.Now()
	buf.Offer(advertise([]byte("dup"), 0, "2001:db8::a", 100, 200), now)
	buf.Offer(advertise([]byte("dup"), 5, "2001:db8::a", 100, 200), now.Add(time.Millisecond))
	assert.Equal(t, 1, buf.Len())
	assert.Equal(t, 5, buf.Best().Preference)
}
