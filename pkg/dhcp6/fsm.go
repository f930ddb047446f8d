package dhcp6

import (
	"net/netip"
	"time"

	"github.com/bytesbymike/wicked/pkg/config"
	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
)

// FSM is the transition table proper. It is embedded in Device and never
// constructed independently; every method assumes the device's mutex is
// already held by the caller.
type FSM struct {
	d  *Device
	cb Callbacks
}

func newFSM(d *Device, cb Callbacks) *FSM {
	return &FSM{d: d, cb: cb}
}

func (f *FSM) now() time.Time {
	if f.cb.Now != nil {
		return f.cb.Now()
	}
	return time.Now()
}

func (f *FSM) goTo(to State) {
	from := f.d.state
	f.d.state = to
	if f.cb.EmitStateChanged != nil {
		f.cb.EmitStateChanged(f.d, from, to)
	}
}

func (f *FSM) armDeadline(at time.Time) {
	if f.cb.ScheduleDeadline != nil {
		f.cb.ScheduleDeadline(f.d.IfIndex, at)
	}
}

func (f *FSM) cancelDeadline() {
	if f.cb.CancelDeadline != nil {
		f.cb.CancelDeadline(f.d.IfIndex)
	}
}

func (f *FSM) send(req dhcp6wire.EncodeRequest) error {
	if f.cb.Encode == nil || f.cb.Send == nil {
		return nil
	}
	payload, err := f.cb.Encode(req)
	if err != nil {
		return newError(Malformed, err)
	}
	if err := f.cb.Send(payload); err != nil {
		return newError(TransientNetwork, err)
	}
	return nil
}

// startTransaction begins a fresh transaction of kind, arms its first
// retransmission deadline, and returns it. The caller is responsible for
// actually sending the first packet.
func (f *FSM) startTransaction(kind TransactionKind, now time.Time) *Transaction {
	tx := NewTransaction(kind, now)
	f.d.tx = tx
	f.armDeadline(tx.NextDeadline(now))
	return tx
}

func (f *FSM) clearTransaction() {
	f.d.tx = nil
	f.cancelDeadline()
}

// --- Event handlers ---------------------------------------------------

func (f *FSM) onLinkUp(now time.Time) {
	if f.d.state == Init {
		f.startManaged(now)
	}
}

func (f *FSM) onLinkDown(now time.Time) {
	if f.d.state == Init {
		return
	}
	f.clearTransaction()
	f.d.sel.Reset()
	f.d.clearExcludedServers()
	f.goTo(Init)
}

func (f *FSM) onStart(now time.Time) {
	if f.d.state != Init {
		return
	}
	if f.d.Profile.GetMode() == config.ModeInfoOnly {
		f.startInfoOnly(now)
		return
	}
	if f.d.lease != nil && f.d.lease.ExpiresAt().After(now) {
		f.startReboot(now)
		return
	}
	f.startManaged(now)
}

func (f *FSM) startManaged(now time.Time) {
	f.d.sel.Reset()
	tx := f.startTransaction(TxSolicit, now)
	req := dhcp6wire.EncodeRequest{
		Type:        dhcp6wire.MsgSolicit,
		XID:         tx.XID,
		ClientDUID:  f.d.clientDUID,
		IAID:        f.d.iaID,
		RapidCommit: f.d.Profile.RapidCommit,
	}
	f.send(req)
	f.goTo(Selecting)
}

func (f *FSM) startInfoOnly(now time.Time) {
	tx := f.startTransaction(TxInformationRequest, now)
	req := dhcp6wire.EncodeRequest{
		Type:       dhcp6wire.MsgInformationRequest,
		XID:        tx.XID,
		ClientDUID: f.d.clientDUID,
	}
	f.send(req)
	f.goTo(RequestingInfo)
}

func (f *FSM) startReboot(now time.Time) {
	tx := f.startTransaction(TxConfirm, now)
	req := dhcp6wire.EncodeRequest{
		Type:       dhcp6wire.MsgConfirm,
		XID:        tx.XID,
		ClientDUID: f.d.clientDUID,
		IAID:       f.d.iaID,
	}
	f.send(req)
	f.goTo(Reboot)
}

func (f *FSM) onStop(now time.Time) {
	f.clearTransaction()
	f.d.sel.Reset()
	f.d.clearExcludedServers()
	f.goTo(Init)
}

func (f *FSM) onUserRenew(now time.Time) {
	if f.d.state != Bound {
		return
	}
	f.sendRenew(now)
	f.goTo(RenewRequested)
}

func (f *FSM) onUserRelease(now time.Time) {
	switch f.d.state {
	case Bound, Renewing, Rebinding, RenewRequested:
	default:
		return
	}
	tx := f.startTransaction(TxRelease, now)
	req := dhcp6wire.EncodeRequest{
		Type:       dhcp6wire.MsgRelease,
		XID:        tx.XID,
		ClientDUID: f.d.clientDUID,
		ServerDUID: nil,
		IAID:       f.d.iaID,
	}
	if f.d.lease != nil {
		req.ServerDUID = f.d.lease.ServerDUID
		req.Addresses = decodeLeaseAddrs(f.d.lease)
	}
	f.send(req)
	f.clearTransaction()
	if f.cb.WithdrawLease != nil && f.d.lease != nil {
		f.cb.WithdrawLease(f.d, addrStrings(f.d.lease))
	}
	if f.cb.EmitLeaseReleased != nil {
		f.cb.EmitLeaseReleased(f.d)
	}
	f.d.lease = nil
	f.goTo(Released)
}

func (f *FSM) sendRenew(now time.Time) {
	tx := f.startTransaction(TxRenew, now)
	req := dhcp6wire.EncodeRequest{
		Type:       dhcp6wire.MsgRenew,
		XID:        tx.XID,
		ClientDUID: f.d.clientDUID,
		IAID:       f.d.iaID,
	}
	if f.d.lease != nil {
		req.ServerDUID = f.d.lease.ServerDUID
		req.Addresses = decodeLeaseAddrs(f.d.lease)
	}
	f.send(req)
}

func (f *FSM) sendRebind(now time.Time) {
	tx := f.startTransaction(TxRebind, now)
	req := dhcp6wire.EncodeRequest{
		Type:       dhcp6wire.MsgRebind,
		XID:        tx.XID,
		ClientDUID: f.d.clientDUID,
		IAID:       f.d.iaID,
	}
	if f.d.lease != nil {
		req.Addresses = decodeLeaseAddrs(f.d.lease)
	}
	f.send(req)
}

// onTimerFired handles retransmission and lease-timer deadlines. Which
// applies is determined entirely by the current state, since a device
// has at most one outstanding deadline at a time.
func (f *FSM) onTimerFired(now time.Time) {
	switch f.d.state {
	case Selecting:
		f.onSelectingTimeout(now)
	case Requesting:
		f.onRequestingTimeout(now)
	case Reboot:
		f.onRebootTimeout(now)
	case Bound:
		f.onBoundTimeout(now)
	case Renewing:
		f.onRenewingTimeout(now)
	case Rebinding:
		f.onRebindingTimeout(now)
	case RequestingInfo:
		f.onInfoTimeout(now)
	}
}

func (f *FSM) onSelectingTimeout(now time.Time) {
	if f.d.sel.Len() > 0 {
		f.selectBestAndRequest(now)
		return
	}
	// No usable Advertise yet: retransmit Solicit on the existing xid.
	tx := f.d.tx
	if tx == nil || !tx.Advance(now) {
		f.clearTransaction()
		f.startManaged(now)
		return
	}
	f.armDeadline(tx.NextDeadline(now))
	req := dhcp6wire.EncodeRequest{
		Type:          dhcp6wire.MsgSolicit,
		XID:           tx.XID,
		ClientDUID:    f.d.clientDUID,
		IAID:          f.d.iaID,
		RapidCommit:   f.d.Profile.RapidCommit,
		ElapsedMillis: uint32(tx.Elapsed(now)) * 10,
	}
	f.send(req)
}

func (f *FSM) selectBestAndRequest(now time.Time) {
	best := f.d.sel.Best()
	if best == nil {
		return
	}
	f.clearTransaction()
	tx := f.startTransaction(TxRequest, now)
	req := dhcp6wire.EncodeRequest{
		Type:       dhcp6wire.MsgRequest,
		XID:        tx.XID,
		ClientDUID: f.d.clientDUID,
		ServerDUID: best.ServerDUID,
		IAID:       f.d.iaID,
	}
	if best.IANA != nil {
		for _, a := range best.IANA.Addrs {
			req.Addresses = append(req.Addresses, a.Address)
		}
	}
	f.send(req)
	f.d.sel.Remove(best.ServerDUID)
	f.goTo(Requesting)
}

func (f *FSM) onRequestingTimeout(now time.Time) {
	tx := f.d.tx
	if tx == nil || !tx.Advance(now) {
		f.clearTransaction()
		if f.cb.EmitLeaseLost != nil {
			f.cb.EmitLeaseLost(f.d, "timeout")
		}
		f.goTo(Init)
		return
	}
	f.armDeadline(tx.NextDeadline(now))
	req := dhcp6wire.EncodeRequest{
		Type:          dhcp6wire.MsgRequest,
		XID:           tx.XID,
		ClientDUID:    f.d.clientDUID,
		IAID:          f.d.iaID,
		ElapsedMillis: uint32(tx.Elapsed(now)) * 10,
	}
	f.send(req)
}

func (f *FSM) onRebootTimeout(now time.Time) {
	tx := f.d.tx
	if tx == nil || !tx.Advance(now) {
		f.clearTransaction()
		f.d.lease = nil
		f.startManaged(now)
		return
	}
	f.armDeadline(tx.NextDeadline(now))
	req := dhcp6wire.EncodeRequest{
		Type:          dhcp6wire.MsgConfirm,
		XID:           tx.XID,
		ClientDUID:    f.d.clientDUID,
		IAID:          f.d.iaID,
		ElapsedMillis: uint32(tx.Elapsed(now)) * 10,
	}
	f.send(req)
}

func (f *FSM) onBoundTimeout(now time.Time) {
	f.sendRenew(now)
	f.goTo(Renewing)
}

func (f *FSM) onRenewingTimeout(now time.Time) {
	tx := f.d.tx
	if tx != nil && f.d.lease != nil && now.Before(f.d.lease.T2Deadline()) && tx.Advance(now) {
		f.armDeadline(tx.NextDeadline(now))
		req := dhcp6wire.EncodeRequest{
			Type:          dhcp6wire.MsgRenew,
			XID:           tx.XID,
			ClientDUID:    f.d.clientDUID,
			ServerDUID:    f.d.lease.ServerDUID,
			IAID:          f.d.iaID,
			Addresses:     decodeLeaseAddrs(f.d.lease),
			ElapsedMillis: uint32(tx.Elapsed(now)) * 10,
		}
		f.send(req)
		return
	}
	f.clearTransaction()
	f.sendRebind(now)
	f.goTo(Rebinding)
}

func (f *FSM) onRebindingTimeout(now time.Time) {
	tx := f.d.tx
	if tx != nil && f.d.lease != nil && now.Before(f.d.lease.ExpiresAt()) && tx.Advance(now) {
		f.armDeadline(tx.NextDeadline(now))
		req := dhcp6wire.EncodeRequest{
			Type:          dhcp6wire.MsgRebind,
			XID:           tx.XID,
			ClientDUID:    f.d.clientDUID,
			IAID:          f.d.iaID,
			Addresses:     decodeLeaseAddrs(f.d.lease),
			ElapsedMillis: uint32(tx.Elapsed(now)) * 10,
		}
		f.send(req)
		return
	}
	f.clearTransaction()
	if f.cb.WithdrawLease != nil && f.d.lease != nil {
		f.cb.WithdrawLease(f.d, addrStrings(f.d.lease))
	}
	if f.cb.EmitLeaseLost != nil {
		f.cb.EmitLeaseLost(f.d, "lease expired")
	}
	f.d.lease = nil
	f.goTo(Init)
}

func (f *FSM) onInfoTimeout(now time.Time) {
	tx := f.d.tx
	if tx == nil || !tx.Advance(now) {
		f.clearTransaction()
		f.goTo(Init)
		return
	}
	f.armDeadline(tx.NextDeadline(now))
	req := dhcp6wire.EncodeRequest{
		Type:          dhcp6wire.MsgInformationRequest,
		XID:           tx.XID,
		ClientDUID:    f.d.clientDUID,
		ElapsedMillis: uint32(tx.Elapsed(now)) * 10,
	}
	f.send(req)
}

// onRxMessage implements the RxMessage rows of the transition table. The
// dispatcher has already filtered non-transactional-xid packets before
// this is called, except Advertise during SELECTING which is matched by
// the Solicit's xid.
func (f *FSM) onRxMessage(msg *dhcp6wire.ParsedMessage, now time.Time) {
	switch f.d.state {
	case Selecting:
		f.onRxSelecting(msg, now)
	case Requesting:
		f.onRxRequesting(msg, now)
	case Reboot:
		f.onRxReboot(msg, now)
	case Renewing, Rebinding, RenewRequested:
		f.onRxRenewLike(msg, now)
	case RequestingInfo:
		f.onRxInfo(msg, now)
	}
}

func (f *FSM) onRxSelecting(msg *dhcp6wire.ParsedMessage, now time.Time) {
	if msg.Type == dhcp6wire.MsgReply {
		if msg.RapidCommit && f.d.Profile.RapidCommit && msg.Status == dhcp6wire.StatusSuccess && msg.IANA != nil {
			f.acceptLease(msg, now)
		}
		return
	}
	if msg.Type != dhcp6wire.MsgAdvertise {
		return
	}
	if f.d.isServerExcluded(msg.ServerDUID) {
		return
	}
	if !f.d.sel.Offer(msg, now) {
		return
	}
	if f.d.sel.HasShortCircuit() {
		f.selectBestAndRequest(now)
	}
}

func (f *FSM) onRxRequesting(msg *dhcp6wire.ParsedMessage, now time.Time) {
	if msg.Type != dhcp6wire.MsgReply {
		return
	}
	switch msg.Status {
	case dhcp6wire.StatusSuccess:
		f.acceptLease(msg, now)
	case dhcp6wire.StatusNotOnLink:
		f.clearTransaction()
		f.goTo(Init)
	case dhcp6wire.StatusNoAddrsAvail:
		f.clearTransaction()
		if f.d.sel.Len() > 0 {
			f.selectBestAndRequest(now)
		} else {
			f.startManaged(now)
		}
	}
}

func (f *FSM) onRxReboot(msg *dhcp6wire.ParsedMessage, now time.Time) {
	if msg.Type != dhcp6wire.MsgReply || msg.Status != dhcp6wire.StatusSuccess {
		return
	}
	f.acceptLease(msg, now)
}

func (f *FSM) onRxRenewLike(msg *dhcp6wire.ParsedMessage, now time.Time) {
	if msg.Type != dhcp6wire.MsgReply || msg.Status != dhcp6wire.StatusSuccess {
		return
	}
	f.acceptLease(msg, now)
}

func (f *FSM) onRxInfo(msg *dhcp6wire.ParsedMessage, now time.Time) {
	if msg.Type != dhcp6wire.MsgReply {
		return
	}
	f.clearTransaction()
	f.goTo(Init)
}

// acceptLease records the candidate lease and moves to VALIDATING to wait
// for the applier's confirmation.
func (f *FSM) acceptLease(msg *dhcp6wire.ParsedMessage, now time.Time) {
	f.clearTransaction()
	newLease := leaseFromIANA(msg.ServerDUID, msg.Src, msg.IANA, now)
	f.d.pendingLease = newLease
	f.goTo(Validating)
	if f.cb.ApplyLease != nil {
		f.cb.ApplyLease(f.d, newLease)
	}
}

func (f *FSM) onLeaseApplied(result ApplyResult, conflict netip.Addr, now time.Time) {
	if f.d.state != Validating {
		return
	}

	switch result {
	case ApplyDADConflict:
		f.declineAndReselect(conflict, now)
		return
	case ApplyFailed:
		f.d.pendingLease = nil
		if f.cb.EmitLeaseLost != nil {
			f.cb.EmitLeaseLost(f.d, "local apply failed")
		}
		f.goTo(Init)
		return
	}

	old := f.d.lease
	newLease := f.d.pendingLease
	f.d.pendingLease = nil
	f.d.lease = newLease

	if drop := withdrawn(old, newLease); len(drop) > 0 && f.cb.WithdrawLease != nil {
		strs := make([]string, len(drop))
		for i, a := range drop {
			strs[i] = a.String()
		}
		f.cb.WithdrawLease(f.d, strs)
	}

	if f.cb.EmitLeaseAcquired != nil {
		f.cb.EmitLeaseAcquired(f.d, newLease)
	}

	f.goTo(Bound)
	f.armDeadline(newLease.T1Deadline())
}

// declineAndReselect handles a duplicate-address-detection conflict on a
// just-accepted lease: it sends a Decline for the conflicting address (or
// every address in the lease if the applier could not narrow it down),
// permanently excludes that server for the rest of this run, and restarts
// selection from SELECTING rather than falling all the way back to INIT.
func (f *FSM) declineAndReselect(conflict netip.Addr, now time.Time) {
	lease := f.d.pendingLease
	f.d.pendingLease = nil
	if lease == nil {
		f.goTo(Init)
		return
	}

	tx := f.startTransaction(TxDecline, now)
	req := dhcp6wire.EncodeRequest{
		Type:       dhcp6wire.MsgDecline,
		XID:        tx.XID,
		ClientDUID: f.d.clientDUID,
		ServerDUID: lease.ServerDUID,
		IAID:       f.d.iaID,
	}
	if conflict.IsValid() {
		req.Addresses = []netip.Addr{conflict}
	} else {
		req.Addresses = decodeLeaseAddrs(lease)
	}
	f.send(req)
	f.clearTransaction()

	f.d.excludeServer(lease.ServerDUID)
	f.d.sel.Remove(lease.ServerDUID)

	if f.cb.EmitLeaseLost != nil {
		f.cb.EmitLeaseLost(f.d, "dad conflict")
	}

	f.startManaged(now)
}

func decodeLeaseAddrs(l *Lease) []netip.Addr {
	if l == nil {
		return nil
	}
	out := make([]netip.Addr, 0, len(l.Addresses))
	for _, a := range l.Addresses {
		if addr, err := netip.ParseAddr(a.Address); err == nil {
			out = append(out, addr)
		}
	}
	return out
}

func addrStrings(l *Lease) []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.Addresses))
	for i, a := range l.Addresses {
		out[i] = a.Address
	}
	return out
}
