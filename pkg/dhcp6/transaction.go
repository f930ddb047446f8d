package dhcp6

import (
	"math/rand"
	"time"
)

// TransactionKind identifies which outbound message a transaction is
// driving retransmission for.
type TransactionKind uint8

const (
	TxSolicit TransactionKind = iota
	TxRequest
	TxConfirm
	TxRenew
	TxRebind
	TxRelease
	TxDecline
	TxInformationRequest
)

// retransmit parameters, in milliseconds, per RFC 3315 §5.5. MRC/MRD of 0
// means unlimited (bounded by the other of the pair, or, for Renew/Rebind,
// by the T2/lease-expiry deadline the FSM computes separately).
type retransmitParams struct {
	irt int64 // initial retransmission time
	mrt int64 // max retransmission time, 0 = no cap
	mrc int   // max retransmission count, 0 = no cap
	mrd int64 // max retransmission duration, 0 = no cap
}

var paramsByKind = map[TransactionKind]retransmitParams{
	TxSolicit:            {irt: 1000, mrt: 120000, mrc: 0, mrd: 0},
	TxRequest:            {irt: 1000, mrt: 30000, mrc: 10, mrd: 0},
	TxConfirm:            {irt: 1000, mrt: 4000, mrc: 0, mrd: 10000},
	TxRenew:              {irt: 10000, mrt: 600000, mrc: 0, mrd: 0},
	TxRebind:             {irt: 10000, mrt: 600000, mrc: 0, mrd: 0},
	TxRelease:            {irt: 1000, mrt: 0, mrc: 5, mrd: 0},
	TxDecline:            {irt: 1000, mrt: 0, mrc: 5, mrd: 0},
	TxInformationRequest: {irt: 1000, mrt: 120000, mrc: 0, mrd: 0},
}

// Transaction tracks one in-flight exchange's retransmission state: the
// xid it owns, how many attempts it has made, and when the next one is
// due. It has no notion of sockets or the FSM's state — Advance is a pure
// function of elapsed wall-clock time.
type Transaction struct {
	Kind      TransactionKind
	XID       uint32
	StartedAt time.Time
	params    retransmitParams
	rt        int64 // current retransmission timeout, ms
	rc        int   // attempts made so far
}

// newXID draws a fresh 24-bit transaction id, matching the client's
// convention of masking off the top byte of a generated value.
func newXID() uint32 {
	return rand.Uint32() & 0x00FFFFFF
}

// NewTransaction starts a transaction for kind at now, drawing a fresh
// xid and computing its first retransmission timeout per RFC 3315 §14:
// RT = IRT + RAND*IRT, where RAND is a jitter in [-0.1, 0.1], plus an
// extra uniform [0, IRT] delay for Solicit's initial burst-avoidance.
func NewTransaction(kind TransactionKind, now time.Time) *Transaction {
	p := paramsByKind[kind]
	rt := jitter(p.irt)
	if kind == TxSolicit {
		rt += int64(rand.Int63n(p.irt + 1))
	}
	return &Transaction{
		Kind:      kind,
		XID:       newXID(),
		StartedAt: now,
		params:    p,
		rt:        rt,
	}
}

// jitter applies RFC 3315's ±10% randomization to a millisecond duration.
func jitter(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	frac := (rand.Float64() * 0.2) - 0.1 // [-0.1, 0.1)
	return ms + int64(float64(ms)*frac)
}

// NextDeadline returns the wall-clock time of this transaction's next
// scheduled retransmission (or the RT it will use if it fires now).
func (t *Transaction) NextDeadline(lastSentAt time.Time) time.Time {
	return lastSentAt.Add(time.Duration(t.rt) * time.Millisecond)
}

// Advance records a retransmission attempt and computes the next RT: RT =
// 2*RTprev*(1+RAND), capped at MRT*(1+RAND) once doubling would exceed it.
// It returns false when the transaction has exhausted MRC or MRD and the
// caller should raise BudgetExhausted instead of retransmitting again.
func (t *Transaction) Advance(now time.Time) bool {
	t.rc++

	if t.params.mrc > 0 && t.rc >= t.params.mrc {
		return false
	}
	if t.params.mrd > 0 && now.Sub(t.StartedAt) >= time.Duration(t.params.mrd)*time.Millisecond {
		return false
	}

	next := jitter(2 * t.rt)
	if t.params.mrt > 0 && next > t.params.mrt {
		next = jitter(t.params.mrt)
	}
	t.rt = next
	return true
}

// Elapsed returns the value for the Elapsed Time option: hundredths of a
// second since StartedAt, capped at 0xFFFF per RFC 3315 §22.9.
func (t *Transaction) Elapsed(now time.Time) uint16 {
	hundredths := now.Sub(t.StartedAt).Milliseconds() / 10
	if hundredths > 0xFFFF {
		return 0xFFFF
	}
	if hundredths < 0 {
		return 0
	}
	return uint16(hundredths)
}
