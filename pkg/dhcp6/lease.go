package dhcp6

import (
	"net/netip"
	"time"

	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
	"inet.af/netaddr"
)

// LeaseAddr is one address within a lease, carrying its own preferred and
// valid lifetimes as returned by the server.
type LeaseAddr struct {
	Address   string // stored as text form; the applier parses via netip
	Preferred time.Duration
	Valid     time.Duration
}

// Lease is the client's view of a bound IA_NA: what was applied locally,
// what the server granted, and the two renewal deadlines that drive
// RENEWING/REBINDING transitions.
type Lease struct {
	ServerDUID []byte
	ServerAddr netip.Addr // source address of the Reply that granted this lease
	IAID       uint32
	Addresses  []LeaseAddr
	T1         time.Duration
	T2         time.Duration
	AcquiredAt time.Time
}

// deriveT1T2 computes T1/T2 from a decoded IA_NA per RFC 3315 §22.4: use
// the server's values if it supplied nonzero ones, otherwise fall back to
// 0.5 and 0.8 of the longest preferred lifetime among the IA's addresses.
func deriveT1T2(iana *dhcp6wire.IANA) (t1, t2 time.Duration) {
	if iana.T1 != 0 {
		t1 = time.Duration(iana.T1) * time.Second
	}
	if iana.T2 != 0 {
		t2 = time.Duration(iana.T2) * time.Second
	}
	if t1 != 0 && t2 != 0 {
		return t1, t2
	}

	var longest uint32
	for _, a := range iana.Addrs {
		if a.Preferred > longest {
			longest = a.Preferred
		}
	}
	if t1 == 0 {
		t1 = time.Duration(float64(longest)*0.5) * time.Second
	}
	if t2 == 0 {
		t2 = time.Duration(float64(longest)*0.8) * time.Second
	}
	return t1, t2
}

// leaseFromIANA builds a Lease from a decoded IA_NA and the server that
// sent it. It carries no absolute expiry timestamps of its own — those are
// computed relative to AcquiredAt by ExpiresAt so the lease is immutable
// once constructed.
func leaseFromIANA(serverDUID []byte, serverAddr netip.Addr, iana *dhcp6wire.IANA, now time.Time) *Lease {
	t1, t2 := deriveT1T2(iana)
	l := &Lease{
		ServerDUID: append([]byte(nil), serverDUID...),
		ServerAddr: serverAddr,
		IAID:       iana.IAID,
		T1:         t1,
		T2:         t2,
		AcquiredAt: now,
	}
	for _, a := range iana.Addrs {
		l.Addresses = append(l.Addresses, LeaseAddr{
			Address:   a.Address.String(),
			Preferred: time.Duration(a.Preferred) * time.Second,
			Valid:     time.Duration(a.Valid) * time.Second,
		})
	}
	return l
}

// T1Deadline and T2Deadline are the absolute times the FSM schedules
// RENEWING and REBINDING transitions against.
func (l *Lease) T1Deadline() time.Time { return l.AcquiredAt.Add(l.T1) }
func (l *Lease) T2Deadline() time.Time { return l.AcquiredAt.Add(l.T2) }

// ExpiresAt returns the earliest valid-lifetime expiry among the lease's
// addresses, the point at which BOUND must give way to LeaseLost: once any
// one address's valid lifetime runs out the IA_NA as a whole is no longer
// fully usable. T1/T2 are deliberately not part of this: T1 <= T2 <= valid
// always holds, so folding them in would make T1 dominate and the REBOOT
// "cache not expired" guard would never see an unexpired lease.
func (l *Lease) ExpiresAt() time.Time {
	var earliest time.Time
	for i, a := range l.Addresses {
		exp := l.AcquiredAt.Add(a.Valid)
		if i == 0 || exp.Before(earliest) {
			earliest = exp
		}
	}
	return earliest
}

// withdrawn returns addresses present in prev but absent from next, using
// an IP set difference so the comparison is address-family aware rather
// than a raw string diff — the set the applier must remove when a lease
// is replaced.
func withdrawn(prev, next *Lease) []netip.Addr {
	if prev == nil {
		return nil
	}

	var prevSet, nextSet netaddr.IPSetBuilder
	for _, a := range prev.Addresses {
		if addr, err := netaddr.ParseIP(a.Address); err == nil {
			prevSet.Add(addr)
		}
	}
	for _, a := range next.addressesOrEmpty() {
		if addr, err := netaddr.ParseIP(a.Address); err == nil {
			nextSet.Add(addr)
		}
	}

	prevIPSet, err := prevSet.IPSet()
	if err != nil {
		return nil
	}
	nextIPSet, err := nextSet.IPSet()
	if err != nil {
		return nil
	}

	var diff netaddr.IPSetBuilder
	diff.AddSet(prevIPSet)
	diff.RemoveSet(nextIPSet)
	result, err := diff.IPSet()
	if err != nil {
		return nil
	}

	var out []netip.Addr
	for _, r := range result.Ranges() {
		for ip := r.From(); ip.Compare(r.To()) <= 0; ip = ip.Next() {
			if addr, err := netip.ParseAddr(ip.String()); err == nil {
				out = append(out, addr)
			}
			if ip == r.To() {
				break
			}
		}
	}
	return out
}

func (l *Lease) addressesOrEmpty() []LeaseAddr {
	if l == nil {
		return nil
	}
	return l.Addresses
}

func (l *Lease) serverAddrOrZero() netip.Addr {
	if l == nil {
		return netip.Addr{}
	}
	return l.ServerAddr
}
