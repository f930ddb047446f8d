package dhcp6

import (
	"time"

	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
)

// candidate is one Advertise the selection buffer is holding, keyed by the
// server that sent it.
type candidate struct {
	serverDUID []byte
	preference int
	arrivedAt  time.Time
	msg        *dhcp6wire.ParsedMessage
}

// SelectionBuffer accumulates usable Advertise messages during SELECTING,
// keeping at most one entry per ServerID and discarding entries that
// carry no usable IA_NA or a non-Success status. Best resolves the
// highest-preference entry, earliest arrival breaking ties, or nil if the
// buffer holds nothing usable.
type SelectionBuffer struct {
	byServer map[string]*candidate
}

func NewSelectionBuffer() *SelectionBuffer {
	return &SelectionBuffer{byServer: make(map[string]*candidate)}
}

// Offer records an Advertise, replacing any prior entry from the same
// server. It returns false if the message was rejected as unusable.
func (b *SelectionBuffer) Offer(msg *dhcp6wire.ParsedMessage, now time.Time) bool {
	if len(msg.ServerDUID) == 0 {
		return false
	}
	if msg.Status != dhcp6wire.StatusSuccess {
		return false
	}
	if msg.IANA == nil || msg.IANA.Status != dhcp6wire.StatusSuccess || len(msg.IANA.Addrs) == 0 {
		return false
	}

	pref := msg.Preference
	if pref < 0 {
		pref = 0
	}

	b.byServer[string(msg.ServerDUID)] = &candidate{
		serverDUID: msg.ServerDUID,
		preference: pref,
		arrivedAt:  now,
		msg:        msg,
	}
	return true
}

// HasShortCircuit reports whether any held candidate advertised
// preference 255, which per RFC 3315 §17.1.3 ends the wait for more
// Advertises immediately.
func (b *SelectionBuffer) HasShortCircuit() bool {
	for _, c := range b.byServer {
		if c.preference == 255 {
			return true
		}
	}
	return false
}

// Best returns the candidate with the highest preference, earliest
// arrival breaking ties, or nil if the buffer is empty.
func (b *SelectionBuffer) Best() *dhcp6wire.ParsedMessage {
	var best *candidate
	for _, c := range b.byServer {
		if best == nil {
			best = c
			continue
		}
		if c.preference > best.preference {
			best = c
			continue
		}
		if c.preference == best.preference && c.arrivedAt.Before(best.arrivedAt) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	return best.msg
}

// Remove drops one server's held Advertise, e.g. once it has been tried
// via Request and rejected (NoAddrsAvail) or declined (DAD conflict), so
// the remaining candidates stay available for the next selection round.
func (b *SelectionBuffer) Remove(serverDUID []byte) {
	delete(b.byServer, string(serverDUID))
}

func (b *SelectionBuffer) Len() int { return len(b.byServer) }

// Reset clears the buffer for reuse across SELECTING attempts.
func (b *SelectionBuffer) Reset() {
	b.byServer = make(map[string]*candidate)
}
