package dhcp6

import "fmt"

// State is one of the eleven states enumerated by RFC 3315's client state
// diagram plus the wicked-derived REBOOT/REQUESTING-INFO/RENEW-REQUESTED
// extensions.
type State uint8

const (
	Init State = iota
	Selecting
	Requesting
	Validating
	Bound
	Renewing
	Rebinding
	Reboot
	RenewRequested
	Released
	RequestingInfo
)

var stateNames = []string{
	"INIT",
	"SELECTING",
	"REQUESTING",
	"VALIDATING",
	"BOUND",
	"RENEWING",
	"REBINDING",
	"REBOOT",
	"RENEW-REQUESTED",
	"RELEASED",
	"REQUESTING-INFO",
}

// String returns the stable, RFC-flavored state name used in logs and by
// the FSM's public StateName surface.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// transactional reports whether current_xid must be set in this state,
// per the invariant in the data model: current_xid is set iff state is
// one of SELECTING, REQUESTING, RENEWING, REBINDING, REBOOT,
// REQUESTING_INFO, RENEW_REQUESTED.
func (s State) transactional() bool {
	switch s {
	case Selecting, Requesting, Renewing, Rebinding, Reboot, RequestingInfo, RenewRequested:
		return true
	default:
		return false
	}
}

// StateName returns the FSM's public state-name surface: a stable string
// identical to State.String(), exposed as a standalone function for
// callers that only hold the enum value.
func StateName(s State) string {
	return s.String()
}
