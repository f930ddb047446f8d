package dhcp6

import "fmt"

// Kind is the closed set of error outcomes the FSM boundary distinguishes.
// Nothing crosses that boundary as a language exception: every path that
// can fail returns one of these, and each kind drives a specific,
// documented transition rather than generic failure handling.
type Kind uint8

const (
	// Malformed: the codec rejected the bytes. The dispatcher drops
	// silently; a counter increments.
	Malformed Kind = iota
	// Unauthenticated: ClientID mismatch or missing ServerID. Dropped
	// silently.
	Unauthenticated
	// TransientNetwork: socket send failure. The scheduler treats it as
	// a no-op tick and retries at the next RT.
	TransientNetwork
	// ProtocolNak: a Reply carried a non-success Status Code. Drives a
	// state-specific transition (see fsm.go).
	ProtocolNak
	// LocalApplyFailed: the lease applier could not install the lease.
	LocalApplyFailed
	// BudgetExhausted: MRC or MRD expired without a usable reply.
	BudgetExhausted
	// Fatal: unrecoverable at device-construction time (e.g. the DUID
	// file is unwritable). The device is never started.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "Malformed"
	case Unauthenticated:
		return "Unauthenticated"
	case TransientNetwork:
		return "TransientNetwork"
	case ProtocolNak:
		return "ProtocolNak"
	case LocalApplyFailed:
		return "LocalApplyFailed"
	case BudgetExhausted:
		return "BudgetExhausted"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with the underlying cause, when there is one.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
