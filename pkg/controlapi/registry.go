package controlapi

import "time"

// LeaseView is the JSON-facing projection of a bound lease.
type LeaseView struct {
	Addresses  []string  `json:"addresses"`
	T1Seconds  float64   `json:"t1_seconds"`
	T2Seconds  float64   `json:"t2_seconds"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// DeviceView is the JSON-facing projection of one managed interface.
type DeviceView struct {
	Interface string     `json:"interface"`
	IfIndex   int        `json:"if_index"`
	State     string     `json:"state"`
	Lease     *LeaseView `json:"lease,omitempty"`
}

// Registry is the supervisor-shaped surface the control API drives. It
// is defined here, not in the supervisor package, so this package has no
// import-time dependency on the daemon's wiring.
type Registry interface {
	Interfaces() []DeviceView
	Lease(ifname string) (*LeaseView, bool)
	Renew(ifname string) error
	Release(ifname string) error
}

// ErrUnknownInterface is returned by a Registry when asked about an
// interface it is not managing.
type ErrUnknownInterface struct {
	Interface string
}

func (e *ErrUnknownInterface) Error() string {
	return "controlapi: unknown interface " + e.Interface
}
