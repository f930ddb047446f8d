package events

import "time"

// Event is the envelope published on the bus. Data carries one of the
// typed payloads in types.go.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	Source    string
	Data      any
}
