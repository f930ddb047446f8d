package metrics

import (
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/bytesbymike/wicked/pkg/events"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestOnStateChangedUpdatesCounterAndGauges(t *testing.T) {
	c := New(nil, ":0")
	c.onStateChanged(events.Event{Data: events.StateChangedEvent{Interface: "eth0", From: "SELECTING", To: "REQUESTING"}})

	if got := counterValue(t, c.stateChanges, "eth0", "SELECTING", "REQUESTING"); got != 1 {
		t.Fatalf("state transition count = %v, want 1", got)
	}
	if got := gaugeValue(t, c.currentState, "eth0", "REQUESTING"); got != 1 {
		t.Fatalf("current state gauge for REQUESTING = %v, want 1", got)
	}
	if got := gaugeValue(t, c.currentState, "eth0", "SELECTING"); got != 0 {
		t.Fatalf("current state gauge for SELECTING = %v, want 0", got)
	}
}

func TestOnLeaseAcquiredSetsAddressCount(t *testing.T) {
	c := New(nil, ":0")
	c.onLeaseAcquired(events.Event{Data: events.LeaseAcquiredEvent{Interface: "eth0", Addresses: make([]netip.Addr, 2)}})

	if got := counterValue(t, c.leasesAcquired, "eth0"); got != 1 {
		t.Fatalf("leases acquired = %v, want 1", got)
	}
	if got := gaugeValue(t, c.leaseAddresses, "eth0"); got != 2 {
		t.Fatalf("lease addresses = %v, want 2", got)
	}
}

func TestOnLeaseLostIncrementsByReason(t *testing.T) {
	c := New(nil, ":0")
	c.onLeaseLost(events.Event{Data: events.LeaseLostEvent{Interface: "eth0", Reason: "timeout"}})
	c.onLeaseLost(events.Event{Data: events.LeaseLostEvent{Interface: "eth0", Reason: "timeout"}})

	if got := counterValue(t, c.leasesLost, "eth0", "timeout"); got != 2 {
		t.Fatalf("leases lost = %v, want 2", got)
	}
}

func TestOnLinkStateTracksUpDown(t *testing.T) {
	c := New(nil, ":0")
	c.onLinkState(events.Event{Data: events.LinkStateEvent{Interface: "eth0", Up: true}})
	if got := gaugeValue(t, c.linkUp, "eth0"); got != 1 {
		t.Fatalf("link up = %v, want 1", got)
	}
	c.onLinkState(events.Event{Data: events.LinkStateEvent{Interface: "eth0", Up: false}})
	if got := gaugeValue(t, c.linkUp, "eth0"); got != 0 {
		t.Fatalf("link up = %v, want 0", got)
	}
}

func TestIgnoresMismatchedEventPayload(t *testing.T) {
	c := New(nil, ":0")
	c.onLeaseAcquired(events.Event{Data: "not the right type"})
	if got := counterValue(t, c.leasesAcquired, "eth0"); got != 0 {
		t.Fatalf("expected no increment on mismatched payload, got %v", got)
	}
}
