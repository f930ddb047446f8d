package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytesbymike/wicked/pkg/config"
	"github.com/bytesbymike/wicked/pkg/controlapi"
	"github.com/bytesbymike/wicked/pkg/dhcp6"
	"github.com/bytesbymike/wicked/pkg/events"
	"github.com/bytesbymike/wicked/pkg/events/local"
)

// newTestSupervisor builds a Supervisor with no interfaces configured, a
// real scheduler and event bus, and no linkmgr/applier — enough to
// exercise callbacksFor and the registry surface without touching the
// kernel.
func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	s := New(&config.Config{}, local.NewBus(), nil, nil, nil)
	s.scheduler = dhcp6.NewDeadlineScheduler(s.onDeadline)
	s.scheduler.Start()
	t.Cleanup(s.scheduler.Stop)
	return s
}

func testLease() *dhcp6.Lease {
	return &dhcp6.Lease{
		IAID:       1,
		Addresses:  []dhcp6.LeaseAddr{{Address: "2001:db8::1", Preferred: time.Hour, Valid: 2 * time.Hour}},
		T1:         30 * time.Minute,
		T2:         48 * time.Minute,
		AcquiredAt: time.Now(),
	}
}

func TestRegistryInterfacesEmptyWithNoDevices(t *testing.T) {
	s := newTestSupervisor(t)
	assert.Empty(t, s.Interfaces())
}

func TestRegistryUnknownInterfaceErrors(t *testing.T) {
	s := newTestSupervisor(t)

	_, ok := s.Lease("eth9")
	assert.False(t, ok)

	err := s.Renew("eth9")
	require.Error(t, err)
	var unknown *controlapi.ErrUnknownInterface
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "eth9", unknown.Interface)

	err = s.Release("eth9")
	require.Error(t, err)
	require.ErrorAs(t, err, &unknown)
}

func TestRegistryReflectsManagedDevice(t *testing.T) {
	s := newTestSupervisor(t)

	dev := dhcp6.NewDevice(2, "eth0", config.Profile{}, []byte{0, 1, 2, 3}, s.callbacksFor("eth0"))
	dev.RestoreLease(testLease())

	md := &managedDevice{dev: dev, ifname: "eth0"}
	s.mu.Lock()
	s.byIndex[2] = md
	s.byName["eth0"] = md
	s.mu.Unlock()

	views := s.Interfaces()
	require.Len(t, views, 1)
	assert.Equal(t, "eth0", views[0].Interface)
	assert.Equal(t, 2, views[0].IfIndex)
	require.NotNil(t, views[0].Lease)
	assert.Equal(t, []string{"2001:db8::1"}, views[0].Lease.Addresses)

	lease, ok := s.Lease("eth0")
	require.True(t, ok)
	assert.Equal(t, 1800.0, lease.T1Seconds)
}

func TestOnDeadlineIgnoresUnknownIfindex(t *testing.T) {
	s := newTestSupervisor(t)
	// Should not panic even though ifindex 99 has no managed device.
	s.onDeadline(99, time.Now())
}

func TestOnLinkStateEventDrivesKnownDevice(t *testing.T) {
	s := newTestSupervisor(t)

	dev := dhcp6.NewDevice(3, "eth1", config.Profile{}, []byte{0, 1, 2, 3}, s.callbacksFor("eth1"))
	md := &managedDevice{dev: dev, ifname: "eth1"}
	s.mu.Lock()
	s.byIndex[3] = md
	s.mu.Unlock()

	assert.False(t, dev.LinkReady())

	s.onLinkStateEvent(events.Event{
		Type: events.TopicLinkStateEvent,
		Data: events.LinkStateEvent{Interface: "eth1", IfIndex: 3, Up: true},
	})
	assert.True(t, dev.LinkReady())

	s.onLinkStateEvent(events.Event{
		Type: events.TopicLinkStateEvent,
		Data: events.LinkStateEvent{Interface: "eth1", IfIndex: 3, Up: false},
	})
	assert.False(t, dev.LinkReady())
}

func TestCallbacksEmitStateChangedPublishesOnBus(t *testing.T) {
	s := newTestSupervisor(t)

	received := make(chan events.StateChangedEvent, 1)
	sub := s.bus.Subscribe(events.TopicStateChanged, func(e events.Event) {
		if ev, ok := e.Data.(events.StateChangedEvent); ok {
			received <- ev
		}
	})
	defer sub.Unsubscribe()

	cb := s.callbacksFor("eth0")
	dev := dhcp6.NewDevice(4, "eth0", config.Profile{}, []byte{0, 1, 2, 3}, cb)
	cb.EmitStateChanged(dev, dhcp6.Init, dhcp6.Selecting)

	select {
	case ev := <-received:
		assert.Equal(t, "eth0", ev.Interface)
		assert.Equal(t, "INIT", ev.From)
		assert.Equal(t, "SELECTING", ev.To)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state changed event")
	}
}

func TestApplyLeaseWithNoApplierConfirmsImmediately(t *testing.T) {
	s := newTestSupervisor(t)
	require.Nil(t, s.applier)

	dev := dhcp6.NewDevice(5, "eth0", config.Profile{}, []byte{0, 1, 2, 3}, dhcp6.Callbacks{})
	// applyLease must not block or panic without a configured applier.
	s.applyLease(dev, testLease())
}
