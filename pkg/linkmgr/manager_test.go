package linkmgr

import (
	"net"
	"testing"
	"time"

	"github.com/vishvananda/netlink"

	"github.com/bytesbymike/wicked/pkg/events"
	"github.com/bytesbymike/wicked/pkg/events/local"
)

func newTestManager() *Manager {
	m := New(local.NewBus())
	return m
}

// fakeLinkUpdate builds a netlink.LinkUpdate carrying just enough state
// for handleLinkUpdate: an ifindex and an up/down flag, without touching
// the kernel.
func fakeLinkUpdate(ifindex int, up bool) netlink.LinkUpdate {
	attrs := netlink.LinkAttrs{Index: ifindex}
	if up {
		attrs.Flags |= net.FlagUp
	}
	u := netlink.LinkUpdate{Link: &netlink.Dummy{LinkAttrs: attrs}}
	u.Index = int32(ifindex)
	return u
}

func TestHandleLinkUpdatePublishesOnTransition(t *testing.T) {
	m := newTestManager()
	m.byIndex[7] = &managedLink{ifindex: 7, ifname: "eth0", up: false, sock: &multicastSocket{}}
	m.byName["eth0"] = m.byIndex[7]

	received := make(chan events.LinkStateEvent, 1)
	m.bus.Subscribe(events.TopicLinkStateEvent, func(e events.Event) {
		received <- e.Data.(events.LinkStateEvent)
	})

	m.handleLinkUpdate(fakeLinkUpdate(7, true))

	select {
	case ev := <-received:
		if !ev.Up || ev.Interface != "eth0" || ev.IfIndex != 7 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for link state event")
	}

	if !m.LinkUp("eth0") {
		t.Fatal("LinkUp should report true after the transition")
	}
}

func TestHandleLinkUpdateIgnoresNoOpTransition(t *testing.T) {
	m := newTestManager()
	m.byIndex[7] = &managedLink{ifindex: 7, ifname: "eth0", up: true, sock: &multicastSocket{}}
	m.byName["eth0"] = m.byIndex[7]

	received := make(chan events.LinkStateEvent, 1)
	m.bus.Subscribe(events.TopicLinkStateEvent, func(e events.Event) {
		received <- e.Data.(events.LinkStateEvent)
	})

	m.handleLinkUpdate(fakeLinkUpdate(7, true))

	select {
	case ev := <-received:
		t.Fatalf("did not expect an event for a no-op transition, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleLinkUpdateUnknownIfindexIsIgnored(t *testing.T) {
	m := newTestManager()

	received := make(chan events.LinkStateEvent, 1)
	m.bus.Subscribe(events.TopicLinkStateEvent, func(e events.Event) {
		received <- e.Data.(events.LinkStateEvent)
	})

	m.handleLinkUpdate(fakeLinkUpdate(99, true))

	select {
	case ev := <-received:
		t.Fatalf("did not expect an event for an unwatched interface, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIfIndexAndLinkUpForUnwatchedInterface(t *testing.T) {
	m := newTestManager()
	if _, ok := m.IfIndex("nope"); ok {
		t.Fatal("expected IfIndex to report not-ok for an unwatched interface")
	}
	if m.LinkUp("nope") {
		t.Fatal("expected LinkUp to report false for an unwatched interface")
	}
}
