// Package linkmgr owns the raw resources DHCPv6 clients need on a Linux
// interface: link up/down notification and one multicast socket per
// managed interface, joined to the All_DHCP_Relay_Agents_and_Servers
// group. It is the link manager named as an external collaborator: the
// FSM never touches netlink or a socket directly.
package linkmgr

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/bytesbymike/wicked/pkg/component"
	"github.com/bytesbymike/wicked/pkg/events"
	"github.com/bytesbymike/wicked/pkg/logger"
)

// LinkEvent is delivered on link up/down transitions the manager observes
// via netlink, and mirrors events.LinkStateEvent's shape for callers that
// want the value without a bus subscription.
type LinkEvent struct {
	IfIndex int
	IfName  string
	Up      bool
}

// managedLink tracks one interface's state and its dedicated multicast
// socket.
type managedLink struct {
	ifindex int
	ifname  string
	up      bool
	sock    *multicastSocket
}

// Manager watches a fixed set of interfaces (as named by configuration),
// keeps their up/down state, and owns each one's DHCPv6 multicast socket.
type Manager struct {
	*component.Base

	mu          sync.RWMutex
	byIndex     map[int]*managedLink
	byName      map[string]*managedLink
	bus         events.Bus
	log         *slog.Logger
	linkUpdates chan netlink.LinkUpdate
	done        chan struct{}
}

func New(bus events.Bus) *Manager {
	return &Manager{
		Base:    component.NewBase(logger.LinkManager),
		byIndex: make(map[int]*managedLink),
		byName:  make(map[string]*managedLink),
		bus:     bus,
		log:     logger.Get(logger.LinkManager),
		done:    make(chan struct{}),
	}
}

// Watch registers ifname for link tracking and opens its multicast
// socket. Call before Start.
func (m *Manager) Watch(ifname string) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return fmt.Errorf("linkmgr: lookup %s: %w", ifname, err)
	}

	sock, err := newMulticastSocket(link.Attrs().Index, ifname)
	if err != nil {
		return fmt.Errorf("linkmgr: open multicast socket on %s: %w", ifname, err)
	}

	ml := &managedLink{
		ifindex: link.Attrs().Index,
		ifname:  ifname,
		up:      link.Attrs().Flags&net.FlagUp != 0,
		sock:    sock,
	}

	m.mu.Lock()
	m.byIndex[ml.ifindex] = ml
	m.byName[ifname] = ml
	m.mu.Unlock()

	return nil
}

func (m *Manager) Start(ctx context.Context) error {
	m.StartContext(ctx)

	updates := make(chan netlink.LinkUpdate)
	if err := netlink.LinkSubscribe(updates, m.Ctx.Done()); err != nil {
		return fmt.Errorf("linkmgr: subscribe to link updates: %w", err)
	}
	m.linkUpdates = updates

	m.Go(m.watchLinks)
	m.Go(m.receiveAll)

	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	m.StopContext()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ml := range m.byIndex {
		ml.sock.Close()
	}
	return nil
}

func (m *Manager) watchLinks() {
	for {
		select {
		case <-m.Ctx.Done():
			return
		case update, ok := <-m.linkUpdates:
			if !ok {
				return
			}
			m.handleLinkUpdate(update)
		}
	}
}

func (m *Manager) handleLinkUpdate(update netlink.LinkUpdate) {
	ifindex := int(update.Index)

	m.mu.Lock()
	ml, ok := m.byIndex[ifindex]
	if !ok {
		m.mu.Unlock()
		return
	}
	wasUp := ml.up
	ml.up = update.Attrs().Flags&net.FlagUp != 0
	nowUp := ml.up
	ifname := ml.ifname
	m.mu.Unlock()

	if wasUp == nowUp {
		return
	}

	m.log.Info("link state changed", "interface", ifname, "up", nowUp)
	if m.bus != nil {
		m.bus.Publish(events.TopicLinkStateEvent, events.Event{
			Type:   events.TopicLinkStateEvent,
			Source: logger.LinkManager,
			Data:   events.LinkStateEvent{Interface: ifname, IfIndex: ifindex, Up: nowUp},
		})
	}
}

// receiveAll runs every managed socket's receive loop, one goroutine per
// socket, and returns once all of them have stopped; each socket hands
// the bytes it reads to whatever RecvFunc was registered for it.
func (m *Manager) receiveAll() {
	m.mu.RLock()
	links := make([]*managedLink, 0, len(m.byIndex))
	for _, ml := range m.byIndex {
		links = append(links, ml)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ml := range links {
		wg.Add(1)
		go func(ml *managedLink) {
			defer wg.Done()
			ml.sock.receiveLoop(m.Ctx)
		}(ml)
	}
	wg.Wait()
}

// SetRecvFunc installs the callback invoked with every packet received on
// ifname's multicast socket.
func (m *Manager) SetRecvFunc(ifname string, fn RecvFunc) error {
	m.mu.RLock()
	ml, ok := m.byName[ifname]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("linkmgr: %s is not watched", ifname)
	}
	ml.sock.recv = fn
	return nil
}

// Send transmits payload from ifname's socket to dst (typically the
// all-servers multicast address or a server's unicast link-local
// address).
func (m *Manager) Send(ifname string, dst [16]byte, payload []byte) error {
	m.mu.RLock()
	ml, ok := m.byName[ifname]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("linkmgr: %s is not watched", ifname)
	}
	return ml.sock.send(dst, payload)
}

// IfIndex returns the kernel ifindex for a watched interface name.
func (m *Manager) IfIndex(ifname string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ml, ok := m.byName[ifname]
	if !ok {
		return 0, false
	}
	return ml.ifindex, true
}

// LinkUp reports whether the interface's IFF_UP flag was set, as last
// observed.
func (m *Manager) LinkUp(ifname string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ml, ok := m.byName[ifname]
	return ok && ml.up
}
