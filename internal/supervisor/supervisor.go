// Package supervisor owns one dhcp6.Device per configured interface, the deadline scheduler they
// all share, and the wiring between the link manager, the wire codec,
// and the lease applier that the FSM only ever sees through
// dhcp6.Callbacks.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/bytesbymike/wicked/pkg/component"
	"github.com/bytesbymike/wicked/pkg/config"
	"github.com/bytesbymike/wicked/pkg/dhcp6"
	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
	"github.com/bytesbymike/wicked/pkg/duid"
	"github.com/bytesbymike/wicked/pkg/events"
	"github.com/bytesbymike/wicked/pkg/leaseapplier"
	"github.com/bytesbymike/wicked/pkg/linkmgr"
	"github.com/bytesbymike/wicked/pkg/logger"
)

var allDHCPRelayAgentsAndServers = [16]byte{
	0xff, 0x02, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 1, 0, 2,
}

// managedDevice pairs a device with the interface name it was
// constructed for, since Device itself only carries IfName for logging.
type managedDevice struct {
	dev    *dhcp6.Device
	ifname string
}

// Supervisor wires every configured interface's dhcp6.Device to
// linkmgr, dhcp6wire, and leaseapplier, and drives them from a single
// deadline scheduler.
type Supervisor struct {
	*component.Base
	log *slog.Logger

	cfg     *config.Config
	bus     events.Bus
	links   *linkmgr.Manager
	applier *leaseapplier.Applier
	duid    *duid.Store

	scheduler *dhcp6.DeadlineScheduler

	mu         sync.RWMutex
	byIndex    map[int]*managedDevice
	byName     map[string]*managedDevice
	linkSub    events.Subscription
	clientDUID []byte
}

func New(cfg *config.Config, bus events.Bus, links *linkmgr.Manager, applier *leaseapplier.Applier, duidStore *duid.Store) *Supervisor {
	return &Supervisor{
		Base:    component.NewBase(logger.Supervisor),
		log:     logger.Get(logger.Supervisor),
		cfg:     cfg,
		bus:     bus,
		links:   links,
		applier: applier,
		duid:    duidStore,
		byIndex: make(map[int]*managedDevice),
		byName:  make(map[string]*managedDevice),
	}
}

func (s *Supervisor) Start(ctx context.Context) error {
	s.StartContext(ctx)

	clientDUID, err := s.duid.Load()
	if err != nil {
		return fmt.Errorf("supervisor: load client DUID: %w", err)
	}
	s.clientDUID = clientDUID

	s.scheduler = dhcp6.NewDeadlineScheduler(s.onDeadline)
	s.scheduler.Start()

	if s.bus != nil {
		s.linkSub = s.bus.Subscribe(events.TopicLinkStateEvent, s.onLinkStateEvent)
	}

	for _, ifaceCfg := range s.cfg.Interfaces {
		if err := s.addInterface(ifaceCfg); err != nil {
			s.log.Error("failed to bring up interface", "interface", ifaceCfg.Name, "error", err)
			continue
		}
	}

	for _, md := range s.snapshotDevices() {
		md.dev.Start(time.Now())
	}

	return nil
}

func (s *Supervisor) Stop(ctx context.Context) error {
	if s.linkSub != nil {
		s.linkSub.Unsubscribe()
	}
	for _, md := range s.snapshotDevices() {
		md.dev.Stop(time.Now())
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.StopContext()
	return nil
}

func (s *Supervisor) snapshotDevices() []*managedDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*managedDevice, 0, len(s.byIndex))
	for _, md := range s.byIndex {
		out = append(out, md)
	}
	return out
}

func (s *Supervisor) addInterface(ifaceCfg config.Interface) error {
	if err := s.links.Watch(ifaceCfg.Name); err != nil {
		return err
	}
	ifindex, ok := s.links.IfIndex(ifaceCfg.Name)
	if !ok {
		return fmt.Errorf("supervisor: %s has no ifindex after Watch", ifaceCfg.Name)
	}

	dev := dhcp6.NewDevice(ifindex, ifaceCfg.Name, ifaceCfg.Profile, s.clientDUID, s.callbacksFor(ifaceCfg.Name))

	if s.applier != nil {
		if cached, ok, err := s.applier.CacheGet(context.Background(), ifindex); err != nil {
			s.log.Warn("failed to read lease cache", "interface", ifaceCfg.Name, "error", err)
		} else if ok {
			dev.RestoreLease(cached)
		}
	}

	md := &managedDevice{dev: dev, ifname: ifaceCfg.Name}

	s.mu.Lock()
	s.byIndex[ifindex] = md
	s.byName[ifaceCfg.Name] = md
	s.mu.Unlock()

	if err := s.links.SetRecvFunc(ifaceCfg.Name, s.recvFuncFor(dev)); err != nil {
		return err
	}

	if s.links.LinkUp(ifaceCfg.Name) {
		dev.LinkUp(time.Now())
	}

	return nil
}

func (s *Supervisor) recvFuncFor(dev *dhcp6.Device) linkmgr.RecvFunc {
	return func(payload []byte, src [16]byte) {
		srcAddr := netip.AddrFrom16(src).Unmap()
		msg, err := dhcp6wire.Decode(payload, srcAddr)
		if err != nil {
			s.log.Debug("dropped malformed packet", "interface", dev.IfName, "error", err)
			s.publishPacketDropped(dev, "malformed")
			return
		}
		if drop := dhcp6.Dispatch(dev, msg); drop != "" {
			s.publishPacketDropped(dev, string(drop))
			return
		}
		dev.RxMessage(msg, time.Now())
	}
}

func (s *Supervisor) publishPacketDropped(dev *dhcp6.Device, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.TopicPacketDropped, events.Event{
		Type:   events.TopicPacketDropped,
		Source: logger.Supervisor,
		Data:   events.PacketDroppedEvent{Interface: dev.IfName, IfIndex: dev.IfIndex, Reason: reason},
	})
}

func (s *Supervisor) onDeadline(ifindex int, deadline time.Time) {
	s.mu.RLock()
	md, ok := s.byIndex[ifindex]
	s.mu.RUnlock()
	if !ok {
		return
	}
	md.dev.TimerFired(time.Now())
}

func (s *Supervisor) onLinkStateEvent(e events.Event) {
	ev, ok := e.Data.(events.LinkStateEvent)
	if !ok {
		return
	}
	s.mu.RLock()
	md, ok := s.byIndex[ev.IfIndex]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if ev.Up {
		md.dev.LinkUp(time.Now())
	} else {
		md.dev.LinkDown(time.Now())
	}
}
