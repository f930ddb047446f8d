package supervisor

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/bytesbymike/wicked/pkg/dhcp6"
	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
	"github.com/bytesbymike/wicked/pkg/events"
	"github.com/bytesbymike/wicked/pkg/leaseapplier"
	"github.com/bytesbymike/wicked/pkg/logger"
)

// callbacksFor builds the dhcp6.Callbacks closure for one interface. Send
// and Encode are pure wire plumbing; ApplyLease and WithdrawLease hand
// off to the applier on a worker goroutine so they never block the FSM's
// own mutex, matching the deferred-apply design VALIDATING exists for.
func (s *Supervisor) callbacksFor(ifname string) dhcp6.Callbacks {
	return dhcp6.Callbacks{
		Send: func(payload []byte) error {
			if s.links == nil {
				return errors.New("supervisor: no link manager")
			}
			return s.links.Send(ifname, allDHCPRelayAgentsAndServers, payload)
		},
		Encode: dhcp6wire.Encode,

		ApplyLease: func(d *dhcp6.Device, lease *dhcp6.Lease) {
			s.Go(func() { s.applyLease(d, lease) })
		},
		WithdrawLease: func(d *dhcp6.Device, addrs []string) {
			s.Go(func() { s.withdrawLease(d, addrs) })
		},

		EmitLeaseAcquired: func(d *dhcp6.Device, lease *dhcp6.Lease) {
			s.publish(events.TopicLeaseAcquired, events.LeaseAcquiredEvent{
				Interface: d.IfName,
				IfIndex:   d.IfIndex,
				Addresses: leaseAddrs(lease),
				T1:        int64(lease.T1.Seconds()),
				T2:        int64(lease.T2.Seconds()),
			})
		},
		EmitLeaseReleased: func(d *dhcp6.Device) {
			s.publish(events.TopicLeaseReleased, events.LeaseReleasedEvent{Interface: d.IfName, IfIndex: d.IfIndex})
			s.Go(func() { s.clearCache(d) })
		},
		EmitLeaseLost: func(d *dhcp6.Device, reason string) {
			s.publish(events.TopicLeaseLost, events.LeaseLostEvent{Interface: d.IfName, IfIndex: d.IfIndex, Reason: reason})
			s.Go(func() { s.clearCache(d) })
		},

		EmitStateChanged: func(d *dhcp6.Device, from, to dhcp6.State) {
			s.publish(events.TopicStateChanged, events.StateChangedEvent{
				Interface: d.IfName,
				IfIndex:   d.IfIndex,
				From:      dhcp6.StateName(from),
				To:        dhcp6.StateName(to),
			})
		},

		ScheduleDeadline: func(ifindex int, at time.Time) { s.scheduler.Set(ifindex, at) },
		CancelDeadline:   func(ifindex int) { s.scheduler.Remove(ifindex) },
	}
}

func (s *Supervisor) publish(topic string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, events.Event{Type: topic, Source: logger.Supervisor, Data: data})
}

func (s *Supervisor) applyLease(d *dhcp6.Device, lease *dhcp6.Lease) {
	if s.applier == nil {
		d.LeaseApplied(dhcp6.ApplyAccepted, netip.Addr{}, time.Now())
		return
	}

	result, addr, err := s.applier.Apply(d.IfIndex, d.IfName, lease)
	switch {
	case result == leaseapplier.ResultDADConflict:
		s.log.Warn("duplicate address detected, declining", "interface", d.IfName, "address", addr)
		d.LeaseApplied(dhcp6.ApplyDADConflict, addr, time.Now())
		return
	case err != nil || result != leaseapplier.ResultOK:
		s.log.Warn("lease apply failed", "interface", d.IfName, "result", result, "address", addr, "error", err)
		d.LeaseApplied(dhcp6.ApplyFailed, netip.Addr{}, time.Now())
		return
	}

	if err := s.applier.CachePut(context.Background(), d.IfIndex, d.IfName, lease); err != nil {
		s.log.Warn("failed to checkpoint lease", "interface", d.IfName, "error", err)
	}
	d.LeaseApplied(dhcp6.ApplyAccepted, netip.Addr{}, time.Now())
}

func (s *Supervisor) withdrawLease(d *dhcp6.Device, addrs []string) {
	if s.applier == nil {
		return
	}
	parsed := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil {
			parsed = append(parsed, addr)
		}
	}
	if len(parsed) == 0 {
		return
	}
	if err := s.applier.Withdraw(d.IfIndex, d.IfName, parsed); err != nil {
		s.log.Warn("failed to withdraw addresses", "interface", d.IfName, "error", err)
	}
}

func (s *Supervisor) clearCache(d *dhcp6.Device) {
	if s.applier == nil {
		return
	}
	if err := s.applier.CacheClear(context.Background(), d.IfIndex); err != nil {
		s.log.Warn("failed to clear lease cache", "interface", d.IfName, "error", err)
	}
}

func leaseAddrs(lease *dhcp6.Lease) []netip.Addr {
	out := make([]netip.Addr, 0, len(lease.Addresses))
	for _, a := range lease.Addresses {
		if addr, err := netip.ParseAddr(a.Address); err == nil {
			out = append(out, addr)
		}
	}
	return out
}
