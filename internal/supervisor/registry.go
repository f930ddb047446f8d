package supervisor

import (
	"time"

	"github.com/bytesbymike/wicked/pkg/controlapi"
	"github.com/bytesbymike/wicked/pkg/dhcp6"
)

// Interfaces implements controlapi.Registry.
func (s *Supervisor) Interfaces() []controlapi.DeviceView {
	mds := s.snapshotDevices()
	out := make([]controlapi.DeviceView, 0, len(mds))
	for _, md := range mds {
		out = append(out, controlapi.DeviceView{
			Interface: md.ifname,
			IfIndex:   md.dev.IfIndex,
			State:     md.dev.State().String(),
			Lease:     leaseView(md.dev.Lease()),
		})
	}
	return out
}

// Lease implements controlapi.Registry.
func (s *Supervisor) Lease(ifname string) (*controlapi.LeaseView, bool) {
	md, ok := s.deviceByName(ifname)
	if !ok {
		return nil, false
	}
	lease := md.dev.Lease()
	if lease == nil {
		return nil, false
	}
	return leaseView(lease), true
}

// Renew implements controlapi.Registry.
func (s *Supervisor) Renew(ifname string) error {
	md, ok := s.deviceByName(ifname)
	if !ok {
		return &controlapi.ErrUnknownInterface{Interface: ifname}
	}
	md.dev.UserRenew(time.Now())
	return nil
}

// Release implements controlapi.Registry.
func (s *Supervisor) Release(ifname string) error {
	md, ok := s.deviceByName(ifname)
	if !ok {
		return &controlapi.ErrUnknownInterface{Interface: ifname}
	}
	md.dev.UserRelease(time.Now())
	return nil
}

func (s *Supervisor) deviceByName(ifname string) (*managedDevice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.byName[ifname]
	return md, ok
}

func leaseView(lease *dhcp6.Lease) *controlapi.LeaseView {
	if lease == nil {
		return nil
	}
	addrs := make([]string, 0, len(lease.Addresses))
	for _, a := range lease.Addresses {
		addrs = append(addrs, a.Address)
	}
	return &controlapi.LeaseView{
		Addresses:  addrs,
		T1Seconds:  lease.T1.Seconds(),
		T2Seconds:  lease.T2.Seconds(),
		AcquiredAt: lease.AcquiredAt,
	}
}
