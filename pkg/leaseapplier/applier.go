// Package leaseapplier is the OS-facing collaborator the FSM never talks
// to directly: it programs and withdraws IPv6 addresses on a Linux
// interface with netlink, watches for duplicate address detection
// conflicts, and checkpoints leases to opdb so a restart does not throw
// away an unexpired lease.
package leaseapplier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/vishvananda/netlink"

	"github.com/bytesbymike/wicked/pkg/component"
	"github.com/bytesbymike/wicked/pkg/dhcp6"
	"github.com/bytesbymike/wicked/pkg/logger"
	"github.com/bytesbymike/wicked/pkg/opdb"
)

// Result is the outcome of an Apply call, mirroring the three-way
// apply(ifindex, lease) outcome: ok, a DAD conflict on one of the
// addresses, or an I/O failure talking to the kernel.
type Result int

const (
	ResultOK Result = iota
	ResultDADConflict
	ResultIOError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultDADConflict:
		return "dad_conflict"
	case ResultIOError:
		return "io_error"
	default:
		return "unknown"
	}
}

// dadWaitTimeout bounds how long Apply waits for the kernel to resolve
// tentative-address state before treating the address as accepted.
// RFC 4862's default retransmit interval is 1s with a single probe, so a
// few seconds gives ample margin without stalling the FSM's own MRD.
var dadWaitTimeout = 3 * time.Second

// AddrOps is the netlink surface the applier needs, narrowed for
// substitution in tests.
type AddrOps interface {
	LinkByIndex(ifindex int) (netlink.Link, error)
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error
	AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error
}

type realAddrOps struct{}

func (realAddrOps) LinkByIndex(ifindex int) (netlink.Link, error) { return netlink.LinkByIndex(ifindex) }
func (realAddrOps) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrAdd(link, addr)
}
func (realAddrOps) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrDel(link, addr)
}
func (realAddrOps) AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error {
	return netlink.AddrSubscribe(ch, done)
}

// pendingDAD tracks one address currently under duplicate address
// detection, keyed by ifindex+address.
type pendingDAD struct {
	resolved chan bool // true = accepted, false = DAD conflict
}

// Applier owns the netlink address surface and the opdb-backed lease
// cache for every managed interface.
type Applier struct {
	*component.Base

	ops   AddrOps
	store opdb.Store
	log   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingDAD

	updates chan netlink.AddrUpdate
}

func New(store opdb.Store) *Applier {
	return &Applier{
		Base:    component.NewBase(logger.LeaseApplier),
		ops:     realAddrOps{},
		store:   store,
		log:     logger.Get(logger.LeaseApplier),
		pending: make(map[string]*pendingDAD),
	}
}

func (a *Applier) Start(ctx context.Context) error {
	a.StartContext(ctx)

	updates := make(chan netlink.AddrUpdate)
	if err := a.ops.AddrSubscribe(updates, a.Ctx.Done()); err != nil {
		return fmt.Errorf("leaseapplier: subscribe to address updates: %w", err)
	}
	a.updates = updates

	a.Go(a.watchAddrUpdates)
	return nil
}

func (a *Applier) Stop(ctx context.Context) error {
	a.StopContext()
	return nil
}

func pendingKey(ifindex int, addr netip.Addr) string {
	return strconv.Itoa(ifindex) + "/" + addr.String()
}

// watchAddrUpdates resolves pending DAD waits as the kernel reports
// address state changes: a DADFAILED update is a conflict, any other
// update for a pending, no-longer-tentative address is acceptance.
func (a *Applier) watchAddrUpdates() {
	for {
		select {
		case <-a.Ctx.Done():
			return
		case upd, ok := <-a.updates:
			if !ok {
				return
			}
			a.handleAddrUpdate(upd)
		}
	}
}

func (a *Applier) handleAddrUpdate(upd netlink.AddrUpdate) {
	addr, ok := netip.AddrFromSlice(upd.LinkAddress.IP)
	if !ok {
		return
	}
	addr = addr.Unmap()
	key := pendingKey(upd.LinkIndex, addr)

	a.mu.Lock()
	p, ok := a.pending[key]
	if ok {
		delete(a.pending, key)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	dadFailed := upd.Flags&unix_IFA_F_DADFAILED != 0
	tentative := upd.Flags&unix_IFA_F_TENTATIVE != 0

	if dadFailed {
		p.resolved <- false
		return
	}
	if !tentative {
		p.resolved <- true
		return
	}
	// still tentative: put it back and wait for the next update
	a.mu.Lock()
	a.pending[key] = p
	a.mu.Unlock()
}

// Apply programs every address in lease onto ifindex and waits for
// duplicate address detection to settle on each in turn. The first
// conflict found is reported and no further addresses are attempted;
// addresses already added before the conflict are left in place for the
// caller to withdraw via Withdraw if it gives up on the lease.
func (a *Applier) Apply(ifindex int, ifname string, lease *dhcp6.Lease) (Result, netip.Addr, error) {
	link, err := a.ops.LinkByIndex(ifindex)
	if err != nil {
		return ResultIOError, netip.Addr{}, fmt.Errorf("leaseapplier: link by index %d: %w", ifindex, err)
	}

	for _, la := range lease.Addresses {
		addr, err := netip.ParseAddr(la.Address)
		if err != nil {
			return ResultIOError, netip.Addr{}, fmt.Errorf("leaseapplier: parse lease address %q: %w", la.Address, err)
		}

		nlAddr := &netlink.Addr{
			IPNet:       &net.IPNet{IP: net.ParseIP(addr.String()), Mask: net.CIDRMask(128, 128)},
			ValidLft:    int(la.Valid.Seconds()),
			PreferedLft: int(la.Preferred.Seconds()),
		}

		waitCh := make(chan bool, 1)
		key := pendingKey(ifindex, addr)
		a.mu.Lock()
		a.pending[key] = &pendingDAD{resolved: waitCh}
		a.mu.Unlock()

		if err := a.ops.AddrAdd(link, nlAddr); err != nil {
			a.mu.Lock()
			delete(a.pending, key)
			a.mu.Unlock()
			return ResultIOError, addr, fmt.Errorf("leaseapplier: add %s to %s: %w", addr, ifname, err)
		}

		select {
		case accepted := <-waitCh:
			if !accepted {
				a.log.Warn("duplicate address detected", "interface", ifname, "address", addr)
				return ResultDADConflict, addr, nil
			}
		case <-time.After(dadWaitTimeout):
			a.mu.Lock()
			delete(a.pending, key)
			a.mu.Unlock()
			// no DADFAILED within the window: treat as accepted, matching
			// the common case of a link with DAD disabled or already-known-unique.
		}
	}

	return ResultOK, netip.Addr{}, nil
}

// Withdraw removes every address in addrs from ifindex. Failures are
// logged and skipped rather than aborting the loop: a release should
// clean up as much as it can even if one address is already gone.
func (a *Applier) Withdraw(ifindex int, ifname string, addrs []netip.Addr) error {
	link, err := a.ops.LinkByIndex(ifindex)
	if err != nil {
		return fmt.Errorf("leaseapplier: link by index %d: %w", ifindex, err)
	}

	var firstErr error
	for _, addr := range addrs {
		nlAddr := &netlink.Addr{
			IPNet: &net.IPNet{IP: net.ParseIP(addr.String()), Mask: net.CIDRMask(128, 128)},
		}
		if err := a.ops.AddrDel(link, nlAddr); err != nil {
			a.log.Warn("failed to withdraw address", "interface", ifname, "address", addr, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// cachedLease is the JSON-checkpointed shape of a Lease, keyed by
// interface index in the dhcpv6_sessions namespace.
type cachedLease struct {
	IfName string      `json:"if_name"`
	Lease  *dhcp6.Lease `json:"lease"`
}

// CachePut checkpoints lease so a restart can attempt REBOOT/Confirm
// against it instead of starting cold from INIT.
func (a *Applier) CachePut(ctx context.Context, ifindex int, ifname string, lease *dhcp6.Lease) error {
	if a.store == nil {
		return nil
	}
	data, err := json.Marshal(cachedLease{IfName: ifname, Lease: lease})
	if err != nil {
		return fmt.Errorf("leaseapplier: marshal lease checkpoint: %w", err)
	}
	return a.store.Put(ctx, opdb.NamespaceDHCPv6Sessions, strconv.Itoa(ifindex), data)
}

// CacheGet returns the last checkpointed lease for ifindex, if any.
func (a *Applier) CacheGet(ctx context.Context, ifindex int) (*dhcp6.Lease, bool, error) {
	if a.store == nil {
		return nil, false, nil
	}

	var found *dhcp6.Lease
	err := a.store.Load(ctx, opdb.NamespaceDHCPv6Sessions, func(key string, value []byte) error {
		if key != strconv.Itoa(ifindex) {
			return nil
		}
		var c cachedLease
		if err := json.Unmarshal(value, &c); err != nil {
			return nil
		}
		found = c.Lease
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// CacheClear drops ifindex's checkpoint, called once a lease is
// released or lost so a future restart does not resurrect it.
func (a *Applier) CacheClear(ctx context.Context, ifindex int) error {
	if a.store == nil {
		return nil
	}
	return a.store.Delete(ctx, opdb.NamespaceDHCPv6Sessions, strconv.Itoa(ifindex))
}

// Linux IFA_F_* address flags (linux/if_addr.h). golang.org/x/sys/unix
// does not export these under the netlink AddrUpdate.Flags convention,
// so they are named directly.
const (
	unix_IFA_F_TENTATIVE  = 0x40
	unix_IFA_F_DADFAILED  = 0x08
)
