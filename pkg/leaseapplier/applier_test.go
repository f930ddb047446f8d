package leaseapplier

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/vishvananda/netlink"

	"github.com/bytesbymike/wicked/pkg/dhcp6"
	"github.com/bytesbymike/wicked/pkg/opdb/sqlite"
)

type fakeAddrOps struct {
	mu        sync.Mutex
	added     []netlink.Addr
	deleted   []netlink.Addr
	addErr    error
	updatesCh chan<- netlink.AddrUpdate
}

func (f *fakeAddrOps) LinkByIndex(ifindex int) (netlink.Link, error) {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: ifindex}}, nil
}

func (f *fakeAddrOps) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, *addr)
	return nil
}

func (f *fakeAddrOps) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *addr)
	return nil
}

func (f *fakeAddrOps) AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error {
	f.updatesCh = ch
	return nil
}

func newTestApplier(t *testing.T, ops AddrOps) *Applier {
	t.Helper()
	a := New(nil)
	a.ops = ops
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start applier: %v", err)
	}
	t.Cleanup(func() { a.Stop(context.Background()) })
	return a
}

func testLease(addr string) *dhcp6.Lease {
	return &dhcp6.Lease{
		Addresses: []dhcp6.LeaseAddr{
			{Address: addr, Preferred: time.Hour, Valid: 2 * time.Hour},
		},
	}
}

func TestApplyAcceptsAddressOnNonTentativeUpdate(t *testing.T) {
	ops := &fakeAddrOps{}
	a := newTestApplier(t, ops)

	resultCh := make(chan Result, 1)
	go func() {
		r, _, err := a.Apply(3, "eth0", testLease("2001:db8::10"))
		if err != nil {
			t.Errorf("apply: %v", err)
		}
		resultCh <- r
	}()

	waitForAdd(t, ops)
	pushUpdate(t, ops, 3, "2001:db8::10", 0)

	select {
	case r := <-resultCh:
		if r != ResultOK {
			t.Fatalf("result = %v, want ok", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Apply to resolve")
	}
}

func TestApplyReportsDADConflict(t *testing.T) {
	ops := &fakeAddrOps{}
	a := newTestApplier(t, ops)

	resultCh := make(chan Result, 1)
	var conflictAddr netip.Addr
	go func() {
		r, addr, _ := a.Apply(3, "eth0", testLease("2001:db8::20"))
		conflictAddr = addr
		resultCh <- r
	}()

	waitForAdd(t, ops)
	pushUpdate(t, ops, 3, "2001:db8::20", unix_IFA_F_DADFAILED)

	select {
	case r := <-resultCh:
		if r != ResultDADConflict {
			t.Fatalf("result = %v, want dad_conflict", r)
		}
		if conflictAddr.String() != "2001:db8::20" {
			t.Fatalf("conflict address = %v, want 2001:db8::20", conflictAddr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Apply to resolve")
	}
}

func TestApplyTimesOutToAcceptance(t *testing.T) {
	orig := dadWaitTimeout
	dadWaitTimeout = 50 * time.Millisecond
	defer func() { dadWaitTimeout = orig }()

	ops := &fakeAddrOps{}
	a := newTestApplier(t, ops)

	r, _, err := a.Apply(3, "eth0", testLease("2001:db8::30"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if r != ResultOK {
		t.Fatalf("result = %v, want ok on DAD wait timeout", r)
	}
}

func TestApplyIOErrorPropagates(t *testing.T) {
	ops := &fakeAddrOps{addErr: net.UnknownNetworkError("boom")}
	a := newTestApplier(t, ops)

	r, _, err := a.Apply(3, "eth0", testLease("2001:db8::40"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if r != ResultIOError {
		t.Fatalf("result = %v, want io_error", r)
	}
}

func TestWithdrawDeletesEachAddress(t *testing.T) {
	ops := &fakeAddrOps{}
	a := newTestApplier(t, ops)

	addrs := []netip.Addr{netip.MustParseAddr("2001:db8::50"), netip.MustParseAddr("2001:db8::51")}
	if err := a.Withdraw(3, "eth0", addrs); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(ops.deleted) != 2 {
		t.Fatalf("deleted %d addresses, want 2", len(ops.deleted))
	}
}

func TestCacheRoundTripsThroughSQLite(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlite.Open(dir + "/opdb.sqlite")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	a := New(store)
	lease := testLease("2001:db8::60")
	ctx := context.Background()

	if err := a.CachePut(ctx, 5, "eth1", lease); err != nil {
		t.Fatalf("cache put: %v", err)
	}

	got, ok, err := a.CacheGet(ctx, 5)
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if !ok {
		t.Fatal("expected a cached lease")
	}
	if len(got.Addresses) != 1 || got.Addresses[0].Address != "2001:db8::60" {
		t.Fatalf("unexpected cached lease: %+v", got)
	}

	if err := a.CacheClear(ctx, 5); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if _, ok, err := a.CacheGet(ctx, 5); err != nil || ok {
		t.Fatalf("expected no cached lease after clear, ok=%v err=%v", ok, err)
	}
}

func waitForAdd(t *testing.T, ops *fakeAddrOps) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ops.mu.Lock()
		n := len(ops.added)
		ops.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for AddrAdd to be called")
}

func pushUpdate(t *testing.T, ops *fakeAddrOps, ifindex int, addr string, flags int) {
	t.Helper()
	ip := net.ParseIP(addr)
	ops.updatesCh <- netlink.AddrUpdate{
		LinkIndex:   ifindex,
		LinkAddress: net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)},
		Flags:       flags,
	}
}
