package dhcp6

import (
	"net/netip"
	"testing"
	"time"

	"github.com/bytesbymike/wicked/pkg/config"
	"github.com/bytesbymike/wicked/pkg/dhcp6wire"
	"github.com/stretchr/testify/assert"
)

func dispatchHarness() (*Device, []byte) {
	clientDUID := []byte{0, 1, 2, 3}
	d := NewDevice(1, "eth0", config.Profile{Mode: config.ModeManaged}, clientDUID, Callbacks{})
	return d, clientDUID
}

func baseMsg(clientDUID, serverDUID []byte, xid uint32, src netip.Addr) *dhcp6wire.ParsedMessage {
	return &dhcp6wire.ParsedMessage{
		Type:       dhcp6wire.MsgReply,
		XID:        xid,
		Src:        src,
		ClientDUID: clientDUID,
		ServerDUID: serverDUID,
		Status:     dhcp6wire.StatusSuccess,
	}
}

func TestDispatchDropsMissingClientID(t *testing.T) {
	d, _ := dispatchHarness()
	msg := baseMsg(nil, []byte("s"), 0, netip.MustParseAddr("fe80::1"))
	assert.Equal(t, dropNoClientID, Dispatch(d, msg))
}

func TestDispatchDropsClientIDMismatch(t *testing.T) {
	d, _ := dispatchHarness()
	msg := baseMsg([]byte("not-us"), []byte("s"), 0, netip.MustParseAddr("fe80::1"))
	assert.Equal(t, dropClientIDMismatch, Dispatch(d, msg))
}

func TestDispatchDropsOffLinkNonServerSource(t *testing.T) {
	d, clientDUID := dispatchHarness()
	d.tx = NewTransaction(TxSolicit, time.Now())
	msg := baseMsg(clientDUID, []byte("s"), d.tx.XID, netip.MustParseAddr("2001:db8::1"))
	assert.Equal(t, dropSrcAddress, Dispatch(d, msg))
}

func TestDispatchAllowsUnicastFromKnownServer(t *testing.T) {
	d, clientDUID := dispatchHarness()
	serverAddr := netip.MustParseAddr("2001:db8::1")
	d.lease = &Lease{ServerAddr: serverAddr}
	d.tx = NewTransaction(TxRenew, time.Now())
	msg := baseMsg(clientDUID, []byte("s"), d.tx.XID, serverAddr)
	assert.Equal(t, dropNone, Dispatch(d, msg))
}

func TestDispatchDropsReconfigure(t *testing.T) {
	d, clientDUID := dispatchHarness()
	d.tx = NewTransaction(TxRenew, time.Now())
	msg := baseMsg(clientDUID, []byte("s"), d.tx.XID, netip.MustParseAddr("fe80::1"))
	msg.Type = dhcp6wire.MsgReconfigure
	assert.Equal(t, dropReconfigure, Dispatch(d, msg))
}

func TestDispatchDropsXIDMismatch(t *testing.T) {
	d, clientDUID := dispatchHarness()
	d.tx = NewTransaction(TxRenew, time.Now())
	msg := baseMsg(clientDUID, []byte("s"), d.tx.XID+1, netip.MustParseAddr("fe80::1"))
	assert.Equal(t, dropXIDMismatch, Dispatch(d, msg))
}

func TestDispatchDropsMissingServerID(t *testing.T) {
	d, clientDUID := dispatchHarness()
	d.tx = NewTransaction(TxRenew, time.Now())
	msg := baseMsg(clientDUID, nil, d.tx.XID, netip.MustParseAddr("fe80::1"))
	assert.Equal(t, dropNoServerID, Dispatch(d, msg))
}

func TestDispatchAllowsMatchingLinkLocalReply(t *testing.T) {
	d, clientDUID := dispatchHarness()
	d.tx = NewTransaction(TxRequest, time.Now())
	msg := baseMsg(clientDUID, []byte("s"), d.tx.XID, netip.MustParseAddr("fe80::1"))
	assert.Equal(t, dropNone, Dispatch(d, msg))
}
