package dhcp6

import "github.com/bytesbymike/wicked/pkg/dhcp6wire"

// dispatchDrop names why an inbound packet never reached the FSM. It is
// used for logging/metrics only; the FSM itself never sees dropped
// packets.
type dispatchDrop string

const (
	dropNone             dispatchDrop = ""
	dropSrcAddress       dispatchDrop = "src-address"
	dropUnrecognizedMsg  dispatchDrop = "message-type"
	dropReconfigure      dispatchDrop = "reconfigure-unsupported"
	dropXIDMismatch      dispatchDrop = "xid-mismatch"
	dropNoClientID       dispatchDrop = "missing-client-id"
	dropNoServerID       dispatchDrop = "missing-server-id"
	dropClientIDMismatch dispatchDrop = "client-id-mismatch"
)

// Dispatch applies the inbound filtering rules from the packet dispatcher
// design: it never mutates the device, only decides whether msg is
// eligible to reach the FSM at all.
func Dispatch(d *Device, msg *dhcp6wire.ParsedMessage) dispatchDrop {
	if len(msg.ClientDUID) == 0 {
		return dropNoClientID
	}

	d.mu.Lock()
	clientDUID := append([]byte(nil), d.clientDUID...)
	xid, transactional := uint32(0), false
	if d.tx != nil {
		xid = d.tx.XID
		transactional = true
	}
	serverAddr := d.lease.serverAddrOrZero()
	d.mu.Unlock()

	if !msg.Src.IsLinkLocalUnicast() && msg.Src != serverAddr {
		return dropSrcAddress
	}

	if string(msg.ClientDUID) != string(clientDUID) {
		return dropClientIDMismatch
	}

	switch msg.Type {
	case dhcp6wire.MsgAdvertise, dhcp6wire.MsgReply, dhcp6wire.MsgReconfigure:
	default:
		return dropUnrecognizedMsg
	}

	// Reconfigure carries no useful payload in this client and is not
	// implemented; it is dropped outright rather than reaching the FSM.
	if msg.Type == dhcp6wire.MsgReconfigure {
		return dropReconfigure
	}

	if len(msg.ServerDUID) == 0 {
		return dropNoServerID
	}
	if !transactional || msg.XID != xid {
		return dropXIDMismatch
	}

	return dropNone
}
