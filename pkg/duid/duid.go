// Package duid generates and persists the client's DHCP Unique
// Identifier. Generation only needs a link-layer address and, for
// DUID-LLT, a timestamp — both come from net.Interfaces() and time.Now(),
// so this package is deliberately built on the standard library rather
// than pulled through netlink: it runs once at startup, before any link
// manager state exists, and has no networking concern of its own beyond
// reading local interface metadata.
package duid

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// Type selects the DUID variant to generate when none is persisted yet.
type Type string

const (
	TypeLLT Type = "llt"
	TypeLL  Type = "ll"
)

// duidEpoch is midnight UTC, 2000-01-01 — the epoch DUID-LLT timestamps
// are measured from (RFC 3315 §9.2).
var duidEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const hardwareTypeEthernet uint16 = 1 // RFC 826 ARP hardware type "Ethernet"

// Generate builds a fresh DUID of the requested type, using the first
// interface with a nonzero hardware address as the link-layer source.
func Generate(t Type) ([]byte, error) {
	mac, err := firstHardwareAddr()
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeLL:
		return buildLL(mac), nil
	case TypeLLT, "":
		return buildLLT(mac, time.Now()), nil
	default:
		return nil, fmt.Errorf("duid: unknown type %q", t)
	}
}

// buildLLT lays out a DUID-LLT: 2-byte type (1), 2-byte hardware type,
// 4-byte time since the DUID epoch, then the link-layer address.
func buildLLT(mac net.HardwareAddr, now time.Time) []byte {
	buf := make([]byte, 8+len(mac))
	binary.BigEndian.PutUint16(buf[0:2], 1)
	binary.BigEndian.PutUint16(buf[2:4], hardwareTypeEthernet)
	binary.BigEndian.PutUint32(buf[4:8], uint32(now.Sub(duidEpoch).Seconds()))
	copy(buf[8:], mac)
	return buf
}

// buildLL lays out a DUID-LL: 2-byte type (3), 2-byte hardware type, then
// the link-layer address — no timestamp.
func buildLL(mac net.HardwareAddr) []byte {
	buf := make([]byte, 4+len(mac))
	binary.BigEndian.PutUint16(buf[0:2], 3)
	binary.BigEndian.PutUint16(buf[2:4], hardwareTypeEthernet)
	copy(buf[4:], mac)
	return buf
}

func firstHardwareAddr() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("duid: list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		return iface.HardwareAddr, nil
	}
	return nil, fmt.Errorf("duid: no interface with a hardware address found")
}
