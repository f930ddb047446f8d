package dhcp6wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EncodeRequest is the view the FSM hands the codec when building an
// outbound message: everything Encode needs and nothing it has to infer.
type EncodeRequest struct {
	Type          MessageType
	XID           uint32
	ClientDUID    []byte
	ServerDUID    []byte // absent for Solicit and Confirm
	IAID          uint32
	Addresses     []netip.Addr // addresses to request/renew/release; empty for a fresh Solicit
	ElapsedMillis uint32
	RapidCommit   bool
	ORO           []uint16 // requested option codes
}

// Decode parses a raw DHCPv6 message of any known type, so every message
// Encode produces decodes back. It does not filter by direction: dropping
// types a client never receives is done by dhcp6.Dispatch. Failures are
// returned as plain errors; the supervisor counts them as "malformed"
// packet drops.
func Decode(payload []byte, src netip.Addr) (*ParsedMessage, error) {
	pkt := gopacket.NewPacket(payload, layers.LayerTypeDHCPv6, gopacket.NoCopy)
	layer := pkt.Layer(layers.LayerTypeDHCPv6)
	if layer == nil {
		return nil, fmt.Errorf("dhcp6wire: no DHCPv6 layer in %d bytes", len(payload))
	}
	dhcp, ok := layer.(*layers.DHCPv6)
	if !ok {
		return nil, fmt.Errorf("dhcp6wire: unexpected layer type")
	}
	if len(dhcp.TransactionID) < 3 {
		return nil, fmt.Errorf("dhcp6wire: short transaction id")
	}

	msgType := MessageType(dhcp.MsgType)
	if msgType < MsgSolicit || msgType > MsgInformationRequest {
		return nil, fmt.Errorf("dhcp6wire: unknown message type %d", uint8(msgType))
	}

	out := &ParsedMessage{
		Type:       msgType,
		XID:        uint32(dhcp.TransactionID[0])<<16 | uint32(dhcp.TransactionID[1])<<8 | uint32(dhcp.TransactionID[2]),
		Src:        src,
		Preference: -1,
		Status:     StatusSuccess,
	}

	for _, opt := range dhcp.Options {
		switch uint16(opt.Code) {
		case OptClientID:
			out.ClientDUID = append([]byte(nil), opt.Data...)
		case OptServerID:
			out.ServerDUID = append([]byte(nil), opt.Data...)
		case OptPreference:
			if len(opt.Data) >= 1 {
				out.Preference = int(opt.Data[0])
			}
		case OptElapsedTime:
			if len(opt.Data) >= 2 {
				out.ElapsedMillis = uint32(binary.BigEndian.Uint16(opt.Data)) * 10
			}
		case OptRapidCommit:
			out.RapidCommit = true
		case OptStatusCode:
			if len(opt.Data) >= 2 {
				out.Status = binary.BigEndian.Uint16(opt.Data)
			}
		case OptIANA:
			iana, err := decodeIANA(opt.Data)
			if err != nil {
				return nil, fmt.Errorf("dhcp6wire: IA_NA: %w", err)
			}
			out.IANA = iana
		case OptDNSServers:
			out.DNSServers = decodeDNSServers(opt.Data)
		case OptDomainList:
			out.DomainSearch = decodeDomainList(opt.Data)
		}
	}

	return out, nil
}

// decodeIANA unpacks an IA_NA option: 4-byte IAID, 4-byte T1, 4-byte T2,
// followed by nested options (IA Address and/or Status Code).
func decodeIANA(data []byte) (*IANA, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("short IA_NA (%d bytes)", len(data))
	}
	ia := &IANA{
		IAID:   binary.BigEndian.Uint32(data[0:4]),
		T1:     binary.BigEndian.Uint32(data[4:8]),
		T2:     binary.BigEndian.Uint32(data[8:12]),
		Status: StatusSuccess,
	}

	rest := data[12:]
	for len(rest) >= 4 {
		code := binary.BigEndian.Uint16(rest[0:2])
		length := binary.BigEndian.Uint16(rest[2:4])
		if len(rest) < int(4+length) {
			return nil, fmt.Errorf("truncated IA_NA suboption %d", code)
		}
		body := rest[4 : 4+length]

		switch code {
		case OptIAAddr:
			if len(body) < 24 {
				return nil, fmt.Errorf("short IA Address suboption")
			}
			addr, ok := netip.AddrFromSlice(body[0:16])
			if !ok {
				return nil, fmt.Errorf("invalid IA Address")
			}
			ia.Addrs = append(ia.Addrs, IAAddr{
				Address:   addr,
				Preferred: binary.BigEndian.Uint32(body[16:20]),
				Valid:     binary.BigEndian.Uint32(body[20:24]),
			})
		case OptStatusCode:
			if len(body) >= 2 {
				ia.Status = binary.BigEndian.Uint16(body)
			}
		}

		rest = rest[4+length:]
	}

	return ia, nil
}

func decodeDNSServers(data []byte) []netip.Addr {
	var out []netip.Addr
	for len(data) >= 16 {
		if addr, ok := netip.AddrFromSlice(data[0:16]); ok {
			out = append(out, addr)
		}
		data = data[16:]
	}
	return out
}

func decodeDomainList(data []byte) []string {
	var names []string
	for len(data) > 0 {
		name, rest, ok := decodeDNSName(data)
		if !ok {
			break
		}
		names = append(names, name)
		data = rest
	}
	return names
}

// decodeDNSName reads one RFC 1035 length-prefixed-label name (as used by
// the DNS Search List option, RFC 3646 §3.1) with no compression pointers.
func decodeDNSName(data []byte) (name string, rest []byte, ok bool) {
	var labels []byte
	for {
		if len(data) == 0 {
			return "", nil, false
		}
		n := int(data[0])
		data = data[1:]
		if n == 0 {
			break
		}
		if len(data) < n {
			return "", nil, false
		}
		if len(labels) > 0 {
			labels = append(labels, '.')
		}
		labels = append(labels, data[:n]...)
		data = data[n:]
	}
	return string(labels), data, true
}

// Encode builds the wire form of an outbound client message. gopacket's
// layers.DHCPv6Option only wraps a single flat TLV; it has no builder for
// the nested IA_NA option this client needs, so the IA_NA payload is
// assembled by hand and wrapped as one opaque option, the same way the
// server-side provider builds IA_NA/IA_PD replies.
func Encode(req EncodeRequest) ([]byte, error) {
	if len(req.ClientDUID) == 0 {
		return nil, fmt.Errorf("dhcp6wire: encode %s: missing client DUID", req.Type)
	}

	xid := []byte{
		byte(req.XID >> 16),
		byte(req.XID >> 8),
		byte(req.XID),
	}

	dhcp := &layers.DHCPv6{
		MsgType:       layers.DHCPv6MsgType(req.Type),
		TransactionID: xid,
	}

	dhcp.Options = append(dhcp.Options, layers.NewDHCPv6Option(layers.DHCPv6Opt(OptClientID), req.ClientDUID))
	if len(req.ServerDUID) > 0 {
		dhcp.Options = append(dhcp.Options, layers.NewDHCPv6Option(layers.DHCPv6Opt(OptServerID), req.ServerDUID))
	}

	elapsed := req.ElapsedMillis / 10
	if elapsed > 0xFFFF {
		elapsed = 0xFFFF
	}
	elapsedBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(elapsedBuf, uint16(elapsed))
	dhcp.Options = append(dhcp.Options, layers.NewDHCPv6Option(layers.DHCPv6Opt(OptElapsedTime), elapsedBuf))

	if req.RapidCommit {
		dhcp.Options = append(dhcp.Options, layers.NewDHCPv6Option(layers.DHCPv6Opt(OptRapidCommit), nil))
	}

	if req.Type != MsgInformationRequest {
		dhcp.Options = append(dhcp.Options, layers.NewDHCPv6Option(layers.DHCPv6Opt(OptIANA), buildIANAOption(req.IAID, req.Addresses)))
	}

	if len(req.ORO) > 0 {
		oro := make([]byte, len(req.ORO)*2)
		for i, code := range req.ORO {
			binary.BigEndian.PutUint16(oro[i*2:], code)
		}
		dhcp.Options = append(dhcp.Options, layers.NewDHCPv6Option(layers.DHCPv6Opt(OptORO), oro))
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, dhcp); err != nil {
		return nil, fmt.Errorf("dhcp6wire: serialize %s: %w", req.Type, err)
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

// buildIANAOption hand-packs an IA_NA option body: 4-byte IAID, 4-byte T1,
// 4-byte T2 (both zero — the client never dictates timers to the server),
// followed by one IA Address suboption per requested address.
func buildIANAOption(iaid uint32, addrs []netip.Addr) []byte {
	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:4], iaid)

	for _, addr := range addrs {
		addr16 := addr.As16()
		sub := make([]byte, 4+24)
		binary.BigEndian.PutUint16(sub[0:2], OptIAAddr)
		binary.BigEndian.PutUint16(sub[2:4], 24)
		copy(sub[4:20], addr16[:])
		// preferred/valid lifetimes left zero: the client is asking the
		// server to (re)confirm them, not dictating its own.
		body = append(body, sub...)
	}

	return body
}
