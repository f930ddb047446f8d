package linkmgr

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	dhcp6ClientPort = 546
	dhcp6ServerPort = 547
	recvBufferSize  = 1500
)

// allDHCPRelayAgentsAndServers is FF02::1:2, the standard DHCPv6
// multicast group clients join to reach servers and relays on-link.
var allDHCPRelayAgentsAndServers = [16]byte{
	0xff, 0x02, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 1, 0, 2,
}

// RecvFunc is invoked once per inbound packet, with the raw payload and
// the sender's address.
type RecvFunc func(payload []byte, src [16]byte)

// multicastSocket is one raw IPv6 UDP socket bound to port 546 on a
// single interface, joined to FF02::1:2. It is deliberately built on
// golang.org/x/sys/unix rather than net.ListenUDP: multicast group
// membership must be scoped to a specific ifindex, which net.ListenUDP's
// portable API does not expose.
type multicastSocket struct {
	fd      int
	ifindex int
	ifname  string
	recv    RecvFunc
}

func newMulticastSocket(ifindex int, ifname string) (*multicastSocket, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.BindToDevice(fd, ifname); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind to device %s: %w", ifname, err)
	}

	addr := &unix.SockaddrInet6{Port: dhcp6ClientPort}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind :%d: %w", dhcp6ClientPort, err)
	}

	mreq := &unix.IPv6Mreq{Multiaddr: allDHCPRelayAgentsAndServers, Interface: uint32(ifindex)}
	if err := unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("join multicast group: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_IF, ifindex); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set multicast interface: %w", err)
	}

	return &multicastSocket{fd: fd, ifindex: ifindex, ifname: ifname}, nil
}

func (s *multicastSocket) Close() error {
	return unix.Close(s.fd)
}

// send writes payload to dst:547, the server/relay port, scoped to this
// socket's interface.
func (s *multicastSocket) send(dst [16]byte, payload []byte) error {
	addr := &unix.SockaddrInet6{
		Port:   dhcp6ServerPort,
		Addr:   dst,
		ZoneId: uint32(s.ifindex),
	}
	if err := unix.Sendto(s.fd, payload, 0, addr); err != nil {
		return fmt.Errorf("sendto %s: %w", s.ifname, err)
	}
	return nil
}

// receiveLoop reads inbound packets until ctx is cancelled or the socket
// is closed. It is expected to run on its own goroutine per interface.
func (s *multicastSocket) receiveLoop(ctx context.Context) {
	buf := make([]byte, recvBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, from, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if s.recv == nil {
			continue
		}

		var src [16]byte
		if in6, ok := from.(*unix.SockaddrInet6); ok {
			src = in6.Addr
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.recv(payload, src)
	}
}
