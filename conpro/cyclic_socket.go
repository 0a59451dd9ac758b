package conpro

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/arloliu/go-conpro/eip"
	"github.com/arloliu/go-conpro/internal/util"
)

// datagramSender sends one datagram to a controller's cyclic port.
type datagramSender interface {
	SendTo(b []byte, addr eip.Address) error
}

// cyclicSocket is the UDP socket shared by the listener and every keep-alive task.
//
// All sends and receives hold mu, so cyclic I/O is serialized across consumers. A receive holds the
// lock for at most the poll timeout.
type cyclicSocket struct {
	mu       sync.Mutex
	conn     *net.UDPConn
	peerPort uint16
	poll     time.Duration
	buf      []byte
}

var _ datagramSender = (*cyclicSocket)(nil)

// bindCyclicSocket binds an IPv4 UDP socket on host:port.
func bindCyclicSocket(host netip.Addr, port uint16, peerPort uint16, poll time.Duration, bufSize int) (*cyclicSocket, error) {
	laddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(host, port))
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind cyclic socket %s: %w", laddr, err)
	}

	return &cyclicSocket{
		conn:     conn,
		peerPort: peerPort,
		poll:     poll,
		buf:      make([]byte, bufSize),
	}, nil
}

// SendTo sends b to the cyclic port of addr. The slot of addr is not part of the endpoint.
func (s *cyclicSocket) SendTo(b []byte, addr eip.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.WriteToUDPAddrPort(b, addr.AddrPort(s.peerPort)); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}

	return nil
}

// Receive waits up to the poll timeout for one datagram and returns a copy of it with the sender
// address. The slot of the returned address is always 0, it can't be recovered from the network source.
func (s *cyclicSocket) Receive() ([]byte, eip.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetReadDeadline(time.Now().Add(s.poll)); err != nil {
		return nil, eip.Address{}, err
	}

	n, from, err := s.conn.ReadFromUDPAddrPort(s.buf)
	if err != nil {
		return nil, eip.Address{}, err
	}

	return util.CloneSlice(s.buf[:n], 0), eip.Address{IP: from.Addr().Unmap()}, nil
}

// LocalAddr returns the bound address.
func (s *cyclicSocket) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort() //nolint:forcetypeassert
}

// Close closes the socket. A blocked Receive returns net.ErrClosed.
func (s *cyclicSocket) Close() error {
	return s.conn.Close()
}
