package conpro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/arloliu/go-conpro/eip"
)

// exchanger sends one explicit request and returns its complete reply.
type exchanger interface {
	Exchange(req []byte) ([]byte, error)
}

// setupStream is the TCP connection to a controller's explicit messaging port.
//
// Exchanges are serialized: a request is written and its reply is reassembled from as many reads as
// the declared encapsulation length requires before the next request may start.
type setupStream struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	buf     []byte
	broken  bool
}

var _ exchanger = (*setupStream)(nil)

// dialSetupStream opens the setup stream to addr.
func dialSetupStream(ctx context.Context, addr netip.AddrPort, timeout time.Duration, bufSize int) (*setupStream, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("dial setup stream %s: %w", addr, err)
	}

	return newSetupStream(conn, timeout, bufSize), nil
}

func newSetupStream(conn net.Conn, timeout time.Duration, bufSize int) *setupStream {
	return &setupStream{
		conn:    conn,
		timeout: timeout,
		buf:     make([]byte, bufSize),
	}
}

// Exchange writes req and returns the reply frame: the 24-byte encapsulation header plus the number
// of bytes its length field declares. Bytes past the frame are discarded.
//
// A zero-length read or EOF before the frame is complete returns ErrPeerClosed. The whole exchange
// is bounded by the setup timeout.
//
// A failed exchange may leave part of its reply unread, so it closes the connection and every later
// exchange returns ErrStreamBroken.
func (s *setupStream) Exchange(req []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken {
		return nil, ErrStreamBroken
	}

	reply, err := s.exchange(req)
	if err != nil {
		s.broken = true
		_ = s.conn.Close()

		return nil, err
	}

	return reply, nil
}

// Broken reports whether a failed exchange closed the stream.
func (s *setupStream) Broken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.broken
}

func (s *setupStream) exchange(req []byte) ([]byte, error) {
	if s.timeout > 0 {
		if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, fmt.Errorf("set setup stream deadline: %w", err)
		}
	}

	if _, err := s.conn.Write(req); err != nil {
		return nil, fmt.Errorf("write setup request: %w", err)
	}

	reply := make([]byte, 0, len(s.buf))
	for {
		n, err := s.conn.Read(s.buf)
		reply = append(reply, s.buf[:n]...)

		if declared, ok := eip.DeclaredLength(reply); ok {
			if frameLen := eip.HeaderSize + declared; len(reply) >= frameLen {
				return reply[:frameLen], nil
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("read setup reply after %d bytes: %w", len(reply), ErrPeerClosed)
		case err != nil:
			return nil, fmt.Errorf("read setup reply: %w", err)
		case n == 0:
			return nil, fmt.Errorf("zero-length read after %d bytes: %w", len(reply), ErrPeerClosed)
		}
	}
}

// Close closes the underlying connection.
func (s *setupStream) Close() error {
	return s.conn.Close()
}
