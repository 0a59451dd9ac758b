package conpro

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-conpro/eip"
	"github.com/arloliu/go-conpro/internal/pool"
	"github.com/arloliu/go-conpro/internal/task"
	"github.com/arloliu/go-conpro/internal/util"
	"github.com/arloliu/go-conpro/logger"
)

const listenerTaskName = "cyclic-listener"

// Service is the process-wide registry of sessions, the shared cyclic socket, the keep-alive sequence
// counter and the listener task that routes inbound datagrams.
type Service struct {
	cfg     *ServiceConfig
	logger  logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	opState AtomicOpState
	closed  atomic.Bool

	mu       sync.RWMutex // protects sessions
	sessions map[eip.Address]*Session

	routes   *routeTable
	cyclic   atomic.Pointer[cyclicSocket]
	sequence atomic.Uint32
	taskMgr  *task.Manager
	metrics  *ServiceMetrics
}

// NewService creates a service. Background tasks stop when ctx is canceled.
func NewService(ctx context.Context, cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	svc := &Service{
		cfg:      cfg,
		logger:   cfg.logger,
		sessions: make(map[eip.Address]*Session),
		routes:   newRouteTable(),
		metrics:  &ServiceMetrics{},
	}
	svc.ctx, svc.cancel = context.WithCancel(ctx)
	svc.taskMgr = task.NewManager(svc.ctx, svc.logger)

	return svc, nil
}

// Start binds the cyclic socket and starts the listener task. A service can be started once.
func (s *Service) Start() error {
	if s.closed.Load() {
		return ErrServiceClosed
	}

	if !s.opState.ToOpening() {
		return ErrServiceStarted
	}

	sock, err := bindCyclicSocket(s.cfg.bindHost, s.cfg.cyclicPort, s.cfg.cyclicPeerPort, s.cfg.pollTimeout, s.cfg.recvBufferSize)
	if err != nil {
		s.opState.Set(ClosedState)
		return err
	}
	s.cyclic.Store(sock)

	if err := s.taskMgr.Start(listenerTaskName, s.listen); err != nil {
		_ = sock.Close()
		s.opState.Set(ClosedState)

		return err
	}

	s.opState.ToOpened()
	s.logger.Info("service started", "cyclic_addr", sock.LocalAddr().String())

	return nil
}

// listen receives one datagram and routes it. Timeouts are idle wakes; other errors are logged.
func (s *Service) listen() bool {
	data, from, err := s.cyclic.Load().Receive()
	if err != nil {
		switch {
		case util.IsTimeout(err):
			return true
		case util.IsClosed(err):
			return false
		}
		s.metrics.incDatagramErrCount()
		s.logger.Error("cyclic receive failed", "error", err)

		return true
	}

	s.dispatch(data, from)

	return true
}

// dispatch delivers the payload of data to the consumer routed by its T->O connection id,
// whichever session the consumer belongs to.
func (s *Service) dispatch(data []byte, from eip.Address) {
	s.metrics.incDatagramRecvCount()

	dg, err := eip.ParseCyclicDatagram(data)
	if err != nil {
		s.metrics.incDatagramDropCount()
		s.logger.Warn("drop malformed datagram", "from", from.IP.String(), "error", err)

		return
	}

	if len(data) >= s.cfg.recvBufferSize {
		s.logger.Warn("datagram may be truncated", "from", from.IP.String(), "to_connection_id", dg.ConnectionID,
			"size", len(data), "recv_buffer_size", s.cfg.recvBufferSize)
	}

	c, ok := s.routes.lookup(dg.ConnectionID)
	if !ok {
		s.metrics.incDatagramDropCount()
		s.logger.Warn("drop datagram without consumer", "from", from.IP.String(), "to_connection_id", dg.ConnectionID)

		return
	}

	delivered, err := s.deliver(c, dg.Payload)
	switch {
	case err != nil:
		s.metrics.incDatagramDropCount()
		s.logger.Error("sink delivery failed", "to_connection_id", dg.ConnectionID, "error", err)
	case !delivered:
		s.metrics.incDatagramDropCount()
		s.logger.Warn("drop datagram for stopped consumer", "to_connection_id", dg.ConnectionID)
	}
}

// deliver hands payload to the sink of c. A panic in the sink is returned as an error.
func (s *Service) deliver(c *Consumer, payload []byte) (delivered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in sink: %v", r)
		}
	}()

	return c.deliver(payload), nil
}

// AddConsumer opens a consumer for hint on the controller at addr and returns its T->O connection id.
//
// The session for addr is created, connected and registered on first use and reused afterwards.
// If connecting or registering fails, or a failed exchange breaks the setup stream, the session is
// discarded so a later call starts over.
func (s *Service) AddConsumer(ctx context.Context, addr eip.Address, hint eip.ConnectionHint, sink Sink) (uint32, error) {
	if err := s.checkOpened(); err != nil {
		return 0, err
	}

	if !addr.IsValid() {
		return 0, fmt.Errorf("invalid controller address %s", addr)
	}

	if sink == nil {
		return 0, ErrNilSink
	}

	if err := hint.Validate(); err != nil {
		return 0, err
	}

	sess, err := s.getOrCreateSession(addr)
	if err != nil {
		return 0, err
	}

	if err := sess.ensureRegistered(ctx); err != nil {
		s.discardSession(sess)
		return 0, err
	}

	c, id, err := sess.AddConsumer(hint, sink)
	if err != nil {
		if sess.State() == SessionClosed {
			s.discardSession(sess)
		}

		return 0, err
	}

	if err := c.startKeepAlive(s.ctx, s.cyclic.Load(), &s.sequence); err != nil {
		sess.removeConsumer(id)
		c.Stop()

		return 0, err
	}

	s.logger.Info("consumer opened", "controller", addr.String(), "tag", hint.Tag, "to_connection_id", id)

	return id, nil
}

func (s *Service) checkOpened() error {
	if s.closed.Load() {
		return ErrServiceClosed
	}

	if !s.opState.IsOpened() {
		return ErrServiceNotStarted
	}

	return nil
}

// getOrCreateSession returns the session of addr, replacing a closed one.
func (s *Service) getOrCreateSession(addr eip.Address) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Close clears the registry after setting closed
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}

	sess, ok := s.sessions[addr]
	if !ok || sess.State() == SessionClosed {
		sess = newSession(addr, s.cfg, s.routes, s.metrics)
		s.sessions[addr] = sess
	}

	return sess, nil
}

// discardSession removes sess from the registry and closes it.
func (s *Service) discardSession(sess *Session) {
	s.mu.Lock()
	if cur, ok := s.sessions[sess.addr]; ok && cur == sess {
		delete(s.sessions, sess.addr)
	}
	s.mu.Unlock()

	_ = sess.Close()
}

// StopConsumer removes the consumer of id from the session of addr and stops it.
func (s *Service) StopConsumer(addr eip.Address, id uint32) error {
	sess, ok := s.Session(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, addr)
	}

	c, ok := sess.removeConsumer(id)
	if !ok {
		return fmt.Errorf("%w: 0x%08X on %s", ErrConsumerNotFound, id, addr)
	}
	c.Stop()

	s.logger.Info("consumer stopped", "controller", addr.String(), "to_connection_id", id)

	return nil
}

// Stop signals the listener and every keep-alive task to exit. It does not wait; use Wait or Close.
func (s *Service) Stop() {
	s.taskMgr.Stop()

	for _, sess := range s.sessionList() {
		for _, c := range sess.consumerList() {
			c.Stop()
		}
	}

	s.cancel()
}

// Wait blocks until the listener and the keep-alive tasks of all registered consumers have exited.
func (s *Service) Wait() {
	s.taskMgr.Wait()

	for _, sess := range s.sessionList() {
		for _, c := range sess.consumerList() {
			c.Wait()
		}
	}
}

// Close stops all tasks, waits up to the close timeout for them, and closes the cyclic socket and
// every session. Close is idempotent.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.opState.ToClosing()
	s.Stop()

	var errs []error
	if sock := s.cyclic.Load(); sock != nil {
		// unblocks a pending receive
		if err := sock.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if !pool.WaitFunc(s.Wait, s.cfg.closeTimeout) {
		s.logger.Warn("timeout waiting for background tasks", "timeout", s.cfg.closeTimeout)
	}

	for _, sess := range s.sessionList() {
		if err := sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	clear(s.sessions)
	s.mu.Unlock()

	s.opState.Set(ClosedState)
	s.logger.Info("service closed")

	return errors.Join(errs...)
}

func (s *Service) sessionList() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}

	return list
}

// Session returns the session of addr.
func (s *Service) Session(addr eip.Address) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[addr]

	return sess, ok
}

// SessionCount returns the number of sessions in the registry.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// ConsumerCount returns the number of routed consumers across all sessions.
func (s *Service) ConsumerCount() int {
	return s.routes.len()
}

// LocalAddr returns the bound address of the cyclic socket. ok is false before Start.
func (s *Service) LocalAddr() (addr netip.AddrPort, ok bool) {
	sock := s.cyclic.Load()
	if sock == nil {
		return netip.AddrPort{}, false
	}

	return sock.LocalAddr(), true
}

// GetMetrics returns the service metrics.
func (s *Service) GetMetrics() *ServiceMetrics {
	return s.metrics
}

// OpState returns the lifecycle state of the service.
func (s *Service) OpState() OpState {
	return s.opState.Get()
}
