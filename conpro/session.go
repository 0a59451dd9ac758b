package conpro

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-conpro/eip"
	"github.com/arloliu/go-conpro/logger"
)

// Session is one registered explicit messaging session with a controller address.
//
// It owns the setup stream, the session handle and the consumers opened through it. Handshake steps
// are serialized per session; consumers of different sessions negotiate concurrently.
type Session struct {
	addr    eip.Address
	cfg     *ServiceConfig
	logger  logger.Logger
	metrics *ServiceMetrics
	routes  *routeTable

	mu     sync.Mutex // serializes connect, register and close
	stream *setupStream
	token  uint32
	state  atomicState[SessionState]

	consumers *xsync.MapOf[uint32, *Consumer]
}

func newSession(addr eip.Address, cfg *ServiceConfig, routes *routeTable, metrics *ServiceMetrics) *Session {
	return &Session{
		addr:      addr,
		cfg:       cfg,
		logger:    cfg.logger.With("controller", addr.String()),
		metrics:   metrics,
		routes:    routes,
		consumers: xsync.NewMapOf[uint32, *Consumer](),
	}
}

// Connect opens the setup stream. The session must be unconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connect(ctx)
}

// Register performs the RegisterSession exchange and stores the session handle.
// The session must be connected.
func (s *Session) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.register()
}

// ensureRegistered connects and registers the session as needed. Concurrent callers wait for the
// first one, so one registration is performed per session.
func (s *Session) ensureRegistered(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Get() {
	case SessionRegistered:
		return nil
	case SessionClosed:
		return fmt.Errorf("%w: session %s is closed", ErrSessionNotRegistered, s.addr)
	case SessionUnconnected:
		if err := s.connect(ctx); err != nil {
			return err
		}
	}

	return s.register()
}

func (s *Session) connect(ctx context.Context) error {
	if st := s.state.Get(); st != SessionUnconnected {
		return fmt.Errorf("%w: connect in state %s", ErrInvalidTransition, st)
	}

	stream, err := dialSetupStream(ctx, s.addr.AddrPort(s.cfg.setupPort), s.cfg.setupTimeout, s.cfg.recvBufferSize)
	if err != nil {
		s.metrics.incSessionErrCount()
		return err
	}

	s.stream = stream
	s.state.Set(SessionConnected)
	s.logger.Debug("setup stream connected")

	return nil
}

func (s *Session) register() error {
	if st := s.state.Get(); st != SessionConnected {
		return fmt.Errorf("%w: register in state %s", ErrInvalidTransition, st)
	}

	reply, err := s.stream.Exchange(eip.BuildRegisterSession())
	if err != nil {
		s.metrics.incSessionErrCount()
		return fmt.Errorf("register session %s: %w", s.addr, err)
	}

	token, err := eip.ParseRegisterSessionResponse(reply)
	if err != nil {
		s.metrics.incSessionErrCount()
		return fmt.Errorf("register session %s: %w", s.addr, err)
	}

	s.token = token
	s.state.Set(SessionRegistered)
	s.metrics.incSessionRegisterCount()
	s.logger.Info("session registered", "session_handle", token)

	return nil
}

// AddConsumer negotiates a consumer for hint and routes its T->O connection id to it.
//
// The session must be registered. On failure nothing is inserted. The returned consumer is not
// open yet; its keep-alive task is started by the Service.
func (s *Session) AddConsumer(hint eip.ConnectionHint, sink Sink) (*Consumer, uint32, error) {
	if sink == nil {
		return nil, 0, ErrNilSink
	}

	if err := hint.Validate(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	stream, token, st := s.stream, s.token, s.state.Get()
	s.mu.Unlock()

	if st != SessionRegistered {
		return nil, 0, fmt.Errorf("%w: %s", ErrSessionNotRegistered, st)
	}

	proposed, err := s.routes.reserve()
	if err != nil {
		return nil, 0, err
	}
	defer s.routes.release(proposed)

	c := newConsumer(s.addr, hint, sink, s.logger.With("tag", hint.Tag), s.metrics)
	toID, err := c.SendForwardOpen(stream, token, proposed)
	if err != nil {
		s.metrics.incForwardOpenErrCount()
		s.logger.Warn("forward open failed", "tag", hint.Tag, "error", err)

		if stream.Broken() {
			s.logger.Error("setup stream broken, close session", "error", err)
			_ = s.Close()
		}

		return nil, 0, err
	}
	s.metrics.incForwardOpenCount()

	if err := s.routes.bind(toID, c); err != nil {
		s.logger.Warn("negotiated connection id collides", "to_connection_id", toID, "error", err)
		return nil, 0, err
	}
	s.consumers.Store(toID, c)

	s.logger.Debug("forward open accepted", "tag", hint.Tag, "to_connection_id", toID, "ot_connection_id", c.IDs().OT)

	return c, toID, nil
}

// Consumer returns the consumer routed by the T->O connection id.
func (s *Session) Consumer(id uint32) (*Consumer, bool) {
	return s.consumers.Load(id)
}

// ConsumerCount returns the number of consumers of the session.
func (s *Session) ConsumerCount() int {
	return s.consumers.Size()
}

// removeConsumer unroutes and removes the consumer of id. It doesn't stop it.
func (s *Session) removeConsumer(id uint32) (*Consumer, bool) {
	c, ok := s.consumers.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	s.routes.unbind(id, c)

	return c, true
}

// consumerList returns a snapshot of the consumers.
func (s *Session) consumerList() []*Consumer {
	list := make([]*Consumer, 0, s.consumers.Size())
	s.consumers.Range(func(_ uint32, c *Consumer) bool {
		list = append(list, c)
		return true
	})

	return list
}

// Close stops every consumer and closes the setup stream. A closed session is never reused.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Get() == SessionClosed {
		return nil
	}
	s.state.Set(SessionClosed)

	s.consumers.Range(func(id uint32, c *Consumer) bool {
		s.removeConsumer(id)
		c.Stop()

		return true
	})

	if s.stream == nil {
		return nil
	}

	return s.stream.Close()
}

// Address returns the controller address of the session.
func (s *Session) Address() eip.Address {
	return s.addr
}

// State returns the session state.
func (s *Session) State() SessionState {
	return s.state.Get()
}

// Token returns the session handle. It is 0 before registration.
func (s *Session) Token() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.token
}
