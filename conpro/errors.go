package conpro

import "errors"

var (
	// ErrConfigNil indicates that a nil configuration was supplied.
	ErrConfigNil = errors.New("service config is nil")

	// ErrServiceNotStarted indicates an operation that requires a started service.
	ErrServiceNotStarted = errors.New("service not started")

	// ErrServiceClosed indicates an operation on a closed service.
	ErrServiceClosed = errors.New("service closed")

	// ErrServiceStarted indicates a second call to Start.
	ErrServiceStarted = errors.New("service already started")
)

var (
	// ErrPeerClosed indicates that the controller closed the setup stream before a full frame arrived.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrStreamBroken indicates an exchange on a setup stream closed by an earlier failed exchange.
	ErrStreamBroken = errors.New("setup stream broken")

	// ErrSessionNotFound indicates that no session exists for a controller address.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotRegistered indicates an operation that requires a registered session.
	ErrSessionNotRegistered = errors.New("session not registered")

	// ErrConsumerNotFound indicates that no consumer owns the given T->O connection id.
	ErrConsumerNotFound = errors.New("consumer not found")

	// ErrConnectionIDInUse indicates that the controller returned a T->O connection id already routed
	// to another consumer.
	ErrConnectionIDInUse = errors.New("connection id already in use")

	// ErrInvalidTransition indicates a state change not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNilSink indicates that AddConsumer was called without a delivery sink.
	ErrNilSink = errors.New("sink is nil")
)
