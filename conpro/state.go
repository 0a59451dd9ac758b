package conpro

import "sync/atomic"

// SessionState represents the handshake stage of a Session.
type SessionState uint32

const (
	// SessionUnconnected indicates that the setup stream is not open.
	SessionUnconnected SessionState = iota
	// SessionConnected indicates that the setup stream is open but no session handle was obtained.
	SessionConnected
	// SessionRegistered indicates that the session holds a valid session handle.
	SessionRegistered
	// SessionClosed indicates that the setup stream was closed. A closed session is never reused.
	SessionClosed
)

// String returns string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionUnconnected:
		return "unconnected"
	case SessionConnected:
		return "connected"
	case SessionRegistered:
		return "registered"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConsumerState represents the lifecycle stage of a Consumer.
type ConsumerState uint32

const (
	// ConsumerCreated indicates that Forward_Open has not succeeded yet.
	ConsumerCreated ConsumerState = iota
	// ConsumerOpen indicates valid connection ids and a running keep-alive task.
	ConsumerOpen
	// ConsumerStopped indicates that the liveness flag was cleared.
	ConsumerStopped
)

// String returns string representation of the consumer state.
func (s ConsumerState) String() string {
	switch s {
	case ConsumerCreated:
		return "created"
	case ConsumerOpen:
		return "open"
	case ConsumerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// atomicState is a lock-free state cell with compare-and-swap transitions.
type atomicState[S ~uint32] struct {
	state atomic.Uint32
}

func (st *atomicState[S]) Get() S {
	return S(st.state.Load())
}

func (st *atomicState[S]) Set(s S) {
	st.state.Store(uint32(s))
}

// To moves from -> to and reports whether the transition happened.
func (st *atomicState[S]) To(from S, to S) bool {
	return st.state.CompareAndSwap(uint32(from), uint32(to))
}

// OpState represents the lifecycle of a Service.
type OpState uint32

const (
	ClosedState OpState = iota
	ClosingState
	OpeningState
	OpenedState
)

// String returns string representation of the op state.
func (s OpState) String() string {
	switch s {
	case ClosedState:
		return "Closed"
	case ClosingState:
		return "Closing"
	case OpeningState:
		return "Opening"
	case OpenedState:
		return "Opened"
	default:
		return "Unknown"
	}
}

// AtomicOpState holds an OpState with the Closed -> Opening -> Opened -> Closing -> Closed transitions.
type AtomicOpState struct {
	atomicState[OpState]
}

func (st *AtomicOpState) String() string {
	return st.Get().String()
}

func (st *AtomicOpState) IsClosed() bool {
	return st.Get() == ClosedState
}

func (st *AtomicOpState) IsOpened() bool {
	return st.Get() == OpenedState
}

func (st *AtomicOpState) ToOpening() bool {
	return st.To(ClosedState, OpeningState)
}

func (st *AtomicOpState) ToOpened() bool {
	if st.IsOpened() {
		return true
	}

	return st.To(OpeningState, OpenedState)
}

func (st *AtomicOpState) ToClosing() bool {
	if st.To(OpenedState, ClosingState) {
		return true
	}

	return st.To(OpeningState, ClosingState)
}

func (st *AtomicOpState) ToClosed() bool {
	if st.IsClosed() {
		return true
	}

	return st.To(ClosingState, ClosedState)
}
