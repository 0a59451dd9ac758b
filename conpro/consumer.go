package conpro

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-conpro/eip"
	"github.com/arloliu/go-conpro/internal/task"
	"github.com/arloliu/go-conpro/internal/util"
	"github.com/arloliu/go-conpro/logger"
)

const keepAliveTaskName = "keepalive"

// Consumer is one negotiated cyclic connection.
//
// A Consumer moves from Created to Open when its keep-alive task starts, and to Stopped when Stop
// clears its liveness flag. It is never reopened.
type Consumer struct {
	peer    eip.Address
	hint    eip.ConnectionHint
	sink    Sink
	logger  logger.Logger
	metrics *ServiceMetrics

	mu      sync.RWMutex // protects ids, taskMgr and state transitions
	ids     eip.ConnectionIDs
	taskMgr *task.Manager

	state     atomicState[ConsumerState]
	alive     atomic.Bool
	delivered atomic.Uint64
}

func newConsumer(peer eip.Address, hint eip.ConnectionHint, sink Sink, l logger.Logger, metrics *ServiceMetrics) *Consumer {
	return &Consumer{
		peer:    peer,
		hint:    hint,
		sink:    sink,
		logger:  l,
		metrics: metrics,
	}
}

// SendForwardOpen negotiates the connection through ex using the session handle token, proposing
// toID as the T->O connection id. On success it stores the negotiated ids and returns the T->O id.
// On failure the consumer is left unchanged.
func (c *Consumer) SendForwardOpen(ex exchanger, token uint32, toID uint32) (uint32, error) {
	if st := c.state.Get(); st != ConsumerCreated {
		return 0, fmt.Errorf("%w: forward open in state %s", ErrInvalidTransition, st)
	}

	req, err := eip.BuildForwardOpenRequestWithIDs(token, c.hint, toID, eip.GenerateConnectionSerial())
	if err != nil {
		return 0, err
	}

	reply, err := ex.Exchange(req)
	if err != nil {
		return 0, fmt.Errorf("forward open exchange: %w", err)
	}

	ids, err := eip.ParseForwardOpenResponse(reply)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.ids = ids
	c.logger = c.logger.With("to_connection_id", ids.TO)
	c.mu.Unlock()

	return ids.TO, nil
}

// startKeepAlive starts the keep-alive task: every O->T RPI one keep-alive datagram carrying the next
// value of seq is sent through sender. The task stops when ctx is done or Stop is called.
func (c *Consumer) startKeepAlive(ctx context.Context, sender datagramSender, seq *atomic.Uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.To(ConsumerCreated, ConsumerOpen) {
		return fmt.Errorf("%w: start keep-alive in state %s", ErrInvalidTransition, c.state.Get())
	}

	otID := c.ids.OT
	c.alive.Store(true)
	c.taskMgr = task.NewManager(ctx, c.logger)

	err := c.taskMgr.StartInterval(keepAliveTaskName, func() bool {
		if !c.alive.Load() {
			return false
		}

		if err := sender.SendTo(eip.BuildKeepAlive(otID, seq.Add(1)), c.peer); err != nil {
			if util.IsClosed(err) {
				return false
			}
			c.metrics.incKeepAliveErrCount()
			c.logger.Error("failed to send keep-alive", "error", err)

			return true
		}
		c.metrics.incKeepAliveSendCount()

		return true
	}, c.hint.KeepAlivePeriod())
	if err != nil {
		c.alive.Store(false)
		c.state.Set(ConsumerStopped)

		return err
	}

	c.metrics.incActiveConsumerGauge()

	return nil
}

// Stop clears the liveness flag and stops the keep-alive task. It reports whether the consumer was open.
// Stop does not wait for the task to exit; use Wait.
func (c *Consumer) Stop() bool {
	c.mu.Lock()
	c.alive.Store(false)
	wasOpen := c.state.To(ConsumerOpen, ConsumerStopped)
	if !wasOpen {
		c.state.To(ConsumerCreated, ConsumerStopped)
	}
	mgr := c.taskMgr
	c.mu.Unlock()

	if mgr != nil {
		mgr.Stop()
	}

	if wasOpen {
		c.metrics.decActiveConsumerGauge()
		c.logger.Debug("consumer stopped", "delivered", c.delivered.Load())
	}

	return wasOpen
}

// Wait blocks until the keep-alive task has exited.
func (c *Consumer) Wait() {
	c.mu.RLock()
	mgr := c.taskMgr
	c.mu.RUnlock()

	if mgr != nil {
		mgr.Wait()
	}
}

// deliver hands payload to the sink if the consumer is alive.
func (c *Consumer) deliver(payload []byte) bool {
	if !c.alive.Load() {
		return false
	}

	c.delivered.Add(1)
	c.sink.Deliver(payload)

	return true
}

// IsOpen reports whether the consumer is open and its keep-alive task is running.
func (c *Consumer) IsOpen() bool {
	return c.state.Get() == ConsumerOpen && c.alive.Load()
}

// State returns the consumer state.
func (c *Consumer) State() ConsumerState {
	return c.state.Get()
}

// IDs returns the negotiated connection ids. They are zero before Forward_Open succeeds.
func (c *Consumer) IDs() eip.ConnectionIDs {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.ids
}

// Hint returns the hint the consumer was created from.
func (c *Consumer) Hint() eip.ConnectionHint {
	return c.hint
}

// Peer returns the controller address of the consumer.
func (c *Consumer) Peer() eip.Address {
	return c.peer
}

// DeliveredCount returns the number of payloads delivered to the sink.
func (c *Consumer) DeliveredCount() uint64 {
	return c.delivered.Load()
}
