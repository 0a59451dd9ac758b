package conpro

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-conpro/eip"
	"github.com/arloliu/go-conpro/internal/util"
	"github.com/arloliu/go-conpro/logger"
)

func TestService_AddConsumer_ReusesSession(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)
	ctx := context.Background()

	addr := eip.Address{IP: loopback, Slot: 0}
	id1, err := svc.AddConsumer(ctx, addr, testHint("A"), NewConsumerQueue())
	require.NoError(err)
	id2, err := svc.AddConsumer(ctx, addr, testHint("B"), NewConsumerQueue())
	require.NoError(err)

	require.NotEqual(id1, id2)
	require.Equal(int32(1), f.registrations.Load())
	require.Equal(int32(2), f.forwardOpens.Load())
	require.Equal(1, svc.SessionCount())
	require.Equal(2, svc.ConsumerCount())

	sess, ok := svc.Session(addr)
	require.True(ok)
	require.Equal(SessionRegistered, sess.State())
	require.Equal(2, sess.ConsumerCount())
	require.NotZero(sess.Token())

	c, ok := sess.Consumer(id1)
	require.True(ok)
	require.True(c.IsOpen())
	require.Equal(id1, c.IDs().TO)
	require.Equal("A", c.Hint().Tag)
	require.Equal(addr, c.Peer())

	m := svc.GetMetrics()
	require.Equal(uint64(1), m.SessionRegisterCount.Load())
	require.Equal(uint64(2), m.ForwardOpenCount.Load())
	require.Equal(int64(2), m.ActiveConsumerGauge.Load())
}

func TestService_RoutingAcrossSessions(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)
	ctx := context.Background()

	type entry struct {
		id    uint32
		queue *ConsumerQueue
	}

	// two sessions on the same host, told apart by slot
	var entries []entry
	for slot := range uint8(2) {
		addr := eip.Address{IP: loopback, Slot: slot}
		for _, tag := range []string{"X", "Y"} {
			q := NewConsumerQueue()
			id, err := svc.AddConsumer(ctx, addr, testHint(tag), q)
			require.NoError(err)
			entries = append(entries, entry{id: id, queue: q})
		}
	}
	require.Equal(2, svc.SessionCount())
	require.Equal(4, svc.ConsumerCount())
	require.Equal(int32(2), f.registrations.Load())

	for i, e := range entries {
		f.produce(t, svc, e.id, []byte{byte(i), 0xAA})
	}

	for i, e := range entries {
		require.Equal([]byte{byte(i), 0xAA}, waitPayload(t, e.queue))
	}

	// nothing was delivered twice
	time.Sleep(20 * time.Millisecond)
	for _, e := range entries {
		require.True(e.queue.IsEmpty())
	}

	require.Equal(uint64(4), svc.GetMetrics().DatagramRecvCount.Load())
	require.Zero(svc.GetMetrics().DatagramDropCount.Load())
}

func TestService_KeepAlive(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)
	ctx := context.Background()

	addr := eip.Address{IP: loopback}
	id, err := svc.AddConsumer(ctx, addr, testHint("KA"), NewConsumerQueue())
	require.NoError(err)

	sess, _ := svc.Session(addr)
	c, ok := sess.Consumer(id)
	require.True(ok)
	otID := c.IDs().OT

	require.Eventually(func() bool { return f.keepAliveCount(otID) >= 3 }, 2*time.Second, 5*time.Millisecond)

	// rolling sequence strictly increases
	seqs := f.keepAliveSeqs(otID)
	for i := 1; i < len(seqs); i++ {
		require.Greater(seqs[i], seqs[i-1])
	}

	require.NoError(svc.StopConsumer(addr, id))
	require.False(c.IsOpen())
	require.Equal(ConsumerStopped, c.State())
	c.Wait()

	// give in-flight datagrams time to land, then no more keep-alives
	time.Sleep(20 * time.Millisecond)
	count := f.keepAliveCount(otID)
	time.Sleep(50 * time.Millisecond)
	require.Equal(count, f.keepAliveCount(otID))

	require.Zero(svc.ConsumerCount())
	require.Zero(sess.ConsumerCount())
	require.Zero(svc.GetMetrics().ActiveConsumerGauge.Load())
	require.Positive(svc.GetMetrics().KeepAliveSendCount.Load())
}

func TestService_SharedSequence(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)
	ctx := context.Background()

	for _, tag := range []string{"S1", "S2", "S3"} {
		_, err := svc.AddConsumer(ctx, eip.Address{IP: loopback}, testHint(tag), NewConsumerQueue())
		require.NoError(err)
	}

	require.Eventually(func() bool { return len(f.allSeqs()) >= 12 }, 2*time.Second, 5*time.Millisecond)

	// one counter feeds every consumer, so no value repeats
	seen := make(map[uint32]bool)
	for _, seq := range f.allSeqs() {
		require.False(seen[seq], "sequence %d sent twice", seq)
		seen[seq] = true
	}
}

func TestService_RoutingMiss(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)

	mockLogger := logger.NewMockLogger()
	mockLogger.On("Warn", "drop datagram without consumer", mock.Anything).Return()
	mockLogger.AllowAll()

	svc := newTestService(t, f, WithLogger(mockLogger))

	q := NewConsumerQueue()
	id, err := svc.AddConsumer(context.Background(), eip.Address{IP: loopback}, testHint("Hit"), q)
	require.NoError(err)

	f.produce(t, svc, id+1, []byte{1})
	f.produce(t, svc, id, []byte{2})

	require.Equal([]byte{2}, waitPayload(t, q))
	require.Eventually(func() bool { return svc.GetMetrics().DatagramDropCount.Load() == 1 }, time.Second, 5*time.Millisecond)
	mockLogger.AssertCalled(t, "Warn", "drop datagram without consumer", mock.Anything)
	require.True(q.IsEmpty())
}

func TestService_MalformedDatagram(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)

	to, ok := svc.LocalAddr()
	require.True(ok)

	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(to))
	require.NoError(err)
	defer conn.Close()

	_, err = conn.Write([]byte{1, 2, 3})
	require.NoError(err)

	require.Eventually(func() bool { return svc.GetMetrics().DatagramDropCount.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(uint64(1), svc.GetMetrics().DatagramRecvCount.Load())
}

func TestService_ForwardOpenRejected(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)
	f.rejectStatus.Store(0x01)

	addr := eip.Address{IP: loopback}
	_, err := svc.AddConsumer(context.Background(), addr, testHint("Nope"), NewConsumerQueue())
	require.ErrorIs(err, eip.ErrForwardOpenRejected)

	require.Zero(svc.ConsumerCount())
	require.Equal(1, svc.SessionCount())
	sess, _ := svc.Session(addr)
	require.Equal(SessionRegistered, sess.State())
	require.Equal(uint64(1), svc.GetMetrics().ForwardOpenErrCount.Load())

	// the session stays usable
	f.rejectStatus.Store(0)
	_, err = svc.AddConsumer(context.Background(), addr, testHint("Yes"), NewConsumerQueue())
	require.NoError(err)
	require.Equal(int32(1), f.registrations.Load())
}

func TestService_ConnectionIDInUse(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)
	f.fixedTOID.Store(777)

	ctx := context.Background()
	id, err := svc.AddConsumer(ctx, eip.Address{IP: loopback, Slot: 0}, testHint("A"), NewConsumerQueue())
	require.NoError(err)
	require.Equal(uint32(777), id)

	// another session gets the same id back from its controller
	_, err = svc.AddConsumer(ctx, eip.Address{IP: loopback, Slot: 1}, testHint("B"), NewConsumerQueue())
	require.ErrorIs(err, ErrConnectionIDInUse)
	require.Equal(1, svc.ConsumerCount())

	sess, _ := svc.Session(eip.Address{IP: loopback, Slot: 1})
	require.Zero(sess.ConsumerCount())
}

func TestService_RegisterRejected(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)
	f.registerStatus.Store(0x69)

	addr := eip.Address{IP: loopback}
	_, err := svc.AddConsumer(context.Background(), addr, testHint("A"), NewConsumerQueue())
	require.ErrorIs(err, eip.ErrRegisterSessionRejected)
	require.Zero(svc.SessionCount())
	require.Equal(uint64(1), svc.GetMetrics().SessionErrCount.Load())

	// a later call starts over with a fresh session
	f.registerStatus.Store(0)
	_, err = svc.AddConsumer(context.Background(), addr, testHint("A"), NewConsumerQueue())
	require.NoError(err)
	require.Equal(int32(2), f.registrations.Load())
	require.Equal(1, svc.SessionCount())
}

func TestService_ConnectFailure(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)

	// a port nothing listens on
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(err)
	port := ln.Addr().(*net.TCPAddr).AddrPort().Port() //nolint:forcetypeassert
	require.NoError(ln.Close())

	svc := newTestService(t, f, withSetupPort(port))
	_, err = svc.AddConsumer(context.Background(), eip.Address{IP: loopback}, testHint("A"), NewConsumerQueue())
	require.Error(err)
	require.Zero(svc.SessionCount())
	require.Equal(uint64(1), svc.GetMetrics().SessionErrCount.Load())
}

func TestService_Lifecycle(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)

	svc, err := NewService(context.Background(), testServiceConfig(t, f))
	require.NoError(err)
	require.Equal(ClosedState, svc.OpState())

	_, ok := svc.LocalAddr()
	require.False(ok)

	_, err = svc.AddConsumer(context.Background(), eip.Address{IP: loopback}, testHint("A"), NewConsumerQueue())
	require.ErrorIs(err, ErrServiceNotStarted)

	require.NoError(svc.Start())
	require.Equal(OpenedState, svc.OpState())
	require.ErrorIs(svc.Start(), ErrServiceStarted)

	addr := eip.Address{IP: loopback}
	id, err := svc.AddConsumer(context.Background(), addr, testHint("A"), NewConsumerQueue())
	require.NoError(err)

	sess, _ := svc.Session(addr)
	c, _ := sess.Consumer(id)

	require.NoError(svc.Close())
	require.NoError(svc.Close())
	require.Equal(ClosedState, svc.OpState())
	require.Equal(ConsumerStopped, c.State())
	require.Equal(SessionClosed, sess.State())
	require.Zero(svc.SessionCount())
	require.Zero(svc.ConsumerCount())

	// every background task has exited
	otID := c.IDs().OT
	count := f.keepAliveCount(otID)
	time.Sleep(40 * time.Millisecond)
	require.Equal(count, f.keepAliveCount(otID))

	_, err = svc.AddConsumer(context.Background(), addr, testHint("A"), NewConsumerQueue())
	require.ErrorIs(err, ErrServiceClosed)
	require.ErrorIs(svc.Start(), ErrServiceClosed)

	_, err = NewService(context.Background(), nil)
	require.ErrorIs(err, ErrConfigNil)
}

func TestService_ParentContextCancel(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := NewService(ctx, testServiceConfig(t, f))
	require.NoError(err)
	require.NoError(svc.Start())
	defer svc.Close()

	_, err = svc.AddConsumer(context.Background(), eip.Address{IP: loopback}, testHint("A"), NewConsumerQueue())
	require.NoError(err)

	cancel()
	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not exit after parent cancel")
	}
}

func TestService_StopConsumerErrors(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)

	addr := eip.Address{IP: loopback}
	require.ErrorIs(svc.StopConsumer(addr, 1), ErrSessionNotFound)

	id, err := svc.AddConsumer(context.Background(), addr, testHint("A"), NewConsumerQueue())
	require.NoError(err)

	require.ErrorIs(svc.StopConsumer(addr, id+1), ErrConsumerNotFound)
	require.NoError(svc.StopConsumer(addr, id))
	require.ErrorIs(svc.StopConsumer(addr, id), ErrConsumerNotFound)
}

func TestService_AddConsumerValidation(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)
	ctx := context.Background()
	addr := eip.Address{IP: loopback}

	_, err := svc.AddConsumer(ctx, addr, testHint("A"), nil)
	require.ErrorIs(err, ErrNilSink)

	_, err = svc.AddConsumer(ctx, addr, eip.ConnectionHint{Tag: "A", DataSize: 4}, NewConsumerQueue())
	require.ErrorIs(err, eip.ErrInvalidHint)

	_, err = svc.AddConsumer(ctx, addr, testHint("Arr[1]"), NewConsumerQueue())
	require.ErrorIs(err, eip.ErrUnsupportedTag)

	_, err = svc.AddConsumer(ctx, eip.Address{}, testHint("A"), NewConsumerQueue())
	require.Error(err)

	// nothing reached the controller
	require.Zero(f.registrations.Load())
	require.Zero(svc.SessionCount())
}

func TestService_ConcurrentAddConsumer(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)

	const n = 8
	errs := make(chan error, n)
	for i := range n {
		go func() {
			addr := eip.Address{IP: loopback, Slot: uint8(i % 2)} //nolint:gosec
			_, err := svc.AddConsumer(context.Background(), addr, testHint("C"), NewConsumerQueue())
			errs <- err
		}()
	}

	for range n {
		require.NoError(<-errs)
	}

	require.Equal(2, svc.SessionCount())
	require.Equal(n, svc.ConsumerCount())
	require.Equal(int32(2), f.registrations.Load())
}

// panicSink panics on every delivery.
type panicSink struct{}

func (panicSink) Deliver([]byte) {
	panic("sink failure")
}

func TestService_PanickingSink(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)

	ctx := context.Background()
	addr := eip.Address{IP: loopback}
	badID, err := svc.AddConsumer(ctx, addr, testHint("Bad"), panicSink{})
	require.NoError(err)

	good := NewConsumerQueue()
	goodID, err := svc.AddConsumer(ctx, addr, testHint("Good"), good)
	require.NoError(err)

	f.produce(t, svc, badID, []byte{1})
	require.Eventually(func() bool { return svc.GetMetrics().DatagramDropCount.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the listener keeps routing after the panic
	f.produce(t, svc, goodID, []byte{2})
	require.Equal([]byte{2}, waitPayload(t, good))
	require.Equal(1, svc.taskMgr.Count())
}

func TestService_TimedOutExchangeDiscardsSession(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f, WithSetupTimeout(150*time.Millisecond))

	ctx := context.Background()
	addr := eip.Address{IP: loopback}
	_, err := svc.AddConsumer(ctx, addr, testHint("A"), NewConsumerQueue())
	require.NoError(err)
	first, ok := svc.Session(addr)
	require.True(ok)
	require.Equal(uint32(1), first.Token())

	f.forwardOpenDelay.Store(int64(300 * time.Millisecond))
	_, err = svc.AddConsumer(ctx, addr, testHint("B"), NewConsumerQueue())
	require.Error(err)
	require.True(util.IsTimeout(err))

	// the stream may still carry the late reply, so the session is gone
	require.Equal(SessionClosed, first.State())
	require.Zero(svc.SessionCount())
	require.Zero(svc.ConsumerCount())

	f.forwardOpenDelay.Store(0)

	q := NewConsumerQueue()
	id, err := svc.AddConsumer(ctx, addr, testHint("C"), q)
	require.NoError(err)
	require.Equal(int32(2), f.registrations.Load())

	second, ok := svc.Session(addr)
	require.True(ok)
	require.NotSame(first, second)
	require.Equal(uint32(2), second.Token())

	f.produce(t, svc, id, []byte{3})
	require.Equal([]byte{3}, waitPayload(t, q))
}

func TestService_AddConsumerAfterClose(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)
	svc := newTestService(t, f)

	// flag set but registry not yet cleared, as seen by a racing AddConsumer
	svc.closed.Store(true)
	_, err := svc.getOrCreateSession(eip.Address{IP: loopback})
	require.ErrorIs(err, ErrServiceClosed)
	require.Zero(svc.SessionCount())
	svc.closed.Store(false)
}

func TestService_TruncatedDatagram(t *testing.T) {
	require := require.New(t)
	f := newFakeController(t)

	mockLogger := logger.NewMockLogger()
	mockLogger.On("Warn", "datagram may be truncated", mock.Anything).Return()
	mockLogger.AllowAll()

	svc := newTestService(t, f, WithLogger(mockLogger), WithRecvBufferSize(64))

	q := NewConsumerQueue()
	id, err := svc.AddConsumer(context.Background(), eip.Address{IP: loopback}, testHint("Big"), q)
	require.NoError(err)

	f.produce(t, svc, id, make([]byte, 100))
	payload := waitPayload(t, q)
	require.Len(payload, 64-eip.DatagramPayloadOffset)
	mockLogger.AssertCalled(t, "Warn", "datagram may be truncated", mock.Anything)
}
