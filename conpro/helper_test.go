package conpro

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-conpro/eip"
	"github.com/arloliu/go-conpro/logger"
)

func TestMain(m *testing.M) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn"
	}
	logger.SetLevel(logger.ParseLevel(logLevel))

	os.Exit(m.Run())
}

var loopback = netip.MustParseAddr("127.0.0.1")

// fakeController serves RegisterSession and Forward_Open on a loopback TCP port and records the
// keep-alives it receives on a loopback UDP port.
type fakeController struct {
	t   *testing.T
	ln  net.Listener
	udp *net.UDPConn

	handle        atomic.Uint32
	nextOT        atomic.Uint32
	registrations atomic.Int32
	forwardOpens  atomic.Int32

	// registerStatus, when nonzero, is written as the RegisterSession reply status.
	registerStatus atomic.Uint32
	// rejectStatus, when nonzero, is the Forward_Open general status.
	rejectStatus atomic.Uint32
	// fixedTOID, when nonzero, replaces the proposed T->O id in the Forward_Open reply.
	fixedTOID atomic.Uint32
	// forwardOpenDelay holds back every Forward_Open reply.
	forwardOpenDelay atomic.Int64

	mu         sync.Mutex
	keepAlives map[uint32][]uint32 // O->T id -> rolling sequences
	seqOrder   []uint32
	conns      []net.Conn

	wg sync.WaitGroup
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	udp, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(netip.AddrPortFrom(loopback, 0)))
	require.NoError(t, err)

	f := &fakeController{
		t:          t,
		ln:         ln,
		udp:        udp,
		keepAlives: make(map[uint32][]uint32),
	}
	f.nextOT.Store(0x1000)

	f.wg.Add(2)
	go f.acceptLoop()
	go f.udpLoop()

	t.Cleanup(f.close)

	return f
}

func (f *fakeController) setupPort() uint16 {
	return f.ln.Addr().(*net.TCPAddr).AddrPort().Port() //nolint:forcetypeassert
}

func (f *fakeController) cyclicPort() uint16 {
	return f.udp.LocalAddr().(*net.UDPAddr).AddrPort().Port() //nolint:forcetypeassert
}

func (f *fakeController) close() {
	_ = f.ln.Close()
	_ = f.udp.Close()

	f.mu.Lock()
	for _, conn := range f.conns {
		_ = conn.Close()
	}
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *fakeController) acceptLoop() {
	defer f.wg.Done()

	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}

		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		f.wg.Add(1)
		go f.serve(conn)
	}
}

func (f *fakeController) serve(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close()

	hdr := make([]byte, eip.HeaderSize)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}

		n, _ := eip.DeclaredLength(hdr)
		req := make([]byte, eip.HeaderSize+n)
		copy(req, hdr)
		if _, err := io.ReadFull(conn, req[eip.HeaderSize:]); err != nil {
			return
		}

		cmd, _ := eip.Command(req)
		switch cmd {
		case eip.CommandRegisterSession:
			f.registrations.Add(1)
			reply := eip.BuildRegisterSessionReply(f.handle.Add(1))
			if st := f.registerStatus.Load(); st != 0 {
				binary.LittleEndian.PutUint32(reply[8:12], st)
			}
			_, _ = conn.Write(reply)

		case eip.CommandSendRRData:
			f.forwardOpens.Add(1)
			toID, _ := eip.ProposedTOConnectionID(req)
			if fixed := f.fixedTOID.Load(); fixed != 0 {
				toID = fixed
			}
			handle := binary.LittleEndian.Uint32(req[4:8])
			status := byte(f.rejectStatus.Load()) //nolint:gosec
			ids := eip.ConnectionIDs{OT: f.nextOT.Add(1), TO: toID}
			reply := eip.BuildForwardOpenReply(handle, status, ids, 0, 0, 0)

			if d := time.Duration(f.forwardOpenDelay.Load()); d > 0 {
				time.Sleep(d)
			}

			// split the reply to exercise reassembly
			_, _ = conn.Write(reply[:10])
			_, _ = conn.Write(reply[10:])
		}
	}
}

func (f *fakeController) udpLoop() {
	defer f.wg.Done()

	buf := make([]byte, 512)
	for {
		n, _, err := f.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			continue
		}

		if n != 20 {
			continue
		}

		otID := binary.LittleEndian.Uint32(buf[6:10])
		seq := binary.LittleEndian.Uint32(buf[10:14])

		f.mu.Lock()
		f.keepAlives[otID] = append(f.keepAlives[otID], seq)
		f.seqOrder = append(f.seqOrder, seq)
		f.mu.Unlock()
	}
}

func (f *fakeController) keepAliveCount(otID uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.keepAlives[otID])
}

func (f *fakeController) keepAliveSeqs(otID uint32) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]uint32(nil), f.keepAlives[otID]...)
}

func (f *fakeController) allSeqs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]uint32(nil), f.seqOrder...)
}

// produce sends a produced datagram for toID to the service's cyclic socket.
func (f *fakeController) produce(t *testing.T, svc *Service, toID uint32, payload []byte) {
	t.Helper()

	to, ok := svc.LocalAddr()
	require.True(t, ok)

	dst := netip.AddrPortFrom(loopback, to.Port())
	_, err := f.udp.WriteToUDPAddrPort(eip.BuildCyclicDatagram(toID, 1, 1, payload), dst)
	require.NoError(t, err)
}

func testServiceConfig(t *testing.T, f *fakeController, opts ...ServiceOption) *ServiceConfig {
	t.Helper()

	base := []ServiceOption{
		withSetupPort(f.setupPort()),
		withCyclicPort(0),
		withCyclicPeerPort(f.cyclicPort()),
		withBindHost(loopback),
		WithPollTimeout(5 * time.Millisecond),
		WithSetupTimeout(time.Second),
		WithCloseTimeout(time.Second),
	}

	cfg, err := NewServiceConfig(append(base, opts...)...)
	require.NoError(t, err)

	return cfg
}

func newTestService(t *testing.T, f *fakeController, opts ...ServiceOption) *Service {
	t.Helper()

	svc, err := NewService(context.Background(), testServiceConfig(t, f, opts...))
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	t.Cleanup(func() { _ = svc.Close() })

	return svc
}

// testHint produces keep-alives every 10ms.
func testHint(tag string) eip.ConnectionHint {
	return eip.ConnectionHint{Tag: tag, DataSize: 4, RPI: 10000, OTRPI: 10000}
}

func waitPayload(t *testing.T, q *ConsumerQueue) []byte {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := q.Wait(ctx)
	require.NoError(t, err)

	return payload
}
