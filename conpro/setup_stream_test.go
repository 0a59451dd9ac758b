package conpro

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-conpro/eip"
	"github.com/arloliu/go-conpro/internal/util"
)

// readRequest consumes one request frame from the controller side of a pipe.
func readRequest(t *testing.T, conn net.Conn) []byte {
	t.Helper()

	hdr := make([]byte, eip.HeaderSize)
	_, err := io.ReadFull(conn, hdr)
	require.NoError(t, err)

	n, _ := eip.DeclaredLength(hdr)
	body := make([]byte, n)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)

	return append(hdr, body...)
}

func TestSetupStream_Reassembly(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer server.Close()
	stream := newSetupStream(client, time.Second, 64)
	defer stream.Close()

	reply := eip.BuildForwardOpenReply(7, 0, eip.ConnectionIDs{OT: 1, TO: 2}, 3, 1000, 1000)
	go func() {
		req := readRequest(t, server)
		if cmd, _ := eip.Command(req); cmd != eip.CommandRegisterSession {
			return
		}

		// header split before the length field, then the rest plus trailing garbage
		_, _ = server.Write(reply[:3])
		_, _ = server.Write(reply[3:30])
		_, _ = server.Write(append(append([]byte(nil), reply[30:]...), 0xFF, 0xFF))
	}()

	got, err := stream.Exchange(eip.BuildRegisterSession())
	require.NoError(err)
	require.Equal(reply, got)
}

func TestSetupStream_SmallBuffer(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer server.Close()
	// smaller than the reply, so one write needs several reads
	stream := newSetupStream(client, time.Second, 8)
	defer stream.Close()

	reply := eip.BuildRegisterSessionReply(0x55)
	go func() {
		readRequest(t, server)
		_, _ = server.Write(reply)
	}()

	got, err := stream.Exchange(eip.BuildRegisterSession())
	require.NoError(err)
	require.Equal(reply, got)
}

func TestSetupStream_PeerClosedMidFrame(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	stream := newSetupStream(client, time.Second, 64)
	defer stream.Close()

	go func() {
		readRequest(t, server)
		_, _ = server.Write(eip.BuildRegisterSessionReply(1)[:10])
		_ = server.Close()
	}()

	_, err := stream.Exchange(eip.BuildRegisterSession())
	require.ErrorIs(err, ErrPeerClosed)
}

func TestSetupStream_Timeout(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer server.Close()
	stream := newSetupStream(client, 50*time.Millisecond, 64)
	defer stream.Close()

	go func() {
		readRequest(t, server)
		// never reply
	}()

	begin := time.Now()
	_, err := stream.Exchange(eip.BuildRegisterSession())
	require.Error(err)
	require.True(util.IsTimeout(err))
	require.Less(time.Since(begin), time.Second)
}

func TestSetupStream_WriteAfterClose(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer server.Close()
	stream := newSetupStream(client, time.Second, 64)
	require.NoError(stream.Close())

	_, err := stream.Exchange(eip.BuildRegisterSession())
	require.Error(err)
}

func TestSetupStream_BrokenAfterTimeout(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	defer server.Close()
	stream := newSetupStream(client, 50*time.Millisecond, 64)
	defer stream.Close()

	late := make(chan struct{})
	go func() {
		defer close(late)
		readRequest(t, server)
		time.Sleep(100 * time.Millisecond)
		// the reply to the timed out request must not reach the next exchange
		_, _ = server.Write(eip.BuildRegisterSessionReply(1))
	}()

	_, err := stream.Exchange(eip.BuildRegisterSession())
	require.True(util.IsTimeout(err))
	require.True(stream.Broken())
	<-late

	_, err = stream.Exchange(eip.BuildRegisterSession())
	require.ErrorIs(err, ErrStreamBroken)

	// the connection is closed
	_, err = server.Read(make([]byte, 1))
	require.ErrorIs(err, io.EOF)
}
