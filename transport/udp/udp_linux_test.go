//go:build linux
// +build linux

package udp

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
	"github.com/momentics/hioload-nio/pipeline"
	"github.com/momentics/hioload-nio/reactor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T) *reactor.EventLoop {
	t.Helper()
	l, err := reactor.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errc)
	})
	return l
}

func echo(ctx *pipeline.Context, ev pipeline.Event) error {
	switch ev.Kind {
	case api.EventChannelRead:
		ctx.Write(ev.Msg, nil)
	case api.EventChannelReadComplete:
		ctx.Flush()
	default:
		ctx.FireInbound(ev)
	}
	return nil
}

func TestEchoOverLoopback(t *testing.T) {
	loop := startLoop(t)
	sock, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NotZero(t, sock.LocalAddr().Port())

	ch := channel.New(sock, loop)
	require.NoError(t, ch.Pipeline().AddLast("echo", pipeline.InboundFunc(echo)))
	require.NoError(t, ch.Register())

	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(sock.LocalAddr()))
	require.NoError(t, err)
	defer client.Close()

	for _, payload := range []string{"hello", "", "world"} {
		_, err = client.Write([]byte(payload))
		require.NoError(t, err)

		require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
		buf := make([]byte, 1024)
		n, err := client.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, payload, string(buf[:n]))
	}

	require.NoError(t, ch.Close())
	assert.False(t, ch.IsOpen())
	assert.False(t, sock.IsActive())
}

type guessOnly int

func (g guessOnly) Reset()                {}
func (g guessOnly) IncMessagesRead(int)   {}
func (g guessOnly) IncBytesRead(int)      {}
func (g guessOnly) ContinueReading() bool { return false }
func (g guessOnly) ReadComplete()         {}
func (g guessOnly) Guess() int            { return int(g) }

func TestReadWithoutDataReportsNothing(t *testing.T) {
	sock, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer sock.Close()

	var buf []any
	n, err := sock.ReadMessages(&buf, guessOnly(64))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, buf)
}

// sendTo sends payload to sock from a fresh client and waits until sock is
// readable.
func sendTo(t *testing.T, sock *Socket, payload []byte) {
	t.Helper()
	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(sock.LocalAddr()))
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write(payload)
	require.NoError(t, err)

	fds := []unix.PollFd{{Fd: int32(sock.FD()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 5000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestLargeDatagramIsDeliveredWhole(t *testing.T) {
	sock, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer sock.Close()

	payload := bytes.Repeat([]byte("0123456789"), 400)
	sendTo(t, sock, payload)

	cfg := channel.DefaultConfig()
	alloc := channel.NewMessageHandle(&cfg).(*channel.MessageHandle)
	before := alloc.Guess()
	require.Less(t, before, len(payload))

	alloc.Reset()
	var buf []any
	n, err := sock.ReadMessages(&buf, alloc)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, buf, 1)
	assert.Equal(t, payload, buf[0].(Datagram).Data)
	assert.Equal(t, len(payload), alloc.Bytes())

	alloc.IncMessagesRead(n)
	alloc.ReadComplete()
	assert.Greater(t, alloc.Guess(), before)
}

func TestOversizedDatagramIsReportedNotCut(t *testing.T) {
	sock, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer sock.Close()
	sock.scratch = make([]byte, 16)

	sendTo(t, sock, bytes.Repeat([]byte{'x'}, 100))

	var buf []any
	n, err := sock.ReadMessages(&buf, guessOnly(64))
	assert.Zero(t, n)
	assert.Empty(t, buf)
	assert.ErrorIs(t, err, api.ErrMessageTruncated)
	assert.True(t, channel.IsIOError(err))
	assert.False(t, channel.ShouldCloseOnReadError(err, true, false))

	// the socket keeps working for the next datagram
	sendTo(t, sock, []byte("ok"))
	n, err = sock.ReadMessages(&buf, guessOnly(64))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, []byte("ok"), buf[0].(Datagram).Data)
}

func TestWriteRejectsForeignMessages(t *testing.T) {
	sock, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer sock.Close()

	ok, err := sock.WriteMessage("not a datagram", nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupportedMessage)
	assert.False(t, channel.IsIOError(err))
}

func TestErrorMapping(t *testing.T) {
	assert.NoError(t, mapError("recvmsg", unix.EAGAIN))

	err := mapError("recvmsg", unix.ECONNREFUSED)
	assert.ErrorIs(t, err, api.ErrPortUnreachable)
	assert.False(t, channel.ShouldCloseOnReadError(err, true, false))

	err = mapError("sendto", unix.EPERM)
	assert.True(t, channel.IsIOError(err))
	assert.ErrorIs(t, err, unix.EPERM)
}
