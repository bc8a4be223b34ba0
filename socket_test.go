package nina

import (
	"bytes"
	"encoding/binary"
	"io"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/soypat/nina/internal/ninasim"
	"github.com/soypat/nina/wire"
	"github.com/soypat/seqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddr = netip.MustParseAddrPort("93.184.216.34:80")

func TestSocketEchoSplitReads(t *testing.T) {
	sim := ninasim.New()
	sim.FreeSocket = 2
	sim.ReadLimit = 4
	d, _ := newSPIDevice(t, sim, 0)
	sock, err := d.AllocateSocket()
	require.NoError(t, err)
	require.EqualValues(t, 2, sock)
	require.NoError(t, d.ConnectSocket(testAddr, ModeTCP))
	require.True(t, d.SocketConnected())

	msg := []byte("GET /asciilogo.txt HTTP/1.1\r\n")
	n, err := d.SocketWrite(msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	avail, err := d.SocketAvailable()
	require.NoError(t, err)
	require.Equal(t, len(msg), avail)

	var got []byte
	buf := make([]byte, 30)
	for len(got) < len(msg) {
		n, err := d.SocketRead(buf)
		require.NoError(t, err)
		require.LessOrEqual(t, n, sim.ReadLimit)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, msg, got)
	avail, err = d.SocketAvailable()
	require.NoError(t, err)
	assert.Zero(t, avail)

	require.NoError(t, d.SocketClose())
	state, err := d.SocketStatus()
	require.NoError(t, err)
	assert.Equal(t, SocketClosed, state)
}

func TestSocketReadRequestEncoding(t *testing.T) {
	sim := ninasim.New()
	var gotLen []byte
	sim.Handlers[wire.CmdGetDatabufTCP] = func(req *wire.Response) [][]byte {
		gotLen = append([]byte{}, req.Param(1)...)
		return [][]byte{nil}
	}
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)
	n, err := d.SocketRead(make([]byte, 0x1234))
	require.NoError(t, err)
	assert.Zero(t, n)
	// Requested length is little endian.
	assert.Equal(t, []byte{0x34, 0x12}, gotLen)
}

func TestSocketWritePartial(t *testing.T) {
	sim := ninasim.New()
	sim.WriteLimit = 3
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)
	n, err := d.SocketWrite([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSocketWriteRejected(t *testing.T) {
	sim := ninasim.New()
	sim.Handlers[wire.CmdSendDataTCP] = func(*wire.Response) [][]byte { return [][]byte{{0, 0}} }
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)
	n, err := d.SocketWrite([]byte("hello"))
	require.ErrorIs(t, err, ErrWriteRejected)
	assert.Zero(t, n)
}

func TestSocketWriteTooLong(t *testing.T) {
	sim := ninasim.New()
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)
	_, err = d.SocketWrite(make([]byte, 0x10000))
	require.ErrorIs(t, err, wire.ErrParamTooLong)
	assert.Zero(t, sim.Count(wire.CmdSendDataTCP))
}

func TestNoSocketAvailable(t *testing.T) {
	sim := ninasim.New()
	sim.FreeSocket = NoSocket
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.ErrorIs(t, err, ErrNoSocket)
	assert.Equal(t, NoSocket, d.Socket())
	_, err = d.SocketStatus()
	require.ErrorIs(t, err, errNoSocket)
	assert.False(t, d.SocketConnected())
}

func TestOpenSocketParams(t *testing.T) {
	sim := ninasim.New()
	sim.FreeSocket = 1
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)

	require.NoError(t, d.OpenSocket(testAddr, ModeTCP))
	require.NoError(t, d.OpenSocketHost("arduino.cc", 443, ModeTLS))
	require.Len(t, sim.Opened, 2)

	byIP := sim.Opened[0]
	require.Len(t, byIP, 4)
	assert.Equal(t, []byte{93, 184, 216, 34}, byIP[0])
	assert.Equal(t, []byte{0, 80}, byIP[1])
	assert.Equal(t, []byte{1}, byIP[2])
	assert.Equal(t, []byte{byte(ModeTCP)}, byIP[3])

	byName := sim.Opened[1]
	require.Len(t, byName, 5)
	assert.Equal(t, "arduino.cc", string(byName[0]))
	assert.Equal(t, []byte{0, 0, 0, 0}, byName[1])
	assert.Equal(t, 443, int(binary.BigEndian.Uint16(byName[2])))
	assert.Equal(t, []byte{1}, byName[3])
	assert.Equal(t, []byte{byte(ModeTLS)}, byName[4])

	require.ErrorIs(t, d.OpenSocket(netip.MustParseAddrPort("[::1]:80"), ModeTCP), errBadAddr)
}

func TestOpenSocketRefused(t *testing.T) {
	sim := ninasim.New()
	sim.Handlers[wire.CmdStartClientTCP] = func(*wire.Response) [][]byte { return [][]byte{{0}} }
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)
	err = d.ConnectSocket(testAddr, ModeTCP)
	require.ErrorIs(t, err, ErrSocketRefused)
	assert.Zero(t, sim.Count(wire.CmdGetClientStateTCP))
}

func TestConnectSocketEstablishTimeout(t *testing.T) {
	sim := ninasim.New()
	sim.StateScript = []byte{byte(SocketSynSent)}
	d, clk := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)
	start := clk.T
	err = d.ConnectSocket(testAddr, ModeTCP)
	require.ErrorIs(t, err, ErrEstablishTimeout)
	polls := clk.SleepCount(establishPoll)
	assert.InDelta(t, 30, polls, 1)
	assert.InDelta(t, establishTimeout.Seconds(), clk.T.Sub(start).Seconds(), 0.2)
}

func TestConnectSocketEventuallyEstablished(t *testing.T) {
	sim := ninasim.New()
	sim.StateScript = []byte{byte(SocketSynSent), byte(SocketSynSent), byte(SocketEstablished)}
	d, clk := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)
	require.NoError(t, d.ConnectSocketHost("arduino.cc", 80, ModeTCP))
	assert.Equal(t, 3, sim.Count(wire.CmdGetClientStateTCP))
	assert.Equal(t, 2, clk.SleepCount(establishPoll))
}

func TestConnectSocketUDPSkipsEstablish(t *testing.T) {
	for _, mode := range []SocketMode{ModeUDP, ModeUDPMulticast} {
		sim := ninasim.New()
		sim.StateScript = []byte{byte(SocketClosed)}
		d, _ := newSPIDevice(t, sim, 0)
		_, err := d.AllocateSocket()
		require.NoError(t, err)
		require.NoError(t, d.ConnectSocket(testAddr, mode), mode.String())
		assert.Zero(t, sim.Count(wire.CmdGetClientStateTCP))
	}
}

func TestSocketStatusTransportError(t *testing.T) {
	sim := ninasim.New()
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.AllocateSocket()
	require.NoError(t, err)
	sim.ErrorOn[wire.CmdGetClientStateTCP] = true
	state, err := d.SocketStatus()
	require.Error(t, err)
	assert.Equal(t, SocketUnknown, state)
}

func TestConnEcho(t *testing.T) {
	sim := ninasim.New()
	sim.WriteLimit = 5
	sim.ReadLimit = 7
	d, _ := newSPIDevice(t, sim, 0)
	conn, err := d.Dial(testAddr, ModeTCP)
	require.NoError(t, err)

	msg := bytes.Repeat([]byte("0123456789"), 5)
	n, err := conn.Write(msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)
	assert.Equal(t, 10, sim.Count(wire.CmdSendDataTCP))

	got := make([]byte, len(msg))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	// Peer closes with nothing left to read.
	sim.SetSocketState(conn.Socket(), byte(SocketCloseWait))
	_, err = conn.Read(got)
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, conn.Close())
	_, err = conn.Write(msg)
	require.Error(t, err)
	require.Error(t, conn.Close())
}

func TestConnReadTimeout(t *testing.T) {
	sim := ninasim.New()
	d, clk := newSPIDevice(t, sim, 0)
	conn, err := d.DialHost("arduino.cc", 80, ModeTCP)
	require.NoError(t, err)
	conn.SetReadTimeout(defaultTimeout / 5)
	start := clk.T
	_, err = conn.Read(make([]byte, 8))
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, clk.T.Sub(start), defaultTimeout/5)
}

func TestConnSharesDevice(t *testing.T) {
	sim := ninasim.New()
	d, _ := newSPIDevice(t, sim, 0)
	sim.FreeSocket = 0
	a, err := d.Dial(testAddr, ModeTCP)
	require.NoError(t, err)
	sim.FreeSocket = 1
	b, err := d.Dial(testAddr, ModeTCP)
	require.NoError(t, err)

	_, err = a.Write([]byte("to-a"))
	require.NoError(t, err)
	_, err = b.Write([]byte("to-b"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(a, buf)
	require.NoError(t, err)
	assert.Equal(t, "to-a", string(buf))
	_, err = io.ReadFull(b, buf)
	require.NoError(t, err)
	assert.Equal(t, "to-b", string(buf))
}

func TestDialFailureClosesSocket(t *testing.T) {
	sim := ninasim.New()
	sim.StateScript = []byte{byte(SocketSynSent)}
	d, _ := newSPIDevice(t, sim, 0)
	_, err := d.Dial(testAddr, ModeTCP)
	require.ErrorIs(t, err, ErrEstablishTimeout)
	assert.Equal(t, 1, sim.Count(wire.CmdStopClientTCP))
}

func TestSocketStateNames(t *testing.T) {
	assert.Equal(t, seqs.StateEstablished, SocketEstablished.TCPState())
	assert.Equal(t, seqs.StateClosed, SocketUnknown.TCPState())
	assert.Equal(t, seqs.StateTimeWait, SocketTimeWait.TCPState())
	assert.Equal(t, "unknown", SocketUnknown.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "status(77)", ConnStatus(77).String())
	assert.Equal(t, "tls", ModeTLS.String())
	assert.True(t, ModeUDPMulticast.IsUDP())
	assert.False(t, ModeTLS.IsUDP())
}

func TestConnAfterDeinitReleasesDevice(t *testing.T) {
	sim := ninasim.New()
	d, _ := newSPIDevice(t, sim, 0)
	conn, err := d.Dial(testAddr, ModeTCP)
	require.NoError(t, err)
	d.Deinit()

	_, err = conn.Write([]byte("x"))
	require.ErrorIs(t, err, errUninit)
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, errUninit)
	require.ErrorIs(t, conn.Close(), errUninit)

	done := make(chan struct{})
	go func() {
		d.Deinit()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("device lock still held after failed Conn operations")
	}
}
