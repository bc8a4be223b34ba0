package nina

import (
	"encoding/binary"
	"log/slog"
	"net/netip"

	"github.com/soypat/nina/wire"
)

// AllocateSocket asks the co-processor for a free socket and makes it the
// session's socket.
func (d *Device) AllocateSocket() (uint8, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return NoSocket, err
	}
	return d.allocateSocket()
}

func (d *Device) allocateSocket() (uint8, error) {
	resp, err := d.command(wire.CmdGetSocket, wire.Len8, wire.Len8)
	if err != nil {
		return NoSocket, err
	}
	sock := resp.Status()
	if sock == NoSocket {
		return NoSocket, cmdErr(wire.CmdGetSocket, sock, ErrNoSocket)
	}
	d.sock = sock
	d.state = SocketClosed
	d.debug("socket:allocated", slog.Int("sock", int(sock)))
	return sock, nil
}

// OpenSocket starts a client connection on the session's socket to addr.
// It does not wait for the connection to be established.
func (d *Device) OpenSocket(addr netip.AddrPort, mode SocketMode) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	return d.openSocket("", addr.Addr(), addr.Port(), mode)
}

// OpenSocketHost is like OpenSocket but lets the co-processor resolve host.
func (d *Device) OpenSocketHost(host string, port uint16, mode SocketMode) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	return d.openSocket(host, netip.Addr{}, port, mode)
}

func (d *Device) openSocket(host string, addr netip.Addr, port uint16, mode SocketMode) error {
	if d.sock == NoSocket {
		return errNoSocket
	}
	var portb [2]byte
	binary.BigEndian.PutUint16(portb[:], port)
	sock := []byte{d.sock}
	modeb := []byte{byte(mode)}
	var err error
	if host != "" {
		d.debug("socket:open", slog.String("host", host), slog.Int("port", int(port)), slog.String("mode", mode.String()))
		var zero [4]byte
		err = d.commandStatus(wire.CmdStartClientTCP, wire.Len8, []byte(host), zero[:], portb[:], sock, modeb)
	} else {
		if !addr.Is4() {
			return errBadAddr
		}
		d.debug("socket:open", slog.String("addr", addr.String()), slog.Int("port", int(port)), slog.String("mode", mode.String()))
		ip := addr.As4()
		err = d.commandStatus(wire.CmdStartClientTCP, wire.Len8, ip[:], portb[:], sock, modeb)
	}
	if cerr, ok := err.(*CommandError); ok {
		cerr.Err = ErrSocketRefused
	}
	return err
}

// ConnectSocket opens the session's socket to addr and, for stream modes,
// waits up to 3 seconds for the connection to be established.
func (d *Device) ConnectSocket(addr netip.AddrPort, mode SocketMode) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	return d.connectSocket("", addr.Addr(), addr.Port(), mode)
}

// ConnectSocketHost is like ConnectSocket but lets the co-processor resolve
// host.
func (d *Device) ConnectSocketHost(host string, port uint16, mode SocketMode) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	return d.connectSocket(host, netip.Addr{}, port, mode)
}

func (d *Device) connectSocket(host string, addr netip.Addr, port uint16, mode SocketMode) error {
	err := d.openSocket(host, addr, port, mode)
	if err != nil {
		return err
	}
	if mode.IsUDP() {
		return nil
	}
	deadline := d.clock.Now().Add(establishTimeout)
	for {
		state, err := d.socketStatus()
		if err != nil {
			return err
		}
		if state == SocketEstablished {
			d.debug("socket:established", slog.Int("sock", int(d.sock)))
			return nil
		}
		if !d.clock.Now().Before(deadline) {
			return cmdErr(wire.CmdGetClientStateTCP, uint8(state), ErrEstablishTimeout)
		}
		d.clock.Sleep(establishPoll)
	}
}

// SocketStatus queries the state of the session's socket.
func (d *Device) SocketStatus() (SocketState, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return SocketUnknown, err
	}
	return d.socketStatus()
}

func (d *Device) socketStatus() (SocketState, error) {
	if d.sock == NoSocket {
		return SocketUnknown, errNoSocket
	}
	resp, err := d.command(wire.CmdGetClientStateTCP, wire.Len8, wire.Len8, []byte{d.sock})
	if err != nil {
		d.state = SocketUnknown
		return SocketUnknown, err
	}
	d.state = SocketState(resp.Status())
	return d.state, nil
}

// SocketConnected reports whether the session's socket is established.
func (d *Device) SocketConnected() bool {
	state, err := d.SocketStatus()
	return err == nil && state == SocketEstablished
}

// SocketWrite sends b on the session's socket and returns the number of
// bytes the co-processor accepted, which may be less than len(b).
func (d *Device) SocketWrite(b []byte) (int, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return 0, err
	}
	return d.socketWrite(b)
}

func (d *Device) socketWrite(b []byte) (int, error) {
	if d.sock == NoSocket {
		return 0, errNoSocket
	}
	resp, err := d.command(wire.CmdSendDataTCP, wire.Len16, wire.Len8, []byte{d.sock}, b)
	if err != nil {
		return 0, err
	}
	raw := resp.Param(0)
	if len(raw) < 2 {
		return 0, errShortResponse
	}
	sent := int(binary.LittleEndian.Uint16(raw))
	if sent == 0 {
		return 0, cmdErr(wire.CmdSendDataTCP, 0, ErrWriteRejected)
	}
	if sent < len(b) {
		d.debug("socket:partial-write", slog.Int("sent", sent), slog.Int("len", len(b)))
	}
	return sent, nil
}

// SocketAvailable returns the number of bytes ready to be read from the
// session's socket.
func (d *Device) SocketAvailable() (int, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return 0, err
	}
	return d.socketAvailable()
}

func (d *Device) socketAvailable() (int, error) {
	if d.sock == NoSocket {
		return 0, errNoSocket
	}
	resp, err := d.command(wire.CmdAvailDataTCP, wire.Len8, wire.Len8, []byte{d.sock})
	if err != nil {
		return 0, err
	}
	raw := resp.Param(0)
	if len(raw) < 2 {
		return 0, errShortResponse
	}
	return int(binary.LittleEndian.Uint16(raw)), nil
}

// SocketRead reads up to len(b) bytes from the session's socket. It does not
// wait for data; zero bytes may be returned.
func (d *Device) SocketRead(b []byte) (int, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return 0, err
	}
	return d.socketRead(b)
}

func (d *Device) socketRead(b []byte) (int, error) {
	if d.sock == NoSocket {
		return 0, errNoSocket
	}
	size := min(len(b), wire.Len16.MaxParamLen())
	binary.LittleEndian.PutUint16(d.lenbuf[:], uint16(size))
	resp, err := d.command(wire.CmdGetDatabufTCP, wire.Len16, wire.Len16, []byte{d.sock}, d.lenbuf[:])
	if err != nil {
		return 0, err
	}
	data := resp.Param(0)
	if len(data) > size {
		return 0, &wire.FrameError{Reason: "read returned more data than requested"}
	}
	return copy(b, data), nil
}

// SocketClose closes the session's socket.
func (d *Device) SocketClose() error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	return d.socketClose()
}

func (d *Device) socketClose() error {
	if d.sock == NoSocket {
		return errNoSocket
	}
	err := d.commandStatus(wire.CmdStopClientTCP, wire.Len8, []byte{d.sock})
	if err != nil {
		return err
	}
	d.debug("socket:closed", slog.Int("sock", int(d.sock)))
	d.state = SocketClosed
	return nil
}
