package nina

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"
)

const (
	connPoll       = 10 * time.Millisecond
	maxWriteChunk  = 4000
	defaultTimeout = 5 * time.Second
)

// Conn is a byte stream over one co-processor socket. Several Conns may share
// a Device; each exchange selects the Conn's socket before talking to the
// co-processor.
type Conn struct {
	d           *Device
	sock        uint8
	mode        SocketMode
	readTimeout time.Duration
	closed      bool
}

var _ io.ReadWriteCloser = (*Conn)(nil)

// Dial allocates a socket and connects it to addr.
func (d *Device) Dial(addr netip.AddrPort, mode SocketMode) (*Conn, error) {
	return d.dial("", addr.Addr(), addr.Port(), mode)
}

// DialHost allocates a socket and connects it to host, which is resolved by
// the co-processor.
func (d *Device) DialHost(host string, port uint16, mode SocketMode) (*Conn, error) {
	return d.dial(host, netip.Addr{}, port, mode)
}

func (d *Device) dial(host string, addr netip.Addr, port uint16, mode SocketMode) (*Conn, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return nil, err
	}
	sock, err := d.allocateSocket()
	if err != nil {
		return nil, err
	}
	err = d.connectSocket(host, addr, port, mode)
	if err != nil {
		d.socketClose()
		return nil, err
	}
	d.info("dial:connected", slog.Int("sock", int(sock)), slog.String("mode", mode.String()))
	return &Conn{d: d, sock: sock, mode: mode, readTimeout: defaultTimeout}, nil
}

// SetReadTimeout sets how long Read waits for data. Zero waits forever.
func (c *Conn) SetReadTimeout(timeout time.Duration) { c.readTimeout = timeout }

// Socket returns the co-processor socket number of c.
func (c *Conn) Socket() uint8 { return c.sock }

// Read waits for data to be available and reads it. It returns io.EOF once
// the peer has closed the connection and no data remains.
func (c *Conn) Read(b []byte) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	} else if len(b) == 0 {
		return 0, nil
	}
	d := c.d
	var deadline time.Time
	for {
		n, state, err := c.tryRead(b)
		if err != nil || n > 0 {
			return n, err
		}
		if state != SocketEstablished && !c.mode.IsUDP() {
			return 0, io.EOF
		}
		now := d.clock.Now()
		if deadline.IsZero() {
			deadline = now.Add(c.readTimeout)
		} else if c.readTimeout > 0 && !now.Before(deadline) {
			return 0, os.ErrDeadlineExceeded
		}
		d.clock.Sleep(connPoll)
	}
}

// tryRead reads available data. When there is none it returns the socket
// state instead.
func (c *Conn) tryRead(b []byte) (int, SocketState, error) {
	d := c.d
	err := d.acquire()
	defer d.release()
	if err != nil {
		return 0, SocketUnknown, err
	}
	d.sock = c.sock
	avail, err := d.socketAvailable()
	if err != nil {
		return 0, SocketUnknown, err
	}
	if avail > 0 {
		n, err := d.socketRead(b[:min(len(b), avail)])
		return n, SocketEstablished, err
	}
	if c.mode.IsUDP() {
		return 0, SocketEstablished, nil
	}
	state, err := d.socketStatus()
	return 0, state, err
}

// Write sends all of b, retrying when the co-processor accepts only part of
// it.
func (c *Conn) Write(b []byte) (n int, err error) {
	if c.closed {
		return 0, net.ErrClosed
	}
	var sent int
	for n < len(b) {
		chunk := b[n:min(len(b), n+maxWriteChunk)]
		sent, err = c.writeChunk(chunk)
		n += sent
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *Conn) writeChunk(chunk []byte) (int, error) {
	d := c.d
	err := d.acquire()
	defer d.release()
	if err != nil {
		return 0, err
	}
	d.sock = c.sock
	return d.socketWrite(chunk)
}

// Close closes the socket. Close on a closed Conn returns net.ErrClosed.
func (c *Conn) Close() error {
	if c.closed {
		return net.ErrClosed
	}
	d := c.d
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	c.closed = true
	d.sock = c.sock
	err = d.socketClose()
	if errors.Is(err, ErrRejected) {
		d.warn("conn:close-rejected", slog.Int("sock", int(c.sock)))
	}
	return err
}
