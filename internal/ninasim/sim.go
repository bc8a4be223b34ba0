// Package ninasim simulates an ESP32 running the NINA firmware on the far
// side of an SPI or I2C bus. It answers frames the way the firmware does and
// keeps an echo buffer per socket.
package ninasim

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/soypat/nina/wire"
)

// Handler answers a request with the parameters of the response.
type Handler func(req *wire.Response) [][]byte

// Sim is a simulated co-processor. The zero value is not usable, use New.
type Sim struct {
	// Handlers override the default behaviour per command.
	Handlers map[wire.Command]Handler
	// Stuck holds the handshake line high so the co-processor never reports
	// ready.
	Stuck bool
	// Lead is the number of filler bytes clocked out before a response.
	Lead int
	// ErrorOn answers the given commands with the error marker.
	ErrorOn map[wire.Command]bool

	// ConnScript is returned by successive status queries. The last value
	// repeats.
	ConnScript []byte
	// HostStatus is the result of a host lookup request.
	HostStatus byte
	HostAddr   [4]byte
	// FreeSocket is handed out on socket allocation.
	FreeSocket byte
	// StateScript is returned by successive socket state queries. When
	// empty the simulated socket state is returned.
	StateScript []byte
	// WriteLimit caps bytes accepted per write. Zero accepts all.
	WriteLimit int
	// ReadLimit caps bytes returned per read. Zero returns all requested.
	ReadLimit int
	Firmware  string
	Epoch     uint32
	MAC       [6]byte
	SSID      string
	RSSI      int32
	// Cert and Key hold uploaded TLS material.
	Cert []byte
	Key  []byte

	// Opened records the parameters of socket open requests.
	Opened [][][]byte

	sockets  map[byte]*socket
	counts   map[wire.Command]int
	selected bool
	rx       []byte
	tx       []byte
	nconn    int
	nstate   int
	i2c      bool
}

type socket struct {
	state byte
	buf   []byte
}

// New returns a co-processor that is connected to a network and resolves
// every host to 93.184.216.34.
func New() *Sim {
	return &Sim{
		ConnScript: []byte{3},
		HostStatus: 1,
		HostAddr:   [4]byte{93, 184, 216, 34},
		Firmware:   "1.7.4",
		Epoch:      1700000000,
		MAC:        [6]byte{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03},
		SSID:       "sim",
		RSSI:       -42,
		Handlers:   make(map[wire.Command]Handler),
		ErrorOn:    make(map[wire.Command]bool),
		sockets:    make(map[byte]*socket),
		counts:     make(map[wire.Command]int),
	}
}

// Count returns how many times cmd has been received.
func (s *Sim) Count(cmd wire.Command) int { return s.counts[cmd] }

// SocketState returns the simulated state of socket sock.
func (s *Sim) SocketState(sock byte) byte { return s.sock(sock).state }

// SetSocketState forces the state of socket sock.
func (s *Sim) SetSocketState(sock, state byte) { s.sock(sock).state = state }

// Ready is the handshake line. It is low while idle and high while selected.
func (s *Sim) Ready() bool {
	return s.Stuck || s.selected
}

// CS is the active-low chip select line.
func (s *Sim) CS(level bool) {
	selected := !level
	if s.selected && !selected {
		if len(s.rx) > 0 {
			s.process(s.rx)
			s.rx = s.rx[:0]
		} else {
			s.tx = s.tx[:0]
		}
	}
	s.selected = selected
}

func (s *Sim) process(frame []byte) {
	if len(frame) < 2 {
		return
	}
	cmd := wire.Command(frame[1])
	send, recv := cmd.Widths()
	_, req, err := wire.DecodeRequest(frame, send)
	if err != nil {
		s.tx = append(s.tx[:0], wire.Err)
		return
	}
	s.counts[cmd]++
	s.tx = s.tx[:0]
	if cmd == wire.CmdSoftReset {
		s.sockets = make(map[byte]*socket)
		return
	}
	if s.i2c {
		s.tx = append(s.tx, wire.Dummy)
	}
	for i := 0; i < s.Lead; i++ {
		s.tx = append(s.tx, 0xFF)
	}
	if s.ErrorOn[cmd] {
		s.tx = append(s.tx, wire.Err)
		return
	}
	h := s.Handlers[cmd]
	if h == nil {
		h = s.defaultHandler(cmd)
	}
	params := h(&req)
	resp, err := wire.Encode(nil, cmd, recv, params...)
	if err != nil {
		panic(err)
	}
	resp[1] = cmd.Reply()
	s.tx = append(s.tx, resp...)
}

func (s *Sim) next() byte {
	if len(s.tx) == 0 {
		return 0xFF
	}
	b := s.tx[0]
	s.tx = s.tx[1:]
	return b
}

func (s *Sim) sock(n byte) *socket {
	sk := s.sockets[n]
	if sk == nil {
		sk = &socket{}
		s.sockets[n] = sk
	}
	return sk
}

func one(b ...byte) [][]byte { return [][]byte{b} }

func le16(n int) [][]byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(n))
	return [][]byte{b[:]}
}

func (s *Sim) defaultHandler(cmd wire.Command) Handler {
	switch cmd {
	case wire.CmdGetFwVersion:
		return func(*wire.Response) [][]byte { return [][]byte{[]byte(s.Firmware)} }
	case wire.CmdSetNet, wire.CmdSetPassphrase:
		return func(req *wire.Response) [][]byte {
			s.SSID = string(req.Param(0))
			return one(1)
		}
	case wire.CmdSetDebug, wire.CmdDisconnect:
		return func(*wire.Response) [][]byte { return one(1) }
	case wire.CmdGetConnStatus:
		return func(*wire.Response) [][]byte {
			i := min(s.nconn, len(s.ConnScript)-1)
			s.nconn++
			return one(s.ConnScript[i])
		}
	case wire.CmdReqHostByName:
		return func(*wire.Response) [][]byte { return one(s.HostStatus) }
	case wire.CmdGetHostByName:
		return func(*wire.Response) [][]byte { return [][]byte{s.HostAddr[:]} }
	case wire.CmdGetSocket:
		return func(*wire.Response) [][]byte { return one(s.FreeSocket) }
	case wire.CmdStartClientTCP:
		return func(req *wire.Response) [][]byte {
			s.Opened = append(s.Opened, req.Params())
			sock := req.Param(req.Len() - 2)[0]
			s.sock(sock).state = 4 // Established.
			return one(1)
		}
	case wire.CmdGetClientStateTCP:
		return func(req *wire.Response) [][]byte {
			if len(s.StateScript) > 0 {
				i := min(s.nstate, len(s.StateScript)-1)
				s.nstate++
				return one(s.StateScript[i])
			}
			return one(s.sock(req.Status()).state)
		}
	case wire.CmdSendDataTCP:
		return func(req *wire.Response) [][]byte {
			sk := s.sock(req.Status())
			data := req.Param(1)
			if s.WriteLimit > 0 && len(data) > s.WriteLimit {
				data = data[:s.WriteLimit]
			}
			sk.buf = append(sk.buf, data...)
			return le16(len(data))
		}
	case wire.CmdAvailDataTCP:
		return func(req *wire.Response) [][]byte { return le16(len(s.sock(req.Status()).buf)) }
	case wire.CmdGetDatabufTCP:
		return func(req *wire.Response) [][]byte {
			sk := s.sock(req.Status())
			n := int(binary.LittleEndian.Uint16(req.Param(1)))
			n = min(n, len(sk.buf))
			if s.ReadLimit > 0 {
				n = min(n, s.ReadLimit)
			}
			data := append([]byte{}, sk.buf[:n]...)
			sk.buf = sk.buf[n:]
			return [][]byte{data}
		}
	case wire.CmdStopClientTCP:
		return func(req *wire.Response) [][]byte {
			s.sock(req.Status()).state = 0
			return one(1)
		}
	case wire.CmdGetTime:
		return func(*wire.Response) [][]byte {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], s.Epoch)
			return [][]byte{b[:]}
		}
	case wire.CmdSetClientCert:
		return func(req *wire.Response) [][]byte {
			s.Cert = append([]byte{}, req.Param(0)...)
			return one(1)
		}
	case wire.CmdSetCertKey:
		return func(req *wire.Response) [][]byte {
			s.Key = append([]byte{}, req.Param(0)...)
			return one(1)
		}
	case wire.CmdGetMACAddr:
		return func(*wire.Response) [][]byte {
			var rev [6]byte
			for i := range rev {
				rev[i] = s.MAC[5-i]
			}
			return [][]byte{rev[:]}
		}
	case wire.CmdGetCurrSSID:
		return func(*wire.Response) [][]byte { return [][]byte{[]byte(s.SSID)} }
	case wire.CmdGetCurrRSSI:
		return func(*wire.Response) [][]byte {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(s.RSSI))
			return [][]byte{b[:]}
		}
	case wire.CmdGetIPAddr:
		return func(*wire.Response) [][]byte {
			return [][]byte{{192, 168, 1, 50}, {255, 255, 255, 0}, {192, 168, 1, 1}}
		}
	}
	return func(*wire.Response) [][]byte { return one(0) }
}

// SPI returns the simulated co-processor's SPI port.
func (s *Sim) SPI() *SPIPort { return &SPIPort{s: s} }

// SPIPort implements drivers.SPI.
type SPIPort struct{ s *Sim }

// Tx writes w to the co-processor when r is nil. Otherwise it reads len(r)
// response bytes and w is filler.
func (p *SPIPort) Tx(w, r []byte) error {
	if !p.s.selected {
		return errNotSelected
	}
	if r == nil {
		p.s.rx = append(p.s.rx, w...)
		return nil
	}
	for i := range r {
		r[i] = p.s.next()
	}
	return nil
}

func (p *SPIPort) Transfer(b byte) (byte, error) {
	if !p.s.selected {
		return 0, errNotSelected
	}
	return p.s.next(), nil
}

var (
	errNotSelected = errors.New("ninasim: transfer without chip select")
	errBadAddress  = errors.New("ninasim: wrong I2C address")
)

// I2C returns the simulated co-processor's I2C port, answering at addr.
func (s *Sim) I2C(addr uint16) *I2CPort {
	s.i2c = true
	return &I2CPort{s: s, addr: addr}
}

// I2CPort implements drivers.I2C.
type I2CPort struct {
	s    *Sim
	addr uint16
	// Chunks records the size of every write.
	Chunks []int
}

func (p *I2CPort) Tx(addr uint16, w, r []byte) error {
	if addr != p.addr {
		return errBadAddress
	}
	s := p.s
	if len(w) > 0 {
		p.Chunks = append(p.Chunks, len(w))
		s.rx = append(s.rx, w...)
		for {
			for len(s.rx) > 0 && s.rx[0] == 0 {
				s.rx = s.rx[1:] // Padding of the previous frame.
			}
			if len(s.rx) < 2 {
				break
			}
			n, err := wire.RequestLen(s.rx, reqWidth(s.rx[1]))
			if err != nil {
				break
			}
			s.process(s.rx[:n])
			s.rx = s.rx[n:]
		}
	}
	for i := range r {
		r[i] = s.next()
	}
	return nil
}

func (p *I2CPort) ReadRegister(addr uint8, r uint8, buf []byte) error {
	return p.Tx(uint16(addr), []byte{r}, buf)
}

func (p *I2CPort) WriteRegister(addr uint8, r uint8, buf []byte) error {
	return p.Tx(uint16(addr), append([]byte{r}, buf...), nil)
}

// Clock is a simulated clock. Time only advances on Sleep and by Tick on
// every call to Now.
type Clock struct {
	T      time.Time
	Tick   time.Duration
	Sleeps []time.Duration
}

// NewClock returns a clock that advances 10µs per reading.
func NewClock() *Clock {
	return &Clock{T: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Tick: 10 * time.Microsecond}
}

func (c *Clock) Now() time.Time {
	c.T = c.T.Add(c.Tick)
	return c.T
}

func (c *Clock) Sleep(d time.Duration) {
	c.Sleeps = append(c.Sleeps, d)
	c.T = c.T.Add(d)
}

// SleepCount returns how many sleeps of exactly d were made.
func (c *Clock) SleepCount(d time.Duration) (n int) {
	for _, s := range c.Sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// Reset forgets recorded sleeps.
func (c *Clock) Reset() { c.Sleeps = c.Sleeps[:0] }

func reqWidth(op byte) wire.LenWidth {
	send, _ := wire.Command(op).Widths()
	return send
}
