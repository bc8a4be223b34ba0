package nina

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/nina/wire"
	"tinygo.org/x/drivers"
)

// Clock is the time source the Device polls and waits with.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type sysClock struct{}

func (sysClock) Now() time.Time        { return time.Now() }
func (sysClock) Sleep(d time.Duration) { time.Sleep(d) }

// Config configures a Device. Exactly one of SPI or I2C must be set.
type Config struct {
	// SPI transport. Requires CS and Ready.
	SPI drivers.SPI
	// I2C transport.
	I2C drivers.I2C
	// I2CAddress defaults to DefaultI2CAddress.
	I2CAddress uint16
	// CS is the active-low chip select.
	CS OutputPin
	// Ready is the handshake line. Low means ready for a transaction,
	// high after chip select means active.
	Ready InputPin
	// Reset is the active-low reset line. When nil the co-processor is
	// reset with a soft reset command.
	Reset OutputPin
	// Network joined by Join.
	SSID       string
	Passphrase string
	// ConnectRetries is the number of status polls done by Connect.
	ConnectRetries uint8
	Logger         *slog.Logger
	// Clock defaults to the system clock.
	Clock Clock
}

// Device is a session with an ESP32 co-processor running the NINA
// firmware. A Device must be initialized with Init before use.
type Device struct {
	mu            sync.Mutex
	bus           bus
	i2c           bool
	cs            OutputPin
	ready         InputPin
	reset         OutputPin
	clock         Clock
	logger        *slog.Logger
	_traceenabled bool
	ssid          string
	pass          string
	retries       uint8
	// Last observed states. Never used to decide without a fresh query.
	conn  ConnStatus
	sock  uint8
	state SocketState
	resp  wire.Response
	// scratch holds encoded frames. Longer frames are allocated.
	scratch [wire.ScratchSize]byte
	lenbuf  [2]byte
}

// Init validates cfg, configures the control lines and resets the
// co-processor.
func (d *Device) Init(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case cfg.SPI == nil && cfg.I2C == nil:
		return errNoTransport
	case cfg.SPI != nil && cfg.I2C != nil:
		return errBothTransport
	case cfg.SPI != nil && (cfg.CS == nil || cfg.Ready == nil):
		return errNoPins
	}
	d.logger = cfg.Logger
	d._traceenabled = d.logger != nil && d.logger.Handler().Enabled(context.Background(), levelTrace)
	d.clock = cfg.Clock
	if d.clock == nil {
		d.clock = sysClock{}
	}
	d.retries = cfg.ConnectRetries
	if d.retries == 0 {
		d.retries = DefaultConnectRetries
	}
	d.ssid = cfg.SSID
	d.pass = cfg.Passphrase
	d.reset = cfg.Reset
	if cfg.SPI != nil {
		d.i2c = false
		d.bus = newSPIBus(cfg.SPI)
		d.cs = cfg.CS
		d.ready = cfg.Ready
	} else {
		addr := cfg.I2CAddress
		if addr == 0 {
			addr = DefaultI2CAddress
		}
		d.i2c = true
		d.bus = &i2cbus{i2c: cfg.I2C, addr: addr, sleep: d.clock.Sleep}
		d.cs = nil
		d.ready = nil
	}
	d.csEnable(false)
	d.info("Init:start", slog.Bool("i2c", d.i2c), slog.Bool("hwreset", d.reset != nil))
	err := d.resetModule()
	if err != nil {
		d.bus = nil
		return errjoin(errors.New("nina: reset failed"), err)
	}
	d.conn = StatusIdle
	d.state = SocketClosed
	d.sock = NoSocket
	return nil
}

// Deinit forgets all session state. The co-processor is left untouched.
func (d *Device) Deinit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.debug("Deinit")
	d.conn = StatusIdle
	d.state = SocketClosed
	d.sock = NoSocket
	d.resp.Reset()
	d.bus = nil
}

// Reset restarts the co-processor. All sockets and the WLAN association are
// lost.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bus == nil {
		return errUninit
	}
	return d.resetModule()
}

func (d *Device) resetModule() error {
	d.csEnable(false)
	d.conn = StatusIdle
	d.state = SocketClosed
	d.sock = NoSocket
	if d.reset != nil {
		d.debug("reset:hard")
		d.reset(false)
		d.clock.Sleep(resetPulse)
		d.reset(true)
		d.clock.Sleep(resetSettle)
		return nil
	}
	d.debug("reset:soft")
	err := d.sendCommand(wire.CmdSoftReset, wire.Len8)
	d.clock.Sleep(softResetSettle)
	return err
}

// Socket returns the socket slot of the session, NoSocket if none.
func (d *Device) Socket() uint8 { return d.sock }

// LastStatus returns the last WLAN status observed without querying the
// co-processor.
func (d *Device) LastStatus() ConnStatus { return d.conn }

// sendCommand encodes and writes a request frame.
func (d *Device) sendCommand(cmd wire.Command, width wire.LenWidth, params ...[]byte) error {
	frame, err := wire.Encode(d.scratch[:], cmd, width, params...)
	if err != nil {
		return err
	}
	inScratch := len(frame) <= len(d.scratch)
	defer func() {
		if inScratch {
			clear(d.scratch[:len(frame)])
		}
	}()
	d.trace("send", slog.String("cmd", cmd.String()), d.hexattr("frame", frame))
	err = d.selectDevice()
	if err != nil {
		return err
	}
	defer d.deselect()
	return d.bus.write(frame)
}

// waitResponse reads the response to cmd into d.resp. A negative count
// accepts any advertised parameter count.
func (d *Device) waitResponse(cmd wire.Command, count int, width wire.LenWidth) (*wire.Response, error) {
	err := d.selectDevice()
	if err != nil {
		return nil, err
	}
	defer d.deselect()
	if d.i2c {
		err = d.waitMarker(wire.Dummy)
		if err != nil {
			return nil, err
		}
	}
	err = d.waitMarker(wire.Start)
	if err != nil {
		return nil, err
	}
	err = wire.ReadResponse(d.bus, &d.resp, cmd, count, width)
	if err != nil {
		return nil, err
	}
	d.trace("recv", slog.String("cmd", cmd.String()), slog.Int("nparams", d.resp.Len()))
	return &d.resp, nil
}

// command sends cmd and waits for a single parameter response.
func (d *Device) command(cmd wire.Command, sendWidth, recvWidth wire.LenWidth, params ...[]byte) (*wire.Response, error) {
	return d.commandN(cmd, 1, sendWidth, recvWidth, params...)
}

func (d *Device) commandN(cmd wire.Command, count int, sendWidth, recvWidth wire.LenWidth, params ...[]byte) (*wire.Response, error) {
	if d.bus == nil {
		return nil, errUninit
	}
	err := d.sendCommand(cmd, sendWidth, params...)
	if err != nil {
		d.debug("command:send-failed", slog.String("cmd", cmd.String()), slog.String("err", err.Error()))
		return nil, err
	}
	resp, err := d.waitResponse(cmd, count, recvWidth)
	if err != nil {
		d.debug("command:response-failed", slog.String("cmd", cmd.String()), slog.String("err", err.Error()))
		return nil, err
	}
	return resp, nil
}

// commandStatus runs cmd and checks the first response byte is 1.
func (d *Device) commandStatus(cmd wire.Command, sendWidth wire.LenWidth, params ...[]byte) error {
	resp, err := d.command(cmd, sendWidth, wire.Len8, params...)
	if err != nil {
		return err
	}
	if status := resp.Status(); status != 1 {
		return cmdErr(cmd, status, ErrRejected)
	}
	return nil
}

// acquire locks the device. The lock is held even when an error is
// returned so callers always release.
func (d *Device) acquire() error {
	d.mu.Lock()
	if d.bus == nil {
		return errUninit
	}
	return nil
}

func (d *Device) release() {
	d.mu.Unlock()
}
