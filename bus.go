package nina

import (
	"io"
	"time"

	"github.com/soypat/nina/wire"
	"tinygo.org/x/drivers"
)

// OutputPin drives a digital output line, high when level is true.
type OutputPin func(level bool)

// InputPin samples a digital input line, true when high.
type InputPin func() bool

// bus moves bytes to and from the co-processor. Chip-select and handshake
// lines are handled by the Device.
type bus interface {
	wire.Source
	write(b []byte) error
}

const fillByte = 0xFF

type spibus struct {
	spi drivers.SPI
	ff  [32]byte
}

func newSPIBus(spi drivers.SPI) *spibus {
	b := &spibus{spi: spi}
	for i := range b.ff {
		b.ff[i] = fillByte
	}
	return b
}

func (b *spibus) write(buf []byte) error {
	return b.spi.Tx(buf, nil)
}

// Read clocks out fill bytes while reading len(buf) bytes.
func (b *spibus) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		chunk := min(len(buf)-n, len(b.ff))
		err := b.spi.Tx(b.ff[:chunk], buf[n:n+chunk])
		if err != nil {
			return n, err
		}
		n += chunk
	}
	return n, nil
}

func (b *spibus) ReadByte() (byte, error) {
	return b.spi.Transfer(fillByte)
}

type i2cbus struct {
	i2c   drivers.I2C
	addr  uint16
	sleep func(time.Duration)
	rbuf  [1]byte
}

// write sends buf in chunks the co-processor's I2C receiver can absorb,
// yielding between chunks.
func (b *i2cbus) write(buf []byte) error {
	for len(buf) > 0 {
		chunk := min(len(buf), i2cChunk)
		err := b.i2c.Tx(b.addr, buf[:chunk], nil)
		if err != nil {
			return err
		}
		buf = buf[chunk:]
		if len(buf) > 0 {
			b.sleep(time.Millisecond)
		}
	}
	return nil
}

func (b *i2cbus) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	err := b.i2c.Tx(b.addr, nil, buf)
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (b *i2cbus) ReadByte() (byte, error) {
	_, err := b.Read(b.rbuf[:])
	return b.rbuf[0], err
}

var (
	_ io.ByteReader = (*spibus)(nil)
	_ io.ByteReader = (*i2cbus)(nil)
)
