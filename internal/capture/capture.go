// Package capture decodes co-processor traffic recorded with a logic
// analyzer into frames.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/soypat/nina/wire"
)

// Direction of a frame on the bus.
type Direction uint8

const (
	Unknown Direction = iota
	// Request frames are written by the host.
	Request
	// Response frames are written by the co-processor.
	Response
)

func (d Direction) String() string {
	switch d {
	case Request:
		return "req"
	case Response:
		return "rsp"
	}
	return "???"
}

var errNoFrame = errors.New("no frame in transaction")

// Tx is the data exchanged during one chip select window.
type Tx struct {
	MOSI  []byte
	MISO  []byte
	Start float64
}

// Frame is a decoded transaction.
type Frame struct {
	// Num is the amount of consecutive identical frames this one stands for.
	Num    int
	Dir    Direction
	Cmd    wire.Command
	Params [][]byte
	// Raw is the frame data starting at the start marker.
	Raw   []byte
	Start float64
	Err   error
}

// Parse decodes the frame carried by tx. Host writes take precedence over
// co-processor writes. Filler bytes preceding the frame are skipped.
func Parse(tx Tx) Frame {
	f := Frame{Num: 1, Start: tx.Start}
	if raw := skipFill(tx.MOSI); len(raw) > 0 && raw[0] == wire.Start {
		f.Dir = Request
		f.Raw = raw
		send, _ := wire.Command(raw[min(1, len(raw)-1)]).Widths()
		cmd, params, err := wire.DecodeRequest(raw, send)
		f.Cmd = cmd
		f.Params = params.Params()
		f.Err = err
		return f
	}
	raw := skipFill(tx.MISO)
	idx := bytes.IndexByte(raw, wire.Start)
	if len(raw) > 0 && raw[0] == wire.Err {
		f.Dir = Response
		f.Raw = raw
		f.Err = errors.New("error response")
		return f
	} else if idx < 0 {
		f.Err = errNoFrame
		return f
	}
	raw = raw[idx:]
	f.Dir = Response
	f.Raw = raw
	if len(raw) < 2 {
		f.Err = errors.New("truncated response")
		return f
	}
	f.Cmd = wire.Command(raw[1] &^ wire.ReplyFlag)
	_, recv := f.Cmd.Widths()
	resp, err := wire.Decode(raw, f.Cmd, -1, recv)
	f.Params = resp.Params()
	f.Err = err
	return f
}

// Empty reports whether f carried no frame at all, as happens for the chip
// select windows of the handshake.
func (f *Frame) Empty() bool { return errors.Is(f.Err, errNoFrame) }

// Equal reports whether f and other carry the same frame.
func (f *Frame) Equal(other *Frame) bool {
	return f.Dir == other.Dir && f.Cmd == other.Cmd && bytes.Equal(f.Raw, other.Raw)
}

// Collapse merges runs of identical consecutive frames into one, counting
// them in Num. Polling loops otherwise flood the output.
func Collapse(frames []Frame) []Frame {
	var out []Frame
	for i := range frames {
		if len(out) > 0 && out[len(out)-1].Equal(&frames[i]) {
			out[len(out)-1].Num += frames[i].Num
			continue
		}
		out = append(out, frames[i])
	}
	return out
}

func (f *Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-22s", f.Dir, f.Cmd.String())
	for i, p := range f.Params {
		fmt.Fprintf(&b, " p%d=%#x", i, p)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, " err=%q", f.Err.Error())
	}
	return b.String()
}

// skipFill strips the idle bytes clocked before a frame.
func skipFill(b []byte) []byte {
	for len(b) > 0 && (b[0] == 0xff || b[0] == wire.Dummy || b[0] == 0) {
		b = b[1:]
	}
	return b
}
