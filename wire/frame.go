package wire

import (
	"bytes"
	"errors"
	"io"

	"golang.org/x/exp/constraints"
)

// ScratchSize is the size of the scratch buffer a driver keeps for encoding.
// Frames longer than this are allocated.
const ScratchSize = 256

// MaxParams is the largest parameter count representable in a frame.
const MaxParams = 255

var (
	ErrProtocol       = errors.New("wire: protocol error")
	ErrInvalidCommand = errors.New("wire: invalid command opcode")
	ErrTooManyParams  = errors.New("wire: too many parameters")
	ErrParamTooLong   = errors.New("wire: parameter too long for length width")
	ErrLenWidth       = errors.New("wire: invalid length width")
)

// FrameError describes a malformed or unexpected frame. All FrameErrors
// match ErrProtocol with errors.Is.
type FrameError struct {
	Reason string
	Got    byte
	Want   byte
}

func (e *FrameError) Error() string {
	msg := "wire: " + e.Reason
	if e.Got != e.Want {
		msg += " got=" + hex8(e.Got) + " want=" + hex8(e.Want)
	}
	return msg
}

func (e *FrameError) Is(target error) bool { return target == ErrProtocol }

// FrameLen returns the padded length of a frame carrying params with the
// given length width.
func FrameLen(width LenWidth, params ...[]byte) int {
	n := 4 // start, opcode, count, end.
	for _, p := range params {
		n += int(width) + len(p)
	}
	return alignup(n, 4)
}

// Encode writes the frame for cmd into scratch when it fits and into a newly
// allocated buffer when it does not. The returned slice is the frame
// including zero padding.
func Encode(scratch []byte, cmd Command, width LenWidth, params ...[]byte) ([]byte, error) {
	if !cmd.IsValid() {
		return nil, ErrInvalidCommand
	}
	if !width.valid() {
		return nil, ErrLenWidth
	}
	if len(params) > MaxParams {
		return nil, ErrTooManyParams
	}
	for _, p := range params {
		if len(p) > width.MaxParamLen() {
			return nil, ErrParamTooLong
		}
	}
	n := FrameLen(width, params...)
	var frame []byte
	if n <= len(scratch) {
		frame = scratch[:n]
	} else {
		frame = make([]byte, n)
	}
	frame[0] = Start
	frame[1] = byte(cmd)
	frame[2] = byte(len(params))
	off := 3
	for _, p := range params {
		if width == Len16 {
			frame[off] = byte(len(p) >> 8)
			off++
		}
		frame[off] = byte(len(p))
		off++
		off += copy(frame[off:], p)
	}
	frame[off] = End
	off++
	clear(frame[off:])
	return frame, nil
}

// Source is what frames are streamed from.
type Source interface {
	io.Reader
	io.ByteReader
}

// ReadResponse decodes the remainder of a response frame to cmd from src,
// the start marker having been consumed already. When count is negative the
// advertised parameter count is not checked. resp is reset before decoding
// and left empty on error.
func ReadResponse(src Source, resp *Response, cmd Command, count int, width LenWidth) error {
	resp.Reset()
	op, err := src.ReadByte()
	if err != nil {
		return truncated(err)
	}
	if op != cmd.Reply() {
		return &FrameError{Reason: "unexpected reply opcode", Got: op, Want: cmd.Reply()}
	}
	err = readBody(src, resp, count, width)
	if err != nil {
		resp.Reset()
	}
	return err
}

// Decode parses a complete response frame to cmd. Trailing padding is ignored.
func Decode(frame []byte, cmd Command, count int, width LenWidth) (Response, error) {
	var resp Response
	src := bytes.NewReader(frame)
	if err := expectStart(src); err != nil {
		return Response{}, err
	}
	err := ReadResponse(src, &resp, cmd, count, width)
	return resp, err
}

// DecodeRequest parses a complete request frame as produced by Encode and
// returns its opcode and parameters.
func DecodeRequest(frame []byte, width LenWidth) (Command, Response, error) {
	cmd, resp, _, err := decodeRequest(frame, width)
	return cmd, resp, err
}

// RequestLen returns the unpadded length of the request frame at the start
// of b, or an error if b does not hold a complete frame yet.
func RequestLen(b []byte, width LenWidth) (int, error) {
	_, _, n, err := decodeRequest(b, width)
	return n, err
}

func decodeRequest(frame []byte, width LenWidth) (Command, Response, int, error) {
	var resp Response
	src := bytes.NewReader(frame)
	if err := expectStart(src); err != nil {
		return 0, Response{}, 0, err
	}
	op, err := src.ReadByte()
	if err != nil {
		return 0, Response{}, 0, truncated(err)
	}
	cmd := Command(op)
	if !cmd.IsValid() {
		return cmd, Response{}, 0, &FrameError{Reason: "invalid request opcode", Got: op}
	}
	err = readBody(src, &resp, -1, width)
	if err != nil {
		return cmd, Response{}, 0, err
	}
	return cmd, resp, len(frame) - src.Len(), nil
}

func expectStart(src Source) error {
	b, err := src.ReadByte()
	if err != nil {
		return truncated(err)
	}
	if b != Start {
		return &FrameError{Reason: "missing start marker", Got: b, Want: Start}
	}
	return nil
}

func readBody(src Source, resp *Response, count int, width LenWidth) error {
	if !width.valid() {
		return ErrLenWidth
	}
	n, err := src.ReadByte()
	if err != nil {
		return truncated(err)
	}
	if count >= 0 && int(n) != count {
		return &FrameError{Reason: "unexpected parameter count", Got: n, Want: byte(count)}
	}
	var lenbuf [2]byte
	for i := 0; i < int(n); i++ {
		_, err = io.ReadFull(src, lenbuf[:width])
		if err != nil {
			return truncated(err)
		}
		plen := int(lenbuf[0])
		if width == Len16 {
			plen = plen<<8 | int(lenbuf[1])
		}
		dst := resp.grow(plen)
		_, err = io.ReadFull(src, dst)
		if err != nil {
			return truncated(err)
		}
	}
	end, err := src.ReadByte()
	if err != nil {
		return truncated(err)
	}
	if end != End {
		return &FrameError{Reason: "missing end marker", Got: end, Want: End}
	}
	return nil
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &FrameError{Reason: "truncated frame"}
	}
	return err
}

func alignup[T constraints.Integer](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

func hex8(b byte) string {
	const hextable = "0123456789abcdef"
	return "0x" + string([]byte{hextable[b>>4], hextable[b&0xf]})
}
