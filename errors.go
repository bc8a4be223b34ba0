package nina

import (
	"errors"
	"strconv"

	"github.com/soypat/nina/wire"
)

var (
	// ErrTransportTimeout is returned when the co-processor does not signal
	// ready or active within the handshake bounds.
	ErrTransportTimeout = errors.New("nina: transport timeout")
	// ErrErrorResponse is returned when the co-processor answers with the
	// error marker instead of a frame.
	ErrErrorResponse = &wire.FrameError{Reason: "co-processor error response", Got: wire.Err, Want: wire.Start}

	errNoTransport   = errors.New("nina: no transport configured")
	errBothTransport = errors.New("nina: SPI and I2C transports are mutually exclusive")
	errNoPins        = errors.New("nina: SPI transport requires chip-select and ready pins")
	errUninit        = errors.New("nina: device not initialized")
	errNoSocket      = errors.New("nina: no socket allocated")
	errBadAddr       = errors.New("nina: destination must be an IPv4 address")
	errShortResponse = &wire.FrameError{Reason: "response parameter too short"}
)

// Application level failures reported by the co-processor. Returned wrapped
// in a *CommandError.
var (
	ErrConnectFailed    = errors.New("connect failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrDisconnected     = errors.New("disconnected")
	ErrNoSSID           = errors.New("ssid not available")
	ErrConnectUnknown   = errors.New("connect ended in unexpected state")
	ErrHostNotFound     = errors.New("host not found")
	ErrNoSocket         = errors.New("no socket available")
	ErrSocketRefused    = errors.New("socket open refused")
	ErrEstablishTimeout = errors.New("socket not established in time")
	ErrWriteRejected    = errors.New("socket write rejected")
	ErrRejected         = errors.New("command rejected")
)

// CommandError is returned when the co-processor completes a command
// exchange correctly but reports a failure.
type CommandError struct {
	Cmd    wire.Command
	Status uint8
	Err    error
}

func (e *CommandError) Error() string {
	return "nina: " + e.Cmd.String() + ": " + e.Err.Error() + " (status=" + strconv.Itoa(int(e.Status)) + ")"
}

func (e *CommandError) Unwrap() error { return e.Err }

func cmdErr(cmd wire.Command, status uint8, err error) error {
	return &CommandError{Cmd: cmd, Status: status, Err: err}
}

// errjoin returns an error that wraps the given errors.
// Any nil error values are discarded.
// errjoin returns nil if every value in errs is nil.
func errjoin(errs ...error) error {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	e := &joinError{
		errs: make([]error, 0, n),
	}
	for _, err := range errs {
		if err != nil {
			e.errs = append(e.errs, err)
		}
	}
	return e
}

type joinError struct {
	errs []error
}

func (e *joinError) Error() string {
	var b []byte
	for i, err := range e.errs {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, err.Error()...)
	}
	return string(b)
}

func (e *joinError) Unwrap() []error {
	return e.errs
}
