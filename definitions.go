package nina

import (
	"strconv"
	"time"

	"github.com/soypat/seqs"
)

// ConnStatus is the WLAN connection status reported by the co-processor.
type ConnStatus uint8

const (
	StatusIdle            ConnStatus = 0
	StatusNoSSIDAvailable ConnStatus = 1
	StatusScanCompleted   ConnStatus = 2
	StatusConnected       ConnStatus = 3
	StatusConnectFailed   ConnStatus = 4
	StatusConnectionLost  ConnStatus = 5
	StatusDisconnected    ConnStatus = 6
	StatusAPListening     ConnStatus = 7
	StatusAPConnected     ConnStatus = 8
	StatusAPFailed        ConnStatus = 9
	StatusNoModule        ConnStatus = 0xFE
	StatusNoShield        ConnStatus = 0xFF
)

func (s ConnStatus) String() (str string) {
	switch s {
	case StatusIdle:
		str = "idle"
	case StatusNoSSIDAvailable:
		str = "no-ssid"
	case StatusScanCompleted:
		str = "scan-completed"
	case StatusConnected:
		str = "connected"
	case StatusConnectFailed:
		str = "connect-failed"
	case StatusConnectionLost:
		str = "connection-lost"
	case StatusDisconnected:
		str = "disconnected"
	case StatusAPListening:
		str = "ap-listening"
	case StatusAPConnected:
		str = "ap-connected"
	case StatusAPFailed:
		str = "ap-failed"
	case StatusNoModule:
		str = "no-module"
	case StatusNoShield:
		str = "no-shield"
	default:
		str = "status(" + strconv.Itoa(int(s)) + ")"
	}
	return str
}

// SocketState is the TCP state of a co-processor socket. Values mirror the
// states of RFC 9293.
type SocketState uint8

const (
	SocketClosed SocketState = iota
	SocketListen
	SocketSynSent
	SocketSynRcvd
	SocketEstablished
	SocketFinWait1
	SocketFinWait2
	SocketCloseWait
	SocketClosing
	SocketLastAck
	SocketTimeWait
	// SocketUnknown is reported when the state could not be read.
	SocketUnknown SocketState = 0xFF
)

// TCPState returns the equivalent seqs state. SocketUnknown maps to a
// closed state.
func (s SocketState) TCPState() seqs.State {
	switch s {
	case SocketListen:
		return seqs.StateListen
	case SocketSynSent:
		return seqs.StateSynSent
	case SocketSynRcvd:
		return seqs.StateSynRcvd
	case SocketEstablished:
		return seqs.StateEstablished
	case SocketFinWait1:
		return seqs.StateFinWait1
	case SocketFinWait2:
		return seqs.StateFinWait2
	case SocketCloseWait:
		return seqs.StateCloseWait
	case SocketClosing:
		return seqs.StateClosing
	case SocketLastAck:
		return seqs.StateLastAck
	case SocketTimeWait:
		return seqs.StateTimeWait
	}
	return seqs.StateClosed
}

func (s SocketState) String() string {
	if s == SocketUnknown {
		return "unknown"
	} else if s > SocketTimeWait {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return s.TCPState().String()
}

// SocketMode selects the transport protocol of a socket.
type SocketMode uint8

const (
	ModeTCP SocketMode = iota
	ModeUDP
	ModeTLS
	// ModeUDPMulticast is the alternate UDP mode.
	ModeUDPMulticast
)

// IsUDP reports whether m is one of the datagram modes, which have no
// connection to establish.
func (m SocketMode) IsUDP() bool { return m == ModeUDP || m == ModeUDPMulticast }

func (m SocketMode) String() (s string) {
	switch m {
	case ModeTCP:
		s = "tcp"
	case ModeUDP:
		s = "udp"
	case ModeTLS:
		s = "tls"
	case ModeUDPMulticast:
		s = "udp-multicast"
	default:
		s = "mode(" + strconv.Itoa(int(m)) + ")"
	}
	return s
}

// NoSocket marks the absence of an allocated socket.
const NoSocket uint8 = 0xFF

// DefaultI2CAddress is the co-processor's address on an I2C bus.
const DefaultI2CAddress = 0x04

// DefaultConnectRetries is used when Config.ConnectRetries is zero.
const DefaultConnectRetries = 10

const (
	readyTimeout     = 10 * time.Second
	activeTimeout    = time.Second
	markerTimeout    = 100 * time.Millisecond
	establishTimeout = 3 * time.Second
	establishPoll    = 100 * time.Millisecond
	connectRetryWait = time.Second
	resetPulse       = 500 * time.Millisecond
	resetSettle      = time.Second
	softResetSettle  = 1500 * time.Millisecond
	i2cChunk         = 32
)
