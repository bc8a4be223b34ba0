package wire

import "strconv"

// Frame markers and sentinels. None of these are valid command opcodes.
const (
	Start byte = 0xE0
	End   byte = 0xEE
	Err   byte = 0xEF
	// Dummy is the first byte of every I2C response and the filler clocked
	// out by the co-processor when it has nothing to say.
	Dummy byte = 0x55
	// ReplyFlag is OR'ed onto the opcode of the command being answered.
	ReplyFlag byte = 0x80
)

// Command is a co-processor opcode.
type Command uint8

const (
	CmdSetNet            Command = 0x10
	CmdSetPassphrase     Command = 0x11
	CmdSetDebug          Command = 0x1A
	CmdGetConnStatus     Command = 0x20
	CmdGetIPAddr         Command = 0x21
	CmdGetMACAddr        Command = 0x22
	CmdGetCurrSSID       Command = 0x23
	CmdGetCurrRSSI       Command = 0x25
	CmdDataSentTCP       Command = 0x2A
	CmdAvailDataTCP      Command = 0x2B
	CmdGetDataTCP        Command = 0x2C
	CmdStartClientTCP    Command = 0x2D
	CmdStopClientTCP     Command = 0x2E
	CmdGetClientStateTCP Command = 0x2F
	CmdDisconnect        Command = 0x30
	CmdReqHostByName     Command = 0x34
	CmdGetHostByName     Command = 0x35
	CmdGetFwVersion      Command = 0x37
	CmdGetTime           Command = 0x3B
	CmdGetSocket         Command = 0x3F
	CmdSetClientCert     Command = 0x40
	CmdSetCertKey        Command = 0x41
	CmdSendDataTCP       Command = 0x44
	CmdGetDatabufTCP     Command = 0x45
	CmdSoftReset         Command = 0x54
)

// IsValid reports whether c can be sent as an opcode. Opcodes with the reply
// flag set and the frame sentinels are rejected.
func (c Command) IsValid() bool {
	return byte(c)&ReplyFlag == 0 && byte(c) != Dummy
}

// Reply returns the opcode byte the co-processor answers c with.
func (c Command) Reply() byte { return byte(c) | ReplyFlag }

func (c Command) String() string {
	if s, ok := cmdNames[c]; ok {
		return s
	}
	return "cmd(" + strconv.Itoa(int(c)) + ")"
}

var cmdNames = map[Command]string{
	CmdSetNet:            "set-net",
	CmdSetPassphrase:     "set-passphrase",
	CmdSetDebug:          "set-debug",
	CmdGetConnStatus:     "get-conn-status",
	CmdGetIPAddr:         "get-ipaddr",
	CmdGetMACAddr:        "get-macaddr",
	CmdGetCurrSSID:       "get-curr-ssid",
	CmdGetCurrRSSI:       "get-curr-rssi",
	CmdDataSentTCP:       "data-sent-tcp",
	CmdAvailDataTCP:      "avail-data-tcp",
	CmdGetDataTCP:        "get-data-tcp",
	CmdStartClientTCP:    "start-client-tcp",
	CmdStopClientTCP:     "stop-client-tcp",
	CmdGetClientStateTCP: "get-client-state-tcp",
	CmdDisconnect:        "disconnect",
	CmdReqHostByName:     "req-host-by-name",
	CmdGetHostByName:     "get-host-by-name",
	CmdGetFwVersion:      "get-fw-version",
	CmdGetTime:           "get-time",
	CmdGetSocket:         "get-socket",
	CmdSetClientCert:     "set-client-cert",
	CmdSetCertKey:        "set-cert-key",
	CmdSendDataTCP:       "send-data-tcp",
	CmdGetDatabufTCP:     "get-databuf-tcp",
	CmdSoftReset:         "soft-reset",
}

// LenWidth is the size in bytes of every parameter length field in a frame.
// It is chosen per call and may differ between a request and its response.
type LenWidth uint8

const (
	Len8  LenWidth = 1
	Len16 LenWidth = 2
)

// MaxParamLen returns the longest parameter encodable with w.
func (w LenWidth) MaxParamLen() int {
	if w == Len16 {
		return 0xffff
	}
	return 0xff
}

func (w LenWidth) valid() bool { return w == Len8 || w == Len16 }

// Widths returns the parameter length widths used by requests for c and by
// its responses.
func (c Command) Widths() (send, recv LenWidth) {
	switch c {
	case CmdSendDataTCP, CmdSetClientCert, CmdSetCertKey:
		return Len16, Len8
	case CmdGetDatabufTCP:
		return Len16, Len16
	}
	return Len8, Len8
}
