package nina

import (
	"encoding/binary"
	"log/slog"
	"net"
	"net/netip"

	"github.com/soypat/nina/wire"
)

// dummyParam is sent by commands that take no argument but whose firmware
// handler expects one.
var dummyParam = []byte{0xFF}

// FirmwareVersion returns the version string of the co-processor firmware.
func (d *Device) FirmwareVersion() (string, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return "", err
	}
	resp, err := d.command(wire.CmdGetFwVersion, wire.Len8, wire.Len8)
	if err != nil {
		return "", err
	}
	return string(resp.Param(0)), nil
}

// SetDebug enables or disables the firmware's debug output on its UART.
func (d *Device) SetDebug(enable bool) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	var b byte
	if enable {
		b = 1
	}
	_, err = d.command(wire.CmdSetDebug, wire.Len8, wire.Len8, []byte{b})
	return err
}

// Join connects to the network configured in Config.
func (d *Device) Join() error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	return d.connect(d.ssid, d.pass)
}

// Connect joins an access point. An empty passphrase joins an open network.
// Connect polls the connection status up to the configured number of
// retries, one second apart.
func (d *Device) Connect(ssid, passphrase string) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	return d.connect(ssid, passphrase)
}

func (d *Device) connect(ssid, passphrase string) (err error) {
	d.info("connect:start", slog.String("ssid", ssid), slog.Int("passlen", len(passphrase)))
	if passphrase == "" {
		err = d.commandStatus(wire.CmdSetNet, wire.Len8, []byte(ssid))
	} else {
		err = d.commandStatus(wire.CmdSetPassphrase, wire.Len8, []byte(ssid), []byte(passphrase))
	}
	if _, rejected := err.(*CommandError); rejected {
		// The firmware starts the join attempt regardless.
		d.warn("connect:network-rejected", slog.String("err", err.Error()))
	} else if err != nil {
		return err
	}

	for i := 0; i < int(d.retries); i++ {
		if i > 0 {
			d.clock.Sleep(connectRetryWait)
		}
		status, err := d.status()
		if err != nil {
			d.logerr("connect:status-failed", slog.String("err", err.Error()))
			return errjoin(err, d.resetModule())
		}
		d.debug("connect:poll", slog.Int("try", i+1), slog.String("status", status.String()))
		switch status {
		case StatusConnected:
			d.info("connect:done", slog.String("ssid", ssid))
			return nil
		case StatusConnectFailed:
			return cmdErr(wire.CmdGetConnStatus, uint8(status), ErrConnectFailed)
		}
	}
	// Retries exhausted. The reason is taken from a fresh status.
	status, err := d.status()
	if err != nil {
		d.logerr("connect:status-failed", slog.String("err", err.Error()))
		return errjoin(err, d.resetModule())
	}
	var reason error
	switch status {
	case StatusConnectFailed:
		reason = ErrConnectFailed
	case StatusConnectionLost:
		reason = ErrConnectionLost
	case StatusDisconnected:
		reason = ErrDisconnected
	case StatusNoSSIDAvailable:
		reason = ErrNoSSID
	default:
		reason = ErrConnectUnknown
	}
	return cmdErr(wire.CmdGetConnStatus, uint8(status), reason)
}

// Status queries the WLAN connection status.
func (d *Device) Status() (ConnStatus, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return StatusIdle, err
	}
	return d.status()
}

func (d *Device) status() (ConnStatus, error) {
	resp, err := d.command(wire.CmdGetConnStatus, wire.Len8, wire.Len8)
	if err != nil {
		return d.conn, err
	}
	d.conn = ConnStatus(resp.Status())
	return d.conn, nil
}

// IsConnected queries the WLAN status and reports whether it is connected.
// A co-processor that does not answer is reset.
func (d *Device) IsConnected() bool {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return false
	}
	status, err := d.status()
	if err != nil {
		d.logerr("isconnected:reset", slog.String("err", err.Error()))
		if err = d.resetModule(); err != nil {
			d.logerr("isconnected:reset-failed", slog.String("err", err.Error()))
		}
		return false
	}
	return status == StatusConnected
}

// Disconnect leaves the current access point.
func (d *Device) Disconnect() error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	resp, err := d.command(wire.CmdDisconnect, wire.Len8, wire.Len8)
	if err != nil {
		return err
	}
	if ok := resp.Status(); ok != 1 {
		return cmdErr(wire.CmdDisconnect, ok, ErrRejected)
	}
	d.conn = StatusDisconnected
	return nil
}

// ResolveHost resolves a hostname with the co-processor's DNS client.
func (d *Device) ResolveHost(name string) (netip.Addr, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return netip.Addr{}, err
	}
	resp, err := d.command(wire.CmdReqHostByName, wire.Len8, wire.Len8, []byte(name))
	if err != nil {
		return netip.Addr{}, err
	}
	if status := resp.Status(); status != 1 {
		return netip.Addr{}, cmdErr(wire.CmdReqHostByName, status, ErrHostNotFound)
	}
	resp, err = d.command(wire.CmdGetHostByName, wire.Len8, wire.Len8)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, ok := netip.AddrFromSlice(resp.Param(0))
	if !ok {
		return netip.Addr{}, errShortResponse
	}
	d.debug("resolve", slog.String("host", name), slog.String("addr", addr.String()))
	return addr, nil
}

// Time returns the co-processor's clock as seconds since the Unix epoch.
// Zero means the firmware has not synchronized its clock yet.
func (d *Device) Time() (uint32, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return 0, err
	}
	resp, err := d.command(wire.CmdGetTime, wire.Len8, wire.Len8, dummyParam)
	if err != nil {
		return 0, err
	}
	var t [4]byte
	copy(t[:], resp.Param(0))
	return binary.LittleEndian.Uint32(t[:]), nil
}

// SetCertificate uploads the client certificate used by TLS sockets.
func (d *Device) SetCertificate(cert []byte) error {
	return d.setTLSMaterial(wire.CmdSetClientCert, cert)
}

// SetPrivateKey uploads the private key of the client certificate.
func (d *Device) SetPrivateKey(key []byte) error {
	return d.setTLSMaterial(wire.CmdSetCertKey, key)
}

func (d *Device) setTLSMaterial(cmd wire.Command, material []byte) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	_, err = d.command(cmd, wire.Len16, wire.Len8, material)
	return err
}

// MACAddress returns the station MAC address of the co-processor.
func (d *Device) MACAddress() (net.HardwareAddr, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return nil, err
	}
	resp, err := d.command(wire.CmdGetMACAddr, wire.Len8, wire.Len8, dummyParam)
	if err != nil {
		return nil, err
	}
	raw := resp.Param(0)
	if len(raw) != 6 {
		return nil, errShortResponse
	}
	// Firmware sends the address least significant byte first.
	mac := make(net.HardwareAddr, 6)
	for i := range mac {
		mac[i] = raw[5-i]
	}
	return mac, nil
}

// CurrentSSID returns the SSID of the joined network.
func (d *Device) CurrentSSID() (string, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return "", err
	}
	resp, err := d.command(wire.CmdGetCurrSSID, wire.Len8, wire.Len8, dummyParam)
	if err != nil {
		return "", err
	}
	return string(resp.Param(0)), nil
}

// RSSI returns the signal strength of the joined network in dBm.
func (d *Device) RSSI() (int32, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return 0, err
	}
	resp, err := d.command(wire.CmdGetCurrRSSI, wire.Len8, wire.Len8, dummyParam)
	if err != nil {
		return 0, err
	}
	raw := resp.Param(0)
	if len(raw) != 4 {
		return 0, errShortResponse
	}
	return int32(binary.LittleEndian.Uint32(raw)), nil
}

// IPAddress returns the station address, subnet mask and gateway.
func (d *Device) IPAddress() (ip, mask, gateway netip.Addr, err error) {
	err = d.acquire()
	defer d.release()
	if err != nil {
		return ip, mask, gateway, err
	}
	resp, err := d.commandN(wire.CmdGetIPAddr, 3, wire.Len8, wire.Len8, dummyParam)
	if err != nil {
		return ip, mask, gateway, err
	}
	var addrs [3]netip.Addr
	for i := range addrs {
		var ok bool
		addrs[i], ok = netip.AddrFromSlice(resp.Param(i))
		if !ok {
			return ip, mask, gateway, errShortResponse
		}
	}
	return addrs[0], addrs[1], addrs[2], nil
}
