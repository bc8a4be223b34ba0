package nina

import (
	"time"

	"github.com/soypat/nina/wire"
)

// selectDevice waits for the co-processor to be ready, asserts chip select
// and waits for it to become active. On success the caller must deselect.
func (d *Device) selectDevice() error {
	err := d.waitReady()
	if err != nil {
		d.logerr("select:not-ready")
		return err
	}
	d.csEnable(true)
	err = d.waitActive()
	if err != nil {
		d.csEnable(false)
		d.logerr("select:not-active")
		return err
	}
	return nil
}

func (d *Device) deselect() { d.csEnable(false) }

// csEnable asserts the active-low chip select when b is true.
func (d *Device) csEnable(b bool) {
	if d.cs != nil {
		d.cs(!b)
	}
}

// waitReady polls until the handshake line is low.
func (d *Device) waitReady() error {
	if d.ready == nil {
		return nil
	}
	deadline := d.clock.Now().Add(readyTimeout)
	for d.ready() {
		if !d.clock.Now().Before(deadline) {
			return ErrTransportTimeout
		}
		d.clock.Sleep(time.Millisecond)
	}
	return nil
}

// waitActive polls until the handshake line is high. Must be called right
// after asserting chip select.
func (d *Device) waitActive() error {
	if d.ready == nil {
		return nil
	}
	deadline := d.clock.Now().Add(activeTimeout)
	for !d.ready() {
		if !d.clock.Now().Before(deadline) {
			return ErrTransportTimeout
		}
		d.clock.Sleep(time.Millisecond)
	}
	return nil
}

// waitMarker discards bytes until want is read. The error marker aborts
// the wait.
func (d *Device) waitMarker(want byte) error {
	deadline := d.clock.Now().Add(markerTimeout)
	for {
		got, err := d.bus.ReadByte()
		if err != nil {
			return err
		}
		switch {
		case got == want:
			return nil
		case got == wire.Err:
			return ErrErrorResponse
		case !d.clock.Now().Before(deadline):
			return &wire.FrameError{Reason: "marker not received", Got: got, Want: want}
		}
	}
}
