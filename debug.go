package nina

import (
	"context"
	"encoding/hex"
	"log/slog"
)

const (
	// levelTrace logs every frame exchanged with the co-processor.
	levelTrace slog.Level = slog.LevelDebug - 1
)

func (d *Device) logerr(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelError, msg, attrs...)
}

func (d *Device) warn(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelWarn, msg, attrs...)
}

func (d *Device) info(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelInfo, msg, attrs...)
}

func (d *Device) debug(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelDebug, msg, attrs...)
}

func (d *Device) trace(msg string, attrs ...slog.Attr) {
	if d._traceenabled {
		d.logattrs(levelTrace, msg, attrs...)
	}
}

func (d *Device) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if d.logger == nil {
		return
	}
	d.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// hexattr avoids encoding frames when tracing is disabled.
func (d *Device) hexattr(key string, b []byte) slog.Attr {
	if !d._traceenabled {
		return slog.Attr{Key: key}
	}
	return slog.String(key, hex.EncodeToString(b))
}
