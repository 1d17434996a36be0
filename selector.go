package max6675

import (
	"log/slog"

	"periph.io/x/conn/v3/gpio"
)

// line returns the index of the chip-select pin that device maps to. With a
// single chip fitted every logical device shares line 0.
func (d *Dev) line(device Device) (int, bool) {
	if device >= MaxDevices {
		return 0, false
	}
	i := int(device)
	if i >= len(d.cs) {
		i = 0
	}
	return i, true
}

// selectDevice drives the chip select for device. The lines are active-low,
// and releasing one starts a new conversion on that chip. A pin that refuses
// the write is logged; the transaction carries on.
func (d *Dev) selectDevice(device Device, active bool) {
	i, ok := d.line(device)
	if !ok {
		return
	}
	l := gpio.High
	if active {
		l = gpio.Low
	}
	if err := d.cs[i].Out(l); err != nil && d.opts.Logger != nil {
		d.opts.Logger.Error("chip select write failed",
			slog.String("sensor", d.name),
			slog.Int("device", int(device)),
			slog.String("pin", d.cs[i].Name()),
			slog.String("level", l.String()),
			slog.String("error", err.Error()),
		)
	}
}
