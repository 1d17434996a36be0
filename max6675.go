package max6675

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Opts holds various configuration options for the sensor
type Opts struct {
	// Devices is the number of MAX6675 chips fitted, 1 or 2. Each needs its
	// own chip-select line.
	Devices int
	// Averaging enables a moving average of 1<<WindowBits valid readings per
	// chip. Faulted readings never enter the average.
	Averaging  bool
	WindowBits uint
	// ReadTimeout bounds each byte transfer. A bus that does not answer in
	// time is reported as a BusFault instead of hanging the caller.
	ReadTimeout time.Duration
	MaxHz       physic.Frequency
	// OnFault is called synchronously with the fault code of every reading
	// that is not valid: LineFaultCode, the out of range value, or
	// BusFaultCode. It must not block or call Read.
	OnFault func(code int16)
	Logger  *slog.Logger
}

func DefaultOptions() *Opts {
	return &Opts{
		Devices:     1,
		ReadTimeout: 100 * time.Millisecond,
		MaxHz:       500 * physic.KiloHertz,
	}
}

// OvenOptions is a top and bottom thermocouple pair averaged over four
// readings.
func OvenOptions() *Opts {
	o := DefaultOptions()
	o.Devices = 2
	o.Averaging = true
	o.WindowBits = 2
	return o
}

// New connects to the chips on p and releases every chip-select line. cs
// holds one line per chip, in device order.
func New(p spi.Port, cs []gpio.PinOut, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	d := &Dev{
		cs:    cs,
		opts:  *opts,
		name:  p.String(),
		sleep: time.Sleep,
	}
	o := &d.opts

	if o.Devices < 1 || o.Devices > MaxDevices {
		return nil, d.wrap(fmt.Errorf("invalid device count: %d", o.Devices))
	}
	if len(cs) != o.Devices {
		return nil, d.wrap(fmt.Errorf("got %d chip-select lines for %d devices", len(cs), o.Devices))
	}
	if o.Averaging && o.WindowBits > maxWindowBits {
		return nil, d.wrap(fmt.Errorf("window bits %d exceeds %d", o.WindowBits, maxWindowBits))
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultOptions().ReadTimeout
	}
	if o.MaxHz == 0 {
		o.MaxHz = DefaultOptions().MaxHz
	}

	// Clock idles low, data sampled on the rising edge.
	c, err := p.Connect(o.MaxHz, spi.Mode0, 8)
	if err != nil {
		return nil, d.wrap(err)
	}
	d.d = c

	for i := 0; i < o.Devices; i++ {
		d.selectDevice(Device(i), false)
	}

	if o.Averaging {
		d.windows = make([]*window, o.Devices)
		for i := range d.windows {
			d.windows[i] = newWindow(o.WindowBits)
		}
	}

	return d, nil
}

type Dev struct {
	d     conn.Conn
	cs    []gpio.PinOut
	opts  Opts
	name  string
	sleep func(time.Duration)

	// bus is held for a whole select/transfer/deselect transaction.
	bus sync.Mutex
	// stalled is closed once a timed out transfer finally returns. The bus is
	// not touched until then.
	stalled chan struct{}

	wmu     sync.Mutex
	windows []*window

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s}", d.name, d.d)
}

// Start kicks off a fresh conversion on every chip and waits until each has
// had time to complete one. Call it once after New and before the first Read.
func (d *Dev) Start() error {
	d.bus.Lock()
	defer d.bus.Unlock()

	for i := 0; i < d.opts.Devices; i++ {
		dev := Device(i)
		d.selectDevice(dev, false)
		d.sleep(selectDelay)
		d.selectDevice(dev, true)
		d.sleep(selectDelay)
		d.selectDevice(dev, false)
		d.sleep(conversionDelay)
	}
	return nil
}

// Read returns the temperature of device in quarter degrees, averaged when
// enabled.
//
// Faulted readings return LineFaultCode, RangeFaultCode or BusFaultCode along
// with a *FaultError, after the fault callback has run. They leave the
// average untouched.
func (d *Dev) Read(device Device) (int16, error) {
	if device >= MaxDevices {
		return 0, d.wrap(fmt.Errorf("invalid device: %d", device))
	}

	raw, err := d.readRaw(device)
	r := Reading{Kind: BusFault, Value: BusFaultCode}
	if err == nil {
		r = Classify(raw)
	}

	if r.Kind != Valid {
		d.fault(device, r)
		return r.Sentinel(), d.wrap(&FaultError{Device: device, Reading: r, Err: err})
	}

	return d.smooth(device, r.Value), nil
}

// readRaw performs one bus transaction and returns the 16-bit word shifted
// out by the chip, MSB first.
func (d *Dev) readRaw(device Device) (uint16, error) {
	d.bus.Lock()
	defer d.bus.Unlock()

	if d.stalled != nil {
		select {
		case <-d.stalled:
			d.stalled = nil
		default:
			return 0, ErrBusTimeout
		}
	}

	d.selectDevice(device, true)
	// Releasing the line starts the chip's next conversion.
	defer d.selectDevice(device, false)

	d.sleep(latchDelay)

	msb, err := d.transfer()
	if err != nil {
		return 0, err
	}
	lsb, err := d.transfer()
	if err != nil {
		return 0, err
	}
	return uint16(msb)<<8 | uint16(lsb), nil
}

// transfer clocks one byte in. Buffers are fresh on every call so nothing
// from an earlier transfer can be returned. If the bus does not answer
// within ReadTimeout the pending transfer is abandoned and the bus stays
// stalled until it returns. Called with d.bus held.
func (d *Dev) transfer() (byte, error) {
	w := []byte{dontCare}
	r := make([]byte, 1)

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- d.d.Tx(w, r)
	}()

	t := time.NewTimer(d.opts.ReadTimeout)
	defer t.Stop()

	select {
	case err := <-done:
		if err != nil {
			return 0, err
		}
		return r[0], nil
	case <-t.C:
		d.stalled = finished
		return 0, ErrBusTimeout
	}
}

func (d *Dev) smooth(device Device, v int16) int16 {
	if d.windows == nil {
		return v
	}
	i, _ := d.line(device)

	d.wmu.Lock()
	defer d.wmu.Unlock()
	return d.windows[i].update(v)
}

func (d *Dev) fault(device Device, r Reading) {
	if d.opts.Logger != nil {
		d.opts.Logger.Warn("thermocouple fault",
			slog.String("sensor", d.name),
			slog.Int("device", int(device)),
			slog.String("kind", r.Kind.String()),
			slog.Int("raw", int(r.Raw)),
			slog.Int("code", int(r.Value)),
		)
	}
	if d.opts.OnFault != nil {
		d.opts.OnFault(r.Value)
	}
}

// Sense reads the Top thermocouple.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}

	return d.sense(e)
}

// SenseContinuous returns measurements as °C on a continuous basis.
// Faulted readings are reported through OnFault and skipped.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
		d.wg.Wait()
	}

	sensing := make(chan physic.Env)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}(d.stop)
	return sensing, nil
}

// 12-bit ADC, 0.25°C per count
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 4
}

// Halt stops the continuous sensing initiated by SenseContinuous(). The chips
// themselves keep converting; they have no low power mode.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	d.stop = nil
	d.wg.Wait()

	return nil
}

func (d *Dev) sense(e *physic.Env) error {
	v, err := d.Read(Top)
	if err != nil {
		return err
	}
	e.Temperature = toTemperature(v)
	return nil
}

// toTemperature converts quarter degrees to a physic.Temperature.
func toTemperature(v int16) physic.Temperature {
	return physic.Temperature(v)*250*physic.MilliCelsius + physic.ZeroCelsius
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	// A chip cannot produce readings faster than it converts.
	if interval < conversionDelay {
		interval = conversionDelay
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var fe *FaultError
	for {
		e := physic.Env{}
		err := d.sense(&e)
		switch {
		case errors.As(err, &fe):
		case err != nil:
			return
		default:
			select {
			case sensing <- e:
			case <-stop:
				return
			}
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("%s: %w", strings.ToLower(d.name), err)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
