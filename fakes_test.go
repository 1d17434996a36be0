package max6675

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// trace records pin, bus and delay activity in order.
type trace struct {
	mu sync.Mutex
	ev []string
}

func (t *trace) add(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ev = append(t.ev, fmt.Sprintf(format, args...))
}

func (t *trace) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ev...)
}

func (t *trace) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ev = nil
}

func (t *trace) sleep(d time.Duration) {
	t.add("sleep %s", d)
}

type recPin struct {
	*gpiotest.Pin
	tr  *trace
	err error
}

func (p *recPin) Out(l gpio.Level) error {
	if p.err != nil {
		return p.err
	}
	p.tr.add("%s %s", p.N, l)
	return p.Pin.Out(l)
}

// fakeBus shifts out the queued bytes, one per transfer.
type fakeBus struct {
	tr *trace

	mu  sync.Mutex
	out []byte
	err error
	// stall holds the next transfer until it is closed.
	stall    chan struct{}
	inflight int
	peak     int

	hz   physic.Frequency
	mode spi.Mode
	bits int
}

func (f *fakeBus) String() string {
	return "fake"
}

func (f *fakeBus) Connect(hz physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	f.hz, f.mode, f.bits = hz, mode, bits
	return f, nil
}

func (f *fakeBus) queue(words ...uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range words {
		f.out = append(f.out, byte(w>>8), byte(w))
	}
}

func (f *fakeBus) Tx(w, r []byte) error {
	f.tr.add("tx %#02x", w[0])

	f.mu.Lock()
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	stall := f.stall
	f.stall = nil
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if stall != nil {
		<-stall
		return errors.New("released")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if len(f.out) < len(r) {
		return errors.New("fake: no data queued")
	}
	copy(r, f.out)
	f.out = f.out[len(r):]
	return nil
}

func (f *fakeBus) peakInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeBus) Duplex() conn.Duplex {
	return conn.Full
}

func (f *fakeBus) TxPackets(p []spi.Packet) error {
	return errors.New("fake: packets not supported")
}

type bench struct {
	tr   *trace
	bus  *fakeBus
	pins []*recPin
	dev  *Dev
}

func newBench(opts *Opts) (*bench, error) {
	tr := &trace{}
	b := &bench{tr: tr, bus: &fakeBus{tr: tr}}
	n := 1
	if opts != nil {
		n = opts.Devices
	}
	cs := make([]gpio.PinOut, n)
	for i := range cs {
		p := &recPin{Pin: &gpiotest.Pin{N: fmt.Sprintf("cs%d", i), L: gpio.Low}, tr: tr}
		b.pins = append(b.pins, p)
		cs[i] = p
	}
	d, err := New(b.bus, cs, opts)
	if err != nil {
		return nil, err
	}
	d.sleep = tr.sleep
	b.dev = d
	tr.reset()
	return b, nil
}
