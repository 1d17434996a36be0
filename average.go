package max6675

// window is a fixed-size moving average over the most recent valid readings
// of one chip. Its length is always 1<<bits so the mean is a shift.
type window struct {
	bits    uint
	samples []int16
}

func newWindow(bits uint) *window {
	w := &window{
		bits:    bits,
		samples: make([]int16, 1<<bits),
	}
	for i := range w.samples {
		w.samples[i] = windowSeed
	}
	return w
}

// update pushes v at the head, drops the oldest sample and returns the mean.
func (w *window) update(v int16) int16 {
	copy(w.samples[1:], w.samples[:len(w.samples)-1])
	w.samples[0] = v

	var sum int32
	for _, s := range w.samples {
		sum += int32(s)
	}
	return int16(sum >> w.bits)
}

func (w *window) snapshot() []int16 {
	out := make([]int16, len(w.samples))
	copy(out, w.samples)
	return out
}
