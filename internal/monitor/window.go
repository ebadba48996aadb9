package monitor

import "time"

// window is a fixed-capacity ring of prices, oldest first.
type window struct {
	buf   []float64
	start int
	size  int
}

func newWindow(capacity int) *window {
	if capacity < 2 {
		capacity = 2
	}
	return &window{buf: make([]float64, capacity)}
}

func (w *window) push(v float64) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

func (w *window) values() []float64 {
	out := make([]float64, w.size)
	for i := range out {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *window) len() int { return w.size }

func (w *window) reset() {
	w.start, w.size = 0, 0
}

// cadence picks the ticks that feed the price windows so samples stay
// every apart whatever the loop interval is.
type cadence struct {
	every time.Duration
	next  time.Time
}

// take reports whether now opens a new sampling period. A tick up to a
// tenth of a period early still counts; periods with no tick are skipped.
func (c *cadence) take(now time.Time) bool {
	if c.every <= 0 {
		return true
	}
	if c.next.IsZero() {
		c.next = now.Add(c.every)
		return true
	}
	if now.Before(c.next.Add(-c.every / 10)) {
		return false
	}
	c.next = c.next.Add(c.every)
	if !c.next.After(now) {
		c.next = c.next.Add((now.Sub(c.next)/c.every + 1) * c.every)
	}
	return true
}

// downsample keeps every step-th price counting back from the newest, so
// the last price always survives.
func downsample(prices []float64, step int) []float64 {
	if step <= 1 {
		return prices
	}
	out := make([]float64, 0, len(prices)/step+1)
	for i := len(prices) - 1; i >= 0; i -= step {
		out = append(out, prices[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
