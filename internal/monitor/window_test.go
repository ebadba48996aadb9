package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowKeepsNewest(t *testing.T) {
	w := newWindow(3)
	assert.Empty(t, w.values())

	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.push(v)
	}
	assert.Equal(t, []float64{3, 4, 5}, w.values())
	assert.Equal(t, 3, w.len())

	w.reset()
	w.push(9)
	assert.Equal(t, []float64{9}, w.values())
}

func TestCadenceTakesOncePerPeriod(t *testing.T) {
	c := cadence{every: time.Minute}
	assert.True(t, c.take(start))
	assert.False(t, c.take(start.Add(30*time.Second)))
	// Slightly early ticks still count.
	assert.True(t, c.take(start.Add(55*time.Second)))
	assert.False(t, c.take(start.Add(61*time.Second)))
	assert.True(t, c.take(start.Add(2*time.Minute)))

	// After a gap the schedule skips ahead instead of catching up.
	assert.True(t, c.take(start.Add(10*time.Minute+5*time.Second)))
	assert.False(t, c.take(start.Add(10*time.Minute+30*time.Second)))
	assert.True(t, c.take(start.Add(11*time.Minute)))
}

func TestCadenceSeededFromSeries(t *testing.T) {
	c := cadence{every: time.Hour, next: start.Add(time.Hour)}
	assert.False(t, c.take(start))
	assert.False(t, c.take(start.Add(50*time.Minute)))
	assert.True(t, c.take(start.Add(time.Hour)))
	assert.False(t, c.take(start.Add(time.Hour+30*time.Second)))
}

func TestDownsampleKeepsNewest(t *testing.T) {
	in := []float64{1, 2, 3, 4, 5, 6, 7}
	assert.Equal(t, []float64{1, 4, 7}, downsample(in, 3))
	assert.Equal(t, []float64{1, 3, 5, 7}, downsample(in, 2))
	assert.Equal(t, in, downsample(in, 1))
	assert.Equal(t, []float64{7}, downsample(in, 10))
}
