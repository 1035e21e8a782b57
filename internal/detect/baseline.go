package detect

import "gonum.org/v1/gonum/stat"

// baselineWindow is a fixed-capacity ring of quiet proximity samples for one
// sensor. Samples are admitted only while the owning tracker is idle, so a
// wave in progress can never drag the baseline upward.
type baselineWindow struct {
	data []float64
	pos  int
	full bool

	// Lazily recomputed statistic: mean + one standard deviation.
	dirty bool
	stat  float64
}

func newBaselineWindow(capacity int) *baselineWindow {
	return &baselineWindow{
		data: make([]float64, 0, capacity),
	}
}

func (b *baselineWindow) push(v float64) {
	if b.full {
		b.data[b.pos] = v
		b.pos++
		if b.pos >= cap(b.data) {
			b.pos = 0
		}
	} else {
		b.data = append(b.data, v)
		if len(b.data) == cap(b.data) {
			b.full = true
			b.pos = 0
		}
	}
	b.dirty = true
}

func (b *baselineWindow) len() int {
	return len(b.data)
}

// statistic returns mean + one standard deviation over the window.
// Insertion order is irrelevant to the statistic, so the ring is fed to
// gonum as-is.
func (b *baselineWindow) statistic() float64 {
	if !b.dirty {
		return b.stat
	}
	b.dirty = false

	switch len(b.data) {
	case 0:
		b.stat = 0
	case 1:
		b.stat = b.data[0]
	default:
		mean, std := stat.MeanStdDev(b.data, nil)
		b.stat = mean + std
	}

	return b.stat
}
