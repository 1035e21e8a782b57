package detect

import (
	"time"

	"github.com/ringlab/go-passage/internal/sensor"
)

// Direction is the inferred transit direction through a module
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionAToB
	DirectionBToA
)

// String returns the direction name
func (d Direction) String() string {
	switch d {
	case DirectionAToB:
		return "a_to_b"
	case DirectionBToA:
		return "b_to_a"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON output
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "a_to_b":
		*d = DirectionAToB
	case "b_to_a":
		*d = DirectionBToA
	default:
		*d = DirectionUnknown
	}
	return nil
}

// ModuleDetection is one module's directional verdict, produced when both
// sides complete a wave within the pairing gap
type ModuleDetection struct {
	ModuleIndex   int           `json:"module_index"`
	Direction     Direction     `json:"direction"`
	COMGapMs      float64       `json:"com_gap_ms"`
	PeakA         float64       `json:"peak_a"`
	PeakB         float64       `json:"peak_b"`
	WaveDurationA time.Duration `json:"wave_duration_a"`
	WaveDurationB time.Duration `json:"wave_duration_b"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// ModulePairing correlates wave completions from the two sides of one module.
// It holds at most one pending unmatched completion per side; a pending
// completion that ages past the pairing gap without a partner is discarded.
type ModulePairing struct {
	moduleIndex int
	maxGap      time.Duration
	pending     [2]*WaveCompletion // indexed by sensor.Side
}

// NewModulePairing creates pairing state for one module
func NewModulePairing(moduleIndex int, maxGap time.Duration) *ModulePairing {
	return &ModulePairing{
		moduleIndex: moduleIndex,
		maxGap:      maxGap,
	}
}

// Offer presents a completed wave for one side. If the opposite side holds a
// fresh enough partner, the pair becomes a ModuleDetection immediately.
func (p *ModulePairing) Offer(side sensor.Side, wc WaveCompletion) (ModuleDetection, bool) {
	opp := sensor.SideB
	if side == sensor.SideB {
		opp = sensor.SideA
	}

	partner := p.pending[opp]
	if partner != nil {
		gap := wc.PeakTime.Sub(partner.PeakTime)
		if gap < 0 {
			gap = -gap
		}
		if gap <= p.maxGap {
			p.pending[sensor.SideA] = nil
			p.pending[sensor.SideB] = nil
			if side == sensor.SideA {
				return p.detection(wc, *partner), true
			}
			return p.detection(*partner, wc), true
		}

		// Partner is stale: forget it
		p.pending[opp] = nil
	}

	// No match yet; this completion replaces any older pending one on its side
	p.pending[side] = &wc
	return ModuleDetection{}, false
}

func (p *ModulePairing) detection(a, b WaveCompletion) ModuleDetection {
	gap := b.CenterOfMass.Sub(a.CenterOfMass)

	dir := directionFrom(a, b)

	absGap := gap
	if absGap < 0 {
		absGap = -absGap
	}

	completedAt := a.End
	if b.End.After(completedAt) {
		completedAt = b.End
	}

	return ModuleDetection{
		ModuleIndex:   p.moduleIndex,
		Direction:     dir,
		COMGapMs:      float64(absGap.Microseconds()) / 1000.0,
		PeakA:         a.PeakValue,
		PeakB:         b.PeakValue,
		WaveDurationA: a.Duration(),
		WaveDurationB: b.Duration(),
		CompletedAt:   completedAt,
	}
}

// directionFrom compares center-of-mass times; the earlier side was hit
// first. Exact ties fall back to peak times, then deterministically to A->B.
func directionFrom(a, b WaveCompletion) Direction {
	switch {
	case a.CenterOfMass.Before(b.CenterOfMass):
		return DirectionAToB
	case b.CenterOfMass.Before(a.CenterOfMass):
		return DirectionBToA
	case a.PeakTime.Before(b.PeakTime):
		return DirectionAToB
	case b.PeakTime.Before(a.PeakTime):
		return DirectionBToA
	default:
		return DirectionAToB
	}
}

// Reset discards both pending completions
func (p *ModulePairing) Reset() {
	p.pending[sensor.SideA] = nil
	p.pending[sensor.SideB] = nil
}

// ModuleIndex returns the module this pairing serves
func (p *ModulePairing) ModuleIndex() int {
	return p.moduleIndex
}
