package detect

import (
	"time"

	"github.com/google/uuid"
)

// Confidence saturation points: a center-of-mass gap of 30ms or a combined
// peak strength of 100 counts each earn a full vote on their own.
const (
	comGapSaturationMs = 30.0
	peakSaturation     = 100.0
)

// Consensus combines the module verdicts of one drain cycle into a single
// directional result and gates new detections behind a cooldown. All state
// is owned by the consumer context; cooldown comparisons use reading
// timestamps, not wall clock, so replayed streams behave identically.
type Consensus struct {
	cfg           Config
	pending       []ModuleDetection
	cooldownUntil time.Time
	suppressed    uint64
}

// NewConsensus creates an aggregator
func NewConsensus(cfg Config) *Consensus {
	return &Consensus{cfg: cfg}
}

// Collect accepts one module verdict. Verdicts arriving during the
// post-detection cooldown are suppressed, not queued.
func (c *Consensus) Collect(det ModuleDetection) {
	if det.CompletedAt.Before(c.cooldownUntil) {
		c.suppressed++
		return
	}
	c.pending = append(c.pending, det)
}

// Finalize resolves all verdicts collected this drain cycle into one result
// and starts the cooldown. Returns false when nothing is pending.
func (c *Consensus) Finalize(now time.Time) (Result, bool) {
	if len(c.pending) == 0 {
		return Result{}, false
	}

	verdicts := c.pending
	c.pending = nil

	best := 0
	var confSum float64
	counts := map[Direction]int{}
	for i, det := range verdicts {
		conf := moduleConfidence(det)
		confSum += conf
		counts[det.Direction]++
		if conf > moduleConfidence(verdicts[best]) {
			best = i
		}
	}
	avg := confSum / float64(len(verdicts))

	direction := verdicts[best].Direction
	confidence := avg

	if len(verdicts) > 1 {
		if len(counts) == 1 {
			// Agreement across modules raises confidence toward 1
			confidence = avg + (1-avg)*0.5
		} else {
			// Disagreement: majority wins, confidence is cut
			majority := direction
			majorityCount := 0
			for dir, n := range counts {
				if n > majorityCount {
					majority = dir
					majorityCount = n
				}
			}
			if counts[majority] > counts[verdicts[best].Direction] {
				direction = majority
			}
			confidence = avg * 0.5
		}
	}

	chosen := verdicts[best]
	c.cooldownUntil = now.Add(c.cfg.Cooldown)

	return Result{
		ID:                 uuid.NewString(),
		Direction:          direction,
		Confidence:         clamp(confidence, 0, 1),
		ContributingModule: chosen.ModuleIndex,
		Modules:            verdicts,
		PeakA:              chosen.PeakA,
		PeakB:              chosen.PeakB,
		WaveDurationAMs:    float64(chosen.WaveDurationA.Microseconds()) / 1000.0,
		WaveDurationBMs:    float64(chosen.WaveDurationB.Microseconds()) / 1000.0,
		COMGapMs:           chosen.COMGapMs,
		DetectedAt:         now,
	}, true
}

// moduleConfidence scores one verdict from its timing gap and signal
// strength, both saturating
func moduleConfidence(det ModuleDetection) float64 {
	gapTerm := det.COMGapMs / comGapSaturationMs
	if gapTerm > 1 {
		gapTerm = 1
	}

	peakTerm := (det.PeakA + det.PeakB) / peakSaturation
	if peakTerm > 1 {
		peakTerm = 1
	}

	return clamp((gapTerm+peakTerm)/2, 0, 1)
}

// InCooldown reports whether detections are currently suppressed
func (c *Consensus) InCooldown(now time.Time) bool {
	return now.Before(c.cooldownUntil)
}

// Suppressed returns how many verdicts the cooldown swallowed
func (c *Consensus) Suppressed() uint64 {
	return c.suppressed
}

// Reset discards pending verdicts and clears the cooldown gate
func (c *Consensus) Reset() {
	c.pending = nil
	c.cooldownUntil = time.Time{}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
