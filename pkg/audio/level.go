package audio

import (
	"math"
	"time"
)

// levelFloorDB is the dBFS value mapped to level 0. Full scale maps to 100.
const levelFloorDB = -60.0

// Level returns the loudness of block on a 0–100 scale. The RMS amplitude is
// converted to dBFS and mapped linearly from [levelFloorDB, 0] onto [0, 100].
func Level(block []float32) int {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(block)))
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	lvl := (db - levelFloorDB) / -levelFloorDB * 100
	switch {
	case lvl < 0:
		return 0
	case lvl > 100:
		return 100
	}
	return int(math.Round(lvl))
}

// SilenceDetector reports when the input level stays below Threshold for
// longer than Duration. It fires once per quiet stretch: after firing it stays
// silent until the level rises to Threshold or above again.
//
// A SilenceDetector is not safe for concurrent use.
type SilenceDetector struct {
	Threshold int
	Duration  time.Duration

	quietSince time.Time
	fired      bool
}

// Observe feeds one level sample taken at now and reports whether the
// silence callback should fire.
func (d *SilenceDetector) Observe(level int, now time.Time) bool {
	if d.Duration <= 0 {
		return false
	}
	if level >= d.Threshold {
		d.quietSince = time.Time{}
		d.fired = false
		return false
	}
	if d.quietSince.IsZero() {
		d.quietSince = now
		return false
	}
	if d.fired || now.Sub(d.quietSince) < d.Duration {
		return false
	}
	d.fired = true
	d.quietSince = now
	return true
}

// Reset forgets any quiet stretch in progress.
func (d *SilenceDetector) Reset() {
	d.quietSince = time.Time{}
	d.fired = false
}
