// Package pass holds the precomputed pointing and tuning table for one
// satellite pass. A Profile is produced by the predictor, validated once, and
// never mutated afterwards; the scheduler only reads it.
package pass

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Profile is indexed together: step i points the antenna at Azimuth[i],
// Elevation[i] and tunes the radio to DopplerFreqHz[i], at AOS + i*SampleInterval.
type Profile struct {
	Satellite      string        `json:"satellite" yaml:"satellite"`
	AOS            time.Time     `json:"aos" yaml:"aos"`
	LOS            time.Time     `json:"los" yaml:"los"`
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`
	NominalFreqHz  int64         `json:"nominal_freq_hz" yaml:"nominal_freq_hz"`
	MaxElevation   float64       `json:"max_elevation" yaml:"max_elevation"`

	Azimuth       []float64 `json:"azimuth" yaml:"azimuth"`
	Elevation     []float64 `json:"elevation" yaml:"elevation"`
	DopplerFreqHz []int64   `json:"doppler_freq_hz" yaml:"doppler_freq_hz"`
}

// Duration is LOS - AOS.
func (p Profile) Duration() time.Duration {
	return p.LOS.Sub(p.AOS)
}

// Steps is the number of tracking steps in the profile.
func (p Profile) Steps() int {
	return len(p.Azimuth)
}

// StepTime is the wall-clock instant step i is due.
func (p Profile) StepTime(i int) time.Time {
	return p.AOS.Add(time.Duration(i) * p.SampleInterval)
}

// Validate reports the first broken invariant, or nil.
func (p Profile) Validate() error {
	if !p.AOS.Before(p.LOS) {
		return fmt.Errorf("pass %s: AOS %s is not before LOS %s",
			p.Satellite, p.AOS.Format(time.RFC3339), p.LOS.Format(time.RFC3339))
	}
	if p.SampleInterval <= 0 {
		return fmt.Errorf("pass %s: sample interval must be positive", p.Satellite)
	}
	n := len(p.Azimuth)
	if n == 0 {
		return errors.New("pass " + p.Satellite + ": profile has no steps")
	}
	if len(p.Elevation) != n || len(p.DopplerFreqHz) != n {
		return fmt.Errorf("pass %s: sequence lengths differ (az=%d el=%d freq=%d)",
			p.Satellite, n, len(p.Elevation), len(p.DopplerFreqHz))
	}
	return nil
}

// Point returns the whole-degree antenna target for step i, rounding to the
// nearest degree and wrapping azimuth into [0,359].
func (p Profile) Point(i int) (az, el int) {
	az = int(math.Round(p.Azimuth[i]))
	az %= 360
	if az < 0 {
		az += 360
	}
	el = int(math.Round(p.Elevation[i]))
	if el < 0 {
		el = 0
	}
	return az, el
}
