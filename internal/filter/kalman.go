// Package filter smooths raw RSSI samples before crossing detection.
package filter

import "math"

// Defaults match the stock node firmware tuning.
const (
	DefaultQ = 5.0
	DefaultR = 0.005
)

// Kalman is a scalar Kalman filter with unit state-transition and observation
// gains and no control input. Q is the measurement noise covariance and R
// the process noise covariance.
//
// The zero value is unseeded; its first Update seeds the state from the
// sample.
type Kalman struct {
	Q float64
	R float64

	x      float64
	cov    float64
	seeded bool
}

// NewKalman returns an unseeded filter with the given covariances.
func NewKalman(q, r float64) *Kalman {
	return &Kalman{Q: q, R: r}
}

// Update folds measurement z into the estimate and returns the new state.
func (k *Kalman) Update(z float64) float64 {
	if !k.seeded {
		k.x = z
		k.cov = k.Q
		k.seeded = true
		return k.x
	}

	predCov := k.cov + k.R
	gain := predCov / (predCov + k.Q)
	k.x += gain * (z - k.x)
	k.cov = predCov * (1 - gain)
	return k.x
}

// Filter runs a raw 8-bit-scaled sample through the filter and returns the
// rounded estimate clamped to a byte.
func (k *Kalman) Filter(raw uint16) uint8 {
	v := math.Round(k.Update(float64(raw)))
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// Estimate returns the current state and whether the filter has been seeded.
func (k *Kalman) Estimate() (float64, bool) {
	return k.x, k.seeded
}

// Reset discards the state so the next sample seeds the filter again.
func (k *Kalman) Reset() {
	k.x, k.cov, k.seeded = 0, 0, false
}
