package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKalman_FirstSampleSeedsState(t *testing.T) {
	k := NewKalman(DefaultQ, DefaultR)
	_, seeded := k.Estimate()
	require.False(t, seeded)

	assert.Equal(t, 137.0, k.Update(137))
	x, seeded := k.Estimate()
	assert.True(t, seeded)
	assert.Equal(t, 137.0, x)
}

func TestKalman_OutputStaysBetweenEstimateAndSample(t *testing.T) {
	samples := []float64{40, 200, 200, 35, 90, 90, 255, 0, 128, 129, 12}

	for _, tc := range []struct {
		name string
		q, r float64
	}{
		{"defaults", DefaultQ, DefaultR},
		{"high process noise", 0.5, 4},
		{"tiny covariances", 1e-3, 1e-4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := NewKalman(tc.q, tc.r)
			prev := k.Update(samples[0])
			assert.Equal(t, samples[0], prev)

			for _, z := range samples[1:] {
				got := k.Update(z)
				lo, hi := math.Min(prev, z), math.Max(prev, z)
				assert.GreaterOrEqual(t, got, lo)
				assert.LessOrEqual(t, got, hi)
				if prev != z {
					assert.NotEqual(t, prev, got, "estimate should move toward %v", z)
					assert.NotEqual(t, z, got, "estimate should not jump onto %v", z)
				}
				prev = got
			}
		})
	}
}

func TestKalman_GainTightensWithConfidence(t *testing.T) {
	k := NewKalman(DefaultQ, DefaultR)
	k.Update(100)

	first := k.Update(200) - 100
	k.Reset()
	k.Update(100)
	for i := 0; i < 50; i++ {
		k.Update(100)
	}
	later := k.Update(200) - 100

	assert.Less(t, later, first)
}

func TestKalman_FilterRoundsAndClamps(t *testing.T) {
	k := NewKalman(DefaultQ, DefaultR)
	assert.Equal(t, uint8(255), k.Filter(400))

	k.Reset()
	assert.Equal(t, uint8(0), k.Filter(0))

	k.Reset()
	assert.Equal(t, uint8(90), k.Filter(90))
	assert.Equal(t, uint8(90), k.Filter(90))
}

func TestKalman_ZeroValueIsUsable(t *testing.T) {
	k := Kalman{Q: 1, R: 1}
	assert.Equal(t, 10.0, k.Update(10))
	got := k.Update(20)
	assert.Greater(t, got, 10.0)
	assert.Less(t, got, 20.0)
}
