// Package rssi reads the receiver's analog RSSI line and scales it into the
// byte range the timing core works in.
package rssi

import (
	"errors"
	"fmt"
)

// ErrSourceExhausted is returned by finite sources once every sample has
// been read.
var ErrSourceExhausted = errors.New("rssi: sample source exhausted")

// FullScale is the 12-bit ADC count range sources report in.
const FullScale = 4095

// clampCount is where the receiver's RSSI output flattens out; counts above
// it carry no information.
const clampCount = 2047

// Source yields one raw 12-bit ADC count per Read.
type Source interface {
	Read() (uint16, error)
}

// Scale maps a 12-bit ADC count to the 0-255 working range: counts are
// clamped to the receiver's useful half-scale and shifted down three bits.
func Scale(count uint16) uint16 {
	if count > clampCount {
		count = clampCount
	}
	return count >> 3
}

// AveragingSource averages a block of reads from another source, like the
// firmware's DMA path.
type AveragingSource struct {
	src Source
	n   int
}

// NewAveragingSource averages n reads of src per Read. n below 1 is treated
// as 1.
func NewAveragingSource(src Source, n int) *AveragingSource {
	if n < 1 {
		n = 1
	}
	return &AveragingSource{src: src, n: n}
}

// Read returns the rounded mean of the next block of samples.
func (a *AveragingSource) Read() (uint16, error) {
	var sum uint32
	for i := 0; i < a.n; i++ {
		v, err := a.src.Read()
		if err != nil {
			return 0, fmt.Errorf("averaging sample %d of %d: %w", i+1, a.n, err)
		}
		sum += uint32(v)
	}
	return uint16((sum + uint32(a.n)/2) / uint32(a.n)), nil
}
