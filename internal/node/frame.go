package node

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"
)

// Checksum is the protocol checksum: the byte sum of p modulo 256.
func Checksum(p []byte) uint8 {
	var sum uint8
	for _, b := range p {
		sum += b
	}
	return sum
}

// frame builds a read response. Multi-byte fields are big-endian.
type frame struct {
	buf []byte
}

func newFrame(size int) *frame {
	return &frame{buf: make([]byte, 0, size+1)}
}

func (f *frame) u8(v uint8) { f.buf = append(f.buf, v) }

func (f *frame) u16(v uint16) { f.buf = binary.BigEndian.AppendUint16(f.buf, v) }

func (f *frame) u32(v uint32) { f.buf = binary.BigEndian.AppendUint32(f.buf, v) }

// text writes s as a fixed-width block, zero padded or truncated.
func (f *frame) text(s string, width int) {
	for i := 0; i < width; i++ {
		if i < len(s) {
			f.buf = append(f.buf, s[i])
		} else {
			f.buf = append(f.buf, 0)
		}
	}
}

// bytes returns the frame with its checksum, or nil for an empty frame.
func (f *frame) bytes() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	return append(f.buf, Checksum(f.buf))
}

func clamp[T constraints.Integer](v, lo, hi T) T {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// sat16 narrows a millisecond span to a u16 field, saturating at 0xFFFF.
func sat16(ms uint32) uint16 {
	return uint16(clamp(ms, 0, 0xFFFF))
}
