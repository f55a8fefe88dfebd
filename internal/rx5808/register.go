package rx5808

// Register addresses on the RTC6715 serial interface.
const (
	regSynthB uint8 = 0x1
	regPower  uint8 = 0xA
	regState  uint8 = 0xF
)

// powerConfig disables the audio and unused video blocks.
const powerConfig uint32 = 0b11010000110111110011

const (
	addressBits = 4
	dataBits    = 20

	// FrameBits is the length of one register write on the wire.
	FrameBits = addressBits + 1 + dataBits
)

// EncodeRegister converts a frequency in MHz to the synthesizer B register
// value: N counter in bits 7 and up, A counter in the low bits.
func EncodeRegister(freq uint16) uint16 {
	tf := (freq - 479) / 2
	n := tf / 32
	a := tf % 32
	return n<<7 + a
}

// DecodeRegister returns the frequency the synthesizer produces for reg.
// The synthesizer steps in 2 MHz, so an even frequency decodes 1 MHz low.
func DecodeRegister(reg uint16) uint16 {
	n := reg >> 7
	a := reg & 0x7F
	return (n*32+a)*2 + 479
}

// FrameBitsFor lays out one register write in transmit order: the address
// LSB first, the write flag, then 20 data bits LSB first.
func FrameBitsFor(address uint8, data uint32) [FrameBits]uint8 {
	var bits [FrameBits]uint8
	i := 0
	for b := 0; b < addressBits; b++ {
		bits[i] = (address >> b) & 1
		i++
	}
	bits[i] = 1
	i++
	for b := 0; b < dataBits; b++ {
		bits[i] = uint8((data >> b) & 1)
		i++
	}
	return bits
}
