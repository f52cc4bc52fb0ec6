package modes

// Mode S CRC-24 generator polynomial.
const generatorPoly = 0xfff409

var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		c := uint32(i) << 16
		for j := 0; j < 8; j++ {
			if c&0x800000 != 0 {
				c = (c << 1) ^ generatorPoly
			} else {
				c = c << 1
			}
		}
		crcTable[i] = c & 0x00ffffff
	}
}

// Checksum returns the CRC-24 parity over data. Computed over a frame's
// bytes up to the parity field it yields the expected value of that field;
// XORing with the transmitted field gives the syndrome (zero for an intact
// DF17/18, the overlaid address for surveillance replies).
func Checksum(data []byte) uint32 {
	var rem uint32
	for _, b := range data {
		rem = (rem << 8) ^ crcTable[uint32(b)^((rem&0xff0000)>>16)]
		rem &= 0xffffff
	}
	return rem
}

// AttachChecksum computes the parity over frame[:len-3] and writes it into
// the trailing three bytes. Used by tests and synthetic frame builders.
func AttachChecksum(frame []byte) {
	n := len(frame)
	if n < 4 {
		return
	}
	crc := Checksum(frame[:n-3])
	frame[n-3] = byte(crc >> 16)
	frame[n-2] = byte(crc >> 8)
	frame[n-1] = byte(crc)
}
