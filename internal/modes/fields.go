package modes

import (
	"math"
	"strings"
)

// 6-bit character set used by identification messages: index 1-26 = A-Z,
// 32 = space, 48-57 = 0-9. Everything else is illegal in a callsign.
const callsignCharset = "@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_ !\"#$%&'()*+,-./0123456789:;<=>?"

// getBits extracts message bits firstBit..lastBit (1-based, MSB first, up to
// 24 wide) from data.
func getBits(data []byte, firstBit, lastBit int) uint32 {
	if firstBit < 1 || lastBit < firstBit || lastBit-firstBit >= 24 {
		return 0
	}

	fbi := firstBit - 1
	lbi := lastBit - 1
	nbi := lastBit - firstBit + 1

	fby := fbi / 8
	lby := lbi / 8
	if lby >= len(data) {
		return 0
	}

	shift := 7 - (lbi % 8)
	topMask := uint32(0xFF >> (fbi % 8))

	var result uint32
	for i := fby; i <= lby; i++ {
		if i == fby {
			result = uint32(data[i]) & topMask
		} else {
			result = (result << 8) | uint32(data[i])
		}
	}

	return (result >> shift) & ((1 << nbi) - 1)
}

// decodeCallsign extracts the eight 6-bit characters from an identification
// ME field. ok is false when the encoding contains characters outside the
// legal A-Z / 0-9 / space set.
func decodeCallsign(me []byte) (string, bool) {
	var cs [8]byte
	for i := 0; i < 8; i++ {
		first := 9 + 6*i
		cs[i] = callsignCharset[getBits(me, first, first+5)]
	}

	for i := 0; i < 8; i++ {
		c := cs[i]
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' ') {
			return "", false
		}
	}

	return strings.TrimSpace(string(cs[:])), true
}

// id13ToModeA rearranges a 13-bit identity/altitude field into the classic
// Mode A octal-digit layout (A in bits 12-14, B in 8-10, C in 4-6, D in 0-2).
func id13ToModeA(id13 uint32) uint32 {
	var modeA uint32
	if id13&0x1000 != 0 {
		modeA |= 0x0010 // C1
	}
	if id13&0x0800 != 0 {
		modeA |= 0x1000 // A1
	}
	if id13&0x0400 != 0 {
		modeA |= 0x0020 // C2
	}
	if id13&0x0200 != 0 {
		modeA |= 0x2000 // A2
	}
	if id13&0x0100 != 0 {
		modeA |= 0x0040 // C4
	}
	if id13&0x0080 != 0 {
		modeA |= 0x4000 // A4
	}
	// bit 6 is the M/X bit, never part of the code
	if id13&0x0020 != 0 {
		modeA |= 0x0100 // B1
	}
	if id13&0x0010 != 0 {
		modeA |= 0x0001 // D1/Q
	}
	if id13&0x0008 != 0 {
		modeA |= 0x0200 // B2
	}
	if id13&0x0004 != 0 {
		modeA |= 0x0002 // D2
	}
	if id13&0x0002 != 0 {
		modeA |= 0x0400 // B4
	}
	if id13&0x0001 != 0 {
		modeA |= 0x0004 // D4
	}
	return modeA
}

// gillhamToModeC converts a Gillham gray-coded Mode A value to a flight
// level in hundreds of feet. ok is false for illegal codes.
func gillhamToModeC(modeA uint32) (int32, bool) {
	// illegal set bits, or no C bits at all
	if modeA&0xFFFF8889 != 0 || modeA&0x000000F0 == 0 {
		return 0, false
	}

	var oneHundreds, fiveHundreds uint32

	if modeA&0x0010 != 0 {
		oneHundreds ^= 0x007 // C1
	}
	if modeA&0x0020 != 0 {
		oneHundreds ^= 0x003 // C2
	}
	if modeA&0x0040 != 0 {
		oneHundreds ^= 0x001 // C4
	}
	// remap the illegal 7 to 5
	if oneHundreds&5 == 5 {
		oneHundreds ^= 2
	}
	if oneHundreds > 5 {
		return 0, false
	}

	if modeA&0x0002 != 0 {
		fiveHundreds ^= 0x0FF // D2
	}
	if modeA&0x0004 != 0 {
		fiveHundreds ^= 0x07F // D4
	}
	if modeA&0x1000 != 0 {
		fiveHundreds ^= 0x03F // A1
	}
	if modeA&0x2000 != 0 {
		fiveHundreds ^= 0x01F // A2
	}
	if modeA&0x4000 != 0 {
		fiveHundreds ^= 0x00F // A4
	}
	if modeA&0x0100 != 0 {
		fiveHundreds ^= 0x007 // B1
	}
	if modeA&0x0200 != 0 {
		fiveHundreds ^= 0x003 // B2
	}
	if modeA&0x0400 != 0 {
		fiveHundreds ^= 0x001 // B4
	}

	// odd 500s invert the order of the 100s
	if fiveHundreds&1 != 0 {
		oneHundreds = 6 - oneHundreds
	}

	return int32(fiveHundreds*5+oneHundreds) - 13, true
}

// decodeAC13 decodes the 13-bit altitude field of DF 0/4/16/20 replies,
// supporting both the 25 ft Q-bit encoding and the Gillham table.
func decodeAC13(ac13 uint32) (int32, bool) {
	if ac13&0x0040 != 0 {
		// M bit set: metric altitude, not carried by any traffic we see
		return 0, false
	}
	if ac13&0x0010 != 0 {
		// Q bit: 25 ft linear encoding
		n := ((ac13 & 0x1F80) >> 2) | ((ac13 & 0x0020) >> 1) | (ac13 & 0x000F)
		return int32(n)*25 - 1000, true
	}

	modeC, ok := gillhamToModeC(id13ToModeA(ac13))
	if !ok || modeC < -12 {
		return 0, false
	}
	return modeC * 100, true
}

// decodeAC12 decodes the 12-bit altitude field of airborne position
// squitters (the AC13 layout with the M bit removed).
func decodeAC12(ac12 uint32) (int32, bool) {
	if ac12&0x0010 != 0 {
		n := ((ac12 & 0x0FE0) >> 1) | (ac12 & 0x000F)
		return int32(n)*25 - 1000, true
	}

	// reinsert M=0 at bit 6 and decode as Gillham
	ac13 := ((ac12 & 0x0FC0) << 1) | (ac12 & 0x003F)
	return decodeAC13(ac13)
}

// decodeSquawk converts the interleaved 13-bit identity field of DF 5/21
// replies to the four-digit squawk code.
func decodeSquawk(id13 uint32) uint16 {
	modeA := id13ToModeA(id13)
	a := (modeA >> 12) & 7
	b := (modeA >> 8) & 7
	c := (modeA >> 4) & 7
	d := modeA & 7
	return uint16(a*1000 + b*100 + c*10 + d)
}

// decodeVelocity interprets a TC 19 ME field, subtypes 1-4. ok is false for
// the reserved subtypes.
func decodeVelocity(me []byte) (AirborneVelocity, bool) {
	subtype := getBits(me, 6, 8)
	if subtype < 1 || subtype > 4 {
		return AirborneVelocity{}, false
	}

	var vel AirborneVelocity
	supersonic := subtype == 2 || subtype == 4
	unit := 1
	if supersonic {
		unit = 4
	}

	if subtype <= 2 {
		ewRaw := getBits(me, 15, 24)
		nsRaw := getBits(me, 26, 35)
		if ewRaw != 0 && nsRaw != 0 {
			ew := int(ewRaw-1) * unit
			if getBits(me, 14, 14) != 0 {
				ew = -ew
			}
			ns := int(nsRaw-1) * unit
			if getBits(me, 25, 25) != 0 {
				ns = -ns
			}

			vel.GroundSpeed = int(math.Sqrt(float64(ns*ns+ew*ew)) + 0.5)
			if vel.GroundSpeed > 0 {
				track := math.Atan2(float64(ew), float64(ns)) * 180.0 / math.Pi
				if track < 0 {
					track += 360
				}
				vel.Track = track
			}
		}
	} else {
		vel.AirspeedSource = true
		if getBits(me, 14, 14) != 0 {
			vel.Track = float64(getBits(me, 15, 24)) * 360.0 / 1024.0
		}
		if asRaw := getBits(me, 26, 35); asRaw != 0 {
			vel.GroundSpeed = int(asRaw-1) * unit
		}
	}

	if vrRaw := getBits(me, 38, 46); vrRaw != 0 {
		rate := int(vrRaw-1) * 64
		if getBits(me, 37, 37) != 0 {
			rate = -rate
		}
		vel.VerticalRate = rate
	}

	return vel, true
}

// decodeMovement converts the 7-bit surface movement field to ground speed
// in knots. ok is false when the field carries no information.
func decodeMovement(mov uint32) (float64, bool) {
	switch {
	case mov == 0 || mov > 124:
		return 0, false
	case mov == 1:
		return 0, true
	case mov <= 8:
		return 0.125 + float64(mov-2)*0.125, true
	case mov <= 12:
		return 1 + float64(mov-9)*0.25, true
	case mov <= 38:
		return 2 + float64(mov-13)*0.5, true
	case mov <= 93:
		return 15 + float64(mov-39)*1, true
	case mov <= 108:
		return 70 + float64(mov-94)*2, true
	case mov <= 123:
		return 100 + float64(mov-109)*5, true
	default:
		return 175, true
	}
}
