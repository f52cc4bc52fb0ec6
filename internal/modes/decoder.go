package modes

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sentinel1090/internal/beast"
)

// Decode failure taxonomy. Integrity failures are reported distinctly from
// unrecognized formats: the synchronizer re-seeks one byte after either, but
// a field range error means the frame boundary was genuine and the stream
// position must not rewind.
var (
	ErrFormatUnrecognized = errors.New("format unrecognized")
	ErrIntegrityCheck     = errors.New("integrity check failed")
	ErrFieldRange         = errors.New("field out of range")
)

// How long a validated ICAO address vouches for AP-overlaid replies.
const icaoCacheTTL = 60 * time.Second

// Decoder turns candidate frames into typed messages. It keeps a cache of
// recently validated ICAO addresses so that surveillance replies, whose
// parity field is overlaid with the transponder address, can be checked too.
type Decoder struct {
	logger     *logrus.Logger
	recentICAO map[uint32]time.Time
	clock      func() time.Time
}

// NewDecoder creates a decoder for one receiver stream.
func NewDecoder(logger *logrus.Logger) *Decoder {
	return &Decoder{
		logger:     logger,
		recentICAO: make(map[uint32]time.Time),
		clock:      time.Now,
	}
}

// Decode validates and interprets a single frame. On success the returned
// message's payload variant matches its downlink format. Failures are
// classified by the error taxonomy above; a message that fails its
// integrity check is never returned.
func (d *Decoder) Decode(frame *beast.RawFrame) (*Message, error) {
	if frame.Type != beast.TypeModeSShort && frame.Type != beast.TypeModeSLong {
		return nil, fmt.Errorf("%w: frame type 0x%02x", ErrFormatUnrecognized, frame.Type)
	}

	p := frame.Payload
	if len(p) != 7 && len(p) != 14 {
		return nil, fmt.Errorf("%w: %d byte payload", ErrFormatUnrecognized, len(p))
	}

	if idlePattern(p) {
		return nil, fmt.Errorf("%w: receiver idle pattern", ErrFormatUnrecognized)
	}

	df := p[0] >> 3
	if df >= 24 {
		// Comm-D ELM is signaled by the top two bits alone; 24-31 all mean DF24
		df = DFCommD
	}
	if !RecognizedDF(df) {
		return nil, fmt.Errorf("%w: DF%d", ErrFormatUnrecognized, df)
	}
	if IsLongFormat(df) != (len(p) == 14) {
		return nil, fmt.Errorf("%w: DF%d in %d byte frame", ErrFormatUnrecognized, df, len(p))
	}

	icao, err := d.checkIntegrity(df, p)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ICAO:      icao,
		DF:        df,
		Signal:    float64(frame.Signal) / 255.0 * 100.0,
		Receiver:  frame.Receiver,
		Timestamp: frame.Timestamp,
		Raw:       p,
	}

	if err := d.decodePayload(msg, p); err != nil {
		return nil, err
	}
	return msg, nil
}

// checkIntegrity compares the computed parity against the frame's trailing
// field according to the downlink format's rules and returns the
// transponder address.
func (d *Decoder) checkIntegrity(df uint8, p []byte) (uint32, error) {
	syndrome := Checksum(p[:len(p)-3]) ^ trailingField(p)

	switch df {
	case DFExtSquitter, DFExtSquitterNT:
		if syndrome != 0 {
			return 0, fmt.Errorf("%w: syndrome %06X", ErrIntegrityCheck, syndrome)
		}
		icao := addressField(p)
		d.remember(icao)
		return icao, nil

	case DFAllCall:
		// low 7 bits carry the interrogator ID
		if syndrome&0xFFFF80 != 0 {
			return 0, fmt.Errorf("%w: syndrome %06X", ErrIntegrityCheck, syndrome)
		}
		icao := addressField(p)
		d.remember(icao)
		return icao, nil

	case DFMilExtSquitter:
		// parity-checked like DF17 but the body stays opaque, so the
		// address does not vouch for overlaid replies
		if syndrome != 0 {
			return 0, fmt.Errorf("%w: syndrome %06X", ErrIntegrityCheck, syndrome)
		}
		return addressField(p), nil

	default:
		// Address/parity overlay: the syndrome equals the transponder
		// address when the frame is intact. Only addresses vouched for by a
		// recent self-checking message are accepted.
		if !d.known(syndrome) {
			return 0, fmt.Errorf("%w: unverified address overlay %06X", ErrIntegrityCheck, syndrome)
		}
		return syndrome, nil
	}
}

func (d *Decoder) decodePayload(msg *Message, p []byte) error {
	switch msg.DF {
	case DFExtSquitter, DFExtSquitterNT:
		return d.decodeExtendedSquitter(msg, p)

	case DFShortAirAir, DFSurveillanceAlt, DFLongAirAir, DFCommBAlt:
		ac13 := getBits(p, 20, 32)
		if ac13 == 0 {
			msg.Payload = Unknown{}
			return nil
		}
		alt, ok := decodeAC13(ac13)
		if !ok {
			return fmt.Errorf("%w: altitude code %04X", ErrFieldRange, ac13)
		}
		msg.Payload = SurveillanceAltitude{Altitude: alt}
		return nil

	case DFSurveillanceIdent, DFCommBIdent:
		msg.Payload = SurveillanceIdentity{Squawk: decodeSquawk(getBits(p, 20, 32))}
		return nil

	default:
		msg.Payload = Unknown{}
		return nil
	}
}

func (d *Decoder) decodeExtendedSquitter(msg *Message, p []byte) error {
	me := p[4:11]
	tc := uint8(me[0] >> 3)
	msg.TypeCode = tc

	switch {
	case tc >= 1 && tc <= 4:
		callsign, ok := decodeCallsign(me)
		if !ok {
			return fmt.Errorf("%w: illegal callsign characters", ErrFieldRange)
		}
		msg.Payload = Identification{Callsign: callsign}

	case tc >= 5 && tc <= 8:
		pos := SurfacePosition{
			OddParity: getBits(me, 22, 22) == 1,
			LatCPR:    getBits(me, 23, 39),
			LonCPR:    getBits(me, 40, 56),
		}
		if speed, ok := decodeMovement(getBits(me, 6, 12)); ok {
			pos.GroundSpeed = speed
			pos.HasSpeed = true
		}
		if getBits(me, 13, 13) == 1 {
			pos.Track = float64(getBits(me, 14, 20)) * 360.0 / 128.0
			pos.HasTrack = true
		}
		msg.Payload = pos

	case (tc >= 9 && tc <= 18) || (tc >= 20 && tc <= 22):
		pos := AirbornePosition{
			OddParity: getBits(me, 22, 22) == 1,
			LatCPR:    getBits(me, 23, 39),
			LonCPR:    getBits(me, 40, 56),
		}
		if tc <= 18 {
			// barometric altitude; TC 20-22 carry GNSS height instead
			if ac12 := getBits(me, 9, 20); ac12 != 0 {
				alt, ok := decodeAC12(ac12)
				if !ok {
					return fmt.Errorf("%w: altitude code %03X", ErrFieldRange, ac12)
				}
				pos.Altitude = alt
				pos.HasAltitude = true
			}
		}
		msg.Payload = pos

	case tc == 19:
		vel, ok := decodeVelocity(me)
		if !ok {
			return fmt.Errorf("%w: velocity subtype %d", ErrFieldRange, getBits(me, 6, 8))
		}
		msg.Payload = vel

	default:
		msg.Payload = Unknown{}
	}

	return nil
}

func (d *Decoder) remember(icao uint32) {
	if icao == 0 {
		return
	}
	now := d.clock()
	d.recentICAO[icao] = now

	// opportunistic pruning keeps the cache bounded
	if len(d.recentICAO) > 4096 {
		for addr, seen := range d.recentICAO {
			if now.Sub(seen) > icaoCacheTTL {
				delete(d.recentICAO, addr)
			}
		}
	}
}

func (d *Decoder) known(icao uint32) bool {
	if icao == 0 {
		return false
	}
	seen, ok := d.recentICAO[icao]
	return ok && d.clock().Sub(seen) <= icaoCacheTTL
}

func addressField(p []byte) uint32 {
	return uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}

// trailingField returns the last three bytes: the parity field, possibly
// overlaid with an address or interrogator ID.
func trailingField(p []byte) uint32 {
	n := len(p)
	return uint32(p[n-3])<<16 | uint32(p[n-2])<<8 | uint32(p[n-1])
}

// idlePattern reports whether the payload is one of the receiver idle
// fillers (all zeros or all ones) that show up in raw captures.
func idlePattern(p []byte) bool {
	zero, ones := true, true
	for _, b := range p {
		if b != 0x00 {
			zero = false
		}
		if b != 0xFF {
			ones = false
		}
	}
	return zero || ones
}
