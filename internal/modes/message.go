package modes

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Short-frame downlink formats; everything else that is recognized arrives
// in a long frame.
const (
	DFShortAirAir       = 0  // ACAS short air-air surveillance
	DFSurveillanceAlt   = 4  // altitude reply
	DFSurveillanceIdent = 5  // identity reply
	DFAllCall           = 11 // all-call reply
	DFLongAirAir        = 16 // ACAS long air-air surveillance
	DFExtSquitter       = 17 // ADS-B extended squitter
	DFExtSquitterNT     = 18 // extended squitter, non-transponder
	DFMilExtSquitter    = 19
	DFCommBAlt          = 20 // Comm-B altitude reply
	DFCommBIdent        = 21 // Comm-B identity reply
	DFCommD             = 24
)

// Message is one successfully decoded Mode S message. The payload variant
// always matches the downlink format and type code it was decoded from; a
// message that failed its integrity check never becomes a Message.
type Message struct {
	ICAO      uint32    `json:"icao"`
	DF        uint8     `json:"df"`
	TypeCode  uint8     `json:"type_code,omitempty"`
	Signal    float64   `json:"signal"` // percent of receiver full scale
	Receiver  string    `json:"receiver"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"-"`
	Raw       []byte    `json:"-"`
}

// Payload is the closed set of decoded message bodies. Switching over the
// concrete types covers every downlink format the decoder recognizes.
type Payload interface {
	payloadKind() string
}

// Identification carries the callsign from TC 1-4 extended squitters.
type Identification struct {
	Callsign string `json:"callsign"`
}

// AirbornePosition is one half of a CPR position pair (TC 9-18, 20-22).
type AirbornePosition struct {
	OddParity   bool   `json:"odd_parity"`
	LatCPR      uint32 `json:"lat_cpr"`            // 17-bit quantized latitude
	LonCPR      uint32 `json:"lon_cpr"`            // 17-bit quantized longitude
	Altitude    int32  `json:"altitude,omitempty"` // feet
	HasAltitude bool   `json:"has_altitude"`
}

// SurfacePosition is a CPR position report broadcast on the ground (TC 5-8).
type SurfacePosition struct {
	OddParity   bool    `json:"odd_parity"`
	LatCPR      uint32  `json:"lat_cpr"`
	LonCPR      uint32  `json:"lon_cpr"`
	GroundSpeed float64 `json:"ground_speed,omitempty"` // knots
	HasSpeed    bool    `json:"has_speed"`
	Track       float64 `json:"track,omitempty"` // degrees
	HasTrack    bool    `json:"has_track"`
}

// AirborneVelocity carries TC 19 velocity data. For subtypes 3/4 the speed
// is an airspeed, flagged by AirspeedSource.
type AirborneVelocity struct {
	GroundSpeed    int     `json:"ground_speed"`  // knots
	Track          float64 `json:"track"`         // degrees
	VerticalRate   int     `json:"vertical_rate"` // ft/min
	AirspeedSource bool    `json:"airspeed_source"`
}

// SurveillanceAltitude is the 13-bit altitude from DF 0/4/16/20 replies.
type SurveillanceAltitude struct {
	Altitude int32 `json:"altitude"` // feet
}

// SurveillanceIdentity is the squawk code from DF 5/21 replies.
type SurveillanceIdentity struct {
	Squawk uint16 `json:"squawk"`
}

// Unknown covers recognized downlink formats whose body the pipeline does
// not interpret (DF 11 all-calls, unsupported type codes, DF 19/24).
type Unknown struct{}

func (Identification) payloadKind() string       { return "identification" }
func (AirbornePosition) payloadKind() string     { return "airborne_position" }
func (SurfacePosition) payloadKind() string      { return "surface_position" }
func (AirborneVelocity) payloadKind() string     { return "airborne_velocity" }
func (SurveillanceAltitude) payloadKind() string { return "surveillance_altitude" }
func (SurveillanceIdentity) payloadKind() string { return "surveillance_identity" }
func (Unknown) payloadKind() string              { return "other" }

// Kind names the payload variant for records and metrics labels.
func (m *Message) Kind() string {
	if m.Payload == nil {
		return "other"
	}
	return m.Payload.payloadKind()
}

// ICAOHex formats the aircraft address as six uppercase hex digits.
func (m *Message) ICAOHex() string {
	return fmt.Sprintf("%06X", m.ICAO)
}

// RawHex returns the raw frame bytes as a lowercase hex string.
func (m *Message) RawHex() string {
	return hex.EncodeToString(m.Raw)
}

// IsLongFormat reports whether a downlink format uses the 112-bit frame.
func IsLongFormat(df uint8) bool {
	switch df {
	case DFLongAirAir, DFExtSquitter, DFExtSquitterNT, DFMilExtSquitter,
		DFCommBAlt, DFCommBIdent, DFCommD:
		return true
	}
	return false
}

// RecognizedDF reports whether df is a downlink format this decoder knows.
func RecognizedDF(df uint8) bool {
	switch df {
	case DFShortAirAir, DFSurveillanceAlt, DFSurveillanceIdent, DFAllCall,
		DFLongAirAir, DFExtSquitter, DFExtSquitterNT, DFMilExtSquitter,
		DFCommBAlt, DFCommBIdent, DFCommD:
		return true
	}
	return false
}
