package beast

import (
	"time"
)

// Beast capture format constants. The marker byte precedes every frame; the
// type byte implies the payload length.
const (
	Marker         = 0x1A // frame marker / escape byte
	TypeModeAC     = 0x31 // Mode A/C (2 byte payload)
	TypeModeSShort = 0x32 // Mode S short (56 bits)
	TypeModeSLong  = 0x33 // Mode S long (112 bits)
	TypeStatus     = 0x34 // receiver status (2 byte payload)
)

// RawFrame is one candidate frame recovered from a receiver byte stream.
// It is ephemeral: the synchronizer produces it and the decoder consumes it
// immediately. Payload is an owned copy, safe to retain.
type RawFrame struct {
	Receiver  string
	Type      byte
	MLAT      uint64 // 48-bit receiver counter, 12 MHz
	Signal    byte   // raw signal strength, receiver-local units
	Payload   []byte
	Timestamp time.Time
}

// PayloadLength returns the payload size implied by a frame type byte, or 0
// for unknown types.
func PayloadLength(frameType byte) int {
	switch frameType {
	case TypeModeAC:
		return 2
	case TypeModeSShort:
		return 7
	case TypeModeSLong:
		return 14
	case TypeStatus:
		return 2
	default:
		return 0
	}
}
