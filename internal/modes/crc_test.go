package modes

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	data, err := hex.DecodeString(s)
	require.NoError(t, err)
	return data
}

func TestChecksum_KnownFrames(t *testing.T) {
	tests := []struct {
		name string
		hex  string
	}{
		{"identification squitter", "8D4840D6202CC371C32CE0576098"},
		{"airborne position even", "8D40621D58C382D690C8AC2863A7"},
		{"airborne position odd", "8D40621D58C386435CC412692AD6"},
		{"airborne velocity", "8D485020994409940838175B284F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := mustHex(t, tt.hex)
			parity := Checksum(frame[:11])
			stored := uint32(frame[11])<<16 | uint32(frame[12])<<8 | uint32(frame[13])
			assert.Equal(t, stored, parity, "syndrome must be zero for an intact squitter")
		})
	}
}

func TestChecksum_DetectsCorruption(t *testing.T) {
	frame := mustHex(t, "8D4840D6202CC371C32CE0576098")

	for bit := 0; bit < len(frame)*8; bit++ {
		corrupted := make([]byte, len(frame))
		copy(corrupted, frame)
		corrupted[bit/8] ^= 1 << (7 - bit%8)

		parity := Checksum(corrupted[:11])
		stored := uint32(corrupted[11])<<16 | uint32(corrupted[12])<<8 | uint32(corrupted[13])
		assert.NotEqual(t, stored, parity, "bit flip at %d must break the parity", bit)
	}
}

func TestAttachChecksum_RoundTrip(t *testing.T) {
	frame := make([]byte, 14)
	frame[0] = 0x8D
	frame[1], frame[2], frame[3] = 0x48, 0x40, 0xD6
	frame[4] = 0x20

	AttachChecksum(frame)

	parity := Checksum(frame[:11])
	stored := uint32(frame[11])<<16 | uint32(frame[12])<<8 | uint32(frame[13])
	assert.Equal(t, stored, parity)
}

func TestChecksum_ShortFrame(t *testing.T) {
	frame := make([]byte, 7)
	frame[0] = 0x28 // DF5
	frame[1] = 0x00
	frame[2] = 0x0A
	frame[3] = 0xA2
	AttachChecksum(frame)

	parity := Checksum(frame[:4])
	stored := uint32(frame[4])<<16 | uint32(frame[5])<<8 | uint32(frame[6])
	assert.Equal(t, stored, parity)
}
