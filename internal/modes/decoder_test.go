package modes

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel1090/internal/beast"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func rawFrame(payload []byte, signal byte) *beast.RawFrame {
	frameType := byte(beast.TypeModeSLong)
	if len(payload) == 7 {
		frameType = beast.TypeModeSShort
	}
	return &beast.RawFrame{
		Receiver:  "rx-1",
		Type:      frameType,
		MLAT:      1,
		Signal:    signal,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

func TestDecode_Identification(t *testing.T) {
	d := NewDecoder(testLogger())

	msg, err := d.Decode(rawFrame(mustHex(t, "8D4840D6202CC371C32CE0576098"), 0xFF))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x4840D6), msg.ICAO)
	assert.Equal(t, "4840D6", msg.ICAOHex())
	assert.Equal(t, uint8(17), msg.DF)
	assert.Equal(t, uint8(4), msg.TypeCode)
	assert.InDelta(t, 100.0, msg.Signal, 0.01)

	ident, ok := msg.Payload.(Identification)
	require.True(t, ok)
	assert.Equal(t, "KLM1023", ident.Callsign)
}

func TestDecode_AirbornePosition(t *testing.T) {
	d := NewDecoder(testLogger())

	msg, err := d.Decode(rawFrame(mustHex(t, "8D40621D58C382D690C8AC2863A7"), 0x80))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x40621D), msg.ICAO)
	assert.Equal(t, uint8(11), msg.TypeCode)

	pos, ok := msg.Payload.(AirbornePosition)
	require.True(t, ok)
	assert.False(t, pos.OddParity)
	assert.Equal(t, uint32(93000), pos.LatCPR)
	assert.Equal(t, uint32(51372), pos.LonCPR)
	require.True(t, pos.HasAltitude)
	assert.Equal(t, int32(38000), pos.Altitude)

	msg, err = d.Decode(rawFrame(mustHex(t, "8D40621D58C386435CC412692AD6"), 0x80))
	require.NoError(t, err)

	pos, ok = msg.Payload.(AirbornePosition)
	require.True(t, ok)
	assert.True(t, pos.OddParity)
	assert.Equal(t, uint32(74158), pos.LatCPR)
	assert.Equal(t, uint32(50194), pos.LonCPR)
}

func TestDecode_Velocity(t *testing.T) {
	d := NewDecoder(testLogger())

	msg, err := d.Decode(rawFrame(mustHex(t, "8D485020994409940838175B284F"), 0x40))
	require.NoError(t, err)

	vel, ok := msg.Payload.(AirborneVelocity)
	require.True(t, ok)
	assert.Equal(t, 159, vel.GroundSpeed)
	assert.InDelta(t, 182.88, vel.Track, 0.01)
	assert.Equal(t, -832, vel.VerticalRate)
}

func TestDecode_CorruptedFrameRejected(t *testing.T) {
	d := NewDecoder(testLogger())

	frame := mustHex(t, "8D4840D6202CC371C32CE0576098")
	frame[5] ^= 0x01

	_, err := d.Decode(rawFrame(frame, 0x40))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrityCheck)
}

func TestDecode_SignalNormalization(t *testing.T) {
	d := NewDecoder(testLogger())
	payload := mustHex(t, "8D4840D6202CC371C32CE0576098")

	msg, err := d.Decode(rawFrame(payload, 0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, msg.Signal)

	msg, err = d.Decode(rawFrame(payload, 0xFF))
	require.NoError(t, err)
	assert.Equal(t, 100.0, msg.Signal)
}

func TestDecode_IdlePatternsRejected(t *testing.T) {
	d := NewDecoder(testLogger())

	for _, fill := range []byte{0x00, 0xFF} {
		payload := make([]byte, 14)
		for i := range payload {
			payload[i] = fill
		}
		_, err := d.Decode(rawFrame(payload, 0x40))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFormatUnrecognized)
	}
}

func TestDecode_UnrecognizedFormat(t *testing.T) {
	d := NewDecoder(testLogger())

	payload := make([]byte, 14)
	payload[0] = 25 << 3 // DF25 is not assigned
	payload[1] = 0x01
	AttachChecksum(payload)

	_, err := d.Decode(rawFrame(payload, 0x40))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormatUnrecognized)
}

func TestDecode_MilitaryExtSquitter(t *testing.T) {
	d := NewDecoder(testLogger())

	payload := make([]byte, 14)
	payload[0] = 19 << 3
	payload[1], payload[2], payload[3] = 0x48, 0x40, 0xD6
	AttachChecksum(payload)

	msg, err := d.Decode(rawFrame(payload, 0x40))
	require.NoError(t, err)

	assert.Equal(t, uint8(19), msg.DF)
	assert.Equal(t, uint32(0x4840D6), msg.ICAO)
	_, ok := msg.Payload.(Unknown)
	assert.True(t, ok, "military squitter bodies stay opaque")
}

func TestDecode_CommDFormatBits(t *testing.T) {
	d := NewDecoder(testLogger())

	// vouch for the address so the overlay can be verified
	_, err := d.Decode(rawFrame(mustHex(t, "8D4840D6202CC371C32CE0576098"), 0x40))
	require.NoError(t, err)

	// only the top two bits signal Comm-D; the rest of the DF field is data
	for _, first := range []byte{0xC0, 0xE5, 0xF8} {
		payload := make([]byte, 14)
		payload[0] = first
		payload[1] = 0x01
		AttachChecksum(payload)
		payload[11] ^= 0x48
		payload[12] ^= 0x40
		payload[13] ^= 0xD6

		msg, err := d.Decode(rawFrame(payload, 0x40))
		require.NoError(t, err, "first byte 0x%02X", first)
		assert.Equal(t, uint8(DFCommD), msg.DF)
		assert.Equal(t, uint32(0x4840D6), msg.ICAO)
		_, ok := msg.Payload.(Unknown)
		assert.True(t, ok)
	}
}

func TestDecode_LengthFormatMismatch(t *testing.T) {
	d := NewDecoder(testLogger())

	// DF17 grammar requires a long frame
	payload := make([]byte, 7)
	payload[0] = 17 << 3
	payload[1] = 0x01
	AttachChecksum(payload)

	_, err := d.Decode(rawFrame(payload, 0x40))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormatUnrecognized)
}

// buildOverlayReply builds a surveillance reply whose parity field is
// overlaid with the given address.
func buildOverlayReply(t *testing.T, first4 []byte, icao uint32) []byte {
	t.Helper()
	require.Len(t, first4, 4)

	p := make([]byte, 7)
	copy(p, first4)
	AttachChecksum(p)
	p[4] ^= byte(icao >> 16)
	p[5] ^= byte(icao >> 8)
	p[6] ^= byte(icao)
	return p
}

func TestDecode_SurveillanceAltitudeNeedsKnownAddress(t *testing.T) {
	d := NewDecoder(testLogger())

	// DF4 with a 38000 ft altitude code, parity overlaid with 4840D6
	df4 := buildOverlayReply(t, []byte{0x20, 0x00, 0x18, 0x38}, 0x4840D6)

	// unknown address: the overlay cannot be verified
	_, err := d.Decode(rawFrame(df4, 0x40))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrityCheck)

	// a self-checking squitter vouches for the address
	_, err = d.Decode(rawFrame(mustHex(t, "8D4840D6202CC371C32CE0576098"), 0x40))
	require.NoError(t, err)

	msg, err := d.Decode(rawFrame(df4, 0x40))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4840D6), msg.ICAO)

	alt, ok := msg.Payload.(SurveillanceAltitude)
	require.True(t, ok)
	assert.Equal(t, int32(38000), alt.Altitude)
}

func TestDecode_SurveillanceIdentity(t *testing.T) {
	d := NewDecoder(testLogger())

	// vouch for the address first
	_, err := d.Decode(rawFrame(mustHex(t, "8D4840D6202CC371C32CE0576098"), 0x40))
	require.NoError(t, err)

	// DF5 carrying squawk 7500
	df5 := buildOverlayReply(t, []byte{0x28, 0x00, 0x0A, 0xA2}, 0x4840D6)

	msg, err := d.Decode(rawFrame(df5, 0x40))
	require.NoError(t, err)

	ident, ok := msg.Payload.(SurveillanceIdentity)
	require.True(t, ok)
	assert.Equal(t, uint16(7500), ident.Squawk)
}

func TestDecode_ICAOCacheExpires(t *testing.T) {
	d := NewDecoder(testLogger())

	now := time.Now()
	d.clock = func() time.Time { return now }

	_, err := d.Decode(rawFrame(mustHex(t, "8D4840D6202CC371C32CE0576098"), 0x40))
	require.NoError(t, err)

	df4 := buildOverlayReply(t, []byte{0x20, 0x00, 0x18, 0x38}, 0x4840D6)
	_, err = d.Decode(rawFrame(df4, 0x40))
	require.NoError(t, err)

	// beyond the cache TTL the address no longer vouches
	now = now.Add(icaoCacheTTL + time.Second)
	_, err = d.Decode(rawFrame(df4, 0x40))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrityCheck)
}

func TestDecode_FieldRangeError(t *testing.T) {
	d := NewDecoder(testLogger())

	// TC19 with a reserved velocity subtype: grammar and parity are fine,
	// the field content is not
	payload := make([]byte, 14)
	payload[0] = 0x8D
	payload[1], payload[2], payload[3] = 0x48, 0x40, 0xD6
	payload[4] = 19<<3 | 0 // subtype 0
	AttachChecksum(payload)

	_, err := d.Decode(rawFrame(payload, 0x40))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldRange)
}
