package cpr

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel1090/internal/modes"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func posMsg(icao uint32, receiver string, ts time.Time) *modes.Message {
	return &modes.Message{
		ICAO:      icao,
		DF:        17,
		Receiver:  receiver,
		Timestamp: ts,
	}
}

func cprReport(lat, lon float64, odd bool, altitude int32) modes.AirbornePosition {
	latCPR, lonCPR := EncodeGlobal(lat, lon, odd)
	return modes.AirbornePosition{
		OddParity:   odd,
		LatCPR:      latCPR,
		LonCPR:      lonCPR,
		Altitude:    altitude,
		HasAltitude: true,
	}
}

func TestResolver_GlobalDecode(t *testing.T) {
	r := NewResolver(DefaultConfig(), testLogger())
	t0 := time.Now()

	// known pair from 40621D
	odd := modes.AirbornePosition{OddParity: true, LatCPR: 74158, LonCPR: 50194, Altitude: 38000, HasAltitude: true}
	even := modes.AirbornePosition{OddParity: false, LatCPR: 93000, LonCPR: 51372, Altitude: 38000, HasAltitude: true}

	fix, err := r.Resolve(posMsg(0x40621D, "rx-1", t0), odd)
	require.NoError(t, err)
	assert.Nil(t, fix, "single parity must be buffered, not resolved")

	fix, err = r.Resolve(posMsg(0x40621D, "rx-1", t0.Add(time.Second)), even)
	require.NoError(t, err)
	require.NotNil(t, fix)

	assert.InDelta(t, 52.25720, fix.Lat, 0.0001)
	assert.InDelta(t, 3.91937, fix.Lon, 0.0001)
	assert.Equal(t, MethodGlobal, fix.Method)
	assert.Equal(t, "global", fix.MethodName)
	assert.True(t, fix.HighConfidence)
	assert.True(t, fix.HasAltitude)
	assert.Equal(t, int32(38000), fix.Altitude)
}

func TestResolver_PairingWindowExpired(t *testing.T) {
	r := NewResolver(Config{PairingWindow: 10 * time.Second}, testLogger())
	t0 := time.Now()

	fix, err := r.Resolve(posMsg(0x40621D, "rx-1", t0), cprReport(52.25, 3.92, true, 38000))
	require.NoError(t, err)
	assert.Nil(t, fix)

	// complementary parity arrives too late for a trustworthy pair
	fix, err = r.Resolve(posMsg(0x40621D, "rx-1", t0.Add(11*time.Second)), cprReport(52.26, 3.93, false, 38000))
	require.NoError(t, err)
	assert.Nil(t, fix)
	assert.Equal(t, 1, r.Pending())
}

func TestResolver_LocalDecodeAfterFix(t *testing.T) {
	r := NewResolver(DefaultConfig(), testLogger())
	t0 := time.Now()

	_, err := r.Resolve(posMsg(0xABC123, "rx-1", t0), cprReport(52.25, 3.92, true, 35000))
	require.NoError(t, err)
	fix, err := r.Resolve(posMsg(0xABC123, "rx-1", t0.Add(time.Second)), cprReport(52.25, 3.92, false, 35000))
	require.NoError(t, err)
	require.NotNil(t, fix)
	require.Equal(t, MethodGlobal, fix.Method)

	// a lone even frame 30 s later resolves locally off the fresh fix
	report := cprReport(52.27, 3.95, false, 35100)
	fix2, err := r.Resolve(posMsg(0xABC123, "rx-1", t0.Add(31*time.Second)), report)
	require.NoError(t, err)
	require.NotNil(t, fix2)

	assert.Equal(t, MethodLocal, fix2.Method)
	assert.False(t, fix2.HighConfidence)
	assert.InDelta(t, 52.27, fix2.Lat, 0.001)
	assert.InDelta(t, 3.95, fix2.Lon, 0.001)
}

func TestResolver_ImplausibleJumpRejected(t *testing.T) {
	r := NewResolver(DefaultConfig(), testLogger())
	t0 := time.Now()

	_, err := r.Resolve(posMsg(0xABC123, "rx-1", t0), cprReport(52.25, 3.92, true, 35000))
	require.NoError(t, err)
	fix, err := r.Resolve(posMsg(0xABC123, "rx-1", t0.Add(time.Second)), cprReport(52.25, 3.92, false, 35000))
	require.NoError(t, err)
	require.NotNil(t, fix)

	// one degree of latitude in fourteen seconds is far outside any real
	// aircraft's reach
	_, err = r.Resolve(posMsg(0xABC123, "rx-1", t0.Add(15*time.Second)), cprReport(53.25, 3.92, true, 35000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImplausible)
}

func TestResolver_ZoneMismatchDiscardsPair(t *testing.T) {
	r := NewResolver(DefaultConfig(), testLogger())
	t0 := time.Now()

	// raw pair straddling the 10.47047 NL transition
	odd := modes.AirbornePosition{OddParity: true, LatCPR: 94263, LonCPR: 0}
	even := modes.AirbornePosition{OddParity: false, LatCPR: 97212, LonCPR: 0}

	_, err := r.Resolve(posMsg(0xDEAD01, "rx-1", t0), odd)
	require.NoError(t, err)

	_, err = r.Resolve(posMsg(0xDEAD01, "rx-1", t0.Add(time.Second)), even)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrZoneMismatch)

	// both halves were discarded: a new even report has nothing to pair with
	fix, err := r.Resolve(posMsg(0xDEAD01, "rx-1", t0.Add(2*time.Second)), cprReport(10.3, 10.0, false, 30000))
	require.NoError(t, err)
	assert.Nil(t, fix, "stale half of a rejected pair must not seed a decode")
}

func TestResolver_PerReceiverState(t *testing.T) {
	r := NewResolver(DefaultConfig(), testLogger())
	t0 := time.Now()

	// odd on one receiver, even on another: no shared pair
	_, err := r.Resolve(posMsg(0xABC123, "rx-1", t0), cprReport(52.25, 3.92, true, 35000))
	require.NoError(t, err)

	fix, err := r.Resolve(posMsg(0xABC123, "rx-2", t0.Add(time.Second)), cprReport(52.25, 3.92, false, 35000))
	require.NoError(t, err)
	assert.Nil(t, fix, "pairing state must be per receiver")
	assert.Equal(t, 2, r.Pending())
}

func TestResolver_Sweep(t *testing.T) {
	r := NewResolver(DefaultConfig(), testLogger())
	t0 := time.Now()

	_, err := r.Resolve(posMsg(0xABC123, "rx-1", t0), cprReport(52.25, 3.92, true, 35000))
	require.NoError(t, err)
	_, err = r.Resolve(posMsg(0xDEF456, "rx-1", t0.Add(4*time.Minute)), cprReport(10.2, 20.0, true, 31000))
	require.NoError(t, err)

	removed := r.Sweep(t0.Add(5*time.Minute), 3*time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Pending())
}
