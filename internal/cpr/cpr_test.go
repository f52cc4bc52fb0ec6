package cpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNL(t *testing.T) {
	tests := []struct {
		lat      float64
		expected int
	}{
		{0, 59},
		{10.4, 59},
		{10.5, 58},
		{-10.5, 58},
		{52.26, 36},
		{86.9, 2},
		{87.5, 1},
		{90, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, nl(tt.lat), "NL(%f)", tt.lat)
	}
}

func TestDecodeGlobal_KnownPair(t *testing.T) {
	// even/odd pair broadcast by 40621D over the Netherlands
	lat, lon, ok := decodeGlobal(93000, 51372, 74158, 50194, false)
	require.True(t, ok)
	assert.InDelta(t, 52.25720, lat, 0.0001)
	assert.InDelta(t, 3.91937, lon, 0.0001)
}

func TestDecodeGlobal_NewestOdd(t *testing.T) {
	// same pair, resolved in the odd frame's zone
	lat, _, ok := decodeGlobal(93000, 51372, 74158, 50194, true)
	require.True(t, ok)
	assert.InDelta(t, 52.26578, lat, 0.001)
}

func TestDecodeGlobal_RoundTrip(t *testing.T) {
	positions := []struct {
		lat, lon float64
	}{
		{52.2572, 3.9194},
		{-33.9461, 151.1772},
		{35.5494, 139.7798},
		{0.5, 0.5},
		{64.1300, -21.9406},
	}

	for _, p := range positions {
		evenLat, evenLon := EncodeGlobal(p.lat, p.lon, false)
		oddLat, oddLon := EncodeGlobal(p.lat, p.lon, true)

		lat, lon, ok := decodeGlobal(evenLat, evenLon, oddLat, oddLon, false)
		require.True(t, ok, "pair for (%f, %f)", p.lat, p.lon)
		assert.InDelta(t, p.lat, lat, 0.001)
		assert.InDelta(t, p.lon, lon, 0.001)
	}
}

func TestDecodeGlobal_ZoneMismatch(t *testing.T) {
	// A pair whose candidate latitudes straddle the 10.47047 NL transition:
	// the even report implies 10.45, the odd 10.49, so the two parities
	// disagree on the zone count and the pair is internally inconsistent.
	_, _, ok := decodeGlobal(97212, 0, 94263, 0, false)
	assert.False(t, ok, "inconsistent pair must be rejected")
}

func TestDecodeLocal_NearReference(t *testing.T) {
	evenLat, evenLon := EncodeGlobal(52.2572, 3.9194, false)

	lat, lon, ok := decodeLocal(evenLat, evenLon, false, 52.3, 3.9)
	require.True(t, ok)
	assert.InDelta(t, 52.2572, lat, 0.001)
	assert.InDelta(t, 3.9194, lon, 0.001)
}

func TestDecodeLocal_OddFrame(t *testing.T) {
	oddLat, oddLon := EncodeGlobal(52.2572, 3.9194, true)

	lat, lon, ok := decodeLocal(oddLat, oddLon, true, 52.25, 3.92)
	require.True(t, ok)
	assert.InDelta(t, 52.2572, lat, 0.001)
	assert.InDelta(t, 3.9194, lon, 0.001)
}

func TestDecodeLocal_SouthernHemisphere(t *testing.T) {
	evenLat, evenLon := EncodeGlobal(-33.9461, 151.1772, false)

	lat, lon, ok := decodeLocal(evenLat, evenLon, false, -33.9, 151.2)
	require.True(t, ok)
	assert.InDelta(t, -33.9461, lat, 0.001)
	assert.InDelta(t, 151.1772, lon, 0.001)
}
