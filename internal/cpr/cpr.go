// Package cpr reconstructs absolute positions from Compact Position
// Reporting fields. A global decode needs an even/odd report pair close in
// time; a local decode needs a trusted reference position instead and is
// reported with lower confidence.
package cpr

import (
	"math"

	"sentinel1090/internal/geo"
)

// 2^17, the CPR field quantization.
const cprMax = 131072.0

// NL transition latitudes: nlTable[i] is the latitude below which the number
// of longitude zones is 59-i.
var nlTable = [...]float64{
	10.47047130, 14.82817437, 18.18626357, 21.02939493, 23.54504487,
	25.82924707, 27.93898710, 29.91135686, 31.77209708, 33.53993436,
	35.22899598, 36.85025108, 38.41241892, 39.92256684, 41.38651832,
	42.80914012, 44.19454951, 45.54626723, 46.86733252, 48.16039128,
	49.42776439, 50.67150166, 51.89342469, 53.09516153, 54.27817472,
	55.44378444, 56.59318756, 57.72747354, 58.84763776, 59.95459277,
	61.04917774, 62.13216659, 63.20427479, 64.26616523, 65.31845310,
	66.36171008, 67.39646774, 68.42322022, 69.44242631, 70.45451075,
	71.45986473, 72.45884545, 73.45177442, 74.43893416, 75.42056257,
	76.39684391, 77.36789461, 78.33374083, 79.29428225, 80.24923213,
	81.19801349, 82.13956981, 83.07199445, 83.99173563, 84.89166191,
	85.75541621, 86.53536998, 87.00000000,
}

// nl returns the number of longitude zones at a latitude.
func nl(lat float64) int {
	absLat := math.Abs(lat)
	for i, limit := range nlTable {
		if absLat < limit {
			return 59 - i
		}
	}
	return 1
}

// modPos is the always-positive modulo the zone arithmetic needs.
func modPos(a, b int) int {
	res := a % b
	if res < 0 {
		res += b
	}
	return res
}

// nFunc returns the longitude zone count for a latitude and parity, never
// less than one.
func nFunc(lat float64, odd bool) int {
	n := nl(lat)
	if odd {
		n--
	}
	if n < 1 {
		n = 1
	}
	return n
}

func dLon(lat float64, odd bool) float64 {
	return 360.0 / float64(nFunc(lat, odd))
}

// decodeGlobal resolves a position from a complementary even/odd pair. The
// longitude is computed in the zone of the newer report. ok is false when
// the pair is internally inconsistent: a latitude outside [-90,90] or the
// two reports disagreeing on the zone count, which is exactly the signature
// of an injected pair with inconsistent geospatial encoding.
func decodeGlobal(evenLat, evenLon, oddLat, oddLon uint32, newestOdd bool) (lat, lon float64, ok bool) {
	const dLat0 = 360.0 / 60.0
	const dLat1 = 360.0 / 59.0

	lat0 := float64(evenLat)
	lat1 := float64(oddLat)
	lon0 := float64(evenLon)
	lon1 := float64(oddLon)

	// joint latitude zone index
	j := int(math.Floor((59*lat0-60*lat1)/cprMax + 0.5))

	rlat0 := dLat0 * (float64(modPos(j, 60)) + lat0/cprMax)
	rlat1 := dLat1 * (float64(modPos(j, 59)) + lat1/cprMax)

	if rlat0 >= 270 {
		rlat0 -= 360
	}
	if rlat1 >= 270 {
		rlat1 -= 360
	}

	if !geo.ValidLat(rlat0) || !geo.ValidLat(rlat1) {
		return 0, 0, false
	}
	if nl(rlat0) != nl(rlat1) {
		return 0, 0, false
	}

	if newestOdd {
		ni := nFunc(rlat1, true)
		m := int(math.Floor((lon0*float64(nl(rlat1)-1)-lon1*float64(nl(rlat1)))/cprMax + 0.5))
		lon = dLon(rlat1, true) * (float64(modPos(m, ni)) + lon1/cprMax)
		lat = rlat1
	} else {
		ni := nFunc(rlat0, false)
		m := int(math.Floor((lon0*float64(nl(rlat0)-1)-lon1*float64(nl(rlat0)))/cprMax + 0.5))
		lon = dLon(rlat0, false) * (float64(modPos(m, ni)) + lon0/cprMax)
		lat = rlat0
	}

	return lat, geo.NormalizeLon(lon), true
}

// decodeLocal resolves a single report against a reference position. The
// result is only trustworthy within half a zone of the reference; the
// caller enforces the plausibility radius on top.
func decodeLocal(latCPR, lonCPR uint32, odd bool, refLat, refLon float64) (lat, lon float64, ok bool) {
	dLat := 360.0 / 60.0
	if odd {
		dLat = 360.0 / 59.0
	}

	cprLat := float64(latCPR)
	cprLon := float64(lonCPR)

	j := int(math.Floor(refLat/dLat + 0.5))
	lat = dLat * (float64(j) + cprLat/cprMax)

	// snap into the zone containing the reference
	if lat-refLat > dLat/2 {
		lat -= dLat
	} else if lat-refLat < -dLat/2 {
		lat += dLat
	}

	if !geo.ValidLat(lat) {
		return 0, 0, false
	}

	dlon := dLon(lat, odd)
	m := int(math.Floor(refLon/dlon + 0.5))
	lon = dlon * (float64(m) + cprLon/cprMax)

	if lon-refLon > dlon/2 {
		lon -= dlon
	} else if lon-refLon < -dlon/2 {
		lon += dlon
	}

	return lat, geo.NormalizeLon(lon), true
}

// EncodeGlobal quantizes a coordinate into the even or odd CPR fields.
// Used by synthetic traffic generators and tests.
func EncodeGlobal(lat, lon float64, odd bool) (latCPR, lonCPR uint32) {
	dLat := 360.0 / 60.0
	if odd {
		dLat = 360.0 / 59.0
	}

	yz := math.Floor(cprMax*modf(lat, dLat)/dLat + 0.5)

	rlat := dLat * (yz/cprMax + math.Floor(lat/dLat))
	dlon := dLon(rlat, odd)
	xz := math.Floor(cprMax*modf(lon, dlon)/dlon + 0.5)

	return uint32(yz) & 0x1FFFF, uint32(xz) & 0x1FFFF
}

// modf is the always-positive floating point modulo.
func modf(a, b float64) float64 {
	res := math.Mod(a, b)
	if res < 0 {
		res += b
	}
	return res
}
