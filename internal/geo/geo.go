// Package geo provides the small amount of geodesy the pipeline needs:
// great-circle distances between reports, coordinate normalization and the
// radio horizon used by the line-of-sight checks.
package geo

import "math"

const (
	// EarthRadiusKM is the mean Earth radius used for great-circle math.
	EarthRadiusKM = 6371.0

	// FeetPerMeter converts barometric altitudes (reported in feet) to meters.
	FeetPerMeter = 3.28084
)

// HaversineKM returns the great-circle distance in kilometers between two
// lat/lon pairs given in degrees.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dlat := (lat2 - lat1) * math.Pi / 180.0
	dlon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dlon/2)*math.Sin(dlon/2)

	return EarthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InitialBearing returns the initial great-circle bearing in degrees [0,360)
// from point 1 toward point 2.
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dlon := (lon2 - lon1) * math.Pi / 180.0

	y := math.Sin(dlon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dlon)

	bearing := math.Atan2(y, x) * 180.0 / math.Pi
	if bearing < 0 {
		bearing += 360
	}
	return bearing
}

// HeadingDelta returns the absolute difference between two headings in
// degrees, folded into [0,180].
func HeadingDelta(h1, h2 float64) float64 {
	d := math.Mod(math.Abs(h1-h2), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// NormalizeLon folds a longitude into [-180,180).
func NormalizeLon(lon float64) float64 {
	return lon - math.Floor((lon+180)/360)*360
}

// ValidLat reports whether a latitude lies in [-90,90].
func ValidLat(lat float64) bool {
	return lat >= -90 && lat <= 90
}

// RadioHorizonKM returns the RF line-of-sight range in kilometers between an
// antenna at antennaM meters above ground and an aircraft at altitudeFt feet.
// Uses the standard 4/3-Earth approximation d = 4.12*(sqrt(h1)+sqrt(h2)).
func RadioHorizonKM(antennaM float64, altitudeFt float64) float64 {
	if antennaM < 0 {
		antennaM = 0
	}
	altM := altitudeFt / FeetPerMeter
	if altM < 0 {
		altM = 0
	}
	return 4.12 * (math.Sqrt(antennaM) + math.Sqrt(altM))
}
