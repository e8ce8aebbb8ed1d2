package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusNM = 3440.065 // Mean earth radius in nautical miles
	MetersToFeet  = 3.28084  // Conversion factor from meters to feet
	MsToKnots     = 1.94384  // Conversion factor from m/s to knots
	MsToFPM       = 196.85   // Conversion factor from m/s to ft/min
	FeetToMeters  = 0.3048   // Conversion factor from feet to meters
)

// MetersToFt converts meters to feet
func MetersToFt(m float64) float64 {
	return m * MetersToFeet
}

// MsToKts converts meters per second to knots
func MsToKts(ms float64) float64 {
	return ms * MsToKnots
}

// MsToFpm converts a vertical rate in meters per second to feet per minute
func MsToFpm(ms float64) float64 {
	return ms * MsToFPM
}

// HaversineNM returns the great-circle distance between two points in nautical miles
func HaversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusNM * 2 * math.Asin(math.Sqrt(a))
}

// NormalizeAngleDelta maps a heading difference into [-180, 180)
func NormalizeAngleDelta(delta float64) float64 {
	d := math.Mod(delta+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

// RoundTo rounds v to the given number of decimal places
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// MagneticVariation returns the magnetic declination for a position and time.
// Returns declination in degrees (+East, -West)
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, altFt*FeetToMeters)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0.0
	}

	return mag.D()
}

// MagneticHeading converts a true heading into a magnetic heading in [0, 360)
func MagneticHeading(trueHeading, lat, lon, altFt float64, date time.Time) float64 {
	h := trueHeading - MagneticVariation(lat, lon, altFt, date)
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
