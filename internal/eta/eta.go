// Package eta estimates arrival times from schedule and live telemetry.
package eta

import (
	"time"
)

// Trust thresholds between filed times and live telemetry
const (
	liveProgress    = 0.75
	enRouteProgress = 0.2
	deviationWeight = 0.5
	minSpeedRatio   = 0.7
	maxSpeedRatio   = 1.3
	terminalSpeedKt = 200
	terminalBandNM  = 30
	enRouteBandNM   = 100
)

// Schedule holds the filed and observed departure times of a flight.
// Any field may be nil.
type Schedule struct {
	Departure       *time.Time
	Arrival         *time.Time
	ActualDeparture *time.Time
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// Hybrid returns the arrival estimate for a flight at the given progress
// (0-1) with distanceNM left to fly at speedKt. It returns nil when neither
// schedule nor telemetry give enough to estimate.
//
// Before departure the filed arrival is returned as-is. Once airborne the
// filed block time is shifted by how far ahead or behind the flight is, and
// late in the flight the straight distance over speed estimate wins. The
// schedule derived value is dropped in favour of distance over speed when
// the two disagree by more than 30%.
func Hybrid(s Schedule, progress, distanceNM, speedKt float64, now time.Time) *time.Time {
	var speedEta *time.Time
	var speedRemaining float64
	if speedKt > 0 && distanceNM > 0 {
		speedRemaining = distanceNM / speedKt * 60
		t := now.Add(minutes(speedRemaining))
		speedEta = &t
	}

	if s.Departure == nil || s.Arrival == nil {
		return speedEta
	}

	scheduledMin := s.Arrival.Sub(*s.Departure).Minutes()

	if s.ActualDeparture == nil {
		arr := *s.Arrival
		return &arr
	}

	base := s.ActualDeparture.Add(minutes(scheduledMin))

	if progress > liveProgress && speedEta != nil {
		return speedEta
	}

	if progress > enRouteProgress && scheduledMin > 0 {
		elapsed := now.Sub(*s.ActualDeparture).Minutes()
		expected := elapsed / scheduledMin
		deviation := progress - expected
		hybrid := base.Add(-minutes(deviation * scheduledMin * deviationWeight))

		if outOfBand(hybrid, now, speedEta, speedRemaining) {
			return speedEta
		}
		return &hybrid
	}

	// Climb-out
	if outOfBand(base, now, speedEta, speedRemaining) {
		return speedEta
	}
	return &base
}

// outOfBand reports whether candidate disagrees with the distance over
// speed estimate by more than the allowed ratio
func outOfBand(candidate, now time.Time, speedEta *time.Time, speedRemaining float64) bool {
	if speedEta == nil || speedRemaining <= 0 {
		return false
	}
	remaining := candidate.Sub(now).Minutes()
	if remaining <= 0 {
		return false
	}
	ratio := remaining / speedRemaining
	return ratio < minSpeedRatio || ratio > maxSpeedRatio
}

// BandedMinutes estimates minutes to go from distance and ground speed,
// assuming the aircraft slows towards terminal speeds as it gets close.
// ok is false when either input is not positive.
func BandedMinutes(distanceNM, speedKt float64) (float64, bool) {
	if speedKt <= 0 || distanceNM <= 0 {
		return 0, false
	}

	avg := speedKt
	switch {
	case distanceNM > enRouteBandNM:
	case distanceNM > terminalBandNM:
		avg = (speedKt + terminalSpeedKt) / 2
	default:
		avg = min(speedKt, terminalSpeedKt)
	}
	return distanceNM / avg * 60, true
}
