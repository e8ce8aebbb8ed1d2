package providers

import (
	"math"
	"strings"
	"time"

	"github.com/yegors/inbound-tracker/internal/eta"
	"github.com/yegors/inbound-tracker/internal/geo"
)

// landedRadiusNM is how close to the destination an aircraft on the ground
// must be to count as landed
const landedRadiusNM = 5

// Coordinates is a latitude/longitude pair in degrees
type Coordinates struct {
	Lat float64
	Lon float64
}

// Route is the optional context a caller supplies with a query
type Route struct {
	Origin             string
	Destination        string
	OriginPos          *Coordinates
	DestinationPos     *Coordinates
	ScheduledDeparture *time.Time
	ScheduledArrival   *time.Time
}

// TotalDistanceNM returns the great-circle route length, if both ends are known
func (r Route) TotalDistanceNM() (float64, bool) {
	if r.OriginPos == nil || r.DestinationPos == nil {
		return 0, false
	}
	return geo.HaversineNM(r.OriginPos.Lat, r.OriginPos.Lon, r.DestinationPos.Lat, r.DestinationPos.Lon), true
}

var statusMap = map[string]Status{
	"scheduled": StatusScheduled,
	"active":    StatusEnRoute,
	"en-route":  StatusEnRoute,
	"landed":    StatusLanded,
	"cancelled": StatusCancelled,
	"diverted":  StatusDiverted,
	"incident":  StatusUnknown,
}

// MapStatus maps a provider flight_status onto the normalized statuses
func MapStatus(raw string) Status {
	if s, ok := statusMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusUnknown
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// ParseTime parses the ISO-8601 variants providers and clients send.
// Timestamps without an offset are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t as ISO-8601 UTC
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// DelayMinutes derives the delay between a scheduled and estimated time,
// rounded to the nearest minute. It is nil when either time is missing or
// unparsable.
func DelayMinutes(scheduled, estimated *string) *int {
	if scheduled == nil || estimated == nil {
		return nil
	}
	sched, ok := ParseTime(*scheduled)
	if !ok {
		return nil
	}
	est, ok := ParseTime(*estimated)
	if !ok {
		return nil
	}
	d := int(math.Round(est.Sub(sched).Minutes()))
	return &d
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func rounded(v *float64, f func(float64) float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(f(*v))
	return &r
}

// NormalizeOpenSky converts a state vector into a record. Distance and the
// banded ETA are filled when the destination position is known; the caller
// adds phase and hybrid ETA on top.
func NormalizeOpenSky(sv *StateVector, tail string, route Route, now time.Time) *Record {
	onGround := sv.OnGround
	live := &Live{
		Latitude:     sv.Latitude,
		Longitude:    sv.Longitude,
		Altitude:     rounded(sv.BaroAltitudeM, geo.MetersToFt),
		Speed:        rounded(sv.VelocityMS, geo.MsToKts),
		Heading:      sv.TrueTrack,
		VerticalRate: rounded(sv.VerticalRateMS, geo.MsToFpm),
		OnGround:     &onGround,
	}

	if sv.TrueTrack != nil && sv.Latitude != nil && sv.Longitude != nil {
		altFt := 0.0
		if live.Altitude != nil {
			altFt = *live.Altitude
		}
		mag := geo.RoundTo(geo.MagneticHeading(*sv.TrueTrack, *sv.Latitude, *sv.Longitude, altFt, sv.Timestamp(now)), 1)
		live.HeadingMagnetic = &mag
	}

	if route.DestinationPos != nil && sv.Latitude != nil && sv.Longitude != nil {
		dist := geo.RoundTo(geo.HaversineNM(*sv.Latitude, *sv.Longitude, route.DestinationPos.Lat, route.DestinationPos.Lon), 1)
		live.DistanceNM = &dist

		if live.Speed != nil && !onGround {
			if minutes, ok := eta.BandedMinutes(dist, *live.Speed); ok {
				m := geo.RoundTo(minutes, 1)
				live.EtaMinutes = &m
			}
		}
	}

	status := StatusEnRoute
	if onGround {
		status = StatusOnGround
		if live.DistanceNM != nil && *live.DistanceNM < landedRadiusNM {
			status = StatusLanded
		}
	}

	return &Record{
		Available:    true,
		Provider:     OpenSky,
		FlightNumber: stringPtr(sv.Callsign),
		TailNumber:   stringPtr(tail),
		Status:       status,
		Departure: &Endpoint{
			Airport:   route.Origin,
			Scheduled: timePtr(route.ScheduledDeparture),
		},
		Arrival: &Endpoint{
			Airport:   route.Destination,
			Scheduled: timePtr(route.ScheduledArrival),
		},
		Live:      live,
		FetchedAt: fetchedAt(now),
	}
}

// NormalizeFlightRecord converts a schedule provider flight into a record.
// AviationStack reports its own delay, which wins over the derived one.
func NormalizeFlightRecord(provider string, fr *FlightRecord, now time.Time) *Record {
	rec := &Record{
		Available:    true,
		Provider:     provider,
		FlightNumber: stringPtr(fr.Flight.IATA),
		TailNumber:   stringPtr(fr.Aircraft.Registration),
		Status:       MapStatus(fr.FlightStatus),
		Departure:    normalizeMovement(provider, fr.Departure),
		Arrival:      normalizeMovement(provider, fr.Arrival),
		FetchedAt:    fetchedAt(now),
	}

	if fr.Live != nil && !fr.Live.Latitude.IsNull() {
		rec.Live = &Live{
			Latitude:  fr.Live.Latitude.Float64(),
			Longitude: fr.Live.Longitude.Float64(),
			Altitude:  fr.Live.Altitude.Float64(),
			Speed:     fr.Live.SpeedHorizontal.Float64(),
		}
	}
	return rec
}

func normalizeMovement(provider string, m Movement) *Endpoint {
	ep := &Endpoint{
		Airport:   m.IATA,
		Scheduled: nonEmpty(m.Scheduled),
		Estimated: nonEmpty(m.Estimated),
		Actual:    nonEmpty(m.Actual),
	}
	if provider == AviationStack && !m.Delay.IsNull() {
		ep.DelayMinutes = m.Delay.Int()
	}
	if ep.DelayMinutes == nil {
		ep.DelayMinutes = DelayMinutes(ep.Scheduled, ep.Estimated)
	}
	return ep
}
