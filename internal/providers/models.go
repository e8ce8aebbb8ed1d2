package providers

import (
	"errors"
	"time"
)

// ErrProviderUnavailable wraps every transport, status and payload failure of
// a provider. Callers treat it as "no data" and move on to the next provider.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Provider names as reported in records and accepted as hints
const (
	OpenSky       = "opensky"
	FlightLabs    = "flightlabs"
	AviationStack = "aviationstack"
)

// Status is the normalized flight status
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusEnRoute   Status = "en-route"
	StatusLanded    Status = "landed"
	StatusOnGround  Status = "on-ground"
	StatusCancelled Status = "cancelled"
	StatusDiverted  Status = "diverted"
	StatusUnknown   Status = "unknown"
)

// Endpoint is the departure or arrival block of a record
type Endpoint struct {
	Airport      string  `json:"airport"`
	Scheduled    *string `json:"scheduled"`
	Estimated    *string `json:"estimated"`
	Actual       *string `json:"actual"`
	DelayMinutes *int    `json:"delay_minutes"`
}

// Live is the latest position of the aircraft. Schedule providers only fill
// the position, altitude and speed; phase fields come from telemetry.
type Live struct {
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	Altitude        *float64 `json:"altitude"`
	Speed           *float64 `json:"speed"`
	Heading         *float64 `json:"heading,omitempty"`
	HeadingMagnetic *float64 `json:"heading_magnetic,omitempty"`
	VerticalRate    *float64 `json:"vertical_rate,omitempty"`
	OnGround        *bool    `json:"on_ground,omitempty"`
	DistanceNM      *float64 `json:"distance_nm,omitempty"`
	EtaMinutes      *float64 `json:"eta_minutes,omitempty"`

	Phase           string   `json:"phase,omitempty"`
	PhaseLabel      string   `json:"phase_label,omitempty"`
	PhaseShort      string   `json:"phase_short,omitempty"`
	ProgressPct     *float64 `json:"progress_pct,omitempty"`
	TotalDistanceNM *float64 `json:"total_distance_nm,omitempty"`
	ShortLeg        *bool    `json:"short_leg,omitempty"`
}

// Record is the normalized tracking result returned to callers regardless of
// which provider answered
type Record struct {
	Available    bool      `json:"available"`
	Reason       string    `json:"reason,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	FlightNumber *string   `json:"flight_number,omitempty"`
	TailNumber   *string   `json:"tail_number,omitempty"`
	Status       Status    `json:"status,omitempty"`
	Departure    *Endpoint `json:"departure,omitempty"`
	Arrival      *Endpoint `json:"arrival,omitempty"`
	Live         *Live     `json:"live,omitempty"`
	FetchedAt    float64   `json:"fetched_at,omitempty"`
}

// Unavailable returns a record that carries only the reason no data was found
func Unavailable(reason string) *Record {
	return &Record{Available: false, Reason: reason}
}

func fetchedAt(now time.Time) float64 {
	return float64(now.UnixNano()) / 1e9
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
