package tracker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/inbound-tracker/internal/providers"
)

var (
	// ErrNoIdentifier is returned when neither a tail number nor a flight number is given
	ErrNoIdentifier = errors.New("tail_number or flight_number is required")
	// ErrUnsupportedCombination is returned when the requested provider cannot serve the identifiers given
	ErrUnsupportedCombination = errors.New("provider cannot serve this query")
)

// Reasons reported on unavailable records
const (
	ReasonNoIdentifier             = "no_identifier"
	ReasonNoData                   = "no_data"
	ReasonOpenSkyNeedsTail         = "opensky_requires_tail_number"
	ReasonAviationStackNeedsFlight = "aviationstack_requires_flight_number"
	ReasonUnknownProvider          = "unknown_provider"
	ReasonInvalidTail              = "invalid_tail_number"
)

// Auto selects providers by priority
const Auto = "auto"

// Query identifies the flight to track plus optional route context
type Query struct {
	TailNumber         string     `json:"tail_number,omitempty"`
	FlightNumber       string     `json:"flight_number,omitempty"`
	Provider           string     `json:"provider,omitempty"`
	Destination        string     `json:"destination,omitempty"`
	Origin             string     `json:"origin,omitempty"`
	ScheduledDeparture *time.Time `json:"scheduled_dep,omitempty"`
	ScheduledArrival   *time.Time `json:"scheduled_arr,omitempty"`
}

// Normalized returns the query with identifiers upper-cased and trimmed
// and the provider hint lower-cased
func (q Query) Normalized() Query {
	q.TailNumber = strings.ToUpper(strings.TrimSpace(q.TailNumber))
	q.FlightNumber = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(q.FlightNumber), " ", ""))
	q.Provider = strings.ToLower(strings.TrimSpace(q.Provider))
	q.Destination = strings.ToUpper(strings.TrimSpace(q.Destination))
	q.Origin = strings.ToUpper(strings.TrimSpace(q.Origin))
	if q.Provider == Auto {
		q.Provider = ""
	}
	return q
}

// Validate checks that at least one identifier is present
func (q Query) Validate() error {
	if q.TailNumber == "" && q.FlightNumber == "" {
		return ErrNoIdentifier
	}
	return nil
}

// CacheKey is the response cache key for the query. Origin and schedule
// are not part of it.
func (q Query) CacheKey() string {
	provider := q.Provider
	if provider == "" {
		provider = Auto
	}
	return fmt.Sprintf("flight:%s:%s:%s:%s", q.TailNumber, q.FlightNumber, provider, q.Destination)
}

// ParseQueryTimes parses the optional schedule strings of a request
func ParseQueryTimes(scheduledDep, scheduledArr string) (dep, arr *time.Time) {
	if t, ok := providers.ParseTime(scheduledDep); ok {
		dep = &t
	}
	if t, ok := providers.ParseTime(scheduledArr); ok {
		arr = &t
	}
	return dep, arr
}
