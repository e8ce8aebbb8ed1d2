package tracker

import (
	"context"
	"fmt"

	"github.com/yegors/inbound-tracker/internal/providers"
	"github.com/yegors/inbound-tracker/internal/tailnumber"
)

// AddressFetcher queries the surveillance network by transponder address
type AddressFetcher interface {
	FetchByAddress(ctx context.Context, icao24 string) (*providers.StateVector, error)
}

// TailOrFlightFetcher queries a schedule provider by tail and/or flight number
type TailOrFlightFetcher interface {
	Configured() bool
	FetchByTailOrFlight(ctx context.Context, tail, flightNumber string) (*providers.FlightRecord, error)
}

// FlightNumberFetcher queries a schedule provider by flight number
type FlightNumberFetcher interface {
	Configured() bool
	FetchByFlightNumber(ctx context.Context, flightNumber string) (*providers.FlightRecord, error)
}

// source is one entry of the provider priority list
type source interface {
	name() string
	// configured reports whether the provider can be called at all
	configured() bool
	// check returns the reason an explicit request for this provider cannot
	// be served, or "" when it can
	check(q Query) string
	// applicable reports whether automatic mode should try this provider
	applicable(q Query) bool
	// lookup returns a normalized record, nil when the provider has no data
	lookup(ctx context.Context, q Query) (*providers.Record, error)
}

type openSkySource struct {
	svc     *Service
	fetcher AddressFetcher
}

func (s *openSkySource) name() string { return providers.OpenSky }

func (s *openSkySource) configured() bool { return s.fetcher != nil }

func (s *openSkySource) check(q Query) string {
	if q.TailNumber == "" {
		return ReasonOpenSkyNeedsTail
	}
	if _, err := tailnumber.Encode(q.TailNumber); err != nil {
		return ReasonInvalidTail
	}
	return ""
}

func (s *openSkySource) applicable(q Query) bool {
	return s.configured() && q.TailNumber != ""
}

func (s *openSkySource) lookup(ctx context.Context, q Query) (*providers.Record, error) {
	if !s.configured() {
		return nil, nil
	}
	address, err := tailnumber.Encode(q.TailNumber)
	if err != nil {
		return nil, fmt.Errorf("tail %q: %w", q.TailNumber, err)
	}

	sv, err := s.fetcher.FetchByAddress(ctx, address)
	if err != nil || sv == nil {
		return nil, err
	}
	return s.svc.buildLiveRecord(sv, address, q), nil
}

type flightLabsSource struct {
	svc     *Service
	fetcher TailOrFlightFetcher
}

func (s *flightLabsSource) name() string { return providers.FlightLabs }

func (s *flightLabsSource) configured() bool {
	return s.fetcher != nil && s.fetcher.Configured()
}

func (s *flightLabsSource) check(Query) string { return "" }

func (s *flightLabsSource) applicable(Query) bool { return s.configured() }

func (s *flightLabsSource) lookup(ctx context.Context, q Query) (*providers.Record, error) {
	if !s.configured() {
		return nil, nil
	}
	fr, err := s.fetcher.FetchByTailOrFlight(ctx, q.TailNumber, q.FlightNumber)
	if err != nil || fr == nil {
		return nil, err
	}
	return providers.NormalizeFlightRecord(providers.FlightLabs, fr, s.svc.now()), nil
}

type aviationStackSource struct {
	svc     *Service
	fetcher FlightNumberFetcher
}

func (s *aviationStackSource) name() string { return providers.AviationStack }

func (s *aviationStackSource) configured() bool {
	return s.fetcher != nil && s.fetcher.Configured()
}

func (s *aviationStackSource) check(q Query) string {
	if q.FlightNumber == "" {
		return ReasonAviationStackNeedsFlight
	}
	return ""
}

func (s *aviationStackSource) applicable(q Query) bool {
	return s.configured() && q.FlightNumber != ""
}

func (s *aviationStackSource) lookup(ctx context.Context, q Query) (*providers.Record, error) {
	if !s.configured() {
		return nil, nil
	}
	fr, err := s.fetcher.FetchByFlightNumber(ctx, q.FlightNumber)
	if err != nil || fr == nil {
		return nil, err
	}
	return providers.NormalizeFlightRecord(providers.AviationStack, fr, s.svc.now()), nil
}
