// Package tracker is the entry point for inbound flight tracking. It picks a
// provider, normalizes its answer, runs the phase estimator and ETA on live
// telemetry and caches the result.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yegors/inbound-tracker/internal/airports"
	"github.com/yegors/inbound-tracker/internal/cache"
	"github.com/yegors/inbound-tracker/internal/eta"
	"github.com/yegors/inbound-tracker/internal/geo"
	"github.com/yegors/inbound-tracker/internal/phase"
	"github.com/yegors/inbound-tracker/internal/providers"
	"github.com/yegors/inbound-tracker/internal/tailnumber"
	"github.com/yegors/inbound-tracker/pkg/logger"
)

// DefaultSweepInterval is how often idle estimators and stale cache entries are dropped
const DefaultSweepInterval = 60 * time.Second

// AirportLookup resolves IATA codes to airports
type AirportLookup interface {
	Lookup(iata string) (*airports.Airport, bool)
}

// Options tunes the service; zero values select defaults
type Options struct {
	CacheTTL         time.Duration
	RouteToleranceNM float64
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	// ProviderTimeout bounds one provider call; a shared lookup gets one
	// timeout per provider in the chain
	ProviderTimeout time.Duration
}

// Providers groups the provider clients. A nil field disables that provider.
type Providers struct {
	OpenSky       AddressFetcher
	FlightLabs    TailOrFlightFetcher
	AviationStack FlightNumberFetcher
}

// ProviderStatus reports which providers are usable
type ProviderStatus struct {
	OpenSky       bool `json:"opensky"`
	FlightLabs    bool `json:"flightlabs"`
	AviationStack bool `json:"aviationstack"`
	AnyAvailable  bool `json:"any_available"`
}

// Service tracks inbound flights
type Service struct {
	sources  []source
	airports AirportLookup
	cache    *cache.Cache[*providers.Record]
	registry *phase.Registry
	group    singleflight.Group

	sweepInterval  time.Duration
	resolveTimeout time.Duration
	now            func() time.Time
	logger         *logger.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewService creates a tracking service
func NewService(p Providers, lookup AirportLookup, opts Options, log *logger.Logger) *Service {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = providers.DefaultTimeout
	}

	s := &Service{
		airports:       lookup,
		cache:          cache.New[*providers.Record](opts.CacheTTL, log),
		registry:       phase.NewRegistry(opts.RouteToleranceNM, opts.IdleTimeout, log),
		sweepInterval:  opts.SweepInterval,
		resolveTimeout: opts.ProviderTimeout * 3,
		now:            time.Now,
		logger:         log.Named("tracker"),
		stopChan:       make(chan struct{}),
	}

	// Priority order for automatic mode
	s.sources = []source{
		&openSkySource{svc: s, fetcher: p.OpenSky},
		&flightLabsSource{svc: s, fetcher: p.FlightLabs},
		&aviationStackSource{svc: s, fetcher: p.AviationStack},
	}
	return s
}

// SetClock replaces the time source of the service, its cache and registry
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.cache.SetClock(now)
	s.registry.SetClock(now)
}

// Registry exposes the estimator registry
func (s *Service) Registry() *phase.Registry {
	return s.registry
}

// Status reports which providers are configured
func (s *Service) Status() ProviderStatus {
	st := ProviderStatus{}
	for _, src := range s.sources {
		switch src.name() {
		case providers.OpenSky:
			st.OpenSky = src.configured()
		case providers.FlightLabs:
			st.FlightLabs = src.configured()
		case providers.AviationStack:
			st.AviationStack = src.configured()
		}
	}
	st.AnyAvailable = st.OpenSky || st.FlightLabs || st.AviationStack
	return st
}

// Track returns the normalized record for q. It never fails: problems are
// reported through Available=false and a reason.
//
// Identical queries within the cache TTL are answered from the cache, and
// concurrent identical misses share a single provider round.
func (s *Service) Track(ctx context.Context, q Query) *providers.Record {
	q = q.Normalized()
	if err := q.Validate(); err != nil {
		return providers.Unavailable(ReasonNoIdentifier)
	}

	key := q.CacheKey()
	if rec, ok := s.cache.Get(key); ok {
		s.logger.Debug("Serving cached record", logger.String("key", key))
		return rec
	}

	// The shared lookup outlives any single caller; each caller only stops
	// waiting when its own ctx is done.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		// A concurrent caller may have filled the cache while we waited
		if rec, ok := s.cache.Get(key); ok {
			return rec, nil
		}
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.resolveTimeout)
		defer cancel()

		rec := s.resolve(shared, q)
		if rec.Available && shared.Err() == nil {
			s.cache.Set(key, rec)
		}
		return rec, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*providers.Record)
	case <-ctx.Done():
		s.logger.Debug("Caller abandoned lookup", logger.String("key", key), logger.Error(ctx.Err()))
		return providers.Unavailable(ReasonNoData)
	}
}

// resolve walks the provider chain for q
func (s *Service) resolve(ctx context.Context, q Query) *providers.Record {
	if q.Provider != "" {
		return s.resolveExplicit(ctx, q)
	}

	for _, src := range s.sources {
		if !src.applicable(q) {
			continue
		}
		if rec := s.try(ctx, src, q); rec != nil {
			return rec
		}
	}
	return providers.Unavailable(ReasonNoData)
}

func (s *Service) resolveExplicit(ctx context.Context, q Query) *providers.Record {
	for _, src := range s.sources {
		if src.name() != q.Provider {
			continue
		}

		if reason := src.check(q); reason != "" {
			s.logger.Debug("Provider cannot serve query",
				logger.String("provider", src.name()),
				logger.String("reason", reason),
				logger.Error(ErrUnsupportedCombination))
			rec := providers.Unavailable(reason)
			rec.Provider = src.name()
			return rec
		}

		if rec := s.try(ctx, src, q); rec != nil {
			return rec
		}
		rec := providers.Unavailable(ReasonNoData)
		rec.Provider = src.name()
		return rec
	}

	rec := providers.Unavailable(ReasonUnknownProvider)
	rec.Provider = q.Provider
	return rec
}

// try calls one provider, turning every failure into nil so the chain can continue
func (s *Service) try(ctx context.Context, src source, q Query) *providers.Record {
	rec, err := src.lookup(ctx, q)
	if err != nil {
		level := s.logger.Warn
		if errors.Is(err, tailnumber.ErrInvalidFormat) || errors.Is(err, context.Canceled) {
			level = s.logger.Debug
		}
		level("Provider lookup failed",
			logger.String("provider", src.name()),
			logger.String("tail_number", q.TailNumber),
			logger.String("flight_number", q.FlightNumber),
			logger.Error(err))
		return nil
	}
	if rec == nil {
		s.logger.Debug("Provider has no data",
			logger.String("provider", src.name()),
			logger.String("tail_number", q.TailNumber),
			logger.String("flight_number", q.FlightNumber))
	}
	return rec
}

// route resolves the query's airports
func (s *Service) route(q Query) providers.Route {
	r := providers.Route{
		Origin:             q.Origin,
		Destination:        q.Destination,
		ScheduledDeparture: q.ScheduledDeparture,
		ScheduledArrival:   q.ScheduledArrival,
	}
	if s.airports == nil {
		return r
	}
	if q.Origin != "" {
		if a, ok := s.airports.Lookup(q.Origin); ok {
			r.OriginPos = &providers.Coordinates{Lat: a.Latitude, Lon: a.Longitude}
		}
	}
	if q.Destination != "" {
		if a, ok := s.airports.Lookup(q.Destination); ok {
			r.DestinationPos = &providers.Coordinates{Lat: a.Latitude, Lon: a.Longitude}
		}
	}
	return r
}

// buildLiveRecord normalizes a state vector and layers the phase estimate
// and hybrid ETA on top. Missing telemetry skips the dependent fields.
func (s *Service) buildLiveRecord(sv *providers.StateVector, address string, q Query) *providers.Record {
	now := s.now()
	route := s.route(q)
	rec := providers.NormalizeOpenSky(sv, q.TailNumber, route, now)
	live := rec.Live

	if sv.Latitude == nil || sv.Longitude == nil || live.Altitude == nil || live.Speed == nil {
		return rec
	}

	var distToDest float64
	haveDest := route.DestinationPos != nil
	if haveDest {
		distToDest = geo.HaversineNM(*sv.Latitude, *sv.Longitude, route.DestinationPos.Lat, route.DestinationPos.Lon)
	}

	progress := 0.0
	var departedAt *time.Time

	if total, ok := route.TotalDistanceNM(); ok {
		sample := phase.Sample{
			Time:             sv.Timestamp(now),
			Lat:              *sv.Latitude,
			Lon:              *sv.Longitude,
			AltitudeFt:       *live.Altitude,
			GroundSpeedKt:    *live.Speed,
			OnGround:         sv.OnGround,
			DistToDestNM:     distToDest,
			DistFromOriginNM: geo.HaversineNM(route.OriginPos.Lat, route.OriginPos.Lon, *sv.Latitude, *sv.Longitude),
		}
		if live.VerticalRate != nil {
			sample.VerticalRateFPM = *live.VerticalRate
		}
		if sv.TrueTrack != nil {
			sample.TrackDeg = *sv.TrueTrack
		}

		est := s.registry.Get(address, total)
		res := est.Observe(sample)
		progress = res.Progress
		departedAt = est.DepartedAt()

		pct := geo.RoundTo(res.Progress*100, 1)
		totalRounded := geo.RoundTo(total, 1)
		shortLeg := phase.ShortLeg(total)
		live.Phase = string(res.Phase)
		live.PhaseLabel = res.Phase.Label()
		live.PhaseShort = res.Phase.Short()
		live.ProgressPct = &pct
		live.TotalDistanceNM = &totalRounded
		live.ShortLeg = &shortLeg

		s.logger.Debug("Estimated flight phase",
			logger.String("address", address),
			logger.String("phase", live.Phase),
			logger.Float64("progress_pct", pct))
	}

	if !haveDest || sv.OnGround {
		return rec
	}

	arrival := eta.Hybrid(eta.Schedule{
		Departure:       q.ScheduledDeparture,
		Arrival:         q.ScheduledArrival,
		ActualDeparture: departedAt,
	}, progress, distToDest, *live.Speed, now)
	if arrival != nil {
		estimated := providers.FormatTime(*arrival)
		rec.Arrival.Estimated = &estimated
		rec.Arrival.DelayMinutes = providers.DelayMinutes(rec.Arrival.Scheduled, rec.Arrival.Estimated)
	}
	return rec
}

// Start runs the periodic sweep of idle estimators and expired cache entries
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			}
		}
	}()

	s.logger.Info("Tracker started", logger.Duration("sweep_interval", s.sweepInterval))
}

func (s *Service) sweep() {
	estimators := s.registry.Sweep()
	entries := s.cache.Purge()
	if estimators > 0 || entries > 0 {
		s.logger.Debug("Sweep complete",
			logger.Int("estimators_removed", estimators),
			logger.Int("cache_entries_removed", entries))
	}
}

// Stop ends the sweeper and waits for it to exit
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("Tracker stopped")
}

// GetStats returns cache and registry counters
func (s *Service) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"cache":      s.cache.GetStats(),
		"estimators": s.registry.Len(),
	}
}
