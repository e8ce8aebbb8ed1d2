package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/inbound-tracker/internal/airports"
	"github.com/yegors/inbound-tracker/internal/phase"
	"github.com/yegors/inbound-tracker/internal/providers"
	"github.com/yegors/inbound-tracker/pkg/logger"
)

// nmPerDegree is one degree of arc on the equator
const nmPerDegree = 60.0405

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeOpenSky replays state vectors in order, repeating the last one
type fakeOpenSky struct {
	mu     sync.Mutex
	states []*providers.StateVector
	err    error
	delay  time.Duration
	calls  int
	asked  []string

	// entered, when set, receives a value as each fetch starts
	entered chan struct{}
}

func (f *fakeOpenSky) FetchByAddress(ctx context.Context, icao24 string) (*providers.StateVector, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.asked = append(f.asked, icao24)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.states) == 0 {
		return nil, nil
	}
	sv := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return sv, nil
}

func (f *fakeOpenSky) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSchedule struct {
	key   bool
	rec   *providers.FlightRecord
	err   error
	calls int
}

func (f *fakeSchedule) Configured() bool { return f.key }

func (f *fakeSchedule) FetchByTailOrFlight(ctx context.Context, tail, flight string) (*providers.FlightRecord, error) {
	f.calls++
	return f.rec, f.err
}

func (f *fakeSchedule) FetchByFlightNumber(ctx context.Context, flight string) (*providers.FlightRecord, error) {
	f.calls++
	return f.rec, f.err
}

type fakeAirports map[string]*airports.Airport

func (f fakeAirports) Lookup(iata string) (*airports.Airport, bool) {
	a, ok := f[iata]
	return a, ok
}

// A 600 nm route along the equator
var testAirports = fakeAirports{
	"SLC": {IATA: "SLC", Latitude: 0, Longitude: 0},
	"PHX": {IATA: "PHX", Latitude: 0, Longitude: 600 / nmPerDegree},
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

// stateAt builds a state vector distNM short of PHX in imperial units
func stateAt(at time.Time, distNM, altFt, speedKt, vrFPM float64) *providers.StateVector {
	return &providers.StateVector{
		ICAO24:         "a9c2e5",
		Callsign:       "SKW5432",
		TimePosition:   i64(at.Unix()),
		Latitude:       f64(0),
		Longitude:      f64((600 - distNM) / nmPerDegree),
		BaroAltitudeM:  f64(altFt / 3.28084),
		VelocityMS:     f64(speedKt / 1.94384),
		TrueTrack:      f64(90),
		VerticalRateMS: f64(vrFPM / 196.85),
	}
}

func newTestService(p Providers, opts Options) (*Service, *clock) {
	clk := &clock{t: t0}
	s := NewService(p, testAirports, opts, logger.NewNop())
	s.SetClock(clk.Now)
	return s, clk
}

func inbound() Query {
	return Query{TailNumber: "N728SK", Destination: "PHX", Origin: "SLC"}
}

func TestTrackCruiseScenario(t *testing.T) {
	os := &fakeOpenSky{states: []*providers.StateVector{stateAt(t0, 180, 35000, 450, 0)}}
	s, _ := newTestService(Providers{OpenSky: os}, Options{})

	rec := s.Track(context.Background(), Query{TailNumber: "n728sk", Destination: "phx", Origin: "SLC"})

	require.True(t, rec.Available)
	assert.Equal(t, providers.OpenSky, rec.Provider)
	assert.Equal(t, []string{"a9c2e5"}, os.asked)
	assert.Equal(t, providers.StatusEnRoute, rec.Status)

	live := rec.Live
	require.NotNil(t, live)
	assert.Equal(t, string(phase.Cruise), live.Phase)
	assert.Equal(t, "CRZ", live.PhaseShort)
	require.NotNil(t, live.ProgressPct)
	assert.InDelta(t, 70.0, *live.ProgressPct, 0.1)
	assert.InDelta(t, 600.0, *live.TotalDistanceNM, 0.1)
	assert.False(t, *live.ShortLeg)
	assert.InDelta(t, 180.0, *live.DistanceNM, 0.1)

	require.NotNil(t, rec.Arrival.Estimated)
	assert.Equal(t, "PHX", rec.Arrival.Airport)
	assert.Equal(t, "SLC", rec.Departure.Airport)
}

func TestTrackApproachScenario(t *testing.T) {
	os := &fakeOpenSky{states: []*providers.StateVector{
		stateAt(t0, 180, 35000, 450, 0),
		stateAt(t0.Add(60*time.Second), 50, 12000, 280, -1800),
		stateAt(t0.Add(80*time.Second), 45, 11000, 270, -1600),
		stateAt(t0.Add(100*time.Second), 40, 9000, 260, -1500),
		stateAt(t0.Add(120*time.Second), 35, 8000, 250, -1500),
	}}
	s, clk := newTestService(Providers{OpenSky: os}, Options{CacheTTL: 10 * time.Second})

	var rec *providers.Record
	for i := 0; i < 5; i++ {
		rec = s.Track(context.Background(), inbound())
		require.True(t, rec.Available)
		clk.Advance(20 * time.Second)
	}

	assert.Equal(t, 5, os.Calls())
	assert.Equal(t, string(phase.Approach), rec.Live.Phase)
	assert.Equal(t, "APR", rec.Live.PhaseShort)
	assert.Equal(t, 1, s.Registry().Len())
}

func TestTrackServesFromCache(t *testing.T) {
	os := &fakeOpenSky{states: []*providers.StateVector{stateAt(t0, 180, 35000, 450, 0)}}
	s, clk := newTestService(Providers{OpenSky: os}, Options{})

	first := s.Track(context.Background(), inbound())
	second := s.Track(context.Background(), inbound())

	assert.Equal(t, 1, os.Calls())
	assert.Same(t, first, second)

	clk.Advance(5 * time.Minute)
	s.Track(context.Background(), inbound())
	assert.Equal(t, 2, os.Calls())
}

func TestTrackCoalescesConcurrentMisses(t *testing.T) {
	os := &fakeOpenSky{
		states: []*providers.StateVector{stateAt(t0, 180, 35000, 450, 0)},
		delay:  50 * time.Millisecond,
	}
	s, _ := newTestService(Providers{OpenSky: os}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, s.Track(context.Background(), inbound()).Available)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, os.Calls())
}

func TestTrackSurvivesAbandonedCaller(t *testing.T) {
	os := &fakeOpenSky{
		states:  []*providers.StateVector{stateAt(t0, 180, 35000, 450, 0)},
		delay:   100 * time.Millisecond,
		entered: make(chan struct{}, 1),
	}
	s, _ := newTestService(Providers{OpenSky: os}, Options{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan *providers.Record, 1)
	go func() { leader <- s.Track(leaderCtx, inbound()) }()

	select {
	case <-os.entered:
	case <-time.After(time.Second):
		t.Fatal("lookup never started")
	}

	follower := make(chan *providers.Record, 1)
	go func() { follower <- s.Track(context.Background(), inbound()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	abandoned := <-leader
	assert.False(t, abandoned.Available)

	rec := <-follower
	require.True(t, rec.Available, "reason: %s", rec.Reason)
	assert.Equal(t, providers.OpenSky, rec.Provider)

	// The shared result was cached despite the cancelled leader
	assert.True(t, s.Track(context.Background(), inbound()).Available)
	assert.Equal(t, 1, os.Calls())
}

func TestTrackBoundsSharedLookup(t *testing.T) {
	os := &fakeOpenSky{
		states: []*providers.StateVector{stateAt(t0, 180, 35000, 450, 0)},
		delay:  time.Second,
	}
	s, _ := newTestService(Providers{OpenSky: os}, Options{ProviderTimeout: 10 * time.Millisecond})

	start := time.Now()
	rec := s.Track(context.Background(), inbound())
	assert.False(t, rec.Available)
	assert.Equal(t, ReasonNoData, rec.Reason)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTrackDoesNotCacheMisses(t *testing.T) {
	os := &fakeOpenSky{}
	s, _ := newTestService(Providers{OpenSky: os}, Options{})

	rec := s.Track(context.Background(), inbound())
	assert.False(t, rec.Available)
	assert.Equal(t, ReasonNoData, rec.Reason)

	s.Track(context.Background(), inbound())
	assert.Equal(t, 2, os.Calls())
}

func TestTrackFallsBackInPriorityOrder(t *testing.T) {
	os := &fakeOpenSky{err: errors.New("connection refused")}
	fl := &fakeSchedule{key: true, rec: &providers.FlightRecord{
		FlightStatus: "active",
		Flight:       providers.FlightIdent{IATA: "AA1234"},
	}}
	as := &fakeSchedule{key: true, rec: &providers.FlightRecord{FlightStatus: "scheduled"}}
	s, _ := newTestService(Providers{OpenSky: os, FlightLabs: fl, AviationStack: as}, Options{})

	rec := s.Track(context.Background(), Query{TailNumber: "N728SK", FlightNumber: "AA1234"})
	require.True(t, rec.Available)
	assert.Equal(t, providers.FlightLabs, rec.Provider)
	assert.Equal(t, 1, os.Calls())
	assert.Equal(t, 1, fl.calls)
	assert.Equal(t, 0, as.calls)
}

func TestTrackAutoSkipsInapplicableProviders(t *testing.T) {
	os := &fakeOpenSky{}
	fl := &fakeSchedule{key: false}
	as := &fakeSchedule{key: true, rec: &providers.FlightRecord{FlightStatus: "landed"}}
	s, _ := newTestService(Providers{OpenSky: os, FlightLabs: fl, AviationStack: as}, Options{})

	// Invalid tail falls through to the flight number
	rec := s.Track(context.Background(), Query{TailNumber: "N0", FlightNumber: "aa 1234"})
	require.True(t, rec.Available)
	assert.Equal(t, providers.AviationStack, rec.Provider)
	assert.Equal(t, providers.StatusLanded, rec.Status)
	assert.Equal(t, 0, os.Calls())
	assert.Equal(t, 0, fl.calls)

	// Without a flight number AviationStack is not applicable
	rec = s.Track(context.Background(), Query{TailNumber: "N1"})
	assert.False(t, rec.Available)
	assert.Equal(t, ReasonNoData, rec.Reason)
	assert.Equal(t, 1, as.calls)
}

func TestTrackExplicitProvider(t *testing.T) {
	os := &fakeOpenSky{}
	as := &fakeSchedule{key: true}
	s, _ := newTestService(Providers{OpenSky: os, AviationStack: as}, Options{})
	ctx := context.Background()

	cases := []struct {
		q        Query
		reason   string
		provider string
	}{
		{Query{FlightNumber: "AA1", Provider: "opensky"}, ReasonOpenSkyNeedsTail, providers.OpenSky},
		{Query{TailNumber: "N1", Provider: "aviationstack"}, ReasonAviationStackNeedsFlight, providers.AviationStack},
		{Query{TailNumber: "NABC", Provider: "OpenSky"}, ReasonInvalidTail, providers.OpenSky},
		{Query{TailNumber: "N1", Provider: "flightaware"}, ReasonUnknownProvider, "flightaware"},
		{Query{TailNumber: "N1", Provider: "opensky"}, ReasonNoData, providers.OpenSky},
		{Query{Provider: "opensky"}, ReasonNoIdentifier, ""},
	}
	for _, tc := range cases {
		rec := s.Track(ctx, tc.q)
		assert.False(t, rec.Available, tc.q)
		assert.Equal(t, tc.reason, rec.Reason, tc.q)
		assert.Equal(t, tc.provider, rec.Provider, tc.q)
	}

	// Only the last valid opensky query reached the network
	assert.Equal(t, 1, os.Calls())
	assert.Equal(t, 0, as.calls)
}

func TestTrackExplicitProviderDoesNotFallBack(t *testing.T) {
	os := &fakeOpenSky{}
	fl := &fakeSchedule{key: true, rec: &providers.FlightRecord{FlightStatus: "active"}}
	s, _ := newTestService(Providers{OpenSky: os, FlightLabs: fl}, Options{})

	rec := s.Track(context.Background(), Query{TailNumber: "N728SK", Provider: "opensky"})
	assert.False(t, rec.Available)
	assert.Equal(t, 0, fl.calls)
}

func TestTrackOnGroundAtDestination(t *testing.T) {
	sv := stateAt(t0, 0.5, 1100, 10, 0)
	sv.OnGround = true
	os := &fakeOpenSky{states: []*providers.StateVector{sv}}
	s, _ := newTestService(Providers{OpenSky: os}, Options{})

	rec := s.Track(context.Background(), inbound())
	require.True(t, rec.Available)
	assert.Equal(t, providers.StatusLanded, rec.Status)
	assert.Equal(t, string(phase.Arrived), rec.Live.Phase)
	assert.Nil(t, rec.Arrival.Estimated)
}

func TestTrackWithoutOriginSkipsPhase(t *testing.T) {
	os := &fakeOpenSky{states: []*providers.StateVector{stateAt(t0, 225, 35000, 450, 0)}}
	s, _ := newTestService(Providers{OpenSky: os}, Options{})

	rec := s.Track(context.Background(), Query{TailNumber: "N728SK", Destination: "PHX"})
	require.True(t, rec.Available)
	assert.Empty(t, rec.Live.Phase)
	assert.Nil(t, rec.Live.ProgressPct)
	assert.Equal(t, 0, s.Registry().Len())

	// Distance over speed: 225 nm at 450 kt
	require.NotNil(t, rec.Arrival.Estimated)
	arrival, ok := providers.ParseTime(*rec.Arrival.Estimated)
	require.True(t, ok)
	assert.WithinDuration(t, t0.Add(30*time.Minute), arrival, 2*time.Second)
}

func TestTrackMissingTelemetrySkipsEstimation(t *testing.T) {
	sv := stateAt(t0, 180, 35000, 450, 0)
	sv.BaroAltitudeM = nil
	os := &fakeOpenSky{states: []*providers.StateVector{sv}}
	s, _ := newTestService(Providers{OpenSky: os}, Options{})

	rec := s.Track(context.Background(), inbound())
	require.True(t, rec.Available)
	assert.Empty(t, rec.Live.Phase)
	assert.Nil(t, rec.Arrival.Estimated)
}

func TestTrackScheduleBeforeTakeoffKeepsScheduledArrival(t *testing.T) {
	dep := t0.Add(-10 * time.Minute)
	arr := t0.Add(80 * time.Minute)
	sv := stateAt(t0, 599, 4000, 180, 0)
	os := &fakeOpenSky{states: []*providers.StateVector{sv}}
	s, _ := newTestService(Providers{OpenSky: os}, Options{})

	rec := s.Track(context.Background(), Query{
		TailNumber: "N728SK", Destination: "PHX",
		ScheduledDeparture: &dep, ScheduledArrival: &arr,
	})
	require.True(t, rec.Available)
	require.NotNil(t, rec.Arrival.Estimated)
	assert.Equal(t, "2025-03-01T19:20:00Z", *rec.Arrival.Estimated)
	require.NotNil(t, rec.Arrival.DelayMinutes)
	assert.Equal(t, 0, *rec.Arrival.DelayMinutes)
}

func TestStatus(t *testing.T) {
	s, _ := newTestService(Providers{
		OpenSky:       &fakeOpenSky{},
		FlightLabs:    &fakeSchedule{key: true},
		AviationStack: &fakeSchedule{key: false},
	}, Options{})

	assert.Equal(t, ProviderStatus{
		OpenSky:       true,
		FlightLabs:    true,
		AviationStack: false,
		AnyAvailable:  true,
	}, s.Status())

	empty, _ := newTestService(Providers{}, Options{})
	assert.False(t, empty.Status().AnyAvailable)
}

func TestSweeperEvictsIdleEstimators(t *testing.T) {
	os := &fakeOpenSky{states: []*providers.StateVector{stateAt(t0, 180, 35000, 450, 0)}}
	s, clk := newTestService(Providers{OpenSky: os}, Options{SweepInterval: 10 * time.Millisecond})

	s.Track(context.Background(), inbound())
	require.Equal(t, 1, s.Registry().Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	clk.Advance(31 * time.Minute)
	assert.Eventually(t, func() bool {
		return s.Registry().Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestQueryCacheKey(t *testing.T) {
	q := Query{TailNumber: " n728sk ", Destination: "phx", Provider: "AUTO"}.Normalized()
	assert.Equal(t, "flight:N728SK::auto:PHX", q.CacheKey())

	q = Query{FlightNumber: "aa1234", Provider: "FlightLabs"}.Normalized()
	assert.Equal(t, "flight::AA1234:flightlabs:", q.CacheKey())

	assert.ErrorIs(t, Query{}.Validate(), ErrNoIdentifier)
}

func TestParseQueryTimes(t *testing.T) {
	dep, arr := ParseQueryTimes("2025-03-01T16:00:00Z", "not a time")
	require.NotNil(t, dep)
	assert.Equal(t, 16, dep.Hour())
	assert.Nil(t, arr)
}
