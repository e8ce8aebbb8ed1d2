package phase

import (
	"math"
	"sync"
	"time"

	"github.com/yegors/inbound-tracker/internal/geo"
)

// Sample is a single telemetry observation of an aircraft
type Sample struct {
	Time             time.Time
	Lat              float64
	Lon              float64
	AltitudeFt       float64
	GroundSpeedKt    float64
	VerticalRateFPM  float64
	TrackDeg         float64
	OnGround         bool
	DistToDestNM     float64
	DistFromOriginNM float64
}

// Thresholds used by the classification rules. They were tuned against
// recorded flights and are kept as-is.
const (
	historyWindow = 600 * time.Second

	takeoffProgress     = 0.05
	takeoffClimbFPM     = 500
	climbFPM            = 300
	levelFPM            = 300
	cruiseProgressLimit = 0.7
	significantDescent  = -500 // fpm
	continuousDescent   = -200 // fpm

	finalDistanceNM    = 12
	finalAltitudeFt    = 4000
	approachDistanceNM = 40
	approachAltitudeFt = 10000
	approachWindow     = 120 * time.Second
	descentProgress    = 0.6
	descentAltLossFrac = 0.3
	descentWindow      = 60 * time.Second

	holdingMinSamples    = 10
	holdingWindow        = 300 * time.Second
	holdingMaxAltSpread  = 300  // ft
	holdingMinTurnDeg    = 300  // cumulative
	holdingMaxBoxDeg     = 0.15 // lat/lon, roughly 9 nm
	holdingMaxProgressNM = 5
)

// Result is the outcome of observing one sample
type Result struct {
	Phase    Phase
	Progress float64 // 0.0 - 1.0
}

// Estimator classifies the flight phase of one aircraft from its recent
// telemetry. Each call re-evaluates an ordered list of rules against the
// current sample and the rolling history; there is no stored previous phase.
//
// Update must be called with a sample before Estimate so history based
// rules can see it. Observe does both under one lock.
type Estimator struct {
	totalDistanceNM float64

	mu            sync.Mutex
	history       []Sample
	maxAltitudeFt float64
	departedAt    *time.Time
	lastOnGround  *bool
}

// NewEstimator creates an estimator for a route of the given great-circle length
func NewEstimator(totalDistanceNM float64) *Estimator {
	return &Estimator{totalDistanceNM: totalDistanceNM}
}

// TotalDistanceNM returns the route length this estimator was created for
func (e *Estimator) TotalDistanceNM() float64 {
	return e.totalDistanceNM
}

// Update appends a sample to the rolling history. Samples not newer than
// the latest one are ignored.
func (e *Estimator) Update(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.update(s)
}

// Estimate returns the phase for s without modifying state
func (e *Estimator) Estimate(s Sample) Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimate(s)
}

// Observe records s and classifies it atomically
func (e *Estimator) Observe(s Sample) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.update(s)
	return Result{
		Phase:    e.estimate(s),
		Progress: e.progress(s),
	}
}

// Progress returns the fraction of the route flown, clamped to [0, 1]
func (e *Estimator) Progress(s Sample) float64 {
	return e.progress(s)
}

// HistoryLen returns the number of samples in the rolling window
func (e *Estimator) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// MaxAltitudeFt returns the highest altitude seen on this flight
func (e *Estimator) MaxAltitudeFt() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxAltitudeFt
}

// DepartedAt returns the observed or inferred takeoff time, if known
func (e *Estimator) DepartedAt() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.departedAt == nil {
		return nil
	}
	t := *e.departedAt
	return &t
}

func (e *Estimator) update(s Sample) {
	// OpenSky repeats the last state vector until a new position arrives
	if n := len(e.history); n > 0 && !s.Time.After(e.history[n-1].Time) {
		return
	}
	e.trackDeparture(s)

	e.history = append(e.history, s)
	e.maxAltitudeFt = math.Max(e.maxAltitudeFt, s.AltitudeFt)

	cutoff := s.Time.Add(-historyWindow)
	kept := e.history[:0]
	for _, h := range e.history {
		if h.Time.After(cutoff) {
			kept = append(kept, h)
		}
	}
	e.history = kept
}

// trackDeparture records the wheels-up time. A ground to air transition gives
// it directly; an aircraft first seen airborne gets it back-calculated from
// the distance flown at its current ground speed.
func (e *Estimator) trackDeparture(s Sample) {
	defer func() {
		onGround := s.OnGround
		e.lastOnGround = &onGround
	}()

	if e.departedAt != nil || s.OnGround {
		return
	}

	if e.lastOnGround != nil {
		if *e.lastOnGround {
			t := s.Time
			e.departedAt = &t
		}
		return
	}

	if s.DistFromOriginNM > 0 && s.GroundSpeedKt > 0 {
		hours := s.DistFromOriginNM / s.GroundSpeedKt
		t := s.Time.Add(-time.Duration(hours * float64(time.Hour)))
		e.departedAt = &t
	}
}

func (e *Estimator) progress(s Sample) float64 {
	if e.totalDistanceNM <= 0 {
		return 0
	}
	p := 1 - s.DistToDestNM/e.totalDistanceNM
	return math.Max(0, math.Min(1, p))
}

func (e *Estimator) estimate(s Sample) Phase {
	progress := e.progress(s)

	// STEP 1: on the ground, past the midpoint means we already landed
	if s.OnGround {
		if s.DistToDestNM < e.totalDistanceNM*0.5 {
			return Arrived
		}
		return GateDeparture
	}

	// STEP 2: holding pattern overrides vertical rate
	if e.isHolding() {
		return Holding
	}

	// STEP 3: initial climb right after takeoff
	if progress < takeoffProgress && s.VerticalRateFPM > takeoffClimbFPM {
		return Takeoff
	}

	// STEP 4: climbing
	if s.VerticalRateFPM > climbFPM {
		if e.wasDescendingRecently() {
			return Reclimb
		}
		return Climbing
	}

	// STEP 5: level flight
	if math.Abs(s.VerticalRateFPM) < levelFPM {
		if progress < cruiseProgressLimit {
			return Cruise
		}
		if e.isLevelAfterDescent() {
			return LevelOff
		}
		return Cruise
	}

	// STEP 6: descending
	return e.classifyDescent(s, progress)
}

func (e *Estimator) classifyDescent(s Sample, progress float64) Phase {
	altLost := 0.0
	if e.maxAltitudeFt > 0 {
		altLost = (e.maxAltitudeFt - s.AltitudeFt) / e.maxAltitudeFt
	}

	if s.DistToDestNM < finalDistanceNM && s.AltitudeFt < finalAltitudeFt {
		return Final
	}

	if s.DistToDestNM < approachDistanceNM &&
		s.AltitudeFt < approachAltitudeFt &&
		e.isContinuousDescent(approachWindow) {
		return Approach
	}

	// Top of descent has passed
	if progress > descentProgress &&
		altLost > descentAltLossFrac &&
		e.isContinuousDescent(descentWindow) {
		return InitialDescent
	}

	// Anything else is a temporary ATC level change
	return StepDescent
}

// recent returns the samples newer than window before the latest one
func (e *Estimator) recent(window time.Duration) []Sample {
	if len(e.history) == 0 {
		return nil
	}
	cutoff := e.history[len(e.history)-1].Time.Add(-window)
	for i, s := range e.history {
		if s.Time.After(cutoff) {
			return e.history[i:]
		}
	}
	return nil
}

func (e *Estimator) isContinuousDescent(window time.Duration) bool {
	recent := e.recent(window)
	if len(recent) < 3 {
		return false
	}
	for _, s := range recent {
		if s.VerticalRateFPM >= continuousDescent {
			return false
		}
	}
	return true
}

// wasDescendingRecently looks at the four samples before the latest one
func (e *Estimator) wasDescendingRecently() bool {
	n := len(e.history)
	if n < 5 {
		return false
	}
	for _, s := range e.history[n-5 : n-1] {
		if s.VerticalRateFPM < significantDescent {
			return true
		}
	}
	return false
}

// isLevelAfterDescent needs a descent in the 8th-5th most recent samples
// and the last three samples level
func (e *Estimator) isLevelAfterDescent() bool {
	n := len(e.history)
	if n < 8 {
		return false
	}

	wasDescending := false
	for _, s := range e.history[n-8 : n-4] {
		if s.VerticalRateFPM < significantDescent {
			wasDescending = true
			break
		}
	}
	if !wasDescending {
		return false
	}

	for _, s := range e.history[n-3:] {
		if math.Abs(s.VerticalRateFPM) >= levelFPM {
			return false
		}
	}
	return true
}

// isHolding detects a racetrack: level, turning through at least a full
// orbit, staying inside a small box and not closing on the destination
func (e *Estimator) isHolding() bool {
	if len(e.history) < holdingMinSamples {
		return false
	}

	recent := e.recent(holdingWindow)
	if len(recent) < holdingMinSamples {
		return false
	}

	minAlt, maxAlt := recent[0].AltitudeFt, recent[0].AltitudeFt
	minLat, maxLat := recent[0].Lat, recent[0].Lat
	minLon, maxLon := recent[0].Lon, recent[0].Lon
	turn := 0.0
	for i, s := range recent {
		minAlt, maxAlt = math.Min(minAlt, s.AltitudeFt), math.Max(maxAlt, s.AltitudeFt)
		minLat, maxLat = math.Min(minLat, s.Lat), math.Max(maxLat, s.Lat)
		minLon, maxLon = math.Min(minLon, s.Lon), math.Max(maxLon, s.Lon)
		if i > 0 {
			turn += math.Abs(geo.NormalizeAngleDelta(s.TrackDeg - recent[i-1].TrackDeg))
		}
	}

	if maxAlt-minAlt > holdingMaxAltSpread {
		return false
	}
	if turn < holdingMinTurnDeg {
		return false
	}
	if maxLat-minLat > holdingMaxBoxDeg || maxLon-minLon > holdingMaxBoxDeg {
		return false
	}
	if recent[0].DistToDestNM-recent[len(recent)-1].DistToDestNM > holdingMaxProgressNM {
		return false
	}
	return true
}
