package phase

import (
	"math"
	"sync"
	"time"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

// Registry defaults
const (
	DefaultRouteToleranceNM = 50
	DefaultIdleTimeout      = 1800 * time.Second
)

type registryEntry struct {
	estimator   *Estimator
	lastTouched time.Time
}

// Registry owns one Estimator per transponder address.
//
// Addresses get reused by different flights, so an entry is only reused
// while the requested route length stays within tolerance of the one it was
// created for. Entries are never expired automatically; the owner calls
// Sweep on its own schedule.
type Registry struct {
	entries     map[string]*registryEntry
	toleranceNM float64
	idleTimeout time.Duration
	now         func() time.Time
	logger      *logger.Logger
	mu          sync.Mutex
}

// NewRegistry creates an empty registry. Zero values select the defaults.
func NewRegistry(toleranceNM float64, idleTimeout time.Duration, log *logger.Logger) *Registry {
	if toleranceNM <= 0 {
		toleranceNM = DefaultRouteToleranceNM
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		entries:     make(map[string]*registryEntry),
		toleranceNM: toleranceNM,
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      log.Named("phase-registry"),
	}
}

// Get returns the estimator for address, creating a fresh one when none
// exists or the stored route length differs by more than the tolerance.
func (r *Registry) Get(address string, totalDistanceNM float64) *Estimator {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.entries[address]; ok {
		if math.Abs(e.estimator.TotalDistanceNM()-totalDistanceNM) <= r.toleranceNM {
			e.lastTouched = now
			return e.estimator
		}
		r.logger.Info("Route changed for address, replacing estimator",
			logger.String("address", address),
			logger.Float64("previous_route_nm", e.estimator.TotalDistanceNM()),
			logger.Float64("route_nm", totalDistanceNM))
	} else {
		r.logger.Debug("Creating estimator",
			logger.String("address", address),
			logger.Float64("route_nm", totalDistanceNM))
	}

	est := NewEstimator(totalDistanceNM)
	r.entries[address] = &registryEntry{estimator: est, lastTouched: now}
	return est
}

// Sweep removes estimators untouched for the idle timeout and returns how many were removed
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for address, e := range r.entries {
		if now.Sub(e.lastTouched) >= r.idleTimeout {
			delete(r.entries, address)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("Swept idle estimators",
			logger.Int("removed", removed),
			logger.Int("remaining", len(r.entries)))
	}
	return removed
}

// Len returns the number of tracked aircraft
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SetClock replaces the time source used for idle tracking
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
