package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/inbound-tracker/internal/airports"
	"github.com/yegors/inbound-tracker/internal/providers"
	"github.com/yegors/inbound-tracker/internal/tracker"
	"github.com/yegors/inbound-tracker/pkg/logger"
)

// Tracker is the tracking service behind the flight endpoints
type Tracker interface {
	Track(ctx context.Context, q tracker.Query) *providers.Record
	Status() tracker.ProviderStatus
	GetStats() map[string]interface{}
}

// AirportDirectory answers airport lookups
type AirportDirectory interface {
	Lookup(iata string) (*airports.Airport, bool)
	Search(query string, limit int) ([]airports.Airport, error)
}

// Handler contains the API handlers
type Handler struct {
	tracker  Tracker
	airports AirportDirectory
	started  time.Time
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(t Tracker, directory AirportDirectory, log *logger.Logger) *Handler {
	return &Handler{
		tracker:  t,
		airports: directory,
		started:  time.Now(),
		logger:   log.Named("api-handler"),
	}
}

// TrackFlight returns the normalized tracking record for the query string.
// Provider problems are reported inside the record with a 200; only a
// request without any identifier is rejected.
func (h *Handler) TrackFlight(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := tracker.Query{
		TailNumber:   params.Get("tail_number"),
		FlightNumber: params.Get("flight_number"),
		Provider:     params.Get("provider"),
		Destination:  params.Get("destination"),
		Origin:       params.Get("origin"),
	}
	q.ScheduledDeparture, q.ScheduledArrival = tracker.ParseQueryTimes(params.Get("scheduled_dep"), params.Get("scheduled_arr"))

	if err := q.Normalized().Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	rec := h.tracker.Track(r.Context(), q)

	h.logger.Debug("Tracked flight",
		logger.String("tail_number", q.TailNumber),
		logger.String("flight_number", q.FlightNumber),
		logger.Bool("available", rec.Available),
		logger.String("provider", rec.Provider),
		logger.Duration("duration", time.Since(start)))

	WriteJSON(w, http.StatusOK, rec)
}

// GetTrackerStatus reports which providers are configured
func (h *Handler) GetTrackerStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.tracker.Status())
}

// GetAirport returns a single airport by IATA code
func (h *Handler) GetAirport(w http.ResponseWriter, r *http.Request) {
	iata := chi.URLParam(r, "iata")
	airport, ok := h.airports.Lookup(iata)
	if !ok {
		WriteError(w, http.StatusNotFound, "airport not found")
		return
	}
	WriteJSON(w, http.StatusOK, airport)
}

// SearchAirports matches airports by code, name or city
func (h *Handler) SearchAirports(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		WriteError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	results, err := h.airports.Search(query, limit)
	if err != nil {
		h.logger.Error("Airport search failed", logger.String("query", query), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "airport search failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"airports": results,
		"count":    len(results),
	})
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := h.tracker.Status()
	state := "ok"
	if !status.AnyAvailable {
		state = "degraded"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         state,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"providers":      status,
		"tracker":        h.tracker.GetStats(),
	})
}

// WriteJSON writes data as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes a JSON error body
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
