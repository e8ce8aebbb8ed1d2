package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yegors/inbound-tracker/internal/config"
	"github.com/yegors/inbound-tracker/internal/websocket"
	"github.com/yegors/inbound-tracker/pkg/logger"
)

// Router wires the HTTP endpoints
type Router struct {
	handler  *Handler
	wsServer *websocket.Server
	cfg      config.ServerConfig
	logger   *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(handler *Handler, wsServer *websocket.Server, cfg config.ServerConfig, log *logger.Logger) *Router {
	return &Router{
		handler:  handler,
		wsServer: wsServer,
		cfg:      cfg,
		logger:   log.Named("router"),
	}
}

// Routes returns the configured http.Handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)

	origins := rt.cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", rt.handler.GetHealth)

		r.Route("/flight", func(r chi.Router) {
			r.Get("/track", rt.handler.TrackFlight)
			r.Get("/status", rt.handler.GetTrackerStatus)
		})

		r.Route("/airports", func(r chi.Router) {
			r.Get("/", rt.handler.SearchAirports)
			r.Get("/{iata}", rt.handler.GetAirport)
		})
	})

	if rt.wsServer != nil {
		r.Get("/ws", rt.wsServer.HandleConnection)
	}

	if rt.cfg.StaticFilesDir != "" {
		r.Handle("/*", NewStaticFileHandler(rt.cfg.StaticFilesDir, rt.logger))
	}

	return r
}

// requestLogger logs each request at debug level. WebSocket upgrades are
// passed through untouched so the hijacker survives.
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Duration("duration", time.Since(start)))
	})
}
