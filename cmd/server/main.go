package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegors/inbound-tracker/internal/airports"
	"github.com/yegors/inbound-tracker/internal/api"
	"github.com/yegors/inbound-tracker/internal/config"
	"github.com/yegors/inbound-tracker/internal/providers"
	"github.com/yegors/inbound-tracker/internal/tracker"
	"github.com/yegors/inbound-tracker/internal/websocket"
	"github.com/yegors/inbound-tracker/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting inbound tracker",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Airport directory
	directory, err := airports.Open(cfg.Airports.DBPath, log)
	if err != nil {
		log.Error("Failed to open airport directory", logger.Error(err), logger.String("path", cfg.Airports.DBPath))
		os.Exit(1)
	}
	defer directory.Close()

	if cfg.Airports.SeedPath != "" {
		n, err := directory.Seed(cfg.Airports.SeedPath)
		if err != nil {
			log.Error("Failed to seed airport directory", logger.Error(err), logger.String("path", cfg.Airports.SeedPath))
			os.Exit(1)
		}
		log.Info("Airport directory seeded", logger.Int("airports", n))
	}

	count, err := directory.Count()
	if err != nil {
		log.Error("Failed to count airports", logger.Error(err))
		os.Exit(1)
	}
	if count == 0 {
		log.Warn("Airport directory is empty; route phase and ETA will be unavailable")
	}

	// Provider clients
	timeout := cfg.Tracking.ProviderTimeout()
	userAgent := cfg.Tracking.UserAgent

	openSky := providers.NewOpenSkyClient(providers.OpenSkyOptions{
		ClientOptions: providers.ClientOptions{
			BaseURL:           cfg.OpenSky.BaseURL,
			UserAgent:         userAgent,
			Timeout:           timeout,
			RequestsPerMinute: float64(cfg.OpenSky.RequestsPerMinute),
		},
		ClientID:        cfg.OpenSky.ClientID,
		ClientSecret:    cfg.OpenSky.ClientSecret,
		TokenURL:        cfg.OpenSky.TokenURL,
		CredentialsPath: cfg.OpenSky.CredentialsPath,
	}, log)

	flightLabs := providers.NewFlightLabsClient(providers.ClientOptions{
		BaseURL:           cfg.FlightLabs.BaseURL,
		APIKey:            cfg.FlightLabs.APIKey,
		UserAgent:         userAgent,
		Timeout:           timeout,
		RequestsPerMinute: float64(cfg.FlightLabs.RequestsPerMinute),
	}, log)

	aviationStack := providers.NewAviationStackClient(providers.ClientOptions{
		BaseURL:           cfg.AviationStack.BaseURL,
		APIKey:            cfg.AviationStack.APIKey,
		UserAgent:         userAgent,
		Timeout:           timeout,
		RequestsPerMinute: float64(cfg.AviationStack.RequestsPerMinute),
	}, log)

	trackerService := tracker.NewService(
		tracker.Providers{
			OpenSky:       openSky,
			FlightLabs:    flightLabs,
			AviationStack: aviationStack,
		},
		directory,
		tracker.Options{
			CacheTTL:         cfg.Tracking.CacheTTL(),
			RouteToleranceNM: cfg.Tracking.RouteToleranceNM,
			IdleTimeout:      cfg.Tracking.EstimatorIdle(),
			SweepInterval:    cfg.Tracking.SweepInterval(),
			ProviderTimeout:  timeout,
		},
		log,
	)

	status := trackerService.Status()
	log.Info("Providers configured",
		logger.Bool("opensky", status.OpenSky),
		logger.Bool("flightlabs", status.FlightLabs),
		logger.Bool("aviationstack", status.AviationStack))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trackerService.Start(ctx)

	// WebSocket live push
	wsServer := websocket.NewServer(log)
	wsHandler := tracker.NewWebSocketHandler(trackerService, cfg.Live.PushInterval(), cfg.Live.MaxSubscriptions, log)
	wsServer.SetMessageHandler(wsHandler)
	go wsServer.Run(ctx)

	handler := api.NewHandler(trackerService, directory, log)
	router := api.NewRouter(handler, wsServer, cfg.Server, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal or a fatal server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	wsHandler.Stop()
	cancel()
	trackerService.Stop()

	log.Info("Server fully stopped")
}
