package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gis-utility-platform/api/internal/config"
	"github.com/gis-utility-platform/api/internal/db"
	"github.com/gis-utility-platform/api/internal/dispatch"
	"github.com/gis-utility-platform/api/internal/geocode"
	httpapi "github.com/gis-utility-platform/api/internal/http"
	"github.com/gis-utility-platform/api/internal/http/handlers"
	"github.com/gis-utility-platform/api/internal/notify"
	"github.com/gis-utility-platform/api/internal/priority"
	"github.com/gis-utility-platform/api/internal/registry"
	"github.com/gis-utility-platform/api/internal/sla"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", handlers.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides, err := sla.ParseOverrides(cfg.SLAOverrides)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid SLA_OVERRIDES")
	}
	policy := sla.DefaultPolicy().WithOverrides(overrides)

	var (
		store         *db.Store
		registryStore registry.Store
		dispatchStore dispatch.Store
	)
	if cfg.DatabaseURL != "" {
		store, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer store.Close()
		if err := db.Migrate(ctx, store.Pool, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate db")
		}
		registryStore, dispatchStore = store, store
	} else {
		logger.Warn().Msg("DATABASE_URL is empty, state is kept in memory only")
	}

	hub := notify.NewHub(cfg.CORSOrigins(), logger)
	defer hub.Close()
	sinks := notify.Multi{notify.LogNotifier{Logger: logger}, hub}
	if cfg.RedisAddr != "" {
		rn, err := notify.NewRedisNotifier(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis notifier")
		}
		defer rn.Close()
		sinks = append(sinks, rn)
	}
	if cfg.NATSURL != "" {
		nn, err := notify.NewNATSNotifier(cfg.NATSURL, "gis-api", cfg.NATSSubject)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats notifier")
		}
		defer nn.Close()
		sinks = append(sinks, nn)
	}

	reg := registry.New(registryStore, policy.Deadline, cfg.GridCellDeg, logger)
	dispatcher := dispatch.New(reg, dispatchStore, sinks, dispatch.Config{
		RadiusKm:       cfg.DispatchRadiusKm,
		MaxLocationAge: cfg.LocationMaxAge,
		RetryInterval:  cfg.RetryInterval,
		RetryBase:      cfg.RetryBase,
		RetryMax:       cfg.RetryMax,
		CellDeg:        cfg.GridCellDeg,
	}, logger)
	monitor := sla.NewMonitor(reg, sinks, cfg.SLACheckInterval, logger)

	if store != nil {
		snap, err := store.Load(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load state")
		}
		reg.Restore(snap.Complaints, snap.Updates)
		dispatcher.Restore(snap.Technicians, snap.Assignments)
		logger.Info().
			Int("complaints", len(snap.Complaints)).
			Int("technicians", len(snap.Technicians)).
			Int("assignments", len(snap.Assignments)).
			Msg("state restored")
	}

	var scorer priority.Scorer = priority.RuleScorer{}
	if cfg.PriorityURL != "" {
		scorer = priority.HTTPScorer{BaseURL: cfg.PriorityURL, Fallback: priority.RuleScorer{}, Logger: logger}
	} else {
		logger.Info().Msg("using rule-based priority scorer")
	}

	var geocoder geocode.Geocoder
	if cfg.GeocoderURL != "" || cfg.GeocodeEnabled {
		geocoder = &geocode.NominatimGeocoder{
			BaseURL:     cfg.GeocoderURL,
			UserAgent:   "gis-utility-platform/" + handlers.ServiceVersion,
			CountryCode: cfg.GeocodeCountry,
			MinInterval: time.Second,
		}
	}

	h := &handlers.Handler{
		Registry:   reg,
		Dispatcher: dispatcher,
		Monitor:    monitor,
		Policy:     policy,
		Scorer:     scorer,
		Geocoder:   geocoder,
		Store:      store,
		Validator:  validator.New(),
		Logger:     logger,
		Country:    cfg.GeocodeCountry,
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.Router(cfg, h, hub)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
