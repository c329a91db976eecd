package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/taskboard-relay/internal/adapters/auth"
	router "github.com/dkeye/taskboard-relay/internal/adapters/http"
	wssignal "github.com/dkeye/taskboard-relay/internal/adapters/signal"
	"github.com/dkeye/taskboard-relay/internal/adapters/store"
	"github.com/dkeye/taskboard-relay/internal/app"
	"github.com/dkeye/taskboard-relay/internal/app/orch"
	"github.com/dkeye/taskboard-relay/internal/config"
	"github.com/dkeye/taskboard-relay/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	policy, err := app.PolicyByName(cfg.SlowConsumer)
	if err != nil {
		return err
	}

	var (
		profiles core.ProfileLookup
		checks   []router.ReadyCheck
	)
	if cfg.PGURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.PGURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		profiles = pg
		checks = append(checks, pg.Ping)
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   policy,
		Auth:     auth.NewJWT(cfg.JWTSecret, profiles),
	}
	ctl := wssignal.NewSignalWSController(o, wssignal.NewRateLimiter(cfg.RateLimit.Events, cfg.RateLimit.Interval), wssignal.Settings{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.CORSAllow,
	})

	r := router.SetupRouter(ctx, cfg, o, ctl, checks...)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.WithCORS(cfg.CORSAllow, r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		// Hijacked websocket connections are not tracked by the server.
		o.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
