package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/massepaul19/share-screen-in-local/internal/adapters/http"
	"github.com/massepaul19/share-screen-in-local/internal/app"
	"github.com/massepaul19/share-screen-in-local/internal/app/sfu"
	"github.com/massepaul19/share-screen-in-local/internal/config"
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

	engine := sfu.NewEngine()
	pool, err := sfu.NewPool(ctx, engine, cfg.Workers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}

	reg := app.NewRegistry()
	share := app.NewShareCoordinator(reg, cfg.ShareApprovalTTL, cfg.ShareRequestTTL)
	calls := app.NewCallCoordinator(reg, cfg.RingTimeout, cfg.CallStaleAfter)
	rooms := app.NewRoomRegistry(reg, engine, pool)
	relay := app.NewRelay(reg)
	orch := app.NewOrchestrator(reg, share, calls, rooms, relay)

	go calls.Sweep(ctx, cfg.CallSweepInterval)
	go relay.Dump(ctx, 30*time.Second)

	r := router.SetupRouter(ctx, cfg, orch)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", pool.Size()).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	rooms.Shutdown()
	log.Info().Msg("server exited gracefully")
}
