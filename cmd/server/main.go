package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/iliyamo/runclub-portal/internal/app"
	"github.com/iliyamo/runclub-portal/internal/config"
	"github.com/iliyamo/runclub-portal/internal/database"
)

func main() {
	cfg := config.Load() // Load environment config
	log := app.NewLogger(cfg.Env)

	db, err := database.Open(database.DSN(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn().Msg("redis unreachable; rate limit, cache and locks disabled")
	} else {
		defer rdb.Close()
	}

	a := app.New(cfg, db, rdb, log)
	e := a.HTTP()
	w := a.Workers()
	defer w.Publisher.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.Relay.Run(ctx) }()
	go func() { defer wg.Done(); w.Sweeper.Run(ctx) }()
	go func() {
		defer wg.Done()
		if err := w.Consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("mail consumer stopped")
		}
	}()

	addr := ":" + cfg.Port // Address string with port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
}
