package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/httpserver"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/pkg/shop"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config yaml (env only when empty)")
	flag.Parse()

	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logger.New(logger.Config{Service: "maths-notes"})
		boot.Fatal().Err(err).Msg("config.load_failed")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "maths-notes",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})
	if envErr != nil {
		log.Debug().Msg("config.no_dotenv")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := shop.NewApp(ctx, cfg, shop.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("app.init_failed")
	}

	srv := httpserver.New(cfg, app.Handler())
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Str("route_prefix", cfg.Server.RoutePrefix).Msg("server.listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("server.shutting_down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server.failed")
		}
	}

	timeout := cfg.Server.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server.shutdown_failed")
	}
	if err := app.Close(); err != nil {
		log.Error().Err(err).Msg("app.close_failed")
	}
	log.Info().Msg("server.stopped")
}
