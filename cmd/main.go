package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/chatrelay/internal/api/v1/routes"
	"github.com/deepgram/chatrelay/internal/config"
	"github.com/deepgram/chatrelay/internal/services"
	"github.com/deepgram/chatrelay/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	svcs, err := services.InitializeServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svcs.Close()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           setupRouter(svcs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		log.Fatal().Err(err).Msg("ListenAndServe error")
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	closed := svcs.GetConnectionManager().CloseAll("server shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Int("websockets_closed", closed).Msg("Server stopped")
}

// loadConfig sets up logging from the environment first, so anything config
// loading logs already honours LOG_LEVEL and LOG_FORMAT
func loadConfig(w io.Writer) (*config.Config, error) {
	logger.InitWithWriter(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), w)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.InitWithWriter(cfg.LogLevel, cfg.LogFormat, w)
	return cfg, nil
}

func setupRouter(svcs *services.Services) *mux.Router {
	return routes.NewRouter(svcs)
}
