package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rasp/internal/api"
	"rasp/internal/auth"
	"rasp/internal/cfg"
	"rasp/internal/feed"
	"rasp/internal/metrics"
	"rasp/internal/ml"
	"rasp/internal/predict"
	"rasp/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	zerolog.SetGlobalLevel(c.ZerologLevel())

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store := initializeStorage(c)
	defer store.Close()
	importLegacyHistory(c, store)

	model, err := ml.Load(ml.Config{
		Backend:     c.ModelBackend,
		ModelPath:   c.ModelPath,
		ModelURL:    c.ModelURL,
		PythonPath:  c.PythonPath,
		ONNXLibPath: c.ONNXLibPath,
		Timeout:     c.ModelTimeout,
	}, mw)
	if err != nil {
		log.Fatal().Err(err).Str("backend", c.ModelBackend).Msg("model load failed")
	}
	defer model.Close()

	hub := feed.NewHub(mw, api.CheckOrigin(c.AllowedOrigins))
	if err := hub.Start(); err != nil {
		log.Fatal().Err(err).Msg("feed hub start failed")
	}
	defer hub.Stop()

	svc := predict.NewService(model, store,
		predict.WithStrictValidation(c.StrictValidation),
		predict.WithMetrics(mw),
		predict.WithNotifier(hub))
	accounts := auth.NewService(store, c.BcryptCost, mw)

	if n, err := store.HistoryCount(); err == nil {
		mw.HistorySizeSet(n)
	}

	server := api.NewServer(api.Config{
		Port:           c.Port,
		AllowedOrigins: c.AllowedOrigins,
		Feed:           hub,
	}, svc, accounts, store)

	var wg sync.WaitGroup
	startServer(ctx, &wg, cancel, "API server", server.Start, server.Shutdown)

	if c.ModelServerPort > 0 {
		ms := ml.NewModelServer(model, c.ModelServerPort)
		startServer(ctx, &wg, cancel, "model server", ms.Start, ms.Shutdown)
	}

	log.Info().
		Int("port", c.Port).
		Str("backend", model.Name()).
		Bool("strict_validation", c.StrictValidation).
		Str("data_path", store.Path()).
		Msg("Severity prediction server ready")

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, &wg)
}

// initializeStorage opens the history and user store.
func initializeStorage(c cfg.Settings) *storage.Store {
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("data_path", c.DataPath).Msg("storage initialization failed")
	}
	return store
}

// importLegacyHistory seeds an empty store from an old history.json file.
func importLegacyHistory(c cfg.Settings, store *storage.Store) {
	if c.LegacyHistoryPath == "" {
		return
	}
	n, err := store.HistoryCount()
	if err != nil || n > 0 {
		return
	}

	f, err := os.Open(c.LegacyHistoryPath)
	if err != nil {
		log.Warn().Err(err).Str("path", c.LegacyHistoryPath).Msg("legacy history not imported")
		return
	}
	defer f.Close()

	imported, err := store.ImportLegacyHistory(f)
	if err != nil {
		log.Error().Err(err).Str("path", c.LegacyHistoryPath).Msg("legacy history import failed")
		return
	}
	log.Info().Int("entries", imported).Str("path", c.LegacyHistoryPath).Msg("legacy history imported")
}

// startServer runs an HTTP server until ctx is canceled. A server that fails to
// listen cancels ctx so the process exits.
func startServer(ctx context.Context, wg *sync.WaitGroup, cancel context.CancelFunc, name string,
	start func() error, shutdown func(context.Context) error,
) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msgf("%s failed", name)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msgf("failed to shutdown %s", name)
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all servers stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
