package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"rasp/internal/cfg"
	"rasp/internal/ml"
	"rasp/internal/replay"
	"rasp/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		dataPath   = flag.String("data", "", "History store directory or legacy history.json file (default: configured data path)")
		backend    = flag.String("backend", "", "Model backend: script, onnx, remote (overrides config)")
		modelPath  = flag.String("model", "", "Path to the model artifact (overrides config)")
		modelURL   = flag.String("model-url", "", "Remote inference URL (overrides config)")
		outputPath = flag.String("output", "", "Output directory for reports (none when empty)")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		tolerance  = flag.Float64("tolerance", 0.01, "Allowed severity difference in points")
		importPath = flag.String("import", "", "Legacy history.json to import into the store before replaying")
		startDate  = flag.String("start", "", "Start date (YYYY-MM-DD)")
		endDate    = flag.String("end", "", "End date (YYYY-MM-DD)")
	)
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Override config with command line arguments
	if *dataPath == "" {
		*dataPath = config.DataPath
	}
	if *backend != "" {
		config.ModelBackend = *backend
	}
	if *modelPath != "" {
		config.ModelPath = *modelPath
	}
	if *modelURL != "" {
		config.ModelURL = *modelURL
	}

	startTime, err := parseDate(*startDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid start date format")
	}
	endTime, err := parseDate(*endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid end date format")
	}
	if !endTime.IsZero() {
		endTime = endTime.Add(24*time.Hour - time.Nanosecond)
	}

	fmt.Println("=== Replay Configuration ===")
	fmt.Printf("Data Path: %s\n", *dataPath)
	fmt.Printf("Backend: %s\n", config.ModelBackend)
	fmt.Printf("Model Path: %s\n", config.ModelPath)
	fmt.Printf("Tolerance: %.4f\n", *tolerance)
	fmt.Printf("Output Directory: %s\n", *outputPath)
	fmt.Println("============================")

	loader := replay.NewDataLoader()
	if err := loadData(loader, *dataPath, *importPath, startTime, endTime); err != nil {
		log.Fatal().Err(err).Msg("Failed to load history")
	}

	model, err := ml.Load(ml.Config{
		Backend:     config.ModelBackend,
		ModelPath:   config.ModelPath,
		ModelURL:    config.ModelURL,
		PythonPath:  config.PythonPath,
		ONNXLibPath: config.ONNXLibPath,
		Timeout:     config.ModelTimeout,
	}, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load model")
	}
	defer model.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine := replay.NewEngine(model, loader, *tolerance)
	if err := engine.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Replay failed")
		return
	}
	results := engine.GetResults()

	reporter := replay.NewReporter(results, *outputPath)
	if *outputPath != "" {
		if err := reporter.GenerateReport(); err != nil {
			log.Error().Err(err).Msg("Failed to generate reports")
		}
	}
	reporter.PrintSummary(os.Stdout)

	if results.Drifted > 0 || results.Failed > 0 {
		log.Warn().
			Int("drifted", results.Drifted).
			Int("failed", results.Failed).
			Msg("Replay found differences")
		stop()
		model.Close()
		os.Exit(1)
	}
	log.Info().Msg("Replay completed, no drift")
}

// loadData reads history from a store directory or a legacy JSON file.
// With importPath set, the legacy file is first appended to the store.
func loadData(loader *replay.DataLoader, path, importPath string, start, end time.Time) error {
	info, err := os.Stat(path)
	if err == nil && !info.IsDir() && strings.HasSuffix(path, ".json") {
		return loader.LoadFromLegacyJSON(path, start, end)
	}

	store, err := storage.New(path)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	if importPath != "" {
		f, err := os.Open(importPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", importPath, err)
		}
		n, err := store.ImportLegacyHistory(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", importPath, err)
		}
		log.Info().Int("entries", n).Str("path", importPath).Msg("Imported legacy history")
	}

	return loader.LoadFromStore(store, start, end)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.Local)
}
