package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"

	"fleet-telemetry-platform/internal/config"
	"fleet-telemetry-platform/internal/fleetapi"
	"fleet-telemetry-platform/internal/processor"
	"fleet-telemetry-platform/internal/repository"
	"fleet-telemetry-platform/internal/services"
	"fleet-telemetry-platform/pkg/database"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
	"fleet-telemetry-platform/pkg/storage"
)

func main() {
	mode := flag.String("mode", services.ModeAll, "Pipeline mode: all, fleet, or timeseries")
	schedule := flag.String("schedule", "", "Cron expression for recurring runs (empty runs once)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("fleet-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting fleet telemetry ingester", logging.Fields{
		"version":  "1.0.0",
		"mode":     *mode,
		"schedule": *schedule,
		"source":   cfg.Source.BaseURL,
	})

	metricsCollector := metrics.NewCollector("fleet_ingester")

	client, err := fleetapi.NewClient(cfg.Source, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to create source client", logging.Fields{}, err)
	}

	store := storage.NewFileStore(cfg.Storage, logger)
	proc := processor.NewProcessor(logger, metricsCollector)

	// The relational sink is optional; runs stay file-only without it.
	var repo repository.TelemetryRepository
	if cfg.Pipeline.SinkEnabled {
		db, err := database.NewPostgresDB(cfg.Database, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()
		repo = repository.NewTelemetryRepository(db, logger, metricsCollector)
	}

	pipeline := services.NewPipelineService(cfg, client, store, proc, repo, logger, metricsCollector)

	if *schedule == "" {
		result, err := pipeline.Run(ctx, *mode)
		if err != nil {
			logger.Fatal(ctx, "[RUN_ERROR] Pipeline run failed", logging.Fields{
				"mode": *mode,
			}, err)
		}
		printResult(result)
		return
	}

	// Scheduled operation: run on the cron expression until interrupted.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(*schedule, func() {
		result, err := pipeline.Run(ctx, *mode)
		if err != nil {
			logger.Error(ctx, "[RUN_ERROR] Scheduled pipeline run failed", logging.Fields{
				"mode": *mode,
			}, err)
			return
		}
		logger.Info(ctx, "[RUN_SCHEDULED] Scheduled run finished", logging.Fields{
			"vessels_processed": result.VesselsProcessed,
			"vessels_failed":    result.VesselsFailed,
			"summary_rows":      result.SummaryRows,
		})
	})
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Invalid cron schedule", logging.Fields{
			"schedule": *schedule,
		}, err)
	}

	scheduler.Start()
	logger.Info(ctx, "[SCHEDULER_START] Scheduler running", logging.Fields{
		"schedule": *schedule,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info(ctx, "[SCHEDULER_STOP] Scheduler stopped", logging.Fields{})
}

func printResult(result *services.RunResult) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("PIPELINE RUN COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run Timestamp:      %s\n", result.RunTimestamp)
	fmt.Printf("Mode:               %s\n", result.Mode)
	fmt.Printf("Vessels Processed:  %d\n", result.VesselsProcessed)
	fmt.Printf("Vessels Failed:     %d\n", result.VesselsFailed)
	fmt.Printf("Clean Observations: %d\n", result.CleanObservations)
	fmt.Printf("Null Observations:  %d\n", result.NullObservations)
	fmt.Printf("Gap Intervals:      %d\n", result.GapIntervals)
	fmt.Printf("Summary Rows:       %d\n", result.SummaryRows)
	fmt.Printf("New Day:            %v\n", result.NewDay)
	fmt.Printf("Published:          %v\n", result.Published)
	fmt.Printf("Duration:           %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}
}
