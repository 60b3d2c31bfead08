// Package services orchestrates the ingestion pipeline: fetching fleet,
// signal, and time-series payloads, running them through the transformation
// engine, maintaining the cross-run retention layers, and publishing to the
// relational sink.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"fleet-telemetry-platform/internal/config"
	"fleet-telemetry-platform/internal/fleetapi"
	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/internal/processor"
	"fleet-telemetry-platform/internal/repository"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
	"fleet-telemetry-platform/pkg/storage"
)

// Run modes.
const (
	ModeAll        = "all"
	ModeFleet      = "fleet"
	ModeTimeseries = "timeseries"
)

// Fetcher is the upstream client surface the pipeline needs.
type Fetcher interface {
	Fetch(ctx context.Context, kind fleetapi.ResourceKind, vesselID string) ([]byte, error)
}

// PipelineService runs the end-to-end ingestion pipeline.
type PipelineService struct {
	cfg     *config.Config
	client  Fetcher
	store   *storage.FileStore
	proc    *processor.Processor
	repo    repository.TelemetryRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	now func() time.Time
}

// RunResult contains per-run statistics
type RunResult struct {
	RunTimestamp      string
	Mode              string
	VesselsProcessed  int
	VesselsFailed     int
	CleanObservations int
	NullObservations  int
	GapIntervals      int
	SummaryRows       int
	NewDay            bool
	Published         bool
	Duration          time.Duration
	Errors            []string
}

// NewPipelineService creates a new pipeline service. repo may be nil when no
// relational sink is configured; publication is skipped in that case.
func NewPipelineService(
	cfg *config.Config,
	client Fetcher,
	store *storage.FileStore,
	proc *processor.Processor,
	repo repository.TelemetryRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *PipelineService {
	return &PipelineService{
		cfg:     cfg,
		client:  client,
		store:   store,
		proc:    proc,
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// Run executes one pipeline run. mode selects the stages: "fleet" refreshes
// the roster and signal catalog, "timeseries" processes observations against
// the stored roster, "all" does both.
func (s *PipelineService) Run(ctx context.Context, mode string) (*RunResult, error) {
	runStart := s.now().UTC()
	loadDate := runStart.Format(models.LoadDateLayout)
	ctx = logging.WithRunID(ctx, loadDate)

	if mode != ModeAll && mode != ModeFleet && mode != ModeTimeseries {
		return nil, fmt.Errorf("unknown pipeline mode %q", mode)
	}

	result := &RunResult{
		RunTimestamp: loadDate,
		Mode:         mode,
		Errors:       make([]string, 0),
	}

	s.logger.Info(ctx, "[RUN_START] Starting pipeline run", logging.Fields{
		"mode":  mode,
		"stage": "INITIALIZATION",
	})

	var vessels []string
	var err error

	if mode == ModeAll || mode == ModeFleet {
		vessels, err = s.fleetStage(ctx, loadDate)
		if err != nil {
			return nil, err
		}
		s.signalsStage(ctx, loadDate, vessels, result)
	}

	if mode == ModeAll || mode == ModeTimeseries {
		if len(vessels) == 0 {
			vessels, err = s.store.ReadRoster(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load vessel roster: %w", err)
			}
			if len(vessels) == 0 {
				vessels, err = s.fleetStage(ctx, loadDate)
				if err != nil {
					return nil, err
				}
			}
		}

		if err := s.timeseriesStage(ctx, runStart, loadDate, vessels, result); err != nil {
			return nil, err
		}
	}

	s.cleanupStage(ctx, runStart)

	result.Duration = time.Since(runStart)
	s.metrics.RunDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[RUN_COMPLETE] Pipeline run completed", logging.Fields{
		"mode":               mode,
		"vessels_processed":  result.VesselsProcessed,
		"vessels_failed":     result.VesselsFailed,
		"clean_observations": result.CleanObservations,
		"gap_intervals":      result.GapIntervals,
		"summary_rows":       result.SummaryRows,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
		"stage":              "COMPLETE",
	})

	return result, nil
}

// fleetStage fetches the fleet roster, persists the raw snapshot, and stores
// the active vessel id list. An empty or unreadable roster fails the run.
func (s *PipelineService) fleetStage(ctx context.Context, loadDate string) ([]string, error) {
	timer := s.metrics.NewTimer(s.metrics.StageDuration.WithLabelValues("fleet"))
	defer timer.ObserveDuration()

	body, err := s.client.Fetch(ctx, fleetapi.KindFleet, "")
	if err != nil {
		return nil, fmt.Errorf("fleet fetch failed: %w", err)
	}

	if err := s.store.WriteJSON(ctx, s.store.RawPath(loadDate), "ShipData", body); err != nil {
		return nil, err
	}

	fleet, err := models.ParseFleetPayload(body)
	if err != nil {
		return nil, fmt.Errorf("fleet payload unreadable: %w", err)
	}

	vessels := models.ActiveVesselIDs(fleet)
	if len(vessels) == 0 {
		return nil, errors.New("fleet roster contains no active vessels")
	}

	if err := s.store.WriteRoster(ctx, vessels); err != nil {
		return nil, err
	}

	ship, subTables, err := s.proc.FlattenShipData(ctx, body, loadDate)
	if err != nil {
		return nil, fmt.Errorf("ship data flatten failed: %w", err)
	}
	transformed := s.store.TransformedPath(loadDate)
	if err := s.store.WriteShipTable(ctx, transformed, "ShipData", ship); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(subTables))
	for name := range subTables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.store.WriteShipTable(ctx, transformed, "ShipData_"+name, subTables[name]); err != nil {
			return nil, err
		}
	}

	s.logger.Info(ctx, "[FLEET_STAGE] Roster refreshed", logging.Fields{
		"total_vessels":  len(fleet),
		"active_vessels": len(vessels),
		"ship_tables":    1 + len(subTables),
		"stage":          "FLEET",
	})

	return vessels, nil
}

// signalsStage fetches the per-vessel signal descriptors in roster batches,
// persists raw and transformed artifacts, and folds each batch into the
// cross-run signal mapping at the batch boundary. Per-vessel failures
// contribute empty results.
func (s *PipelineService) signalsStage(ctx context.Context, loadDate string, vessels []string, result *RunResult) {
	timer := s.metrics.NewTimer(s.metrics.StageDuration.WithLabelValues("signals"))
	defer timer.ObserveDuration()

	merged, err := s.store.ReadSignalMapping(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("signal mapping unreadable: %v", err))
		merged = nil
	}

	batches := chunkVessels(vessels, s.cfg.Pipeline.BatchSize)
	failed := 0

	for i, batch := range batches {
		s.logger.Debug(ctx, "[SIGNALS_STAGE] Processing batch", logging.Fields{
			"batch":   i + 1,
			"batches": len(batches),
			"vessels": len(batch),
		})

		outputs, failures := runVesselPool(ctx, batch, s.cfg.Pipeline.MaxWorkers, s.logger, s.metrics, func(ctx context.Context, vesselID string) ([]models.SignalRecord, error) {
			body, err := s.client.Fetch(ctx, fleetapi.KindSignals, vesselID)
			if err != nil {
				return nil, err
			}
			if err := s.store.WriteJSON(ctx, s.store.RawPath(loadDate), "Signals_"+vesselID, body); err != nil {
				return nil, err
			}

			payload, err := models.ParseSignalsPayload(body)
			if err != nil {
				return nil, err
			}

			records := s.proc.FlattenSignals(ctx, vesselID, payload, loadDate)
			if err := s.store.WriteSignalRecords(ctx, s.store.TransformedPath(loadDate), "Signals_"+vesselID, records); err != nil {
				return nil, err
			}
			return records, nil
		})

		for vesselID, failErr := range failures {
			result.Errors = append(result.Errors, fmt.Sprintf("signals for vessel %s: %v", vesselID, failErr))
		}
		failed += len(failures)

		merged = mergeSignalMapping(merged, outputs)
	}

	result.VesselsProcessed = len(vessels) - failed
	result.VesselsFailed = failed

	if err := s.store.WriteSignalMapping(ctx, merged); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("signal mapping write failed: %v", err))
	}

	s.logger.Info(ctx, "[SIGNALS_STAGE] Signal catalog updated", logging.Fields{
		"mapping_rows": len(merged),
		"batches":      len(batches),
		"stage":        "SIGNALS",
	})
}

// timeseriesStage fetches and transforms per-vessel observations, detects
// gaps, merges the retention window, and publishes to the sink when one is
// configured.
func (s *PipelineService) timeseriesStage(ctx context.Context, runStart time.Time, loadDate string, vessels []string, result *RunResult) error {
	timer := s.metrics.NewTimer(s.metrics.StageDuration.WithLabelValues("timeseries"))
	defer timer.ObserveDuration()

	mapping, err := s.store.ReadSignalMapping(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("signal mapping unreadable: %v", err))
	}
	catalog := s.proc.BuildCatalog(mapping)

	type vesselOutput struct {
		clean []models.Observation
		gaps  []models.GapInterval
		nulls int
	}

	batches := chunkVessels(vessels, s.cfg.Pipeline.BatchSize)
	failed := 0

	var current []models.Observation
	var allGaps []models.GapInterval

	for i, batch := range batches {
		s.logger.Debug(ctx, "[TIMESERIES_STAGE] Processing batch", logging.Fields{
			"batch":   i + 1,
			"batches": len(batches),
			"vessels": len(batch),
		})

		outputs, failures := runVesselPool(ctx, batch, s.cfg.Pipeline.MaxWorkers, s.logger, s.metrics, func(ctx context.Context, vesselID string) (vesselOutput, error) {
			ctx = logging.WithVesselID(ctx, vesselID)

			body, err := s.client.Fetch(ctx, fleetapi.KindTimeseries, vesselID)
			if err != nil {
				return vesselOutput{}, err
			}
			if err := s.store.WriteJSON(ctx, s.store.RawPath(loadDate), "Timeseries_"+vesselID, body); err != nil {
				return vesselOutput{}, err
			}

			payload, err := models.ParseTimeseriesPayload(body)
			if err != nil {
				return vesselOutput{}, err
			}

			clean, nulls := s.proc.FlattenTimeseries(ctx, vesselID, payload, loadDate)
			clean = s.proc.Enrich(ctx, clean, catalog)

			gaps, skipped := s.proc.DetectGaps(ctx, nulls, s.cfg.Pipeline.GapMergeThreshold)
			for _, skipErr := range skipped {
				s.logger.Warn(ctx, "[TIMESERIES_STAGE] Gap group skipped", logging.Fields{
					"error": skipErr.Error(),
				})
			}

			if err := s.store.WriteObservations(ctx, s.store.TransformedPath(loadDate), "Timeseries_"+vesselID, clean); err != nil {
				return vesselOutput{}, err
			}
			if len(gaps) > 0 {
				if err := s.store.WriteGaps(ctx, s.store.GapsPath(loadDate), "Gaps_"+vesselID, gaps); err != nil {
					return vesselOutput{}, err
				}
			}

			return vesselOutput{clean: clean, gaps: gaps, nulls: len(nulls)}, nil
		})

		for vesselID, failErr := range failures {
			result.Errors = append(result.Errors, fmt.Sprintf("timeseries for vessel %s: %v", vesselID, failErr))
		}
		failed += len(failures)

		// Reduce at the batch boundary.
		for _, out := range outputs {
			current = append(current, out.clean...)
			allGaps = append(allGaps, out.gaps...)
			result.NullObservations += out.nulls
		}
	}

	result.VesselsProcessed = len(vessels) - failed
	result.VesselsFailed = failed
	result.CleanObservations = len(current)
	result.GapIntervals = len(allGaps)

	// Retention window merge against the stored layers.
	history, err := s.store.ReadHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history layer: %w", err)
	}
	daily, err := s.store.ReadDailySummary(ctx, runStart)
	if err != nil {
		return fmt.Errorf("failed to load daily summary: %w", err)
	}
	previousDaily, err := s.store.ReadDailySummary(ctx, runStart.AddDate(0, 0, -1))
	if err != nil {
		return fmt.Errorf("failed to load previous daily summary: %w", err)
	}

	merged := s.proc.MergeRetentionWindow(ctx, processor.RetentionInput{
		History:       history,
		Daily:         daily,
		PreviousDaily: previousDaily,
		Current:       current,
	}, runStart, s.cfg.Pipeline.HistoryDays)

	result.NewDay = merged.NewDay
	result.SummaryRows = len(merged.Summary)

	// The history layer is rewritten only at day rollover; the summary is
	// rewritten every run.
	if merged.NewDay {
		if err := s.store.WriteHistory(ctx, filterTag(merged.History, models.TagHist)); err != nil {
			return &models.PersistenceError{Artifact: "history layer", Err: err}
		}
	}
	if err := s.store.WriteDailySummary(ctx, runStart, merged.Summary); err != nil {
		return &models.PersistenceError{Artifact: "daily summary", Err: err}
	}

	if s.repo != nil && s.cfg.Pipeline.SinkEnabled {
		if err := s.publish(ctx, merged.Summary, allGaps); err != nil {
			return err
		}
		result.Published = true
	}

	return nil
}

// publish pushes the run's summary and gaps to the relational sink: stage the
// long form, extend the wide schema, merge the pivoted rows, upsert gaps.
func (s *PipelineService) publish(ctx context.Context, summary []models.Observation, gaps []models.GapInterval) error {
	timer := s.metrics.NewTimer(s.metrics.StageDuration.WithLabelValues("publish"))
	defer timer.ObserveDuration()

	capped := s.proc.CapSignals(ctx, summary, s.cfg.Pipeline.MaxPivotSignals)

	table, err := s.proc.Pivot(ctx, capped)
	if err != nil {
		return &models.PersistenceError{Artifact: "pivot table", Err: err}
	}

	known, err := s.repo.WideColumns(ctx)
	if err != nil {
		return &models.PersistenceError{Artifact: "wide schema", Err: err}
	}
	delta := processor.ComputeSchemaDelta(table, known)

	if _, err := s.repo.ReplaceStaging(ctx, capped); err != nil {
		return &models.PersistenceError{Artifact: "staging table", Err: err}
	}
	if err := s.repo.ExtendWideSchema(ctx, delta); err != nil {
		return &models.PersistenceError{Artifact: "wide schema", Err: err}
	}
	if _, err := s.repo.MergeWideRows(ctx, table); err != nil {
		return &models.PersistenceError{Artifact: "wide rows", Err: err}
	}
	if _, err := s.repo.UpsertGaps(ctx, gaps); err != nil {
		return &models.PersistenceError{Artifact: "gap intervals", Err: err}
	}

	s.logger.Info(ctx, "[PUBLISH_STAGE] Sink publication completed", logging.Fields{
		"rows":        len(table.Rows),
		"columns":     len(table.Columns),
		"new_columns": len(delta.Added),
		"gaps":        len(gaps),
		"stage":       "PUBLISH",
	})

	return nil
}

// cleanupStage prunes old run partitions. Failures are logged, never fatal.
func (s *PipelineService) cleanupStage(ctx context.Context, runStart time.Time) {
	timer := s.metrics.NewTimer(s.metrics.StageDuration.WithLabelValues("cleanup"))
	defer timer.ObserveDuration()

	for _, root := range []string{
		s.cfg.Storage.RawPath,
		s.cfg.Storage.TransformedPath,
		s.cfg.Storage.GapsPath,
	} {
		s.store.Cleanup(ctx, root, s.cfg.Pipeline.DaysToKeep, runStart)
	}
}

func filterTag(observations []models.Observation, tag models.Tag) []models.Observation {
	out := make([]models.Observation, 0, len(observations))
	for _, obs := range observations {
		if obs.Tag == tag {
			out = append(out, obs)
		}
	}
	return out
}

// mergeSignalMapping folds freshly flattened signal records into the stored
// mapping, keeping the first occurrence of each (vessel, signal, name).
func mergeSignalMapping(existing []models.SignalRecord, batches [][]models.SignalRecord) []models.SignalRecord {
	type mappingKey struct {
		vesselID string
		signalID string
		name     string
	}

	seen := make(map[mappingKey]bool)
	merged := make([]models.SignalRecord, 0, len(existing))

	appendRecords := func(records []models.SignalRecord) {
		for _, rec := range records {
			name := ""
			if rec.FriendlyName != nil {
				name = *rec.FriendlyName
			}
			key := mappingKey{vesselID: rec.VesselID, signalID: rec.SignalID, name: name}
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, rec)
		}
	}

	appendRecords(existing)
	for _, batch := range batches {
		appendRecords(batch)
	}

	return merged
}
