// Package processor implements the time-series normalization, gap-detection,
// and retention-window aggregation engine: flattening nested per-vessel
// payloads into long-form observations, merging null samples into gap
// intervals, enriching against the signal catalog, rolling the multi-day
// deduplicated summary, and reshaping long form to wide.
//
// All transformations are pure: cross-run state (history and daily layers,
// the metadata catalog) is passed in and returned as explicit values.
package processor

import (
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

// Processor holds the shared collaborators of the transformation engine.
type Processor struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewProcessor creates a new processor
func NewProcessor(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Processor {
	return &Processor{
		logger:  logger,
		metrics: metricsCollector,
	}
}
