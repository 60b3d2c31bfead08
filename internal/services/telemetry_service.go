package services

import (
	"context"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/internal/repository"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

// TelemetryService handles query-side telemetry operations
type TelemetryService struct {
	repo    repository.TelemetryRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewTelemetryService creates a new telemetry service
func NewTelemetryService(repo repository.TelemetryRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TelemetryService {
	return &TelemetryService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetTimeseries retrieves pivoted telemetry rows with filtering
func (s *TelemetryService) GetTimeseries(ctx context.Context, filter repository.WideRowFilter) ([]map[string]interface{}, int, error) {
	return s.repo.GetWideRows(ctx, filter)
}

// GetGaps retrieves gap intervals with filtering
func (s *TelemetryService) GetGaps(ctx context.Context, filter repository.GapFilter) ([]*models.GapInterval, int, error) {
	return s.repo.GetGaps(ctx, filter)
}

// HealthCheck verifies the sink is reachable
func (s *TelemetryService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
