package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/internal/repository"
	"fleet-telemetry-platform/internal/services"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

var testCollector = metrics.NewCollector("handlers_test")

type fakeRepo struct {
	wideRows   []map[string]interface{}
	gaps       []*models.GapInterval
	lastFilter interface{}
	healthErr  error
}

func (f *fakeRepo) ReplaceStaging(ctx context.Context, observations []models.Observation) (int, error) {
	return 0, nil
}

func (f *fakeRepo) WideColumns(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeRepo) ExtendWideSchema(ctx context.Context, delta models.SchemaDelta) error { return nil }

func (f *fakeRepo) MergeWideRows(ctx context.Context, table models.WideTable) (int, error) {
	return 0, nil
}

func (f *fakeRepo) UpsertGaps(ctx context.Context, gaps []models.GapInterval) (int, error) {
	return 0, nil
}

func (f *fakeRepo) GetWideRows(ctx context.Context, filter repository.WideRowFilter) ([]map[string]interface{}, int, error) {
	f.lastFilter = filter
	return f.wideRows, len(f.wideRows), nil
}

func (f *fakeRepo) GetGaps(ctx context.Context, filter repository.GapFilter) ([]*models.GapInterval, int, error) {
	f.lastFilter = filter
	return f.gaps, len(f.gaps), nil
}

func (f *fakeRepo) HealthCheck(ctx context.Context) error { return f.healthErr }

func newTestHandler(repo repository.TelemetryRepository) *TelemetryHandler {
	logger := logging.NewStructuredLogger("handlers-test", "test", logging.ErrorLevel)
	svc := services.NewTelemetryService(repo, logger, testCollector)
	return NewTelemetryHandler(svc, logger, testCollector)
}

func doRequest(t *testing.T, h *TelemetryHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetTimeseries(t *testing.T) {
	repo := &fakeRepo{
		wideRows: []map[string]interface{}{
			{"vessel_id": "9700001", "timestamp": "2026-08-27T10:00:00Z", "sog": 12.4},
		},
	}
	h := newTestHandler(repo)

	rec := doRequest(t, h, "/api/v1/timeseries?vessel_id=9700001&page=2&limit=50")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp PaginatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || resp.Page != 2 || resp.Limit != 50 {
		t.Errorf("unexpected pagination: %+v", resp)
	}

	filter, ok := repo.lastFilter.(repository.WideRowFilter)
	if !ok {
		t.Fatalf("wrong filter type %T", repo.lastFilter)
	}
	if filter.VesselID == nil || *filter.VesselID != "9700001" {
		t.Errorf("vessel filter not forwarded: %+v", filter)
	}
	if filter.Offset != 50 {
		t.Errorf("offset = %d, want 50", filter.Offset)
	}
}

func TestGetGaps(t *testing.T) {
	start := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		gaps: []*models.GapInterval{
			{VesselID: "9700001", SignalID: "sog", GapStart: start, GapEnd: start.Add(4 * time.Minute)},
		},
	}
	h := newTestHandler(repo)

	rec := doRequest(t, h, "/api/v1/gaps?vessel_id=9700001&signal=sog&since=2026-08-27T00:00:00Z")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	filter, ok := repo.lastFilter.(repository.GapFilter)
	if !ok {
		t.Fatalf("wrong filter type %T", repo.lastFilter)
	}
	if filter.SignalID == nil || *filter.SignalID != "sog" {
		t.Errorf("signal filter not forwarded: %+v", filter)
	}
	if filter.Since == nil || !filter.Since.Equal(time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since filter not forwarded: %+v", filter)
	}
}

func TestGetGapsInvalidSince(t *testing.T) {
	h := newTestHandler(&fakeRepo{})

	rec := doRequest(t, h, "/api/v1/gaps?since=yesterday")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != http.StatusBadRequest {
		t.Errorf("unexpected error body: %+v", resp)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		healthErr  error
		wantStatus int
	}{
		{name: "healthy", wantStatus: http.StatusOK},
		{name: "unhealthy", healthErr: fmt.Errorf("connection refused"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeRepo{healthErr: tt.healthErr})
			rec := doRequest(t, h, "/health")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
