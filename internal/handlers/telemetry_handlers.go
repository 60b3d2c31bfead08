package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fleet-telemetry-platform/internal/repository"
	"fleet-telemetry-platform/internal/services"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

// TelemetryHandler handles telemetry API endpoints
type TelemetryHandler struct {
	telemetryService *services.TelemetryService
	logger           *logging.StructuredLogger
	metrics          *metrics.Collector
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(
	telemetryService *services.TelemetryService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *TelemetryHandler {
	return &TelemetryHandler{
		telemetryService: telemetryService,
		logger:           logger,
		metrics:          metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// GetTimeseries handles GET /api/v1/timeseries
func (h *TelemetryHandler) GetTimeseries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/v1/timeseries").Observe(time.Since(startTime).Seconds())
	}()

	page, limit := parsePagination(r)

	filter := repository.WideRowFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if vesselID := r.URL.Query().Get("vessel_id"); vesselID != "" {
		filter.VesselID = &vesselID
	}
	if start := r.URL.Query().Get("start"); start != "" {
		filter.StartTime = &start
	}
	if end := r.URL.Query().Get("end"); end != "" {
		filter.EndTime = &end
	}

	rows, total, err := h.telemetryService.GetTimeseries(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_TIMESERIES_ERROR] Failed to get timeseries", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/v1/timeseries")
		h.sendError(w, r, "failed to retrieve timeseries", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/timeseries", "GET", "200")
	h.sendJSON(w, paginate(rows, total, page, limit), http.StatusOK)
}

// GetGaps handles GET /api/v1/gaps
func (h *TelemetryHandler) GetGaps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/v1/gaps").Observe(time.Since(startTime).Seconds())
	}()

	page, limit := parsePagination(r)

	filter := repository.GapFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if vesselID := r.URL.Query().Get("vessel_id"); vesselID != "" {
		filter.VesselID = &vesselID
	}
	if signalID := r.URL.Query().Get("signal"); signalID != "" {
		filter.SignalID = &signalID
	}
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			h.sendError(w, r, "invalid since format, expected RFC 3339", http.StatusBadRequest)
			return
		}
		filter.Since = &since
	}

	gaps, total, err := h.telemetryService.GetGaps(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_GAPS_ERROR] Failed to get gaps", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/v1/gaps")
		h.sendError(w, r, "failed to retrieve gaps", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/gaps", "GET", "200")
	h.sendJSON(w, paginate(gaps, total, page, limit), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *TelemetryHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.telemetryService.HealthCheck(ctx); err != nil {
		status["status"] = "unhealthy"
		h.logger.Error(ctx, "[HEALTH_CHECK] Sink unreachable", logging.Fields{}, err)
		h.sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.sendJSON(w, status, http.StatusOK)
}

func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = 100

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}
	return page, limit
}

func paginate(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

// sendJSON sends a JSON response
func (h *TelemetryHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *TelemetryHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all telemetry API routes
func (h *TelemetryHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/timeseries", h.GetTimeseries).Methods("GET")
	router.HandleFunc("/api/v1/gaps", h.GetGaps).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
