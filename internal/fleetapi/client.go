// Package fleetapi implements the HTTP client for the upstream fleet
// telemetry source.
package fleetapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fleet-telemetry-platform/internal/config"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

// ResourceKind selects which upstream resource to fetch.
type ResourceKind string

const (
	KindFleet      ResourceKind = "fleet"
	KindSignals    ResourceKind = "signals"
	KindTimeseries ResourceKind = "timeseries"
)

// FetchError indicates an upstream fetch that failed after all retries.
type FetchError struct {
	Kind       ResourceKind
	VesselID   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.VesselID != "" {
		return fmt.Sprintf("fetch %s for vessel %s failed (status %d): %v", e.Kind, e.VesselID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s failed (status %d): %v", e.Kind, e.StatusCode, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Statuses worth retrying. Anything else fails immediately.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client fetches fleet rosters and per-vessel payloads with retry and
// linear backoff.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	retries    int
	backoff    time.Duration
	httpClient *http.Client
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewClient creates a fleet API client from source configuration.
func NewClient(cfg config.SourceConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		retries: retries,
		backoff: time.Second,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger,
		metrics: metricsCollector,
	}, nil
}

// Fetch retrieves one raw payload. vesselID is ignored for KindFleet.
func (c *Client) Fetch(ctx context.Context, kind ResourceKind, vesselID string) ([]byte, error) {
	endpoint, err := c.endpointFor(kind, vesselID)
	if err != nil {
		return nil, err
	}

	timer := c.metrics.NewTimer(c.metrics.FetchDuration.WithLabelValues(string(kind)))
	defer timer.ObserveDuration()

	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= c.retries; attempt++ {
		body, status, err := c.doRequest(ctx, endpoint)
		if err == nil && status == http.StatusOK {
			c.metrics.RecordFetch(string(kind), "ok")
			return body, nil
		}

		lastErr = err
		lastStatus = status
		if err == nil {
			lastErr = fmt.Errorf("unexpected status %d", status)
		}

		if status != 0 && !retryableStatus[status] {
			break
		}

		c.logger.Warn(ctx, "[FETCH_RETRY] Upstream fetch failed, retrying", logging.Fields{
			"kind":      string(kind),
			"vessel_id": vesselID,
			"attempt":   attempt,
			"status":    status,
			"error":     lastErr.Error(),
		})

		if attempt == c.retries {
			break
		}

		// Linear backoff: 1s, 2s, 3s, ...
		select {
		case <-ctx.Done():
			c.metrics.RecordFetchError("context")
			return nil, &FetchError{Kind: kind, VesselID: vesselID, StatusCode: lastStatus, Err: ctx.Err()}
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	c.metrics.RecordFetch(string(kind), "error")
	c.metrics.RecordFetchError(errorType(lastStatus))

	return nil, &FetchError{Kind: kind, VesselID: vesselID, StatusCode: lastStatus, Err: lastErr}
}

func (c *Client) endpointFor(kind ResourceKind, vesselID string) (string, error) {
	switch kind {
	case KindFleet:
		return c.baseURL.JoinPath("fleet").String(), nil
	case KindSignals:
		if vesselID == "" {
			return "", fmt.Errorf("vessel id required for %s fetch", kind)
		}
		return c.baseURL.JoinPath("fleet", vesselID, "signals").String(), nil
	case KindTimeseries:
		if vesselID == "" {
			return "", fmt.Errorf("vessel id required for %s fetch", kind)
		}
		return c.baseURL.JoinPath("fleet", vesselID, "timeseries").String(), nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", kind)
	}
}

func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

func errorType(status int) string {
	switch {
	case status == 0:
		return "transport"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "upstream"
	default:
		return "client"
	}
}
