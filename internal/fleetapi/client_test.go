package fleetapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleet-telemetry-platform/internal/config"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

var testMetrics = metrics.NewCollector("fleetapi_test")

func newTestClient(t *testing.T, baseURL string, retries int) *Client {
	t.Helper()
	client, err := NewClient(config.SourceConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
		Retries: retries,
	}, logging.NewStructuredLogger("fleetapi-test", "test", logging.ErrorLevel), testMetrics)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.backoff = time.Millisecond
	return client
}

func TestFetchPaths(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 1)

	tests := []struct {
		name     string
		kind     ResourceKind
		vesselID string
		wantPath string
	}{
		{name: "fleet roster", kind: KindFleet, wantPath: "/fleet"},
		{name: "signals", kind: KindSignals, vesselID: "9700001", wantPath: "/fleet/9700001/signals"},
		{name: "timeseries", kind: KindTimeseries, vesselID: "9700001", wantPath: "/fleet/9700001/timeseries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := client.Fetch(context.Background(), tt.kind, tt.vesselID)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if string(body) != `{}` {
				t.Errorf("unexpected body %q", body)
			}
			if gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", gotPath, tt.wantPath)
			}
			if gotKey != "ApiKey test-key" {
				t.Errorf("Authorization header = %q", gotKey)
			}
		})
	}
}

func TestFetchVesselIDRequired(t *testing.T) {
	client := newTestClient(t, "http://localhost:0", 1)
	if _, err := client.Fetch(context.Background(), KindSignals, ""); err == nil {
		t.Fatal("expected error for missing vessel id")
	}
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 5)

	body, err := client.Fetch(context.Background(), KindFleet, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body %q", body)
	}
}

func TestFetchNonRetryableStatus(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 5)

	_, err := client.Fetch(context.Background(), KindTimeseries, "9700001")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (404 must not retry)", attempts)
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %T", err)
	}
	if fetchErr.StatusCode != http.StatusNotFound || fetchErr.VesselID != "9700001" {
		t.Errorf("unexpected FetchError: %+v", fetchErr)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)

	_, err := client.Fetch(context.Background(), KindFleet, "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
