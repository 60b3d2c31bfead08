package processor

import (
	"context"
	"reflect"
	"testing"

	"fleet-telemetry-platform/internal/models"
)

func TestFlattenTimeseries(t *testing.T) {
	ctx := context.Background()

	payload := &models.TimeseriesPayload{
		Series: map[string]map[string]*float64{
			"engine_rpm": {
				"2026-08-27T10:00:00Z": fptr(980),
				"2026-08-27T10:01:00Z": nil,
				"2026-08-27T10:02:00Z": fptr(985),
			},
			"fuel_flow": {
				"2026-08-27T10:00:00Z": nil,
			},
		},
	}

	clean, nulls := testProcessor.FlattenTimeseries(ctx, "9700001", payload, "2026/08/27/10/05")

	if len(clean) != 2 {
		t.Fatalf("expected 2 clean rows, got %d", len(clean))
	}
	if len(nulls) != 2 {
		t.Fatalf("expected 2 null rows, got %d", len(nulls))
	}

	want := models.Observation{
		VesselID:  "9700001",
		SignalID:  "engine_rpm",
		Timestamp: "2026-08-27T10:00:00Z",
		Value:     fptr(980),
		LoadDate:  "2026/08/27/10/05",
	}
	if !reflect.DeepEqual(clean[0], want) {
		t.Errorf("clean[0] = %+v, want %+v", clean[0], want)
	}

	// Null stream ordered by signal then timestamp.
	if nulls[0].SignalID != "engine_rpm" || nulls[1].SignalID != "fuel_flow" {
		t.Errorf("null stream out of order: %+v", nulls)
	}
	for _, obs := range nulls {
		if obs.Value != nil {
			t.Errorf("null stream row carries a value: %+v", obs)
		}
	}
}

func TestFlattenTimeseriesEmpty(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		payload *models.TimeseriesPayload
	}{
		{name: "nil payload", payload: nil},
		{name: "empty series", payload: &models.TimeseriesPayload{Series: map[string]map[string]*float64{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, nulls := testProcessor.FlattenTimeseries(ctx, "9700001", tt.payload, "2026/08/27/10/05")
			if clean == nil || len(clean) != 0 {
				t.Errorf("expected empty clean stream, got %v", clean)
			}
			if nulls == nil || len(nulls) != 0 {
				t.Errorf("expected empty null stream, got %v", nulls)
			}
		})
	}
}

func TestFlattenSignals(t *testing.T) {
	ctx := context.Background()

	payload := &models.SignalsPayload{
		VesselID: "9700002",
		Signals: map[string]models.SignalDescriptor{
			"sog": {
				Timestamp:    "2026-08-27T10:00:00Z",
				FriendlyName: sptr("Speed Over Ground"),
				Unit:         "kn",
			},
			"cog": {
				Timestamp: "2026-08-27T10:00:00Z",
			},
		},
	}

	records := testProcessor.FlattenSignals(ctx, "ignored", payload, "2026/08/27/10/05")

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Payload vessel id wins over the argument.
	if records[0].VesselID != "9700002" {
		t.Errorf("expected vessel id from payload, got %q", records[0].VesselID)
	}
	if records[0].SignalID != "cog" || records[1].SignalID != "sog" {
		t.Errorf("records out of order: %+v", records)
	}
	if records[0].FriendlyName != nil {
		t.Errorf("expected nil friendly name for cog, got %q", *records[0].FriendlyName)
	}
	if records[1].FriendlyName == nil || *records[1].FriendlyName != "Speed Over Ground" {
		t.Errorf("unexpected friendly name: %+v", records[1].FriendlyName)
	}
}
