package models

import (
	"errors"
	"strings"
	"testing"
)

func TestParseTimeseriesPayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(*testing.T, *TimeseriesPayload)
	}{
		{
			name: "nested series with nulls",
			raw: `{
				"timestamp": "2024-05-01T12:00:00Z",
				"me_rpm": {"2024-05-01T11:00:00Z": 88.5, "2024-05-01T11:01:00Z": null},
				"fo_flow": {"2024-05-01T11:00:00Z": "12.25"}
			}`,
			check: func(t *testing.T, p *TimeseriesPayload) {
				if len(p.Series) != 2 {
					t.Fatalf("Series count = %d, want 2", len(p.Series))
				}
				rpm := p.Series["me_rpm"]
				if v := rpm["2024-05-01T11:00:00Z"]; v == nil || *v != 88.5 {
					t.Errorf("me_rpm value = %v, want 88.5", v)
				}
				if v := rpm["2024-05-01T11:01:00Z"]; v != nil {
					t.Errorf("null sample decoded to %v, want nil", *v)
				}
				flow := p.Series["fo_flow"]
				if v := flow["2024-05-01T11:00:00Z"]; v == nil || *v != 12.25 {
					t.Errorf("quoted numeric = %v, want 12.25", v)
				}
			},
		},
		{
			name: "empty payload",
			raw:  `{}`,
			check: func(t *testing.T, p *TimeseriesPayload) {
				if len(p.Series) != 0 {
					t.Errorf("Series count = %d, want 0", len(p.Series))
				}
			},
		},
		{
			name:    "error payload short-circuits",
			raw:     `{"detail": "vessel not found"}`,
			wantErr: true,
		},
		{
			name:    "array payload rejected",
			raw:     `[1, 2, 3]`,
			wantErr: true,
		},
		{
			name:    "scalar channel rejected",
			raw:     `{"me_rpm": 88.5}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParseTimeseriesPayload([]byte(tt.raw))

			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeseriesPayload() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				var schemaErr *SchemaError
				if !errors.As(err, &schemaErr) {
					t.Errorf("error type = %T, want *SchemaError", err)
				}
				return
			}

			if tt.check != nil {
				tt.check(t, payload)
			}
		})
	}
}

func TestParseTimeseriesPayloadScalarShape(t *testing.T) {
	raw := `{
		"imo": "9700001",
		"signals": {
			"me_rpm": {"value": 88.5, "timestamp": "2024-05-01T11:00:00Z"}
		}
	}`

	_, err := ParseTimeseriesPayload([]byte(raw))

	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("error type = %T, want *SchemaError", err)
	}
	// A misrouted scalar payload is named as such, not as a bad channel.
	if !strings.Contains(schemaErr.Reason, "scalar shape") {
		t.Errorf("Reason = %q, want scalar-shape diagnosis", schemaErr.Reason)
	}
}

func TestParseSignalsPayload(t *testing.T) {
	raw := `{
		"imo": 9700001,
		"signals": {
			"me_rpm": {"value": 88.5, "timestamp": "2024-05-01T11:00:00Z", "friendly_name": "Main Engine RPM", "unit": "rpm", "group_name": "engine"},
			"unmapped": {"value": 1, "friendly_name": null}
		}
	}`

	payload, err := ParseSignalsPayload([]byte(raw))
	if err != nil {
		t.Fatalf("ParseSignalsPayload() error = %v", err)
	}

	if payload.VesselID != "9700001" {
		t.Errorf("VesselID = %q, want %q", payload.VesselID, "9700001")
	}

	rpm, ok := payload.Signals["me_rpm"]
	if !ok {
		t.Fatal("me_rpm descriptor missing")
	}
	if rpm.FriendlyName == nil || *rpm.FriendlyName != "Main Engine RPM" {
		t.Errorf("FriendlyName = %v, want Main Engine RPM", rpm.FriendlyName)
	}
	if v := rpm.FloatValue(); v == nil || *v != 88.5 {
		t.Errorf("FloatValue = %v, want 88.5", v)
	}

	unmapped := payload.Signals["unmapped"]
	if unmapped.FriendlyName != nil {
		t.Errorf("unmapped FriendlyName = %v, want nil", *unmapped.FriendlyName)
	}
}

func TestParseSignalsPayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"error payload", `{"detail": "unauthorized"}`},
		{"missing signals", `{"imo": "9700001"}`},
		{"signals not a map", `{"imo": "9700001", "signals": [1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSignalsPayload([]byte(tt.raw)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDetectShape(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    PayloadShape
		wantErr bool
	}{
		{
			name: "nested series",
			raw:  `{"me_rpm": {"2024-05-01T11:00:00Z": 88.5}}`,
			want: ShapeNestedSeries,
		},
		{
			name: "scalar descriptors",
			raw:  `{"imo": "9700001", "signals": {"me_rpm": {"value": 1}}}`,
			want: ShapeScalar,
		},
		{
			name: "descriptor map without wrapper",
			raw:  `{"me_rpm": {"value": 88.5, "unit": "rpm"}}`,
			want: ShapeScalar,
		},
		{
			name:    "error payload",
			raw:     `{"detail": "boom"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, err := DetectShape([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectShape() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && shape != tt.want {
				t.Errorf("DetectShape() = %v, want %v", shape, tt.want)
			}
		})
	}
}

func TestParseFleetPayload(t *testing.T) {
	raw := `[
		{"imo": "9700001", "name": "MV Alpha", "active": true},
		{"imo": 9700002, "name": "MV Beta", "active": false},
		{"imo": "9700003", "name": "MV Gamma"}
	]`

	vessels, err := ParseFleetPayload([]byte(raw))
	if err != nil {
		t.Fatalf("ParseFleetPayload() error = %v", err)
	}
	if len(vessels) != 3 {
		t.Fatalf("vessel count = %d, want 3", len(vessels))
	}

	ids := ActiveVesselIDs(vessels)
	want := []string{"9700001", "9700003"}
	if len(ids) != len(want) {
		t.Fatalf("active ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("active ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestParseFleetPayloadErrorPayload(t *testing.T) {
	_, err := ParseFleetPayload([]byte(`{"detail": "service unavailable"}`))

	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("error = %v, want *SchemaError", err)
	}
	if schemaErr.Detail != "service unavailable" {
		t.Errorf("Detail = %q, want %q", schemaErr.Detail, "service unavailable")
	}
}

func TestParseObservationTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"rfc3339", "2024-05-01T11:00:00Z", false},
		{"no zone", "2024-05-01T11:00:00", false},
		{"space separated", "2024-05-01 11:00:00", false},
		{"garbage", "not-a-time", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseObservationTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseObservationTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
