package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Layouts for the provenance stamps used across the pipeline. A run is
// identified by its partition-style load date; daily summaries are keyed by
// calendar day.
const (
	LoadDateLayout = "2006/01/02/15/04"
	DayKeyLayout   = "20060102"
	CutoffLayout   = "2006/01/02"
)

// timestampLayouts are the accepted sample-timestamp encodings, tried in
// order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseObservationTime parses a sample timestamp string.
func ParseObservationTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// PayloadShape tags the structural variant of a vessel payload, decided once
// at parse time instead of re-inspected throughout the pipeline.
type PayloadShape int

const (
	// ShapeScalar is a map from signal id to a single structured value.
	ShapeScalar PayloadShape = iota
	// ShapeNestedSeries is a map from signal id to {timestamp: value}.
	ShapeNestedSeries
)

// String returns the shape name.
func (s PayloadShape) String() string {
	if s == ShapeNestedSeries {
		return "nested_series"
	}
	return "scalar"
}

// sampleValue decodes a telemetry cell. JSON null and non-numeric scalars
// both map to a nil float: neither can enter the numeric value column, and
// nil is what routes a sample into the null stream.
type sampleValue struct {
	f *float64
}

func (v *sampleValue) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		v.f = nil
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		v.f = &f
		return nil
	}
	// Quoted numerics arrive from some firmware revisions.
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
				v.f = &f
				return nil
			}
		}
	}
	v.f = nil
	return nil
}

// flexString tolerates ids serialized as either JSON strings or numbers.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	if len(trimmed) >= 2 && trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

// errorPayload is the upstream fetch-failure shape: a lone "detail" field.
type errorPayload struct {
	Detail string `json:"detail"`
}

// detectErrorPayload reports whether the decoded top level is an upstream
// error payload and returns its detail text.
func detectErrorPayload(fields map[string]json.RawMessage) (string, bool) {
	if len(fields) != 1 {
		return "", false
	}
	raw, ok := fields["detail"]
	if !ok {
		return "", false
	}
	var detail string
	if err := json.Unmarshal(raw, &detail); err != nil {
		detail = string(raw)
	}
	return detail, true
}

// TimeseriesPayload is one vessel's dense-channel payload: signal id to
// timestamp-keyed samples.
type TimeseriesPayload struct {
	Series map[string]map[string]*float64
}

// ParseTimeseriesPayload decodes a raw timeseries payload, verifying the
// nested-series shape. An upstream error payload or a structurally foreign
// document yields a SchemaError; the caller short-circuits to empty output.
func ParseTimeseriesPayload(raw []byte) (*TimeseriesPayload, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &SchemaError{Reason: "timeseries payload is not a JSON object"}
	}
	if detail, ok := detectErrorPayload(top); ok {
		return nil, &SchemaError{Reason: "upstream fetch failure", Detail: detail}
	}

	payload := &TimeseriesPayload{Series: make(map[string]map[string]*float64, len(top))}
	for signal, rawSeries := range top {
		// The source mirrors its own request time into a top-level
		// "timestamp" field; it is not a channel.
		if signal == "timestamp" {
			continue
		}
		var series map[string]sampleValue
		if err := json.Unmarshal(rawSeries, &series); err != nil {
			if shape, shapeErr := DetectShape(raw); shapeErr == nil && shape == ShapeScalar {
				return nil, &SchemaError{Reason: "payload has scalar shape, expected nested series"}
			}
			return nil, &SchemaError{Reason: "signal " + signal + " is not a timestamp-keyed series"}
		}
		samples := make(map[string]*float64, len(series))
		for ts, v := range series {
			samples[ts] = v.f
		}
		payload.Series[signal] = samples
	}
	return payload, nil
}

// SignalDescriptor is the structured value a scalar-shaped payload carries
// per signal.
type SignalDescriptor struct {
	Value        sampleValue `json:"value"`
	Timestamp    string      `json:"timestamp"`
	FriendlyName *string     `json:"friendly_name"`
	Unit         string      `json:"unit"`
	ObjectCode   string      `json:"object_code"`
	NameCode     string      `json:"name_code"`
	GroupName    string      `json:"group_name"`
	SubGroup     string      `json:"sub_group"`
}

// FloatValue returns the descriptor's numeric value, nil when absent.
func (d SignalDescriptor) FloatValue() *float64 {
	return d.Value.f
}

// SignalsPayload is one vessel's scalar-shaped payload.
type SignalsPayload struct {
	VesselID string
	Signals  map[string]SignalDescriptor
}

// ParseSignalsPayload decodes a raw signals payload.
func ParseSignalsPayload(raw []byte) (*SignalsPayload, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &SchemaError{Reason: "signals payload is not a JSON object"}
	}
	if detail, ok := detectErrorPayload(top); ok {
		return nil, &SchemaError{Reason: "upstream fetch failure", Detail: detail}
	}

	payload := &SignalsPayload{Signals: make(map[string]SignalDescriptor)}

	if rawIMO, ok := top["imo"]; ok {
		var imo flexString
		if err := json.Unmarshal(rawIMO, &imo); err == nil {
			payload.VesselID = string(imo)
		}
	}

	rawSignals, ok := top["signals"]
	if !ok {
		return nil, &SchemaError{Reason: "signals payload has no signals object"}
	}
	if err := json.Unmarshal(rawSignals, &payload.Signals); err != nil {
		return nil, &SchemaError{Reason: "signals object is not a map of descriptors"}
	}
	return payload, nil
}

// DetectShape inspects a raw payload once and tags its structural variant.
// It looks at the first signal entry: timestamp-parseable inner keys mean a
// nested series, anything else a scalar descriptor map.
func DetectShape(raw []byte) (PayloadShape, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return ShapeScalar, &SchemaError{Reason: "payload is not a JSON object"}
	}
	if detail, ok := detectErrorPayload(top); ok {
		return ShapeScalar, &SchemaError{Reason: "upstream fetch failure", Detail: detail}
	}

	keys := make([]string, 0, len(top))
	for k := range top {
		if k == "timestamp" || k == "imo" || k == "signals" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		if _, ok := top["signals"]; ok {
			return ShapeScalar, nil
		}
		return ShapeNestedSeries, nil
	}
	sort.Strings(keys)

	var inner map[string]json.RawMessage
	if err := json.Unmarshal(top[keys[0]], &inner); err != nil {
		return ShapeScalar, nil
	}
	for innerKey := range inner {
		if _, err := ParseObservationTime(innerKey); err == nil {
			return ShapeNestedSeries, nil
		}
		return ShapeScalar, nil
	}
	return ShapeScalar, nil
}

// FleetVessel is one entry of the fleet roster payload.
type FleetVessel struct {
	IMO    flexString      `json:"imo"`
	Name   string          `json:"name"`
	Active *bool           `json:"active"`
	Data   json.RawMessage `json:"data"`
}

// VesselID returns the vessel identifier as a string.
func (v FleetVessel) VesselID() string {
	return string(v.IMO)
}

// IsActive reports whether the vessel should be processed; a missing active
// flag counts as active.
func (v FleetVessel) IsActive() bool {
	return v.Active == nil || *v.Active
}

// ParseFleetPayload decodes the fleet roster.
func ParseFleetPayload(raw []byte) ([]FleetVessel, error) {
	// An error payload arrives as an object even on the list endpoint.
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err == nil {
		if detail, ok := detectErrorPayload(top); ok {
			return nil, &SchemaError{Reason: "upstream fetch failure", Detail: detail}
		}
		return nil, &SchemaError{Reason: "fleet payload is not a JSON array"}
	}

	var vessels []FleetVessel
	if err := json.Unmarshal(raw, &vessels); err != nil {
		return nil, &SchemaError{Reason: "fleet payload is not a list of vessels"}
	}
	return vessels, nil
}

// ActiveVesselIDs extracts the ids of all active vessels, preserving roster
// order.
func ActiveVesselIDs(vessels []FleetVessel) []string {
	ids := make([]string, 0, len(vessels))
	for _, v := range vessels {
		if v.IsActive() && v.VesselID() != "" {
			ids = append(ids, v.VesselID())
		}
	}
	return ids
}
