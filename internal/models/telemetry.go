package models

import (
	"fmt"
	"time"
)

// Tag marks which retention layer produced a record.
type Tag string

const (
	TagNew   Tag = "new"
	TagToday Tag = "today"
	TagHist  Tag = "hist"
)

// Observation is one long-form telemetry record. A nil Value marks a missing
// sample; the flattener routes those into the null stream for gap detection.
type Observation struct {
	VesselID     string   `json:"vessel_id" db:"vessel_id"`
	SignalID     string   `json:"signal_id" db:"signal_id"`
	Timestamp    string   `json:"timestamp" db:"signal_timestamp"`
	Value        *float64 `json:"value,omitempty" db:"signal_value"`
	FriendlyName string   `json:"friendly_name,omitempty" db:"friendly_name"`
	LoadDate     string   `json:"load_date" db:"load_date"`
	Tag          Tag      `json:"tag,omitempty" db:"tag"`
}

// ObservationKey is the dedup identity of an observation. Two metadata
// mappings for the same raw signal id count as distinct observations.
type ObservationKey struct {
	VesselID     string
	SignalID     string
	Timestamp    string
	FriendlyName string
}

// Key returns the dedup identity of the observation.
func (o Observation) Key() ObservationKey {
	return ObservationKey{
		VesselID:     o.VesselID,
		SignalID:     o.SignalID,
		Timestamp:    o.Timestamp,
		FriendlyName: o.FriendlyName,
	}
}

// GapInterval is a contiguous span of missing samples for one
// (vessel, signal) pair. GapEnd is never before GapStart; a single missing
// sample yields a degenerate interval with GapStart == GapEnd.
type GapInterval struct {
	VesselID string    `json:"vessel_id" db:"vessel_id"`
	SignalID string    `json:"signal_id" db:"signal_id"`
	GapStart time.Time `json:"gap_start" db:"gap_start"`
	GapEnd   time.Time `json:"gap_end" db:"gap_end"`
	LoadDate string    `json:"load_date" db:"load_date"`
}

// SignalMetadata is one catalog entry mapping a raw signal id to its
// human-readable description. Unique by SignalID after catalog dedup.
type SignalMetadata struct {
	SignalID     string `json:"signal_id" db:"signal_id"`
	FriendlyName string `json:"friendly_name" db:"friendly_name"`
	Unit         string `json:"unit" db:"unit"`
	ObjectCode   string `json:"object_code" db:"object_code"`
	NameCode     string `json:"name_code" db:"name_code"`
	GroupName    string `json:"group_name" db:"group_name"`
	SubGroup     string `json:"sub_group" db:"sub_group"`
}

// SignalRecord is one flattened row of a scalar-shaped ("signals") payload:
// the per-signal descriptor a vessel reports, one row per (vessel, signal).
// FriendlyName is nil when the vessel reports no mapping; such rows are
// excluded when the metadata catalog is built.
type SignalRecord struct {
	VesselID     string   `json:"vessel_id"`
	SignalID     string   `json:"signal_id"`
	Value        *float64 `json:"value,omitempty"`
	Timestamp    string   `json:"timestamp,omitempty"`
	FriendlyName *string  `json:"friendly_name,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	ObjectCode   string   `json:"object_code,omitempty"`
	NameCode     string   `json:"name_code,omitempty"`
	GroupName    string   `json:"group_name,omitempty"`
	SubGroup     string   `json:"sub_group,omitempty"`
	LoadDate     string   `json:"load_date"`
}

// WideRow is one row of the pivoted table: one value cell per signal column.
type WideRow struct {
	VesselID  string              `json:"vessel_id"`
	Timestamp string              `json:"timestamp"`
	LoadDate  string              `json:"load_date"`
	Values    map[string]*float64 `json:"values"`
}

// WideTable is the pivot output. Columns holds the signal ids present in the
// batch, sorted ascending; every row's Values map is keyed by that set.
type WideTable struct {
	Columns []string  `json:"columns"`
	Rows    []WideRow `json:"rows"`
}

// ShipTable is a flattened ship-data table with stringified cells. A key
// missing from a row means the source record lacked the field; every row
// carries vessel_id and load_date.
type ShipTable struct {
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// SchemaDelta names the signal columns a pivoted batch introduces over an
// already-known wide schema, so a sink can extend itself before merging.
type SchemaDelta struct {
	Added []string `json:"added"`
}

// Empty reports whether the delta carries no new columns.
func (d SchemaDelta) Empty() bool {
	return len(d.Added) == 0
}

// SchemaError indicates a payload that is not the expected shape, including
// upstream error payloads of the form {"detail": ...}.
type SchemaError struct {
	Reason string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unexpected payload shape: %s (detail: %s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("unexpected payload shape: %s", e.Reason)
}

// IsTransient returns false as schema errors are permanent for a payload
func (e *SchemaError) IsTransient() bool {
	return false
}

// MalformedTimestampError indicates a null-stream entry whose timestamp could
// not be parsed; gap detection skips that (vessel, signal) group only.
type MalformedTimestampError struct {
	VesselID  string
	SignalID  string
	Timestamp string
	Err       error
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("malformed timestamp %q for vessel %s signal %s: %v",
		e.Timestamp, e.VesselID, e.SignalID, e.Err)
}

func (e *MalformedTimestampError) Unwrap() error {
	return e.Err
}

// PersistenceError indicates a failed write of a publication artifact. The
// per-vessel file artifacts are already on disk when it occurs.
type PersistenceError struct {
	Artifact string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Artifact, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// PivotCollisionError indicates input the direct reshape cannot represent;
// it triggers the join-based fallback path.
type PivotCollisionError struct {
	Column string
}

func (e *PivotCollisionError) Error() string {
	return fmt.Sprintf("signal id collides with reserved wide column %q", e.Column)
}
