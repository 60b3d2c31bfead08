package processor

import (
	"context"
	"testing"

	"fleet-telemetry-platform/internal/models"
)

func TestBuildCatalog(t *testing.T) {
	records := []models.SignalRecord{
		{VesselID: "9700001", SignalID: "sog", FriendlyName: sptr("Speed Over Ground"), Unit: "kn"},
		{VesselID: "9700001", SignalID: "cog"}, // no mapping, excluded
		{VesselID: "9700002", SignalID: "sog", FriendlyName: sptr("SOG duplicate")}, // first wins
		{VesselID: "9700002", SignalID: "rpm", FriendlyName: sptr("Engine RPM")},
	}

	catalog := testProcessor.BuildCatalog(records)

	if len(catalog) != 2 {
		t.Fatalf("expected 2 catalog entries, got %d: %+v", len(catalog), catalog)
	}
	if catalog[0].SignalID != "sog" || catalog[0].FriendlyName != "Speed Over Ground" {
		t.Errorf("first entry lost first-wins semantics: %+v", catalog[0])
	}
	if catalog[1].SignalID != "rpm" {
		t.Errorf("unexpected second entry: %+v", catalog[1])
	}
}

func TestEnrichPreservesRowCount(t *testing.T) {
	ctx := context.Background()

	observations := []models.Observation{
		{VesselID: "9700001", SignalID: "sog", Timestamp: "2026-08-27T10:00:00Z", Value: fptr(12.4)},
		{VesselID: "9700001", SignalID: "unknown", Timestamp: "2026-08-27T10:00:00Z", Value: fptr(1)},
		{VesselID: "9700002", SignalID: "sog", Timestamp: "2026-08-27T10:01:00Z", Value: fptr(9.8)},
	}
	catalog := []models.SignalMetadata{
		{SignalID: "sog", FriendlyName: "Speed Over Ground"},
	}

	enriched := testProcessor.Enrich(ctx, observations, catalog)

	if len(enriched) != len(observations) {
		t.Fatalf("row count changed: %d -> %d", len(observations), len(enriched))
	}
	if enriched[0].FriendlyName != "Speed Over Ground" {
		t.Errorf("matched row not enriched: %+v", enriched[0])
	}
	if enriched[1].FriendlyName != "" {
		t.Errorf("unmatched row gained a name: %+v", enriched[1])
	}
	// Input left untouched.
	if observations[0].FriendlyName != "" {
		t.Errorf("input mutated: %+v", observations[0])
	}
}

func TestEnrichEmptyCatalog(t *testing.T) {
	observations := []models.Observation{
		{VesselID: "9700001", SignalID: "sog", Timestamp: "2026-08-27T10:00:00Z"},
	}

	enriched := testProcessor.Enrich(context.Background(), observations, nil)
	if len(enriched) != 1 || enriched[0].FriendlyName != "" {
		t.Errorf("unexpected enrichment: %+v", enriched)
	}
}
