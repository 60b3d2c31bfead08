package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"fleet-telemetry-platform/internal/config"
	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/logging"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	base := t.TempDir()
	return NewFileStore(config.StorageConfig{
		RawPath:         filepath.Join(base, "raw_data"),
		TransformedPath: filepath.Join(base, "transformed_data"),
		GapsPath:        filepath.Join(base, "gaps_data"),
		LatestPath:      filepath.Join(base, "latest"),
		DailyPath:       filepath.Join(base, "daily_summary"),
	}, logging.NewStructuredLogger("storage-test", "test", logging.ErrorLevel))
}

func TestPartitionPath(t *testing.T) {
	got := PartitionPath("/data/raw", "2026/08/27/10/05")
	want := filepath.Join("/data/raw", "2026", "08", "27", "10", "05")
	if got != want {
		t.Errorf("PartitionPath = %q, want %q", got, want)
	}
}

func TestObservationRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	value := 12.4
	observations := []models.Observation{
		{
			VesselID:     "9700001",
			SignalID:     "sog",
			Timestamp:    "2026-08-27T10:00:00Z",
			Value:        &value,
			FriendlyName: "Speed Over Ground",
			LoadDate:     "2026/08/27/10/05",
			Tag:          models.TagNew,
		},
		{
			VesselID:  "9700001",
			SignalID:  "rpm",
			Timestamp: "2026-08-27T10:00:00Z",
			LoadDate:  "2026/08/27/10/05",
		},
	}

	dir := store.TransformedPath("2026/08/27/10/05")
	if err := store.WriteObservations(ctx, dir, "Timeseries_9700001", observations); err != nil {
		t.Fatalf("WriteObservations: %v", err)
	}

	got, err := store.ReadObservations(ctx, dir, "Timeseries_9700001")
	if err != nil {
		t.Fatalf("ReadObservations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Value == nil || *got[0].Value != 12.4 {
		t.Errorf("value lost in round trip: %+v", got[0])
	}
	if got[1].Value != nil {
		t.Errorf("null value gained a value: %+v", got[1])
	}
	if got[0].Tag != models.TagNew {
		t.Errorf("tag lost: %+v", got[0])
	}
}

func TestReadMissingIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	observations, err := store.ReadHistory(ctx)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(observations) != 0 {
		t.Errorf("expected empty history, got %d rows", len(observations))
	}

	roster, err := store.ReadRoster(ctx)
	if err != nil {
		t.Fatalf("ReadRoster: %v", err)
	}
	if len(roster) != 0 {
		t.Errorf("expected empty roster, got %v", roster)
	}
}

func TestGapRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	start := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	gaps := []models.GapInterval{
		{VesselID: "9700001", SignalID: "sog", GapStart: start, GapEnd: start.Add(4 * time.Minute), LoadDate: "2026/08/27/10/05"},
	}

	dir := store.GapsPath("2026/08/27/10/05")
	if err := store.WriteGaps(ctx, dir, "Gaps_9700001", gaps); err != nil {
		t.Fatalf("WriteGaps: %v", err)
	}

	got, err := store.ReadGaps(ctx, dir, "Gaps_9700001")
	if err != nil {
		t.Fatalf("ReadGaps: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(got))
	}
	if !got[0].GapStart.Equal(start) || !got[0].GapEnd.Equal(start.Add(4*time.Minute)) {
		t.Errorf("interval changed in round trip: %+v", got[0])
	}
}

func TestDailySummaryNaming(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	day := time.Date(2026, 8, 27, 14, 30, 0, 0, time.UTC)
	if err := store.WriteDailySummary(ctx, day, []models.Observation{}); err != nil {
		t.Fatalf("WriteDailySummary: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.cfg.DailyPath, "20260827.parquet")); err != nil {
		t.Errorf("expected day-keyed summary file: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root := store.cfg.RawPath

	mkPartition := func(parts ...string) string {
		path := filepath.Join(append([]string{root}, parts...)...)
		if err := os.MkdirAll(path, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		return path
	}

	old := mkPartition("2025", "12", "31", "23", "55")
	onCutoff := mkPartition("2026", "08", "17", "10", "00")
	recent := mkPartition("2026", "08", "27", "10", "05")
	ignored := mkPartition("tmp")

	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	removed := store.Cleanup(ctx, root, 10, now) // cutoff day 2026-08-17

	if removed == 0 {
		t.Fatal("expected removals")
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old partition survived cleanup")
	}
	if _, err := os.Stat(onCutoff); err != nil {
		t.Errorf("cutoff-day partition removed: %v", err)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Errorf("recent partition removed: %v", err)
	}
	if _, err := os.Stat(ignored); err != nil {
		t.Errorf("non-numeric directory removed: %v", err)
	}
}

func TestCleanupMissingRoot(t *testing.T) {
	store := newTestStore(t)
	if removed := store.Cleanup(context.Background(), filepath.Join(store.cfg.RawPath, "absent"), 10, time.Now()); removed != 0 {
		t.Errorf("expected no removals, got %d", removed)
	}
}

func TestShipTableRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	table := models.ShipTable{
		Columns: []string{"vessel_id", "flag", "name", "load_date"},
		Rows: []map[string]string{
			{"vessel_id": "9700001", "flag": "NO", "name": "Aurora", "load_date": "2026/08/27/10/05"},
			{"vessel_id": "9700003", "name": "Borealis", "load_date": "2026/08/27/10/05"},
		},
	}

	dir := store.TransformedPath("2026/08/27/10/05")
	if err := store.WriteShipTable(ctx, dir, "ShipData", table); err != nil {
		t.Fatalf("WriteShipTable: %v", err)
	}

	data, err := store.readParquet(dir, "ShipData")
	if err != nil || data == nil {
		t.Fatalf("readParquet: %v", err)
	}

	decoded, err := decodeTable(ctx, data)
	if err != nil {
		t.Fatalf("decodeTable: %v", err)
	}
	defer decoded.Release()

	schema := decoded.Schema()
	if schema.NumFields() != 4 {
		t.Fatalf("expected 4 columns, got %d", schema.NumFields())
	}
	for i, want := range table.Columns {
		if got := schema.Field(i).Name; got != want {
			t.Errorf("column %d = %q, want %q", i, got, want)
		}
	}

	rows := make([][]*string, 0, 2)
	err = forEachRow(decoded, func(row func(col int) (arrow.Array, int)) error {
		cells := make([]*string, schema.NumFields())
		for col := range cells {
			cells[col] = stringPtrAt(row(col))
		}
		rows = append(rows, cells)
		return nil
	})
	if err != nil {
		t.Fatalf("forEachRow: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][2] == nil || *rows[0][2] != "Aurora" {
		t.Errorf("name cell lost: %v", rows[0][2])
	}
	// The second row never had a flag; the cell must stay null.
	if rows[1][1] != nil {
		t.Errorf("missing cell became %q", *rows[1][1])
	}
}
