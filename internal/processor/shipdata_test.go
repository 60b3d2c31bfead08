package processor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"fleet-telemetry-platform/internal/models"
)

func TestFlattenShipData(t *testing.T) {
	ctx := context.Background()

	raw := []byte(`[
		{
			"imo": 9700001,
			"name": "Aurora",
			"active": true,
			"draft": null,
			"data": {
				"flag": "NO",
				"engines": [
					{"position": "main", "power_kw": 12000},
					{"position": "aux", "power_kw": 1800}
				],
				"certificates": ["ISM", "ISPS"]
			}
		},
		{
			"imo": 9700003,
			"name": "Borealis",
			"active": false,
			"data": {"flag": "DK", "engines": []}
		}
	]`)

	main, subTables, err := testProcessor.FlattenShipData(ctx, raw, "2026/08/27/10/05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantColumns := []string{"vessel_id", "active", "flag", "name", "load_date"}
	if !reflect.DeepEqual(main.Columns, wantColumns) {
		t.Errorf("main columns = %v, want %v", main.Columns, wantColumns)
	}
	if len(main.Rows) != 2 {
		t.Fatalf("expected 2 main rows, got %d", len(main.Rows))
	}

	wantRow := map[string]string{
		"vessel_id": "9700001",
		"name":      "Aurora",
		"active":    "true",
		"flag":      "NO",
		"load_date": "2026/08/27/10/05",
	}
	if !reflect.DeepEqual(main.Rows[0], wantRow) {
		t.Errorf("main row = %v, want %v", main.Rows[0], wantRow)
	}
	// Null draft leaves the cell absent rather than empty.
	if _, ok := main.Rows[0]["draft"]; ok {
		t.Errorf("null field should not produce a cell: %v", main.Rows[0])
	}

	engines, ok := subTables["engines"]
	if !ok {
		t.Fatalf("expected an engines sub-table, got %v", subTables)
	}
	if len(engines.Rows) != 2 {
		t.Fatalf("expected 2 engine rows, got %d", len(engines.Rows))
	}
	wantEngine := map[string]string{
		"vessel_id": "9700001",
		"position":  "main",
		"power_kw":  "12000",
		"load_date": "2026/08/27/10/05",
	}
	if !reflect.DeepEqual(engines.Rows[0], wantEngine) {
		t.Errorf("engine row = %v, want %v", engines.Rows[0], wantEngine)
	}

	certs, ok := subTables["certificates"]
	if !ok {
		t.Fatalf("expected a certificates sub-table, got %v", subTables)
	}
	wantCertColumns := []string{"vessel_id", "certificates", "load_date"}
	if !reflect.DeepEqual(certs.Columns, wantCertColumns) {
		t.Errorf("certificate columns = %v, want %v", certs.Columns, wantCertColumns)
	}
	if len(certs.Rows) != 2 || certs.Rows[1]["certificates"] != "ISPS" {
		t.Errorf("certificate rows = %v", certs.Rows)
	}
}

func TestFlattenShipDataRejectsNonList(t *testing.T) {
	ctx := context.Background()

	_, _, err := testProcessor.FlattenShipData(ctx, []byte(`{"imo": 9700001}`), "2026/08/27/10/05")

	var schemaErr *models.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected a schema error, got %v", err)
	}
}
