package processor

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/logging"
)

// FlattenShipData flattens the raw fleet roster into a scalar ship table plus
// one sub-table per nested list field. Each vessel's "data" object is
// unnested into the main table; a list of objects explodes into one sub-table
// row per element, a list of scalars into one row per value. Every row
// carries vessel_id and load_date. Cells are stringified; JSON nulls leave
// the cell absent.
func (p *Processor) FlattenShipData(ctx context.Context, raw []byte, loadDate string) (models.ShipTable, map[string]models.ShipTable, error) {
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return models.ShipTable{}, nil, &models.SchemaError{Reason: "fleet payload is not a list of vessels"}
	}

	mainColumns := make(map[string]bool)
	mainRows := make([]map[string]string, 0, len(records))
	subBuilders := make(map[string]*shipTableBuilder)

	for _, record := range records {
		fields := unnestData(record)

		vesselID := ""
		if id, ok := stringifyCell(fields["imo"]); ok {
			vesselID = id
		}

		row := map[string]string{
			"vessel_id": vesselID,
			"load_date": loadDate,
		}

		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if name == "imo" {
				continue
			}
			value := fields[name]

			var elements []json.RawMessage
			if isJSONArray(value) && json.Unmarshal(value, &elements) == nil {
				sub, ok := subBuilders[name]
				if !ok {
					sub = newShipTableBuilder()
					subBuilders[name] = sub
				}
				sub.addElements(name, vesselID, loadDate, elements)
				continue
			}

			if cell, ok := stringifyCell(value); ok {
				row[name] = cell
				mainColumns[name] = true
			}
		}

		mainRows = append(mainRows, row)
	}

	main := models.ShipTable{Columns: orderShipColumns(mainColumns), Rows: mainRows}

	subTables := make(map[string]models.ShipTable, len(subBuilders))
	for name, sub := range subBuilders {
		subTables[name] = sub.table()
	}

	p.logger.Debug(ctx, "[FLATTEN_SHIPDATA] Fleet payload flattened", logging.Fields{
		"vessels":    len(mainRows),
		"sub_tables": len(subTables),
	})

	return main, subTables, nil
}

// unnestData merges a vessel record's "data" object into its top-level
// fields. Top-level names win on collision.
func unnestData(record map[string]json.RawMessage) map[string]json.RawMessage {
	fields := make(map[string]json.RawMessage, len(record))
	for name, value := range record {
		if name == "data" {
			continue
		}
		fields[name] = value
	}

	var data map[string]json.RawMessage
	if raw, ok := record["data"]; ok && json.Unmarshal(raw, &data) == nil {
		for name, value := range data {
			if _, exists := fields[name]; !exists {
				fields[name] = value
			}
		}
	}
	return fields
}

type shipTableBuilder struct {
	columns map[string]bool
	rows    []map[string]string
}

func newShipTableBuilder() *shipTableBuilder {
	return &shipTableBuilder{columns: make(map[string]bool)}
}

// addElements explodes one vessel's list field. Object elements contribute
// their stringified fields as columns; scalar elements land in a single
// column named after the field.
func (b *shipTableBuilder) addElements(field, vesselID, loadDate string, elements []json.RawMessage) {
	for _, element := range elements {
		row := map[string]string{
			"vessel_id": vesselID,
			"load_date": loadDate,
		}

		var object map[string]json.RawMessage
		if isJSONObject(element) && json.Unmarshal(element, &object) == nil {
			for name, value := range object {
				if cell, ok := stringifyCell(value); ok {
					row[name] = cell
					b.columns[name] = true
				}
			}
		} else if cell, ok := stringifyCell(element); ok {
			row[field] = cell
			b.columns[field] = true
		}

		b.rows = append(b.rows, row)
	}
}

func (b *shipTableBuilder) table() models.ShipTable {
	return models.ShipTable{Columns: orderShipColumns(b.columns), Rows: b.rows}
}

// orderShipColumns sorts field columns ascending between the fixed vessel_id
// prefix and load_date suffix.
func orderShipColumns(columns map[string]bool) []string {
	fields := make([]string, 0, len(columns))
	for name := range columns {
		if name == "vessel_id" || name == "load_date" {
			continue
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)

	ordered := make([]string, 0, len(fields)+2)
	ordered = append(ordered, "vessel_id")
	ordered = append(ordered, fields...)
	ordered = append(ordered, "load_date")
	return ordered
}

// stringifyCell renders a JSON value as a table cell. Strings lose their
// quotes, numbers and booleans keep their JSON text, objects stay as JSON.
// A null or absent value reports no cell.
func stringifyCell(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", false
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return s, true
		}
		return str, true
	}
	return s, true
}

func isJSONArray(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return len(s) > 0 && s[0] == '['
}

func isJSONObject(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return len(s) > 0 && s[0] == '{'
}
