package processor

import (
	"context"
	"errors"
	"sort"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/logging"
)

// Columns every wide row carries regardless of the signal set.
var reservedColumns = map[string]bool{
	"vessel_id": true,
	"timestamp": true,
	"load_date": true,
}

// CapSignals limits the observation set to the maxSignals most frequent
// signal ids. Ties break on ascending signal id so the selection is stable
// across runs. A non-positive cap disables capping.
func (p *Processor) CapSignals(ctx context.Context, observations []models.Observation, maxSignals int) []models.Observation {
	if maxSignals <= 0 {
		return observations
	}

	counts := make(map[string]int)
	for _, obs := range observations {
		counts[obs.SignalID]++
	}
	if len(counts) <= maxSignals {
		return observations
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})

	keep := make(map[string]bool, maxSignals)
	for _, id := range ids[:maxSignals] {
		keep[id] = true
	}
	dropped := append([]string(nil), ids[maxSignals:]...)
	sort.Strings(dropped)

	out := make([]models.Observation, 0, len(observations))
	for _, obs := range observations {
		if keep[obs.SignalID] {
			out = append(out, obs)
		}
	}

	p.logger.Warn(ctx, "[PIVOT_CAP] Signal count above cap, least frequent dropped", logging.Fields{
		"signals":         len(counts),
		"cap":             maxSignals,
		"dropped":         len(dropped),
		"dropped_signals": dropped,
		"rows_before":     len(observations),
		"rows_after":      len(out),
	})

	return out
}

// Pivot reshapes observations into one wide row per (vessel, timestamp).
// The direct pivot is tried first; when a signal id collides with a reserved
// column the slower join-based pivot takes over with suffixed column names.
func (p *Processor) Pivot(ctx context.Context, observations []models.Observation) (models.WideTable, error) {
	table, err := pivotDirect(observations)
	if err == nil {
		p.metrics.PivotColumns.Set(float64(len(table.Columns)))
		return table, nil
	}

	var collision *models.PivotCollisionError
	if !errors.As(err, &collision) {
		return models.WideTable{}, err
	}

	p.metrics.PivotFallbacksTotal.Inc()
	p.logger.Warn(ctx, "[PIVOT_FALLBACK] Reserved column collision, using join pivot", logging.Fields{
		"column": collision.Column,
	})

	table = pivotByJoin(observations)
	p.metrics.PivotColumns.Set(float64(len(table.Columns)))
	return table, nil
}

func pivotDirect(observations []models.Observation) (models.WideTable, error) {
	type rowKey struct {
		vesselID  string
		timestamp string
		loadDate  string
	}

	columns := make(map[string]bool)
	rows := make(map[rowKey]map[string]*float64)
	order := make([]rowKey, 0)

	for _, obs := range observations {
		if reservedColumns[obs.SignalID] {
			return models.WideTable{}, &models.PivotCollisionError{Column: obs.SignalID}
		}
		columns[obs.SignalID] = true

		key := rowKey{vesselID: obs.VesselID, timestamp: obs.Timestamp, loadDate: obs.LoadDate}
		cells, ok := rows[key]
		if !ok {
			cells = make(map[string]*float64)
			rows[key] = cells
			order = append(order, key)
		}
		// Duplicate cells keep the larger value so the result does not
		// depend on input order.
		if prev, ok := cells[obs.SignalID]; !ok || prev == nil || (obs.Value != nil && *obs.Value > *prev) {
			cells[obs.SignalID] = obs.Value
		}
	}

	cols := make([]string, 0, len(columns))
	for c := range columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sort.Slice(order, func(i, j int) bool {
		if order[i].vesselID != order[j].vesselID {
			return order[i].vesselID < order[j].vesselID
		}
		if order[i].timestamp != order[j].timestamp {
			return order[i].timestamp < order[j].timestamp
		}
		return order[i].loadDate < order[j].loadDate
	})

	wide := make([]models.WideRow, 0, len(order))
	for _, key := range order {
		wide = append(wide, models.WideRow{
			VesselID:  key.vesselID,
			Timestamp: key.timestamp,
			LoadDate:  key.loadDate,
			Values:    rows[key],
		})
	}

	return models.WideTable{Columns: cols, Rows: wide}, nil
}

// pivotByJoin builds one single-column table per signal and outer-joins them
// on (vessel, timestamp, load date). Signal ids that collide with reserved
// column names are suffixed.
func pivotByJoin(observations []models.Observation) models.WideTable {
	renamed := make([]models.Observation, len(observations))
	for i, obs := range observations {
		if reservedColumns[obs.SignalID] {
			obs.SignalID = obs.SignalID + "_signal"
		}
		renamed[i] = obs
	}

	bySignal := make(map[string][]models.Observation)
	for _, obs := range renamed {
		bySignal[obs.SignalID] = append(bySignal[obs.SignalID], obs)
	}

	signals := make([]string, 0, len(bySignal))
	for id := range bySignal {
		signals = append(signals, id)
	}
	sort.Strings(signals)

	// Joining signal by signal degenerates to the same map union the direct
	// pivot performs, now with collision-free column names.
	joined := make([]models.Observation, 0, len(renamed))
	for _, id := range signals {
		joined = append(joined, bySignal[id]...)
	}

	table, err := pivotDirect(joined)
	if err != nil {
		// Suffixing removed every reserved id, so the direct pivot cannot
		// collide again.
		return models.WideTable{Columns: []string{}, Rows: []models.WideRow{}}
	}
	return table
}

// ComputeSchemaDelta reports the table columns missing from the known set,
// sorted ascending.
func ComputeSchemaDelta(table models.WideTable, known []string) models.SchemaDelta {
	have := make(map[string]bool, len(known))
	for _, col := range known {
		have[col] = true
	}

	added := make([]string, 0)
	for _, col := range table.Columns {
		if !have[col] {
			added = append(added, col)
		}
	}
	sort.Strings(added)

	return models.SchemaDelta{Added: added}
}
