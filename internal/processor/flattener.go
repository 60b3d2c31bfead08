package processor

import (
	"context"
	"sort"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/logging"
)

// FlattenTimeseries unnests one vessel's nested-series payload into a flat
// observation sequence, split into a clean stream (value present) and a null
// stream (value missing). Both streams are ordered by signal id, then
// timestamp, so downstream dedup and gap detection are deterministic.
//
// An empty payload yields two empty, identically-shaped streams.
func (p *Processor) FlattenTimeseries(ctx context.Context, vesselID string, payload *models.TimeseriesPayload, loadDate string) (clean, nulls []models.Observation) {
	if payload == nil || len(payload.Series) == 0 {
		return []models.Observation{}, []models.Observation{}
	}

	signals := make([]string, 0, len(payload.Series))
	for signal := range payload.Series {
		signals = append(signals, signal)
	}
	sort.Strings(signals)

	clean = make([]models.Observation, 0, len(payload.Series))
	nulls = make([]models.Observation, 0)

	for _, signal := range signals {
		series := payload.Series[signal]

		timestamps := make([]string, 0, len(series))
		for ts := range series {
			timestamps = append(timestamps, ts)
		}
		sort.Strings(timestamps)

		for _, ts := range timestamps {
			obs := models.Observation{
				VesselID:  vesselID,
				SignalID:  signal,
				Timestamp: ts,
				Value:     series[ts],
				LoadDate:  loadDate,
			}
			if obs.Value == nil {
				nulls = append(nulls, obs)
			} else {
				clean = append(clean, obs)
			}
		}
	}

	p.metrics.RecordObservations("clean", len(clean))
	p.metrics.RecordObservations("null", len(nulls))

	p.logger.Debug(ctx, "[FLATTEN_TIMESERIES] Payload flattened", logging.Fields{
		"signal_count": len(signals),
		"clean_rows":   len(clean),
		"null_rows":    len(nulls),
	})

	return clean, nulls
}

// FlattenSignals unnests one vessel's scalar-shaped payload into long form,
// one record per (vessel, signal). No null/gap semantics apply to this shape.
func (p *Processor) FlattenSignals(ctx context.Context, vesselID string, payload *models.SignalsPayload, loadDate string) []models.SignalRecord {
	if payload == nil || len(payload.Signals) == 0 {
		return []models.SignalRecord{}
	}

	if payload.VesselID != "" {
		vesselID = payload.VesselID
	}

	signals := make([]string, 0, len(payload.Signals))
	for signal := range payload.Signals {
		signals = append(signals, signal)
	}
	sort.Strings(signals)

	records := make([]models.SignalRecord, 0, len(signals))
	for _, signal := range signals {
		d := payload.Signals[signal]
		records = append(records, models.SignalRecord{
			VesselID:     vesselID,
			SignalID:     signal,
			Value:        d.FloatValue(),
			Timestamp:    d.Timestamp,
			FriendlyName: d.FriendlyName,
			Unit:         d.Unit,
			ObjectCode:   d.ObjectCode,
			NameCode:     d.NameCode,
			GroupName:    d.GroupName,
			SubGroup:     d.SubGroup,
			LoadDate:     loadDate,
		})
	}

	p.logger.Debug(ctx, "[FLATTEN_SIGNALS] Payload flattened", logging.Fields{
		"record_count": len(records),
	})

	return records
}
