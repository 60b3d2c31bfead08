package processor

import (
	"context"
	"sort"
	"time"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/logging"
)

// DetectGaps merges the null stream into contiguous gap intervals per
// (vessel, signal). Two null samples closer than threshold belong to the
// same interval; a lone sample yields a degenerate interval with
// gap_start == gap_end.
//
// A group whose timestamps cannot be parsed is skipped and reported in the
// returned error slice; all other groups still produce intervals.
func (p *Processor) DetectGaps(ctx context.Context, nulls []models.Observation, threshold time.Duration) ([]models.GapInterval, []error) {
	if len(nulls) == 0 {
		return []models.GapInterval{}, nil
	}

	type groupKey struct {
		vesselID string
		signalID string
	}

	groups := make(map[groupKey][]models.Observation)
	order := make([]groupKey, 0)
	for _, obs := range nulls {
		key := groupKey{vesselID: obs.VesselID, signalID: obs.SignalID}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], obs)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].vesselID != order[j].vesselID {
			return order[i].vesselID < order[j].vesselID
		}
		return order[i].signalID < order[j].signalID
	})

	intervals := make([]models.GapInterval, 0)
	var skipped []error

	for _, key := range order {
		group := groups[key]

		times := make([]time.Time, 0, len(group))
		var malformed *models.MalformedTimestampError
		for _, obs := range group {
			ts, err := models.ParseObservationTime(obs.Timestamp)
			if err != nil {
				malformed = &models.MalformedTimestampError{
					VesselID:  key.vesselID,
					SignalID:  key.signalID,
					Timestamp: obs.Timestamp,
					Err:       err,
				}
				break
			}
			times = append(times, ts)
		}
		if malformed != nil {
			p.logger.Warn(ctx, "[GAP_SKIP_GROUP] Unparseable timestamp, skipping group", logging.Fields{
				"vessel_id": key.vesselID,
				"signal_id": key.signalID,
				"timestamp": malformed.Timestamp,
			})
			skipped = append(skipped, malformed)
			continue
		}

		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

		loadDate := group[len(group)-1].LoadDate
		gapStart := times[0]
		prev := times[0]

		for _, t := range times[1:] {
			if t.Sub(prev) > threshold {
				intervals = append(intervals, models.GapInterval{
					VesselID: key.vesselID,
					SignalID: key.signalID,
					GapStart: gapStart,
					GapEnd:   prev,
					LoadDate: loadDate,
				})
				gapStart = t
			}
			prev = t
		}

		intervals = append(intervals, models.GapInterval{
			VesselID: key.vesselID,
			SignalID: key.signalID,
			GapStart: gapStart,
			GapEnd:   prev,
			LoadDate: loadDate,
		})
	}

	p.metrics.GapIntervalsTotal.Add(float64(len(intervals)))

	p.logger.Debug(ctx, "[GAP_DETECT] Null stream merged into intervals", logging.Fields{
		"null_rows":      len(nulls),
		"intervals":      len(intervals),
		"skipped_groups": len(skipped),
	})

	return intervals, skipped
}
