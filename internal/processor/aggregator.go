package processor

import (
	"context"
	"time"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/logging"
)

// RetentionInput carries the three stored layers plus the current run's
// freshly enriched observations into a retention merge.
type RetentionInput struct {
	// History is the rolling multi-day layer loaded from latest/ref_data.
	History []models.Observation
	// Daily is today's summary, empty when the day has rolled over.
	Daily []models.Observation
	// PreviousDaily is yesterday's summary, folded into history on rollover.
	PreviousDaily []models.Observation
	// Current is the output of this run's flatten and enrich stages.
	Current []models.Observation
}

// RetentionResult is the merged retention window. Summary holds only rows
// tagged new or today; History is the full pruned window to persist back.
type RetentionResult struct {
	History []models.Observation
	Summary []models.Observation
	NewDay  bool
}

// MergeRetentionWindow merges the current run into the retention window.
//
// An empty Daily layer means the day rolled over since the last run: the
// previous daily summary is folded into history before pruning. History rows
// older than historyDays are dropped, duplicates are resolved keep-first in
// layer order (history, daily, current), and the published summary is the
// subset tagged new or today.
func (p *Processor) MergeRetentionWindow(ctx context.Context, in RetentionInput, runDate time.Time, historyDays int) RetentionResult {
	newDay := len(in.Daily) == 0

	hist := retag(in.History, models.TagHist)
	if newDay {
		hist = append(hist, retag(in.PreviousDaily, models.TagHist)...)
	}
	cutoff := runDate.AddDate(0, 0, -historyDays).Format(models.CutoffLayout)
	hist = pruneOlderThan(hist, cutoff)

	var daily []models.Observation
	if !newDay {
		daily = retag(in.Daily, models.TagToday)
	}

	current := retag(in.Current, models.TagNew)

	combined := make([]models.Observation, 0, len(hist)+len(daily)+len(current))
	combined = append(combined, hist...)
	combined = append(combined, daily...)
	combined = append(combined, current...)
	combined = dedupKeepFirst(combined)

	summary := make([]models.Observation, 0, len(daily)+len(current))
	for _, obs := range combined {
		if obs.Tag == models.TagNew || obs.Tag == models.TagToday {
			summary = append(summary, obs)
		}
	}

	p.metrics.SummarySize.Set(float64(len(summary)))

	p.logger.Info(ctx, "[RETENTION_MERGE] Retention window merged", logging.Fields{
		"new_day":      newDay,
		"history_rows": len(combined) - len(summary),
		"summary_rows": len(summary),
		"cutoff":       cutoff,
	})

	return RetentionResult{History: combined, Summary: summary, NewDay: newDay}
}

func retag(observations []models.Observation, tag models.Tag) []models.Observation {
	out := make([]models.Observation, len(observations))
	for i, obs := range observations {
		obs.Tag = tag
		out[i] = obs
	}
	return out
}

// pruneOlderThan keeps rows whose load date day is strictly after the cutoff
// day. Rows with a load date too short to carry a day component are dropped.
func pruneOlderThan(observations []models.Observation, cutoff string) []models.Observation {
	kept := observations[:0:0]
	for _, obs := range observations {
		if len(obs.LoadDate) < len(models.CutoffLayout) {
			continue
		}
		if obs.LoadDate[:len(models.CutoffLayout)] > cutoff {
			kept = append(kept, obs)
		}
	}
	return kept
}

// dedupKeepFirst drops later duplicates of (vessel, signal, timestamp,
// friendly name), preserving input order.
func dedupKeepFirst(observations []models.Observation) []models.Observation {
	seen := make(map[models.ObservationKey]bool, len(observations))
	out := observations[:0:0]
	for _, obs := range observations {
		key := obs.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, obs)
	}
	return out
}
