package processor

import (
	"context"

	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/logging"
)

// BuildCatalog condenses signal records into a metadata catalog. Records
// without a friendly name are excluded; the first record seen for a signal id
// wins and later duplicates are ignored.
func (p *Processor) BuildCatalog(records []models.SignalRecord) []models.SignalMetadata {
	catalog := make([]models.SignalMetadata, 0, len(records))
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		if rec.FriendlyName == nil || *rec.FriendlyName == "" {
			continue
		}
		if seen[rec.SignalID] {
			continue
		}
		seen[rec.SignalID] = true
		catalog = append(catalog, models.SignalMetadata{
			SignalID:     rec.SignalID,
			FriendlyName: *rec.FriendlyName,
			Unit:         rec.Unit,
			ObjectCode:   rec.ObjectCode,
			NameCode:     rec.NameCode,
			GroupName:    rec.GroupName,
			SubGroup:     rec.SubGroup,
		})
	}

	return catalog
}

// Enrich attaches friendly names to observations by signal id. The join is a
// left join: every input row appears exactly once in the output, and rows
// without a catalog entry keep an empty friendly name.
func (p *Processor) Enrich(ctx context.Context, observations []models.Observation, catalog []models.SignalMetadata) []models.Observation {
	names := make(map[string]string, len(catalog))
	for _, meta := range catalog {
		if _, ok := names[meta.SignalID]; !ok {
			names[meta.SignalID] = meta.FriendlyName
		}
	}

	enriched := make([]models.Observation, len(observations))
	matched := 0
	for i, obs := range observations {
		if name, ok := names[obs.SignalID]; ok {
			obs.FriendlyName = name
			matched++
		}
		enriched[i] = obs
	}

	p.logger.Debug(ctx, "[ENRICH] Joined catalog onto observations", logging.Fields{
		"rows":         len(enriched),
		"matched_rows": matched,
		"catalog_size": len(names),
	})

	return enriched
}
