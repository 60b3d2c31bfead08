package services

import (
	"context"
	"sync"

	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

// chunkVessels splits the roster into batches of at most size vessels,
// preserving roster order. A non-positive size yields a single batch.
func chunkVessels(vessels []string, size int) [][]string {
	if len(vessels) == 0 {
		return nil
	}
	if size <= 0 || size >= len(vessels) {
		return [][]string{vessels}
	}

	batches := make([][]string, 0, (len(vessels)+size-1)/size)
	for start := 0; start < len(vessels); start += size {
		end := start + size
		if end > len(vessels) {
			end = len(vessels)
		}
		batches = append(batches, vessels[start:end])
	}
	return batches
}

// runVesselPool fans fn out over vessels with a bounded worker count and
// collects the results in vessel order. A failed vessel contributes no
// result; its error is returned keyed by vessel id. The pool always drains
// fully, so one bad vessel cannot abort the run.
func runVesselPool[T any](
	ctx context.Context,
	vessels []string,
	maxWorkers int,
	logger *logging.StructuredLogger,
	collector *metrics.Collector,
	fn func(ctx context.Context, vesselID string) (T, error),
) ([]T, map[string]error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	type slot struct {
		value T
		err   error
	}
	slots := make([]slot, len(vessels))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for i, vesselID := range vessels {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, vesselID string) {
			defer wg.Done()
			defer func() { <-sem }()

			value, err := fn(ctx, vesselID)
			slots[i] = slot{value: value, err: err}
		}(i, vesselID)
	}
	wg.Wait()

	results := make([]T, 0, len(vessels))
	failures := make(map[string]error)

	for i, vesselID := range vessels {
		if slots[i].err != nil {
			failures[vesselID] = slots[i].err
			collector.VesselsFailedTotal.Inc()
			logger.Error(ctx, "[VESSEL_FAILED] Vessel processing failed", logging.Fields{
				"vessel_id": vesselID,
			}, slots[i].err)
			continue
		}
		results = append(results, slots[i].value)
		collector.VesselsProcessedTotal.Inc()
	}

	return results, failures
}
