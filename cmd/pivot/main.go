package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fleet-telemetry-platform/internal/config"
	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/internal/processor"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
	"fleet-telemetry-platform/pkg/storage"
)

// pivot combines the newest stored observation partitions into one wide
// parquet table. For each of the newest -max-days partition days only the
// last run of the day is read; null samples are dropped and duplicate
// (vessel, signal, timestamp) rows keep the newest load date.
func main() {
	basePath := flag.String("base-path", "", "Partition root to scan (empty uses TRANSFORMED_PATH from config)")
	output := flag.String("output", "./pivoted_timeseries", "Output file path (without extension)")
	maxDays := flag.Int("max-days", 0, "Number of newest partition days to include (0 includes all)")
	maxSignals := flag.Int("max-signals", -1, "Signal column cap (-1 uses config, 0 disables)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("fleet-pivot", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	metricsCollector := metrics.NewCollector("fleet_pivot")

	store := storage.NewFileStore(cfg.Storage, logger)
	proc := processor.NewProcessor(logger, metricsCollector)

	root := cfg.Storage.TransformedPath
	if *basePath != "" {
		root = *basePath
	}

	signalCap := cfg.Pipeline.MaxPivotSignals
	if *maxSignals >= 0 {
		signalCap = *maxSignals
	}

	files, days := findTimeseriesFiles(root, *maxDays)
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No timeseries files found under %s\n", root)
		os.Exit(1)
	}
	fmt.Printf("Found %d timeseries files across %d days\n", len(files), days)

	ctx := context.Background()
	var combined []models.Observation
	for _, f := range files {
		observations, err := store.ReadObservations(ctx, f.dir, f.name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", filepath.Join(f.dir, f.name), err)
			continue
		}
		combined = append(combined, observations...)
	}
	fmt.Printf("Loaded %d observations\n", len(combined))

	cleaned := cleanAndDeduplicate(combined)
	fmt.Printf("%d observations after null removal and dedup\n", len(cleaned))
	if len(cleaned) == 0 {
		fmt.Fprintln(os.Stderr, "No data left after cleaning")
		os.Exit(1)
	}

	capped := proc.CapSignals(ctx, cleaned, signalCap)
	table, err := proc.Pivot(ctx, capped)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to pivot observations: %v\n", err)
		os.Exit(1)
	}

	outDir := filepath.Dir(*output)
	outName := strings.TrimSuffix(filepath.Base(*output), ".parquet")
	if err := store.WriteWideTable(ctx, outDir, outName, table); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		os.Exit(1)
	}

	printStats(table, filepath.Join(outDir, outName+".parquet"))
}

type observationFile struct {
	dir  string
	name string
}

// findTimeseriesFiles walks {root}/YYYY/MM/DD newest-first and collects the
// Timeseries_* files of the last run (newest hour/minute holding any) of each
// day, up to maxDays days. maxDays <= 0 means no limit.
func findTimeseriesFiles(root string, maxDays int) ([]observationFile, int) {
	var files []observationFile
	days := 0

	for _, year := range numericSubdirs(root) {
		yearDir := filepath.Join(root, year)
		for _, month := range numericSubdirs(yearDir) {
			monthDir := filepath.Join(yearDir, month)
			for _, day := range numericSubdirs(monthDir) {
				if maxDays > 0 && days >= maxDays {
					return files, days
				}
				if run := lastRunFiles(filepath.Join(monthDir, day)); len(run) > 0 {
					files = append(files, run...)
				}
				days++
			}
		}
	}
	return files, days
}

// lastRunFiles returns the Timeseries_* files of the newest hour/minute
// partition of a day that contains any.
func lastRunFiles(dayDir string) []observationFile {
	for _, hour := range numericSubdirs(dayDir) {
		for _, minute := range numericSubdirs(filepath.Join(dayDir, hour)) {
			minuteDir := filepath.Join(dayDir, hour, minute)
			matches, err := filepath.Glob(filepath.Join(minuteDir, "Timeseries_*.parquet"))
			if err != nil || len(matches) == 0 {
				continue
			}
			sort.Strings(matches)
			run := make([]observationFile, 0, len(matches))
			for _, m := range matches {
				run = append(run, observationFile{
					dir:  minuteDir,
					name: strings.TrimSuffix(filepath.Base(m), ".parquet"),
				})
			}
			return run
		}
	}
	return nil
}

// numericSubdirs lists the all-digit subdirectory names of dir, newest first.
func numericSubdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == "" || strings.TrimLeft(name, "0123456789") != "" {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

type sampleKey struct {
	vesselID  string
	signalID  string
	timestamp string
}

// cleanAndDeduplicate drops null samples and keeps the newest load date per
// (vessel, signal, timestamp).
func cleanAndDeduplicate(observations []models.Observation) []models.Observation {
	withValues := make([]models.Observation, 0, len(observations))
	for _, obs := range observations {
		if obs.Value != nil {
			withValues = append(withValues, obs)
		}
	}

	sort.SliceStable(withValues, func(i, j int) bool {
		return withValues[i].LoadDate > withValues[j].LoadDate
	})

	seen := make(map[sampleKey]bool, len(withValues))
	deduplicated := withValues[:0:0]
	for _, obs := range withValues {
		key := sampleKey{obs.VesselID, obs.SignalID, obs.Timestamp}
		if seen[key] {
			continue
		}
		seen[key] = true
		deduplicated = append(deduplicated, obs)
	}
	return deduplicated
}

func printStats(table models.WideTable, path string) {
	vessels := make(map[string]bool)
	minTS, maxTS := "", ""
	for _, row := range table.Rows {
		vessels[row.VesselID] = true
		if minTS == "" || row.Timestamp < minTS {
			minTS = row.Timestamp
		}
		if row.Timestamp > maxTS {
			maxTS = row.Timestamp
		}
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Printf("  Rows:           %d\n", len(table.Rows))
	fmt.Printf("  Signal columns: %d\n", len(table.Columns))
	fmt.Printf("  Vessels:        %d\n", len(vessels))
	fmt.Printf("  Time range:     %s to %s\n", minTS, maxTS)
}
