// Package storage implements the partitioned file store for raw payloads,
// transformed observation streams, gap intervals, and the cross-run latest
// and daily-summary layers. Tabular data is stored as snappy-compressed
// parquet, raw payloads as JSON.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fleet-telemetry-platform/internal/config"
	"fleet-telemetry-platform/internal/models"
	"fleet-telemetry-platform/pkg/logging"
)

// Cross-run files kept under the latest layer.
const (
	RosterFile        = "imos"
	SignalMappingFile = "signal_mapping"
	RefDataFile       = "ref_data"
)

// FileStore reads and writes the partitioned data directories. Run-scoped
// data lives under {root}/YYYY/MM/DD/HH/mm; the latest and daily layers are
// flat directories.
type FileStore struct {
	cfg    config.StorageConfig
	logger *logging.StructuredLogger
}

// NewFileStore creates a file store over the configured data roots.
func NewFileStore(cfg config.StorageConfig, logger *logging.StructuredLogger) *FileStore {
	return &FileStore{cfg: cfg, logger: logger}
}

// PartitionPath resolves the run-scoped directory for a load date under root.
// The load date doubles as the relative path.
func PartitionPath(root, loadDate string) string {
	return filepath.Join(root, filepath.FromSlash(loadDate))
}

// RawPath returns the raw-payload partition for a load date.
func (s *FileStore) RawPath(loadDate string) string {
	return PartitionPath(s.cfg.RawPath, loadDate)
}

// TransformedPath returns the transformed-data partition for a load date.
func (s *FileStore) TransformedPath(loadDate string) string {
	return PartitionPath(s.cfg.TransformedPath, loadDate)
}

// GapsPath returns the gap-data partition for a load date.
func (s *FileStore) GapsPath(loadDate string) string {
	return PartitionPath(s.cfg.GapsPath, loadDate)
}

// LatestPath returns the flat cross-run layer directory.
func (s *FileStore) LatestPath() string {
	return s.cfg.LatestPath
}

// WriteJSON stores a raw payload as {dir}/{name}.json.
func (s *FileStore) WriteJSON(ctx context.Context, dir, name string, payload []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Raw payloads are stored verbatim when already valid JSON.
	if !json.Valid(payload) {
		encoded, err := json.Marshal(string(payload))
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		payload = encoded
	}

	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Debug(ctx, "[STORE_WRITE] Raw payload saved", logging.Fields{"path": path})
	return nil
}

func (s *FileStore) writeParquet(ctx context.Context, dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, name+".parquet")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Debug(ctx, "[STORE_WRITE] Parquet file saved", logging.Fields{
		"path":  path,
		"bytes": len(data),
	})
	return nil
}

// readParquet loads {dir}/{name}.parquet. A missing file returns (nil, nil):
// absent layers read as empty.
func (s *FileStore) readParquet(dir, name string) ([]byte, error) {
	path := filepath.Join(dir, name+".parquet")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteObservations stores an observation stream as {dir}/{name}.parquet.
func (s *FileStore) WriteObservations(ctx context.Context, dir, name string, observations []models.Observation) error {
	data, err := EncodeObservations(observations)
	if err != nil {
		return err
	}
	return s.writeParquet(ctx, dir, name, data)
}

// ReadObservations loads an observation stream; a missing file reads as an
// empty stream.
func (s *FileStore) ReadObservations(ctx context.Context, dir, name string) ([]models.Observation, error) {
	data, err := s.readParquet(dir, name)
	if err != nil || data == nil {
		return []models.Observation{}, err
	}
	return DecodeObservations(ctx, data)
}

// WriteGaps stores gap intervals as {dir}/{name}.parquet.
func (s *FileStore) WriteGaps(ctx context.Context, dir, name string, gaps []models.GapInterval) error {
	data, err := EncodeGaps(gaps)
	if err != nil {
		return err
	}
	return s.writeParquet(ctx, dir, name, data)
}

// ReadGaps loads gap intervals; a missing file reads as empty.
func (s *FileStore) ReadGaps(ctx context.Context, dir, name string) ([]models.GapInterval, error) {
	data, err := s.readParquet(dir, name)
	if err != nil || data == nil {
		return []models.GapInterval{}, err
	}
	return DecodeGaps(ctx, data)
}

// WriteSignalRecords stores flattened signal descriptor rows.
func (s *FileStore) WriteSignalRecords(ctx context.Context, dir, name string, records []models.SignalRecord) error {
	data, err := EncodeSignalRecords(records)
	if err != nil {
		return err
	}
	return s.writeParquet(ctx, dir, name, data)
}

// ReadSignalRecords loads signal descriptor rows; a missing file reads as
// empty.
func (s *FileStore) ReadSignalRecords(ctx context.Context, dir, name string) ([]models.SignalRecord, error) {
	data, err := s.readParquet(dir, name)
	if err != nil || data == nil {
		return []models.SignalRecord{}, err
	}
	return DecodeSignalRecords(ctx, data)
}

// WriteWideTable stores a pivoted wide table.
func (s *FileStore) WriteWideTable(ctx context.Context, dir, name string, table models.WideTable) error {
	data, err := EncodeWideTable(table)
	if err != nil {
		return err
	}
	return s.writeParquet(ctx, dir, name, data)
}

// WriteShipTable stores a flattened ship-data table.
func (s *FileStore) WriteShipTable(ctx context.Context, dir, name string, table models.ShipTable) error {
	data, err := EncodeShipTable(table)
	if err != nil {
		return err
	}
	return s.writeParquet(ctx, dir, name, data)
}

// WriteRoster stores the active vessel id list in the latest layer.
func (s *FileStore) WriteRoster(ctx context.Context, vesselIDs []string) error {
	data, err := EncodeStringList(vesselIDs)
	if err != nil {
		return err
	}
	return s.writeParquet(ctx, s.LatestPath(), RosterFile, data)
}

// ReadRoster loads the stored vessel id list; missing reads as empty.
func (s *FileStore) ReadRoster(ctx context.Context) ([]string, error) {
	data, err := s.readParquet(s.LatestPath(), RosterFile)
	if err != nil || data == nil {
		return []string{}, err
	}
	return DecodeStringList(ctx, data)
}

// ReadHistory loads the rolling ref_data layer.
func (s *FileStore) ReadHistory(ctx context.Context) ([]models.Observation, error) {
	return s.ReadObservations(ctx, s.LatestPath(), RefDataFile)
}

// WriteHistory persists the rolling ref_data layer.
func (s *FileStore) WriteHistory(ctx context.Context, observations []models.Observation) error {
	return s.WriteObservations(ctx, s.LatestPath(), RefDataFile, observations)
}

// ReadDailySummary loads the summary for a calendar day.
func (s *FileStore) ReadDailySummary(ctx context.Context, day time.Time) ([]models.Observation, error) {
	return s.ReadObservations(ctx, s.cfg.DailyPath, day.Format(models.DayKeyLayout))
}

// WriteDailySummary persists the summary for a calendar day.
func (s *FileStore) WriteDailySummary(ctx context.Context, day time.Time, observations []models.Observation) error {
	return s.WriteObservations(ctx, s.cfg.DailyPath, day.Format(models.DayKeyLayout), observations)
}

// ReadSignalMapping loads the cross-run signal metadata catalog.
func (s *FileStore) ReadSignalMapping(ctx context.Context) ([]models.SignalRecord, error) {
	return s.ReadSignalRecords(ctx, s.LatestPath(), SignalMappingFile)
}

// WriteSignalMapping persists the cross-run signal metadata catalog.
func (s *FileStore) WriteSignalMapping(ctx context.Context, records []models.SignalRecord) error {
	return s.WriteSignalRecords(ctx, s.LatestPath(), SignalMappingFile, records)
}

// Cleanup removes day partitions older than daysToKeep under root. Failures
// are logged and skipped so one bad directory cannot abort the sweep.
func (s *FileStore) Cleanup(ctx context.Context, root string, daysToKeep int, now time.Time) int {
	cutoff := now.AddDate(0, 0, -daysToKeep)
	removed := 0

	years, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0
	}
	if err != nil {
		s.logger.Warn(ctx, "[CLEANUP] Failed to list root", logging.Fields{"root": root, "error": err.Error()})
		return 0
	}

	for _, yearDir := range years {
		year, ok := numericDir(yearDir)
		if !ok {
			continue
		}
		switch {
		case year > cutoff.Year():
			continue
		case year < cutoff.Year():
			removed += s.removeDir(ctx, filepath.Join(root, yearDir.Name()))
			continue
		}

		yearPath := filepath.Join(root, yearDir.Name())
		months, err := os.ReadDir(yearPath)
		if err != nil {
			s.logger.Warn(ctx, "[CLEANUP] Failed to list year", logging.Fields{"path": yearPath, "error": err.Error()})
			continue
		}
		for _, monthDir := range months {
			month, ok := numericDir(monthDir)
			if !ok {
				continue
			}
			switch {
			case month > int(cutoff.Month()):
				continue
			case month < int(cutoff.Month()):
				removed += s.removeDir(ctx, filepath.Join(yearPath, monthDir.Name()))
				continue
			}

			monthPath := filepath.Join(yearPath, monthDir.Name())
			days, err := os.ReadDir(monthPath)
			if err != nil {
				s.logger.Warn(ctx, "[CLEANUP] Failed to list month", logging.Fields{"path": monthPath, "error": err.Error()})
				continue
			}
			for _, dayDir := range days {
				day, ok := numericDir(dayDir)
				if !ok {
					continue
				}
				if day < cutoff.Day() {
					removed += s.removeDir(ctx, filepath.Join(monthPath, dayDir.Name()))
				}
			}
		}
	}

	s.logger.Info(ctx, "[CLEANUP] Partition sweep completed", logging.Fields{
		"root":    root,
		"cutoff":  cutoff.Format("2006-01-02"),
		"removed": removed,
	})
	return removed
}

func (s *FileStore) removeDir(ctx context.Context, path string) int {
	if err := os.RemoveAll(path); err != nil {
		s.logger.Warn(ctx, "[CLEANUP] Failed to remove directory", logging.Fields{"path": path, "error": err.Error()})
		return 0
	}
	s.logger.Info(ctx, "[CLEANUP] Removed old data directory", logging.Fields{"path": path})
	return 1
}

func numericDir(entry fs.DirEntry) (int, bool) {
	if !entry.IsDir() {
		return 0, false
	}
	n, err := strconv.Atoi(entry.Name())
	if err != nil {
		return 0, false
	}
	return n, true
}
