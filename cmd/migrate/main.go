package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"fleet-telemetry-platform/internal/config"
	"fleet-telemetry-platform/pkg/database"
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	dir := flag.String("migrations", "migrations", "Directory holding *.up.sql and *.down.sql files")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Invalid direction %q: must be up or down\n", *direction)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	files, err := migrationFiles(*dir, *direction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list migrations: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No %s migrations found in %s\n", *direction, *dir)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("fleet-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	metricsCollector := metrics.NewCollector("fleet_migrate")

	db, err := database.NewPostgresDB(cfg.Database, logger, metricsCollector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read migration file: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Running migration: %s\n", filepath.Base(file))

		if _, err := db.DB().Exec(string(content)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to execute %s: %v\n", filepath.Base(file), err)
			os.Exit(1)
		}
	}

	fmt.Printf("Applied %d %s migration(s)\n", len(files), *direction)
}

// migrationFiles lists the direction's migration files. Up migrations apply
// in ascending name order, down migrations in descending order.
func migrationFiles(dir, direction string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*."+direction+".sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}
	return files, nil
}
