package processor

import (
	"fleet-telemetry-platform/pkg/logging"
	"fleet-telemetry-platform/pkg/metrics"
)

// Shared across the package's tests: promauto registers collectors globally,
// so the collector must be built exactly once per test binary.
var testProcessor = NewProcessor(
	logging.NewStructuredLogger("processor-test", "test", logging.ErrorLevel),
	metrics.NewCollector("processor_test"),
)

func fptr(v float64) *float64 { return &v }

func sptr(s string) *string { return &s }
