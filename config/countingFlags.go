package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Variance thresholds, in percent of the theoretical quantity.
//
// Set via env:
// - COUNT_VARIANCE_FLAG_PERCENT (default 5): at/above -> variance_from_theoretical
// - COUNT_VARIANCE_CRITICAL_PERCENT (default 15): at/above -> critical_variance
var (
	defaultVarianceFlagPercent     = decimal.NewFromInt(5)
	defaultVarianceCriticalPercent = decimal.NewFromInt(15)
)

func VarianceFlagPercent() decimal.Decimal {
	return decimalFromEnv("COUNT_VARIANCE_FLAG_PERCENT", defaultVarianceFlagPercent)
}

func VarianceCriticalPercent() decimal.Decimal {
	return decimalFromEnv("COUNT_VARIANCE_CRITICAL_PERCENT", defaultVarianceCriticalPercent)
}

// CountArchiveBucket is the GCS bucket finalized reconciliation workbooks are
// archived to. Empty disables archiving.
func CountArchiveBucket() string {
	return strings.TrimSpace(os.Getenv("COUNT_ARCHIVE_BUCKET"))
}

// CountingEventsTopic is the Pub/Sub topic for counting lifecycle events.
// Empty disables publishing.
func CountingEventsTopic() string {
	return strings.TrimSpace(os.Getenv("COUNTING_PUBSUB_TOPIC"))
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}
