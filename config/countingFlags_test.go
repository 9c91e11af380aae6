package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestVarianceThresholdsFromEnv(t *testing.T) {
	t.Setenv("COUNT_VARIANCE_FLAG_PERCENT", "")
	t.Setenv("COUNT_VARIANCE_CRITICAL_PERCENT", "")
	if !VarianceFlagPercent().Equal(decimal.NewFromInt(5)) || !VarianceCriticalPercent().Equal(decimal.NewFromInt(15)) {
		t.Fatalf("defaults: got %s/%s", VarianceFlagPercent(), VarianceCriticalPercent())
	}

	t.Setenv("COUNT_VARIANCE_FLAG_PERCENT", " 2.5 ")
	t.Setenv("COUNT_VARIANCE_CRITICAL_PERCENT", "10")
	if !VarianceFlagPercent().Equal(decimal.RequireFromString("2.5")) || !VarianceCriticalPercent().Equal(decimal.NewFromInt(10)) {
		t.Fatalf("overrides: got %s/%s", VarianceFlagPercent(), VarianceCriticalPercent())
	}

	for _, bad := range []string{"abc", "-1"} {
		t.Setenv("COUNT_VARIANCE_FLAG_PERCENT", bad)
		if !VarianceFlagPercent().Equal(decimal.NewFromInt(5)) {
			t.Fatalf("%q should fall back to the default, got %s", bad, VarianceFlagPercent())
		}
	}
}

func TestCountingToggles(t *testing.T) {
	t.Setenv("COUNT_ARCHIVE_BUCKET", "  ")
	t.Setenv("COUNTING_PUBSUB_TOPIC", "")
	if CountArchiveBucket() != "" || CountingEventsTopic() != "" {
		t.Fatalf("blank settings should disable archive and events")
	}
	t.Setenv("COUNT_ARCHIVE_BUCKET", "counts")
	t.Setenv("COUNTING_PUBSUB_TOPIC", "counting-events")
	if CountArchiveBucket() != "counts" || CountingEventsTopic() != "counting-events" {
		t.Fatalf("got %q/%q", CountArchiveBucket(), CountingEventsTopic())
	}
}
