package main

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/mzaja/betfair-database/internal/database"
	"github.com/mzaja/betfair-database/internal/metadata"
)

func TestInsertOptions_FlagDefaults(t *testing.T) {
	opts, err := insertOptions(insertCmd)
	if err != nil {
		t.Fatal(err)
	}
	if opts.OnDuplicates != database.DuplicateUpdate {
		t.Errorf("OnDuplicates = %q, want %q", opts.OnDuplicates, database.DuplicateUpdate)
	}
	if opts.Pattern == nil {
		t.Fatal("Pattern = nil, want the historical default")
	}
	doc := metadata.Doc{
		"eventId":         "30000001",
		"marketStartTime": "2024-01-06T12:30:00.000Z",
	}
	if got := opts.Pattern(doc); got != "2024/Jan/6/30000001" {
		t.Errorf("Pattern(doc) = %q, want the historical layout", got)
	}
}

func TestInsertOptions_ConfigValuesApply(t *testing.T) {
	// Configured values must take effect without the flags being set.
	viper.Set("pattern", "event-id")
	viper.Set("on-duplicates", "skip")
	t.Cleanup(func() {
		viper.Set("pattern", "historical")
		viper.Set("on-duplicates", "update")
	})

	opts, err := insertOptions(insertCmd)
	if err != nil {
		t.Fatal(err)
	}
	if opts.OnDuplicates != database.DuplicateSkip {
		t.Errorf("OnDuplicates = %q, want %q", opts.OnDuplicates, database.DuplicateSkip)
	}
	if opts.Pattern == nil {
		t.Fatal("Pattern = nil, want the configured event-id pattern")
	}
	if got := opts.Pattern(metadata.Doc{"eventId": "30000001"}); got != "30000001" {
		t.Errorf("Pattern(doc) = %q, want the event id", got)
	}
}

func TestInsertOptions_BadConfigValue(t *testing.T) {
	viper.Set("on-duplicates", "nonsense")
	t.Cleanup(func() {
		viper.Set("on-duplicates", "update")
	})

	if _, err := insertOptions(insertCmd); err == nil {
		t.Error("insertOptions() accepted an unknown duplicate policy")
	}
}
