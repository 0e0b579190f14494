package schema

import (
	"errors"
	"slices"
	"testing"

	"github.com/mzaja/betfair-database/internal/metadata"
)

func TestColumns(t *testing.T) {
	cols := Columns()

	if cols[0] != MarketIDColumn {
		t.Errorf("first column = %s, want %s", cols[0], MarketIDColumn)
	}
	// The file path columns stay at the end of the list.
	if cols[len(cols)-2] != MetadataPathColumn || cols[len(cols)-1] != DataPathColumn {
		t.Errorf("last columns = %v, want path columns", cols[len(cols)-2:])
	}

	seen := make(map[string]bool)
	for _, c := range cols {
		if seen[c] {
			t.Errorf("duplicate column %s", c)
		}
		seen[c] = true
	}

	// Callers must not be able to mutate the schema.
	cols[0] = "tampered"
	if Columns()[0] != MarketIDColumn {
		t.Error("Columns() returned a shared slice")
	}
}

func TestBuildRow(t *testing.T) {
	doc := metadata.Doc{
		"marketId":        "1.22334455",
		"marketName":      "2m Mdn Hrd",
		"marketType":      "WIN",
		"runners":         7,
		"eventTypeId":     "7",
		"unindexedField":  "dropped",
		"marketStartTime": "2024-01-06T12:30:00.000Z",
	}
	raceMeta := map[string]any{
		"raceId":               "7,GB,Ascot,2024-01-06T12:30:00.000Z",
		"raceTypeFromName":     "Mdn Hrd",
		"raceDistanceMeters":   16 * 201.168,
		"raceDistanceFurlongs": 16.0,
	}

	row, err := BuildRow(doc, raceMeta, "/data/1.22334455.json", "/data/1.22334455.gz")
	if err != nil {
		t.Fatal(err)
	}

	if got := row.MarketID(); got != "1.22334455" {
		t.Errorf("MarketID() = %s", got)
	}
	if got := row["raceTypeFromName"]; got != "Mdn Hrd" {
		t.Errorf("raceTypeFromName = %v", got)
	}
	if got := row[MetadataPathColumn]; got != "/data/1.22334455.json" {
		t.Errorf("metadata path = %v", got)
	}
	if _, ok := row["unindexedField"]; ok {
		t.Error("fields outside the column set must be dropped")
	}
	// Absent optionals map to explicit nulls, not defaults.
	if got := row["eventVenue"]; got != nil {
		t.Errorf("eventVenue = %v, want nil", got)
	}
	if len(row) != len(Columns()) {
		t.Errorf("row has %d entries, want %d", len(row), len(Columns()))
	}
	for col := range row {
		if !slices.Contains(Columns(), col) {
			t.Errorf("unexpected row key %s", col)
		}
	}
}

func TestBuildRow_NoMetadataFile(t *testing.T) {
	doc := metadata.Doc{"marketId": "1.22334455"}
	row, err := BuildRow(doc, nil, "", "/data/1.22334455")
	if err != nil {
		t.Fatal(err)
	}
	if got := row[MetadataPathColumn]; got != nil {
		t.Errorf("metadata path = %v, want nil for a synthesized row", got)
	}
	if got := row[DataPathColumn]; got != "/data/1.22334455" {
		t.Errorf("data path = %v", got)
	}
}

func TestBuildRow_MissingMarketID(t *testing.T) {
	doc := metadata.Doc{"marketName": "2m Mdn Hrd"}
	_, err := BuildRow(doc, nil, "/data/1.1.json", "")
	if !errors.Is(err, ErrMissingMarketID) {
		t.Errorf("BuildRow() error = %v, want ErrMissingMarketID", err)
	}
}
