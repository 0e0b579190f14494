package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

const catalogueJSON = `{
	"marketId": "1.22334455",
	"marketName": "2m Mdn Hrd",
	"marketStartTime": "2024-01-06T12:30:00.000Z",
	"totalMatched": 0,
	"description": {
		"persistenceEnabled": true,
		"bspMarket": true,
		"marketTime": "2024-01-06T12:30:00.000Z",
		"suspendTime": "2024-01-06T12:30:00.000Z",
		"bettingType": "ODDS",
		"turnInPlayEnabled": true,
		"marketType": "WIN",
		"priceLadderDescription": {"type": "CLASSIC"},
		"regulator": "GIBRALTAR REGULATOR"
	},
	"runners": [
		{"selectionId": 101, "runnerName": "Alpha"},
		{"selectionId": 102, "runnerName": "Beta"},
		{"selectionId": 103, "runnerName": "Gamma"}
	],
	"eventType": {"id": "7", "name": "Horse Racing"},
	"competition": {"id": "c-12", "name": "Some Competition"},
	"event": {
		"id": "30000001",
		"name": "Ascot 6th Jan",
		"countryCode": "GB",
		"timezone": "Europe/London",
		"venue": "Ascot",
		"openDate": "2024-01-06T11:00:00.000Z"
	}
}`

func parseCatalogue(t *testing.T, src string) Doc {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal([]byte(src), &data); err != nil {
		t.Fatal(err)
	}
	return FromCatalogue(data)
}

func TestFromCatalogue(t *testing.T) {
	doc := parseCatalogue(t, catalogueJSON)

	tests := []struct {
		key  string
		want any
	}{
		{"marketId", "1.22334455"},
		{"marketName", "2m Mdn Hrd"},
		{"marketType", "WIN"},
		{"bettingType", "ODDS"},
		{"bspMarket", true},
		{"priceLadderDescriptionType", "CLASSIC"},
		{"runners", 3},
		{"eventTypeId", "7"},
		{"eventTypeName", "Horse Racing"},
		{"competitionId", "c-12"},
		{"eventId", "30000001"},
		{"eventCountryCode", "GB"},
		{"eventTimezone", "Europe/London"},
		{"eventVenue", "Ascot"},
		{"eventOpenDate", "2024-01-06T11:00:00.000Z"},
		// January 6th 2024 was a Saturday; London is on UTC in winter.
		{"localDayOfWeek", "Saturday"},
		{"localMarketStartTime", "2024-01-06 12:30:00+00:00"},
		{"localEventOpenDate", "2024-01-06 11:00:00+00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := doc[tt.key]; got != tt.want {
				t.Errorf("doc[%q] = %v, want %v", tt.key, got, tt.want)
			}
		})
	}

	if _, ok := doc["description"]; ok {
		t.Error("description should have been flattened away")
	}
	if _, ok := doc["event"]; ok {
		t.Error("event should have been flattened away")
	}
}

func TestFromCatalogue_Alias(t *testing.T) {
	doc := parseCatalogue(t, catalogueJSON)
	if doc["marketTime"] != doc["marketStartTime"] {
		t.Errorf("marketTime = %v, marketStartTime = %v; both names must resolve to the same value",
			doc["marketTime"], doc["marketStartTime"])
	}
}

func TestFromCatalogue_LocalTimesInForeignZone(t *testing.T) {
	doc := parseCatalogue(t, `{
		"marketId": "1.1",
		"marketStartTime": "2024-07-06T09:00:00.000Z",
		"event": {"timezone": "Australia/Sydney", "openDate": "2024-07-06T08:00:00.000Z"}
	}`)
	// 09:00 UTC is 19:00 in Sydney (UTC+10 in July).
	if got := doc["localMarketStartTime"]; got != "2024-07-06 19:00:00+10:00" {
		t.Errorf("localMarketStartTime = %v", got)
	}
	if got := doc["localDayOfWeek"]; got != "Saturday" {
		t.Errorf("localDayOfWeek = %v, want Saturday", got)
	}
}

func TestFromCatalogue_MissingOptionalsStayAbsent(t *testing.T) {
	doc := parseCatalogue(t, `{"marketId": "1.1"}`)
	for _, key := range []string{"localDayOfWeek", "eventVenue", "runners", "marketSettledTime"} {
		if _, ok := doc[key]; ok {
			t.Errorf("doc[%q] should be absent, got %v", key, doc[key])
		}
	}
}

func TestFromDefinition(t *testing.T) {
	var def map[string]any
	err := json.Unmarshal([]byte(`{
		"marketId": "1.22334455",
		"marketType": "WIN",
		"marketTime": "2024-01-06T12:30:00.000Z",
		"settledTime": "2024-01-06T12:35:10.000Z",
		"name": "2m Mdn Hrd",
		"eventId": "30000001",
		"eventTypeId": "7",
		"countryCode": "GB",
		"venue": "Ascot",
		"timezone": "Europe/London",
		"openDate": "2024-01-06T11:00:00.000Z",
		"priceLadderDefinition": {"type": "CLASSIC"},
		"runners": [{"id": 1}, {"id": 2}]
	}`), &def)
	if err != nil {
		t.Fatal(err)
	}
	doc := FromDefinition(def)

	tests := []struct {
		key  string
		want any
	}{
		{"marketId", "1.22334455"},
		{"marketName", "2m Mdn Hrd"},
		{"marketStartTime", "2024-01-06T12:30:00.000Z"},
		{"marketTime", "2024-01-06T12:30:00.000Z"},
		{"marketSettledTime", "2024-01-06T12:35:10.000Z"},
		{"eventOpenDate", "2024-01-06T11:00:00.000Z"},
		{"eventTimezone", "Europe/London"},
		{"eventCountryCode", "GB"},
		{"eventVenue", "Ascot"},
		{"priceLadderDescriptionType", "CLASSIC"},
		{"runners", 2},
		{"localDayOfWeek", "Saturday"},
		{"localMarketStartTime", "2024-01-06 12:30:00+00:00"},
		{"localMarketSettledTime", "2024-01-06 12:35:10+00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := doc[tt.key]; got != tt.want {
				t.Errorf("doc[%q] = %v, want %v", tt.key, got, tt.want)
			}
		})
	}

	for _, gone := range []string{"name", "openDate", "timezone", "countryCode", "venue", "settledTime", "priceLadderDefinition"} {
		if _, ok := doc[gone]; ok {
			t.Errorf("doc[%q] should have been renamed away", gone)
		}
	}
}

func TestFromCatalogueFile_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.1.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := FromCatalogueFile(path)
	if !errors.Is(err, ErrParse) {
		t.Errorf("FromCatalogueFile() error = %v, want ErrParse", err)
	}
}

func TestParseTime(t *testing.T) {
	ts, err := ParseTime("2023-06-01T17:09:37.000Z")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Year() != 2023 || ts.Month() != 6 || ts.Day() != 1 ||
		ts.Hour() != 17 || ts.Minute() != 9 || ts.Second() != 37 {
		t.Errorf("ParseTime() = %v", ts)
	}
}
