// Package metadata normalizes market metadata documents into a flat
// representation suitable for the index table.
//
// Metadata comes from two sources with different shapes: side-car market
// catalogue files, and market definitions embedded in data file streams.
// Both are transformed into the same flat Doc so the rest of the pipeline
// does not care where the metadata came from.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	// Timezone names arrive in the data itself, so the tz database must
	// always be available regardless of the host system.
	_ "time/tzdata"

	"github.com/goccy/go-json"
)

// ErrParse is returned when a metadata document is not valid JSON.
var ErrParse = errors.New("cannot parse market metadata")

// localTimeLayout renders localized timestamps, keeping the UTC offset so
// the value is unambiguous when queried.
const localTimeLayout = "2006-01-02 15:04:05-07:00"

// Doc is a normalized market metadata document: a flat mapping of field
// names to scalar values. Keys that are absent from the source stay absent
// from the Doc; readers must treat a missing key as an explicit null,
// never as a default value.
type Doc map[string]any

// GetString returns the value of a key as a string, or "" if the key is
// absent or not a string.
func (d Doc) GetString(key string) string {
	s, _ := d[key].(string)
	return s
}

// ParseTime parses Betfair's ISO 8601 timestamp format,
// e.g. "2023-06-01T17:09:37.000Z".
func ParseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}

// FromCatalogueFile parses a side-car market catalogue file and returns
// the normalized document. Malformed JSON fails with ErrParse.
func FromCatalogueFile(path string) (Doc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	return FromCatalogue(data), nil
}

// FromCatalogue transforms parsed market catalogue data into a normalized
// flat document. The input map is consumed and must not be reused.
func FromCatalogue(data map[string]any) Doc {
	doc := Doc(data)

	var settledTime string
	if desc, ok := doc["description"].(map[string]any); ok {
		delete(doc, "description")
		flattenChild(desc, "priceLadderDescription")
		flattenChild(desc, "lineRangeInfo")
		for k, v := range desc {
			doc[k] = v
		}
		// Betfair documents this as "settleTime" but the data says
		// otherwise. Catalogues rarely survive past market close, so
		// this is almost never populated.
		settledTime, _ = desc["settledTime"].(string)
	}

	if event, ok := doc["event"].(map[string]any); ok {
		if tz, ok := event["timezone"].(string); ok {
			openDate, _ := event["openDate"].(string)
			mergeLocalTimes(doc, tz, doc.GetString("marketStartTime"), openDate, settledTime)
		}
	}

	if runners, ok := doc["runners"].([]any); ok {
		// Only the number of selections is indexed.
		doc["runners"] = len(runners)
	}

	flattenChild(doc, "eventType")
	flattenChild(doc, "competition")
	flattenChild(doc, "event")

	// Catalogues call the start time "marketStartTime", definitions call
	// it "marketTime". Both names are permanently queryable, so the value
	// is mirrored whichever one the source carried.
	if v, ok := doc["marketStartTime"]; ok {
		doc["marketTime"] = v
	}

	return doc
}

// definitionRenames maps market definition field names to their catalogue
// equivalents so both sources produce the same flat document.
var definitionRenames = [][2]string{
	{"name", "marketName"},
	{"openDate", "eventOpenDate"},
	{"timezone", "eventTimezone"},
	// Not always provided.
	{"countryCode", "eventCountryCode"},
	{"venue", "eventVenue"},
	{"settledTime", "marketSettledTime"},
}

// FromDefinition transforms a market definition recovered from a data
// file stream into a normalized flat document. The input map is consumed
// and must not be reused.
//
// Definitions differ between self-recorded and official streams; both
// shapes are handled here.
func FromDefinition(def map[string]any) Doc {
	doc := Doc(def)

	if tz, ok := doc["timezone"].(string); ok {
		settledTime, _ := doc["settledTime"].(string)
		mergeLocalTimes(doc, tz, doc.GetString("marketTime"), doc.GetString("openDate"), settledTime)
	}

	// Alias: see FromCatalogue.
	if v, ok := doc["marketTime"]; ok {
		doc["marketStartTime"] = v
	}

	if runners, ok := doc["runners"].([]any); ok {
		doc["runners"] = len(runners)
	}

	// priceLadderDefinition appears in self-recorded streams only.
	if pld, ok := doc["priceLadderDefinition"].(map[string]any); ok {
		delete(doc, "priceLadderDefinition")
		doc["priceLadderDescriptionType"] = pld["type"]
	}

	for _, rename := range definitionRenames {
		if v, ok := doc[rename[0]]; ok {
			delete(doc, rename[0])
			doc[rename[1]] = v
		}
	}

	return doc
}

// flattenChild lifts a nested object into its parent, combining key names
// in camel case: event.openDate becomes eventOpenDate.
func flattenChild(parent map[string]any, childKey string) {
	child, ok := parent[childKey].(map[string]any)
	if !ok {
		return
	}
	delete(parent, childKey)
	for k, v := range child {
		if k == "" {
			continue
		}
		// Preserve camel case in the combined key.
		combined := childKey + strings.ToUpper(k[:1]) + k[1:]
		parent[combined] = v
	}
}

// mergeLocalTimes derives the localized time fields from the market's
// timestamps and the event timezone. Fields whose inputs are missing are
// not created.
func mergeLocalTimes(doc Doc, timezone, marketStartTime, eventOpenDate, settledTime string) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return
	}
	if marketStartTime != "" {
		if t, err := ParseTime(marketStartTime); err == nil {
			local := t.In(loc)
			doc["localDayOfWeek"] = local.Weekday().String()
			doc["localMarketStartTime"] = local.Format(localTimeLayout)
		}
	}
	if eventOpenDate != "" {
		if t, err := ParseTime(eventOpenDate); err == nil {
			doc["localEventOpenDate"] = t.In(loc).Format(localTimeLayout)
		}
	}
	if settledTime != "" {
		if t, err := ParseTime(settledTime); err == nil {
			doc["localMarketSettledTime"] = t.In(loc).Format(localTimeLayout)
		}
	}
}
