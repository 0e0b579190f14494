// Package racing derives race-specific index fields for horse and
// greyhound racing markets.
//
// Race type and distance are not carried as structured fields by Betfair;
// they are parsed out of the WIN market's name using the naming convention
// of official racing markets (a trailing distance token such as "2m4f" or
// "405m", optionally prefixed by a race number like "R3").
package racing

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mzaja/betfair-database/internal/metadata"
)

const (
	// MetersPerFurlong converts between the two distance units used by
	// racing markets.
	MetersPerFurlong = 201.168
	furlongsPerMile  = 8

	winMarketType = "WIN"
)

// Event type ids of racing sports.
const (
	horseRacingEventTypeID     = "7"
	greyhoundRacingEventTypeID = "4339"
)

var (
	// Matches a distance token: miles/meters factor and furlongs factor.
	raceDistRegex = regexp.MustCompile(`(?:(\d*)[Mm])?(?:(\d*)f)?`)
	// Matches the race type once the distance token has been removed.
	raceTypeRegex = regexp.MustCompile(`(?:R\d+)?(?:\s+)?(.*\S)`)
)

// IsRacing reports whether the document describes a horse or greyhound
// racing market. Returns false when the event type cannot be determined.
func IsRacing(doc metadata.Doc) bool {
	switch doc.GetString("eventTypeId") {
	case horseRacingEventTypeID, greyhoundRacingEventTypeID:
		return true
	default:
		return false
	}
}

// ExtractRaceMetadata parses the race distance and type out of a market
// name. The returned map holds raceTypeFromName, raceDistanceMeters and
// raceDistanceFurlongs; values the name does not encode are nil.
func ExtractRaceMetadata(marketName string) map[string]any {
	var meters, furlongs, raceType any

	var mStr, fStr string
	found := false
	for _, m := range raceDistRegex.FindAllStringSubmatch(marketName, -1) {
		if m[1] != "" || m[2] != "" {
			mStr, fStr = m[1], m[2]
			found = true
			break
		}
	}

	if found {
		// An unparsable factor counts as zero.
		mValue, _ := strconv.ParseFloat(mStr, 64)
		fValue, _ := strconv.ParseFloat(fStr, 64)

		if fValue != 0 || mValue < 20 {
			// A furlong factor, or a small "m" factor, means the
			// units are miles and furlongs (UK and IRE courses).
			f := mValue*furlongsPerMile + fValue
			furlongs = f
			meters = f * MetersPerFurlong
		} else {
			// Large "m" values are literal meters (AUS, RSA,
			// greyhound courses).
			meters = mValue
			furlongs = mValue / MetersPerFurlong
		}

		// Strip the distance token so the remainder is the race type.
		if mValue > 0 {
			marketName = strings.ReplaceAll(marketName, mStr+"m", "")
			marketName = strings.ReplaceAll(marketName, mStr+"M", "")
		}
		if fValue > 0 {
			marketName = strings.ReplaceAll(marketName, fStr+"f", "")
		}
	}

	if m := raceTypeRegex.FindStringSubmatch(marketName); m != nil && m[1] != "" {
		raceType = m[1]
	}

	return map[string]any{
		"raceTypeFromName":     raceType,
		"raceDistanceMeters":   meters,
		"raceDistanceFurlongs": furlongs,
	}
}

// Processor collects race metadata from WIN markets and serves it to all
// markets of the same race. A race's name-derived fields only appear on
// its WIN market, but every market of that race (PLACE, forecast, ...)
// should index them.
//
// Safe for concurrent use: Add may be called from parallel extraction
// workers.
type Processor struct {
	mu     sync.Mutex
	lookup map[string]map[string]any
}

// NewProcessor returns an empty racing metadata processor.
func NewProcessor() *Processor {
	return &Processor{lookup: make(map[string]map[string]any)}
}

// raceID builds an unambiguous identifier for an individual race. The
// second return value is false when the document lacks a required field.
func raceID(doc metadata.Doc) (string, bool) {
	parts := [4]string{
		doc.GetString("eventTypeId"),
		doc.GetString("eventCountryCode"),
		doc.GetString("eventVenue"),
		doc.GetString("marketStartTime"),
	}
	for _, p := range parts {
		if p == "" {
			return "", false
		}
	}
	return strings.Join(parts[:], ","), true
}

// Add records the race metadata of a WIN racing market. Non-racing and
// non-WIN markets are ignored, as are documents too incomplete to
// identify the race.
func (p *Processor) Add(doc metadata.Doc) {
	if !IsRacing(doc) || doc.GetString("marketType") != winMarketType {
		return
	}
	id, ok := raceID(doc)
	if !ok {
		return
	}
	name := doc.GetString("marketName")
	if name == "" {
		return
	}
	meta := ExtractRaceMetadata(name)
	p.mu.Lock()
	p.lookup[id] = meta
	p.mu.Unlock()
}

// Get returns the race metadata for any market of a previously added
// race, with the race id included. Returns nil for non-racing markets and
// races that were never added.
func (p *Processor) Get(doc metadata.Doc) map[string]any {
	if !IsRacing(doc) {
		return nil
	}
	id, ok := raceID(doc)
	if !ok {
		return nil
	}
	p.mu.Lock()
	meta, ok := p.lookup[id]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["raceId"] = id
	return out
}
