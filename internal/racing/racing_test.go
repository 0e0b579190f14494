package racing

import (
	"math"
	"testing"

	"github.com/mzaja/betfair-database/internal/metadata"
)

// Market names from UK, IRE and US courses use miles and furlongs;
// AUS, RSA and greyhound courses use meters.
func TestExtractRaceMetadata(t *testing.T) {
	tests := []struct {
		name     string
		furlongs any // nil when the name has no distance
		raceType any // nil when the name has no type
	}{
		{"2m Mdn Hrd", 16.0, "Mdn Hrd"},
		{"3m1f Beg Chs", 25.0, "Beg Chs"},
		{"6f Mdn", 6.0, "Mdn"},
		{"3m Grd3 Nov Chs", 24.0, "Grd3 Nov Chs"},
		{"R1 7f Claim", 7.0, "Claim"},
		{"R3 1m Stks", 8.0, "Stks"},
		{"PA Hcap", nil, "PA Hcap"},
		{"R4 405m Gr3/4", 405.0 / MetersPerFurlong, "Gr3/4"},
		{"A2 462m", 462.0 / MetersPerFurlong, "A2"},
		{"D2 275m", 275.0 / MetersPerFurlong, "D2"},
		{"OR 500m", 500.0 / MetersPerFurlong, "OR"},
		{"R10 405m Gr5", 405.0 / MetersPerFurlong, "Gr5"},
		{"R2 1200m Plt", 1200.0 / MetersPerFurlong, "Plt"},
		{"R5 2185m Pace M", 2185.0 / MetersPerFurlong, "Pace M"},
		{"415m", 415.0 / MetersPerFurlong, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := ExtractRaceMetadata(tt.name)

			if got := meta["raceTypeFromName"]; got != tt.raceType {
				t.Errorf("raceTypeFromName = %v, want %v", got, tt.raceType)
			}
			if tt.furlongs == nil {
				if meta["raceDistanceFurlongs"] != nil || meta["raceDistanceMeters"] != nil {
					t.Errorf("distances = %v / %v, want nil",
						meta["raceDistanceFurlongs"], meta["raceDistanceMeters"])
				}
				return
			}
			furlongs := meta["raceDistanceFurlongs"].(float64)
			meters := meta["raceDistanceMeters"].(float64)
			if !closeTo(furlongs, tt.furlongs.(float64)) {
				t.Errorf("raceDistanceFurlongs = %v, want %v", furlongs, tt.furlongs)
			}
			if !closeTo(meters, furlongs*MetersPerFurlong) {
				t.Errorf("raceDistanceMeters = %v, want %v", meters, furlongs*MetersPerFurlong)
			}
		})
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestIsRacing(t *testing.T) {
	tests := []struct {
		name string
		doc  metadata.Doc
		want bool
	}{
		{"horse racing", metadata.Doc{"eventTypeId": "7"}, true},
		{"greyhound racing", metadata.Doc{"eventTypeId": "4339"}, true},
		{"football", metadata.Doc{"eventTypeId": "1"}, false},
		{"missing event type", metadata.Doc{}, false},
		{"non-string event type", metadata.Doc{"eventTypeId": 7.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRacing(tt.doc); got != tt.want {
				t.Errorf("IsRacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func raceDoc(marketType, marketName string) metadata.Doc {
	return metadata.Doc{
		"eventTypeId":      "7",
		"eventCountryCode": "GB",
		"eventVenue":       "Ascot",
		"marketStartTime":  "2024-01-06T12:30:00.000Z",
		"marketType":       marketType,
		"marketName":       marketName,
	}
}

func TestProcessor_WinMarketFeedsSiblings(t *testing.T) {
	proc := NewProcessor()
	win := raceDoc("WIN", "2m Mdn Hrd")
	place := raceDoc("PLACE", "To Be Placed")

	proc.Add(win)
	proc.Add(place) // non-WIN markets are ignored by Add

	meta := proc.Get(place)
	if meta == nil {
		t.Fatal("Get() = nil for a market of an added race")
	}
	if got := meta["raceTypeFromName"]; got != "Mdn Hrd" {
		t.Errorf("raceTypeFromName = %v, want Mdn Hrd", got)
	}
	wantID := "7,GB,Ascot,2024-01-06T12:30:00.000Z"
	if got := meta["raceId"]; got != wantID {
		t.Errorf("raceId = %v, want %v", got, wantID)
	}
}

func TestProcessor_UnknownRace(t *testing.T) {
	proc := NewProcessor()
	if meta := proc.Get(raceDoc("PLACE", "To Be Placed")); meta != nil {
		t.Errorf("Get() = %v for a race that was never added, want nil", meta)
	}
}

func TestProcessor_NonRacing(t *testing.T) {
	proc := NewProcessor()
	doc := metadata.Doc{"eventTypeId": "1", "marketType": "WIN", "marketName": "Match Odds"}
	proc.Add(doc)
	if meta := proc.Get(doc); meta != nil {
		t.Errorf("Get() = %v for a non-racing market, want nil", meta)
	}
}

func TestProcessor_IncompleteDoc(t *testing.T) {
	proc := NewProcessor()
	doc := metadata.Doc{"eventTypeId": "7", "marketType": "WIN", "marketName": "6f Mdn"}
	proc.Add(doc) // no venue or start time: cannot identify the race
	if meta := proc.Get(doc); meta != nil {
		t.Errorf("Get() = %v for an unidentifiable race, want nil", meta)
	}
}
