// Package schema defines the fixed set of queryable index columns and
// builds index rows from normalized metadata documents.
package schema

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mzaja/betfair-database/internal/metadata"
)

// TableName is the name of the index table in the embedded store.
const TableName = "BetfairDatabaseIndex"

// Column names referenced outside the ordered list.
const (
	MarketIDColumn     = "marketId"
	MetadataPathColumn = "marketMetadataFilePath"
	DataPathColumn     = "marketDataFilePath"
)

// ErrMissingMarketID is returned when a structurally valid metadata
// document lacks the mandatory market id field.
var ErrMissingMarketID = errors.New("metadata document has no market id")

// columns is the versioned output schema. The order is fixed: it defines
// both the table layout and CSV export order. The two file path columns
// stay at the end of the list.
var columns = []string{
	MarketIDColumn,
	"marketName",
	"marketStartTime",
	"persistenceEnabled",
	"bspMarket",
	"marketTime",
	"suspendTime",
	"bettingType",
	"turnInPlayEnabled",
	"marketType",
	"priceLadderDescriptionType",
	"lineRangeInfoMarketUnit",
	"eachWayDivisor",
	"raceType",
	"runners",
	"eventTypeId",
	"eventTypeName",
	"competitionId",
	"competitionName",
	"eventId",
	"eventName",
	"eventCountryCode",
	"eventTimezone",
	"eventVenue",
	"eventOpenDate",
	"marketSettledTime",
	"localDayOfWeek",
	"localMarketStartTime",
	"localEventOpenDate",
	"localMarketSettledTime",
	"raceId",
	"raceTypeFromName",
	"raceDistanceMeters",
	"raceDistanceFurlongs",
	MetadataPathColumn,
	DataPathColumn,
}

// Columns returns the ordered list of queryable index columns.
func Columns() []string {
	return slices.Clone(columns)
}

// Row is one index table row: column name to value. Values use nil for
// SQL NULL; a missing optional source field never maps to a default.
type Row map[string]any

// MarketID returns the row's primary key.
func (r Row) MarketID() string {
	id, _ := r[MarketIDColumn].(string)
	return id
}

// BuildRow flattens a normalized metadata document into an index row.
// raceMeta, when non-nil, supplies the racing-specific derived fields.
// metadataPath and dataPath may be empty, which maps to NULL; a row
// synthesized from an embedded definition has no metadata file.
//
// Fails with ErrMissingMarketID when the document carries no market id.
// All keys outside the column set are dropped.
func BuildRow(doc metadata.Doc, raceMeta map[string]any, metadataPath, dataPath string) (Row, error) {
	id := doc.GetString(MarketIDColumn)
	if id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingMarketID, metadataPath+dataPath)
	}

	row := make(Row, len(columns))
	for _, col := range columns {
		if v, ok := raceMeta[col]; ok {
			row[col] = v
		} else if v, ok := doc[col]; ok {
			row[col] = v
		} else {
			row[col] = nil
		}
	}
	row[MetadataPathColumn] = nullableString(metadataPath)
	row[DataPathColumn] = nullableString(dataPath)
	return row, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
