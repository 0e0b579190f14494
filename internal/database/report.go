package database

import (
	"fmt"

	"github.com/mzaja/betfair-database/internal/discover"
)

// Skipped describes one item a batch operation could not process. The
// batch itself carries on; per-item failures are folded into the Report
// instead of aborting the run.
type Skipped struct {
	MarketID string
	Path     string
	Reason   error
}

// Report is the aggregate result of a rebuild, insert or clean batch.
type Report struct {
	// Total is the number of items examined.
	Total int
	// Succeeded is the number of items processed to completion. For
	// clean, this is the number of rows removed.
	Succeeded int
	// Skipped lists the items that were not processed, with reasons.
	Skipped []Skipped
}

// String summarizes the report in one line.
func (r Report) String() string {
	return fmt.Sprintf("%d total, %d succeeded, %d skipped",
		r.Total, r.Succeeded, len(r.Skipped))
}

func (r *Report) skipGroup(g discover.Group, reason error) {
	path := g.MetadataFile
	if path == "" {
		path = g.DataFile
	}
	r.Skipped = append(r.Skipped, Skipped{MarketID: g.MarketID, Path: path, Reason: reason})
}
