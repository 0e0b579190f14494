// Package database is the reconciliation engine: it keeps an embedded
// SQL index of a directory tree of captured market files consistent with
// the filesystem across full rebuilds, incremental inserts and removals.
//
// Discovery, extraction and schema mapping are independent per market
// and run across a bounded worker pool; writes to the index are funneled
// through a single writer so the market id uniqueness invariant holds.
package database

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/mzaja/betfair-database/internal/db"
	"github.com/mzaja/betfair-database/internal/discover"
	"github.com/mzaja/betfair-database/internal/metadata"
	"github.com/mzaja/betfair-database/internal/racing"
	"github.com/mzaja/betfair-database/internal/schema"
	"github.com/mzaja/betfair-database/internal/stream"
)

// IndexFilename is the name of the index artifact, colocated with the
// indexed directory tree.
const IndexFilename = ".betfairdatabaseindex"

// DB turns a directory of captured market data into a queryable index.
type DB struct {
	root      string
	indexPath string
	logger    *log.Logger

	// Workers bounds the extraction pool. Defaults to the CPU count.
	Workers int
}

// Open validates the database root directory and returns a handle to it.
// No index is created or required at this point.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(root string, logger *log.Logger) (*DB, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &DirectoryError{Dir: root}
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, &DirectoryError{Dir: root}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[bfdb] ", log.LstdFlags)
	}
	return &DB{
		root:      abs,
		indexPath: filepath.Join(abs, IndexFilename),
		logger:    logger,
		Workers:   runtime.NumCPU(),
	}, nil
}

// Root returns the absolute path of the database directory.
func (d *DB) Root() string { return d.root }

// IndexPath returns the location of the index artifact.
func (d *DB) IndexPath() string { return d.indexPath }

// Columns returns the ordered list of queryable index columns.
func (d *DB) Columns() []string { return schema.Columns() }

func (d *DB) indexExists() bool {
	info, err := os.Stat(d.indexPath)
	return err == nil && !info.IsDir()
}

func (d *DB) workers() int {
	if d.Workers > 0 {
		return d.Workers
	}
	return runtime.NumCPU()
}

// extracted carries one group through the pipeline, in discovery order.
type extracted struct {
	group discover.Group
	doc   metadata.Doc
	err   error
}

// extractAll runs metadata extraction for every group across a bounded
// worker pool. Results keep discovery order; per-item failures are
// recorded, never propagated. File handles are scoped to one extraction
// call, so peak open handles are bounded by the pool size.
func (d *DB) extractAll(ctx context.Context, groups []discover.Group, proc *racing.Processor) []extracted {
	results := make([]extracted, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers())
	for i, group := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = extracted{group: group, err: err}
				return nil
			}
			doc, err := extractGroup(group)
			if err == nil {
				proc.Add(doc)
			}
			results[i] = extracted{group: group, doc: doc, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// extractGroup produces the normalized metadata for one file group: from
// the side-car metadata file when present, otherwise synthesized from
// the definition record embedded in the data file stream.
func extractGroup(g discover.Group) (metadata.Doc, error) {
	switch {
	case g.MetadataFile != "":
		return metadata.FromCatalogueFile(g.MetadataFile)
	case g.DataFile != "":
		def, err := stream.ScanDefinition(g.DataFile)
		if err != nil {
			return nil, err
		}
		return metadata.FromDefinition(def), nil
	default:
		return nil, errNoFilesInGroup
	}
}

// Rebuild discovers every market file group under the root and replaces
// the index contents atomically with the successfully mapped rows.
//
// One corrupt file does not abort the rebuild: failed items are reported
// in the Report. A market id appearing in more than one directory keeps
// the first-discovered group; discovery order is lexicographic, so
// repeated rebuilds of an unchanged tree produce an identical index.
//
// Rebuilding over an existing index requires force.
func (d *DB) Rebuild(ctx context.Context, force bool) (Report, error) {
	var report Report
	if d.indexExists() {
		if !force {
			return report, &IndexExistsError{Dir: d.root}
		}
		d.logger.Printf("Overwriting existing index at '%s'", d.indexPath)
		if err := os.Remove(d.indexPath); err != nil {
			return report, fmt.Errorf("failed to remove existing index: %w", err)
		}
	}

	groups, err := discover.Collect(d.root, d.warnDiscovery)
	if err != nil {
		return report, err
	}
	report.Total = len(groups)

	proc := racing.NewProcessor()
	results := d.extractAll(ctx, groups, proc)

	rows := make([]schema.Row, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, res := range results {
		row, err := buildRow(res, proc)
		if err != nil {
			report.skipGroup(res.group, err)
			continue
		}
		if seen[row.MarketID()] {
			report.skipGroup(res.group, ErrDuplicateMarketID)
			continue
		}
		seen[row.MarketID()] = true
		rows = append(rows, row)
	}

	store, err := db.Open(d.indexPath)
	if err != nil {
		return report, err
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		return report, err
	}
	if err := store.ReplaceAll(ctx, rows); err != nil {
		return report, err
	}
	report.Succeeded = len(rows)
	d.logger.Printf("Indexed %d markets (%d skipped)", report.Succeeded, len(report.Skipped))
	return report, nil
}

// buildRow maps one extraction result to an index row.
func buildRow(res extracted, proc *racing.Processor) (schema.Row, error) {
	if res.err != nil {
		return nil, res.err
	}
	return schema.BuildRow(res.doc, proc.Get(res.doc), res.group.MetadataFile, res.group.DataFile)
}

// Clean deletes every index row whose referenced files no longer exist
// on disk. Only existence is checked; file contents are never re-parsed,
// so a clean pass is cheap compared to a rebuild but cannot detect
// content changes to files that still exist.
//
// Succeeded counts the removed rows. Running Clean twice in a row is a
// no-op the second time.
func (d *DB) Clean(ctx context.Context) (Report, error) {
	var report Report
	if !d.indexExists() {
		return report, &IndexMissingError{Dir: d.root}
	}
	store, err := db.Open(d.indexPath)
	if err != nil {
		return report, err
	}
	defer store.Close()

	entries, err := store.Paths(ctx)
	if err != nil {
		return report, err
	}
	report.Total = len(entries)

	var stale []string
	for _, e := range entries {
		if pathExists(e.MetadataPath.String) || pathExists(e.DataPath.String) {
			continue
		}
		stale = append(stale, e.MarketID)
	}
	if err := store.DeleteRows(ctx, stale); err != nil {
		return report, err
	}
	report.Succeeded = len(stale)
	d.logger.Printf("Removed %d entries from the index", len(stale))
	return report, nil
}

// Select queries the index. columns defaults to all columns, where is an
// optional SQL predicate over the column set, limit <= 0 returns every
// match. Each row comes back as a column name to value mapping.
func (d *DB) Select(ctx context.Context, columns []string, where string, limit int) ([]map[string]any, error) {
	if !d.indexExists() {
		return nil, &IndexMissingError{Dir: d.root}
	}
	store, err := db.Open(d.indexPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Query(ctx, columns, where, limit)
}

// Size returns the number of indexed markets.
func (d *DB) Size(ctx context.Context) (int, error) {
	if !d.indexExists() {
		return 0, &IndexMissingError{Dir: d.root}
	}
	store, err := db.Open(d.indexPath)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.Count(ctx)
}

// Export writes the whole index to a CSV file and returns its path. dest
// may be a directory, in which case the file is named after the database
// directory.
func (d *DB) Export(ctx context.Context, dest string) (string, error) {
	rows, err := d.Select(ctx, nil, "", 0)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, filepath.Base(d.root)+".csv")
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	columns := schema.Columns()
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("failed to write export header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = formatCSVValue(row[col])
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush export file: %w", err)
	}
	d.logger.Printf("Exported %d rows to '%s'", len(rows), dest)
	return dest, nil
}

func formatCSVValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func (d *DB) warnDiscovery(path string, err error) {
	d.logger.Printf("Skipping unreadable entry '%s': %v", path, err)
}

func pathExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
