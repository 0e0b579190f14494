package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mzaja/betfair-database/internal/db"
	"github.com/mzaja/betfair-database/internal/discover"
	"github.com/mzaja/betfair-database/internal/metadata"
	"github.com/mzaja/betfair-database/internal/racing"
	"github.com/mzaja/betfair-database/internal/schema"
)

// DuplicatePolicy decides what happens when inserted files collide with
// files already in the database directory.
type DuplicatePolicy string

const (
	// DuplicateSkip leaves existing files untouched and skips the
	// incoming market. The index is not updated.
	DuplicateSkip DuplicatePolicy = "skip"
	// DuplicateReplace overwrites existing files with incoming ones and
	// updates the index.
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateUpdate replaces the metadata file and updates the index,
	// but replaces the data file only when the incoming one is at least
	// as large. Larger captures supersede truncated ones.
	DuplicateUpdate DuplicatePolicy = "update"
)

// ParseDuplicatePolicy validates a policy name from configuration.
func ParseDuplicatePolicy(name string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(name); p {
	case DuplicateSkip, DuplicateReplace, DuplicateUpdate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", name)
	}
}

// ImportPattern maps a market's metadata to the subdirectory of the
// database root that its files are filed under during insert.
type ImportPattern func(doc metadata.Doc) string

// PatternFlat stores market files directly in the database root.
func PatternFlat(metadata.Doc) string { return "" }

// PatternEventID stores market files in directories named after the
// event id.
func PatternEventID(doc metadata.Doc) string {
	return doc.GetString("eventId")
}

// PatternBetfairHistorical files markets under
// "{year}/{month}/{day}/{event id}", e.g. "2022/Jun/6/3828473", keyed by
// settled time when available and start time otherwise. This is how
// official Betfair historical data archives are organised.
func PatternBetfairHistorical(doc metadata.Doc) string {
	ts := doc.GetString("marketSettledTime")
	if ts == "" {
		ts = doc.GetString("marketStartTime")
	}
	t, err := metadata.ParseTime(ts)
	if err != nil {
		return PatternEventID(doc)
	}
	return fmt.Sprintf("%d/%s/%d/%s",
		t.Year(), t.Month().String()[:3], t.Day(), doc.GetString("eventId"))
}

// ParseImportPattern resolves a pattern name from configuration.
func ParseImportPattern(name string) (ImportPattern, error) {
	switch name {
	case "flat":
		return PatternFlat, nil
	case "event-id":
		return PatternEventID, nil
	case "historical":
		return PatternBetfairHistorical, nil
	default:
		return nil, fmt.Errorf("unknown import pattern %q", name)
	}
}

// InsertOptions configures an Insert batch.
type InsertOptions struct {
	// Copy leaves the source files in place and copies them into the
	// database; the default is to move them.
	Copy bool
	// Pattern picks the destination subdirectory for each market. When
	// nil, files are indexed where they are, without moving or copying.
	Pattern ImportPattern
	// OnDuplicates decides how colliding destination files are handled.
	// Defaults to DuplicateUpdate.
	OnDuplicates DuplicatePolicy
}

// Insert extracts, maps and upserts the market file groups found at the
// given source paths. Each source may be a directory (walked recursively)
// or a single market file. A row whose market id is already indexed is
// replaced, never duplicated; an unparsable group is reported and skipped
// without affecting the rest of the batch.
//
// When opts.Pattern is set, the files are moved (or copied, with
// opts.Copy) into the database root first, and the index rows reference
// the destination paths.
//
// If the database has no index yet, a full rebuild runs first.
func (d *DB) Insert(ctx context.Context, sources []string, opts InsertOptions) (Report, error) {
	var report Report
	if opts.OnDuplicates == "" {
		opts.OnDuplicates = DuplicateUpdate
	}

	if !d.indexExists() {
		if _, err := d.Rebuild(ctx, false); err != nil {
			return report, err
		}
	}

	groups, err := collectSources(sources, d.warnDiscovery)
	if err != nil {
		return report, err
	}
	report.Total = len(groups)

	proc := racing.NewProcessor()
	results := d.extractAll(ctx, groups, proc)

	store, err := db.Open(d.indexPath)
	if err != nil {
		return report, err
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		return report, err
	}

	for _, res := range results {
		if res.err != nil {
			report.skipGroup(res.group, res.err)
			continue
		}
		group := res.group
		if opts.Pattern != nil {
			group, err = d.relocate(group, res.doc, opts)
			if err != nil {
				if errors.Is(err, ErrDuplicateFiles) {
					report.skipGroup(res.group, err)
					continue
				}
				return report, err
			}
		}
		row, err := schema.BuildRow(res.doc, proc.Get(res.doc), group.MetadataFile, group.DataFile)
		if err != nil {
			report.skipGroup(group, err)
			continue
		}
		if opts.OnDuplicates == DuplicateSkip && opts.Pattern == nil {
			// In-place inserts have no destination files to collide
			// on, so the skip policy falls back to the index itself.
			exists, err := store.Has(ctx, row.MarketID())
			if err != nil {
				return report, err
			}
			if exists {
				report.skipGroup(group, ErrDuplicateFiles)
				continue
			}
		}
		if err := store.UpsertRow(ctx, row); err != nil {
			return report, err
		}
		report.Succeeded++
	}
	d.logger.Printf("Inserted %d markets (%d skipped)", report.Succeeded, len(report.Skipped))
	return report, nil
}

// collectSources gathers file groups from a mix of directory and file
// sources, deduplicating by directory and market id.
func collectSources(sources []string, warn discover.WarnFunc) ([]discover.Group, error) {
	var groups []discover.Group
	seen := make(map[string]bool)
	add := func(g discover.Group) {
		key := g.Dir + "\x00" + g.MarketID
		if !seen[key] {
			seen[key] = true
			groups = append(groups, g)
		}
	}
	for _, src := range sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("source '%s' does not exist: %w", src, err)
		}
		if info.IsDir() {
			err := discover.Walk(abs, func(g discover.Group) error {
				add(g)
				return nil
			}, warn)
			if err != nil {
				return nil, err
			}
			continue
		}
		if g, ok := discover.GroupFile(abs); ok {
			add(g)
		}
	}
	return groups, nil
}

// relocate moves or copies a group's files into the database directory
// chosen by the import pattern and returns the group rewritten to the
// destination paths. Collisions are resolved per the duplicate policy;
// a skipped group is reported with ErrDuplicateFiles.
func (d *DB) relocate(g discover.Group, doc metadata.Doc, opts InsertOptions) (discover.Group, error) {
	destDir := filepath.Join(d.root, opts.Pattern(doc))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return g, fmt.Errorf("failed to create destination directory: %w", err)
	}

	out := g
	out.Dir = destDir
	for _, f := range []struct {
		src  string
		dest *string
	}{
		{g.MetadataFile, &out.MetadataFile},
		{g.DataFile, &out.DataFile},
	} {
		if f.src == "" {
			continue
		}
		dest := filepath.Join(destDir, filepath.Base(f.src))
		*f.dest = dest
		if dest == f.src {
			continue
		}
		if existing, err := os.Stat(dest); err == nil {
			switch opts.OnDuplicates {
			case DuplicateSkip:
				return g, fmt.Errorf("%w: %s", ErrDuplicateFiles, dest)
			case DuplicateUpdate:
				// Keep the existing data file when it is not
				// smaller than the incoming one.
				incoming, err := os.Stat(f.src)
				if err != nil {
					return g, err
				}
				if f.src == g.DataFile && existing.Size() >= incoming.Size() {
					continue
				}
			}
		}
		if err := transferFile(f.src, dest, opts.Copy); err != nil {
			return g, err
		}
	}
	return out, nil
}

// transferFile moves or copies src to dest, overwriting dest. Moves fall
// back to copy-and-remove across filesystems.
func transferFile(src, dest string, copyOnly bool) error {
	if !copyOnly {
		if err := os.Rename(src, dest); err == nil {
			return nil
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy '%s' to '%s': %w", src, dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize '%s': %w", dest, err)
	}
	if !copyOnly {
		if err := os.Remove(src); err != nil {
			return fmt.Errorf("failed to remove moved file '%s': %w", src, err)
		}
	}
	return nil
}
