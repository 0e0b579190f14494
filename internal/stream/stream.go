// Package stream reads market data files: newline-delimited streams of
// market change messages, stored either as plain text or inside a zip,
// gzip or bzip2 container.
//
// The package exposes exactly one capability over the container formats:
// reading the stream line by line. The container is selected once from the
// file extension and never branched on again downstream.
package stream

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

const (
	// MaxScanRecords bounds the number of leading records scanned when
	// looking for an embedded market definition. A data file that never
	// carries one fails with ErrMissingDefinition instead of being read
	// to the end.
	MaxScanRecords = 10000

	// Market change messages carry full runner books and can get very long.
	maxLineBytes = 16 << 20

	initialBufBytes = 64 << 10
)

var definitionToken = []byte(`"marketDefinition"`)

var (
	// ErrMissingDefinition is returned when a data file's stream was
	// scanned to the record cutoff without finding a market definition.
	ErrMissingDefinition = errors.New("market definition not found in data file")

	// ErrDefinitionParse is returned when a record that looks like it
	// carries a market definition is not valid JSON.
	ErrDefinitionParse = errors.New("cannot parse market definition")
)

// Kind identifies the container format of a market data file.
type Kind int

const (
	// KindNone is an uncompressed, plain text data file.
	KindNone Kind = iota
	// KindZip is a zip archive holding a single stream entry.
	KindZip
	// KindGzip is a gzip-compressed stream.
	KindGzip
	// KindBzip2 is a bzip2-compressed stream.
	KindBzip2
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindZip:
		return "zip"
	case KindGzip:
		return "gzip"
	case KindBzip2:
		return "bzip2"
	default:
		return "unknown"
	}
}

// DetectKind determines the container format from the file extension.
// Uncompressed data files have no real extension: their name is the market
// id itself, so any unrecognised suffix means plain text.
func DetectKind(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return KindZip
	case ".gz":
		return KindGzip
	case ".bz2":
		return KindBzip2
	default:
		return KindNone
	}
}

// Open returns a reader over the decompressed stream of the data file.
// The caller must close the returned reader; closing it releases every
// nested container handle.
func Open(path string) (io.ReadCloser, error) {
	switch DetectKind(path) {
	case KindZip:
		return openZip(path)
	case KindGzip:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		return &nestedReader{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case KindBzip2:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return &nestedReader{Reader: bzip2.NewReader(f), closers: []io.Closer{f}}, nil
	default:
		return os.Open(path)
	}
}

// openZip opens the stream entry inside a zip-compressed data file. The
// entry is conventionally named after the market id (the file's stem);
// if no entry matches, the first entry in the archive is used.
func openZip(path string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive %s: %w", path, err)
	}
	if len(zr.File) == 0 {
		_ = zr.Close()
		return nil, fmt.Errorf("zip archive %s contains no entries", path)
	}
	entry := zr.File[0]
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, f := range zr.File {
		if f.Name == stem {
			entry = f
			break
		}
	}
	rc, err := entry.Open()
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("failed to open zip entry %s: %w", entry.Name, err)
	}
	return &nestedReader{Reader: rc, closers: []io.Closer{rc, zr}}, nil
}

// nestedReader closes every layer of a container stack in order.
type nestedReader struct {
	io.Reader
	closers []io.Closer
}

func (r *nestedReader) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ScanDefinition scans the leading records of a market data file for the
// first embedded market definition and returns it with the market id
// injected from the enclosing market change message.
//
// Only as many records as necessary are read; the stream is never
// materialized in full. Scanning stops after MaxScanRecords records and
// returns ErrMissingDefinition, so a data file without a definition cannot
// cause an unbounded read.
func ScanDefinition(path string) (map[string]any, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, initialBufBytes), maxLineBytes)

	records := 0
	for records < MaxScanRecords && sc.Scan() {
		records++
		line := sc.Bytes()
		if !bytes.Contains(line, definitionToken) {
			continue
		}
		var msg changeMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDefinitionParse, path, err)
		}
		for _, mc := range msg.MC {
			if mc.MarketDefinition != nil {
				// Market id lives on the market change message,
				// not the definition itself.
				mc.MarketDefinition["marketId"] = mc.ID
				return mc.MarketDefinition, nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data file %s: %w", path, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingDefinition, path)
}

// changeMessage is the envelope of one stream record. Only the fields
// needed to recover the market definition are decoded.
type changeMessage struct {
	MC []struct {
		ID               string         `json:"id"`
		MarketDefinition map[string]any `json:"marketDefinition"`
	} `json:"mc"`
}
