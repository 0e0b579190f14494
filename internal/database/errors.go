package database

import (
	"errors"
	"fmt"
)

// DirectoryError indicates the database root path is not an existing
// directory. Raised before any work begins.
type DirectoryError struct {
	Dir string
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("'%s' does not exist or is not a directory", e.Dir)
}

// IndexMissingError indicates an operation that requires an index was
// called on a directory that has none.
type IndexMissingError struct {
	Dir string
}

func (e *IndexMissingError) Error() string {
	return fmt.Sprintf("database index not found in '%s'; index the database, then try again", e.Dir)
}

// IndexExistsError indicates Rebuild was called without force on a
// directory that already has an index.
type IndexExistsError struct {
	Dir string
}

func (e *IndexExistsError) Error() string {
	return fmt.Sprintf("database index already exists in '%s'; use force to reindex", e.Dir)
}

// ErrDuplicateMarketID marks the second and later occurrences of a market
// id during a rebuild. The first-discovered group wins; the rest are
// skipped with this reason.
var ErrDuplicateMarketID = errors.New("duplicate market id")

// ErrDuplicateFiles marks an insert skipped because the destination files
// already exist and the duplicate policy says not to touch them.
var ErrDuplicateFiles = errors.New("destination files already exist")

// errNoFilesInGroup flags a discovery invariant violation: a group must
// reference at least one file.
var errNoFilesInGroup = errors.New("internal: file group references no files")
