// Package discover walks a directory tree of captured market files and
// pairs them into groups by market id.
//
// A market id has the form "<numeric>.<numeric>", e.g. "1.22334455". A
// metadata file is "<id>.json"; a data file is "<id>" with no extension or
// with a .zip, .gz or .bz2 suffix. Pairing happens strictly within one
// directory: the same id in two different directories yields two
// unrelated groups.
package discover

import (
	"os"
	"path/filepath"
	"regexp"
)

// marketFileRegex classifies directory entries. Group 1 is the market id,
// group 2 the recognised extension (empty for plain data files).
var marketFileRegex = regexp.MustCompile(`^(\d+\.\d+)(?:\.(json|zip|gz|bz2))?$`)

// Group pairs the files of one market id within one directory. At most
// one of MetadataFile and DataFile may be empty; discovery never produces
// a group with neither.
type Group struct {
	MarketID     string
	Dir          string
	MetadataFile string // empty when the metadata must be synthesized
	DataFile     string // empty for a metadata-only record
}

// WarnFunc receives non-fatal discovery problems, such as an unreadable
// directory. The walk continues after the callback returns.
type WarnFunc func(path string, err error)

// Walk traverses root and calls visit for every market file group found
// in the subtree. Traversal is lazy and deterministic: groups within a
// directory are visited in market id order before any subdirectory, and
// subdirectories are visited in lexicographic order.
//
// An unreadable directory is reported through warn (which may be nil) and
// skipped. Returning an error from visit stops the walk and propagates
// the error.
func Walk(root string, visit func(Group) error, warn WarnFunc) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if warn != nil {
			warn(root, err)
		}
		return nil
	}

	// os.ReadDir sorts entries by name, which gives both the group order
	// within the directory and the subdirectory order.
	groups := make(map[string]*Group)
	var order []string
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, filepath.Join(root, e.Name()))
			continue
		}
		id, isMetadata, ok := classify(e.Name())
		if !ok {
			continue
		}
		g := groups[id]
		if g == nil {
			g = &Group{MarketID: id, Dir: root}
			groups[id] = g
			order = append(order, id)
		}
		path := filepath.Join(root, e.Name())
		switch {
		case isMetadata:
			g.MetadataFile = path
		case g.DataFile == "":
			// A market with both a plain and a compressed data file
			// keeps the first one in name order.
			g.DataFile = path
		}
	}

	for _, id := range order {
		if err := visit(*groups[id]); err != nil {
			return err
		}
	}
	for _, sub := range subdirs {
		if err := Walk(sub, visit, warn); err != nil {
			return err
		}
	}
	return nil
}

// Collect runs Walk and returns all groups as a slice, in walk order.
func Collect(root string, warn WarnFunc) ([]Group, error) {
	var groups []Group
	err := Walk(root, func(g Group) error {
		groups = append(groups, g)
		return nil
	}, warn)
	return groups, err
}

// GroupFile builds the group for a single market file path, picking up a
// sibling metadata or data file when one exists next to it. Returns false
// when the path is not a market file.
func GroupFile(path string) (Group, bool) {
	dir := filepath.Dir(path)
	id, isMetadata, ok := classify(filepath.Base(path))
	if !ok {
		return Group{}, false
	}
	g := Group{MarketID: id, Dir: dir}
	if isMetadata {
		g.MetadataFile = path
		for _, suffix := range []string{"", ".zip", ".gz", ".bz2"} {
			sibling := filepath.Join(dir, id+suffix)
			if fileExists(sibling) {
				g.DataFile = sibling
				break
			}
		}
	} else {
		g.DataFile = path
		sibling := filepath.Join(dir, id+".json")
		if fileExists(sibling) {
			g.MetadataFile = sibling
		}
	}
	return g, true
}

// classify splits a file name into market id and role. ok is false for
// names that are not market files.
func classify(name string) (id string, isMetadata bool, ok bool) {
	m := marketFileRegex.FindStringSubmatch(name)
	if m == nil {
		return "", false, false
	}
	return m[1], m[2] == "json", true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
