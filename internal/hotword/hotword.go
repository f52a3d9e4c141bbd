// Package hotword holds the process-wide hotword bias table.
package hotword

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

type Entry struct {
	Text   string
	Weight int32
}

// Table maps hotword text to its bias weight. A Table is never modified
// after construction and is safe for concurrent reads.
type Table struct {
	weights map[string]int32
}

// NewTable builds a table from entries. The first entry for a given text wins.
func NewTable(entries []Entry) *Table {
	weights := make(map[string]int32, len(entries))
	for _, e := range entries {
		if _, exists := weights[e.Text]; exists {
			continue
		}
		weights[e.Text] = e.Weight
	}
	return &Table{weights: weights}
}

func Empty() *Table {
	return &Table{weights: map[string]int32{}}
}

func (t *Table) Weight(text string) (int32, bool) {
	if t == nil {
		return 0, false
	}
	w, ok := t.weights[text]
	return w, ok
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.weights)
}

// Entries returns the table contents sorted by text.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, 0, len(t.weights))
	for _, text := range slices.Sorted(maps.Keys(t.weights)) {
		out = append(out, Entry{Text: text, Weight: t.weights[text]})
	}
	return out
}

// Map returns a copy of the text to weight mapping.
func (t *Table) Map() map[string]int32 {
	if t == nil {
		return map[string]int32{}
	}
	return maps.Clone(t.weights)
}

// Merge returns a new table holding t overlaid with override.
func (t *Table) Merge(override *Table) *Table {
	merged := t.Map()
	if override != nil {
		maps.Copy(merged, override.weights)
	}
	return &Table{weights: merged}
}

// ParseLine splits "some words 30" into its text and weight. A line without
// a trailing integer gets defaultWeight.
func ParseLine(line string, defaultWeight int32) (Entry, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	if len(fields) == 1 {
		return Entry{Text: fields[0], Weight: defaultWeight}, true, nil
	}
	last := fields[len(fields)-1]
	w, err := strconv.ParseInt(last, 10, 32)
	if err != nil {
		if isNumeric(last) {
			return Entry{}, false, fmt.Errorf("invalid hotword weight %q", last)
		}
		return Entry{Text: strings.Join(fields, " "), Weight: defaultWeight}, true, nil
	}
	return Entry{Text: strings.Join(fields[:len(fields)-1], " "), Weight: int32(w)}, true, nil
}

func isNumeric(s string) bool {
	s = strings.TrimLeft(s, "+-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// Loader reads a hotword table from a resource path.
type Loader interface {
	Load(path string) (*Table, error)
}

// LoadWarning marks a non-fatal load failure; the table returned alongside
// it is empty but usable.
type LoadWarning struct {
	Path string
	Err  error
}

func (w *LoadWarning) Error() string {
	return fmt.Sprintf("hotword file %q unavailable: %v", w.Path, w.Err)
}

func (w *LoadWarning) Unwrap() error {
	return w.Err
}
