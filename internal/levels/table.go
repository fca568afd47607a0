// Package levels holds the level table that maps cumulative XP to a level.
// The same definition is loaded by the award service and by clients.
package levels

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed levels.yaml
var defaultTable []byte

// Threshold is the cumulative XP needed to reach a level
type Threshold struct {
	Level      int    `json:"level" yaml:"level"`
	XPRequired int    `json:"xpRequired" yaml:"xp_required"`
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
}

// tableFile is the on-disk representation of the table
type tableFile struct {
	Version int         `yaml:"version"`
	Levels  []Threshold `yaml:"levels"`
}

// Table is an immutable, validated level table
type Table struct {
	version    int
	thresholds []Threshold
}

// Default returns the table compiled into the binary
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded level table is invalid: %v", err))
	}
	return t
}

// Load returns the table from path, or the embedded table when path is empty
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read level table: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML level table
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse level table: %w", err)
	}
	return New(f.Version, f.Levels)
}

// New validates thresholds and builds a table
func New(version int, thresholds []Threshold) (*Table, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("level table is empty")
	}

	for i, th := range thresholds {
		if th.Level != i+1 {
			return nil, fmt.Errorf("level %d out of order at position %d", th.Level, i)
		}
		if i == 0 {
			if th.XPRequired != 0 {
				return nil, fmt.Errorf("level 1 must require 0 xp, got %d", th.XPRequired)
			}
			continue
		}
		if th.XPRequired <= thresholds[i-1].XPRequired {
			return nil, fmt.Errorf("level %d requires %d xp, not above level %d (%d)",
				th.Level, th.XPRequired, th.Level-1, thresholds[i-1].XPRequired)
		}
	}

	copied := make([]Threshold, len(thresholds))
	copy(copied, thresholds)

	return &Table{version: version, thresholds: copied}, nil
}

// Version returns the table version
func (t *Table) Version() int {
	return t.version
}

// MaxLevel returns the terminal level
func (t *Table) MaxLevel() int {
	return len(t.thresholds)
}

// LevelFor returns the highest level whose threshold is at or below xp.
// XP below zero still resolves to level 1.
func (t *Table) LevelFor(xp int) int {
	// first index whose threshold exceeds xp
	i := sort.Search(len(t.thresholds), func(i int) bool {
		return t.thresholds[i].XPRequired > xp
	})
	if i == 0 {
		return 1
	}
	return t.thresholds[i-1].Level
}

// Threshold returns the entry for a level
func (t *Table) Threshold(level int) (Threshold, bool) {
	if level < 1 || level > len(t.thresholds) {
		return Threshold{}, false
	}
	return t.thresholds[level-1], true
}

// NextThreshold returns the XP required for the level after level.
// Returns false at the max level.
func (t *Table) NextThreshold(level int) (int, bool) {
	next, ok := t.Threshold(level + 1)
	if !ok {
		return 0, false
	}
	return next.XPRequired, true
}

// All returns a copy of every threshold in level order
func (t *Table) All() []Threshold {
	out := make([]Threshold, len(t.thresholds))
	copy(out, t.thresholds)
	return out
}
