// Package state tracks which symbols have been found required or not required
// and serializes that classification into the checkpoint header.
package state

import (
	"errors"
	"fmt"
	"sort"
)

// ErrConflict is returned when a mutation would break the classification invariants
var ErrConflict = errors.New("classification conflict")

// Status is the classification of a single symbol
type Status int

const (
	Undecided Status = iota
	Required
	NotRequired
)

func (s Status) String() string {
	switch s {
	case Required:
		return "required"
	case NotRequired:
		return "not-required"
	default:
		return "undecided"
	}
}

// Entry is one not-required symbol and the bytes its removal saved
type Entry struct {
	Name  string
	Saved int64
}

// Classification holds the two disjoint sets built up during a run.
// A symbol in Required never leaves it.
type Classification struct {
	required    map[string]struct{}
	notRequired map[string]int64
}

// New returns an empty classification
func New() *Classification {
	return &Classification{
		required:    make(map[string]struct{}),
		notRequired: make(map[string]int64),
	}
}

// Status returns the classification of name
func (c *Classification) Status(name string) Status {
	if _, ok := c.required[name]; ok {
		return Required
	}
	if _, ok := c.notRequired[name]; ok {
		return NotRequired
	}
	return Undecided
}

// IsRequired reports whether name is in the required set
func (c *Classification) IsRequired(name string) bool {
	_, ok := c.required[name]
	return ok
}

// MarkRequired adds name to the required set. Marking an already required
// symbol is a no-op; marking a not-required symbol is a conflict.
func (c *Classification) MarkRequired(name string) error {
	if name == "" {
		return fmt.Errorf("symbol name is required")
	}
	if saved, ok := c.notRequired[name]; ok {
		return fmt.Errorf("%w: %s already not required (%d bytes)", ErrConflict, name, saved)
	}
	c.required[name] = struct{}{}
	return nil
}

// MarkNotRequired records that lowering name saved the given number of bytes
func (c *Classification) MarkNotRequired(name string, saved int64) error {
	if name == "" {
		return fmt.Errorf("symbol name is required")
	}
	if saved <= 0 {
		return fmt.Errorf("%w: %s saved %d bytes, must be positive", ErrConflict, name, saved)
	}
	if _, ok := c.required[name]; ok {
		return fmt.Errorf("%w: %s already required", ErrConflict, name)
	}
	if prev, ok := c.notRequired[name]; ok {
		return fmt.Errorf("%w: %s already not required (%d bytes)", ErrConflict, name, prev)
	}
	c.notRequired[name] = saved
	return nil
}

// RequiredNames returns the required set sorted by name
func (c *Classification) RequiredNames() []string {
	names := make([]string, 0, len(c.required))
	for name := range c.required {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NotRequiredEntries returns the not-required map sorted by name
func (c *Classification) NotRequiredEntries() []Entry {
	entries := make([]Entry, 0, len(c.notRequired))
	for name, saved := range c.notRequired {
		entries = append(entries, Entry{Name: name, Saved: saved})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Saved returns the recorded savings for name
func (c *Classification) Saved(name string) (int64, bool) {
	saved, ok := c.notRequired[name]
	return saved, ok
}

// TotalSaved sums the savings of every not-required symbol
func (c *Classification) TotalSaved() int64 {
	var total int64
	for _, saved := range c.notRequired {
		total += saved
	}
	return total
}

// Counts returns the sizes of the required and not-required sets
func (c *Classification) Counts() (required, notRequired int) {
	return len(c.required), len(c.notRequired)
}

// Len returns the number of classified symbols
func (c *Classification) Len() int {
	return len(c.required) + len(c.notRequired)
}

// Clone returns a deep copy
func (c *Classification) Clone() *Classification {
	out := New()
	for name := range c.required {
		out.required[name] = struct{}{}
	}
	for name, saved := range c.notRequired {
		out.notRequired[name] = saved
	}
	return out
}

// Contains reports whether every symbol classified in other is classified the
// same way in c. Savings are not compared.
func (c *Classification) Contains(other *Classification) bool {
	for name := range other.required {
		if _, ok := c.required[name]; !ok {
			return false
		}
	}
	for name := range other.notRequired {
		if _, ok := c.notRequired[name]; !ok {
			return false
		}
	}
	return true
}
