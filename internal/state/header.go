package state

import (
	"fmt"
	"strconv"
	"strings"
)

// Section markers written at the top of every checkpoint
const (
	RequiredHeader    = "Required:"
	NotRequiredHeader = "Not required:"
)

// Format renders the classification as header text, one entry per line.
// Both lists are sorted so identical classifications produce identical headers.
func Format(c *Classification) string {
	var b strings.Builder
	b.WriteString(RequiredHeader)
	for _, name := range c.RequiredNames() {
		b.WriteByte('\n')
		b.WriteString(name)
	}
	b.WriteByte('\n')
	b.WriteString(NotRequiredHeader)
	for _, e := range c.NotRequiredEntries() {
		fmt.Fprintf(&b, "\n%s (%d)", e.Name, e.Saved)
	}
	return b.String()
}

type section int

const (
	sectionNone section = iota
	sectionRequired
	sectionNotRequired
)

// Parse rebuilds a classification from header text. Blank lines are skipped.
// Lines before the first marker are ignored, and any other line ending in ':'
// closes the current section.
func Parse(header string) (*Classification, error) {
	c := New()
	sec := sectionNone

	for i, raw := range strings.Split(header, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch line {
		case RequiredHeader:
			sec = sectionRequired
			continue
		case NotRequiredHeader:
			sec = sectionNotRequired
			continue
		}
		if strings.HasSuffix(line, ":") {
			sec = sectionNone
			continue
		}

		switch sec {
		case sectionRequired:
			name := strings.Fields(line)[0]
			if err := c.MarkRequired(name); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		case sectionNotRequired:
			name, saved, err := parseEntry(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			if err := c.MarkNotRequired(name, saved); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		}
	}

	return c, nil
}

// parseEntry parses "<name> (<bytes>)"
func parseEntry(line string) (string, int64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("malformed not-required entry %q", line)
	}
	num := fields[1]
	if !strings.HasPrefix(num, "(") || !strings.HasSuffix(num, ")") {
		return "", 0, fmt.Errorf("malformed savings in %q", line)
	}
	saved, err := strconv.ParseInt(num[1:len(num)-1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed savings in %q: %w", line, err)
	}
	return fields[0], saved, nil
}
