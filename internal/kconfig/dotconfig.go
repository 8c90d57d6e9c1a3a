package kconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/steveyegge/kmin/internal/types"
)

// Prefix is prepended to every symbol name in .config files
const Prefix = "CONFIG_"

const unsetSuffix = " is not set"

type assignment struct {
	line  int
	name  string
	value string
	unset bool
}

type dotConfig struct {
	header      string
	assignments []assignment
}

// parseDotConfig splits a .config stream into its header and assignments.
// The header is the run of comment lines at the very top of the file, ended by
// a blank line, an assignment or a "# CONFIG_X is not set" line.
func parseDotConfig(r io.Reader) (*dotConfig, error) {
	out := &dotConfig{}
	var header []string
	inHeader := true

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		if a, ok := parseUnset(line); ok {
			a.line = lineNo
			out.assignments = append(out.assignments, a)
			inHeader = false
			continue
		}

		if strings.HasPrefix(line, "#") {
			if inHeader {
				text := strings.TrimPrefix(line, "#")
				header = append(header, strings.TrimPrefix(text, " "))
			}
			continue
		}

		if strings.TrimSpace(line) == "" {
			inHeader = false
			continue
		}
		inHeader = false

		name, value, ok := strings.Cut(line, "=")
		if !ok || !strings.HasPrefix(name, Prefix) || len(name) == len(Prefix) {
			return nil, fmt.Errorf("line %d: malformed assignment %q", lineNo, line)
		}
		out.assignments = append(out.assignments, assignment{
			line:  lineNo,
			name:  strings.TrimPrefix(name, Prefix),
			value: value,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out.header = strings.Join(header, "\n")
	return out, nil
}

func parseUnset(line string) (assignment, bool) {
	if !strings.HasPrefix(line, "# "+Prefix) || !strings.HasSuffix(line, unsetSuffix) {
		return assignment{}, false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(line, "# "+Prefix), unsetSuffix)
	if name == "" || strings.ContainsAny(name, " \t") {
		return assignment{}, false
	}
	return assignment{name: name, unset: true}, true
}

// inferType guesses the type of a symbol that has no declaration
func inferType(a assignment) types.SymbolType {
	switch {
	case a.unset, a.value == "y", a.value == "n":
		return types.TypeBool
	case a.value == "m":
		return types.TypeTristate
	case strings.HasPrefix(a.value, `"`):
		return types.TypeString
	case strings.HasPrefix(a.value, "0x"), strings.HasPrefix(a.value, "0X"):
		return types.TypeHex
	}
	if _, err := strconv.ParseInt(a.value, 10, 64); err == nil {
		return types.TypeInt
	}
	return types.TypeString
}

// ReadHeader returns only the header block of a .config file
func ReadHeader(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	parsed, err := parseDotConfig(f)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return parsed.header, nil
}

// WriteConfig serializes the configuration with header as a leading comment block
func (c *Config) WriteConfig(w io.Writer, header string) error {
	bw := bufio.NewWriter(w)

	if header != "" {
		for _, line := range strings.Split(header, "\n") {
			if line == "" {
				bw.WriteString("#\n")
				continue
			}
			bw.WriteString("# " + line + "\n")
		}
		bw.WriteString("\n")
	}

	for _, s := range c.order {
		name := Prefix + s.decl.Name
		if !s.decl.Type.IsTristateLike() {
			if s.hasRaw {
				fmt.Fprintf(bw, "%s=%s\n", name, s.raw)
			}
			continue
		}
		if s.value == types.Off {
			fmt.Fprintf(bw, "# %s%s\n", name, unsetSuffix)
			continue
		}
		fmt.Fprintf(bw, "%s=%s\n", name, s.value)
	}

	return bw.Flush()
}
