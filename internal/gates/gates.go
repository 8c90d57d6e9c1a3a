// Package gates runs the two checks every candidate configuration must pass:
// the build gate (does it compile, and how big is the artifact) and the boot
// gate (does the artifact start and call home before the timeout).
package gates

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// GateType identifies a gate
type GateType string

const (
	GateBuild GateType = "build"
	GateBoot  GateType = "boot"
)

// ErrSpawn means a gate command could not be started at all. No further
// progress is possible without the tool, so callers treat it as fatal.
var ErrSpawn = errors.New("failed to start command")

// splitCommand splits a command line the way a Bourne shell would
func splitCommand(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	return argv, nil
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	max       int
	buf       []byte
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return len(p), nil
}

// String returns the kept output, starting at a line boundary when truncated
func (t *tailBuffer) String() string {
	if !t.truncated {
		return string(t.buf)
	}
	out := t.buf
	if i := bytes.IndexByte(out, '\n'); i >= 0 && i+1 < len(out) {
		out = out[i+1:]
	}
	return "... (truncated)\n" + strings.TrimLeft(string(out), "\n")
}
