package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/steveyegge/kmin/internal/events"
)

// consoleSink prints run events in a two-line format: the event itself,
// then a gray line of key metadata
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

// Emit implements events.Sink
func (s *consoleSink) Emit(_ context.Context, event *events.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	displayRunEvent(s.out, event)
	return nil
}

// displayRunEvent writes one event
func displayRunEvent(w io.Writer, event *events.RunEvent) {
	if event.Type == events.EventTypeRunStarted {
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Fprintf(w, "\n%s\n", cyan("=== kmin ==="))
	}

	emoji := getEventEmoji(event)
	timestamp := event.Timestamp.Format("15:04:05")
	eventType := color.New(color.FgMagenta).Sprint(event.Type)

	// Iteration number stands in front of per-candidate events
	prefix := ""
	if n := getIntField(event.Data, "iteration", 0); n > 0 {
		prefix = color.New(color.FgGreen).Sprintf("#%d ", n)
	}

	maxMessageLen := 70 - len(string(event.Type))
	message := truncateString(event.Message, maxMessageLen)

	fmt.Fprintf(w, "%s [%s] %s%s: %s\n",
		emoji,
		timestamp,
		prefix,
		eventType,
		getEventColor(event).Sprint(message),
	)

	if metadata := extractEventMetadata(event); metadata != "" {
		gray := color.New(color.FgHiBlack)
		fmt.Fprintf(w, "  %s\n", gray.Sprint(metadata))
	}
}

// getEventEmoji returns the icon for each event type
func getEventEmoji(event *events.RunEvent) string {
	switch event.Type {
	case events.EventTypeRunStarted:
		return "🚀"
	case events.EventTypeBaselineBuilt, events.EventTypeBuildCompleted:
		if event.Severity != events.SeverityInfo {
			return "❌"
		}
		return "🔨"
	case events.EventTypeModulesSwept:
		return "🧹"
	case events.EventTypeCandidateSelected:
		return "🔍"
	case events.EventTypeBootCompleted:
		if event.Severity != events.SeverityInfo {
			return "⏱️"
		}
		return "🖥️"
	case events.EventTypeSymbolNotRequired:
		return "✅"
	case events.EventTypeSymbolRequired:
		return "📌"
	case events.EventTypeCheckpointWritten:
		return "💾"
	case events.EventTypeRunFinished:
		return "🏁"
	}

	switch event.Severity {
	case events.SeverityWarning:
		return "⚠️"
	case events.SeverityError:
		return "❌"
	default:
		return "•"
	}
}

// getEventColor colors the message line. Classifications get their own
// colors; everything else follows severity.
func getEventColor(event *events.RunEvent) *color.Color {
	switch event.Type {
	case events.EventTypeSymbolNotRequired:
		return color.New(color.FgGreen)
	case events.EventTypeSymbolRequired:
		return color.New(color.FgRed)
	}
	return getSeverityColor(event.Severity)
}

// getSeverityColor returns the appropriate color for a severity level
func getSeverityColor(severity events.EventSeverity) *color.Color {
	switch severity {
	case events.SeverityInfo:
		return color.New(color.FgCyan)
	case events.SeverityWarning:
		return color.New(color.FgYellow)
	case events.SeverityError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}

// extractEventMetadata picks the key fields of each event type, pipe-separated
func extractEventMetadata(event *events.RunEvent) string {
	var fields []string

	switch event.Type {
	case events.EventTypeRunStarted:
		// run_started: fresh/resumed | required | not required
		start := "fresh"
		if getBoolField(event.Data, "resumed", false) {
			start = fmt.Sprintf("resumed at %d", getIntField(event.Data, "checkpoint_index", 0))
		}
		required := fmt.Sprintf("%d required", getIntField(event.Data, "required", 0))
		notRequired := fmt.Sprintf("%d not required", getIntField(event.Data, "not_required", 0))
		fields = []string{start, required, notRequired}

	case events.EventTypeBaselineBuilt:
		// baseline: size | duration
		size := formatBytes(getInt64Field(event.Data, "size", 0))
		duration := formatDurationMs(getIntField(event.Data, "duration_ms", 0))
		fields = []string{size, duration}

	case events.EventTypeModulesSwept:
		// modules_swept: count | names
		names := getStringsField(event.Data, "symbols")
		fields = []string{fmt.Sprintf("%d symbols", len(names)), truncateString(strings.Join(names, ","), 50)}

	case events.EventTypeCandidateSelected:
		// candidate: symbol | before -> after
		symbol := getStringField(event.Data, "symbol", "")
		change := getStringField(event.Data, "before", "?") + " -> " + getStringField(event.Data, "after", "?")
		fields = []string{symbol, change}

	case events.EventTypeBuildCompleted:
		// build: passed | size | exit code | duration
		passed := "✓ passed"
		if !getBoolField(event.Data, "passed", false) {
			passed = "✗ failed"
		}
		fields = []string{passed}
		if size := getInt64Field(event.Data, "size", 0); size > 0 {
			fields = append(fields, formatBytes(size))
		}
		if code := getIntField(event.Data, "exit_code", 0); code != 0 {
			fields = append(fields, fmt.Sprintf("exit %d", code))
		}
		fields = append(fields, formatDurationMs(getIntField(event.Data, "duration_ms", 0)))

	case events.EventTypeBootCompleted:
		// boot: outcome | exited early | duration
		fields = []string{getStringField(event.Data, "outcome", "unknown")}
		if getBoolField(event.Data, "exited_early", false) {
			fields = append(fields, "emulator exited early")
		}
		fields = append(fields, formatDurationMs(getIntField(event.Data, "duration_ms", 0)))

	case events.EventTypeSymbolRequired, events.EventTypeSymbolNotRequired:
		// classified: verdict | saved | checkpoint | duration
		fields = []string{getStringField(event.Data, "verdict", "unknown")}
		if saved := getInt64Field(event.Data, "saved", 0); saved > 0 {
			fields = append(fields, "saved "+formatBytes(saved))
		}
		if cp := getIntField(event.Data, "checkpoint", -1); cp >= 0 {
			fields = append(fields, fmt.Sprintf("checkpoint %d", cp))
		}
		fields = append(fields, formatDurationMs(getIntField(event.Data, "duration_ms", 0)))

	case events.EventTypeCheckpointWritten:
		// checkpoint: path | total saved
		path := truncateString(getStringField(event.Data, "path", ""), 40)
		total := formatBytes(getInt64Field(event.Data, "total_saved", 0)) + " saved so far"
		fields = []string{path, total}

	case events.EventTypeRunFinished:
		// finished: reason | iterations | required | not required | saved
		reason := getStringField(event.Data, "reason", "unknown")
		iterations := fmt.Sprintf("%d iterations", getIntField(event.Data, "iterations", 0))
		required := fmt.Sprintf("%d required", getIntField(event.Data, "required", 0))
		notRequired := fmt.Sprintf("%d not required", getIntField(event.Data, "not_required", 0))
		saved := formatBytes(getInt64Field(event.Data, "total_saved", 0)) + " saved"
		fields = []string{reason, iterations, required, notRequired, saved}
	}

	if len(fields) == 0 {
		return ""
	}
	return truncateString(joinFields(fields), 76)
}

// Helper functions to safely extract typed fields from event data
func getStringField(data map[string]interface{}, key, defaultValue string) string {
	if val, ok := data[key].(string); ok {
		return val
	}
	return defaultValue
}

func getIntField(data map[string]interface{}, key string, defaultValue int) int {
	return int(getInt64Field(data, key, int64(defaultValue)))
}

func getInt64Field(data map[string]interface{}, key string, defaultValue int64) int64 {
	switch val := data[key].(type) {
	case int:
		return int64(val)
	case int64:
		return val
	case float64:
		return int64(val)
	}
	return defaultValue
}

func getBoolField(data map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := data[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringsField accepts both []string and the []interface{} a JSON round trip produces
func getStringsField(data map[string]interface{}, key string) []string {
	switch val := data[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// formatDurationMs formats milliseconds into a human-readable duration
func formatDurationMs(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%.1fm", float64(ms)/60000)
}

// formatBytes formats a byte count with a binary unit
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit && n > -unit {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n)
	suffixes := []string{"KiB", "MiB", "GiB"}
	i := -1
	for (value >= unit || value <= -unit) && i < len(suffixes)-1 {
		value /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", value, suffixes[i])
}

func joinFields(fields []string) string {
	var nonEmpty []string
	for _, f := range fields {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	return strings.Join(nonEmpty, " | ")
}

// truncateString shortens s to maxLen runes, ending in "..."
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
