package events

import (
	"context"
	"time"
)

// EventType represents the type of event that occurred during a minimization run.
type EventType string

const (
	// EventTypeRunStarted indicates a run started, fresh or resumed
	EventTypeRunStarted EventType = "run_started"
	// EventTypeBaselineBuilt indicates the reference build of the start configuration finished
	EventTypeBaselineBuilt EventType = "baseline_built"
	// EventTypeModulesSwept indicates module-valued symbols were lowered to off
	EventTypeModulesSwept EventType = "modules_swept"
	// EventTypeCandidateSelected indicates a symbol was picked for lowering
	EventTypeCandidateSelected EventType = "candidate_selected"
	// EventTypeBuildCompleted indicates the build gate finished for a candidate
	EventTypeBuildCompleted EventType = "build_completed"
	// EventTypeBootCompleted indicates the boot gate finished for a candidate
	EventTypeBootCompleted EventType = "boot_completed"
	// EventTypeSymbolRequired indicates a symbol was classified required
	EventTypeSymbolRequired EventType = "symbol_required"
	// EventTypeSymbolNotRequired indicates a symbol was classified not required
	EventTypeSymbolNotRequired EventType = "symbol_not_required"
	// EventTypeCheckpointWritten indicates a checkpoint file was persisted
	EventTypeCheckpointWritten EventType = "checkpoint_written"
	// EventTypeRunFinished indicates the run stopped
	EventTypeRunFinished EventType = "run_finished"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates a negative verdict or an early stop
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates the run aborted
	SeverityError EventSeverity = "error"
)

// RunEvent is one progress event emitted by the engine.
type RunEvent struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// RunID is the run that produced this event, empty until the sink assigns one
	RunID string `json:"run_id"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data"`
}

// RunStartedData contains structured data for run_started events.
type RunStartedData struct {
	// Resumed is true when the run continues from an existing checkpoint
	Resumed bool `json:"resumed"`
	// CheckpointIndex is the index of the checkpoint the run starts from, -1 for a fresh run
	CheckpointIndex int `json:"checkpoint_index"`
	// Required is the number of symbols already classified required
	Required int `json:"required"`
	// NotRequired is the number of symbols already classified not required
	NotRequired int `json:"not_required"`
}

// BaselineBuiltData contains structured data for baseline_built events.
type BaselineBuiltData struct {
	// Size is the artifact size of the start configuration in bytes
	Size int64 `json:"size"`
	// DurationMs is the build duration in milliseconds
	DurationMs int64 `json:"duration_ms"`
}

// ModulesSweptData contains structured data for modules_swept events.
type ModulesSweptData struct {
	// Symbols lists the symbols lowered from m to n
	Symbols []string `json:"symbols"`
}

// CandidateSelectedData contains structured data for candidate_selected events.
type CandidateSelectedData struct {
	// Iteration is the 1-based iteration number within the run
	Iteration int `json:"iteration"`
	// Symbol is the candidate symbol
	Symbol string `json:"symbol"`
	// Before is the value before lowering
	Before string `json:"before"`
	// After is the value the symbol was lowered to
	After string `json:"after"`
}

// BuildCompletedData contains structured data for build_completed events.
type BuildCompletedData struct {
	// Symbol is the candidate symbol
	Symbol string `json:"symbol"`
	// Passed is true when the build exited zero and produced the artifact
	Passed bool `json:"passed"`
	// Size is the artifact size in bytes, valid when Passed
	Size int64 `json:"size"`
	// ExitCode is the build exit code
	ExitCode int `json:"exit_code"`
	// DurationMs is the build duration in milliseconds
	DurationMs int64 `json:"duration_ms"`
}

// BootCompletedData contains structured data for boot_completed events.
type BootCompletedData struct {
	// Symbol is the candidate symbol
	Symbol string `json:"symbol"`
	// Outcome is "booted" or "timed_out"
	Outcome string `json:"outcome"`
	// ExitedEarly is true when the emulator exited without signalling
	ExitedEarly bool `json:"exited_early"`
	// DurationMs is the boot duration in milliseconds
	DurationMs int64 `json:"duration_ms"`
}

// SymbolClassifiedData contains structured data for symbol_required and
// symbol_not_required events. It carries the whole iteration record.
type SymbolClassifiedData struct {
	// Iteration is the 1-based iteration number within the run
	Iteration int `json:"iteration"`
	// Symbol is the classified symbol
	Symbol string `json:"symbol"`
	// Before is the value before lowering
	Before string `json:"before"`
	// After is the value the symbol was lowered to during the attempt
	After string `json:"after"`
	// SizeBefore is the confirmed artifact size before the attempt
	SizeBefore int64 `json:"size_before"`
	// SizeAfter is the artifact size of the attempt, 0 when the build failed
	SizeAfter int64 `json:"size_after"`
	// Saved is the number of bytes saved, only for not-required symbols
	Saved int64 `json:"saved"`
	// Verdict is the iteration verdict that decided the classification
	Verdict string `json:"verdict"`
	// Checkpoint is the checkpoint written for the iteration, -1 for none
	Checkpoint int `json:"checkpoint"`
	// DurationMs is the iteration duration in milliseconds
	DurationMs int64 `json:"duration_ms"`
}

// CheckpointWrittenData contains structured data for checkpoint_written events.
type CheckpointWrittenData struct {
	// Index is the checkpoint number
	Index int `json:"index"`
	// Path is the checkpoint file
	Path string `json:"path"`
	// TotalSaved is the sum of savings recorded in the checkpoint
	TotalSaved int64 `json:"total_saved"`
}

// RunFinishedData contains structured data for run_finished events.
type RunFinishedData struct {
	// Reason says why the run stopped
	Reason string `json:"reason"`
	// Iterations is the number of iterations performed by this run
	Iterations int `json:"iterations"`
	// Required is the final number of required symbols
	Required int `json:"required"`
	// NotRequired is the final number of not-required symbols
	NotRequired int `json:"not_required"`
	// TotalSaved is the sum of all savings
	TotalSaved int64 `json:"total_saved"`
	// Size is the last confirmed artifact size
	Size int64 `json:"size"`
}

// Sink receives events. Implementations must not block the engine for long.
type Sink interface {
	Emit(ctx context.Context, event *RunEvent) error
}
