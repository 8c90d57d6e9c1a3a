package events

import (
	"time"

	"github.com/google/uuid"
)

func newEvent(eventType EventType, severity EventSeverity, message string) *RunEvent {
	return &RunEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
		Data:      make(map[string]interface{}),
	}
}

// NewRunStartedEvent creates a new RunEvent for the start of a run with type-safe data.
func NewRunStartedEvent(message string, data RunStartedData) (*RunEvent, error) {
	event := newEvent(EventTypeRunStarted, SeverityInfo, message)
	if err := event.SetRunStartedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewBaselineBuiltEvent creates a new RunEvent for the reference build with type-safe data.
func NewBaselineBuiltEvent(message string, data BaselineBuiltData) (*RunEvent, error) {
	event := newEvent(EventTypeBaselineBuilt, SeverityInfo, message)
	if err := event.SetBaselineBuiltData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewModulesSweptEvent creates a new RunEvent for a module sweep with type-safe data.
func NewModulesSweptEvent(message string, data ModulesSweptData) (*RunEvent, error) {
	event := newEvent(EventTypeModulesSwept, SeverityInfo, message)
	if err := event.SetModulesSweptData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewCandidateSelectedEvent creates a new RunEvent for a selected candidate with type-safe data.
func NewCandidateSelectedEvent(message string, data CandidateSelectedData) (*RunEvent, error) {
	event := newEvent(EventTypeCandidateSelected, SeverityInfo, message)
	if err := event.SetCandidateSelectedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewBuildCompletedEvent creates a new RunEvent for a finished build with type-safe data.
// A failed build is reported as a warning.
func NewBuildCompletedEvent(message string, data BuildCompletedData) (*RunEvent, error) {
	severity := SeverityInfo
	if !data.Passed {
		severity = SeverityWarning
	}
	event := newEvent(EventTypeBuildCompleted, severity, message)
	if err := event.SetBuildCompletedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewBootCompletedEvent creates a new RunEvent for a finished boot with type-safe data.
// A boot without the signal is reported as a warning.
func NewBootCompletedEvent(message string, booted bool, data BootCompletedData) (*RunEvent, error) {
	severity := SeverityInfo
	if !booted {
		severity = SeverityWarning
	}
	event := newEvent(EventTypeBootCompleted, severity, message)
	if err := event.SetBootCompletedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewSymbolClassifiedEvent creates a symbol_required or symbol_not_required event.
func NewSymbolClassifiedEvent(required bool, message string, data SymbolClassifiedData) (*RunEvent, error) {
	eventType := EventTypeSymbolNotRequired
	if required {
		eventType = EventTypeSymbolRequired
	}
	event := newEvent(eventType, SeverityInfo, message)
	if err := event.SetSymbolClassifiedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewCheckpointWrittenEvent creates a new RunEvent for a persisted checkpoint with type-safe data.
func NewCheckpointWrittenEvent(message string, data CheckpointWrittenData) (*RunEvent, error) {
	event := newEvent(EventTypeCheckpointWritten, SeverityInfo, message)
	if err := event.SetCheckpointWrittenData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewRunFinishedEvent creates a new RunEvent for the end of a run with type-safe data.
func NewRunFinishedEvent(severity EventSeverity, message string, data RunFinishedData) (*RunEvent, error) {
	event := newEvent(EventTypeRunFinished, severity, message)
	if err := event.SetRunFinishedData(data); err != nil {
		return nil, err
	}
	return event, nil
}
