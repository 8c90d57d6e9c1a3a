package minimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/kmin/internal/events"
	"github.com/steveyegge/kmin/internal/types"
)

// StopReason says why Run returned
type StopReason string

const (
	// StopExhausted is the normal end: no symbol can be disabled any more
	StopExhausted StopReason = "exhausted"
	// StopMaxIterations means the iteration budget ran out
	StopMaxIterations StopReason = "max_iterations"
	// StopMaxDuration means the time budget ran out
	StopMaxDuration StopReason = "max_duration"
	// StopCanceled means the context was canceled between iterations
	StopCanceled StopReason = "canceled"
	// StopFailed means a fatal error aborted the run
	StopFailed StopReason = "failed"
)

// Result summarizes a finished run
type Result struct {
	Reason     StopReason
	State      State
	Iterations []*types.Iteration
}

// Run builds the start configuration, then steps until no candidate is left,
// the budget runs out, or ctx is canceled. A canceled run returns ctx's error
// with everything confirmed so far already on disk.
func (e *Engine) Run(ctx context.Context, st State) (*Result, error) {
	required, notRequired := 0, 0
	if st.Class != nil {
		required, notRequired = st.Class.Counts()
	}
	message := "Starting from the seed configuration"
	if st.Resumed() {
		message = fmt.Sprintf("Resuming from checkpoint %d", st.Checkpoint)
	}
	e.emit(events.NewRunStartedEvent(message, events.RunStartedData{
		Resumed:         st.Resumed(),
		CheckpointIndex: st.Checkpoint,
		Required:        required,
		NotRequired:     notRequired,
	}))

	result := &Result{State: st}
	start := e.cfg.Now()

	st, err := e.Baseline(ctx, st)
	result.State = st
	if err != nil {
		return e.finish(result, StopFailed, err)
	}

	for {
		if reason, stop := e.budgetExceeded(start, len(result.Iterations)); stop {
			return e.finish(result, reason, nil)
		}
		if err := ctx.Err(); err != nil {
			return e.finish(result, StopCanceled, err)
		}

		next, it, err := e.Step(ctx, result.State)
		if errors.Is(err, ErrNoCandidate) {
			return e.finish(result, StopExhausted, nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(result, StopCanceled, err)
			}
			return e.finish(result, StopFailed, err)
		}
		result.State = next
		result.Iterations = append(result.Iterations, it)
	}
}

func (e *Engine) budgetExceeded(start time.Time, iterations int) (StopReason, bool) {
	if e.cfg.MaxIterations > 0 && iterations >= e.cfg.MaxIterations {
		return StopMaxIterations, true
	}
	if e.cfg.MaxDuration > 0 && e.cfg.Now().Sub(start) >= e.cfg.MaxDuration {
		return StopMaxDuration, true
	}
	return "", false
}

func (e *Engine) finish(result *Result, reason StopReason, err error) (*Result, error) {
	result.Reason = reason

	data := events.RunFinishedData{
		Reason:     string(reason),
		Iterations: len(result.Iterations),
		Size:       result.State.Size,
	}
	if class := result.State.Class; class != nil {
		data.Required, data.NotRequired = class.Counts()
		data.TotalSaved = class.TotalSaved()
	}

	severity := events.SeverityInfo
	var message string
	switch reason {
	case StopExhausted:
		message = "Done - no more symbols can be disabled"
	case StopMaxIterations:
		severity = events.SeverityWarning
		message = fmt.Sprintf("Stopped after %d iterations", data.Iterations)
	case StopMaxDuration:
		severity = events.SeverityWarning
		message = fmt.Sprintf("Stopped after %v", e.cfg.MaxDuration)
	case StopCanceled:
		severity = events.SeverityWarning
		message = "Interrupted"
	default:
		severity = events.SeverityError
		message = fmt.Sprintf("Aborted: %v", err)
	}
	e.emit(events.NewRunFinishedEvent(severity, message, data))
	return result, err
}
