// Package minimizer implements the greedy elimination loop. Each iteration
// lowers one symbol, builds, boots, and classifies the symbol as required or
// not required. Every confirmed shrink is persisted as a numbered checkpoint
// so an interrupted run can resume where it stopped.
package minimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/steveyegge/kmin/internal/checkpoint"
	"github.com/steveyegge/kmin/internal/events"
	"github.com/steveyegge/kmin/internal/gates"
	"github.com/steveyegge/kmin/internal/state"
	"github.com/steveyegge/kmin/internal/types"
)

// ErrNoCandidate means no symbol can be lowered any further. It is the
// normal end of a run.
var ErrNoCandidate = errors.New("no more symbols can be disabled")

// Model is the configuration model the engine drives
type Model interface {
	// Symbols returns snapshots in enumeration order
	Symbols() []types.Symbol
	Lookup(name string) (types.Symbol, bool)
	// SetValue assigns a value and propagates dependencies
	SetValue(name string, v types.Tristate) error
	// WriteConfig serializes the model with header as leading comment lines
	WriteConfig(w io.Writer, header string) error
}

// Builder is the build gate. The error is non-nil only when the build could
// not be run at all.
type Builder interface {
	Build(ctx context.Context) (*gates.BuildResult, error)
}

// Booter is the boot gate. The error is non-nil only when the emulator or
// listener could not be set up, or ctx was canceled.
type Booter interface {
	Boot(ctx context.Context) (*gates.BootResult, error)
}

// CheckpointWriter persists immutable numbered checkpoints
type CheckpointWriter interface {
	Write(index int, data []byte) (string, error)
}

// Config wires the engine to its collaborators
type Config struct {
	Model       Model
	Builder     Builder
	Booter      Booter
	Checkpoints CheckpointWriter
	ConfigPath  string      // working configuration read by the build
	Sink        events.Sink // optional

	// Optional budget; zero means unbounded
	MaxIterations int
	MaxDuration   time.Duration

	Now func() time.Time // optional, for tests
}

// State is everything the engine carries between iterations. It is passed
// to and returned from Step rather than kept inside the engine.
type State struct {
	Class      *state.Classification
	Size       int64 // last confirmed-good artifact size
	Checkpoint int   // highest checkpoint index written, -1 for none
	Iterations int   // iterations performed in this run
}

// FreshState is the state of a run starting from the seed configuration
func FreshState() State {
	return State{Class: state.New(), Checkpoint: -1}
}

// ResumeState is the state of a run continuing from a checkpoint
func ResumeState(index int, class *state.Classification) State {
	return State{Class: class, Checkpoint: index}
}

// Resumed reports whether the state continues from an existing checkpoint
func (s State) Resumed() bool {
	return s.Checkpoint >= 0 && s.Class != nil
}

// Engine runs the minimization
type Engine struct {
	cfg Config
}

// New validates the configuration and creates an engine
func New(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if cfg.Booter == nil {
		return nil, fmt.Errorf("booter is required")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint writer is required")
	}
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must be non-negative, got %d", cfg.MaxIterations)
	}
	if cfg.MaxDuration < 0 {
		return nil, fmt.Errorf("max duration must be non-negative, got %v", cfg.MaxDuration)
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg}, nil
}

// render serializes the model with the classification header
func (e *Engine) render(class *state.Classification) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.cfg.Model.WriteConfig(&buf, state.Format(class)); err != nil {
		return nil, fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// writeWorking rewrites the configuration the build reads
func (e *Engine) writeWorking(class *state.Classification) error {
	data, err := e.render(class)
	if err != nil {
		return err
	}
	if err := checkpoint.WriteFile(e.cfg.ConfigPath, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.cfg.ConfigPath, err)
	}
	return nil
}

func (e *Engine) writeCheckpoint(index int, class *state.Classification) error {
	data, err := e.render(class)
	if err != nil {
		return err
	}
	path, err := e.cfg.Checkpoints.Write(index, data)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint %d: %w", index, err)
	}
	e.emit(events.NewCheckpointWrittenEvent(fmt.Sprintf("Saved %s", path), events.CheckpointWrittenData{
		Index:      index,
		Path:       path,
		TotalSaved: class.TotalSaved(),
	}))
	return nil
}

// emit sends an event to the sink. Sink failures never stop the run.
// Delivery ignores cancellation so the last events of an interrupted run
// still reach the journal.
func (e *Engine) emit(event *events.RunEvent, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to create event: %v\n", err)
		return
	}
	if err := e.cfg.Sink.Emit(context.Background(), event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to emit %s event: %v\n", event.Type, err)
	}
}

// Baseline builds the start configuration to learn the confirmed-good size.
// The start configuration is assumed to boot. On a fresh run it is persisted
// as checkpoint 0.
func (e *Engine) Baseline(ctx context.Context, st State) (State, error) {
	if st.Class == nil {
		st.Class = state.New()
	}
	if err := e.writeWorking(st.Class); err != nil {
		return st, err
	}

	result, err := e.cfg.Builder.Build(ctx)
	if err != nil {
		return st, fmt.Errorf("reference build: %w", err)
	}
	if !result.Passed {
		return st, fmt.Errorf("reference build of the start configuration failed: %w", result.Error)
	}
	st.Size = result.Size
	e.emit(events.NewBaselineBuiltEvent(
		fmt.Sprintf("Reference build: %d bytes", result.Size),
		events.BaselineBuiltData{Size: result.Size, DurationMs: result.Duration.Milliseconds()},
	))

	if st.Checkpoint < 0 {
		if err := e.writeCheckpoint(0, st.Class); err != nil {
			return st, err
		}
		st.Checkpoint = 0
	}
	return st, nil
}

// sweep lowers every module-valued symbol whose lower bound is off, repeating
// until a full scan changes nothing
func (e *Engine) sweep() error {
	var swept []string
	for {
		changed := false
		for _, s := range e.cfg.Model.Symbols() {
			cur, ok := e.cfg.Model.Lookup(s.Name)
			if !ok || !cur.Type.IsTristateLike() || !cur.Assignable {
				continue
			}
			if cur.Value != types.Module || cur.LowerBound != types.Off {
				continue
			}
			if err := e.cfg.Model.SetValue(cur.Name, types.Off); err != nil {
				return fmt.Errorf("failed to lower module %s: %w", cur.Name, err)
			}
			swept = append(swept, cur.Name)
			changed = true
		}
		if !changed {
			break
		}
	}
	if len(swept) > 0 {
		e.emit(events.NewModulesSweptEvent(
			fmt.Sprintf("Lowered %d modules to 'n'", len(swept)),
			events.ModulesSweptData{Symbols: swept},
		))
	}
	return nil
}

// candidate returns the first symbol in enumeration order that can be lowered
// and has not been classified yet
func (e *Engine) candidate(class *state.Classification) (types.Symbol, bool) {
	for _, s := range e.cfg.Model.Symbols() {
		if s.CanBeLowered() && class.Status(s.Name) == state.Undecided {
			return s, true
		}
	}
	return types.Symbol{}, false
}

// Step performs one outer iteration: sweep, select, lower, build, boot and
// classify. It returns ErrNoCandidate when nothing is left to try. Any other
// error is fatal for the run. Oracle negatives are not errors; they restore
// the candidate and mark it required.
func (e *Engine) Step(ctx context.Context, st State) (State, *types.Iteration, error) {
	if err := ctx.Err(); err != nil {
		return st, nil, err
	}
	next := st
	next.Class = st.Class.Clone()

	if err := e.sweep(); err != nil {
		return st, nil, err
	}

	cand, ok := e.candidate(next.Class)
	if !ok {
		return st, nil, ErrNoCandidate
	}

	started := e.cfg.Now()
	next.Iterations++
	it := &types.Iteration{
		Number:     next.Iterations,
		Symbol:     cand.Name,
		Before:     cand.Value,
		After:      cand.LowerBound,
		SizeBefore: st.Size,
		Checkpoint: -1,
		StartedAt:  started,
	}

	if err := e.cfg.Model.SetValue(cand.Name, cand.LowerBound); err != nil {
		return st, nil, fmt.Errorf("failed to lower %s: %w", cand.Name, err)
	}
	e.emit(events.NewCandidateSelectedEvent(
		fmt.Sprintf("Lowering the value of %s from '%s' to '%s'", cand.Name, cand.Value, cand.LowerBound),
		events.CandidateSelectedData{
			Iteration: it.Number,
			Symbol:    cand.Name,
			Before:    cand.Value.String(),
			After:     cand.LowerBound.String(),
		},
	))

	if err := e.writeWorking(next.Class); err != nil {
		_ = e.restore(cand)
		return st, nil, err
	}

	build, err := e.cfg.Builder.Build(ctx)
	if err != nil {
		_ = e.restore(cand)
		return st, nil, fmt.Errorf("build for %s: %w", cand.Name, err)
	}
	if err := ctx.Err(); err != nil {
		// interrupted during the build: the result says nothing about the symbol
		_ = e.restore(cand)
		return st, nil, err
	}
	e.emit(events.NewBuildCompletedEvent(buildMessage(build, st.Size), events.BuildCompletedData{
		Symbol:     cand.Name,
		Passed:     build.Passed,
		Size:       build.Size,
		ExitCode:   build.ExitCode,
		DurationMs: build.Duration.Milliseconds(),
	}))

	switch {
	case !build.Passed:
		it.Verdict = types.VerdictBuildFailed
	case build.Size >= st.Size:
		it.SizeAfter = build.Size
		it.Verdict = types.VerdictNoShrink
	}
	if it.Verdict != "" {
		return e.reject(next, it, cand)
	}
	it.SizeAfter = build.Size

	boot, err := e.cfg.Booter.Boot(ctx)
	if err != nil {
		_ = e.restore(cand)
		return st, nil, fmt.Errorf("boot for %s: %w", cand.Name, err)
	}
	booted := boot.Outcome == types.Booted
	e.emit(events.NewBootCompletedEvent(bootMessage(boot), booted, events.BootCompletedData{
		Symbol:      cand.Name,
		Outcome:     boot.Outcome.String(),
		ExitedEarly: boot.ExitedEarly,
		DurationMs:  boot.Duration.Milliseconds(),
	}))
	if !booted {
		it.Verdict = types.VerdictBootFailed
		return e.reject(next, it, cand)
	}

	it.Verdict = types.VerdictNotRequired
	if err := next.Class.MarkNotRequired(cand.Name, it.Saved()); err != nil {
		_ = e.restore(cand)
		return st, nil, err
	}
	index := st.Checkpoint + 1
	if err := e.writeCheckpoint(index, next.Class); err != nil {
		// The classification is only confirmed once it is on disk
		_ = e.restore(cand)
		return st, nil, err
	}
	next.Size = build.Size
	next.Checkpoint = index
	it.Checkpoint = index
	it.Duration = e.cfg.Now().Sub(started)

	e.emit(events.NewSymbolClassifiedEvent(false,
		fmt.Sprintf("Boot successful! Disabling %s saved %d bytes.", cand.Name, it.Saved()),
		classifiedData(it),
	))
	return next, it, nil
}

// reject restores the candidate and classifies it required
func (e *Engine) reject(next State, it *types.Iteration, cand types.Symbol) (State, *types.Iteration, error) {
	if err := e.restore(cand); err != nil {
		return next, it, err
	}
	if err := next.Class.MarkRequired(cand.Name); err != nil {
		return next, it, err
	}
	it.Duration = e.cfg.Now().Sub(it.StartedAt)
	e.emit(events.NewSymbolClassifiedEvent(true, requiredMessage(it), classifiedData(it)))
	return next, it, nil
}

// restore puts the candidate back to its value before lowering
func (e *Engine) restore(cand types.Symbol) error {
	if err := e.cfg.Model.SetValue(cand.Name, cand.Value); err != nil {
		return fmt.Errorf("failed to restore %s to '%s': %w", cand.Name, cand.Value, err)
	}
	return nil
}

func classifiedData(it *types.Iteration) events.SymbolClassifiedData {
	return events.SymbolClassifiedData{
		Iteration:  it.Number,
		Symbol:     it.Symbol,
		Before:     it.Before.String(),
		After:      it.After.String(),
		SizeBefore: it.SizeBefore,
		SizeAfter:  it.SizeAfter,
		Saved:      it.Saved(),
		Verdict:    string(it.Verdict),
		Checkpoint: it.Checkpoint,
		DurationMs: it.Duration.Milliseconds(),
	}
}

func buildMessage(r *gates.BuildResult, confirmed int64) string {
	if !r.Passed {
		return fmt.Sprintf("Build failed (exit code %d)", r.ExitCode)
	}
	if r.Size >= confirmed {
		return fmt.Sprintf("Build did not shrink the artifact (%d >= %d bytes)", r.Size, confirmed)
	}
	return fmt.Sprintf("Build succeeded: %d bytes", r.Size)
}

func bootMessage(r *gates.BootResult) string {
	switch {
	case r.Outcome == types.Booted:
		return fmt.Sprintf("Boot signal received from %s", r.Peer)
	case r.ExitedEarly:
		return "Emulator exited before the boot signal"
	default:
		return "Timed out waiting for the boot signal"
	}
}

func requiredMessage(it *types.Iteration) string {
	switch it.Verdict {
	case types.VerdictBuildFailed:
		return fmt.Sprintf("Build failed, %s is required", it.Symbol)
	case types.VerdictNoShrink:
		return fmt.Sprintf("Disabling %s did not reduce the size, it is required", it.Symbol)
	default:
		return fmt.Sprintf("Boot failed, %s is required", it.Symbol)
	}
}
