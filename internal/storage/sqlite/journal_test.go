package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/kmin/internal/events"
	"github.com/steveyegge/kmin/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "history", "kmin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func mustEvent(t *testing.T) func(*events.RunEvent, error) *events.RunEvent {
	return func(e *events.RunEvent, err error) *events.RunEvent {
		t.Helper()
		require.NoError(t, err)
		return e
	}
}

func TestJournal_RecordsRunFromEvents(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	ev := mustEvent(t)

	sequence := []*events.RunEvent{
		ev(events.NewRunStartedEvent("Resuming from checkpoint 3", events.RunStartedData{Resumed: true, CheckpointIndex: 3, Required: 2, NotRequired: 3})),
		ev(events.NewBaselineBuiltEvent("Reference build: 1000 bytes", events.BaselineBuiltData{Size: 1000})),
		ev(events.NewCandidateSelectedEvent("Lowering the value of X from 'y' to 'n'", events.CandidateSelectedData{Iteration: 1, Symbol: "X", Before: "y", After: "n"})),
		ev(events.NewCheckpointWrittenEvent("Saved configs/config_4", events.CheckpointWrittenData{Index: 4, Path: "configs/config_4", TotalSaved: 100})),
		ev(events.NewSymbolClassifiedEvent(false, "Boot successful! Disabling X saved 100 bytes.", events.SymbolClassifiedData{
			Iteration: 1, Symbol: "X", Before: "y", After: "n", SizeBefore: 1000, SizeAfter: 900, Saved: 100,
			Verdict: string(types.VerdictNotRequired), Checkpoint: 4, DurationMs: 1500,
		})),
		ev(events.NewSymbolClassifiedEvent(true, "Boot failed, Z is required", events.SymbolClassifiedData{
			Iteration: 2, Symbol: "Z", Before: "y", After: "n", SizeBefore: 900, SizeAfter: 850,
			Verdict: string(types.VerdictBootFailed), Checkpoint: -1,
		})),
		ev(events.NewRunFinishedEvent(events.SeverityInfo, "Done - no more symbols can be disabled", events.RunFinishedData{
			Reason: "exhausted", Iterations: 2, Required: 3, NotRequired: 4, TotalSaved: 100, Size: 900,
		})),
	}
	for _, e := range sequence {
		require.NoError(t, j.Emit(ctx, e))
		assert.NotEmpty(t, e.RunID, "journal stamps the run id")
	}

	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, j.RunID(), run.ID)
	assert.True(t, run.Resumed)
	assert.Equal(t, 3, run.StartCheckpoint)
	assert.Equal(t, "exhausted", run.Reason)
	assert.Equal(t, "Done - no more symbols can be disabled", run.Message)
	assert.Equal(t, 2, run.Iterations)
	assert.Equal(t, int64(100), run.TotalSaved)
	assert.Equal(t, int64(900), run.FinalSize)
	require.NotNil(t, run.FinishedAt)

	its, err := j.ListIterations(ctx, IterationFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, its, 2)
	assert.Equal(t, "X", its[0].Symbol)
	assert.Equal(t, types.VerdictNotRequired, its[0].Verdict)
	assert.Equal(t, int64(100), its[0].Saved)
	assert.Equal(t, 4, its[0].Checkpoint)
	assert.Equal(t, 1500*time.Millisecond, its[0].Duration)
	assert.Equal(t, types.VerdictBootFailed, its[1].Verdict)
	assert.Equal(t, -1, its[1].Checkpoint)

	n, err := j.CountEvents(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, len(sequence), n)
}

func TestJournal_RejectsEventsBeforeRun(t *testing.T) {
	j := newTestJournal(t)
	e, err := events.NewBaselineBuiltEvent("Reference build", events.BaselineBuiltData{Size: 1})
	require.NoError(t, err)
	assert.Error(t, j.Emit(context.Background(), e))
}

func TestJournal_Filters(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	first, err := j.StartRun(ctx, time.Now().Add(-time.Hour), events.RunStartedData{CheckpointIndex: -1})
	require.NoError(t, err)
	second, err := j.StartRun(ctx, time.Now(), events.RunStartedData{Resumed: true, CheckpointIndex: 1})
	require.NoError(t, err)

	records := []*IterationRecord{
		{RunID: first, Number: 1, Symbol: "NET", Before: "y", After: "n", SizeBefore: 1000, SizeAfter: 900, Saved: 100, Verdict: types.VerdictNotRequired, Checkpoint: 1},
		{RunID: first, Number: 2, Symbol: "TTY", Before: "y", After: "n", SizeBefore: 900, Verdict: types.VerdictBuildFailed, Checkpoint: -1},
		{RunID: second, Number: 1, Symbol: "SND", Before: "y", After: "n", SizeBefore: 900, SizeAfter: 900, Verdict: types.VerdictNoShrink, Checkpoint: -1},
	}
	for _, rec := range records {
		rec.RecordedAt = time.Now()
		require.NoError(t, j.RecordIteration(ctx, rec))
	}

	all, err := j.ListIterations(ctx, IterationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"NET", "TTY", "SND"}, []string{all[0].Symbol, all[1].Symbol, all[2].Symbol}, "oldest run first")

	bySymbol, err := j.ListIterations(ctx, IterationFilter{Symbol: "TTY"})
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)
	assert.Equal(t, types.VerdictBuildFailed, bySymbol[0].Verdict)

	byVerdict, err := j.ListIterations(ctx, IterationFilter{Verdict: types.VerdictNoShrink})
	require.NoError(t, err)
	require.Len(t, byVerdict, 1)
	assert.Equal(t, second, byVerdict[0].RunID)

	limited, err := j.ListIterations(ctx, IterationFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	runs, err := j.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, second, runs[0].ID, "newest run first")
	assert.Nil(t, runs[0].FinishedAt)

	assert.Error(t, j.RecordIteration(ctx, &IterationRecord{RunID: first, Number: 9, Symbol: "X", Verdict: "maybe"}))
	assert.Error(t, j.RecordIteration(ctx, &IterationRecord{RunID: "missing", Number: 1, Symbol: "X", Verdict: types.VerdictBootFailed, RecordedAt: time.Now()}), "foreign key")
	assert.Error(t, j.FinishRun(ctx, "missing", time.Now(), "", events.RunFinishedData{}))
}

func TestJournal_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmin.db")
	ctx := context.Background()

	j, err := New(path)
	require.NoError(t, err)
	id, err := j.StartRun(ctx, time.Now(), events.RunStartedData{CheckpointIndex: -1})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = New(path)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()
	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Empty(t, j.RunID(), "a reopened journal has no current run")
}
