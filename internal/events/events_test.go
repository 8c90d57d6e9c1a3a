package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONTagsSnakeCase(t *testing.T) {
	event, err := NewCheckpointWrittenEvent("Saved configs/config_3", CheckpointWrittenData{
		Index:      3,
		Path:       "configs/config_3",
		TotalSaved: 4096,
	})
	require.NoError(t, err)
	event.RunID = "run-1"

	jsonBytes, err := json.Marshal(event)
	require.NoError(t, err)
	jsonStr := string(jsonBytes)

	for _, field := range []string{`"id"`, `"type"`, `"timestamp"`, `"run_id"`, `"severity"`, `"message"`, `"data"`, `"total_saved"`} {
		assert.Contains(t, jsonStr, field)
	}
	assert.Contains(t, jsonStr, `"checkpoint_written"`)
}

func TestTypedDataRoundTrip(t *testing.T) {
	event, err := NewCandidateSelectedEvent("Lowering the value of NET from 'y' to 'n'", CandidateSelectedData{
		Iteration: 7,
		Symbol:    "NET",
		Before:    "y",
		After:     "n",
	})
	require.NoError(t, err)
	assert.Equal(t, EventTypeCandidateSelected, event.Type)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	data, err := event.GetCandidateSelectedData()
	require.NoError(t, err)
	assert.Equal(t, 7, data.Iteration)
	assert.Equal(t, "NET", data.Symbol)
	assert.Equal(t, "n", data.After)
}

func TestTypedDataRoundTrip_EveryPayload(t *testing.T) {
	t.Run("baseline_built", func(t *testing.T) {
		event, err := NewBaselineBuiltEvent("Reference build: 1000 bytes", BaselineBuiltData{Size: 1000, DurationMs: 42})
		require.NoError(t, err)
		data, err := event.GetBaselineBuiltData()
		require.NoError(t, err)
		assert.Equal(t, BaselineBuiltData{Size: 1000, DurationMs: 42}, *data)
	})

	t.Run("build_completed", func(t *testing.T) {
		want := BuildCompletedData{Symbol: "NET", Passed: true, Size: 900, DurationMs: 1500}
		event, err := NewBuildCompletedEvent("Build succeeded", want)
		require.NoError(t, err)
		data, err := event.GetBuildCompletedData()
		require.NoError(t, err)
		assert.Equal(t, want, *data)
	})

	t.Run("boot_completed", func(t *testing.T) {
		want := BootCompletedData{Symbol: "NET", Outcome: "timed_out", ExitedEarly: true, DurationMs: 10000}
		event, err := NewBootCompletedEvent("Timed out", false, want)
		require.NoError(t, err)
		data, err := event.GetBootCompletedData()
		require.NoError(t, err)
		assert.Equal(t, want, *data)
	})

	t.Run("checkpoint_written", func(t *testing.T) {
		want := CheckpointWrittenData{Index: 4, Path: "configs/config_4", TotalSaved: 4096}
		event, err := NewCheckpointWrittenEvent("Saved configs/config_4", want)
		require.NoError(t, err)
		data, err := event.GetCheckpointWrittenData()
		require.NoError(t, err)
		assert.Equal(t, want, *data)
	})

	t.Run("modules_swept", func(t *testing.T) {
		want := ModulesSweptData{Symbols: []string{"E1000", "SND"}}
		event, err := NewModulesSweptEvent("Lowered 2 modules to 'n'", want)
		require.NoError(t, err)
		data, err := event.GetModulesSweptData()
		require.NoError(t, err)
		assert.Equal(t, want, *data)
	})
}

func TestSeverityFollowsOutcome(t *testing.T) {
	passed, err := NewBuildCompletedEvent("ok", BuildCompletedData{Passed: true, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, SeverityInfo, passed.Severity)

	failed, err := NewBuildCompletedEvent("failed", BuildCompletedData{Passed: false, ExitCode: 2})
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, failed.Severity)

	timedOut, err := NewBootCompletedEvent("timeout", false, BootCompletedData{Outcome: "timed_out"})
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, timedOut.Severity)

	req, err := NewSymbolClassifiedEvent(true, "required", SymbolClassifiedData{Symbol: "X"})
	require.NoError(t, err)
	assert.Equal(t, EventTypeSymbolRequired, req.Type)

	notReq, err := NewSymbolClassifiedEvent(false, "saved", SymbolClassifiedData{Symbol: "X", Saved: 5})
	require.NoError(t, err)
	assert.Equal(t, EventTypeSymbolNotRequired, notReq.Type)
}

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, *RunEvent) error { return f.err }

func TestMulti(t *testing.T) {
	var a, b Recorder
	boom := errors.New("disk full")
	m := Multi{&a, failingSink{err: boom}, nil, &b}

	event, err := NewModulesSweptEvent("swept", ModulesSweptData{Symbols: []string{"E1000"}})
	require.NoError(t, err)

	err = m.Emit(context.Background(), event)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Events(), 1, "sinks before the failure see the event")
	assert.Len(t, b.Events(), 1, "sinks after the failure see the event")

	assert.NoError(t, Multi{}.Emit(context.Background(), event))
	assert.NoError(t, Discard.Emit(context.Background(), event))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	for _, typ := range []EventType{EventTypeRunStarted, EventTypeBuildCompleted, EventTypeBuildCompleted} {
		require.NoError(t, r.Emit(context.Background(), newEvent(typ, SeverityInfo, "")))
	}
	assert.Equal(t, []EventType{EventTypeRunStarted, EventTypeBuildCompleted, EventTypeBuildCompleted}, r.Types())
	assert.Len(t, r.OfType(EventTypeBuildCompleted), 2)
	assert.Empty(t, r.OfType(EventTypeRunFinished))
}
