// Package sqlite records minimization runs in a SQLite database: one row per
// run, one row per iteration, and every progress event. It is an events.Sink;
// checkpoints on disk stay the only state a run resumes from.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/steveyegge/kmin/internal/events"
	"github.com/steveyegge/kmin/internal/types"
)

// Journal is the run history database
type Journal struct {
	db *sql.DB

	mu    sync.Mutex
	runID string // run receiving events, empty until one starts
}

// RunRecord is one journaled run
type RunRecord struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Resumed         bool
	StartCheckpoint int
	Reason          string
	Message         string
	Iterations      int
	Required        int
	NotRequired     int
	TotalSaved      int64
	FinalSize       int64
}

// IterationRecord is one journaled iteration
type IterationRecord struct {
	RunID      string
	Number     int
	Symbol     string
	Before     string
	After      string
	SizeBefore int64
	SizeAfter  int64
	Saved      int64
	Verdict    types.Verdict
	Checkpoint int
	Duration   time.Duration
	RecordedAt time.Time
}

// IterationFilter narrows ListIterations
type IterationFilter struct {
	RunID   string        // empty for every run
	Symbol  string        // empty for every symbol
	Verdict types.Verdict // empty for every verdict
	Limit   int           // 0 for no limit
}

// New opens or creates the journal at path
func New(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// RunID returns the run currently receiving events
func (j *Journal) RunID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runID
}

// StartRun inserts a new run row and directs subsequent events to it
func (j *Journal) StartRun(ctx context.Context, startedAt time.Time, data events.RunStartedData) (string, error) {
	id := uuid.New().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, resumed, start_checkpoint, required, not_required)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, formatTime(startedAt), data.Resumed, data.CheckpointIndex, data.Required, data.NotRequired)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	j.mu.Lock()
	j.runID = id
	j.mu.Unlock()
	return id, nil
}

// FinishRun records how a run ended
func (j *Journal) FinishRun(ctx context.Context, runID string, finishedAt time.Time, message string, data events.RunFinishedData) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, reason = ?, message = ?, iterations = ?,
		    required = ?, not_required = ?, total_saved = ?, final_size = ?
		WHERE id = ?
	`, formatTime(finishedAt), data.Reason, message, data.Iterations,
		data.Required, data.NotRequired, data.TotalSaved, data.Size, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordIteration stores one iteration of a run
func (j *Journal) RecordIteration(ctx context.Context, rec *IterationRecord) error {
	if !rec.Verdict.IsValid() {
		return fmt.Errorf("invalid verdict: %s", rec.Verdict)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO iterations (
			run_id, number, symbol, value_before, value_after,
			size_before, size_after, saved, verdict, checkpoint, duration_ms, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Number, rec.Symbol, rec.Before, rec.After,
		rec.SizeBefore, rec.SizeAfter, rec.Saved, string(rec.Verdict), rec.Checkpoint,
		rec.Duration.Milliseconds(), formatTime(rec.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to record iteration %d of run %s: %w", rec.Number, rec.RunID, err)
	}
	return nil
}

// Emit implements events.Sink. A run_started event opens a run; events
// arriving before one are rejected.
func (j *Journal) Emit(ctx context.Context, event *events.RunEvent) error {
	if event.Type == events.EventTypeRunStarted {
		data, err := event.GetRunStartedData()
		if err != nil {
			return err
		}
		if _, err := j.StartRun(ctx, event.Timestamp, *data); err != nil {
			return err
		}
	}

	runID := j.RunID()
	if runID == "" {
		return fmt.Errorf("no run started for %s event", event.Type)
	}
	event.RunID = runID

	if err := j.storeEvent(ctx, event); err != nil {
		return err
	}

	switch event.Type {
	case events.EventTypeSymbolRequired, events.EventTypeSymbolNotRequired:
		data, err := event.GetSymbolClassifiedData()
		if err != nil {
			return err
		}
		return j.RecordIteration(ctx, &IterationRecord{
			RunID:      runID,
			Number:     data.Iteration,
			Symbol:     data.Symbol,
			Before:     data.Before,
			After:      data.After,
			SizeBefore: data.SizeBefore,
			SizeAfter:  data.SizeAfter,
			Saved:      data.Saved,
			Verdict:    types.Verdict(data.Verdict),
			Checkpoint: data.Checkpoint,
			Duration:   time.Duration(data.DurationMs) * time.Millisecond,
			RecordedAt: event.Timestamp,
		})
	case events.EventTypeRunFinished:
		data, err := event.GetRunFinishedData()
		if err != nil {
			return err
		}
		return j.FinishRun(ctx, runID, event.Timestamp, event.Message, *data)
	}
	return nil
}

func (j *Journal) storeEvent(ctx context.Context, event *events.RunEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO events (id, run_id, type, timestamp, severity, message, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.RunID, string(event.Type), formatTime(event.Timestamp),
		string(event.Severity), event.Message, string(dataJSON))
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, run=%s): %w", event.Type, event.RunID, err)
	}
	return nil
}

// ListRuns returns runs, newest first
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, resumed, start_checkpoint, reason, message,
		       iterations, required, not_required, total_saved, final_size
		FROM runs
		ORDER BY started_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*RunRecord
	for rows.Next() {
		var (
			r          RunRecord
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Resumed, &r.StartCheckpoint, &r.Reason, &r.Message,
			&r.Iterations, &r.Required, &r.NotRequired, &r.TotalSaved, &r.FinalSize); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: bad finished_at: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// ListIterations returns journaled iterations in the order they ran
func (j *Journal) ListIterations(ctx context.Context, filter IterationFilter) ([]*IterationRecord, error) {
	query := `
		SELECT i.run_id, i.number, i.symbol, i.value_before, i.value_after,
		       i.size_before, i.size_after, i.saved, i.verdict, i.checkpoint,
		       i.duration_ms, i.recorded_at
		FROM iterations i
		JOIN runs r ON r.id = i.run_id
		WHERE 1=1
	`
	var args []interface{}
	if filter.RunID != "" {
		query += " AND i.run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Symbol != "" {
		query += " AND i.symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Verdict != "" {
		query += " AND i.verdict = ?"
		args = append(args, string(filter.Verdict))
	}
	query += " ORDER BY r.started_at, i.number"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*IterationRecord
	for rows.Next() {
		var (
			rec        IterationRecord
			verdict    string
			durationMs int64
			recordedAt string
		)
		if err := rows.Scan(&rec.RunID, &rec.Number, &rec.Symbol, &rec.Before, &rec.After,
			&rec.SizeBefore, &rec.SizeAfter, &rec.Saved, &verdict, &rec.Checkpoint,
			&durationMs, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		rec.Verdict = types.Verdict(verdict)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("iteration %d: bad recorded_at: %w", rec.Number, err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CountEvents returns the number of events stored for a run
func (j *Journal) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE run_id = ?", runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
