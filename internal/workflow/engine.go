package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacklau/codereviewer/internal/pubsub"
	"github.com/jacklau/codereviewer/internal/retry"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	function_id  TEXT NOT NULL,
	event_name   TEXT NOT NULL,
	payload      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	current_step TEXT,
	last_error   TEXT,
	output       TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_claim ON runs(function_id, status);

CREATE TABLE IF NOT EXISTS step_results (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step_name    TEXT NOT NULL,
	result       TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	PRIMARY KEY (run_id, step_name)
);
`

// Alert describes a run that failed for good.
type Alert struct {
	RunID      string
	FunctionID string
	Event      string
	Step       string
	Error      string
	Attempts   int
}

// Alerter is told about failed runs.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// RunInfo is published on the engine's event stream.
type RunInfo struct {
	ID         string
	FunctionID string
	Event      string
	Error      string
}

// RunRecord is the stored state of a run.
type RunRecord struct {
	ID          string
	FunctionID  string
	Event       string
	Payload     json.RawMessage
	Status      string
	Attempts    int
	CurrentStep string
	LastError   string
	Output      json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Options configures an Engine.
type Options struct {
	// StepAttempts is how many times a step runs before the run fails.
	StepAttempts int
	// StepBackoff is the first retry delay; it doubles per attempt.
	StepBackoff time.Duration
	// PollInterval is how often idle workers look for runs they were not
	// woken for.
	PollInterval time.Duration
	Alerter      Alerter
	Logger       *slog.Logger
}

// Engine stores runs in sqlite and executes them with per-function worker
// pools.
type Engine struct {
	db      *sql.DB
	funcs   map[string]*Function
	byEvent map[string][]*Function
	order   []*Function
	broker  *pubsub.Broker[RunInfo]
	policy  retry.Policy
	poll    time.Duration
	alerter Alerter
	logger  *slog.Logger
}

// New creates an Engine on db, creating its tables if needed.
func New(db *sql.DB, opts Options) (*Engine, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating workflow tables: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Engine{
		db:      db,
		funcs:   make(map[string]*Function),
		byEvent: make(map[string][]*Function),
		broker:  pubsub.NewBroker[RunInfo](),
		policy: retry.Policy{
			MaxAttempts: opts.StepAttempts,
			BaseDelay:   opts.StepBackoff,
			Retryable:   func(err error) bool { return !IsPermanent(err) },
		},
		poll:    opts.PollInterval,
		alerter: opts.Alerter,
		logger:  opts.Logger,
	}, nil
}

// Register adds functions. IDs must be unique.
func (e *Engine) Register(fns ...Function) error {
	for i := range fns {
		fn := fns[i]
		if fn.ID == "" || fn.Event == "" || fn.Handler == nil {
			return fmt.Errorf("registering function %q: id, event and handler are required", fn.ID)
		}
		if _, dup := e.funcs[fn.ID]; dup {
			return fmt.Errorf("registering function %q: already registered", fn.ID)
		}
		if fn.Concurrency <= 0 {
			fn.Concurrency = 1
		}
		e.funcs[fn.ID] = &fn
		e.byEvent[fn.Event] = append(e.byEvent[fn.Event], &fn)
		e.order = append(e.order, &fn)
	}
	return nil
}

// Subscribe streams run lifecycle events until ctx is done.
func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[RunInfo] {
	return e.broker.Subscribe(ctx, nil)
}

// Send durably enqueues one run per function subscribed to event and wakes
// the workers. It returns the new run IDs.
func (e *Engine) Send(ctx context.Context, event string, payload any) ([]string, error) {
	fns := e.byEvent[event]
	if len(fns) == 0 {
		return nil, fmt.Errorf("sending %s: %w", event, ErrUnknownEvent)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}

	ts := now()
	ids := make([]string, 0, len(fns))
	for _, fn := range fns {
		id := uuid.NewString()
		_, err := e.db.ExecContext(ctx, `
			INSERT INTO runs (id, function_id, event_name, payload, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, fn.ID, event, string(body), StatusPending, ts, ts,
		)
		if err != nil {
			return ids, fmt.Errorf("enqueuing %s for %s: %w", event, fn.ID, err)
		}
		ids = append(ids, id)
		e.broker.Publish(pubsub.Enqueued, RunInfo{ID: id, FunctionID: fn.ID, Event: event})
		e.logger.Debug("run enqueued", "run_id", id, "function", fn.ID, "event", event)
	}
	return ids, nil
}

// Run executes queued runs until ctx is cancelled. Runs left running by a
// previous process are requeued first.
func (e *Engine) Run(ctx context.Context) error {
	n, err := e.resetInterrupted()
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Info("requeued interrupted runs", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range e.order {
		for w := 0; w < fn.Concurrency; w++ {
			g.Go(func() error { return e.worker(gctx, fn) })
		}
		if fn.Every > 0 {
			g.Go(func() error { return e.schedule(gctx, fn) })
		}
	}
	e.logger.Info("workflow engine started", "functions", len(e.order))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) worker(ctx context.Context, fn *Function) error {
	wake := e.broker.Subscribe(ctx, func(evt pubsub.Event[RunInfo]) bool {
		return evt.Type == pubsub.Enqueued && evt.Payload.FunctionID == fn.ID
	})
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		for {
			run, err := e.claim(fn)
			if err != nil {
				e.logger.Error("claiming run failed", "function", fn.ID, "error", err)
				break
			}
			if run == nil {
				break
			}
			e.execute(ctx, fn, run)
			if ctx.Err() != nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-wake:
			if !ok {
				return nil
			}
		case <-ticker.C:
		}
	}
}

func (e *Engine) schedule(ctx context.Context, fn *Function) error {
	ticker := time.NewTicker(fn.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if _, err := e.Send(ctx, fn.Event, map[string]string{"at": t.UTC().Format(time.RFC3339)}); err != nil {
				e.logger.Error("scheduled event failed", "event", fn.Event, "error", err)
			}
		}
	}
}

func (e *Engine) execute(ctx context.Context, fn *Function, run *Run) {
	logger := run.logger
	start := time.Now()
	logger.Info("run started", "attempt", run.Attempt)

	out, err := fn.Handler(ctx, run)
	if err != nil && ctx.Err() != nil {
		// Left running; the next start requeues it.
		logger.Info("run interrupted", "error", err)
		return
	}
	if err != nil {
		e.fail(ctx, fn, run, err)
		logger.Error("run failed", "error", err, "duration", time.Since(start))
		return
	}

	if err := e.complete(run.ID, out); err != nil {
		logger.Error("recording run completion failed", "error", err)
		return
	}
	e.broker.Publish(pubsub.Completed, RunInfo{ID: run.ID, FunctionID: fn.ID, Event: run.Event})
	logger.Info("run completed", "duration", time.Since(start))
}

// fail runs the failure hook before marking the run failed, so anything the
// hook records exists once the status is visible.
func (e *Engine) fail(ctx context.Context, fn *Function, run *Run, cause error) {
	if fn.OnFailure != nil {
		fn.OnFailure(ctx, run, cause)
	}
	if _, err := e.db.Exec(
		`UPDATE runs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, cause.Error(), now(), run.ID,
	); err != nil {
		run.logger.Error("recording run failure failed", "error", err)
	}

	if e.alerter != nil {
		a := Alert{
			RunID:      run.ID,
			FunctionID: fn.ID,
			Event:      run.Event,
			Error:      cause.Error(),
			Attempts:   run.Attempt,
		}
		var se *StepError
		if errors.As(cause, &se) {
			a.Step = se.Step
		}
		if err := e.alerter.Alert(ctx, a); err != nil {
			run.logger.Warn("failure alert not delivered", "error", err)
		}
	}
	e.broker.Publish(pubsub.Failed, RunInfo{ID: run.ID, FunctionID: fn.ID, Event: run.Event, Error: cause.Error()})
}

func (e *Engine) complete(id string, out any) error {
	var output sql.NullString
	if out != nil {
		b, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		output = sql.NullString{String: string(b), Valid: true}
	}
	_, err := e.db.Exec(
		`UPDATE runs SET status = ?, output = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		StatusCompleted, output, now(), id,
	)
	return err
}

// claim moves the oldest pending run of fn to running. It returns nil when
// the queue is empty.
func (e *Engine) claim(fn *Function) (*Run, error) {
	for {
		var id string
		err := e.db.QueryRow(
			`SELECT id FROM runs WHERE function_id = ? AND status = ? ORDER BY rowid LIMIT 1`,
			fn.ID, StatusPending,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("selecting pending run: %w", err)
		}

		res, err := e.db.Exec(
			`UPDATE runs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ? AND status = ?`,
			StatusRunning, now(), id, StatusPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claiming run %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another worker won the race.
			continue
		}

		rec, err := e.GetRun(id)
		if err != nil {
			return nil, err
		}
		return &Run{
			ID:         rec.ID,
			FunctionID: rec.FunctionID,
			Event:      rec.Event,
			Payload:    rec.Payload,
			Attempt:    rec.Attempts,
			engine:     e,
			logger:     e.logger.With("run_id", rec.ID, "function", rec.FunctionID),
		}, nil
	}
}

func (e *Engine) resetInterrupted() (int64, error) {
	res, err := e.db.Exec(
		`UPDATE runs SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, now(), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("requeuing interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// GetRun returns the stored state of a run.
func (e *Engine) GetRun(id string) (*RunRecord, error) {
	row := e.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, optionally only those in status.
func (e *Engine) ListRuns(status string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

const runColumns = `id, function_id, event_name, payload, status, attempts, current_step, last_error, output, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var rec RunRecord
	var payload, created, updated string
	var step, lastErr, output sql.NullString
	err := row.Scan(&rec.ID, &rec.FunctionID, &rec.Event, &payload, &rec.Status, &rec.Attempts,
		&step, &lastErr, &output, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	rec.Payload = json.RawMessage(payload)
	rec.CurrentStep = step.String
	rec.LastError = lastErr.String
	if output.Valid {
		rec.Output = json.RawMessage(output.String)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &rec, nil
}

func (e *Engine) loadStep(runID, name string) (json.RawMessage, bool, error) {
	var result string
	err := e.db.QueryRow(
		`SELECT result FROM step_results WHERE run_id = ? AND step_name = ?`, runID, name,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading step %q: %w", name, err)
	}
	return json.RawMessage(result), true, nil
}

func (e *Engine) saveStep(runID, name string, result []byte) error {
	_, err := e.db.Exec(`
		INSERT INTO step_results (run_id, step_name, result, completed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step_name) DO UPDATE SET result = excluded.result, completed_at = excluded.completed_at`,
		runID, name, string(result), now(),
	)
	if err != nil {
		return fmt.Errorf("saving step %q: %w", name, err)
	}
	return nil
}

func (e *Engine) setCurrentStep(runID, name string) {
	if _, err := e.db.Exec(`UPDATE runs SET current_step = ?, updated_at = ? WHERE id = ?`, name, now(), runID); err != nil {
		e.logger.Warn("recording current step failed", "run_id", runID, "step", name, "error", err)
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
