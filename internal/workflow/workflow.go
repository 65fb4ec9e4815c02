// Package workflow runs event-triggered, multi-step background functions
// whose step results are persisted so a retried or resumed run skips the
// steps it already finished.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrConfiguration marks failures caused by missing setup (credentials, API
// keys, integrations). They are never retried.
var ErrConfiguration = errors.New("configuration error")

// ErrUnknownEvent is returned by Send when no function listens for the event.
var ErrUnknownEvent = errors.New("no function subscribed to event")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried. Configuration errors
// are always permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, ErrConfiguration)
}

// Handler is the body of a function. Its return value is stored as the run
// output.
type Handler func(ctx context.Context, run *Run) (any, error)

// Function binds a handler to the event that triggers it.
type Function struct {
	ID    string
	Event string

	// Concurrency caps how many runs of this function execute at once.
	Concurrency int

	// Every, when set, makes the engine emit Event on that interval.
	Every time.Duration

	Handler Handler

	// OnFailure is called once after a run fails for good.
	OnFailure func(ctx context.Context, run *Run, err error)
}

// Run is one execution of a function for one event.
type Run struct {
	ID         string
	FunctionID string
	Event      string
	Payload    json.RawMessage
	Attempt    int

	engine *Engine
	logger *slog.Logger
}

// Decode unmarshals the triggering event payload into v.
func (r *Run) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decoding %s payload: %w", r.Event, err))
	}
	return nil
}

// Logger returns the run-scoped logger.
func (r *Run) Logger() *slog.Logger {
	return r.logger
}

// SendEvent emits an event as a memoized step, so a resumed run does not
// enqueue it twice. It returns the IDs of the runs it created.
func (r *Run) SendEvent(ctx context.Context, stepName, event string, payload any) ([]string, error) {
	return Step(ctx, r, stepName, func(ctx context.Context) ([]string, error) {
		return r.engine.Send(ctx, event, payload)
	})
}

// StepError reports which step exhausted its retries.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %q: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Step runs fn once per (run, name). When the run already holds a result for
// name, fn is skipped and the stored result is decoded instead. Otherwise fn
// is retried under the engine policy and its JSON-encoded result persisted.
// Step names must be unique within a function.
func Step[T any](ctx context.Context, run *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	e := run.engine
	logger := run.logger.With("step", name)

	raw, ok, err := e.loadStep(run.ID, name)
	if err != nil {
		return zero, err
	}
	if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, Permanent(fmt.Errorf("decoding result of step %q: %w", name, err))
		}
		logger.Debug("step replayed")
		return v, nil
	}

	e.setCurrentStep(run.ID, name)
	start := time.Now()

	var out T
	attempts, err := e.policy.Do(ctx, func(attempt int) error {
		v, err := fn(ctx)
		if err != nil {
			if !IsPermanent(err) {
				logger.Warn("step attempt failed", "attempt", attempt, "error", err)
			}
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		logger.Error("step failed", "attempts", attempts, "error", err)
		return zero, &StepError{Step: name, Err: err}
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return zero, Permanent(fmt.Errorf("encoding result of step %q: %w", name, err))
	}
	if err := e.saveStep(run.ID, name, encoded); err != nil {
		return zero, err
	}
	logger.Debug("step completed", "duration", time.Since(start))
	return out, nil
}
