package stepexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sfcfetch/internal/backoff"
	"sfcfetch/internal/logging"
	"sfcfetch/internal/metrics"
	"sfcfetch/internal/services"
	"sfcfetch/internal/stage"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
)

const tracerName = "sfcfetch/stepexec"

// Outcome is the final state of one step execution.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result describes how a step ended. Step failures are reported here rather
// than as a Go error.
type Result struct {
	Outcome Outcome
	// Skipped is set when no handler ran: the step was already done or its
	// condition was false.
	Skipped  bool
	Output   json.RawMessage
	Err      error
	Attempts int
}

// Succeeded reports whether the document may move on to its next step.
func (r Result) Succeeded() bool {
	return r.Outcome != OutcomeFailed
}

// Options configures an Executor.
type Options struct {
	Store             *store.Store
	Registry          *stage.Registry
	Backoff           backoff.Exponential
	Sleep             backoff.Sleeper
	DefaultMaxRetries int
	Metrics           *metrics.Metrics
	Tracer            trace.Tracer
	Logger            *slog.Logger
}

// Executor runs steps against the store.
type Executor struct {
	store      *store.Store
	registry   *stage.Registry
	backoff    backoff.Exponential
	sleep      backoff.Sleeper
	maxRetries int
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// New validates opts and returns an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Store == nil {
		return nil, errors.New("stepexec: store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("stepexec: registry is required")
	}
	if opts.Backoff.Base <= 0 {
		return nil, errors.New("stepexec: backoff base delay must be positive")
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	maxRetries := opts.DefaultMaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Executor{
		store:      opts.Store,
		registry:   opts.Registry,
		backoff:    opts.Backoff,
		sleep:      sleep,
		maxRetries: maxRetries,
		metrics:    opts.Metrics,
		tracer:     tracer,
		logger:     logging.NewComponentLogger(opts.Logger, "stepexec"),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Execute runs step for doc. The returned error is non-nil only when the run
// cannot continue at all: an unregistered step name, a store failure, or a
// cancelled context. A cancelled step keeps its running record so a resume
// picks it up again.
func (e *Executor) Execute(ctx context.Context, doc *store.Document, step subworkflow.Step, cfg store.WorkflowConfig) (Result, error) {
	if doc == nil {
		return Result{}, errors.New("stepexec: document is required")
	}
	ctx = services.WithStep(services.WithDocumentID(ctx, doc.ID), step.Name)
	logger := logging.WithContext(ctx, e.logger).With(logging.String(logging.FieldReference, doc.Reference))

	existing, err := e.store.GetStepRecord(ctx, doc.ID, step.Name)
	if err != nil {
		return Result{}, err
	}
	if existing != nil && existing.Status.IsDone() {
		logger.Debug("step already done", logging.String("status", string(existing.Status)))
		outcome := OutcomeCompleted
		if existing.Status == store.StepSkipped {
			outcome = OutcomeSkipped
		}
		return Result{Outcome: outcome, Skipped: true, Output: existing.Output}, nil
	}

	budget := step.RetryBudget(e.maxRetries)

	if step.Condition != "" {
		ok, err := subworkflow.Evaluate(step.Condition, doc.Metadata)
		if err != nil {
			condErr := services.Wrap(services.ErrValidation, "stepexec", step.Name, "condition "+step.Condition, err)
			return e.fail(ctx, logger, doc, step, budget, 0, 0, condErr)
		}
		if !ok {
			return e.skip(ctx, logger, doc, step, budget)
		}
	}

	handler, ok := e.registry.Lookup(step.Name)
	if !ok {
		cfgErr := services.Wrap(services.ErrConfiguration, "stepexec", step.Name, "no handler registered for step", nil)
		res, err := e.fail(ctx, logger, doc, step, budget, 0, 0, cfgErr)
		if err != nil {
			return res, err
		}
		return res, cfgErr
	}

	var lastErr json.RawMessage
	for attempt := 0; attempt <= budget; attempt++ {
		started := e.now()
		if err := e.store.UpsertStepRecord(ctx, store.StepRecord{
			DocumentID: doc.ID,
			StepName:   step.Name,
			Status:     store.StepRunning,
			RetryCount: attempt,
			MaxRetries: budget,
			StartedAt:  &started,
			Error:      lastErr,
		}); err != nil {
			return Result{}, err
		}

		output, runErr := e.attempt(ctx, handler, doc, step.Name, attempt, cfg)
		elapsed := e.now().Sub(started)
		if runErr == nil {
			return e.complete(ctx, logger, doc, step, budget, attempt, started, elapsed, output)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Outcome: OutcomeFailed, Err: runErr, Attempts: attempt + 1}, ctxErr
		}

		terminal := services.IsTerminal(runErr)
		if terminal || attempt == budget {
			logging.WarnWithContext(logger, "step failed", "step_failed",
				logging.Int(logging.FieldAttempt, attempt),
				logging.Bool("terminal", terminal),
				logging.Error(runErr),
				logging.String(logging.FieldErrorHint, "retry the document once the cause is fixed"),
			)
			return e.fail(ctx, logger, doc, step, budget, attempt, elapsed, runErr)
		}

		delay := e.backoff.Delay(attempt)
		logger.Info("step attempt failed; retrying",
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("delay", delay),
			logging.Error(runErr),
		)
		lastErr = errorJSON(runErr, attempt+1)
		if err := e.sleep(ctx, delay); err != nil {
			return Result{Outcome: OutcomeFailed, Err: runErr, Attempts: attempt + 1}, err
		}
	}
	// The loop always returns; budget >= 0 guarantees at least one attempt.
	return Result{}, fmt.Errorf("stepexec: %s exhausted without result", step.Name)
}

func (e *Executor) attempt(ctx context.Context, handler stage.Handler, doc *store.Document, name string, attempt int, cfg store.WorkflowConfig) (stage.Output, error) {
	ctx, span := e.tracer.Start(ctx, "step."+name, trace.WithAttributes(
		attribute.String("sfcfetch.step", name),
		attribute.Int64("sfcfetch.document_id", doc.ID),
		attribute.String("sfcfetch.reference", doc.Reference),
		attribute.Int("sfcfetch.attempt", attempt),
	))
	defer span.End()

	started := time.Now()
	output, err := handler.Perform(ctx, doc, cfg)
	e.metrics.ObserveStepAttempt(name, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return output, nil
}

func (e *Executor) complete(ctx context.Context, logger *slog.Logger, doc *store.Document, step subworkflow.Step, budget, attempt int, started time.Time, elapsed time.Duration, output stage.Output) (Result, error) {
	raw, err := encodeOutput(output)
	if err != nil {
		encErr := services.Wrap(services.ErrValidation, "stepexec", step.Name, "encode output", err)
		return e.fail(ctx, logger, doc, step, budget, attempt, elapsed, encErr)
	}
	completed := e.now()
	if err := e.store.UpsertStepRecord(ctx, store.StepRecord{
		DocumentID:  doc.ID,
		StepName:    step.Name,
		Status:      store.StepCompleted,
		RetryCount:  attempt,
		MaxRetries:  budget,
		StartedAt:   &started,
		CompletedAt: &completed,
		Duration:    elapsed,
		Output:      raw,
	}); err != nil {
		return Result{}, err
	}
	e.metrics.RecordStepOutcome(step.Name, metrics.OutcomeCompleted)
	logger.Debug("step completed",
		logging.Int(logging.FieldAttempt, attempt),
		logging.Duration("duration", elapsed),
	)
	return Result{Outcome: OutcomeCompleted, Output: raw, Attempts: attempt + 1}, nil
}

func (e *Executor) skip(ctx context.Context, logger *slog.Logger, doc *store.Document, step subworkflow.Step, budget int) (Result, error) {
	now := e.now()
	if err := e.store.UpsertStepRecord(ctx, store.StepRecord{
		DocumentID:  doc.ID,
		StepName:    step.Name,
		Status:      store.StepSkipped,
		MaxRetries:  budget,
		CompletedAt: &now,
	}); err != nil {
		return Result{}, err
	}
	e.metrics.RecordStepOutcome(step.Name, metrics.OutcomeSkipped)
	logger.Debug("step skipped", logging.String("condition", step.Condition))
	return Result{Outcome: OutcomeSkipped, Skipped: true}, nil
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, doc *store.Document, step subworkflow.Step, budget, attempt int, elapsed time.Duration, cause error) (Result, error) {
	attempts := attempt + 1
	now := e.now()
	if err := e.store.UpsertStepRecord(ctx, store.StepRecord{
		DocumentID:  doc.ID,
		StepName:    step.Name,
		Status:      store.StepFailed,
		RetryCount:  attempt,
		MaxRetries:  budget,
		CompletedAt: &now,
		Duration:    elapsed,
		Error:       errorJSON(cause, attempts),
	}); err != nil {
		return Result{}, err
	}
	e.metrics.RecordStepOutcome(step.Name, metrics.OutcomeFailed)
	logger.Debug("step marked failed", logging.Int("attempts", attempts))
	return Result{Outcome: OutcomeFailed, Err: cause, Attempts: attempts}, nil
}

type stepError struct {
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

func errorJSON(err error, attempts int) json.RawMessage {
	msg := "step failed"
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	data, _ := json.Marshal(stepError{Error: msg, Attempts: attempts})
	return data
}

// DecodeError extracts the message and attempt count from a step record's
// error column.
func DecodeError(raw json.RawMessage) (string, int) {
	if len(raw) == 0 {
		return "", 0
	}
	var se stepError
	if err := json.Unmarshal(raw, &se); err != nil {
		return string(raw), 0
	}
	return se.Error, se.Attempts
}

func encodeOutput(output stage.Output) (json.RawMessage, error) {
	switch v := output.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("output is not valid JSON")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}
