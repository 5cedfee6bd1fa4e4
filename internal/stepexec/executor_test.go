package stepexec_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"sfcfetch/internal/backoff"
	"sfcfetch/internal/metrics"
	"sfcfetch/internal/services"
	"sfcfetch/internal/stage"
	"sfcfetch/internal/stepexec"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
	"sfcfetch/internal/testsupport"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

type fixture struct {
	store    *store.Store
	registry *stage.Registry
	sleeps   *sleepRecorder
	exec     *stepexec.Executor
	doc      *store.Document
	spans    *tracetest.InMemoryExporter
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, base, maxDelay time.Duration, metadata any) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	wf := testsupport.MustCreateWorkflow(t, st, subworkflow.TypeCirculars)
	doc := testsupport.MustAddDocument(t, st, wf, "26EC1", time.Now(), metadata)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := &fixture{
		store:    st,
		registry: stage.NewRegistry(),
		sleeps:   &sleepRecorder{},
		doc:      doc,
		spans:    exporter,
		metrics:  metrics.New(),
	}
	exec, err := stepexec.New(stepexec.Options{
		Store:             st,
		Registry:          f.registry,
		Backoff:           backoff.NewExponential(base, maxDelay),
		Sleep:             f.sleeps.Sleep,
		DefaultMaxRetries: 3,
		Metrics:           f.metrics,
		Tracer:            tp.Tracer("test"),
	})
	if err != nil {
		t.Fatalf("stepexec.New: %v", err)
	}
	f.exec = exec
	return f
}

func countingHandler(calls *int, failures int, failErr error, output any) stage.HandlerFunc {
	return func(context.Context, *store.Document, store.WorkflowConfig) (stage.Output, error) {
		*calls++
		if *calls <= failures {
			return nil, failErr
		}
		return output, nil
	}
}

func TestExecuteRecordsCompletionWithOutput(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)
	calls := 0
	f.registry.MustRegister("fetch", countingHandler(&calls, 0, nil, map[string]int{"bytes": 42}))

	res, err := f.exec.Execute(context.Background(), f.doc, subworkflow.Step{Name: "fetch"}, store.WorkflowConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != stepexec.OutcomeCompleted || res.Skipped || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	rec := testsupport.MustStepRecord(t, f.store, f.doc.ID, "fetch")
	if rec.Status != store.StepCompleted || rec.CompletedAt == nil || rec.StartedAt == nil {
		t.Fatalf("unexpected record: %+v", rec)
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Output, &out); err != nil || out["bytes"] != 42 {
		t.Fatalf("unexpected output %s: %v", rec.Output, err)
	}

	spans := f.spans.GetSpans()
	if len(spans) != 1 || spans[0].Name != "step.fetch" {
		t.Fatalf("expected one step.fetch span, got %+v", spans)
	}
}

func TestExecuteSkipsCompletedStep(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)
	calls := 0
	f.registry.MustRegister("fetch", countingHandler(&calls, 0, nil, "ok"))
	step := subworkflow.Step{Name: "fetch"}

	for i := 0; i < 3; i++ {
		res, err := f.exec.Execute(context.Background(), f.doc, step, store.WorkflowConfig{})
		if err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
		if !res.Succeeded() {
			t.Fatalf("Execute %d failed: %+v", i, res)
		}
		if i > 0 && !res.Skipped {
			t.Fatalf("expected repeat execution %d to be a no-op", i)
		}
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}

func TestExecuteBackoffSequence(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)
	calls := 0
	f.registry.MustRegister("flaky", countingHandler(&calls, 3, errors.New("connection reset"), "ok"))

	res, err := f.exec.Execute(context.Background(), f.doc, subworkflow.Step{Name: "flaky"}, store.WorkflowConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != stepexec.OutcomeCompleted || res.Attempts != 4 {
		t.Fatalf("expected success on fourth attempt, got %+v", res)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(f.sleeps.delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, f.sleeps.delays)
	}
	for i := range want {
		if f.sleeps.delays[i] != want[i] {
			t.Fatalf("delay %d: want %s got %s", i, want[i], f.sleeps.delays[i])
		}
	}
	rec := testsupport.MustStepRecord(t, f.store, f.doc.ID, "flaky")
	if rec.Status != store.StepCompleted || rec.RetryCount != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(f.spans.GetSpans()) != 4 {
		t.Fatalf("expected one span per attempt, got %d", len(f.spans.GetSpans()))
	}
}

func TestExecuteBackoffCapsAtMaxDelay(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)
	calls := 0
	f.registry.MustRegister("down", countingHandler(&calls, 100, errors.New("503"), nil))

	step := subworkflow.Step{Name: "down", MaxRetries: subworkflow.Retries(7)}
	res, err := f.exec.Execute(context.Background(), f.doc, step, store.WorkflowConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != stepexec.OutcomeFailed || res.Attempts != 8 || calls != 8 {
		t.Fatalf("expected 8 failed attempts, got %+v (calls=%d)", res, calls)
	}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, secs := range want {
		if f.sleeps.delays[i] != secs*time.Second {
			t.Fatalf("delay %d: want %ds got %s", i, secs, f.sleeps.delays[i])
		}
	}

	rec := testsupport.MustStepRecord(t, f.store, f.doc.ID, "down")
	if rec.Status != store.StepFailed {
		t.Fatalf("expected failed record, got %s", rec.Status)
	}
	msg, attempts := stepexec.DecodeError(rec.Error)
	if msg != "503" || attempts != 8 {
		t.Fatalf("unexpected error payload %s", rec.Error)
	}
}

func TestExecuteTerminalErrorSkipsRetries(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)
	calls := 0
	terminal := services.Wrap(services.ErrValidation, "test", "parse", "malformed body", nil)
	f.registry.MustRegister("parse", countingHandler(&calls, 100, terminal, nil))

	res, err := f.exec.Execute(context.Background(), f.doc, subworkflow.Step{Name: "parse"}, store.WorkflowConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != stepexec.OutcomeFailed || calls != 1 || len(f.sleeps.delays) != 0 {
		t.Fatalf("expected single attempt without backoff, got %+v calls=%d sleeps=%v", res, calls, f.sleeps.delays)
	}
	if !errors.Is(res.Err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", res.Err)
	}
}

func TestExecuteZeroRetriesMeansSingleAttempt(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)
	calls := 0
	f.registry.MustRegister("once", countingHandler(&calls, 100, errors.New("nope"), nil))

	step := subworkflow.Step{Name: "once", MaxRetries: subworkflow.Retries(0)}
	res, err := f.exec.Execute(context.Background(), f.doc, step, store.WorkflowConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != stepexec.OutcomeFailed || calls != 1 {
		t.Fatalf("expected one attempt, got %+v calls=%d", res, calls)
	}
}

func TestExecuteConditionFalseWritesSkippedRecord(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, map[string]any{"hasAppendix": false, "appendixCount": 0})
	calls := 0
	f.registry.MustRegister("appendices", countingHandler(&calls, 0, nil, nil))

	step := subworkflow.Step{Name: "appendices", Condition: subworkflow.ConditionHasAppendices}
	res, err := f.exec.Execute(context.Background(), f.doc, step, store.WorkflowConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != stepexec.OutcomeSkipped || !res.Skipped || !res.Succeeded() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if calls != 0 {
		t.Fatalf("handler should not run, ran %d times", calls)
	}
	if rec := testsupport.MustStepRecord(t, f.store, f.doc.ID, "appendices"); rec.Status != store.StepSkipped {
		t.Fatalf("expected skipped record, got %s", rec.Status)
	}

	res, err = f.exec.Execute(context.Background(), f.doc, step, store.WorkflowConfig{})
	if err != nil || res.Outcome != stepexec.OutcomeSkipped {
		t.Fatalf("expected skipped step to stay skipped: %+v %v", res, err)
	}
}

func TestExecuteConditionToleratesStringYear(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, map[string]any{"year": "2026", "hasAppendix": true, "appendixCount": 1})
	calls := 0
	f.registry.MustRegister("appendices", countingHandler(&calls, 0, nil, map[string]int{"downloaded": 1}))

	step := subworkflow.Step{Name: "appendices", Condition: subworkflow.ConditionHasAppendices}
	res, err := f.exec.Execute(context.Background(), f.doc, step, store.WorkflowConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != stepexec.OutcomeCompleted || calls != 1 {
		t.Fatalf("expected appendix step to run once, got %+v after %d calls", res, calls)
	}
	if rec := testsupport.MustStepRecord(t, f.store, f.doc.ID, "appendices"); rec.Status != store.StepCompleted {
		t.Fatalf("expected completed record, got %s", rec.Status)
	}
}

func TestExecuteUnknownConditionRuns(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)
	calls := 0
	f.registry.MustRegister("fetch", countingHandler(&calls, 0, nil, nil))

	step := subworkflow.Step{Name: "fetch", Condition: "is_full_moon"}
	if _, err := f.exec.Execute(context.Background(), f.doc, step, store.WorkflowConfig{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run, ran %d times", calls)
	}
}

func TestExecuteUnknownStepIsConfigurationError(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)

	res, err := f.exec.Execute(context.Background(), f.doc, subworkflow.Step{Name: "teleport"}, store.WorkflowConfig{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if res.Outcome != stepexec.OutcomeFailed || len(f.sleeps.delays) != 0 {
		t.Fatalf("expected immediate failure, got %+v", res)
	}
	if rec := testsupport.MustStepRecord(t, f.store, f.doc.ID, "teleport"); rec.Status != store.StepFailed {
		t.Fatalf("expected failed record, got %s", rec.Status)
	}
}

func TestExecuteCancelledDuringBackoffLeavesRunningRecord(t *testing.T) {
	f := newFixture(t, time.Second, 30*time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f.registry.MustRegister("slow", stage.HandlerFunc(func(context.Context, *store.Document, store.WorkflowConfig) (stage.Output, error) {
		calls++
		cancel()
		return nil, errors.New("interrupted")
	}))

	_, err := f.exec.Execute(ctx, f.doc, subworkflow.Step{Name: "slow"}, store.WorkflowConfig{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if rec := testsupport.MustStepRecord(t, f.store, f.doc.ID, "slow"); rec.Status != store.StepRunning {
		t.Fatalf("expected running record to survive cancellation, got %s", rec.Status)
	}
}
