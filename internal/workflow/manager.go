package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"sfcfetch/internal/backoff"
	"sfcfetch/internal/config"
	"sfcfetch/internal/discovery"
	"sfcfetch/internal/logging"
	"sfcfetch/internal/metrics"
	"sfcfetch/internal/notifications"
	"sfcfetch/internal/services"
	"sfcfetch/internal/stage"
	"sfcfetch/internal/stepexec"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
)

// Discoverer finds documents for a workflow before its first run.
type Discoverer interface {
	Discover(ctx context.Context, wf *store.Workflow) (discovery.Summary, error)
	Handles(workflowType string) bool
}

// Manager coordinates workflow runs against the store.
type Manager struct {
	cfg        *config.Config
	store      *store.Store
	registry   *stage.Registry
	exec       *stepexec.Executor
	discoverer Discoverer
	metrics    *metrics.Metrics
	notifier   notifications.Service
	logger     *slog.Logger
	pace       backoff.Sleeper

	mu     sync.Mutex
	active map[int64]struct{}

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	metrics    *metrics.Metrics
	discoverer Discoverer
	stepSleep  backoff.Sleeper
	paceSleep  backoff.Sleeper
	tracer     trace.Tracer
	notifier   notifications.Service
}

// WithMetrics records step and document metrics.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(o *managerOptions) { o.metrics = m }
}

// WithDiscoverer runs discovery when a workflow starts.
func WithDiscoverer(d Discoverer) ManagerOption {
	return func(o *managerOptions) { o.discoverer = d }
}

// WithStepSleeper replaces the wait between step retry attempts.
func WithStepSleeper(s backoff.Sleeper) ManagerOption {
	return func(o *managerOptions) { o.stepSleep = s }
}

// WithPacingSleeper replaces the wait between documents.
func WithPacingSleeper(s backoff.Sleeper) ManagerOption {
	return func(o *managerOptions) { o.paceSleep = s }
}

// WithNotifier publishes completion, pause and failure events.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(o *managerOptions) { o.notifier = n }
}

// WithTracer sets the tracer used for step attempt spans.
func WithTracer(t trace.Tracer) ManagerOption {
	return func(o *managerOptions) { o.tracer = t }
}

// NewManager constructs a workflow manager. Handlers are resolved from
// registry for the lifetime of the manager.
func NewManager(cfg *config.Config, st *store.Store, registry *stage.Registry, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil || st == nil || registry == nil {
		return nil, errors.New("workflow: config, store and registry are required")
	}
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	logger = logging.NewComponentLogger(logger, "workflow")

	exec, err := stepexec.New(stepexec.Options{
		Store:             st,
		Registry:          registry,
		Backoff:           backoff.NewExponential(cfg.RetryBaseDelay(), cfg.RetryMaxDelay()),
		Sleep:             options.stepSleep,
		DefaultMaxRetries: cfg.Retry.DefaultMaxRetries,
		Metrics:           options.metrics,
		Tracer:            options.tracer,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	pace := options.paceSleep
	if pace == nil {
		pace = backoff.Sleep
	}
	notifier := options.notifier
	if notifier == nil {
		notifier = notifications.Noop()
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		store:      st,
		registry:   registry,
		exec:       exec,
		discoverer: options.discoverer,
		metrics:    options.metrics,
		notifier:   notifier,
		logger:     logger,
		pace:       pace,
		active:     make(map[int64]struct{}),
		bgCtx:      bgCtx,
		bgCancel:   bgCancel,
	}, nil
}

// CheckHandlers reports the steps of every built-in workflow type that have
// no registered handler.
func (m *Manager) CheckHandlers(defs ...subworkflow.Definition) map[string][]string {
	missing := make(map[string][]string)
	for _, def := range defs {
		if names := m.registry.Missing(def.StepNames()); len(names) > 0 {
			missing[def.Type] = names
		}
	}
	return missing
}

// ActiveRuns lists the workflows this process is currently driving.
func (m *Manager) ActiveRuns() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown cancels background runs and waits for them to return. Documents
// interrupted this way are recovered the next time their workflow starts.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.bgCancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire claims the right to drive workflow id in this process and on this
// machine. The returned release func must be called when the run ends.
func (m *Manager) acquire(id int64) (func(), error) {
	m.mu.Lock()
	if _, busy := m.active[id]; busy {
		m.mu.Unlock()
		return nil, services.Wrap(services.ErrPrecondition, "workflow", "acquire",
			fmt.Sprintf("workflow %d is already running in this process", id), nil)
	}
	m.active[id] = struct{}{}
	m.mu.Unlock()

	forget := func() {
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
	}

	lockDir := m.cfg.LockDir()
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		forget()
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(lockDir, fmt.Sprintf("workflow-%d.lock", id)))
	locked, err := lock.TryLock()
	if err != nil {
		forget()
		return nil, fmt.Errorf("lock workflow %d: %w", id, err)
	}
	if !locked {
		forget()
		return nil, services.Wrap(services.ErrPrecondition, "workflow", "acquire",
			fmt.Sprintf("workflow %d is being run by another process", id), nil)
	}
	m.metrics.RunStarted()
	return func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn("release workflow lock failed",
				logging.Int64(logging.FieldWorkflowID, id),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workflow_unlock_failed"),
				logging.String(logging.FieldErrorHint, "remove the lock file if no sfcfetch process is running"),
			)
		}
		m.metrics.RunFinished()
		forget()
	}, nil
}

// background runs fn on the manager's background context. release is called
// when fn returns.
func (m *Manager) background(id int64, release func(), fn func(ctx context.Context) error) {
	ctx := runContext(m.bgCtx, id)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer release()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "workflow run failed", "workflow_run_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect failed documents, fix the cause, then start or resume the workflow"),
			)
		}
	}()
}

// runContext tags ctx with the workflow id and a fresh correlation id.
func runContext(ctx context.Context, id int64) context.Context {
	ctx = services.WithWorkflowID(ctx, id)
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	return ctx
}

func (m *Manager) getWorkflow(ctx context.Context, id int64) (*store.Workflow, error) {
	wf, err := m.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "get", fmt.Sprintf("workflow %d not found", id), nil)
	}
	return wf, nil
}

func (m *Manager) getDocument(ctx context.Context, id int64) (*store.Document, error) {
	doc, err := m.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "get document", fmt.Sprintf("document %d not found", id), nil)
	}
	return doc, nil
}

// notify publishes event and logs delivery failures. It never fails the run.
func (m *Manager) notify(ctx context.Context, logger *slog.Logger, wf *store.Workflow, event notifications.Event, payload notifications.Payload) {
	if payload == nil {
		payload = notifications.Payload{}
	}
	if wf != nil {
		payload["workflowID"] = strconv.FormatInt(wf.ID, 10)
		payload["workflowType"] = wf.Type
	}
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
