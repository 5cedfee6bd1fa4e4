package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"sfcfetch/internal/api"
	"sfcfetch/internal/config"
	"sfcfetch/internal/logging"
	"sfcfetch/internal/metrics"
	"sfcfetch/internal/stage"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
	"sfcfetch/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

// Daemon coordinates background workflow runs and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	store    *store.Store
	manager  *workflow.Manager
	registry *stage.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	lockPath string
	lock     *flock.Flock

	running atomic.Bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool    `json:"running"`
	PID          int     `json:"pid"`
	DatabasePath string  `json:"database_path"`
	LockFilePath string  `json:"lock_file_path"`
	APIAddress   string  `json:"api_address,omitempty"`
	ActiveRuns   []int64 `json:"active_runs"`
}

// New constructs a daemon around already-initialized dependencies.
func New(cfg *config.Config, st *store.Store, mgr *workflow.Manager, registry *stage.Registry, m *metrics.Metrics, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || mgr == nil || registry == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and step registry")
	}
	lockPath := cfg.DaemonLockPath()
	return &Daemon{
		cfg:      cfg,
		store:    st,
		manager:  mgr,
		registry: registry,
		metrics:  m,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, starts the API server when a bind address
// is configured, and restarts workflows that a previous process left running.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(d.cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sfcfetch daemon instance is already running")
	}

	if err := d.startAPI(); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	d.running.Store(true)
	d.logger.Info("sfcfetch daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("api_address", d.Addr()),
	)
	d.restartInterrupted(ctx)
	return nil
}

func (d *Daemon) startAPI() error {
	if d.cfg.Paths.APIBind == "" {
		return nil
	}
	handler, err := api.NewHandler(api.Options{
		Controller: d.manager,
		Metrics:    d.metrics.Handler(),
		Health:     d.Health,
		Token:      d.cfg.Paths.APIToken,
		Logger:     d.logger,
	})
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", d.cfg.Paths.APIBind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	d.mu.Lock()
	d.server, d.listener = server, listener
	d.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(d.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.api_bind and restart the daemon"),
			)
		}
	}()
	return nil
}

// restartInterrupted starts every workflow still marked running. Only the
// lock holder gets here, so those runs belonged to a process that died.
func (d *Daemon) restartInterrupted(ctx context.Context) {
	workflows, err := d.store.ListWorkflows(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "list workflows for restart failed", "daemon_restart_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "start interrupted workflows manually"),
		)
		return
	}
	for _, wf := range workflows {
		if wf.Status != store.WorkflowRunning {
			continue
		}
		if err := d.manager.StartWorkflowAsync(ctx, wf.ID); err != nil {
			logging.WarnWithContext(d.logger, "restart interrupted workflow failed", "workflow_restart_failed",
				logging.Int64(logging.FieldWorkflowID, wf.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "sfcfetch start <workflow_id>"),
			)
			continue
		}
		d.logger.Info("restarted interrupted workflow",
			logging.String(logging.FieldEventType, "workflow_restart"),
			logging.Int64(logging.FieldWorkflowID, wf.ID),
		)
	}
}

// Stop shuts down the API server, waits for background runs to return, and
// releases the daemon lock. Interrupted documents stay in flight and are
// recovered when their workflow next starts.
func (d *Daemon) Stop(ctx context.Context) {
	if !d.running.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	d.mu.Lock()
	server := d.server
	d.server, d.listener = nil, nil
	d.mu.Unlock()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			d.logger.Warn("api server shutdown failed", logging.Error(err))
		}
	}
	if err := d.manager.Shutdown(ctx); err != nil {
		logging.WarnWithContext(d.logger, "workflow runs did not stop in time", "daemon_shutdown_timeout",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "interrupted workflows are recovered on the next start"),
		)
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("sfcfetch daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Addr returns the address the API server listens on, or "" when it is disabled.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.Addr(),
		ActiveRuns:   d.manager.ActiveRuns(),
	}
}

// Health reports database health, handler readiness and active runs.
func (d *Daemon) Health(ctx context.Context) api.Health {
	h := api.Health{
		Status:          api.HealthOK,
		Handlers:        d.registry.HealthCheck(ctx),
		MissingHandlers: d.manager.CheckHandlers(subworkflow.Builtin()...),
		ActiveRuns:      d.manager.ActiveRuns(),
	}
	db, err := d.store.CheckHealth(ctx)
	h.Database = db
	if err != nil && db.Error == "" {
		h.Database.Error = err.Error()
	}
	if err != nil || !db.DatabaseReadable || !db.IntegrityCheck || len(db.MissingTables) > 0 {
		h.Status = api.HealthDegraded
	}
	for _, handler := range h.Handlers {
		if !handler.Ready {
			h.Status = api.HealthDegraded
		}
	}
	if len(h.MissingHandlers) > 0 {
		h.Status = api.HealthDegraded
	}
	return h
}
