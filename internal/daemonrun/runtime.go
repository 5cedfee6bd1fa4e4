// Package daemonrun assembles the sfcfetch runtime and runs the daemon
// process loop.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sfcfetch/internal/circulars"
	"sfcfetch/internal/config"
	"sfcfetch/internal/discovery"
	"sfcfetch/internal/metrics"
	"sfcfetch/internal/notifications"
	"sfcfetch/internal/stage"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
	"sfcfetch/internal/workflow"
)

// Runtime is the wired set of components shared by the daemon and the
// foreground CLI commands.
type Runtime struct {
	Config   *config.Config
	Store    *store.Store
	Registry *stage.Registry
	Metrics  *metrics.Metrics
	Manager  *workflow.Manager
	Logger   *slog.Logger
}

// Build opens the store, installs the built-in workflow types, registers
// their step handlers and discovery sources, and constructs the manager with
// metrics and notifications attached.
func Build(cfg *config.Config, logger *slog.Logger, opts ...workflow.ManagerOption) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := subworkflow.Install(context.Background(), st, subworkflow.Builtin()...); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("install workflow types: %w", err)
	}

	registry := stage.NewRegistry()
	if err := circulars.NewHandlers(cfg.Paths.DataDir).Register(registry); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register circular handlers: %w", err)
	}

	m := metrics.New()
	discoverer := discovery.New(cfg, st, m, logger)
	discoverer.Register(subworkflow.TypeCirculars, circulars.SampleSource{})

	opts = append([]workflow.ManagerOption{
		workflow.WithMetrics(m),
		workflow.WithDiscoverer(discoverer),
		workflow.WithNotifier(notifications.NewService(cfg)),
	}, opts...)
	mgr, err := workflow.NewManager(cfg, st, registry, logger, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Runtime{
		Config:   cfg,
		Store:    st,
		Registry: registry,
		Metrics:  m,
		Manager:  mgr,
		Logger:   logger,
	}, nil
}

// Close stops background runs and closes the store.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	shutdownErr := r.Manager.Shutdown(ctx)
	return errors.Join(shutdownErr, r.Store.Close())
}
