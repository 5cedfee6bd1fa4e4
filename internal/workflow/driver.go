package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sfcfetch/internal/logging"
	"sfcfetch/internal/metrics"
	"sfcfetch/internal/notifications"
	"sfcfetch/internal/services"
	"sfcfetch/internal/store"
)

// Run drives a running workflow until it is paused or has no eligible
// documents left. It fails with ErrPrecondition when the workflow is not
// running or another driver already holds it.
func (m *Manager) Run(ctx context.Context, id int64) error {
	release, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	wf, err := m.getWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status != store.WorkflowRunning {
		return services.Wrap(services.ErrPrecondition, "workflow", "run",
			"workflow is "+string(wf.Status)+", not running", nil)
	}
	return m.drive(runContext(ctx, id), wf)
}

func (m *Manager) drive(ctx context.Context, wf *store.Workflow) error {
	logger := logging.WithContext(ctx, m.logger).With(logging.String("workflow_type", wf.Type))
	logger.Info("workflow run started",
		logging.String(logging.FieldEventType, "workflow_run_start"),
		logging.Int("document_concurrency", m.cfg.Workflow.DocumentConcurrency),
	)
	var err error
	if limit := m.cfg.Workflow.DocumentConcurrency; limit > 1 {
		err = m.driveConcurrent(ctx, logger, wf, limit)
	} else {
		err = m.driveSerial(ctx, logger, wf)
	}
	if _, statsErr := m.store.RefreshWorkflowStats(context.WithoutCancel(ctx), wf.ID); statsErr != nil {
		logger.Warn("refresh workflow stats failed", logging.Error(statsErr))
	}
	return err
}

func (m *Manager) driveSerial(ctx context.Context, logger *slog.Logger, wf *store.Workflow) error {
	for {
		stop, err := m.stopRequested(ctx, logger, wf.ID)
		if err != nil || stop {
			return err
		}
		doc, err := m.store.ClaimNextDocument(ctx, wf.ID)
		if err != nil {
			return err
		}
		if doc == nil {
			return m.finish(ctx, logger, wf)
		}
		if err := m.handleDocument(ctx, logger, wf, doc); err != nil {
			return err
		}
		if err := m.pace(ctx, m.cfg.DocumentDelay()); err != nil {
			return err
		}
	}
}

// driveConcurrent keeps up to limit documents in flight. Documents are still
// claimed in discovery order; only their completion order varies.
func (m *Manager) driveConcurrent(ctx context.Context, logger *slog.Logger, wf *store.Workflow, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	drained := false
	var loopErr error
	for loopErr == nil {
		stop, err := m.stopRequested(gctx, logger, wf.ID)
		if err != nil {
			loopErr = err
			break
		}
		if stop {
			break
		}
		doc, err := m.store.ClaimNextDocument(gctx, wf.ID)
		if err != nil {
			loopErr = err
			break
		}
		if doc == nil {
			drained = true
			break
		}
		g.Go(func() error {
			return m.handleDocument(gctx, logger, wf, doc)
		})
		loopErr = m.pace(gctx, m.cfg.DocumentDelay())
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if loopErr != nil {
		return loopErr
	}
	if !drained {
		return nil
	}
	// Documents finishing after the last claim may have been retried or
	// recovered in the meantime; only complete when nothing is eligible.
	next, err := m.store.NextEligibleDocument(ctx, wf.ID)
	if err != nil {
		return err
	}
	if next != nil {
		return m.driveConcurrent(ctx, logger, wf, limit)
	}
	return m.finish(ctx, logger, wf)
}

// stopRequested reports whether the workflow left the running state.
func (m *Manager) stopRequested(ctx context.Context, logger *slog.Logger, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	wf, err := m.getWorkflow(ctx, id)
	if err != nil {
		return true, err
	}
	switch wf.Status {
	case store.WorkflowRunning:
		return false, nil
	case store.WorkflowPaused:
		logger.Info("workflow paused; stopping run", logging.String(logging.FieldEventType, "workflow_paused"))
	default:
		logger.Info("workflow no longer running; stopping run", logging.String("status", string(wf.Status)))
	}
	return true, nil
}

func (m *Manager) finish(ctx context.Context, logger *slog.Logger, wf *store.Workflow) error {
	stats, err := m.store.RefreshWorkflowStats(ctx, wf.ID)
	if err != nil {
		return err
	}
	err = m.store.TransitionWorkflow(ctx, wf.ID, store.WorkflowCompleted, store.WorkflowRunning)
	if errors.Is(err, services.ErrPrecondition) {
		logger.Info("workflow paused before completion", logging.String(logging.FieldEventType, "workflow_paused"))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("workflow completed",
		logging.String(logging.FieldEventType, "workflow_complete"),
		logging.Int("total", stats.Total),
		logging.Int("completed", stats.Completed),
		logging.Int("failed", stats.Failed),
	)
	payload := notifications.Payload{
		"total":     strconv.Itoa(stats.Total),
		"completed": strconv.Itoa(stats.Completed),
		"failed":    strconv.Itoa(stats.Failed),
	}
	if wf.StartedAt != nil {
		payload["duration"] = time.Since(*wf.StartedAt).Round(time.Second).String()
	}
	m.notify(ctx, logger, wf, notifications.EventWorkflowCompleted, payload)
	return nil
}

// handleDocument processes one claimed document and records the outcome.
// Step failures are recorded and swallowed; configuration errors, store
// errors and cancellation end the run.
func (m *Manager) handleDocument(ctx context.Context, logger *slog.Logger, wf *store.Workflow, doc *store.Document) error {
	err := m.process(ctx, wf, doc)
	if err == nil {
		m.metrics.RecordDocument(wf.Type, metrics.OutcomeCompleted)
		_, statsErr := m.store.RefreshWorkflowStats(ctx, wf.ID)
		return statsErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// Left downloading or paused; resume or the next start recovers it.
		return ctxErr
	}

	docLogger := logger.With(
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String(logging.FieldReference, doc.Reference),
	)
	message := strings.TrimSpace(err.Error())
	if failErr := m.store.FailDocument(ctx, doc.ID, message); failErr != nil {
		return errors.Join(err, failErr)
	}
	m.metrics.RecordDocument(wf.Type, metrics.OutcomeFailed)
	if _, statsErr := m.store.RefreshWorkflowStats(ctx, wf.ID); statsErr != nil {
		return statsErr
	}

	var stepErr *StepFailedError
	if errors.As(err, &stepErr) {
		logging.WarnWithContext(docLogger, "document failed", "document_failed",
			logging.String(logging.FieldStep, stepErr.Step),
			logging.Error(stepErr.Err),
			logging.String(logging.FieldErrorHint, "sfcfetch retry <document_id> once the cause is fixed"),
		)
		m.notify(ctx, docLogger, wf, notifications.EventDocumentFailed, notifications.Payload{
			"reference": doc.Reference,
			"step":      stepErr.Step,
			"error":     stepErr.Err.Error(),
		})
		return nil
	}
	logging.ErrorWithContext(docLogger, "document aborted the run", "document_aborted",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "fix the configuration, retry the document, then start the workflow again"),
	)
	m.notify(ctx, docLogger, wf, notifications.EventRunAborted, notifications.Payload{
		"reference": doc.Reference,
		"error":     message,
	})
	return err
}
