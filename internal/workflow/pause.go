package workflow

import (
	"context"
	"log/slog"
	"time"

	"sfcfetch/internal/logging"
	"sfcfetch/internal/notifications"
	"sfcfetch/internal/store"
)

// PauseWorkflow stops a running workflow between documents. The most recently
// started in-flight document is marked paused and recorded in a snapshot so
// resume can restart it. It returns nil when nothing was in flight.
func (m *Manager) PauseWorkflow(ctx context.Context, id int64) (*store.PauseSnapshot, error) {
	ctx = runContext(ctx, id)
	logger := logging.WithContext(ctx, m.logger)

	if err := m.store.TransitionWorkflow(ctx, id, store.WorkflowPaused, store.WorkflowRunning); err != nil {
		return nil, err
	}

	doc, err := m.store.MostRecentActiveDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	wf, err := m.getWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		logger.Info("workflow paused with no active document", logging.String(logging.FieldEventType, "workflow_pause"))
		m.notify(ctx, logger, wf, notifications.EventWorkflowPaused, nil)
		return nil, nil
	}
	if err := m.store.SetDocumentStatus(ctx, doc.ID, store.DocumentPaused); err != nil {
		return nil, err
	}
	snapshot := store.PauseSnapshot{
		PausedAt:       time.Now().UTC(),
		DocumentID:     doc.ID,
		Reference:      doc.Reference,
		CurrentStep:    doc.CurrentStep,
		DocumentStatus: doc.Status,
	}
	if err := m.store.SavePauseSnapshot(ctx, id, snapshot); err != nil {
		return nil, err
	}
	logger.Info("workflow paused",
		logging.String(logging.FieldEventType, "workflow_pause"),
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String(logging.FieldReference, doc.Reference),
		logging.String("current_step", doc.CurrentStep),
	)
	m.notify(ctx, logger, wf, notifications.EventWorkflowPaused, notifications.Payload{
		"reference": doc.Reference,
		"step":      doc.CurrentStep,
	})
	return &snapshot, nil
}

// ResumeWorkflow restores a paused workflow and drives it until it pauses
// again or drains. Discovery does not run again on resume.
func (m *Manager) ResumeWorkflow(ctx context.Context, id int64) error {
	release, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	ctx = runContext(ctx, id)
	wf, err := m.beginResume(ctx, id)
	if err != nil {
		return err
	}
	return m.drive(ctx, wf)
}

// ResumeWorkflowAsync restores a paused workflow and drives it in the
// background. State errors are returned before the run is launched.
func (m *Manager) ResumeWorkflowAsync(ctx context.Context, id int64) error {
	release, err := m.acquire(id)
	if err != nil {
		return err
	}
	wf, err := m.beginResume(runContext(ctx, id), id)
	if err != nil {
		release()
		return err
	}
	m.background(id, release, func(ctx context.Context) error {
		return m.drive(ctx, wf)
	})
	return nil
}

// beginResume consumes the pause snapshot and moves the workflow back to
// running. The caller must hold the workflow's run lock.
func (m *Manager) beginResume(ctx context.Context, id int64) (*store.Workflow, error) {
	logger := logging.WithContext(ctx, m.logger)
	if _, err := m.getWorkflow(ctx, id); err != nil {
		return nil, err
	}

	snapshot, err := m.store.LoadPauseSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.TransitionWorkflow(ctx, id, store.WorkflowRunning, store.WorkflowPaused); err != nil {
		return nil, err
	}
	if snapshot != nil && snapshot.DocumentID != 0 {
		if err := m.resetSnapshotDocument(ctx, logger, snapshot); err != nil {
			return nil, err
		}
	}
	// With the run lock held no other driver is active, so anything still
	// marked in flight was interrupted and would otherwise never be claimed.
	recovered, err := m.store.RecoverInterruptedDocuments(ctx, id)
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		logger.Info("recovered interrupted documents", logging.Int("documents", recovered))
	}
	if err := m.store.DeletePauseSnapshot(ctx, id); err != nil {
		return nil, err
	}
	return m.getWorkflow(ctx, id)
}

func (m *Manager) resetSnapshotDocument(ctx context.Context, logger *slog.Logger, snapshot *store.PauseSnapshot) error {
	doc, err := m.store.GetDocument(ctx, snapshot.DocumentID)
	if err != nil {
		return err
	}
	// The run that was paused finishes its current document, so by now the
	// snapshot document may already be completed or failed.
	if doc == nil || (doc.Status != store.DocumentPaused && !doc.Status.IsRunning()) {
		logger.Info("paused document already settled",
			logging.Int64(logging.FieldDocumentID, snapshot.DocumentID),
			logging.String(logging.FieldReference, snapshot.Reference),
		)
		return nil
	}
	stepsReset, err := m.store.ResetDocumentForResume(ctx, doc.ID)
	if err != nil {
		return err
	}
	logger.Info("resuming from paused document",
		logging.String(logging.FieldEventType, "workflow_resume"),
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String(logging.FieldReference, doc.Reference),
		logging.String("current_step", snapshot.CurrentStep),
		logging.Int64("steps_reset", stepsReset),
	)
	return nil
}
