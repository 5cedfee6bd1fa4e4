package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sfcfetch/internal/logging"
	"sfcfetch/internal/services"
	"sfcfetch/internal/store"
)

const (
	reasonManualRetry = "manual_retry"
	reasonBatchRetry  = "batch_retry"
)

// RetryDocument schedules a failed document for another pass. Its failed
// steps return to pending; completed steps are kept. The document is picked
// up by the next run of its workflow.
func (m *Manager) RetryDocument(ctx context.Context, documentID int64, reason string) error {
	doc, err := m.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != store.DocumentFailed {
		return services.Wrap(services.ErrPrecondition, "workflow", "retry",
			fmt.Sprintf("document %d is %s, not failed", doc.ID, doc.Status), nil)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = reasonManualRetry
	}
	if err := m.store.ScheduleRetry(ctx, doc.ID, reason); err != nil {
		return err
	}
	if _, err := m.store.RefreshWorkflowStats(ctx, doc.WorkflowID); err != nil {
		return err
	}
	logging.WithContext(services.WithWorkflowID(ctx, doc.WorkflowID), m.logger).Info("document retry scheduled",
		logging.String(logging.FieldEventType, "document_retry"),
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String(logging.FieldReference, doc.Reference),
		logging.String("reason", reason),
		logging.Int("retry_count", doc.RetryCount+1),
	)
	return nil
}

// RetryAllFailed schedules every failed document of the workflow. Each
// document is retried independently; the count of scheduled documents is
// returned together with any per-document errors.
func (m *Manager) RetryAllFailed(ctx context.Context, workflowID int64, reason string) (int, error) {
	if _, err := m.getWorkflow(ctx, workflowID); err != nil {
		return 0, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = reasonBatchRetry
	}
	failed, err := m.store.ListDocuments(ctx, workflowID, store.DocumentFailed)
	if err != nil {
		return 0, err
	}
	scheduled := 0
	var errs []error
	for _, doc := range failed {
		if beforeBatchRetry != nil {
			beforeBatchRetry(doc.ID)
		}
		if err := m.RetryDocument(ctx, doc.ID, reason); err != nil {
			errs = append(errs, fmt.Errorf("document %d (%s): %w", doc.ID, doc.Reference, err))
			continue
		}
		scheduled++
	}
	return scheduled, errors.Join(errs...)
}
