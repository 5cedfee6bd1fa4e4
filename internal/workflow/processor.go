package workflow

import (
	"context"
	"fmt"

	"sfcfetch/internal/logging"
	"sfcfetch/internal/services"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
)

// StepFailedError reports a required step that exhausted its attempts.
type StepFailedError struct {
	Step string
	Err  error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}

// ProcessDocument marks doc downloading and runs its subworkflow. Failure of
// a step without continue_on_error is returned as *StepFailedError; the
// caller decides what to record on the document.
func (m *Manager) ProcessDocument(ctx context.Context, doc *store.Document) error {
	if doc == nil {
		return services.Wrap(services.ErrValidation, "workflow", "process", "document is required", nil)
	}
	wf, err := m.getWorkflow(ctx, doc.WorkflowID)
	if err != nil {
		return err
	}
	if err := m.store.StartDocument(ctx, doc.ID); err != nil {
		return err
	}
	return m.process(ctx, wf, doc)
}

func (m *Manager) process(ctx context.Context, wf *store.Workflow, doc *store.Document) error {
	ctx = services.WithDocumentID(ctx, doc.ID)
	logger := logging.WithContext(ctx, m.logger).With(logging.String(logging.FieldReference, doc.Reference))

	def, err := subworkflow.Load(ctx, m.store, doc.Type)
	if err != nil {
		return err
	}
	logger.Info("document started",
		logging.String(logging.FieldEventType, "document_start"),
		logging.Int("steps", len(def.Steps)),
	)

	for _, step := range def.Steps {
		res, err := m.exec.Execute(ctx, doc, step, wf.Config)
		if err != nil {
			return err
		}
		if !res.Succeeded() {
			if !step.ContinueOnError {
				return &StepFailedError{Step: step.Name, Err: res.Err}
			}
			logging.WarnWithContext(logger, "optional step failed; continuing", "step_tolerated",
				logging.String(logging.FieldStep, step.Name),
				logging.Error(res.Err),
				logging.String(logging.FieldErrorHint, "the document completes without this step's output"),
			)
		}
		if err := m.store.SetCurrentStep(ctx, doc.ID, step.Name); err != nil {
			return err
		}
	}

	if err := m.store.CompleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	logger.Info("document completed", logging.String(logging.FieldEventType, "document_complete"))
	return nil
}
