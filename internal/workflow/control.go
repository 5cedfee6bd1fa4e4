package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sfcfetch/internal/logging"
	"sfcfetch/internal/services"
	"sfcfetch/internal/stepexec"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
)

const defaultMode = "full_download"

// CreateWorkflow records a pending workflow of a registered type. Unset
// configuration fields take the configured discovery defaults.
func (m *Manager) CreateWorkflow(ctx context.Context, workflowType string, wcfg store.WorkflowConfig) (*store.Workflow, error) {
	workflowType = strings.TrimSpace(workflowType)
	if workflowType == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "create", "workflow type is required", nil)
	}
	def, err := subworkflow.Load(ctx, m.store, workflowType)
	if errors.Is(err, services.ErrConfiguration) {
		return nil, services.Wrap(services.ErrValidation, "workflow", "create",
			fmt.Sprintf("unknown workflow type %q", workflowType), err)
	}
	if err != nil {
		return nil, err
	}
	if missing := m.registry.Missing(def.StepNames()); len(missing) > 0 {
		logging.WarnWithContext(m.logger, "workflow type has steps without handlers", "handlers_missing",
			logging.String("workflow_type", workflowType),
			logging.String("steps", strings.Join(missing, ",")),
			logging.String(logging.FieldErrorHint, "documents will fail with a configuration error at those steps"),
		)
	}

	if strings.TrimSpace(wcfg.Mode) == "" {
		wcfg.Mode = defaultMode
	}
	if strings.TrimSpace(wcfg.Lang) == "" {
		wcfg.Lang = m.cfg.Discovery.Lang
	}
	wcfg.Lang = strings.ToUpper(strings.TrimSpace(wcfg.Lang))
	if len(wcfg.Years) == 0 && len(m.cfg.Discovery.Years) > 0 {
		wcfg.Years = append([]int(nil), m.cfg.Discovery.Years...)
	}

	wf, err := m.store.CreateWorkflow(ctx, workflowType, wcfg)
	if err != nil {
		return nil, err
	}
	logging.WithContext(services.WithWorkflowID(ctx, wf.ID), m.logger).Info("workflow created",
		logging.String(logging.FieldEventType, "workflow_create"),
		logging.String("workflow_type", wf.Type),
		logging.String("mode", wf.Config.Mode),
	)
	return wf, nil
}

// StartWorkflow moves a pending workflow to running, discovers its documents
// and drives it in the foreground. A workflow left running by a process that
// died is restarted the same way after its interrupted documents are
// recovered. A completed workflow is reopened only when it has a search
// source or documents scheduled for retry; otherwise it stays completed and
// ErrPrecondition is returned. Paused workflows must be resumed instead.
func (m *Manager) StartWorkflow(ctx context.Context, id int64) error {
	release, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	ctx = runContext(ctx, id)
	wf, err := m.beginStart(ctx, id)
	if err != nil {
		return err
	}
	if err := m.discover(ctx, wf); err != nil {
		return err
	}
	return m.drive(ctx, wf)
}

// StartWorkflowAsync performs the state checks of StartWorkflow and then
// discovers and drives the workflow in the background.
func (m *Manager) StartWorkflowAsync(ctx context.Context, id int64) error {
	release, err := m.acquire(id)
	if err != nil {
		return err
	}
	wf, err := m.beginStart(runContext(ctx, id), id)
	if err != nil {
		release()
		return err
	}
	m.background(id, release, func(ctx context.Context) error {
		if err := m.discover(ctx, wf); err != nil {
			return err
		}
		return m.drive(ctx, wf)
	})
	return nil
}

func (m *Manager) beginStart(ctx context.Context, id int64) (*store.Workflow, error) {
	wf, err := m.getWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	switch wf.Status {
	case store.WorkflowPending:
	case store.WorkflowCompleted:
		if err := m.checkReopen(ctx, wf); err != nil {
			return nil, err
		}
	case store.WorkflowRunning:
		recovered, err := m.store.RecoverInterruptedDocuments(ctx, id)
		if err != nil {
			return nil, err
		}
		logging.WithContext(ctx, m.logger).Info("restarting interrupted workflow",
			logging.String(logging.FieldEventType, "workflow_recover"),
			logging.Int("documents_recovered", recovered),
		)
	case store.WorkflowPaused:
		return nil, services.Wrap(services.ErrPrecondition, "workflow", "start",
			fmt.Sprintf("workflow %d is paused; resume it instead", id), nil)
	default:
		return nil, services.Wrap(services.ErrPrecondition, "workflow", "start",
			fmt.Sprintf("workflow %d is %s", id, wf.Status), nil)
	}
	if err := m.store.TransitionWorkflow(ctx, id, store.WorkflowRunning,
		store.WorkflowPending, store.WorkflowRunning, store.WorkflowCompleted); err != nil {
		return nil, err
	}
	return m.getWorkflow(ctx, id)
}

// checkReopen keeps a completed workflow completed unless starting it again
// can do work: discovery may find new references, or documents were
// scheduled for retry since it finished.
func (m *Manager) checkReopen(ctx context.Context, wf *store.Workflow) error {
	if m.discoverer != nil && m.discoverer.Handles(wf.Type) {
		return nil
	}
	next, err := m.store.NextEligibleDocument(ctx, wf.ID)
	if err != nil {
		return err
	}
	if next == nil {
		return services.Wrap(services.ErrPrecondition, "workflow", "start",
			fmt.Sprintf("workflow %d is completed and has nothing left to process", wf.ID), nil)
	}
	return nil
}

// discover runs the discoverer, if any. A workflow type without a search
// source is not an error: its documents may be added by other means.
func (m *Manager) discover(ctx context.Context, wf *store.Workflow) error {
	if m.discoverer == nil {
		return nil
	}
	_, err := m.discoverer.Discover(ctx, wf)
	if errors.Is(err, services.ErrConfiguration) {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "discovery skipped", "discovery_skipped",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "register a search source for this workflow type"),
		)
		return nil
	}
	return err
}

// GetWorkflow returns one workflow or ErrNotFound.
func (m *Manager) GetWorkflow(ctx context.Context, id int64) (*store.Workflow, error) {
	return m.getWorkflow(ctx, id)
}

// ListWorkflows returns every workflow, newest first.
func (m *Manager) ListWorkflows(ctx context.Context) ([]*store.Workflow, error) {
	return m.store.ListWorkflows(ctx)
}

// Progress is a point-in-time view of a workflow's documents.
type Progress struct {
	WorkflowID           int64                        `json:"workflow_id"`
	Type                 string                       `json:"type"`
	Status               store.WorkflowStatus         `json:"status"`
	Total                int                          `json:"total"`
	Completed            int                          `json:"completed"`
	Failed               int                          `json:"failed"`
	Counts               map[store.DocumentStatus]int `json:"counts"`
	CompletionPercentage float64                      `json:"completion_percentage"`
	StartedAt            *time.Time                   `json:"started_at,omitempty"`
	CompletedAt          *time.Time                   `json:"completed_at,omitempty"`
	Pause                *store.PauseSnapshot         `json:"pause,omitempty"`
}

// Progress reports document counts per status for a workflow.
func (m *Manager) Progress(ctx context.Context, id int64) (*Progress, error) {
	wf, err := m.getWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := m.store.DocumentCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshot, err := m.store.LoadPauseSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	p := &Progress{
		WorkflowID:  wf.ID,
		Type:        wf.Type,
		Status:      wf.Status,
		Counts:      make(map[store.DocumentStatus]int, len(store.DocumentStatuses)),
		StartedAt:   wf.StartedAt,
		CompletedAt: wf.CompletedAt,
		Pause:       snapshot,
	}
	for _, status := range store.DocumentStatuses {
		n := counts[status]
		p.Counts[status] = n
		p.Total += n
	}
	p.Completed = counts[store.DocumentCompleted]
	p.Failed = counts[store.DocumentFailed]
	if p.Total > 0 {
		p.CompletionPercentage = float64(int(float64(p.Completed)*10000/float64(p.Total))) / 100
	}
	return p, nil
}

// FailedStep is one failed step of a failed document.
type FailedStep struct {
	Step     string     `json:"step"`
	Error    string     `json:"error"`
	Attempts int        `json:"attempts"`
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// FailedDocument pairs a failed document with the steps that failed.
type FailedDocument struct {
	Document    *store.Document `json:"document"`
	FailedSteps []FailedStep    `json:"failed_steps"`
}

// FailedDocuments lists the workflow's failed documents in discovery order.
func (m *Manager) FailedDocuments(ctx context.Context, id int64) ([]FailedDocument, error) {
	if _, err := m.getWorkflow(ctx, id); err != nil {
		return nil, err
	}
	docs, err := m.store.ListDocuments(ctx, id, store.DocumentFailed)
	if err != nil {
		return nil, err
	}
	report := make([]FailedDocument, 0, len(docs))
	for _, doc := range docs {
		records, err := m.store.ListStepRecords(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		entry := FailedDocument{Document: doc, FailedSteps: []FailedStep{}}
		for _, rec := range records {
			if rec.Status != store.StepFailed {
				continue
			}
			msg, attempts := stepexec.DecodeError(rec.Error)
			entry.FailedSteps = append(entry.FailedSteps, FailedStep{
				Step:     rec.StepName,
				Error:    msg,
				Attempts: attempts,
				FailedAt: rec.CompletedAt,
			})
		}
		report = append(report, entry)
	}
	return report, nil
}

// Steps returns the step records of a document in execution order.
func (m *Manager) Steps(ctx context.Context, documentID int64) ([]*store.StepRecord, error) {
	if _, err := m.getDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return m.store.ListStepRecords(ctx, documentID)
}

// Documents lists a workflow's documents, optionally filtered by status.
func (m *Manager) Documents(ctx context.Context, id int64, statuses ...store.DocumentStatus) ([]*store.Document, error) {
	if _, err := m.getWorkflow(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListDocuments(ctx, id, statuses...)
}
