package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"sfcfetch/internal/logging"
	"sfcfetch/internal/services"
	"sfcfetch/internal/store"
	"sfcfetch/internal/workflow"
)

// Controller is the subset of *workflow.Manager the API drives. Start and
// resume run in the background so requests return once state checks pass.
type Controller interface {
	CreateWorkflow(ctx context.Context, workflowType string, cfg store.WorkflowConfig) (*store.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*store.Workflow, error)
	GetWorkflow(ctx context.Context, id int64) (*store.Workflow, error)
	StartWorkflowAsync(ctx context.Context, id int64) error
	PauseWorkflow(ctx context.Context, id int64) (*store.PauseSnapshot, error)
	ResumeWorkflowAsync(ctx context.Context, id int64) error
	RetryDocument(ctx context.Context, documentID int64, reason string) error
	RetryAllFailed(ctx context.Context, workflowID int64, reason string) (int, error)
	Progress(ctx context.Context, id int64) (*workflow.Progress, error)
	FailedDocuments(ctx context.Context, id int64) ([]workflow.FailedDocument, error)
	Documents(ctx context.Context, id int64, statuses ...store.DocumentStatus) ([]*store.Document, error)
	Steps(ctx context.Context, documentID int64) ([]*store.StepRecord, error)
}

// HealthFunc reports current health for GET /api/health.
type HealthFunc func(ctx context.Context) Health

// Options configures NewHandler.
type Options struct {
	Controller Controller
	// Metrics serves GET /metrics. Nil leaves the route unregistered.
	Metrics http.Handler
	Health  HealthFunc
	// Token, when non-empty, is required as a bearer token on /api routes.
	Token  string
	Logger *slog.Logger
}

// maxBodyBytes bounds request bodies; every body here is a small JSON object.
const maxBodyBytes = 1 << 20

type server struct {
	ctrl   Controller
	health HealthFunc
	logger *slog.Logger
}

// NewHandler builds the HTTP handler for the control surface.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Controller == nil {
		return nil, errors.New("api: controller is required")
	}
	s := &server{
		ctrl:   opts.Controller,
		health: opts.Health,
		logger: logging.NewComponentLogger(opts.Logger, "api-server"),
	}

	mux := http.NewServeMux()
	route := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(opts.Token, fn))
	}
	route("GET /api/workflows", s.handleListWorkflows)
	route("POST /api/workflows", s.handleCreateWorkflow)
	route("GET /api/workflows/{id}", s.handleGetWorkflow)
	route("POST /api/workflows/{id}/start", s.handleStart)
	route("POST /api/workflows/{id}/pause", s.handlePause)
	route("POST /api/workflows/{id}/resume", s.handleResume)
	route("POST /api/workflows/{id}/retry-failed", s.handleRetryAll)
	route("GET /api/workflows/{id}/progress", s.handleProgress)
	route("GET /api/workflows/{id}/failed", s.handleFailed)
	route("GET /api/workflows/{id}/documents", s.handleDocuments)
	route("GET /api/documents/{id}/steps", s.handleSteps)
	route("POST /api/documents/{id}/retry", s.handleRetryDocument)
	route("GET /api/health", s.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	return mux, nil
}

func (s *server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.ctrl.ListWorkflows(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if workflows == nil {
		workflows = []*store.Workflow{}
	}
	s.writeJSON(w, http.StatusOK, WorkflowListResponse{Workflows: workflows})
}

func (s *server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	wf, err := s.ctrl.CreateWorkflow(r.Context(), req.Type, req.Config())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, WorkflowResponse{Workflow: wf})
}

func (s *server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	wf, err := s.ctrl.GetWorkflow(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, WorkflowResponse{Workflow: wf})
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.StartWorkflowAsync(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ActionResponse{WorkflowID: id, Action: "start", Accepted: true})
}

func (s *server) handlePause(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	snapshot, err := s.ctrl.PauseWorkflow(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PauseResponse{WorkflowID: id, Snapshot: snapshot})
}

func (s *server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.ResumeWorkflowAsync(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ActionResponse{WorkflowID: id, Action: "resume", Accepted: true})
}

func (s *server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req RetryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	scheduled, err := s.ctrl.RetryAllFailed(r.Context(), id, req.Reason)
	resp := RetryAllResponse{WorkflowID: id, Scheduled: scheduled}
	if err != nil {
		joined, ok := err.(interface{ Unwrap() []error })
		if !ok {
			s.writeFailure(w, r, err)
			return
		}
		// Per-document failures are reported alongside the ones that succeeded.
		for _, docErr := range joined.Unwrap() {
			resp.Errors = append(resp.Errors, docErr.Error())
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	p, err := s.ctrl.Progress(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *server) handleFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	docs, err := s.ctrl.FailedDocuments(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FailedResponse{WorkflowID: id, Documents: docs})
}

func (s *server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var statuses []store.DocumentStatus
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				statuses = append(statuses, store.DocumentStatus(trimmed))
			}
		}
	}
	docs, err := s.ctrl.Documents(r.Context(), id, statuses...)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if docs == nil {
		docs = []*store.Document{}
	}
	s.writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs})
}

func (s *server) handleSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	steps, err := s.ctrl.Steps(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if steps == nil {
		steps = []*store.StepRecord{}
	}
	s.writeJSON(w, http.StatusOK, StepsResponse{DocumentID: id, Steps: steps})
}

func (s *server) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req RetryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.ctrl.RetryDocument(r.Context(), id, req.Reason); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ActionResponse{DocumentID: id, Action: "retry", Accepted: true})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, Health{Status: HealthOK, ActiveRuns: []int64{}})
		return
	}
	h := s.health(r.Context())
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, h)
}

func (s *server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

// decodeBody reads an optional JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return services.Wrap(services.ErrValidation, "api", "decode body", "malformed JSON", err)
	}
	return nil
}

// StatusFor maps an error to its HTTP status using the services markers.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the daemon log and database health"),
		)
	}
	s.writeError(w, status, err.Error())
}

func (s *server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
