package workflow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sfcfetch/internal/circulars"
	"sfcfetch/internal/config"
	"sfcfetch/internal/discovery"
	"sfcfetch/internal/notifications"
	"sfcfetch/internal/stage"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
	"sfcfetch/internal/testsupport"
	"sfcfetch/internal/workflow"
)

// harness wires a Manager to a real store with the circulars handlers wrapped
// so tests can count invocations and override individual steps.
type harness struct {
	t     *testing.T
	cfg   *config.Config
	store *store.Store
	mgr   *workflow.Manager

	mu     sync.Mutex
	calls  map[string]int
	order  []string
	hooks  map[string]stage.HandlerFunc
	events []published
}

type published struct {
	event   notifications.Event
	payload notifications.Payload
}

func newHarness(t *testing.T, withDiscovery bool, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	if err := subworkflow.Install(context.Background(), st, subworkflow.Builtin()...); err != nil {
		t.Fatalf("Install: %v", err)
	}

	h := &harness{
		t:     t,
		cfg:   cfg,
		store: st,
		calls: make(map[string]int),
		hooks: make(map[string]stage.HandlerFunc),
	}

	base := stage.NewRegistry()
	if err := circulars.NewHandlers(cfg.Paths.DataDir).Register(base); err != nil {
		t.Fatalf("register circulars: %v", err)
	}
	registry := stage.NewRegistry()
	for _, name := range base.Names() {
		inner, _ := base.Lookup(name)
		registry.MustRegister(name, h.wrap(name, inner))
	}

	mgrOpts := []workflow.ManagerOption{workflow.WithNotifier(h)}
	if withDiscovery {
		d := discovery.New(cfg, st, nil, nil)
		d.Register(subworkflow.TypeCirculars, circulars.SampleSource{})
		mgrOpts = append(mgrOpts, workflow.WithDiscoverer(d))
	}
	mgr, err := workflow.NewManager(cfg, st, registry, nil, mgrOpts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	h.mgr = mgr
	return h
}

func (h *harness) wrap(name string, inner stage.Handler) stage.HandlerFunc {
	return func(ctx context.Context, doc *store.Document, cfg store.WorkflowConfig) (stage.Output, error) {
		h.mu.Lock()
		key := doc.Reference + "/" + name
		h.calls[key]++
		h.order = append(h.order, key)
		hook := h.hooks[name]
		h.mu.Unlock()
		if hook != nil {
			return hook(ctx, doc, cfg)
		}
		return inner.Perform(ctx, doc, cfg)
	}
}

// Publish records notifications sent by the manager.
func (h *harness) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, published{event: event, payload: payload})
	return nil
}

func (h *harness) published() []published {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]published(nil), h.events...)
}

func (h *harness) hook(step string, fn stage.HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.hooks, step)
		return
	}
	h.hooks[step] = fn
}

func (h *harness) count(ref, step string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[ref+"/"+step]
}

// firstCalls returns references in the order step first ran for them.
func (h *harness) firstCalls(step string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var refs []string
	seen := map[string]bool{}
	for _, key := range h.order {
		i := strings.LastIndex(key, "/")
		ref, name := key[:i], key[i+1:]
		if name == step && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

func (h *harness) createWorkflow(years ...int) *store.Workflow {
	h.t.Helper()
	wf, err := h.mgr.CreateWorkflow(context.Background(), subworkflow.TypeCirculars, store.WorkflowConfig{Years: years})
	if err != nil {
		h.t.Fatalf("CreateWorkflow: %v", err)
	}
	return wf
}

func (h *harness) addDocument(wf *store.Workflow, ref string, discoveredAt time.Time, appendices int) *store.Document {
	h.t.Helper()
	return testsupport.MustAddDocument(h.t, h.store, wf, ref, discoveredAt, circulars.Metadata{
		RefNo:         ref,
		Title:         "Circular " + ref,
		Year:          2026,
		HasAppendix:   appendices > 0,
		AppendixCount: appendices,
	})
}

func (h *harness) document(wf *store.Workflow, ref string) *store.Document {
	h.t.Helper()
	return testsupport.MustFindDocument(h.t, h.store, wf.ID, ref)
}

func (h *harness) step(doc *store.Document, name string) *store.StepRecord {
	h.t.Helper()
	return testsupport.MustStepRecord(h.t, h.store, doc.ID, name)
}

func (h *harness) workflow(id int64) *store.Workflow {
	h.t.Helper()
	wf, err := h.mgr.GetWorkflow(context.Background(), id)
	if err != nil {
		h.t.Fatalf("GetWorkflow: %v", err)
	}
	return wf
}

func failing(msg string) stage.HandlerFunc {
	return func(context.Context, *store.Document, store.WorkflowConfig) (stage.Output, error) {
		return nil, fmt.Errorf("%s", msg)
	}
}

func decodeOutput(t *testing.T, rec *store.StepRecord) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Output, &out); err != nil {
		t.Fatalf("decode output of %s: %v", rec.StepName, err)
	}
	return out
}
