package testsupport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sfcfetch/internal/config"
	"sfcfetch/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// MustCreateWorkflow inserts a workflow of the given type.
func MustCreateWorkflow(t testing.TB, st *store.Store, workflowType string) *store.Workflow {
	t.Helper()

	wf, err := st.CreateWorkflow(context.Background(), workflowType, store.WorkflowConfig{Mode: "test"})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	return wf
}

// MustAddDocument inserts a pending document discovered at the given time and
// returns it. metadata is marshalled to JSON when non-nil.
func MustAddDocument(t testing.TB, st *store.Store, wf *store.Workflow, reference string, discoveredAt time.Time, metadata any) *store.Document {
	t.Helper()

	ctx := context.Background()
	var raw json.RawMessage
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			t.Fatalf("marshal metadata: %v", err)
		}
		raw = data
	}
	inserted, err := st.InsertDocumentIfAbsent(ctx, wf.ID, store.NewDocument{
		Type:         wf.Type,
		Reference:    reference,
		Metadata:     raw,
		DiscoveredAt: discoveredAt,
	})
	if err != nil {
		t.Fatalf("InsertDocumentIfAbsent(%s): %v", reference, err)
	}
	if !inserted {
		t.Fatalf("document %s already existed", reference)
	}
	return MustFindDocument(t, st, wf.ID, reference)
}

// MustFindDocument returns the workflow's document with the given reference.
func MustFindDocument(t testing.TB, st *store.Store, workflowID int64, reference string) *store.Document {
	t.Helper()

	docs, err := st.ListDocuments(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	for _, doc := range docs {
		if doc.Reference == reference {
			return doc
		}
	}
	t.Fatalf("document %s not found in workflow %d", reference, workflowID)
	return nil
}

// MustStepRecord returns the step record, failing the test when it is missing.
func MustStepRecord(t testing.TB, st *store.Store, documentID int64, step string) *store.StepRecord {
	t.Helper()

	rec, err := st.GetStepRecord(context.Background(), documentID, step)
	if err != nil {
		t.Fatalf("GetStepRecord(%s): %v", step, err)
	}
	if rec == nil {
		t.Fatalf("expected step record for %s on document %d", step, documentID)
	}
	return rec
}
