package discovery_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"sfcfetch/internal/discovery"
	"sfcfetch/internal/services"
	"sfcfetch/internal/store"
	"sfcfetch/internal/testsupport"
)

// pagedSource serves total references split into pages and records queries.
type pagedSource struct {
	total   int
	failAt  map[int]bool
	queries []discovery.Query
}

func (s *pagedSource) Search(_ context.Context, q discovery.Query) (discovery.Page, error) {
	s.queries = append(s.queries, q)
	if s.failAt[q.PageNo] {
		return discovery.Page{}, errors.New("503 service unavailable")
	}
	var items []discovery.Item
	for i := q.PageNo * q.PageSize; i < (q.PageNo+1)*q.PageSize && i < s.total; i++ {
		meta, _ := json.Marshal(map[string]int{"year": q.Year})
		items = append(items, discovery.Item{Reference: fmt.Sprintf("%dEC%d", q.Year%100, i), Metadata: meta})
	}
	return discovery.Page{Items: items, Total: s.total}, nil
}

func TestDiscoverPagesAndDeduplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Discovery.PageSize = 2
	st := testsupport.MustOpenStore(t, cfg)
	wf, err := st.CreateWorkflow(context.Background(), "circulars", store.WorkflowConfig{Years: []int{2026}})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	src := &pagedSource{total: 5}
	d := discovery.New(cfg, st, nil, nil)
	d.Register("circulars", src)

	summary, err := d.Discover(context.Background(), wf)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if summary.Discovered != 5 || summary.Existing != 0 || summary.Pages != 3 {
		t.Fatalf("unexpected first summary: %+v", summary)
	}
	if len(src.queries) != 3 || src.queries[2].PageNo != 2 || src.queries[0].Lang != "EN" {
		t.Fatalf("unexpected queries: %+v", src.queries)
	}

	summary, err = d.Discover(context.Background(), wf)
	if err != nil {
		t.Fatalf("second Discover: %v", err)
	}
	if summary.Discovered != 0 || summary.Existing != 5 {
		t.Fatalf("expected second pass to find only existing documents: %+v", summary)
	}
	docs, err := st.ListDocuments(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 5 {
		t.Fatalf("expected 5 documents, got %d", len(docs))
	}
	if docs[0].Reference != "26EC0" || docs[4].Reference != "26EC4" {
		t.Fatalf("expected discovery order to be kept, got %s..%s", docs[0].Reference, docs[4].Reference)
	}
}

func TestDiscoverPageErrorEndsYearOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Discovery.PageSize = 2
	st := testsupport.MustOpenStore(t, cfg)
	wf, err := st.CreateWorkflow(context.Background(), "circulars", store.WorkflowConfig{Years: []int{2025, 2026}})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	src := &pagedSource{total: 6, failAt: map[int]bool{1: true}}
	d := discovery.New(cfg, st, nil, nil)
	d.Register("circulars", src)

	summary, err := d.Discover(context.Background(), wf)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if summary.Discovered != 4 || summary.PageErrors != 2 {
		t.Fatalf("expected first page of each year, got %+v", summary)
	}
}

func TestDiscoverWithoutSourceIsConfigurationError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	wf := testsupport.MustCreateWorkflow(t, st, "news")

	_, err := discovery.New(cfg, st, nil, nil).Discover(context.Background(), wf)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDiscoverFallsBackToConfiguredYears(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Discovery.Years = []int{2019}
	st := testsupport.MustOpenStore(t, cfg)
	wf := testsupport.MustCreateWorkflow(t, st, "circulars")
	src := &pagedSource{total: 1}
	d := discovery.New(cfg, st, nil, nil)
	d.Register("circulars", src)

	if _, err := d.Discover(context.Background(), wf); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(src.queries) != 1 || src.queries[0].Year != 2019 {
		t.Fatalf("expected configured year, got %+v", src.queries)
	}
}
