// Package discovery pages through a search source and records every
// reference it has not seen before as a pending document.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sfcfetch/internal/config"
	"sfcfetch/internal/logging"
	"sfcfetch/internal/metrics"
	"sfcfetch/internal/services"
	"sfcfetch/internal/store"
)

// Query selects one page of search results.
type Query struct {
	Year     int
	PageNo   int
	PageSize int
	Lang     string
}

// Item is one search hit. Reference must be stable across searches.
type Item struct {
	Reference    string
	Metadata     json.RawMessage
	DiscoveredAt time.Time
}

// Page is one page of results plus the total hit count across all pages.
type Page struct {
	Items []Item
	Total int
}

// Source is a paginated search backend for one workflow type.
type Source interface {
	Search(ctx context.Context, q Query) (Page, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) (Page, error)

// Search calls f.
func (f SourceFunc) Search(ctx context.Context, q Query) (Page, error) {
	return f(ctx, q)
}

// Summary reports what one discovery pass did.
type Summary struct {
	Discovered int `json:"discovered"`
	Existing   int `json:"existing"`
	Pages      int `json:"pages"`
	PageErrors int `json:"page_errors"`
}

// Discoverer inserts search results for workflows whose type has a registered
// Source.
type Discoverer struct {
	store    *store.Store
	pageSize int
	lang     string
	years    []int
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	sources map[string]Source
}

// New builds a Discoverer from the discovery section of cfg.
func New(cfg *config.Config, st *store.Store, m *metrics.Metrics, logger *slog.Logger) *Discoverer {
	rps := cfg.Discovery.RequestsPerSecond
	return &Discoverer{
		store:    st,
		pageSize: cfg.Discovery.PageSize,
		lang:     cfg.Discovery.Lang,
		years:    cfg.Discovery.Years,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		metrics:  m,
		logger:   logging.NewComponentLogger(logger, "discovery"),
		now:      time.Now,
		sources:  make(map[string]Source),
	}
}

// Register binds a source to a workflow type, replacing any previous one.
func (d *Discoverer) Register(workflowType string, src Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[workflowType] = src
}

// Handles reports whether a source is registered for workflowType.
func (d *Discoverer) Handles(workflowType string) bool {
	_, ok := d.source(workflowType)
	return ok
}

func (d *Discoverer) source(workflowType string) (Source, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	src, ok := d.sources[workflowType]
	return src, ok
}

// Discover enumerates every configured year for wf and inserts unseen
// references. A failing page ends that year's enumeration and is logged;
// store failures and cancellation abort the pass.
func (d *Discoverer) Discover(ctx context.Context, wf *store.Workflow) (Summary, error) {
	var summary Summary
	if wf == nil {
		return summary, errors.New("discover: workflow is required")
	}
	src, ok := d.source(wf.Type)
	if !ok {
		return summary, services.Wrap(services.ErrConfiguration, "discovery", "discover",
			fmt.Sprintf("no source registered for workflow type %q", wf.Type), nil)
	}
	ctx = services.WithWorkflowID(ctx, wf.ID)
	logger := logging.WithContext(ctx, d.logger)

	lang := strings.TrimSpace(wf.Config.Lang)
	if lang == "" {
		lang = d.lang
	}
	for _, year := range d.yearsFor(wf) {
		if err := d.discoverYear(ctx, logger, wf, src, year, lang, &summary); err != nil {
			return summary, err
		}
	}
	d.metrics.RecordDiscovery(wf.Type, summary.Discovered, summary.Existing)
	logger.Info("discovery finished",
		logging.Int("discovered", summary.Discovered),
		logging.Int("existing", summary.Existing),
		logging.Int("pages", summary.Pages),
		logging.Int("page_errors", summary.PageErrors),
	)
	return summary, nil
}

func (d *Discoverer) discoverYear(ctx context.Context, logger *slog.Logger, wf *store.Workflow, src Source, year int, lang string, summary *Summary) error {
	for pageNo := 0; ; pageNo++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		page, err := src.Search(ctx, Query{Year: year, PageNo: pageNo, PageSize: d.pageSize, Lang: lang})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			summary.PageErrors++
			logging.WarnWithContext(logger, "search page failed; skipping rest of year", "discovery_page_failed",
				logging.Int("year", year),
				logging.Int("page", pageNo),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "start the workflow again to rediscover; existing documents are kept"),
			)
			return nil
		}
		summary.Pages++
		for _, item := range page.Items {
			inserted, err := d.store.InsertDocumentIfAbsent(ctx, wf.ID, store.NewDocument{
				Type:         wf.Type,
				Reference:    item.Reference,
				Metadata:     item.Metadata,
				DiscoveredAt: item.DiscoveredAt,
			})
			if err != nil {
				return err
			}
			if inserted {
				summary.Discovered++
				logger.Debug("document discovered", logging.String(logging.FieldReference, item.Reference))
			} else {
				summary.Existing++
			}
		}
		if len(page.Items) == 0 || pageNo >= lastPage(page.Total, d.pageSize) {
			return nil
		}
	}
}

func (d *Discoverer) yearsFor(wf *store.Workflow) []int {
	if len(wf.Config.Years) > 0 {
		return wf.Config.Years
	}
	if len(d.years) > 0 {
		return d.years
	}
	return []int{d.now().Year()}
}

// lastPage returns the zero-based index of the final page.
func lastPage(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total+pageSize-1)/pageSize - 1
}
