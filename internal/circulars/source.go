package circulars

import (
	"context"

	"sfcfetch/internal/discovery"
)

// SampleSource serves a fixed pair of circulars for every year. It stands in
// for the regulator's search endpoint.
type SampleSource struct{}

var sampleHits = []SearchHit{
	{RefNo: "26EC6", Title: "Sample Circular 1", ReleasedDate: "2026-02-11", PostDocType: 110},
	{RefNo: "26EC7", Title: "Sample Circular 2", ReleasedDate: "2026-02-10", PostDocType: 120,
		Appendices: []Appendix{{Caption: "Appendix A"}}},
}

// Search implements discovery.Source.
func (SampleSource) Search(ctx context.Context, q discovery.Query) (discovery.Page, error) {
	if err := ctx.Err(); err != nil {
		return discovery.Page{}, err
	}
	page := discovery.Page{Total: len(sampleHits)}
	start := q.PageNo * q.PageSize
	for i := start; i < len(sampleHits) && i < start+q.PageSize; i++ {
		item, err := sampleHits[i].Item(q.Year)
		if err != nil {
			return discovery.Page{}, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}
