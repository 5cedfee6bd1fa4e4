package circulars

import (
	"encoding/json"
	"fmt"

	"sfcfetch/internal/discovery"
)

// Metadata is the per-document metadata captured at discovery.
type Metadata struct {
	RefNo         string `json:"refNo"`
	Title         string `json:"title"`
	ReleasedDate  string `json:"releasedDate,omitempty"`
	Year          int    `json:"year"`
	PostDocType   int    `json:"postDocType,omitempty"`
	HasAppendix   bool   `json:"hasAppendix"`
	AppendixCount int    `json:"appendixCount"`
}

// SearchHit is one circular as returned by the search endpoint.
type SearchHit struct {
	RefNo        string     `json:"refNo"`
	Title        string     `json:"title"`
	ReleasedDate string     `json:"releasedDate"`
	PostDocType  int        `json:"postDocType"`
	Appendices   []Appendix `json:"appendixDocList"`
}

// Appendix is one appendix attached to a circular.
type Appendix struct {
	Caption string `json:"caption"`
}

// Item converts a hit found while searching year into a discovery item.
func (h SearchHit) Item(year int) (discovery.Item, error) {
	meta := Metadata{
		RefNo:         h.RefNo,
		Title:         h.Title,
		ReleasedDate:  h.ReleasedDate,
		Year:          year,
		PostDocType:   h.PostDocType,
		HasAppendix:   len(h.Appendices) > 0,
		AppendixCount: len(h.Appendices),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return discovery.Item{}, fmt.Errorf("encode metadata for %s: %w", h.RefNo, err)
	}
	return discovery.Item{Reference: h.RefNo, Metadata: raw}, nil
}
