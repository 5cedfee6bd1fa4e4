package subworkflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	ConditionModernCircular = "is_modern_circular"
	ConditionHasHTML        = "has_html_content"
	ConditionHasAppendices  = "has_appendices"
	ConditionConcluded      = "is_concluded"
	ConditionHasImages      = "has_images"
)

// modernCircularYear is the first year circulars were published with HTML bodies.
const modernCircularYear = 2012

// Facts is the view of document metadata that conditions read.
type Facts struct {
	Year          int  `json:"year"`
	HasHTML       bool `json:"hasHtml"`
	HasAppendix   bool `json:"hasAppendix"`
	AppendixCount int  `json:"appendixCount"`
	IsConcluded   bool `json:"isConcluded"`
	HasImages     bool `json:"hasImages"`
}

// Predicate decides whether a conditional step runs.
type Predicate func(Facts) bool

var predicates = map[string]Predicate{
	ConditionModernCircular: func(f Facts) bool { return f.Year >= modernCircularYear },
	ConditionHasHTML:        func(f Facts) bool { return f.HasHTML },
	ConditionHasAppendices:  func(f Facts) bool { return f.HasAppendix && f.AppendixCount > 0 },
	ConditionConcluded:      func(f Facts) bool { return f.IsConcluded },
	ConditionHasImages:      func(f Facts) bool { return f.HasImages },
}

// KnownCondition reports whether name is one of the named predicates.
func KnownCondition(name string) bool {
	_, ok := predicates[name]
	return ok
}

// Conditions lists the named predicates in sorted order.
func Conditions() []string {
	names := make([]string, 0, len(predicates))
	for name := range predicates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate applies the named condition to the document metadata. An empty or
// unknown condition evaluates to true. Metadata must be a JSON object; a field
// that is missing or has an unexpected type reads as its zero value.
func Evaluate(condition string, metadata json.RawMessage) (bool, error) {
	if condition == "" {
		return true, nil
	}
	predicate, ok := predicates[condition]
	if !ok {
		return true, nil
	}
	facts, err := decodeFacts(metadata)
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", condition, err)
	}
	return predicate(facts), nil
}

func decodeFacts(metadata json.RawMessage) (Facts, error) {
	var facts Facts
	if len(bytes.TrimSpace(metadata)) == 0 {
		return facts, nil
	}
	dec := json.NewDecoder(bytes.NewReader(metadata))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return facts, fmt.Errorf("decode metadata: %w", err)
	}
	facts.Year = intField(fields["year"])
	facts.HasHTML = boolField(fields["hasHtml"])
	facts.HasAppendix = boolField(fields["hasAppendix"])
	facts.AppendixCount = intField(fields["appendixCount"])
	facts.IsConcluded = boolField(fields["isConcluded"])
	facts.HasImages = boolField(fields["hasImages"])
	return facts, nil
}

// intField accepts JSON numbers and numeric strings such as "2026".
func intField(v any) int {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= math.MinInt32 && f <= math.MaxInt32 {
		return int(f)
	}
	return 0
}

// boolField accepts JSON booleans and "true"/"false" strings.
func boolField(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	default:
		return false
	}
}
