package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var seriesNamePattern = regexp.MustCompile("[^0-9a-zA-Z]+")

// Series configures a family of crawls that share the same stages and
// target filter. Every crawl of a series is one iteration over the
// series' targets.
type Series struct {
	ID          string `json:"id,omitempty" bson:"_id,omitempty"`
	Name        string `json:"name" bson:"name"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`

	Stages []Stage `json:"stages" bson:"stages"`

	// Filter is a JSON document restricting which known targets the
	// series crawls. Use FilterDocument and SetFilterDocument, the
	// raw string exists for storage.
	Filter string `json:"filter,omitempty" bson:"filter,omitempty"`

	// Crawls lists the ids of all crawls started for this series.
	Crawls []string `json:"crawls,omitempty" bson:"crawls,omitempty"`

	// Iterations counts the crawls already created, it feeds the
	// derived crawl names.
	Iterations int `json:"iterations" bson:"iterations"`
}

// SeriesNameFromDescription derives a storable series name from a free
// text description: lower case, every run of non-alphanumerics becomes
// one underscore.
func SeriesNameFromDescription(description string) string {
	return seriesNamePattern.ReplaceAllString(strings.ToLower(description), "_")
}

// FilterDocument decodes the target filter. An empty filter decodes to
// an empty document.
func (s *Series) FilterDocument() (map[string]any, error) {
	return decodeFilter(s.Filter)
}

// SetFilterDocument encodes the given filter document.
func (s *Series) SetFilterDocument(filter map[string]any) error {
	encoded, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("encode series filter: %w", err)
	}
	s.Filter = string(encoded)
	return nil
}

// NewCrawl creates the next crawl of the series, advancing the
// iteration counter and registering the crawl id. The caller persists
// both documents.
func (s *Series) NewCrawl(id string, now time.Time) *Crawl {
	s.Iterations++
	crawl := &Crawl{
		ID:        id,
		Name:      fmt.Sprintf("%s_%d", s.Name, s.Iterations),
		SeriesID:  s.ID,
		Iteration: s.Iterations,
		Created:   now,
		Started:   now,
		Stages:    cloneStages(s.Stages),
		Filter:    s.Filter,
	}
	s.Crawls = append(s.Crawls, crawl.ID)
	return crawl
}

func cloneStages(stages []Stage) []Stage {
	if stages == nil {
		return nil
	}
	out := make([]Stage, len(stages))
	for i, stage := range stages {
		out[i] = stage.Clone()
	}
	return out
}

func decodeFilter(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var filter map[string]any
	if err := json.Unmarshal([]byte(raw), &filter); err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}
	if filter == nil {
		filter = map[string]any{}
	}
	return filter, nil
}
