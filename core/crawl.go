package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Crawl is one iteration of a series: a pass over the series' targets
// with the series' stages. The counters and expectations accumulate
// while the scheduler feeds targets to the workers.
type Crawl struct {
	ID        string `json:"id,omitempty" bson:"_id,omitempty"`
	Name      string `json:"name" bson:"name"`
	SeriesID  string `json:"series,omitempty" bson:"series,omitempty"`
	Iteration int    `json:"iteration" bson:"iteration"`

	Created  time.Time `json:"created,omitzero" bson:"created,omitempty"`
	Started  time.Time `json:"started,omitzero" bson:"started,omitempty"`
	Finished time.Time `json:"finished,omitzero" bson:"finished,omitempty"`

	// Stages and Filter are frozen copies of the series
	// configuration at crawl creation time.
	Stages []Stage `json:"stages" bson:"stages"`
	Filter string  `json:"filter,omitempty" bson:"filter,omitempty"`

	TargetsScheduled int `json:"targets_scheduled" bson:"targets_scheduled"`
	TargetsFinished  int `json:"targets_finished" bson:"targets_finished"`
	TargetsFailed    int `json:"targets_failed" bson:"targets_failed"`
	TargetsRetried   int `json:"targets_retried" bson:"targets_retried"`

	// Expectations is the nested sum of the latest per-stage
	// statistics of every target scheduled so far. The scheduler
	// maintains it with atomic increments.
	Expectations map[string]any `json:"expectations,omitempty" bson:"expectations,omitempty"`
}

// FilterDocument decodes the crawl's target filter.
func (c *Crawl) FilterDocument() (map[string]any, error) {
	return decodeFilter(c.Filter)
}

// SetFilterDocument encodes the given filter document.
func (c *Crawl) SetFilterDocument(filter map[string]any) error {
	encoded, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("encode crawl filter: %w", err)
	}
	c.Filter = string(encoded)
	return nil
}

// HasFinished reports whether the crawl has been closed.
func (c *Crawl) HasFinished() bool {
	return !c.Finished.IsZero()
}

// CloneStages returns deep copies of the crawl's stage configuration,
// ready to be executed for one target.
func (c *Crawl) CloneStages() []Stage {
	return cloneStages(c.Stages)
}
