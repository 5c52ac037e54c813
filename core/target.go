package core

import "time"

// TimedValue is one observation in a statistic history.
type TimedValue struct {
	Value     any       `json:"value" bson:"value"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// StageStatistics accumulates what one stage of one series has learned
// about a target. The current values are set after every processed
// stage; the histories keep every observation for aggregation and
// monitoring.
type StageStatistics struct {
	Cost    int                `json:"cost" bson:"cost"`
	Gain    int                `json:"gain" bson:"gain"`
	Weight  int                `json:"weight" bson:"weight"`
	Metrics map[string]float64 `json:"metrics,omitempty" bson:"metrics,omitempty"`
	Result  map[string]any     `json:"result,omitempty" bson:"result,omitempty"`

	CostHistory    []TimedValue            `json:"cost_history,omitempty" bson:"cost_history,omitempty"`
	GainHistory    []TimedValue            `json:"gain_history,omitempty" bson:"gain_history,omitempty"`
	WeightHistory  []TimedValue            `json:"weight_history,omitempty" bson:"weight_history,omitempty"`
	MetricsHistory map[string][]TimedValue `json:"metrics_history,omitempty" bson:"metrics_history,omitempty"`
	ResultHistory  []TimedValue            `json:"result_history,omitempty" bson:"result_history,omitempty"`
}

// Latest returns the current values as a nested document, the shape the
// scheduler combines into crawl expectations.
func (s *StageStatistics) Latest() map[string]any {
	metrics := make(map[string]any, len(s.Metrics))
	for k, v := range s.Metrics {
		metrics[k] = v
	}
	result := make(map[string]any, len(s.Result))
	for k, v := range s.Result {
		result[k] = v
	}
	return map[string]any{
		"cost":    s.Cost,
		"gain":    s.Gain,
		"weight":  s.Weight,
		"metrics": metrics,
		"result":  result,
	}
}

// Target is a crawlable endpoint. Its kwargs identify it uniquely and
// seed the first request of every stage. Statistics, queue and
// processing timestamps accumulate across crawls.
type Target struct {
	ID     string   `json:"id,omitempty" bson:"_id,omitempty"`
	Tags   []string `json:"tags,omitempty" bson:"tags,omitempty"`
	Kwargs Kwargs   `json:"kwargs" bson:"kwargs"`

	// DiscoveredBy names the crawl that first inserted this target,
	// empty for targets imported directly.
	DiscoveredBy string    `json:"discovered_by,omitempty" bson:"discovered_by,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at,omitzero" bson:"discovered_at,omitempty"`

	// Statistics holds one StageStatistics per series id and stage
	// name.
	Statistics map[string]map[string]*StageStatistics `json:"statistics,omitempty" bson:"statistics,omitempty"`

	// Queued and Processed list the timestamps at which the target
	// was handed to a crawler or finished a final stage, keyed by
	// series id.
	Queued    map[string][]time.Time `json:"queued,omitempty" bson:"queued,omitempty"`
	Processed map[string][]time.Time `json:"processed,omitempty" bson:"processed,omitempty"`

	// LastQueued records, per crawl name, when the target last
	// received resources. Bucketed allocators order by it.
	LastQueued map[string]time.Time `json:"last_queued,omitempty" bson:"last_queued,omitempty"`
}

// LatestStatistics returns the current statistic values of every stage
// recorded for the given series.
func (t *Target) LatestStatistics(seriesID string) map[string]map[string]any {
	stages := t.Statistics[seriesID]
	latest := make(map[string]map[string]any, len(stages))
	for name, stat := range stages {
		if stat == nil {
			continue
		}
		latest[name] = stat.Latest()
	}
	return latest
}

// StageStatistics returns the statistics of one stage of one series,
// or nil if none have been recorded yet.
func (t *Target) StageStatistics(seriesID, stageName string) *StageStatistics {
	return t.Statistics[seriesID][stageName]
}

// Slim returns the transferable form of the target.
func (t *Target) Slim() SlimTarget {
	return SlimTarget{
		ID:     t.ID,
		Tags:   append([]string(nil), t.Tags...),
		Kwargs: t.Kwargs.Clone(),
	}
}
