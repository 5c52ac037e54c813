package core

// PipelineResult is what a pipeline task reports for one request
// result. Weight distinguishes "no statement" (nil) from an explicit
// zero, so pipelines that do not weigh targets never drag a weighted
// sum down.
type PipelineResult struct {
	Weight     *int           `json:"weight,omitempty" bson:"weight,omitempty"`
	Statistics map[string]any `json:"statistics,omitempty" bson:"statistics,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty" bson:"metrics,omitempty"`
}

// WeightValue returns the weight with nil meaning 0.
func (r PipelineResult) WeightValue() int {
	if r.Weight == nil {
		return 0
	}
	return *r.Weight
}

// Clone returns a deep copy.
func (r PipelineResult) Clone() PipelineResult {
	out := PipelineResult{
		Statistics: cloneDocument(r.Statistics),
		Metrics:    cloneDocument(r.Metrics),
	}
	if r.Weight != nil {
		w := *r.Weight
		out.Weight = &w
	}
	return out
}

// Add combines two pipeline results. Statistics and metrics are added
// key-wise, recursing into nested documents. The weight stays nil only
// when both sides are nil.
func (r PipelineResult) Add(other PipelineResult) PipelineResult {
	out := PipelineResult{
		Statistics: CombineByAddition(r.Statistics, other.Statistics),
		Metrics:    CombineByAddition(r.Metrics, other.Metrics),
	}
	if r.Weight != nil || other.Weight != nil {
		w := r.WeightValue() + other.WeightValue()
		out.Weight = &w
	}
	return out
}

// MergePipelineResults adds two maps of pipeline results key-wise.
// Keys present on one side only keep their value.
func MergePipelineResults(a, b map[string]PipelineResult) map[string]PipelineResult {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]PipelineResult, len(a)+len(b))
	for name, result := range a {
		out[name] = result.Clone()
	}
	for name, result := range b {
		if existing, ok := out[name]; ok {
			out[name] = existing.Add(result)
		} else {
			out[name] = result.Clone()
		}
	}
	return out
}

// CombineByAddition merges two nested documents by adding their
// numeric leaves. Keys missing on one side keep the other side's
// value; keys that are nil on both sides are dropped; nested documents
// are combined recursively.
func CombineByAddition(a, b map[string]any) map[string]any {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for key, value := range a {
		if _, also := b[key]; also {
			continue
		}
		if value == nil {
			continue
		}
		out[key] = cloneValue(value)
	}
	for key, bv := range b {
		av, shared := a[key]
		if !shared {
			if bv != nil {
				out[key] = cloneValue(bv)
			}
			continue
		}
		switch {
		case av == nil && bv == nil:
			// Both unset, drop the key.
		case av == nil:
			out[key] = cloneValue(bv)
		case bv == nil:
			out[key] = cloneValue(av)
		default:
			out[key] = addValues(av, bv)
		}
	}
	return out
}

func addValues(a, b any) any {
	am, aIsMap := asDocument(a)
	bm, bIsMap := asDocument(b)
	if aIsMap && bIsMap {
		return CombineByAddition(am, bm)
	}
	if ai, ok := a.(int); ok {
		if bi, ok := b.(int); ok {
			return ai + bi
		}
	}
	af, aOK := asFloat(a)
	bf, bOK := asFloat(b)
	if aOK && bOK {
		return af + bf
	}
	// Non-additive values: the right hand side wins, mirroring a
	// plain map update.
	return cloneValue(b)
}

func asDocument(v any) (map[string]any, bool) {
	switch value := v.(type) {
	case map[string]any:
		return value, true
	case Kwargs:
		return map[string]any(value), true
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case float32:
		return float64(value), true
	case float64:
		return value, true
	}
	return 0, false
}

func cloneDocument(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = cloneValue(value)
	}
	return out
}
