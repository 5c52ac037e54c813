package core

import "encoding/json"

// RequestResult is what a request task returns for one fetch. Result
// carries the raw response document, SubsequentKwargs the continuation
// parameters for the next request against the same target, or nil when
// the target is exhausted.
type RequestResult struct {
	Result           map[string]any `json:"result" bson:"result"`
	SubsequentKwargs Kwargs         `json:"subsequent_kwargs,omitempty" bson:"subsequent_kwargs,omitempty"`

	// Batch marks the result document as a batch: its "records" key
	// holds a list of records instead of the document being one
	// record itself.
	Batch bool `json:"batch" bson:"batch"`

	Gain int `json:"gain" bson:"gain"`
	Cost int `json:"cost" bson:"cost"`

	// TargetNotFound is set when the remote side reports the target
	// gone. TargetExhausted may be set explicitly; when nil the
	// spider infers exhaustion from a missing continuation.
	TargetNotFound  bool  `json:"target_not_found" bson:"target_not_found"`
	TargetExhausted *bool `json:"target_exhausted,omitempty" bson:"target_exhausted,omitempty"`

	// AdjacentTargets are targets discovered alongside the requested
	// one, input to the target discovery pipeline.
	AdjacentTargets []SlimTarget `json:"adjacent_targets,omitempty" bson:"adjacent_targets,omitempty"`
}

// NewRequestResult returns a result with the cost and gain defaults of
// a single successful request.
func NewRequestResult(result map[string]any) *RequestResult {
	return &RequestResult{Result: result, Gain: 1, Cost: 1}
}

// Records returns the individual records of the result: the entries of
// the "records" list for batch results, otherwise the result document
// itself as a single record.
func (r *RequestResult) Records() []map[string]any {
	if !r.Batch {
		if r.Result == nil {
			return nil
		}
		return []map[string]any{r.Result}
	}
	raw, ok := r.Result["records"].([]any)
	if !ok {
		return nil
	}
	records := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if record, ok := entry.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records
}

// Exhausted reports whether the target has no further data: either the
// request task said so explicitly or it returned no continuation
// kwargs. An explicit false cannot revive a result without
// continuation, the spider has nothing to ask for next.
func (r *RequestResult) Exhausted() bool {
	if r.TargetExhausted != nil && *r.TargetExhausted {
		return true
	}
	return len(r.SubsequentKwargs) == 0
}

// DecodeRequestResult decodes the wire form produced by a request
// task.
func DecodeRequestResult(data []byte) (*RequestResult, error) {
	var result RequestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
