package core

import (
	"encoding/json"
	"fmt"
)

// Keys under which natural terminations are recorded in a stage
// result. They share the namespace with configured terminator task
// names.
const (
	TerminatorKeyTargetNotFound  = "target_not_found"
	TerminatorKeyTargetExhausted = "target_exhausted"
)

// StageResult is the running progress of one stage execution: resources
// spent, records gained, aggregated pipeline results and the
// terminators that ended the stage.
type StageResult struct {
	Cost            int                       `json:"cost" bson:"cost"`
	Gain            int                       `json:"gain" bson:"gain"`
	PipelineResults map[string]PipelineResult `json:"pipeline_results,omitempty" bson:"pipeline_results,omitempty"`
	TerminatedBy    map[string]bool           `json:"terminated_by,omitempty" bson:"terminated_by,omitempty"`
}

// Terminate records that the named terminator ended the stage.
func (r *StageResult) Terminate(name string) {
	if r.TerminatedBy == nil {
		r.TerminatedBy = make(map[string]bool)
	}
	r.TerminatedBy[name] = true
}

// Terminated reports whether any terminator has triggered.
func (r *StageResult) Terminated() bool {
	for _, triggered := range r.TerminatedBy {
		if triggered {
			return true
		}
	}
	return false
}

// AbsorbPipelineResults folds the per-step pipeline results into the
// accumulated ones, adding values for pipelines seen before.
func (r *StageResult) AbsorbPipelineResults(step map[string]PipelineResult) {
	r.PipelineResults = MergePipelineResults(r.PipelineResults, step)
}

// Clone returns a deep copy of the result.
func (r StageResult) Clone() StageResult {
	out := StageResult{Cost: r.Cost, Gain: r.Gain}
	if r.PipelineResults != nil {
		out.PipelineResults = make(map[string]PipelineResult, len(r.PipelineResults))
		for name, pr := range r.PipelineResults {
			out.PipelineResults[name] = pr.Clone()
		}
	}
	if r.TerminatedBy != nil {
		out.TerminatedBy = make(map[string]bool, len(r.TerminatedBy))
		for name, triggered := range r.TerminatedBy {
			out.TerminatedBy[name] = triggered
		}
	}
	return out
}

// Stage describes one step of a crawl: the request task that fetches
// data for a target, the pipelines that consume each request result,
// the terminators that may end the stage early and the callbacks that
// run once after it.
type Stage struct {
	Name        string          `json:"name" bson:"name"`
	Request     TaskSignature   `json:"request" bson:"request"`
	Target      SlimTarget      `json:"target,omitempty" bson:"target,omitempty"`
	Pipelines   []TaskSignature `json:"pipelines,omitempty" bson:"pipelines,omitempty"`
	Terminators []TaskSignature `json:"terminators,omitempty" bson:"terminators,omitempty"`
	Callbacks   []TaskSignature `json:"callbacks,omitempty" bson:"callbacks,omitempty"`
	Progress    StageResult     `json:"progress" bson:"progress"`
}

// Clone returns a deep copy of the stage, including its progress.
// Schedulers clone the configured stages for every target so that the
// per-target progress never bleeds between executions.
func (s Stage) Clone() Stage {
	return Stage{
		Name:        s.Name,
		Request:     s.Request.Clone(),
		Target:      s.Target.Clone(),
		Pipelines:   cloneSignatures(s.Pipelines),
		Terminators: cloneSignatures(s.Terminators),
		Callbacks:   cloneSignatures(s.Callbacks),
		Progress:    s.Progress.Clone(),
	}
}

// StageFromJSON decodes a stage configuration document.
func StageFromJSON(data []byte) (Stage, error) {
	var stage Stage
	if err := json.Unmarshal(data, &stage); err != nil {
		return Stage{}, fmt.Errorf("decode stage: %w", err)
	}
	if stage.Name == "" {
		return Stage{}, fmt.Errorf("decode stage: missing name")
	}
	if stage.Request.IsZero() {
		return Stage{}, fmt.Errorf("decode stage %q: missing request task", stage.Name)
	}
	return stage, nil
}

func cloneSignatures(signatures []TaskSignature) []TaskSignature {
	if signatures == nil {
		return nil
	}
	out := make([]TaskSignature, len(signatures))
	for i, sig := range signatures {
		out[i] = sig.Clone()
	}
	return out
}
