package core

// TaskSignature names a task together with the keyword arguments it
// should be invoked with. Stage configurations are built from
// signatures: the request, each pipeline, each terminator and each
// callback of a stage is one.
type TaskSignature struct {
	Task   string `json:"task" bson:"task"`
	Kwargs Kwargs `json:"kwargs,omitempty" bson:"kwargs,omitempty"`
}

// NewSignature builds a signature for task with the given kwargs.
func NewSignature(task string, kwargs Kwargs) TaskSignature {
	return TaskSignature{Task: task, Kwargs: kwargs}
}

// Clone returns a deep copy of the signature.
func (s TaskSignature) Clone() TaskSignature {
	return TaskSignature{Task: s.Task, Kwargs: s.Kwargs.Clone()}
}

// WithKwargs clones the signature and merges extra into its kwargs.
// Configured kwargs survive; extra wins on key collisions. This is how
// the stage processor injects per-step arguments such as the request
// result or the crawl id without losing configuration like a pipeline's
// factory task.
func (s TaskSignature) WithKwargs(extra Kwargs) TaskSignature {
	clone := s.Clone()
	if clone.Kwargs == nil {
		clone.Kwargs = make(Kwargs, len(extra))
	}
	clone.Kwargs.Merge(extra)
	return clone
}

// IsZero reports whether the signature names no task.
func (s TaskSignature) IsZero() bool {
	return s.Task == ""
}
