package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360studio/trawler/core"
)

// Envelope is the wire form of a task invocation.
type Envelope struct {
	ID   string `json:"id"`
	Task string `json:"task"`
	// Kwargs carries the keyword arguments as raw JSON so typed
	// handlers can decode them without a lossy map round trip.
	Kwargs      json.RawMessage `json:"kwargs,omitempty"`
	SubmittedAt core.EpochTime  `json:"submitted_at"`
	// Reply requests a Result entry in the results bucket under ID.
	Reply bool `json:"reply,omitempty"`
}

// NewEnvelope wraps a task invocation for publishing.
func NewEnvelope(task string, kwargs core.Kwargs) (*Envelope, error) {
	raw, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("marshal kwargs: %w", err)
	}
	return &Envelope{
		ID:          uuid.NewString(),
		Task:        task,
		Kwargs:      raw,
		SubmittedAt: core.EpochNow(),
	}, nil
}

// Result is the outcome of an awaited task call.
type Result struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Value      json.RawMessage `json:"value,omitempty"`
	Error      string          `json:"error,omitempty"`
	FinishedAt core.EpochTime  `json:"finished_at"`
}

// Err returns the remote failure, nil on success.
func (r *Result) Err() error {
	if r.Error == "" {
		return nil
	}
	return fmt.Errorf("task %s: %s", r.Task, r.Error)
}

// Decode unmarshals the result value.
func (r *Result) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Value) == 0 {
		return errors.New("result has no value")
	}
	return json.Unmarshal(r.Value, v)
}
