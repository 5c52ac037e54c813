// Package historic versions harvested documents as a backward delta
// log. The stored payload is always the newest observed state; every
// observation appends a witness, every change prepends a patch that
// reconstructs the previous state from the current one.
package historic

import (
	"encoding/json"

	"github.com/c360studio/trawler/core"
)

// Witness records one observation of a document.
type Witness struct {
	CrawlID   string         `json:"crawl"`
	Timestamp core.EpochTime `json:"timestamp"`
}

// Patch records one observed change. Changes is an RFC 6902 patch
// that, applied to the payload as stored at Timestamp, yields the
// previous payload.
type Patch struct {
	CrawlID   string          `json:"crawl"`
	Timestamp core.EpochTime  `json:"timestamp"`
	Changes   json.RawMessage `json:"changes"`
}

// Operation is the decoded form of one RFC 6902 change, enough for
// models that inspect changed paths.
type Operation struct {
	Op    string          `json:"op"`
	From  string          `json:"from,omitempty"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Operations decodes the patch changes.
func (p *Patch) Operations() ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(p.Changes, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// History is embedded by every historic document type. Updates are
// ordered newest first, witnesses oldest first.
type History struct {
	Witnesses []Witness `json:"witnesses,omitempty"`
	Updates   []Patch   `json:"updates,omitempty"`
}

// Document is a payload the saver can version.
type Document interface {
	// Key is the primary key within the document's collection.
	Key() string
	// Collection names the data store collection.
	Collection() string
	// WCFWeights declares the per-field weights of the weighted
	// change frequency model.
	WCFWeights() map[string]float64
	// Weight is the document's contribution to its target's weight.
	Weight() int
}
