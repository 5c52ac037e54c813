package historic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage"
)

// SaveResult summarises one observation.
type SaveResult struct {
	// NewDocument is true on the first observation of the key.
	NewDocument bool
	// ChangesObserved counts the patch operations of this
	// observation, 0 when the payload was unchanged.
	ChangesObserved int
	// Metrics holds one score per registered model.
	Metrics map[string]float64
}

// Saver versions documents against a data store.
type Saver struct {
	store  storage.DataStore
	models map[string]Model
	now    func() time.Time
}

// NewSaver returns a saver using the given model set, or the default
// set when nil.
func NewSaver(store storage.DataStore, models map[string]Model) *Saver {
	if models == nil {
		models = DefaultModels()
	}
	return &Saver{store: store, models: models, now: time.Now}
}

// Save merges the observed document with its persisted predecessor
// and stores the result. An unchanged payload still records a
// witness; a changed one additionally prepends a patch that restores
// the previous payload. Safe under at-least-once delivery: saving an
// identical payload twice appends a witness but no patch.
func (s *Saver) Save(ctx context.Context, doc Document, crawlID string) (SaveResult, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return SaveResult{}, fmt.Errorf("marshal document %s: %w", doc.Key(), err)
	}
	var observed map[string]any
	if err := json.Unmarshal(raw, &observed); err != nil {
		return SaveResult{}, fmt.Errorf("decode document %s: %w", doc.Key(), err)
	}

	witness := Witness{CrawlID: crawlID, Timestamp: core.Epoch(s.now())}
	var history History
	result := SaveResult{}

	oldRaw, err := s.store.LoadDocument(ctx, doc.Collection(), doc.Key())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		result.NewDocument = true
	case err != nil:
		return SaveResult{}, err
	default:
		if err := json.Unmarshal(oldRaw, &history); err != nil {
			return SaveResult{}, fmt.Errorf("decode history of %s: %w", doc.Key(), err)
		}
		var persisted map[string]any
		if err := json.Unmarshal(oldRaw, &persisted); err != nil {
			return SaveResult{}, fmt.Errorf("decode document %s: %w", doc.Key(), err)
		}

		observedPayload, err := canonicalPayload(observed)
		if err != nil {
			return SaveResult{}, fmt.Errorf("canonicalise document %s: %w", doc.Key(), err)
		}
		persistedPayload, err := canonicalPayload(persisted)
		if err != nil {
			return SaveResult{}, fmt.Errorf("canonicalise document %s: %w", doc.Key(), err)
		}

		if !bytes.Equal(observedPayload, persistedPayload) {
			// The patch runs new to old so that applying it to the
			// stored payload reconstructs the previous state.
			ops, err := jsondiff.CompareJSON(observedPayload, persistedPayload)
			if err != nil {
				return SaveResult{}, fmt.Errorf("diff document %s: %w", doc.Key(), err)
			}
			changes, err := json.Marshal(ops)
			if err != nil {
				return SaveResult{}, fmt.Errorf("marshal patch of %s: %w", doc.Key(), err)
			}
			patch := Patch{CrawlID: crawlID, Timestamp: witness.Timestamp, Changes: changes}
			history.Updates = append([]Patch{patch}, history.Updates...)
			result.ChangesObserved = len(ops)
		}
	}

	history.Witnesses = append(history.Witnesses, witness)

	observed["witnesses"] = history.Witnesses
	if len(history.Updates) > 0 {
		observed["updates"] = history.Updates
	} else {
		delete(observed, "updates")
	}
	stored, err := json.Marshal(observed)
	if err != nil {
		return SaveResult{}, fmt.Errorf("marshal document %s: %w", doc.Key(), err)
	}
	if err := s.store.SaveDocument(ctx, doc.Collection(), doc.Key(), stored); err != nil {
		return SaveResult{}, err
	}

	input := ModelInput{
		NewDocument:     result.NewDocument,
		ChangesObserved: result.ChangesObserved,
		Witnesses:       history.Witnesses,
		WCFWeights:      doc.WCFWeights(),
	}
	if result.ChangesObserved > 0 {
		input.Patch = &history.Updates[0]
	}
	result.Metrics = make(map[string]float64, len(s.models))
	for name, model := range s.models {
		result.Metrics[name] = model(input)
	}
	return result, nil
}

// canonicalPayload strips the version control sequences and
// serialises the rest with sorted keys, so field order and number
// formatting differences never count as changes.
func canonicalPayload(doc map[string]any) ([]byte, error) {
	payload := make(map[string]any, len(doc))
	for key, value := range doc {
		if key == "witnesses" || key == "updates" {
			continue
		}
		payload[key] = value
	}
	return json.Marshal(payload)
}

// StripHistory removes the witnesses and updates sequences from a raw
// document, leaving the payload the patches apply to.
func StripHistory(raw json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return canonicalPayload(doc)
}

// PriorState walks the backward delta log: applying the newest patch
// to the current payload yields the previous payload, and so on.
// Steps beyond the recorded updates are an error.
func PriorState(payload json.RawMessage, updates []Patch, steps int) (json.RawMessage, error) {
	if steps > len(updates) {
		return nil, fmt.Errorf("only %d prior states recorded, requested %d", len(updates), steps)
	}
	state := payload
	for i := 0; i < steps; i++ {
		patch, err := jsonpatch.DecodePatch(updates[i].Changes)
		if err != nil {
			return nil, fmt.Errorf("decode patch %d: %w", i, err)
		}
		state, err = patch.Apply(state)
		if err != nil {
			return nil, fmt.Errorf("apply patch %d: %w", i, err)
		}
	}
	return state, nil
}
