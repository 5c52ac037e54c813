package memstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/trawler/storage"
)

// toDocument converts a typed document into its generic JSON shape.
func toDocument(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// fromDocument converts a generic document back into a typed one.
func fromDocument(doc map[string]any, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// normalize converts an operator value into the generic JSON shape the
// documents are held in.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode update value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode update value: %w", err)
	}
	return out, nil
}

// applyUpdate applies field operators to a generic document in place.
func applyUpdate(doc map[string]any, update *storage.Update) error {
	for path, value := range update.Sets() {
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		parent, leaf, err := walkTo(doc, path)
		if err != nil {
			return err
		}
		parent[leaf] = normalized
	}
	for path, delta := range update.Incs() {
		parent, leaf, err := walkTo(doc, path)
		if err != nil {
			return err
		}
		current, ok := asNumber(parent[leaf])
		if parent[leaf] != nil && !ok {
			return fmt.Errorf("cannot increment non-numeric field %q", path)
		}
		parent[leaf] = current + delta
	}
	for path, value := range update.Pushes() {
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		parent, leaf, err := walkTo(doc, path)
		if err != nil {
			return err
		}
		switch existing := parent[leaf].(type) {
		case nil:
			parent[leaf] = []any{normalized}
		case []any:
			parent[leaf] = append(existing, normalized)
		default:
			return fmt.Errorf("cannot push onto non-array field %q", path)
		}
	}
	return nil
}

// walkTo descends to the parent of the path's leaf, creating
// intermediate documents as needed.
func walkTo(doc map[string]any, path string) (map[string]any, string, error) {
	segments := strings.Split(path, storage.PathSeparator)
	current := doc
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment]
		if !ok || next == nil {
			created := make(map[string]any)
			current[segment] = created
			current = created
			continue
		}
		nested, ok := next.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("path %q crosses non-document field %q", path, segment)
		}
		current = nested
	}
	return current, segments[len(segments)-1], nil
}

// fieldAtPath reads a "__" separated path from a generic document.
func fieldAtPath(doc map[string]any, path string) (any, bool) {
	segments := strings.Split(path, storage.PathSeparator)
	var current any = doc
	for _, segment := range segments {
		nested, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = nested[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func numericAtPath(doc map[string]any, path string) (float64, bool) {
	value, ok := fieldAtPath(doc, path)
	if !ok {
		return 0, false
	}
	return asNumber(value)
}

func asNumber(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case json.Number:
		f, err := value.Float64()
		return f, err == nil
	}
	return 0, false
}

// asTime parses times in the shapes they occur in generic documents.
func asTime(v any) (time.Time, bool) {
	switch value := v.(type) {
	case time.Time:
		return value, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// lastQueuedAt returns the last queue timestamp of a target for a
// series, and whether the target was ever queued.
func lastQueuedAt(doc map[string]any, seriesID string) (time.Time, bool) {
	queued, ok := doc["queued"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	entries, ok := queued[seriesID].([]any)
	if !ok || len(entries) == 0 {
		return time.Time{}, false
	}
	t, ok := asTime(entries[len(entries)-1])
	return t, ok
}

// lastQueuedFor returns the last_queued timestamp of a target for a
// crawl name.
func lastQueuedFor(doc map[string]any, crawlName string) (time.Time, bool) {
	lastQueued, ok := doc["last_queued"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	t, ok := asTime(lastQueued[crawlName])
	return t, ok
}

// bucketLower places a weight into boundary slices: the returned lower
// bound is the largest boundary not exceeding the weight. Weights
// outside the boundary range are not bucketed.
func bucketLower(weight float64, boundaries []int64) (int64, bool) {
	if len(boundaries) < 2 {
		return 0, false
	}
	if weight < float64(boundaries[0]) || weight >= float64(boundaries[len(boundaries)-1]) {
		return 0, false
	}
	lower := boundaries[0]
	for _, boundary := range boundaries[1:] {
		if weight < float64(boundary) {
			break
		}
		lower = boundary
	}
	return lower, true
}
