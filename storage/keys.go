package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/trawler/core"
)

// PathSeparator joins the segments of an update path. The MongoDB
// adapter translates it to ".".
const PathSeparator = "__"

// SanitizeKey makes a string safe as a document field path: dots
// become colons, NUL characters are removed and leading dollar signs
// are stripped. Applied to a full path the "__" separators survive
// untouched.
func SanitizeKey(s string) string {
	s = strings.ReplaceAll(s, ".", ":")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimLeft(s, "$")
}

// FieldPath joins segments into a sanitised update path.
func FieldPath(segments ...string) string {
	return SanitizeKey(strings.Join(segments, PathSeparator))
}

// CanonicalKwargs renders a kwargs document into a canonical string,
// usable as a deduplication key. Object keys are emitted sorted, so
// two kwargs documents compare equal regardless of insertion order.
func CanonicalKwargs(kwargs core.Kwargs) string {
	data, err := json.Marshal(kwargs)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(kwargs))
	}
	return string(data)
}

// IncrementNested flattens a nested document into increment operators
// on the given update, one per numeric leaf. Bools increment by 1 when
// true and 0 when false, nil leaves are skipped, nested documents
// recurse. Any other leaf type is an error.
func IncrementNested(update *Update, prefix string, document map[string]any) error {
	for key, value := range document {
		path := SanitizeKey(key)
		if prefix != "" {
			path = SanitizeKey(prefix + PathSeparator + key)
		}
		switch v := value.(type) {
		case nil:
			continue
		case bool:
			if v {
				update.Inc(path, 1)
			} else {
				update.Inc(path, 0)
			}
		case int:
			update.Inc(path, float64(v))
		case int32:
			update.Inc(path, float64(v))
		case int64:
			update.Inc(path, float64(v))
		case float32:
			update.Inc(path, float64(v))
		case float64:
			update.Inc(path, v)
		case map[string]any:
			if err := IncrementNested(update, path, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("cannot increment %q by value of type %T, only numbers, bools and documents are supported", path, value)
		}
	}
	return nil
}
