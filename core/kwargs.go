package core

// Kwargs holds the keyword arguments of a task invocation. Tasks are
// keyword-only; there is no positional argument list.
type Kwargs map[string]any

// Clone returns a deep copy. Nested maps and slices are copied
// recursively so mutations of the clone never leak into the original.
func (k Kwargs) Clone() Kwargs {
	if k == nil {
		return nil
	}
	out := make(Kwargs, len(k))
	for key, value := range k {
		out[key] = cloneValue(value)
	}
	return out
}

// Merge copies all entries of other into k. Values of other take
// precedence for keys present in both.
func (k Kwargs) Merge(other Kwargs) {
	for key, value := range other {
		k[key] = cloneValue(value)
	}
}

// String returns the value under key if it is a string.
func (k Kwargs) String(key string) (string, bool) {
	v, ok := k[key].(string)
	return v, ok
}

// Int returns the value under key if it is numeric. JSON decoding
// produces float64, so both int and float64 are accepted.
func (k Kwargs) Int(key string) (int, bool) {
	switch v := k[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Bool returns the value under key if it is a bool.
func (k Kwargs) Bool(key string) (bool, bool) {
	v, ok := k[key].(bool)
	return v, ok
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case Kwargs:
		return value.Clone()
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, nested := range value {
			out[key] = cloneValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, nested := range value {
			out[i] = cloneValue(nested)
		}
		return out
	case []string:
		out := make([]string, len(value))
		copy(out, value)
		return out
	default:
		return value
	}
}
