package playstore

// Helpers for reading the loosely typed records the request tasks
// emit. Records pass through JSON when a result travels between
// processes, so every reader accepts both the typed form the scraper
// produced and the decoded form (float64 numbers, []any lists).

func stringOf(value any) string {
	s, _ := value.(string)
	return s
}

func boolOf(value any) bool {
	b, _ := value.(bool)
	return b
}

func intOf(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatOf(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func stringsOf(value any) []string {
	switch v := value.(type) {
	case []string:
		if len(v) == 0 {
			return nil
		}
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

func intsOf(value any) []int {
	switch v := value.(type) {
	case []int:
		if len(v) == 0 {
			return nil
		}
		return v
	case []any:
		out := make([]int, 0, len(v))
		for _, entry := range v {
			out = append(out, intOf(entry))
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

func mapOf(value any) map[string]any {
	m, _ := value.(map[string]any)
	return m
}

func mapsOf(value any) []map[string]any {
	switch v := value.(type) {
	case []map[string]any:
		if len(v) == 0 {
			return nil
		}
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, entry := range v {
			if m, ok := entry.(map[string]any); ok {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}
