package memstore

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/c360studio/trawler/storage"
)

// matchFilter evaluates a MongoDB style filter document against a
// generic document. Supported are equality, $and, $or, $exists, $ne,
// $in and the range operators, which covers the filters series
// configurations use.
func matchFilter(doc map[string]any, filter map[string]any) (bool, error) {
	for key, condition := range filter {
		switch key {
		case "$and":
			clauses, ok := condition.([]any)
			if !ok {
				return false, fmt.Errorf("$and expects a list of filters")
			}
			for _, clause := range clauses {
				nested, ok := clause.(map[string]any)
				if !ok {
					return false, fmt.Errorf("$and clause is not a filter document")
				}
				match, err := matchFilter(doc, nested)
				if err != nil || !match {
					return false, err
				}
			}
		case "$or":
			clauses, ok := condition.([]any)
			if !ok {
				return false, fmt.Errorf("$or expects a list of filters")
			}
			matched := false
			for _, clause := range clauses {
				nested, ok := clause.(map[string]any)
				if !ok {
					return false, fmt.Errorf("$or clause is not a filter document")
				}
				match, err := matchFilter(doc, nested)
				if err != nil {
					return false, err
				}
				if match {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		default:
			match, err := matchField(doc, key, condition)
			if err != nil || !match {
				return false, err
			}
		}
	}
	return true, nil
}

func matchField(doc map[string]any, path string, condition any) (bool, error) {
	dotted := strings.ReplaceAll(path, ".", storage.PathSeparator)
	value, exists := fieldAtPath(doc, dotted)

	operators, isOperator := condition.(map[string]any)
	if isOperator && hasOperatorKey(operators) {
		for op, operand := range operators {
			match, err := applyOperator(value, exists, op, operand)
			if err != nil || !match {
				return false, err
			}
		}
		return true, nil
	}

	// Plain equality: the field equals the condition, or the field is
	// an array containing it.
	if !exists {
		return condition == nil, nil
	}
	if list, ok := value.([]any); ok {
		if looseEqual(value, condition) {
			return true, nil
		}
		for _, entry := range list {
			if looseEqual(entry, condition) {
				return true, nil
			}
		}
		return false, nil
	}
	return looseEqual(value, condition), nil
}

func applyOperator(value any, exists bool, op string, operand any) (bool, error) {
	switch op {
	case "$exists":
		want, ok := operand.(bool)
		if !ok {
			return false, fmt.Errorf("$exists expects a bool")
		}
		return exists == want, nil
	case "$ne":
		return !looseEqual(value, operand), nil
	case "$in":
		list, ok := operand.([]any)
		if !ok {
			return false, fmt.Errorf("$in expects a list")
		}
		for _, entry := range list {
			if looseEqual(value, entry) {
				return true, nil
			}
		}
		return false, nil
	case "$lt", "$lte", "$gt", "$gte":
		if !exists {
			return false, nil
		}
		cmp, ok := compareValues(value, operand)
		if !ok {
			return false, nil
		}
		switch op {
		case "$lt":
			return cmp < 0, nil
		case "$lte":
			return cmp <= 0, nil
		case "$gt":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	default:
		return false, fmt.Errorf("unsupported filter operator %q", op)
	}
}

func hasOperatorKey(m map[string]any) bool {
	for key := range m {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

// looseEqual compares values across the numeric types JSON decoding
// produces.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			return af == bf
		}
		return false
	}
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			return at.Equal(bt)
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values when they are both numbers or both
// times.
func compareValues(a, b any) (int, bool) {
	if af, ok := asNumber(a); ok {
		bf, ok := asNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if at, ok := asTime(a); ok {
		bt, ok := asTime(b)
		if !ok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	return 0, false
}
