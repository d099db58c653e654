package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"kerjabareng/internal/store"
)

// normalizeValue pushes a Go value through JSON so stored fields always
// use the wire representation (float64 numbers, RFC 3339 time strings).
func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode field value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode field value: %w", err)
	}
	return out, nil
}

func cloneDoc(doc store.Document) store.Document {
	doc.Data = cloneMap(doc.Data)
	return doc
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// lookupField resolves a dotted path into nested maps. Missing segments
// yield nil.
func lookupField(data map[string]any, field string) any {
	parts := strings.Split(field, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// setField writes a dotted path into nested maps, creating intermediate
// maps as needed.
func setField(data map[string]any, field string, value any) {
	parts := strings.Split(field, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func matches(data map[string]any, filters []store.Filter) bool {
	for _, f := range filters {
		value, err := normalizeValue(f.Value)
		if err != nil {
			return false
		}
		actual := lookupField(data, f.Field)
		switch f.Op {
		case store.OpEqual:
			if !reflect.DeepEqual(actual, value) {
				return false
			}
		case store.OpArrayContains:
			arr, ok := actual.([]any)
			if !ok {
				return false
			}
			found := false
			for _, item := range arr {
				if reflect.DeepEqual(item, value) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compareValues orders two normalized field values. Timestamps are
// compared as times so fractional-second length does not skew ordering;
// everything else falls back to number or string comparison.
func compareValues(a, b any) int {
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if an, aok := a.(float64); aok {
		if bn, bok := b.(float64); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
