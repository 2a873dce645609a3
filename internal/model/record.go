package model

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Record is a flat mapping from field name to extracted value. A field that
// was not found is absent from the map; it never maps to an empty value.
type Record map[string]string

// Keys returns the record's field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of the record. A nil record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RecordFromMap normalizes decoded JSON into a Record. Null and blank values
// are dropped, numbers and booleans are stringified, arrays of scalars are
// joined with ", " and anything else is re-encoded as compact JSON.
func RecordFromMap(raw map[string]any) Record {
	rec := make(Record, len(raw))
	for k, v := range raw {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		s, ok := stringify(v)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		rec[k] = s
	}
	return rec
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := stringify(item)
			if !ok || s == "" {
				continue
			}
			parts = append(parts, s)
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ", "), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Sample is one labeled input: the source text and its ground-truth record.
type Sample struct {
	SourceText  string `json:"source_text"`
	GroundTruth Record `json:"ground_truth"`
}
