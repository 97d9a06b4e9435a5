package planner

import (
	"fmt"
	"strings"
)

// TupleKey canonicalizes key values so that driver representations of the
// same key ([]byte vs string, int64 vs int) compare equal.
func TupleKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = canonicalValue(v)
	}
	return strings.Join(parts, "\x1f")
}

func canonicalValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "\x00"
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

// Key returns the canonical key of the tuple.
func (t ParentTuple) Key() string {
	return TupleKey(t.Values)
}

// UniqueParentTuples extracts distinct non-null key tuples from rows,
// preserving first-seen order.
func UniqueParentTuples(rows []map[string]any, keys []string) []ParentTuple {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	tuples := make([]ParentTuple, 0, len(rows))
	for _, row := range rows {
		values := make([]any, len(keys))
		missing := false
		for i, key := range keys {
			value := row[key]
			if value == nil {
				missing = true
				break
			}
			values[i] = value
		}
		if missing {
			continue
		}
		tupleKey := TupleKey(values)
		if _, ok := seen[tupleKey]; ok {
			continue
		}
		seen[tupleKey] = struct{}{}
		tuples = append(tuples, ParentTuple{Values: values})
	}
	return tuples
}

// ChunkParentTuples splits tuples into chunks of at most max entries.
// A non-positive max yields a single chunk.
func ChunkParentTuples(values []ParentTuple, max int) [][]ParentTuple {
	if len(values) == 0 {
		return nil
	}
	if max <= 0 || len(values) <= max {
		return [][]ParentTuple{values}
	}
	chunks := make([][]ParentTuple, 0, (len(values)+max-1)/max)
	for start := 0; start < len(values); start += max {
		end := start + max
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
