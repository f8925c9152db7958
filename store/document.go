package store

import (
	"encoding/json"
	"math"
	"time"
)

// System and engine-managed field names.
const (
	FieldID           = "_id"
	FieldCreationTime = "_creationTime"
	FieldOwner        = "userId"
	FieldOrg          = "orgId"
	FieldUpdatedAt    = "updatedAt"
	FieldDeletedAt    = "deletedAt"
	FieldEditors      = "editors"
	FieldTTL          = "ttl"
)

// Doc is a stored document: an opaque field map keyed by field name.
type Doc map[string]any

// ID returns the document id, or "" when unset.
func (d Doc) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// String returns field f as a string, or "" when absent or not a string.
func (d Doc) String(f string) string {
	s, _ := d[f].(string)
	return s
}

// Int64 returns field f as an integer. Numbers decoded from JSON or DynamoDB
// arrive as float64 and are accepted.
func (d Doc) Int64(f string) (int64, bool) {
	return ToInt64(d[f])
}

// Has reports whether f is present with a non-nil value.
func (d Doc) Has(f string) bool {
	v, ok := d[f]
	return ok && v != nil
}

// Strings returns field f as a string slice. Mixed or non-string elements are skipped.
func (d Doc) Strings(f string) []string {
	return ToStrings(d[f])
}

// Clone returns a copy of d. Slice values are copied so callers may append
// without aliasing the original.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		switch t := v.(type) {
		case []any:
			out[k] = append([]any(nil), t...)
		case []string:
			out[k] = append([]string(nil), t...)
		default:
			out[k] = v
		}
	}
	return out
}

// Merge overlays patch onto a copy of prev. Only keys present in patch are
// touched; a present key with a nil value clears the field.
func Merge(prev, patch Doc) Doc {
	out := prev.Clone()
	if out == nil {
		out = Doc{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Millis returns t as milliseconds since the epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// ToInt64 converts any numeric representation to int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// ToStrings converts []string or []any to []string.
func ToStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return []string{s}
	}
	return nil
}
