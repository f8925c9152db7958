// Package where implements the filter DSL accepted by list, read and search
// operations.
//
// A clause is a group of field predicates ANDed together, an optional
// "own" flag restricting matches to the caller's documents, and an optional
// "or" list of further groups. The top-level group and each "or" entry are
// ORed against each other:
//
//	{"status": "open", "priority": {"$gte": 2}, "or": [{"own": true}]}
package where

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jacentio/canopy/apierr"
)

// Op is a range comparison operator.
type Op string

const (
	Gt      Op = "$gt"
	Gte     Op = "$gte"
	Lt      Op = "$lt"
	Lte     Op = "$lte"
	Between Op = "$between"
)

// Range is one comparison of a predicate. Between uses Value as the lower
// and High as the upper bound, both inclusive.
type Range struct {
	Op    Op
	Value any
	High  any
}

// Pred is a field predicate: an equality test or a set of independent
// range comparisons that must all hold.
type Pred struct {
	Equals bool
	Value  any
	Ranges []Range
}

// Eq returns an equality predicate.
func Eq(v any) Pred { return Pred{Equals: true, Value: v} }

// Cmp returns a predicate with a single comparison.
func Cmp(op Op, v any) Pred { return Pred{Ranges: []Range{{Op: op, Value: v}}} }

// In returns an inclusive between predicate.
func In(lo, hi any) Pred { return Pred{Ranges: []Range{{Op: Between, Value: lo, High: hi}}} }

// Group is an AND of field predicates.
type Group struct {
	Fields map[string]Pred
	Own    bool
}

// Live reports whether the group constrains anything.
func (g Group) Live() bool {
	return g.Own || len(g.Fields) > 0
}

// Names returns the group's field names in sorted order.
func (g Group) Names() []string {
	names := make([]string, 0, len(g.Fields))
	for n := range g.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Where is a full clause: a top-level group plus OR alternatives.
type Where struct {
	Group
	Or []Group
}

// Fields returns every field referenced by the clause, sorted and unique.
func (w *Where) Fields() []string {
	if w == nil {
		return nil
	}
	seen := map[string]bool{}
	for _, g := range append([]Group{w.Group}, w.Or...) {
		for n := range g.Fields {
			seen[n] = true
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether the clause filters nothing.
func (w *Where) Empty() bool {
	return len(GroupList(w)) == 0
}

// Parse decodes a JSON clause. Malformed clauses fail INVALID_WHERE.
func Parse(raw []byte) (*Where, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var w Where
	if err := json.Unmarshal(raw, &w); err != nil {
		if apierr.IsCode(err, apierr.InvalidWhere) {
			return nil, err
		}
		return nil, invalid("%v", err)
	}
	return &w, nil
}

// FromMap builds a clause from decoded data, such as a YAML default.
func FromMap(m map[string]any) (*Where, error) {
	if len(m) == 0 {
		return nil, nil
	}
	g, or, err := parseGroup(m, true)
	if err != nil {
		return nil, err
	}
	return &Where{Group: g, Or: or}, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *Where) UnmarshalJSON(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return invalid("where must be an object: %v", err)
	}
	g, or, err := parseGroup(m, true)
	if err != nil {
		return err
	}
	w.Group, w.Or = g, or
	return nil
}

func invalid(format string, args ...any) error {
	return apierr.New(apierr.InvalidWhere, "").WithDebug(format, args...)
}

func parseGroup(m map[string]any, top bool) (Group, []Group, error) {
	g := Group{Fields: map[string]Pred{}}
	var or []Group
	for k, v := range m {
		switch k {
		case "own":
			if v == nil {
				continue
			}
			b, ok := v.(bool)
			if !ok {
				return g, nil, invalid("own must be a boolean")
			}
			g.Own = b
		case "or":
			if !top {
				return g, nil, invalid("or groups cannot be nested")
			}
			if v == nil {
				continue
			}
			list, ok := v.([]any)
			if !ok {
				return g, nil, invalid("or must be a list of groups")
			}
			for i, item := range list {
				gm, ok := item.(map[string]any)
				if !ok {
					return g, nil, invalid("or[%d] must be an object", i)
				}
				sub, _, err := parseGroup(gm, false)
				if err != nil {
					return g, nil, err
				}
				or = append(or, sub)
			}
		default:
			p, err := parsePred(k, v)
			if err != nil {
				return g, nil, err
			}
			g.Fields[k] = p
		}
	}
	return g, or, nil
}

func parsePred(field string, v any) (Pred, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		if _, isList := v.([]any); isList {
			return Pred{}, invalid("%s: lists cannot be compared for equality", field)
		}
		return Eq(normalize(v)), nil
	}
	if len(obj) == 0 {
		return Pred{}, invalid("%s: empty operator object", field)
	}
	ops := make([]string, 0, len(obj))
	for k := range obj {
		ops = append(ops, k)
	}
	sort.Strings(ops)

	var p Pred
	for _, k := range ops {
		raw := obj[k]
		switch op := Op(k); op {
		case Gt, Gte, Lt, Lte:
			val := normalize(raw)
			if !ordered(val) {
				return Pred{}, invalid("%s.%s: expected a number or string", field, k)
			}
			p.Ranges = append(p.Ranges, Range{Op: op, Value: val})
		case Between:
			bounds, ok := raw.([]any)
			if !ok || len(bounds) != 2 {
				return Pred{}, invalid("%s.$between: expected [low, high]", field)
			}
			lo, hi := normalize(bounds[0]), normalize(bounds[1])
			if !ordered(lo) || !ordered(hi) {
				return Pred{}, invalid("%s.$between: expected numbers or strings", field)
			}
			p.Ranges = append(p.Ranges, Range{Op: Between, Value: lo, High: hi})
		default:
			return Pred{}, invalid("%s: unknown operator %q", field, k)
		}
	}
	return p, nil
}

// normalize turns json.Number into float64 so values compare like stored ones.
func normalize(v any) any {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

func ordered(v any) bool {
	switch v.(type) {
	case string, float64, float32, int, int64, int32:
		return true
	}
	return false
}

// String renders a predicate for logs.
func (p Pred) String() string {
	if p.Equals {
		return fmt.Sprintf("= %v", p.Value)
	}
	var b bytes.Buffer
	for i, r := range p.Ranges {
		if i > 0 {
			b.WriteString(" and ")
		}
		if r.Op == Between {
			fmt.Fprintf(&b, "between %v..%v", r.Value, r.High)
			continue
		}
		fmt.Fprintf(&b, "%s %v", r.Op, r.Value)
	}
	return b.String()
}
