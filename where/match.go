package where

import "github.com/jacentio/canopy/store"

// GroupList flattens w into its live groups: the top-level group followed
// by each "or" entry. Groups with no predicates and no own flag are dropped.
func GroupList(w *Where) []Group {
	if w == nil {
		return nil
	}
	var out []Group
	if w.Group.Live() {
		out = append(out, w.Group)
	}
	for _, g := range w.Or {
		if g.Live() {
			out = append(out, g)
		}
	}
	return out
}

// MatchField evaluates one predicate against a document value. Equality
// uses identity semantics (store.Same); every range comparison must hold
// and between is inclusive on both ends.
func MatchField(v any, p Pred) bool {
	if p.Equals {
		return store.Same(v, p.Value)
	}
	for _, r := range p.Ranges {
		if !matchRange(v, r) {
			return false
		}
	}
	return true
}

func matchRange(v any, r Range) bool {
	if v == nil {
		return false
	}
	c, ok := store.Compare(v, r.Value)
	if !ok {
		return false
	}
	switch r.Op {
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	case Between:
		hi, ok := store.Compare(v, r.High)
		return ok && c >= 0 && hi <= 0
	}
	return false
}

// MatchGroup reports whether every predicate of g holds on d. An own group
// never matches without a viewer.
func MatchGroup(d store.Doc, g Group, viewer string) bool {
	if g.Own {
		if viewer == "" || d.String(store.FieldOwner) != viewer {
			return false
		}
	}
	for name, p := range g.Fields {
		if !MatchField(d[name], p) {
			return false
		}
	}
	return true
}

// Match reports whether any group of w matches d. A clause without live
// groups matches everything.
func Match(d store.Doc, w *Where, viewer string) bool {
	groups := GroupList(w)
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if MatchGroup(d, g, viewer) {
			return true
		}
	}
	return false
}

// Filter keeps the documents of docs that match w.
func Filter(docs []store.Doc, w *Where, viewer string) []store.Doc {
	if len(GroupList(w)) == 0 {
		return docs
	}
	out := docs[:0:0]
	for _, d := range docs {
		if Match(d, w, viewer) {
			out = append(out, d)
		}
	}
	return out
}

// CanUseOwnIndex reports whether w is exactly one group holding only
// own:true, which an owner index answers without filtering.
func CanUseOwnIndex(w *Where) bool {
	groups := GroupList(w)
	return len(groups) == 1 && groups[0].Own && len(groups[0].Fields) == 0
}
