package where

import "github.com/jacentio/canopy/store"

var rangeOps = map[Op]store.Op{
	Gt:  store.OpGt,
	Gte: store.OpGte,
	Lt:  store.OpLt,
	Lte: store.OpLte,
}

// BuildExpr translates one group into a store expression. A group asking
// for own documents without a viewer compiles to a false literal.
func BuildExpr(g Group, viewer string) store.Expr {
	var and store.And
	if g.Own {
		if viewer == "" {
			return store.Literal(false)
		}
		and = append(and, store.Cmp{Field: store.FieldOwner, Op: store.OpEq, Value: viewer})
	}
	for _, name := range g.Names() {
		p := g.Fields[name]
		if p.Equals {
			and = append(and, store.Cmp{Field: name, Op: store.OpEq, Value: p.Value})
			continue
		}
		for _, r := range p.Ranges {
			if r.Op == Between {
				and = append(and,
					store.Cmp{Field: name, Op: store.OpGte, Value: r.Value},
					store.Cmp{Field: name, Op: store.OpLte, Value: r.High})
				continue
			}
			and = append(and, store.Cmp{Field: name, Op: rangeOps[r.Op], Value: r.Value})
		}
	}
	if len(and) == 1 {
		return and[0]
	}
	return and
}

// BuildOr ORs the expressions of groups. No groups means no filter (nil).
func BuildOr(groups []Group, viewer string) store.Expr {
	switch len(groups) {
	case 0:
		return nil
	case 1:
		return BuildExpr(groups[0], viewer)
	}
	or := make(store.Or, len(groups))
	for i, g := range groups {
		or[i] = BuildExpr(g, viewer)
	}
	return or
}
