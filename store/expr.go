package store

// Op is a comparison operator in a filter expression.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Expr is a filter expression a backend evaluates natively.
//
// This is a sealed interface: only types in this package implement it, so
// backends can switch over the node types exhaustively.
//
// Expression types:
//   - Cmp: field <op> value
//   - And: all children hold (empty And is true)
//   - Or: any child holds (empty Or is false)
//   - Missing: field is absent or nil
//   - Literal: constant true/false
type Expr interface {
	exprNode()
}

// Cmp compares a document field against a literal value.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

// And is a conjunction.
type And []Expr

// Or is a disjunction.
type Or []Expr

// Missing matches documents where Field is absent.
type Missing struct {
	Field string
}

// Literal is a constant expression.
type Literal bool

func (Cmp) exprNode()     {}
func (And) exprNode()     {}
func (Or) exprNode()      {}
func (Missing) exprNode() {}
func (Literal) exprNode() {}

// Eval evaluates e against d. A nil expression matches everything.
func Eval(e Expr, d Doc) bool {
	switch x := e.(type) {
	case nil:
		return true
	case Literal:
		return bool(x)
	case Missing:
		return !d.Has(x.Field)
	case And:
		for _, c := range x {
			if !Eval(c, d) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range x {
			if Eval(c, d) {
				return true
			}
		}
		return false
	case Cmp:
		return evalCmp(x, d)
	}
	return false
}

func evalCmp(c Cmp, d Doc) bool {
	v, present := d[c.Field]
	switch c.Op {
	case OpEq:
		return Same(v, c.Value)
	case OpNe:
		return !Same(v, c.Value)
	}
	if !present {
		return false
	}
	cmp, ok := Compare(v, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}
