package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// exprBuilder compiles Expr trees into DynamoDB expression strings. Every
// field and value goes through a placeholder; nothing is interpolated.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byName map[string]string
	nv     int
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
		byName: map[string]string{},
	}
}

// name returns the placeholder for a field, reusing it on repeat use.
func (b *exprBuilder) name(field string) string {
	if ph, ok := b.byName[field]; ok {
		return ph
	}
	ph := fmt.Sprintf("#f%d", len(b.byName))
	b.byName[field] = ph
	b.names[ph] = field
	return ph
}

func (b *exprBuilder) value(v any) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal filter value: %w", err)
	}
	ph := fmt.Sprintf(":v%d", b.nv)
	b.nv++
	b.values[ph] = av
	return ph, nil
}

// always and never are used for literals; every item carries an id.
func (b *exprBuilder) always() string { return "attribute_exists(" + b.name(FieldID) + ")" }
func (b *exprBuilder) never() string  { return "attribute_not_exists(" + b.name(FieldID) + ")" }

var cmpOps = map[Op]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// compile renders e. An empty result means "no condition".
func (b *exprBuilder) compile(e Expr) (string, error) {
	switch x := e.(type) {
	case nil:
		return "", nil
	case Literal:
		if x {
			return b.always(), nil
		}
		return b.never(), nil
	case Missing:
		return "attribute_not_exists(" + b.name(x.Field) + ")", nil
	case Cmp:
		op, ok := cmpOps[x.Op]
		if !ok {
			return "", fmt.Errorf("unsupported operator %q", x.Op)
		}
		if x.Value == nil {
			// nil never reaches DynamoDB as a value: absent fields stand in for it.
			switch x.Op {
			case OpEq:
				return "attribute_not_exists(" + b.name(x.Field) + ")", nil
			case OpNe:
				return "attribute_exists(" + b.name(x.Field) + ")", nil
			}
			return b.never(), nil
		}
		v, err := b.value(x.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", b.name(x.Field), op, v), nil
	case And:
		return b.join(x, " AND ", b.always)
	case Or:
		return b.join(x, " OR ", b.never)
	}
	return "", fmt.Errorf("unsupported expression %T", e)
}

func (b *exprBuilder) join(parts []Expr, sep string, empty func() string) (string, error) {
	if len(parts) == 0 {
		return empty(), nil
	}
	clauses := make([]string, 0, len(parts))
	for _, p := range parts {
		c, err := b.compile(p)
		if err != nil {
			return "", err
		}
		if c == "" {
			c = b.always()
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return "(" + strings.Join(clauses, sep) + ")", nil
}

// CompileFilter renders e as a DynamoDB filter expression with its
// placeholder maps. Exposed for tooling and tests.
func CompileFilter(e Expr) (expr string, names map[string]string, values map[string]types.AttributeValue, err error) {
	b := newExprBuilder()
	expr, err = b.compile(e)
	if err != nil {
		return "", nil, nil, err
	}
	return expr, b.names, b.values, nil
}
