package core

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
)

/*
Row filters for feature jobs are written in a small query language:

Query       := Expr
Expr        := OrExpr ( "OR" OrExpr )*
OrExpr      := Condition ( "AND" Condition )*
Condition   := "NOT"? ( Comparison | "(" Expr ")" )
Comparison  := <identifier> ( "IS" "MISSING" | Op Value )
Op          := "<" | ">" | "="
Value       := "-"? ( <float> | <int> ) | <string>

For example: amount > 0.5 AND (cat_travel = 1 OR timestamp < "2024-03-01")
*/

var (
	parser = participle.MustBuild[QueryExpr](
		participle.Unquote("String"),
		participle.Union[Value](NumberValue{}, StringValue{}),
	)
)

func ParseQuery(query string) (Filter, error) {
	q, err := parser.ParseString("", query)
	if err != nil {
		return nil, fmt.Errorf("%w: error parsing query '%s': %w", ErrInvalidFilter, query, err)
	}

	filter, err := q.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("%w: error converting query '%s' to filter: %w", ErrInvalidFilter, query, err)
	}

	return filter, nil
}

type QueryExpr struct {
	Expr *Expr `@@`
}

func (q *QueryExpr) ToFilter() (Filter, error) {
	return q.Expr.ToFilter()
}

func (q *QueryExpr) String() string {
	return q.Expr.String()
}

type Expr struct {
	Ors []*OrExpr `@@ ( "OR" @@ )*`
}

func (e *Expr) ToFilter() (Filter, error) {
	if len(e.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}

	if len(e.Ors) == 1 {
		return e.Ors[0].ToFilter()
	}

	filters := make([]Filter, 0, len(e.Ors))
	for _, cond := range e.Ors {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &OrFilter{filters: filters}, nil
}

func (e *Expr) String() string {
	return joinExprs(e.Ors, "OR")
}

type OrExpr struct {
	Ands []*Condition `@@ ( "AND" @@ )*`
}

func (o *OrExpr) ToFilter() (Filter, error) {
	if len(o.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}

	if len(o.Ands) == 1 {
		return o.Ands[0].ToFilter()
	}

	filters := make([]Filter, 0, len(o.Ands))
	for _, cond := range o.Ands {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &AndFilter{filters: filters}, nil
}

func (o *OrExpr) String() string {
	return joinExprs(o.Ands, "AND")
}

func joinExprs[T fmt.Stringer](exprs []T, sep string) string {
	if len(exprs) == 0 {
		return ""
	}
	if len(exprs) == 1 {
		return exprs[0].String()
	}

	out := fmt.Sprintf("(%s)", exprs[0].String())
	for _, e := range exprs[1:] {
		out += fmt.Sprintf(" %s (%s)", sep, e.String())
	}
	return out
}

type Condition struct {
	Not        bool        `@"NOT"?`
	Comparison *Comparison ` ( @@`
	SubExpr    *Expr       `| "(" @@ ")" )`
}

func (c *Condition) ToFilter() (Filter, error) {
	var filter Filter
	var err error
	if c.Comparison != nil {
		filter, err = c.Comparison.ToFilter()
	} else if c.SubExpr != nil {
		filter, err = c.SubExpr.ToFilter()
	} else {
		return nil, fmt.Errorf("empty condition")
	}

	if err != nil {
		return nil, err
	}

	if c.Not {
		filter = &NotFilter{filter: filter}
	}

	return filter, nil
}

func (c *Condition) String() string {
	var out string
	if c.SubExpr != nil {
		out = c.SubExpr.String()
	} else {
		out = c.Comparison.String()
	}
	if c.Not {
		return fmt.Sprintf("NOT (%s)", out)
	}
	return out
}

type Comparison struct {
	Column  string `@Ident`
	Missing bool   `( @"IS" "MISSING"`
	Op      string `| @( "<" | ">" | "=" )`
	Value   Value  `  @@ )`
}

func (c *Comparison) ToFilter() (Filter, error) {
	if c.Missing {
		return &MissingFilter{column: c.Column}, nil
	}

	switch v := c.Value.(type) {
	case NumberValue:
		return &NumberFilter{column: c.Column, op: compareOp(c.Op), value: v.Float()}, nil
	case StringValue:
		return newStringFilter(c.Column, compareOp(c.Op), v.Value), nil
	default:
		return nil, fmt.Errorf("missing value to compare column %s to", c.Column)
	}
}

func (c *Comparison) String() string {
	if c.Missing {
		return fmt.Sprintf("%s IS MISSING", c.Column)
	}
	return fmt.Sprintf("%s %s %v", c.Column, c.Op, c.Value)
}

type Value interface{ value() }

type NumberValue struct {
	Negative bool    `@"-"?`
	Value    float64 `@(Float | Int)`
}

func (n NumberValue) value() {}

func (n NumberValue) Float() float64 {
	if n.Negative {
		return -n.Value
	}
	return n.Value
}

func (n NumberValue) String() string {
	return fmt.Sprintf("%g", n.Float())
}

type StringValue struct {
	Value string `@String`
}

func (s StringValue) value() {}

func (s StringValue) String() string {
	return fmt.Sprintf("%q", s.Value)
}
