package filter

import (
	"fmt"
	"strings"
)

// Expression is a node of a parsed filter.
type Expression interface {
	expressionNode()
	String() string
}

// BinaryExpr represents a comparison or a logical AND/OR.
type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (b *BinaryExpr) expressionNode() {}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Operator, b.Right.String())
}

// UnaryExpr represents NOT x.
type UnaryExpr struct {
	Operator string
	Operand  Expression
}

func (u *UnaryExpr) expressionNode() {}

func (u *UnaryExpr) String() string {
	return fmt.Sprintf("%s %s", u.Operator, u.Operand.String())
}

// ColumnRef represents a column reference, optionally qualified.
type ColumnRef struct {
	Table  string
	Column string
}

func (c *ColumnRef) expressionNode() {}

func (c *ColumnRef) String() string {
	if c.Table != "" {
		return fmt.Sprintf("%s.%s", c.Table, c.Column)
	}
	return c.Column
}

// Literal represents a literal value: string, int64, float64 or nil.
type Literal struct {
	Value interface{}
}

func (l *Literal) expressionNode() {}

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case string:
		return fmt.Sprintf("'%s'", strings.ReplaceAll(v, "'", "''"))
	case nil:
		return "NULL"
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// InExpr represents x [NOT] IN (a, b, ...).
type InExpr struct {
	Expr   Expression
	Values []Expression
	Not    bool
}

func (i *InExpr) expressionNode() {}

func (i *InExpr) String() string {
	vals := make([]string, len(i.Values))
	for j, v := range i.Values {
		vals[j] = v.String()
	}
	op := "IN"
	if i.Not {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", i.Expr.String(), op, strings.Join(vals, ", "))
}

// IsNullExpr represents x IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expression
	Not  bool
}

func (i *IsNullExpr) expressionNode() {}

func (i *IsNullExpr) String() string {
	if i.Not {
		return fmt.Sprintf("%s IS NOT NULL", i.Expr.String())
	}
	return fmt.Sprintf("%s IS NULL", i.Expr.String())
}

// LikeExpr represents x [NOT] LIKE pattern.
type LikeExpr struct {
	Expr    Expression
	Pattern Expression
	Not     bool
}

func (l *LikeExpr) expressionNode() {}

func (l *LikeExpr) String() string {
	if l.Not {
		return fmt.Sprintf("%s NOT LIKE %s", l.Expr.String(), l.Pattern.String())
	}
	return fmt.Sprintf("%s LIKE %s", l.Expr.String(), l.Pattern.String())
}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expression
}

func (p *ParenExpr) expressionNode() {}

func (p *ParenExpr) String() string {
	return fmt.Sprintf("(%s)", p.Expr.String())
}

// Columns returns the distinct column names referenced by expr, in order
// of first appearance.
func Columns(expr Expression) []string {
	if expr == nil {
		return nil
	}
	seen := make(map[string]bool)
	var cols []string
	var walk func(Expression)
	walk = func(e Expression) {
		switch ex := e.(type) {
		case *ColumnRef:
			if !seen[ex.Column] {
				seen[ex.Column] = true
				cols = append(cols, ex.Column)
			}
		case *BinaryExpr:
			walk(ex.Left)
			walk(ex.Right)
		case *UnaryExpr:
			walk(ex.Operand)
		case *InExpr:
			walk(ex.Expr)
			for _, v := range ex.Values {
				walk(v)
			}
		case *IsNullExpr:
			walk(ex.Expr)
		case *LikeExpr:
			walk(ex.Expr)
			walk(ex.Pattern)
		case *ParenExpr:
			walk(ex.Expr)
		}
	}
	walk(expr)
	return cols
}
