package filter

import (
	"fmt"
	"strings"
)

// ToSQL renders expr as a SQL boolean expression with ? placeholders and
// returns the bound arguments in order. Column names are double-quoted;
// table qualifiers are dropped because sources scan a single table.
func ToSQL(expr Expression) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}
	writeSQL(&sb, &args, expr)
	return sb.String(), args
}

// QuoteIdent double-quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func writeSQL(sb *strings.Builder, args *[]interface{}, expr Expression) {
	switch ex := expr.(type) {
	case *ColumnRef:
		sb.WriteString(QuoteIdent(ex.Column))
	case *Literal:
		if ex.Value == nil {
			sb.WriteString("NULL")
			return
		}
		sb.WriteString("?")
		*args = append(*args, ex.Value)
	case *ParenExpr:
		sb.WriteString("(")
		writeSQL(sb, args, ex.Expr)
		sb.WriteString(")")
	case *UnaryExpr:
		sb.WriteString("NOT ")
		writeSQL(sb, args, ex.Operand)
	case *BinaryExpr:
		sb.WriteString("(")
		writeSQL(sb, args, ex.Left)
		fmt.Fprintf(sb, " %s ", ex.Operator)
		writeSQL(sb, args, ex.Right)
		sb.WriteString(")")
	case *InExpr:
		writeSQL(sb, args, ex.Expr)
		if ex.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" IN (")
		for i, v := range ex.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeSQL(sb, args, v)
		}
		sb.WriteString(")")
	case *LikeExpr:
		writeSQL(sb, args, ex.Expr)
		if ex.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" LIKE ")
		writeSQL(sb, args, ex.Pattern)
	case *IsNullExpr:
		writeSQL(sb, args, ex.Expr)
		if ex.Not {
			sb.WriteString(" IS NOT NULL")
		} else {
			sb.WriteString(" IS NULL")
		}
	}
}
