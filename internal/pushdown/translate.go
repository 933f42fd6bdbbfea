// SPDX-License-Identifier: GPL-3.0-or-later
//
// New code grounded directly on spec §4.10's exhaustive rule table (no
// pack example implements a predicate-pushdown translator for MS-SQL
// specifically); identifier escaping reuses the same `[name]`/doubled-`]`
// convention `sqldef/sqldef`'s adapter/mssql/mssql.go uses, credited in
// internal/typemap where it is the primary grounding source.
package pushdown

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareOp is a structured comparison operator (spec §4.10).
type CompareOp string

const (
	OpEQ CompareOp = "="
	OpNE CompareOp = "<>"
	OpLT CompareOp = "<"
	OpLE CompareOp = "<="
	OpGT CompareOp = ">"
	OpGE CompareOp = ">="
)

// ArithOp is an arithmetic operator, always parenthesized on translation
// to force precedence.
type ArithOp string

const (
	ArithAdd ArithOp = "+"
	ArithSub ArithOp = "-"
	ArithMul ArithOp = "*"
	ArithDiv ArithOp = "/"
	ArithMod ArithOp = "%"
)

// Expr is the recursive expression-tree node this translator visits.
// Exactly one of its fields is populated per node, acting as a tagged
// variant without reflection.
type Expr struct {
	Column   *ColumnRef
	Const    *ConstValue
	Compare  *CompareExpr
	IsNull   *IsNullExpr
	In       *InExpr
	And      []Expr
	Or       []Expr
	Arith    *ArithExpr
	Case     *CaseExpr
	Func     *FuncCall
}

// ColumnRef resolves via the scan's projection map (projection index →
// all-columns index → name), per spec §4.10.
type ColumnRef struct {
	ProjectionIndex int
}

// ConstValue is a literal; Literal must already be a valid T-SQL literal
// (the writer path's encoders, not this package, own value formatting).
type ConstValue struct {
	Literal string
}

type CompareExpr struct {
	Op          CompareOp
	Left, Right Expr
}

type IsNullExpr struct {
	Operand Expr
	Not     bool
}

type InExpr struct {
	Operand Expr
	Values  []ConstValue
}

type ArithExpr struct {
	Op          ArithOp
	Left, Right Expr
}

type WhenClause struct {
	When Expr
	Then Expr
}

type CaseExpr struct {
	Whens []WhenClause
	Else  *Expr
}

type FuncCall struct {
	Name string
	Args []Expr
}

// ColumnResolver maps a projection index to the underlying column name.
type ColumnResolver func(projectionIndex int) (name string, ok bool)

// Result is the translator's output: the pushed-down SQL fragment and
// whether the whole input tree was fully represented by it.
type Result struct {
	SQL             string
	FullySupported  bool
}

// supportedFuncs is the function whitelist (spec §4.10); value is the
// number of arguments (-1 means variadic not applicable/unused here).
var supportedFuncs = map[string]int{
	"lower": 1, "upper": 1, "length": 1, "trim": 1, "ltrim": 1, "rtrim": 1,
	"prefix": 2, "suffix": 2, "contains": 2,
	"iprefix": 2, "isuffix": 2, "icontains": 2,
	"year": 1, "month": 1, "day": 1,
	"hour": 1, "minute": 1, "second": 1,
	"date_diff": 3, "date_add": 3, "date_part": 2,
	"current_date": 0, "current_timestamp": 0,
}

// Translate visits e and returns the pushed-down SQL fragment. When any
// node is unsupported, FullySupported is false: for a top-level AND, the
// unsupported child is simply omitted (partial pushdown); for anything
// else (including an OR with any unsupported child), the entire fragment
// is rejected and Result.SQL is empty, matching spec §4.10's
// correctness-first design — the host engine always keeps the original
// complete filter set and re-applies it locally when FullySupported is
// false.
func Translate(e Expr, resolve ColumnResolver) Result {
	switch {
	case len(e.And) > 0:
		var parts []string
		fullySupported := true
		for _, child := range e.And {
			r := Translate(child, resolve)
			if r.SQL == "" {
				fullySupported = false
				continue
			}
			if !r.FullySupported {
				fullySupported = false
			}
			parts = append(parts, r.SQL)
		}
		if len(parts) == 0 {
			return Result{}
		}
		return Result{SQL: "(" + strings.Join(parts, " AND ") + ")", FullySupported: fullySupported}

	case len(e.Or) > 0:
		var parts []string
		for _, child := range e.Or {
			r := Translate(child, resolve)
			if !r.FullySupported {
				// OR must be all-or-nothing: any unsupported child
				// rejects the entire disjunction, since rows matching
				// only the rejected branch would otherwise be missed.
				return Result{}
			}
			parts = append(parts, r.SQL)
		}
		return Result{SQL: "(" + strings.Join(parts, " OR ") + ")", FullySupported: true}

	case e.Compare != nil:
		left := Translate(e.Compare.Left, resolve)
		right := Translate(e.Compare.Right, resolve)
		if !left.FullySupported || !right.FullySupported || left.SQL == "" || right.SQL == "" {
			return Result{}
		}
		return Result{SQL: fmt.Sprintf("%s %s %s", left.SQL, e.Compare.Op, right.SQL), FullySupported: true}

	case e.IsNull != nil:
		operand := Translate(e.IsNull.Operand, resolve)
		if !operand.FullySupported || operand.SQL == "" {
			return Result{}
		}
		if e.IsNull.Not {
			return Result{SQL: operand.SQL + " IS NOT NULL", FullySupported: true}
		}
		return Result{SQL: operand.SQL + " IS NULL", FullySupported: true}

	case e.In != nil:
		operand := Translate(e.In.Operand, resolve)
		if !operand.FullySupported || operand.SQL == "" || len(e.In.Values) == 0 {
			return Result{}
		}
		lits := make([]string, len(e.In.Values))
		for i, v := range e.In.Values {
			lits[i] = v.Literal
		}
		return Result{SQL: fmt.Sprintf("%s IN (%s)", operand.SQL, strings.Join(lits, ", ")), FullySupported: true}

	case e.Arith != nil:
		left := Translate(e.Arith.Left, resolve)
		right := Translate(e.Arith.Right, resolve)
		if !left.FullySupported || !right.FullySupported || left.SQL == "" || right.SQL == "" {
			return Result{}
		}
		return Result{SQL: fmt.Sprintf("(%s %s %s)", left.SQL, e.Arith.Op, right.SQL), FullySupported: true}

	case e.Case != nil:
		return translateCase(*e.Case, resolve)

	case e.Func != nil:
		return translateFunc(*e.Func, resolve)

	case e.Column != nil:
		name, ok := resolve(e.Column.ProjectionIndex)
		if !ok {
			return Result{}
		}
		return Result{SQL: escapeIdent(name), FullySupported: true}

	case e.Const != nil:
		return Result{SQL: e.Const.Literal, FullySupported: true}

	default:
		return Result{}
	}
}

func translateCase(c CaseExpr, resolve ColumnResolver) Result {
	var b strings.Builder
	b.WriteString("CASE")
	for _, w := range c.Whens {
		when := Translate(w.When, resolve)
		then := Translate(w.Then, resolve)
		if !when.FullySupported || !then.FullySupported || when.SQL == "" || then.SQL == "" {
			return Result{}
		}
		fmt.Fprintf(&b, " WHEN %s THEN %s", when.SQL, then.SQL)
	}
	if c.Else != nil {
		elseResult := Translate(*c.Else, resolve)
		if !elseResult.FullySupported || elseResult.SQL == "" {
			return Result{}
		}
		fmt.Fprintf(&b, " ELSE %s", elseResult.SQL)
	}
	b.WriteString(" END")
	return Result{SQL: b.String(), FullySupported: true}
}

func translateFunc(f FuncCall, resolve ColumnResolver) Result {
	if _, ok := supportedFuncs[f.Name]; !ok {
		return Result{}
	}
	args := make([]Result, len(f.Args))
	for i, a := range f.Args {
		args[i] = Translate(a, resolve)
		if !args[i].FullySupported || args[i].SQL == "" {
			return Result{}
		}
	}

	switch f.Name {
	case "lower":
		return Result{SQL: fmt.Sprintf("LOWER(%s)", args[0].SQL), FullySupported: true}
	case "upper":
		return Result{SQL: fmt.Sprintf("UPPER(%s)", args[0].SQL), FullySupported: true}
	case "length":
		return Result{SQL: fmt.Sprintf("LEN(%s)", args[0].SQL), FullySupported: true}
	case "trim":
		return Result{SQL: fmt.Sprintf("LTRIM(RTRIM(%s))", args[0].SQL), FullySupported: true}
	case "ltrim":
		return Result{SQL: fmt.Sprintf("LTRIM(%s)", args[0].SQL), FullySupported: true}
	case "rtrim":
		return Result{SQL: fmt.Sprintf("RTRIM(%s)", args[0].SQL), FullySupported: true}

	case "prefix":
		return likeResult(args[0].SQL, args[1].SQL, "", "%")
	case "suffix":
		return likeResult(args[0].SQL, args[1].SQL, "%", "")
	case "contains":
		return likeResult(args[0].SQL, args[1].SQL, "%", "%")
	case "iprefix":
		return likeResult(lower(args[0].SQL), lower(args[1].SQL), "", "%")
	case "isuffix":
		return likeResult(lower(args[0].SQL), lower(args[1].SQL), "%", "")
	case "icontains":
		return likeResult(lower(args[0].SQL), lower(args[1].SQL), "%", "%")

	case "year":
		return Result{SQL: fmt.Sprintf("YEAR(%s)", args[0].SQL), FullySupported: true}
	case "month":
		return Result{SQL: fmt.Sprintf("MONTH(%s)", args[0].SQL), FullySupported: true}
	case "day":
		return Result{SQL: fmt.Sprintf("DAY(%s)", args[0].SQL), FullySupported: true}
	case "hour":
		return Result{SQL: fmt.Sprintf("DATEPART(HOUR, %s)", args[0].SQL), FullySupported: true}
	case "minute":
		return Result{SQL: fmt.Sprintf("DATEPART(MINUTE, %s)", args[0].SQL), FullySupported: true}
	case "second":
		return Result{SQL: fmt.Sprintf("DATEPART(SECOND, %s)", args[0].SQL), FullySupported: true}
	case "date_diff":
		return Result{SQL: fmt.Sprintf("DATEDIFF(%s, %s, %s)", datePart(args[0].SQL), args[1].SQL, args[2].SQL), FullySupported: true}
	case "date_add":
		return Result{SQL: fmt.Sprintf("DATEADD(%s, %s, %s)", datePart(args[1].SQL), args[2].SQL, args[0].SQL), FullySupported: true}
	case "date_part":
		return Result{SQL: fmt.Sprintf("DATEPART(%s, %s)", datePart(args[0].SQL), args[1].SQL), FullySupported: true}
	case "current_date":
		return Result{SQL: "CAST(GETDATE() AS DATE)", FullySupported: true}
	case "current_timestamp":
		return Result{SQL: "GETDATE()", FullySupported: true}

	default:
		return Result{}
	}
}

// datePart strips surrounding quotes from a string-literal part argument
// (e.g. the translated Const for "day") since DATEDIFF/DATEADD/DATEPART
// take their part name as a bare identifier, not a string literal.
func datePart(literal string) string {
	return strings.Trim(literal, "'N")
}

func lower(sql string) string {
	return fmt.Sprintf("LOWER(%s)", sql)
}

// likeResult builds a LIKE pattern, escaping %, _, and [ in the pattern
// operand per spec §4.10.
func likeResult(target, patternSQL, prefixWildcard, suffixWildcard string) Result {
	// patternSQL is itself a translated expression (usually a string
	// literal); when it is a plain quoted literal we can escape its
	// contents directly, otherwise fall back to building the pattern
	// with T-SQL string concatenation so a column/expression pattern
	// still works.
	if lit, ok := stringLiteral(patternSQL); ok {
		escaped := escapeLikePattern(lit)
		pattern := prefixWildcard + escaped + suffixWildcard
		return Result{SQL: fmt.Sprintf("%s LIKE N'%s'", target, pattern), FullySupported: true}
	}
	var b strings.Builder
	b.WriteString(target)
	b.WriteString(" LIKE ")
	if prefixWildcard != "" {
		b.WriteString("'" + prefixWildcard + "' + ")
	}
	b.WriteString(patternSQL)
	if suffixWildcard != "" {
		b.WriteString(" + '" + suffixWildcard + "'")
	}
	return Result{SQL: b.String(), FullySupported: true}
}

func stringLiteral(sql string) (string, bool) {
	if strings.HasPrefix(sql, "N'") && strings.HasSuffix(sql, "'") && len(sql) >= 3 {
		return strings.ReplaceAll(sql[2:len(sql)-1], "''", "'"), true
	}
	if strings.HasPrefix(sql, "'") && strings.HasSuffix(sql, "'") && len(sql) >= 2 {
		return strings.ReplaceAll(sql[1:len(sql)-1], "''", "'"), true
	}
	return "", false
}

func escapeLikePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%':
			b.WriteString("[%]")
		case '_':
			b.WriteString("[_]")
		case '[':
			b.WriteString("[[]")
		case '\'':
			b.WriteString("''")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// IntLiteral formats an integer constant for ConstValue.Literal.
func IntLiteral(v int64) string {
	return strconv.FormatInt(v, 10)
}
