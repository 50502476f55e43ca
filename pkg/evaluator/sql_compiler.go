package evaluator

import (
	"fmt"
	"strings"

	"github.com/user/analytics-ingest/pkg/event"
	"github.com/user/analytics-ingest/pkg/filter"
)

// CompiledFilters is the SQL form of a filter list, ready to splice into an
// ALTER TABLE ... UPDATE statement.
type CompiledFilters struct {
	// SetClause is a comma-separated list of "dim = CASE ... END" clauses,
	// one per writable dimension touched by any enabled filter.
	SetClause string
}

// Compile produces the backfill SET clause: one CASE expression per writable
// dimension touched, with a trailing "ELSE dim END" so rows matched by no
// filter retain their existing value.
//
// CASE takes the first matching branch, so branches are emitted highest
// priority first (and among equal priorities the later-declared filter
// first), encoding the same precedence the live evaluator resolves with
// last-write-wins. A set_default_value branch must test the dimension as
// the lower-priority branches leave it, not the stored column: its guard
// compares against the accumulated if() chain of every branch below it,
// the SQL form of the live evaluator's overlay read.
func Compile(defs []filter.Definition) CompiledFilters {
	ordered := filter.SortedForApplication(defs)

	writable := make(map[string]bool)
	for _, dim := range event.WritableDimensions {
		writable[dim] = true
	}

	type branch struct {
		pred string
		val  string
	}
	branches := make(map[string][]branch)
	current := make(map[string]string)

	for _, def := range ordered {
		if !def.Enabled {
			continue
		}
		pred := compilePredicate(def.Conditions)
		if pred == "" {
			continue
		}
		for _, op := range def.Operations {
			if !writable[op.Dimension] {
				continue
			}
			cur, ok := current[op.Dimension]
			if !ok {
				cur = sqlIdent(op.Dimension)
			}
			var b branch
			switch op.Action {
			case filter.ActionSetValue:
				b = branch{pred: pred, val: sqlValueLiteral(op.Dimension, op.Value)}
			case filter.ActionUnsetValue:
				b = branch{pred: pred, val: emptyValue(op.Dimension)}
			case filter.ActionSetDefaultValue:
				b = branch{
					pred: fmt.Sprintf("(%s AND %s = %s)", pred, cur, emptyValue(op.Dimension)),
					val:  sqlValueLiteral(op.Dimension, op.Value),
				}
			default:
				continue
			}
			branches[op.Dimension] = append(branches[op.Dimension], b)
			current[op.Dimension] = fmt.Sprintf("if(%s, %s, %s)", b.pred, b.val, cur)
		}
	}

	var clauses []string
	for _, dim := range event.WritableDimensions {
		brs := branches[dim]
		if len(brs) == 0 {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s = CASE", dim)
		for i := len(brs) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, " WHEN %s THEN %s", brs[i].pred, brs[i].val)
		}
		fmt.Fprintf(&sb, " ELSE %s END", dim)
		clauses = append(clauses, sb.String())
	}

	return CompiledFilters{SetClause: strings.Join(clauses, ", ")}
}

// compilePredicate renders an AND-of-conditions filter as a SQL boolean
// expression using only the closed field vocabulary. The empty-string guards
// on the negated operators keep them from matching rows whose field is
// simply absent, same as the live evaluator.
func compilePredicate(conditions []filter.Condition) string {
	var parts []string
	for _, c := range conditions {
		field := fieldExpr(c.Field)
		switch c.Operator {
		case filter.OpEquals:
			parts = append(parts, fmt.Sprintf("%s = %s", field, sqlQuoteLiteral(c.Value)))
		case filter.OpNotEquals:
			parts = append(parts, fmt.Sprintf("(%s != '' AND %s != %s)", field, field, sqlQuoteLiteral(c.Value)))
		case filter.OpContains:
			parts = append(parts, fmt.Sprintf("position(%s, %s) > 0", field, sqlQuoteLiteral(c.Value)))
		case filter.OpNotContains:
			parts = append(parts, fmt.Sprintf("(%s != '' AND position(%s, %s) = 0)", field, field, sqlQuoteLiteral(c.Value)))
		case filter.OpIsEmpty:
			parts = append(parts, fmt.Sprintf("%s = ''", field))
		case filter.OpIsNotEmpty:
			parts = append(parts, fmt.Sprintf("%s != ''", field))
		case filter.OpRegex:
			parts = append(parts, fmt.Sprintf("match(%s, %s)", field, sqlQuoteLiteral(c.Value)))
		default:
			parts = append(parts, "0")
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " AND ")
}

// sqlIdent passes through identifiers from the closed SourceField
// vocabulary. No user input ever reaches this function as a field name.
func sqlIdent(field string) string {
	return field
}

// fieldExpr renders a source field as a string-typed expression. is_direct
// is stored as a boolean column, so it is projected to the same
// "true"/"false" strings the live evaluator reads.
func fieldExpr(field string) string {
	if field == "is_direct" {
		return "if(is_direct, 'true', 'false')"
	}
	return sqlIdent(field)
}

// sqlValueLiteral renders an operation value for its target dimension's
// column type, coercing is_direct's "true"/"false" strings back to the
// boolean the column stores.
func sqlValueLiteral(dim, value string) string {
	if dim == "is_direct" {
		if value == "true" {
			return "1"
		}
		return "0"
	}
	return sqlQuoteLiteral(value)
}

// emptyValue is the dimension's "unset" literal: 0 for the boolean
// is_direct, the empty string for everything else.
func emptyValue(dim string) string {
	if dim == "is_direct" {
		return "0"
	}
	return "''"
}

// sqlQuoteLiteral escapes a string literal for ClickHouse's SQL dialect.
func sqlQuoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
