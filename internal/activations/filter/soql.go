package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"activation_backend/internal/activations/domain"
	"activation_backend/platform/apperr"
)

var (
	fieldName    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)
	dateLiteral  = regexp.MustCompile(`^[0-9TZ:.+\-]+$`)
	comparisonOp = map[domain.Operator]string{
		domain.OpEquals:         "=",
		domain.OpNotEqual:       "!=",
		domain.OpGreaterThan:    ">",
		domain.OpLessThan:       "<",
		domain.OpGreaterOrEqual: ">=",
		domain.OpLessOrEqual:    "<=",
	}
)

// SOQLCondition renders a container as a WHERE clause fragment.
// A container without filters renders as the empty string.
func SOQLCondition(container domain.FilterContainer) (string, error) {
	if len(container.Filters) == 0 {
		return "", nil
	}
	expr, err := ParseLogic(container.FilterLogic, len(container.Filters))
	if err != nil {
		return "", err
	}
	conditions := make([]string, len(container.Filters))
	for i, f := range container.Filters {
		c, err := SOQLFilter(f)
		if err != nil {
			return "", fmt.Errorf("criterion %q: %w", container.Name, err)
		}
		conditions[i] = c
	}
	return renderExpr(expr, conditions, true), nil
}

// SOQLUnion renders the disjunction of several containers.
// Any container without filters matches everything, so the union does too.
func SOQLUnion(containers []domain.FilterContainer) (string, error) {
	parts := make([]string, 0, len(containers))
	for _, c := range containers {
		cond, err := SOQLCondition(c)
		if err != nil {
			return "", err
		}
		if cond == "" {
			return "", nil
		}
		parts = append(parts, "("+cond+")")
	}
	return strings.Join(parts, " OR "), nil
}

// SOQLFilter renders one filter as a query condition.
func SOQLFilter(f domain.Filter) (string, error) {
	if !fieldName.MatchString(f.Field) {
		return "", apperr.Schema(fmt.Sprintf("invalid field name %q", f.Field)).WithOp("filter.SOQLFilter")
	}

	switch f.DataType {
	case domain.DataTypeString, "":
		switch f.Operator {
		case domain.OpContains:
			return fmt.Sprintf("%s LIKE '%%%s%%'", f.Field, escapeLike(f.Value)), nil
		case domain.OpDoesNotContain:
			return fmt.Sprintf("(NOT %s LIKE '%%%s%%')", f.Field, escapeLike(f.Value)), nil
		case domain.OpEquals, domain.OpNotEqual:
			return fmt.Sprintf("%s %s '%s'", f.Field, comparisonOp[f.Operator], escapeString(f.Value)), nil
		}
		return fmt.Sprintf("%s %s '%s'", f.Field, operatorText(f.Operator), escapeString(f.Value)), nil

	case domain.DataTypeNumber:
		v := strings.TrimSpace(f.Value)
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "", apperr.Schema(fmt.Sprintf("filter value %q for field %q is not numeric", f.Value, f.Field)).WithOp("filter.SOQLFilter")
		}
		return fmt.Sprintf("%s %s %s", f.Field, operatorText(f.Operator), v), nil

	case domain.DataTypeDate:
		v := strings.TrimSpace(f.Value)
		if !dateLiteral.MatchString(v) {
			return "", apperr.Schema(fmt.Sprintf("filter value %q for field %q is not a date literal", f.Value, f.Field)).WithOp("filter.SOQLFilter")
		}
		return fmt.Sprintf("%s %s %s", f.Field, operatorText(f.Operator), v), nil
	}

	return "", apperr.Schema(fmt.Sprintf("unsupported data type %q for field %q", f.DataType, f.Field)).WithOp("filter.SOQLFilter")
}

// operatorText maps known operators to their symbols. Unknown operators pass through verbatim.
func operatorText(op domain.Operator) string {
	if sym, ok := comparisonOp[op]; ok {
		return sym
	}
	return string(op)
}

func renderExpr(e Expr, conditions []string, top bool) string {
	join := func(items []Expr, sep string) string {
		parts := make([]string, len(items))
		for i, x := range items {
			parts[i] = renderExpr(x, conditions, false)
		}
		s := strings.Join(parts, sep)
		if top {
			return s
		}
		return "(" + s + ")"
	}

	switch x := e.(type) {
	case Atom:
		return conditions[int(x)-1]
	case And:
		return join(x, " AND ")
	case Or:
		return join(x, " OR ")
	}
	return ""
}

func escapeString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return r.Replace(s)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ValidFieldName reports whether name is safe to splice into a query.
func ValidFieldName(name string) bool {
	return fieldName.MatchString(name)
}

// FieldNames returns the distinct field names the containers filter on, in first-seen order.
func FieldNames(containers ...domain.FilterContainer) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range containers {
		for _, f := range c.Filters {
			key := strings.ToLower(f.Field)
			if seen[key] || !ValidFieldName(f.Field) {
				continue
			}
			seen[key] = true
			out = append(out, f.Field)
		}
	}
	return out
}
