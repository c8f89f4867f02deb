package filter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/timeutil"
	"activation_backend/platform/apperr"
)

// Record is anything a filter can read fields from. ok is false for a field
// the record does not have; a nil value with ok true is a null field.
type Record interface {
	Field(name string) (value any, ok bool)
}

// Matcher is a compiled filter container.
type Matcher struct {
	container domain.FilterContainer
	expr      Expr
}

// Compile parses the container's logic once for repeated evaluation.
func Compile(container domain.FilterContainer) (*Matcher, error) {
	expr, err := ParseLogic(container.FilterLogic, len(container.Filters))
	if err != nil {
		return nil, err
	}
	return &Matcher{container: container, expr: expr}, nil
}

// Name returns the container name.
func (m *Matcher) Name() string { return m.container.Name }

// Direction returns the container direction.
func (m *Matcher) Direction() domain.Direction { return m.container.Direction }

// Matches evaluates every filter once and then the logic formula.
func (m *Matcher) Matches(rec Record) (bool, error) {
	values := make([]bool, len(m.container.Filters))
	for i, f := range m.container.Filters {
		ok, err := EvaluateFilter(f, rec)
		if err != nil {
			return false, err
		}
		values[i] = ok
	}
	return m.expr.Eval(values), nil
}

// Matches compiles container and evaluates it against rec.
func Matches(rec Record, container domain.FilterContainer) (bool, error) {
	m, err := Compile(container)
	if err != nil {
		return false, err
	}
	return m.Matches(rec)
}

// CompileAll compiles a list of containers, failing on the first bad one.
func CompileAll(containers []domain.FilterContainer) ([]*Matcher, error) {
	out := make([]*Matcher, 0, len(containers))
	for _, c := range containers {
		m, err := Compile(c)
		if err != nil {
			return nil, fmt.Errorf("criterion %q: %w", c.Name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// EvaluateFilter applies a single filter to rec.
func EvaluateFilter(f domain.Filter, rec Record) (bool, error) {
	raw, ok := rec.Field(f.Field)
	if !ok {
		return false, schemaErr("unknown field %q", f.Field)
	}
	if isNull(raw) {
		return false, nil
	}

	switch f.DataType {
	case domain.DataTypeString, "":
		return evalString(f, raw)
	case domain.DataTypeNumber:
		return evalNumber(f, raw)
	case domain.DataTypeDate:
		return evalDate(f, raw)
	default:
		return false, schemaErr("unsupported data type %q for field %q", f.DataType, f.Field)
	}
}

func evalString(f domain.Filter, raw any) (bool, error) {
	got := strings.ToLower(stringify(raw))
	want := strings.ToLower(f.Value)
	switch f.Operator {
	case domain.OpEquals:
		return got == want, nil
	case domain.OpNotEqual:
		return got != want, nil
	case domain.OpContains:
		return strings.Contains(got, want), nil
	case domain.OpDoesNotContain:
		return !strings.Contains(got, want), nil
	default:
		return false, schemaErr("operator %q is not valid for string field %q", f.Operator, f.Field)
	}
}

func evalNumber(f domain.Filter, raw any) (bool, error) {
	got, err := toFloat(raw)
	if err != nil {
		return false, schemaErr("field %q is not numeric: %v", f.Field, err)
	}
	want, err := strconv.ParseFloat(strings.TrimSpace(f.Value), 64)
	if err != nil {
		return false, schemaErr("filter value %q for field %q is not numeric", f.Value, f.Field)
	}
	return compareOrdered(f, got, want)
}

func evalDate(f domain.Filter, raw any) (bool, error) {
	var got time.Time
	switch v := raw.(type) {
	case time.Time:
		got = timeutil.DateOf(v)
	case *time.Time:
		got = timeutil.DateOf(*v)
	default:
		d, err := timeutil.ParseDate(stringify(raw))
		if err != nil {
			return false, schemaErr("field %q is not a date", f.Field)
		}
		got = d
	}
	want, err := timeutil.ParseDate(f.Value)
	if err != nil {
		return false, schemaErr("filter value %q for field %q is not a date", f.Value, f.Field)
	}
	return compareOrdered(f, float64(got.Unix()), float64(want.Unix()))
}

func compareOrdered(f domain.Filter, got, want float64) (bool, error) {
	switch f.Operator {
	case domain.OpEquals:
		return got == want, nil
	case domain.OpNotEqual:
		return got != want, nil
	case domain.OpGreaterThan:
		return got > want, nil
	case domain.OpLessThan:
		return got < want, nil
	case domain.OpGreaterOrEqual:
		return got >= want, nil
	case domain.OpLessOrEqual:
		return got <= want, nil
	default:
		return false, schemaErr("operator %q is not valid for %s field %q", f.Operator, f.DataType, f.Field)
	}
}

func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *time.Time:
		return x == nil
	case *string:
		return x == nil
	case *float64:
		return x == nil
	}
	return false
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case *string:
		return *x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case *float64:
		return *x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func schemaErr(format string, args ...any) error {
	return apperr.Schema(fmt.Sprintf(format, args...)).WithOp("filter.Evaluate")
}
