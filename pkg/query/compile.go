package query

import (
	"reflect"
	"strings"

	"gorm.io/gorm/clause"
)

// Where compiles f into a single parenthesised SQL expression. ok is false when
// the filter is empty and no condition should be added.
func (m *Meta) Where(f *Filter) (expr clause.Expr, ok bool, err error) {
	if f.IsEmpty() {
		return clause.Expr{}, false, nil
	}
	c := compiler{meta: m}
	sql, vars, err := c.compile(*f)
	if err != nil {
		return clause.Expr{}, false, err
	}
	return clause.Expr{SQL: "(" + sql + ")", Vars: vars}, true, nil
}

type compiler struct {
	meta *Meta
	// groupBy is set when compiling a having clause; plain field references
	// must then be one of the grouped columns.
	groupBy map[string]bool
}

func (c compiler) having() bool { return c.groupBy != nil }

func (c compiler) compile(f Filter) (string, []any, error) {
	kinds := f.kinds()
	if len(kinds) > 1 {
		return "", nil, invalid("a filter node must be exactly one of and, or, not or a field condition")
	}
	if len(kinds) == 0 {
		return "1=1", nil, nil
	}
	switch kinds[0] {
	case kindAnd:
		return c.join(f.And, " AND ", "1=1")
	case kindOr:
		return c.join(f.Or, " OR ", "1=0")
	case kindNot:
		sql, vars, err := c.compile(*f.Not)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", vars, nil
	default:
		return c.leaf(f)
	}
}

func (c compiler) join(filters []Filter, sep, empty string) (string, []any, error) {
	if len(filters) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(filters))
	var vars []any
	for _, child := range filters {
		sql, childVars, err := c.compile(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		vars = append(vars, childVars...)
	}
	return strings.Join(parts, sep), vars, nil
}

// operand is the left-hand side of a leaf: a column or an aggregate of one.
type operand struct {
	sql     string
	vars    []any
	convert func(any) (any, error)
}

func (c compiler) operand(f Filter) (operand, error) {
	if f.Agg != "" {
		if !c.having() {
			return operand{}, invalid("aggregate conditions are only allowed in having")
		}
		sql, vars, field, err := aggregateExpr(c.meta, f.Agg, f.Field)
		if err != nil {
			return operand{}, err
		}
		convert := rawNumber
		if (f.Agg == AggMin || f.Agg == AggMax) && field != nil {
			convert = func(v any) (any, error) { return coerce(field, v) }
		}
		return operand{sql: sql, vars: vars, convert: convert}, nil
	}

	field, err := c.meta.Field(f.Field)
	if err != nil {
		return operand{}, err
	}
	if c.having() && !c.groupBy[field.DBName] {
		return operand{}, invalid("having references %q which is not grouped", f.Field)
	}
	return operand{
		sql:     "?",
		vars:    []any{column(field.DBName)},
		convert: func(v any) (any, error) { return coerce(field, v) },
	}, nil
}

func (c compiler) leaf(f Filter) (string, []any, error) {
	if f.Op == "" {
		return "", nil, invalid("filter on %q is missing an operator", f.Field)
	}
	if !f.Op.IsValid() {
		return "", nil, invalid("unknown filter operator %q", f.Op)
	}
	lhs, err := c.operand(f)
	if err != nil {
		return "", nil, err
	}
	with := func(sql string, extra ...any) (string, []any, error) {
		vars := append(append([]any{}, lhs.vars...), extra...)
		return strings.ReplaceAll(sql, "{lhs}", lhs.sql), vars, nil
	}

	switch f.Op {
	case OpIsNull:
		return with("{lhs} IS NULL")
	case OpNotNull:
		return with("{lhs} IS NOT NULL")
	case OpIn, OpNotIn:
		values, err := listValues(f)
		if err != nil {
			return "", nil, err
		}
		if len(values) == 0 {
			if f.Op == OpIn {
				return "1=0", nil, nil
			}
			return "1=1", nil, nil
		}
		converted := make([]any, 0, len(values))
		for _, raw := range values {
			value, err := lhs.convert(raw)
			if err != nil {
				return "", nil, err
			}
			converted = append(converted, value)
		}
		if f.Op == OpIn {
			return with("{lhs} IN ?", converted)
		}
		return with("{lhs} NOT IN ?", converted)
	}

	if f.Op.isStringMatch() {
		raw, ok := f.Value.(string)
		if !ok {
			return "", nil, invalid("%s on %q expects a string", f.Op, f.Field)
		}
		pattern := escapeLike(raw)
		switch f.Op {
		case OpContains:
			pattern = "%" + pattern + "%"
		case OpStartsWith:
			pattern = pattern + "%"
		case OpEndsWith:
			pattern = "%" + pattern
		}
		if f.Insensitive {
			return with(`LOWER({lhs}) LIKE ? ESCAPE '\'`, strings.ToLower(pattern))
		}
		return with(`{lhs} LIKE ? ESCAPE '\'`, pattern)
	}

	if f.Value == nil {
		switch f.Op {
		case OpEq:
			return with("{lhs} IS NULL")
		case OpNeq:
			return with("{lhs} IS NOT NULL")
		default:
			return "", nil, invalid("%s on %q requires a value", f.Op, f.Field)
		}
	}

	value, err := lhs.convert(f.Value)
	if err != nil {
		return "", nil, err
	}
	if s, isString := value.(string); isString && f.Insensitive && (f.Op == OpEq || f.Op == OpNeq) {
		if f.Op == OpEq {
			return with("LOWER({lhs}) = ?", strings.ToLower(s))
		}
		return with("LOWER({lhs}) <> ?", strings.ToLower(s))
	}
	return with("{lhs} "+comparators[f.Op]+" ?", value)
}

var comparators = map[Op]string{
	OpEq:  "=",
	OpNeq: "<>",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

func listValues(f Filter) ([]any, error) {
	if f.Values != nil {
		return f.Values, nil
	}
	if f.Value == nil {
		return nil, invalid("%s on %q requires a list of values", f.Op, f.Field)
	}
	rv := reflect.ValueOf(f.Value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, invalid("%s on %q requires a list of values", f.Op, f.Field)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
