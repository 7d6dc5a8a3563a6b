package query

// Op is a leaf comparison operator.
type Op string

const (
	OpEq         Op = "eq"
	OpNeq        Op = "neq"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNotIn      Op = "notIn"
	OpContains   Op = "contains"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
	OpIsNull     Op = "isNull"
	OpNotNull    Op = "notNull"
)

var validOps = []Op{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn,
	OpContains, OpStartsWith, OpEndsWith, OpIsNull, OpNotNull,
}

// IsValid reports whether the operator is known.
func (o Op) IsValid() bool {
	for _, candidate := range validOps {
		if candidate == o {
			return true
		}
	}
	return false
}

func (o Op) isStringMatch() bool {
	return o == OpContains || o == OpStartsWith || o == OpEndsWith
}

// Filter is a boolean expression over an entity's fields. A node is either a
// composite (And, Or, Not) or a leaf (Field, Op, Value). The zero Filter matches
// every row. An empty And matches everything; an empty Or matches nothing.
type Filter struct {
	And []Filter `json:"and,omitempty"`
	Or  []Filter `json:"or,omitempty"`
	Not *Filter  `json:"not,omitempty"`

	Field       string  `json:"field,omitempty"`
	Op          Op      `json:"op,omitempty"`
	Value       any     `json:"value,omitempty"`
	Values      []any   `json:"values,omitempty"`
	Insensitive bool    `json:"insensitive,omitempty"`
	Agg         AggFunc `json:"agg,omitempty"`
}

type nodeKind int

const (
	kindEmpty nodeKind = iota
	kindAnd
	kindOr
	kindNot
	kindLeaf
)

func (f Filter) kinds() []nodeKind {
	var kinds []nodeKind
	if f.And != nil {
		kinds = append(kinds, kindAnd)
	}
	if f.Or != nil {
		kinds = append(kinds, kindOr)
	}
	if f.Not != nil {
		kinds = append(kinds, kindNot)
	}
	if f.Field != "" || f.Op != "" || f.Agg != "" {
		kinds = append(kinds, kindLeaf)
	}
	return kinds
}

// IsEmpty reports whether the filter has no conditions at all.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.kinds()) == 0
}

// Eq matches rows where field equals value. A nil value matches NULL.
func Eq(field string, value any) Filter { return Filter{Field: field, Op: OpEq, Value: value} }

// Neq matches rows where field differs from value.
func Neq(field string, value any) Filter { return Filter{Field: field, Op: OpNeq, Value: value} }

func Gt(field string, value any) Filter  { return Filter{Field: field, Op: OpGt, Value: value} }
func Gte(field string, value any) Filter { return Filter{Field: field, Op: OpGte, Value: value} }
func Lt(field string, value any) Filter  { return Filter{Field: field, Op: OpLt, Value: value} }
func Lte(field string, value any) Filter { return Filter{Field: field, Op: OpLte, Value: value} }

// In matches rows whose field is one of values.
func In(field string, values ...any) Filter {
	if values == nil {
		values = []any{}
	}
	return Filter{Field: field, Op: OpIn, Values: values}
}

func NotIn(field string, values ...any) Filter {
	if values == nil {
		values = []any{}
	}
	return Filter{Field: field, Op: OpNotIn, Values: values}
}

func Contains(field, value string) Filter {
	return Filter{Field: field, Op: OpContains, Value: value}
}

func StartsWith(field, value string) Filter {
	return Filter{Field: field, Op: OpStartsWith, Value: value}
}

func EndsWith(field, value string) Filter {
	return Filter{Field: field, Op: OpEndsWith, Value: value}
}

func IsNull(field string) Filter  { return Filter{Field: field, Op: OpIsNull} }
func NotNull(field string) Filter { return Filter{Field: field, Op: OpNotNull} }

// And joins filters with AND.
func And(filters ...Filter) Filter {
	if filters == nil {
		filters = []Filter{}
	}
	return Filter{And: filters}
}

// Or joins filters with OR.
func Or(filters ...Filter) Filter {
	if filters == nil {
		filters = []Filter{}
	}
	return Filter{Or: filters}
}

// Not negates a filter.
func Not(filter Filter) Filter { return Filter{Not: &filter} }

// Fold makes a string match case-insensitive.
func (f Filter) Fold() Filter {
	f.Insensitive = true
	return f
}

// OfAgg turns a leaf into a having condition over an aggregate of its field.
func (f Filter) OfAgg(fn AggFunc) Filter {
	f.Agg = fn
	return f
}

// Ptr is a convenience for optional filter arguments.
func (f Filter) Ptr() *Filter { return &f }
