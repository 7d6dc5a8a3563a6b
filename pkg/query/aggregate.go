package query

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// AggFunc is an aggregate function.
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggAvg   AggFunc = "avg"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// Aggregates selects the summaries to compute. Count counts rows; CountFields
// counts non-null values per field.
type Aggregates struct {
	Count       bool     `json:"_count,omitempty"`
	CountFields []string `json:"_countFields,omitempty"`
	Avg         []string `json:"_avg,omitempty"`
	Sum         []string `json:"_sum,omitempty"`
	Min         []string `json:"_min,omitempty"`
	Max         []string `json:"_max,omitempty"`
}

func (a Aggregates) empty() bool {
	return !a.Count && len(a.CountFields) == 0 && len(a.Avg) == 0 &&
		len(a.Sum) == 0 && len(a.Min) == 0 && len(a.Max) == 0
}

// AggregateResult holds computed summaries keyed by the requested field name.
// Avg and Sum are decimals and invalid when no non-null value was aggregated.
type AggregateResult struct {
	Count       int64                          `json:"_count"`
	CountFields map[string]int64               `json:"_countFields,omitempty"`
	Avg         map[string]decimal.NullDecimal `json:"_avg,omitempty"`
	Sum         map[string]decimal.NullDecimal `json:"_sum,omitempty"`
	Min         map[string]any                 `json:"_min,omitempty"`
	Max         map[string]any                 `json:"_max,omitempty"`
}

// GroupByArgs partitions rows by By and summarises each group.
type GroupByArgs struct {
	By         []string   `json:"by"`
	Where      *Filter    `json:"where,omitempty"`
	Having     *Filter    `json:"having,omitempty"`
	OrderBy    []OrderBy  `json:"orderBy,omitempty"`
	Skip       int        `json:"skip,omitempty"`
	Take       *int       `json:"take,omitempty"`
	Aggregates Aggregates `json:"aggregates,omitempty"`
}

// GroupRow is one group: the values of the By fields plus its summaries.
type GroupRow struct {
	Key map[string]any `json:"key"`
	AggregateResult
}

func aggregateExpr(m *Meta, fn AggFunc, fieldName string) (string, []any, *schema.Field, error) {
	switch fn {
	case AggCount:
		if fieldName == "" || fieldName == "*" || fieldName == "_all" {
			return "COUNT(*)", nil, nil, nil
		}
	case AggAvg, AggSum, AggMin, AggMax:
		if fieldName == "" {
			return "", nil, nil, invalid("%s requires a field", fn)
		}
	default:
		return "", nil, nil, invalid("unknown aggregate %q", fn)
	}
	field, err := m.Field(fieldName)
	if err != nil {
		return "", nil, nil, err
	}
	return strings.ToUpper(string(fn)) + "(?)", []any{column(field.DBName)}, field, nil
}

// selection is one aggregate projection and where to store its scanned value.
type selection struct {
	fn    AggFunc
	field string
	sql   string
	vars  []any
}

func (m *Meta) selections(a Aggregates) ([]selection, error) {
	var out []selection
	add := func(fn AggFunc, field string) error {
		sqlExpr, vars, _, err := aggregateExpr(m, fn, field)
		if err != nil {
			return err
		}
		out = append(out, selection{fn: fn, field: field, sql: sqlExpr, vars: vars})
		return nil
	}
	if a.Count {
		if err := add(AggCount, ""); err != nil {
			return nil, err
		}
	}
	groups := []struct {
		fn     AggFunc
		fields []string
	}{
		{AggCount, a.CountFields},
		{AggAvg, a.Avg},
		{AggSum, a.Sum},
		{AggMin, a.Min},
		{AggMax, a.Max},
	}
	for _, g := range groups {
		for _, field := range g.fields {
			if field == "" {
				return nil, invalid("%s requires a field", g.fn)
			}
			if err := add(g.fn, field); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func selectSQL(prefix []string, prefixVars []any, sels []selection) (string, []any) {
	parts := append([]string{}, prefix...)
	vars := append([]any{}, prefixVars...)
	for i, sel := range sels {
		parts = append(parts, fmt.Sprintf("%s AS agg_%d", sel.sql, i))
		vars = append(vars, sel.vars...)
	}
	return strings.Join(parts, ", "), vars
}

func scanTargets(sels []selection) []any {
	targets := make([]any, len(sels))
	for i, sel := range sels {
		switch sel.fn {
		case AggCount:
			targets[i] = new(sql.NullInt64)
		case AggAvg, AggSum:
			targets[i] = new(decimal.NullDecimal)
		default:
			targets[i] = new(any)
		}
	}
	return targets
}

func collect(sels []selection, targets []any) AggregateResult {
	var res AggregateResult
	for i, sel := range sels {
		switch sel.fn {
		case AggCount:
			n := targets[i].(*sql.NullInt64).Int64
			if sel.field == "" {
				res.Count = n
				continue
			}
			if res.CountFields == nil {
				res.CountFields = map[string]int64{}
			}
			res.CountFields[sel.field] = n
		case AggAvg:
			if res.Avg == nil {
				res.Avg = map[string]decimal.NullDecimal{}
			}
			res.Avg[sel.field] = *targets[i].(*decimal.NullDecimal)
		case AggSum:
			if res.Sum == nil {
				res.Sum = map[string]decimal.NullDecimal{}
			}
			res.Sum[sel.field] = *targets[i].(*decimal.NullDecimal)
		case AggMin:
			if res.Min == nil {
				res.Min = map[string]any{}
			}
			res.Min[sel.field] = normalizeScanned(*targets[i].(*any))
		case AggMax:
			if res.Max == nil {
				res.Max = map[string]any{}
			}
			res.Max[sel.field] = normalizeScanned(*targets[i].(*any))
		}
	}
	return res
}

func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Aggregate computes a over the rows matched by where. db must be scoped to the model.
func (m *Meta) Aggregate(db *gorm.DB, where *Filter, a Aggregates) (AggregateResult, error) {
	if a.empty() {
		return AggregateResult{}, invalid("at least one aggregate is required")
	}
	sels, err := m.selections(a)
	if err != nil {
		return AggregateResult{}, err
	}
	cond, hasCond, err := m.Where(where)
	if err != nil {
		return AggregateResult{}, err
	}

	selectExpr, vars := selectSQL(nil, nil, sels)
	tx := db.Select(selectExpr, vars...)
	if hasCond {
		tx = tx.Where(cond)
	}
	rows, err := tx.Rows()
	if err != nil {
		return AggregateResult{}, err
	}
	defer rows.Close()

	targets := scanTargets(sels)
	if rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return AggregateResult{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return AggregateResult{}, err
	}
	return collect(sels, targets), nil
}

// GroupBy runs args. db must be scoped to the model.
func (m *Meta) GroupBy(db *gorm.DB, args GroupByArgs) ([]GroupRow, error) {
	if len(args.By) == 0 {
		return nil, invalid("groupBy requires at least one field")
	}
	if args.Skip < 0 {
		return nil, invalid("skip must not be negative")
	}
	if args.Take != nil && *args.Take < 0 {
		return nil, invalid("groupBy take must not be negative")
	}

	byFields := make([]*schema.Field, 0, len(args.By))
	grouped := map[string]bool{}
	for _, name := range args.By {
		field, err := m.Field(name)
		if err != nil {
			return nil, err
		}
		byFields = append(byFields, field)
		grouped[field.DBName] = true
	}

	sels, err := m.selections(args.Aggregates)
	if err != nil {
		return nil, err
	}

	prefix := make([]string, len(byFields))
	prefixVars := make([]any, len(byFields))
	for i, field := range byFields {
		prefix[i] = "?"
		prefixVars[i] = column(field.DBName)
	}
	selectExpr, vars := selectSQL(prefix, prefixVars, sels)
	tx := db.Select(selectExpr, vars...)

	cond, hasCond, err := m.Where(args.Where)
	if err != nil {
		return nil, err
	}
	if hasCond {
		tx = tx.Where(cond)
	}
	for _, field := range byFields {
		tx = tx.Group(field.DBName)
	}

	if !args.Having.IsEmpty() {
		c := compiler{meta: m, groupBy: grouped}
		havingSQL, havingVars, err := c.compile(*args.Having)
		if err != nil {
			return nil, err
		}
		tx = tx.Having(clause.Expr{SQL: "(" + havingSQL + ")", Vars: havingVars})
	}

	orderSQL, orderVars, err := m.groupOrder(args.OrderBy, byFields, grouped)
	if err != nil {
		return nil, err
	}
	tx = tx.Order(clause.OrderBy{Expression: clause.Expr{SQL: orderSQL, Vars: orderVars}})

	if args.Skip > 0 {
		tx = tx.Offset(args.Skip)
	}
	if args.Take != nil {
		tx = tx.Limit(*args.Take)
	}

	rows, err := tx.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupRow
	for rows.Next() {
		keys := make([]any, len(byFields))
		dest := make([]any, 0, len(byFields)+len(sels))
		for i := range keys {
			dest = append(dest, &keys[i])
		}
		targets := scanTargets(sels)
		dest = append(dest, targets...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := GroupRow{Key: make(map[string]any, len(byFields)), AggregateResult: collect(sels, targets)}
		for i, name := range args.By {
			row.Key[name] = normalizeScanned(keys[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// groupOrder renders the ORDER BY of a group query as one expression, since
// aggregate terms cannot be mixed with plain order columns in GORM's clause.
func (m *Meta) groupOrder(orderBy []OrderBy, byFields []*schema.Field, grouped map[string]bool) (string, []any, error) {
	var parts []string
	var vars []any
	if len(orderBy) == 0 {
		for _, field := range byFields {
			parts = append(parts, "? ASC")
			vars = append(vars, column(field.DBName))
		}
		return strings.Join(parts, ", "), vars, nil
	}
	for _, o := range orderBy {
		desc, err := o.desc()
		if err != nil {
			return "", nil, err
		}
		dir := " ASC"
		if desc {
			dir = " DESC"
		}
		if o.Agg != "" {
			aggSQL, aggVars, _, err := aggregateExpr(m, o.Agg, o.Field)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, aggSQL+dir)
			vars = append(vars, aggVars...)
			continue
		}
		field, err := m.Field(o.Field)
		if err != nil {
			return "", nil, err
		}
		if !grouped[field.DBName] {
			return "", nil, invalid("orderBy references %q which is not grouped", o.Field)
		}
		parts = append(parts, "?"+dir)
		vars = append(vars, column(field.DBName))
	}
	return strings.Join(parts, ", "), vars, nil
}
