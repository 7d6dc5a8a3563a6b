package query

import (
	"context"
	"database/sql/driver"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Ordering is a resolved sort over columns of one entity.
type Ordering []orderColumn

type orderColumn struct {
	field *schema.Field
	desc  bool
}

// Ordering resolves orderBy and appends the primary key as a tie-breaker so
// that pages are stable.
func (m *Meta) Ordering(orderBy []OrderBy) (Ordering, error) {
	out := make(Ordering, 0, len(orderBy)+1)
	seen := map[string]bool{}
	for _, o := range orderBy {
		if o.Agg != "" {
			return nil, invalid("aggregate ordering is only allowed in groupBy")
		}
		field, err := m.Field(o.Field)
		if err != nil {
			return nil, err
		}
		desc, err := o.desc()
		if err != nil {
			return nil, err
		}
		if seen[field.DBName] {
			continue
		}
		seen[field.DBName] = true
		out = append(out, orderColumn{field: field, desc: desc})
	}
	if pk := m.PrimaryKey(); pk != nil && !seen[pk.DBName] {
		out = append(out, orderColumn{field: pk})
	}
	return out, nil
}

// nullable reports whether the column can hold NULL. NULLs sort after every
// value in the declared direction.
func (c orderColumn) nullable() bool {
	return !c.field.PrimaryKey && !c.field.NotNull
}

// Apply adds the ORDER BY, flipping every direction when reverse is set.
func (o Ordering) Apply(db *gorm.DB, reverse bool) *gorm.DB {
	if len(o) == 0 {
		return db
	}
	parts := make([]string, 0, len(o)*2)
	vars := make([]any, 0, len(o)*2)
	for _, col := range o {
		if col.nullable() {
			parts = append(parts, "? IS NULL"+direction(reverse))
			vars = append(vars, column(col.field.DBName))
		}
		parts = append(parts, "?"+direction(col.desc != reverse))
		vars = append(vars, column(col.field.DBName))
	}
	return db.Order(clause.OrderBy{Expression: clause.Expr{SQL: strings.Join(parts, ","), Vars: vars}})
}

func direction(desc bool) string {
	if desc {
		return " DESC"
	}
	return ""
}

// After builds the keyset condition selecting the cursor row and every row after
// it in this ordering (or before it when backward is set). A NULL cursor value
// sits after every non-NULL value of its column.
func (o Ordering) After(ctx context.Context, cursorRow any, backward bool) (clause.Expr, error) {
	rv := reflect.ValueOf(cursorRow)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	values := make([]any, len(o))
	for i, col := range o {
		value, _ := col.field.ValueOf(ctx, rv)
		if isNullValue(value) {
			value = nil
		}
		values[i] = value
	}

	// (c1 beyond v1) OR (c1 = v1 AND c2 beyond v2) OR ... OR (all equal)
	branches := make([]string, 0, len(o)+1)
	var vars []any
	for i := range o {
		sql, colVars, ok := o[i].beyond(values[i], backward)
		if !ok {
			continue
		}
		parts := make([]string, 0, i+1)
		for j := 0; j < i; j++ {
			eq, eqVars := o[j].equal(values[j])
			parts = append(parts, eq)
			vars = append(vars, eqVars...)
		}
		parts = append(parts, sql)
		vars = append(vars, colVars...)
		branches = append(branches, "("+strings.Join(parts, " AND ")+")")
	}
	equal := make([]string, 0, len(o))
	for i := range o {
		eq, eqVars := o[i].equal(values[i])
		equal = append(equal, eq)
		vars = append(vars, eqVars...)
	}
	branches = append(branches, "("+strings.Join(equal, " AND ")+")")

	return clause.Expr{SQL: "(" + strings.Join(branches, " OR ") + ")", Vars: vars}, nil
}

func (c orderColumn) equal(value any) (string, []any) {
	col := column(c.field.DBName)
	if value == nil {
		return "? IS NULL", []any{col}
	}
	return "? = ?", []any{col, value}
}

// beyond matches rows strictly past value in the walk direction. ok is false
// when no row can be: nothing follows a NULL going forward.
func (c orderColumn) beyond(value any, backward bool) (sql string, vars []any, ok bool) {
	col := column(c.field.DBName)
	if value == nil {
		if !backward {
			return "", nil, false
		}
		return "? IS NOT NULL", []any{col}, true
	}
	forward := !c.desc
	if backward {
		forward = !forward
	}
	cmp := "<"
	if forward {
		cmp = ">"
	}
	if !backward && c.nullable() {
		return "(? " + cmp + " ? OR ? IS NULL)", []any{col, value, col}, true
	}
	return "? " + cmp + " ?", []any{col, value}, true
}

func isNullValue(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return true
	}
	if valuer, ok := value.(driver.Valuer); ok {
		v, err := valuer.Value()
		return err == nil && v == nil
	}
	return false
}

// Columns resolves field names for a projection.
func (m *Meta) Columns(names []string) ([]string, error) {
	cols := make([]string, 0, len(names))
	for _, name := range names {
		field, err := m.Field(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, field.DBName)
	}
	return cols, nil
}

// ReverseSlice reverses a slice in place; dest is a pointer to a slice.
func ReverseSlice(dest any) {
	rv := reflect.ValueOf(dest)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice {
		return
	}
	swap := reflect.Swapper(rv.Interface())
	for i, j := 0, rv.Len()-1; i < j; i, j = i+1, j-1 {
		swap(i, j)
	}
}
