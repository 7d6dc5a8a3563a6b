package query

import (
	"strings"
)

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// OrderBy sorts by one field. Agg is only meaningful in GroupByArgs.
type OrderBy struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction,omitempty"`
	Agg       AggFunc   `json:"agg,omitempty"`
}

func Asc(field string) OrderBy  { return OrderBy{Field: field, Direction: Ascending} }
func Desc(field string) OrderBy { return OrderBy{Field: field, Direction: Descending} }

func (o OrderBy) desc() (bool, error) {
	switch Direction(strings.ToLower(string(o.Direction))) {
	case "", Ascending:
		return false, nil
	case Descending:
		return true, nil
	}
	return false, invalid("unknown sort direction %q", o.Direction)
}

// UniqueKey identifies one row through a declared unique constraint, e.g.
// {"email": "a@b.c"} or {"cartId": ..., "productId": ...}.
type UniqueKey map[string]any

// ByID is the primary key UniqueKey.
func ByID(id any) UniqueKey { return UniqueKey{"id": id} }

// Data is an update payload keyed by field name.
type Data map[string]any

// Increment adds By to the current column value instead of overwriting it.
type Increment struct {
	By any
}

// Include eager-loads a relation. Where, OrderBy, Skip and Take apply to the
// related rows of each parent independently.
type Include struct {
	Relation string    `json:"relation"`
	Where    *Filter   `json:"where,omitempty"`
	OrderBy  []OrderBy `json:"orderBy,omitempty"`
	Skip     int       `json:"skip,omitempty"`
	Take     *int      `json:"take,omitempty"`
	Include  []Include `json:"include,omitempty"`
}

// FindManyArgs is the full read query over one entity.
//
// Take may be negative to read backwards: rows are fetched in reverse order and
// returned in the requested order. Cursor names a unique key of the first row of
// the page; that row is included, so callers usually pass Skip: 1 to start after it.
type FindManyArgs struct {
	Where   *Filter   `json:"where,omitempty"`
	OrderBy []OrderBy `json:"orderBy,omitempty"`
	Cursor  UniqueKey `json:"cursor,omitempty"`
	Skip    int       `json:"skip,omitempty"`
	Take    *int      `json:"take,omitempty"`
	Select  []string  `json:"select,omitempty"`
	Include []Include `json:"include,omitempty"`
}

// Take is a convenience for the optional Take argument.
func Take(n int) *int { return &n }

// Validate applies the checks that do not need the schema.
func (a FindManyArgs) Validate() error {
	if len(a.Select) > 0 && len(a.Include) > 0 {
		return invalid("select and include cannot be used together")
	}
	if a.Skip < 0 {
		return invalid("skip must not be negative")
	}
	if a.Cursor != nil && a.Take != nil && *a.Take == 0 {
		return invalid("take must not be zero when a cursor is given")
	}
	for _, o := range a.OrderBy {
		if o.Agg != "" {
			return invalid("aggregate ordering is only allowed in groupBy")
		}
	}
	return nil
}

// Backward reports whether the page is read before the cursor.
func (a FindManyArgs) Backward() bool {
	return a.Take != nil && *a.Take < 0
}

// Limit is the absolute page size, or -1 for no limit.
func (a FindManyArgs) Limit() int {
	if a.Take == nil {
		return -1
	}
	if *a.Take < 0 {
		return -*a.Take
	}
	return *a.Take
}
