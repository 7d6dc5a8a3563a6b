package query

import (
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Preload registers includes on db. Skip and Take cannot be pushed into the
// preload query (it spans every parent), so they are applied afterwards by Trim.
func (m *Meta) Preload(db *gorm.DB, includes []Include) (*gorm.DB, error) {
	return m.preload(db, includes, "")
}

func (m *Meta) preload(db *gorm.DB, includes []Include, prefix string) (*gorm.DB, error) {
	for _, inc := range includes {
		rel, err := m.Relation(inc.Relation)
		if err != nil {
			return nil, err
		}
		sub, err := m.related(rel)
		if err != nil {
			return nil, err
		}
		if inc.Skip < 0 {
			return nil, invalid("include %q: skip must not be negative", inc.Relation)
		}
		if inc.Take != nil && *inc.Take < 0 {
			return nil, invalid("include %q: take must not be negative", inc.Relation)
		}
		if !isList(rel) && (inc.Skip > 0 || inc.Take != nil || len(inc.OrderBy) > 0) {
			return nil, invalid("include %q: order, skip and take only apply to list relations", inc.Relation)
		}

		where, hasWhere, err := sub.Where(inc.Where)
		if err != nil {
			return nil, err
		}
		var ordering Ordering
		if isList(rel) {
			if ordering, err = sub.Ordering(inc.OrderBy); err != nil {
				return nil, err
			}
		}

		path := rel.Name
		if prefix != "" {
			path = prefix + "." + rel.Name
		}
		db = db.Preload(path, func(tx *gorm.DB) *gorm.DB {
			if hasWhere {
				tx = tx.Where(where)
			}
			return ordering.Apply(tx, false)
		})

		if db, err = sub.preload(db, inc.Include, path); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Trim applies per-parent Skip and Take of includes to loaded rows. dest is a
// pointer to a model or to a slice of models.
func (m *Meta) Trim(dest any, includes []Include) error {
	if len(includes) == 0 {
		return nil
	}
	return m.trim(reflect.ValueOf(dest), includes)
}

func (m *Meta) trim(rv reflect.Value, includes []Include) error {
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			if err := m.trim(rv.Index(i), includes); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
	default:
		return nil
	}

	for _, inc := range includes {
		rel, err := m.Relation(inc.Relation)
		if err != nil {
			return err
		}
		field := rv.FieldByName(rel.Field.Name)
		if !field.IsValid() {
			continue
		}
		if isList(rel) && field.Kind() == reflect.Slice && field.CanSet() {
			field.Set(window(field, inc.Skip, inc.Take))
		}
		if len(inc.Include) == 0 {
			continue
		}
		sub, err := m.related(rel)
		if err != nil {
			return err
		}
		if err := sub.trim(field, inc.Include); err != nil {
			return err
		}
	}
	return nil
}

func window(slice reflect.Value, skip int, take *int) reflect.Value {
	n := slice.Len()
	start := skip
	if start > n {
		start = n
	}
	end := n
	if take != nil && start+*take < end {
		end = start + *take
	}
	if start == 0 && end == n {
		return slice
	}
	return slice.Slice(start, end)
}

func isList(rel *schema.Relationship) bool {
	return rel.Type == schema.HasMany || rel.Type == schema.Many2Many
}
