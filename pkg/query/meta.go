package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// UniqueKeyer is implemented by models that declare unique constraints beyond
// the primary key. Each entry lists the column names of one constraint.
type UniqueKeyer interface {
	UniqueKeys() [][]string
}

// Meta is the field, relation and unique-key metadata of one entity, derived
// from its GORM schema.
type Meta struct {
	schema     *schema.Schema
	uniqueKeys [][]string
}

// MetaOf parses model (a pointer to a zero value) through the connection's schema cache.
func MetaOf(db *gorm.DB, model any) (*Meta, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection required")
	}
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return nil, fmt.Errorf("parse model %T: %w", model, err)
	}
	return newMeta(stmt.Schema)
}

func newMeta(s *schema.Schema) (*Meta, error) {
	m := &Meta{schema: s}
	if pk := s.PrioritizedPrimaryField; pk != nil {
		m.uniqueKeys = append(m.uniqueKeys, []string{pk.DBName})
	}
	declared, ok := reflect.New(s.ModelType).Interface().(UniqueKeyer)
	if !ok {
		return m, nil
	}
	for _, key := range declared.UniqueKeys() {
		cols := make([]string, 0, len(key))
		for _, name := range key {
			field, err := m.Field(name)
			if err != nil {
				return nil, fmt.Errorf("%s unique key: %w", s.Name, err)
			}
			cols = append(cols, field.DBName)
		}
		sort.Strings(cols)
		m.uniqueKeys = append(m.uniqueKeys, cols)
	}
	return m, nil
}

// Name is the Go name of the entity, used in error messages.
func (m *Meta) Name() string { return m.schema.Name }

// Table is the entity's table name.
func (m *Meta) Table() string { return m.schema.Table }

// Schema exposes the underlying GORM schema.
func (m *Meta) Schema() *schema.Schema { return m.schema }

// PrimaryKey returns the primary key field.
func (m *Meta) PrimaryKey() *schema.Field { return m.schema.PrioritizedPrimaryField }

// UniqueKeys lists every unique constraint as sorted column names, primary key first.
func (m *Meta) UniqueKeys() [][]string {
	out := make([][]string, len(m.uniqueKeys))
	copy(out, m.uniqueKeys)
	return out
}

// Field resolves a column by DB name, Go name or JSON name.
func (m *Meta) Field(name string) (*schema.Field, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("field name is required")
	}
	if field := m.schema.LookUpField(name); field != nil && field.DBName != "" {
		return field, nil
	}
	for _, field := range m.schema.Fields {
		if field.DBName == "" {
			continue
		}
		if strings.EqualFold(field.Name, name) || strings.EqualFold(field.DBName, name) || jsonName(field.Tag) == name {
			return field, nil
		}
	}
	return nil, invalid("unknown field %q on %s", name, m.schema.Name)
}

// Relation resolves a relation by Go name or JSON name.
func (m *Meta) Relation(name string) (*schema.Relationship, error) {
	name = strings.TrimSpace(name)
	if rel, ok := m.schema.Relationships.Relations[name]; ok {
		return rel, nil
	}
	for relName, rel := range m.schema.Relationships.Relations {
		if strings.EqualFold(relName, name) || (rel.Field != nil && jsonName(rel.Field.Tag) == name) {
			return rel, nil
		}
	}
	return nil, invalid("unknown relation %q on %s", name, m.schema.Name)
}

func (m *Meta) related(rel *schema.Relationship) (*Meta, error) {
	return newMeta(rel.FieldSchema)
}

// UniqueWhere builds the equality condition for key after checking that it names
// exactly one declared unique constraint.
func (m *Meta) UniqueWhere(key UniqueKey) (clause.Expr, error) {
	if len(key) == 0 {
		return clause.Expr{}, invalid("unique key is required")
	}
	cols := make([]string, 0, len(key))
	values := make(map[string]any, len(key))
	for name, raw := range key {
		field, err := m.Field(name)
		if err != nil {
			return clause.Expr{}, err
		}
		if raw == nil {
			return clause.Expr{}, invalid("unique key field %q cannot be null", name)
		}
		value, err := coerce(field, raw)
		if err != nil {
			return clause.Expr{}, err
		}
		cols = append(cols, field.DBName)
		values[field.DBName] = value
	}
	sort.Strings(cols)
	if !m.isUniqueKey(cols) {
		return clause.Expr{}, invalid("%v is not a unique key of %s", cols, m.schema.Name)
	}

	parts := make([]string, 0, len(cols))
	vars := make([]any, 0, len(cols)*2)
	for _, col := range cols {
		parts = append(parts, "? = ?")
		vars = append(vars, column(col), values[col])
	}
	return clause.Expr{SQL: strings.Join(parts, " AND "), Vars: vars}, nil
}

func (m *Meta) isUniqueKey(cols []string) bool {
	for _, key := range m.uniqueKeys {
		if len(key) != len(cols) {
			continue
		}
		match := true
		for i := range key {
			if key[i] != cols[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Assignments resolves an update payload into column assignments. The primary
// key cannot be assigned.
func (m *Meta) Assignments(data Data) (map[string]any, error) {
	if len(data) == 0 {
		return nil, invalid("update data is required")
	}
	out := make(map[string]any, len(data))
	pk := m.PrimaryKey()
	for name, raw := range data {
		field, err := m.Field(name)
		if err != nil {
			return nil, err
		}
		if pk != nil && field.DBName == pk.DBName {
			return nil, invalid("primary key %q cannot be updated", name)
		}
		switch op := raw.(type) {
		case Increment:
			by, err := coerce(field, op.By)
			if err != nil {
				return nil, err
			}
			out[field.DBName] = clause.Expr{SQL: "? + ?", Vars: []any{clause.Column{Name: field.DBName}, by}}
			continue
		}
		value, err := coerce(field, raw)
		if err != nil {
			return nil, err
		}
		out[field.DBName] = value
	}
	return out, nil
}

func column(dbName string) clause.Column {
	return clause.Column{Table: clause.CurrentTable, Name: dbName}
}

func jsonName(tag reflect.StructTag) string {
	value := tag.Get("json")
	if value == "" || value == "-" {
		return ""
	}
	name, _, _ := strings.Cut(value, ",")
	return name
}

func invalid(format string, args ...any) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf(format, args...))
}
