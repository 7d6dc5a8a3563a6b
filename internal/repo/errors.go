package repo

import (
	"strings"

	dbpkg "github.com/angelmondragon/marketplace-backend/pkg/db"
)

// uniqueFields names the columns behind a unique violation. Postgres reports a
// constraint name, matched against the declared keys; sqlite lists the columns.
func (r *Repository[T]) uniqueFields(err error) []string {
	if constraint := dbpkg.ConstraintName(err); constraint != "" {
		keys := r.meta.UniqueKeys()
		if len(keys) > 0 {
			keys = keys[1:]
		}
		for _, key := range keys {
			if constraintCovers(constraint, key) {
				return key
			}
		}
		return []string{constraint}
	}

	msg := err.Error()
	const marker = "UNIQUE constraint failed: "
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return nil
	}
	var fields []string
	for _, part := range strings.Split(msg[idx+len(marker):], ",") {
		part = strings.TrimSpace(part)
		if dot := strings.LastIndex(part, "."); dot >= 0 {
			part = part[dot+1:]
		}
		if part != "" {
			fields = append(fields, part)
		}
	}
	return fields
}

func constraintCovers(constraint string, cols []string) bool {
	for _, col := range cols {
		if !strings.Contains(constraint, col) && !strings.Contains(constraint, strings.ReplaceAll(col, "_id", "")) {
			return false
		}
	}
	return true
}
