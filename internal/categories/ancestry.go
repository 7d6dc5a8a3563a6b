package categories

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// maxAncestryDepth bounds the parent walk. Deeper chains are treated as cycles.
const maxAncestryDepth = 64

const ancestorsSQL = `
WITH RECURSIVE ancestors (id, parent_id, depth) AS (
	SELECT id, parent_id, 1 FROM categories WHERE id = ?
	UNION ALL
	SELECT c.id, c.parent_id, a.depth + 1
	FROM categories c
	JOIN ancestors a ON c.id = a.parent_id
	WHERE a.depth <= ?
)
SELECT id, depth FROM ancestors`

// treeLockKey names the transaction-scoped advisory lock held while a parent
// link is checked and written.
const treeLockKey int64 = 0x63617465676f7279

// lockTree serializes parent changes on postgres so the cycle check sees every
// committed edge. sqlite has a single writer.
func lockTree(ctx context.Context, tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", treeLockKey).Error
}

type ancestor struct {
	ID    uuid.UUID
	Depth int
}

// checkParent rejects a parent that is missing, is the category itself, or has
// the category among its ancestors.
func checkParent(ctx context.Context, tx *gorm.DB, id, parentID uuid.UUID) error {
	if parentID == id {
		return pkgerrors.New(pkgerrors.CodeValidation, "category cannot be its own parent")
	}
	if err := lockTree(ctx, tx); err != nil {
		return err
	}

	var chain []ancestor
	if err := tx.WithContext(ctx).Raw(ancestorsSQL, parentID, maxAncestryDepth).Scan(&chain).Error; err != nil {
		return err
	}
	if len(chain) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "parent category does not exist").
			WithDetails(map[string]any{"parentId": parentID})
	}
	for _, node := range chain {
		if node.ID == id {
			return pkgerrors.New(pkgerrors.CodeValidation, "parent would create a cycle").
				WithDetails(map[string]any{"parentId": parentID})
		}
		if node.Depth > maxAncestryDepth {
			return pkgerrors.New(pkgerrors.CodeValidation, "category nesting is too deep").
				WithDetails(map[string]any{"maxDepth": maxAncestryDepth})
		}
	}
	return nil
}

func resolveSlug(name string, explicit *string) (string, error) {
	source := name
	if explicit != nil {
		source = *explicit
	}
	slug := slugify(source)
	if slug == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "slug is empty")
	}
	return slug, nil
}

// slugify lowercases s and collapses every run of non alphanumerics to one dash.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
