package categories

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

type memoryCache struct {
	entries map[string][]byte
	gets    int
	hits    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	c.gets++
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) CacheKey(parts ...string) string {
	return "mp:cache:" + strings.Join(parts, ":")
}

func (c *memoryCache) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func newTestService(t *testing.T) (Service, *memoryCache) {
	t.Helper()
	conn := dbtest.Open(t)
	cache := newMemoryCache()
	svc, err := NewService(Params{DB: conn, Tx: dbpkg.NewFromConn(conn, dbpkg.TxOptions{}), Cache: cache})
	require.NoError(t, err)
	return svc, cache
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "home-garden", slugify("  Home & Garden "))
	assert.Equal(t, "tv-s-audio", slugify("TV's -- Audio!"))
	assert.Equal(t, "", slugify("%%%"))
}

func TestCreateDerivesSlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	category, err := svc.Create(ctx, CreateInput{Name: "Home & Garden"})
	require.NoError(t, err)
	assert.Equal(t, "home-garden", category.Slug)

	found, err := svc.GetBySlug(ctx, "HOME-GARDEN")
	require.NoError(t, err)
	assert.Equal(t, category.ID, found.ID)

	_, err = svc.Create(ctx, CreateInput{Name: "Home and more", Slug: strPtr("home garden")})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnique))
}

func TestCreateRequiresExistingParent(t *testing.T) {
	svc, _ := newTestService(t)
	missing := uuid.New()

	_, err := svc.Create(context.Background(), CreateInput{Name: "Orphan", ParentID: &missing})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestUpdateRejectsCycles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	root, err := svc.Create(ctx, CreateInput{Name: "Root"})
	require.NoError(t, err)
	mid, err := svc.Create(ctx, CreateInput{Name: "Mid", ParentID: &root.ID})
	require.NoError(t, err)
	leaf, err := svc.Create(ctx, CreateInput{Name: "Leaf", ParentID: &mid.ID})
	require.NoError(t, err)

	_, err = svc.Update(ctx, root.ID, UpdateInput{ParentID: types.SetUUID(root.ID)})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "own parent")

	_, err = svc.Update(ctx, root.ID, UpdateInput{ParentID: types.SetUUID(leaf.ID)})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "indirect cycle")

	moved, err := svc.Update(ctx, leaf.ID, UpdateInput{ParentID: types.SetUUID(root.ID)})
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, root.ID, *moved.ParentID)

	detached, err := svc.Update(ctx, leaf.ID, UpdateInput{ParentID: types.NullableUUID{Valid: true}})
	require.NoError(t, err)
	assert.Nil(t, detached.ParentID)
}

func TestConcurrentMovesKeepTreeAcyclic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{Name: "A"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateInput{Name: "B"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, move := range [][2]uuid.UUID{{a.ID, b.ID}, {b.ID, a.ID}} {
		wg.Add(1)
		go func(i int, id, parent uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.Update(ctx, id, UpdateInput{ParentID: types.SetUUID(parent)})
		}(i, move[0], move[1])
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), err)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	tree, err := svc.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Len(t, tree[0].Children, 1)
}

func TestLockTreeTakesAdvisoryLockOnPostgres(t *testing.T) {
	pg, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=app dbname=app sslmode=disable"}),
		&gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	var statements []string
	require.NoError(t, pg.Callback().Raw().After("gorm:raw").Register("test:capture", func(db *gorm.DB) {
		statements = append(statements, db.Statement.SQL.String())
	}))

	require.NoError(t, lockTree(context.Background(), pg))
	require.Len(t, statements, 1)
	assert.Equal(t, "SELECT pg_advisory_xact_lock($1)", statements[0])

	conn := dbtest.Open(t)
	require.NoError(t, lockTree(context.Background(), conn), "no-op on sqlite")
}

func TestDeepChainWithinBound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateInput{Name: "Level 0"})
	require.NoError(t, err)
	first := parent
	for i := 1; i < 10; i++ {
		parent, err = svc.Create(ctx, CreateInput{Name: "Level " + string(rune('0'+i)), ParentID: &parent.ID})
		require.NoError(t, err)
	}

	_, err = svc.Update(ctx, first.ID, UpdateInput{ParentID: types.SetUUID(parent.ID)})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestDeleteBlockedByChildren(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	root, err := svc.Create(ctx, CreateInput{Name: "Root"})
	require.NoError(t, err)
	child, err := svc.Create(ctx, CreateInput{Name: "Child", ParentID: &root.ID})
	require.NoError(t, err)

	err = svc.Delete(ctx, root.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

	require.NoError(t, svc.Delete(ctx, child.ID))
	require.NoError(t, svc.Delete(ctx, root.ID))
}

func TestTreeIsCachedAndInvalidated(t *testing.T) {
	svc, cache := newTestService(t)
	ctx := context.Background()

	root, err := svc.Create(ctx, CreateInput{Name: "Electronics"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "Phones", ParentID: &root.ID})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "Books"})
	require.NoError(t, err)

	tree, err := svc.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.Equal(t, "Books", tree[0].Name)
	assert.Equal(t, "Electronics", tree[1].Name)
	require.Len(t, tree[1].Children, 1)
	assert.Equal(t, "phones", tree[1].Children[0].Slug)
	assert.Zero(t, cache.hits)

	_, err = svc.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	_, err = svc.Create(ctx, CreateInput{Name: "Toys"})
	require.NoError(t, err)
	assert.Empty(t, cache.entries)

	tree, err = svc.Tree(ctx)
	require.NoError(t, err)
	assert.Len(t, tree, 3)

	children, err := svc.Children(ctx, &root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	roots, err := svc.Children(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, roots, 3)
}

func strPtr(s string) *string { return &s }
