package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentforge/internal/config"
	"contentforge/internal/metadata"
	"contentforge/internal/rbac"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	require.NoError(t, err)
	require.NoError(t, s.Bootstrap(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

// tick makes the store clock advance one millisecond per call.
func tick(s *Store) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Bootstrap(context.Background()))
}

func TestModelLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &metadata.ModelDefinition{
		Name:   "Article",
		Fields: []metadata.FieldDefinition{{Name: "title", Type: metadata.TypeString, Required: true}},
	}
	require.NoError(t, s.CreateModel(ctx, def))
	assert.NotEmpty(t, def.ID)
	assert.Equal(t, "article", def.Name)
	assert.Equal(t, int64(1), def.Version)

	got, err := s.GetModelByName(ctx, "ARTICLE")
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
	require.Len(t, got.Fields, 1)
	assert.Equal(t, "title", got.Fields[0].Name)

	got.Fields = append(got.Fields, metadata.FieldDefinition{Name: "body", Type: metadata.TypeString})
	require.NoError(t, s.SaveModel(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	v, err := s.ModelVersion(ctx, "article")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	dup := &metadata.ModelDefinition{Name: "article"}
	err = s.CreateModel(ctx, dup)
	assert.True(t, errors.Is(err, ErrUniqueViolation), "got %v", err)

	models, err := s.ListModels(ctx)
	require.NoError(t, err)
	assert.Len(t, models, 1)

	require.NoError(t, s.DeleteModel(ctx, def.ID))
	_, err = s.GetModel(ctx, def.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteModel(ctx, def.ID), ErrNotFound)
}

func TestDefinitionSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var src metadata.DefinitionSource = s

	_, ok, err := src.LookupVersion(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateModel(ctx, &metadata.ModelDefinition{Name: "tag"}))
	v, ok, err := src.LookupVersion(ctx, "Tag")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	m, ok, err := src.LookupModel(ctx, "tag")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tag", m.Name)
}

func TestRoleStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles)

	editor := rbac.Role{
		Name:        "Editor",
		Permissions: rbac.Permissions{Read: rbac.Flag(true), Update: rbac.Flag(true)},
		Routes:      []string{"/manager"},
	}
	require.NoError(t, s.UpsertRole(ctx, editor))

	editor.Routes = []string{"/manager", "/media"}
	require.NoError(t, s.UpsertRole(ctx, editor))

	got, err := s.GetRole(ctx, "editor")
	require.NoError(t, err)
	assert.Equal(t, "editor", got.Name)
	assert.Equal(t, []string{"/manager", "/media"}, got.Routes)
	require.NotNil(t, got.Permissions.Update)
	assert.True(t, *got.Permissions.Update)
	assert.Nil(t, got.Permissions.Delete)

	require.NoError(t, s.DeleteRole(ctx, "editor"))
	_, err = s.GetRole(ctx, "editor")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPITokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := &APIToken{Name: "ci", Role: "demo", CreatedBy: "admin@example.com"}
	require.NoError(t, s.CreateAPIToken(ctx, tok, time.Hour))
	assert.NotEmpty(t, tok.ID)

	ok, err := s.APITokenExists(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	expired := &APIToken{Name: "old", Role: "demo"}
	require.NoError(t, s.CreateAPIToken(ctx, expired, -time.Hour))
	ok, err = s.APITokenExists(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListAPITokens(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteAPIToken(ctx, tok.ID))
	ok, err = s.APITokenExists(ctx, tok.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := NewMigrator(s)

	exists, err := m.CollectionExists(ctx, "post")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, m.EnsureCollection(ctx, "Post"))
	require.NoError(t, m.EnsureCollection(ctx, "post"))

	doc, err := s.InsertDocument(ctx, "post", map[string]any{"title": "kept"})
	require.NoError(t, err)

	require.NoError(t, m.RenameCollection(ctx, "post", "entry"))
	exists, err = m.CollectionExists(ctx, "post")
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := s.GetDocument(ctx, "entry", doc["_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "kept", got["title"])

	assert.Error(t, m.EnsureCollection(ctx, "bad name"))
}

func TestDocumentCRUD(t *testing.T) {
	s := newTestStore(t)
	tick(s)
	ctx := context.Background()
	require.NoError(t, NewMigrator(s).EnsureCollection(ctx, "post"))

	doc, err := s.InsertDocument(ctx, "post", map[string]any{"title": "Hello", "views": 3, "_id": "ignored"})
	require.NoError(t, err)
	id := doc["_id"].(string)
	assert.NotEqual(t, "ignored", id)
	assert.NotEmpty(t, doc["createdAt"])

	got, err := s.GetDocument(ctx, "post", id)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got["title"])
	assert.Equal(t, float64(3), got["views"])
	assert.Equal(t, doc["createdAt"], got["createdAt"])

	replaced, err := s.ReplaceDocument(ctx, "post", id, map[string]any{"title": "Bye"})
	require.NoError(t, err)
	assert.Equal(t, doc["createdAt"], replaced["createdAt"])
	assert.NotEqual(t, doc["updatedAt"], replaced["updatedAt"])

	got, err = s.GetDocument(ctx, "post", id)
	require.NoError(t, err)
	assert.Equal(t, "Bye", got["title"])
	assert.NotContains(t, got, "views")

	_, err = s.ReplaceDocument(ctx, "post", "nope", map[string]any{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteDocument(ctx, "post", id))
	_, err = s.GetDocument(ctx, "post", id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, "post", id), ErrNotFound)
}

func TestFindDocuments(t *testing.T) {
	s := newTestStore(t)
	tick(s)
	ctx := context.Background()
	require.NoError(t, NewMigrator(s).EnsureCollection(ctx, "post"))

	titles := []string{"Go tips", "Rust notes", "More GO", "Cooking"}
	for _, title := range titles {
		_, err := s.InsertDocument(ctx, "post", map[string]any{"title": title, "status": "draft"})
		require.NoError(t, err)
	}

	all, err := s.FindDocuments(ctx, "post", FindOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Cooking", all[0]["title"], "newest first")

	page, err := s.FindDocuments(ctx, "post", FindOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Rust notes", page[0]["title"])

	found, err := s.FindDocuments(ctx, "post", FindOptions{Search: "go", SearchFields: []string{"title"}})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	n, err := s.CountDocuments(ctx, "post", FindOptions{Search: "go", SearchFields: []string{"title"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	exact, err := s.FindDocuments(ctx, "post", FindOptions{Where: map[string]string{"title": "Cooking"}})
	require.NoError(t, err)
	assert.Len(t, exact, 1)

	whole, err := s.FindDocuments(ctx, "post", FindOptions{Search: "DRAFT"})
	require.NoError(t, err)
	assert.Len(t, whole, 4)

	_, err = s.FindDocuments(ctx, "post", FindOptions{Where: map[string]string{"x; drop": "1"}})
	assert.Error(t, err)
}

func TestFindDocumentsSearchIsLiteral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, NewMigrator(s).EnsureCollection(ctx, "note"))

	for _, title := range []string{"50% off", "500 items", "a_b", "axb"} {
		_, err := s.InsertDocument(ctx, "note", map[string]any{"title": title})
		require.NoError(t, err)
	}

	cases := map[string]string{"50%": "50% off", "a_b": "a_b"}
	for term, want := range cases {
		found, err := s.FindDocuments(ctx, "note", FindOptions{Search: term, SearchFields: []string{"title"}})
		require.NoError(t, err)
		require.Len(t, found, 1, term)
		assert.Equal(t, want, found[0]["title"])

		whole, err := s.FindDocuments(ctx, "note", FindOptions{Search: term})
		require.NoError(t, err)
		assert.Len(t, whole, 1, term)
	}
}

func TestGetDocumentsKeepsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, NewMigrator(s).EnsureCollection(ctx, "tag"))

	a, err := s.InsertDocument(ctx, "tag", map[string]any{"name": "a"})
	require.NoError(t, err)
	b, err := s.InsertDocument(ctx, "tag", map[string]any{"name": "b"})
	require.NoError(t, err)

	docs, err := s.GetDocuments(ctx, "tag", []string{b["_id"].(string), "missing", a["_id"].(string)})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0]["name"])
	assert.Equal(t, "a", docs[1]["name"])
}

func TestAddToSetAndPull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, NewMigrator(s).EnsureCollection(ctx, "tag"))

	tag, err := s.InsertDocument(ctx, "tag", map[string]any{"name": "go"})
	require.NoError(t, err)
	other, err := s.InsertDocument(ctx, "tag", map[string]any{"name": "rust", "posts": []any{"p1"}})
	require.NoError(t, err)
	ids := []string{tag["_id"].(string), other["_id"].(string), "missing"}

	require.NoError(t, s.AddToSet(ctx, "tag", ids, "posts", "p1"))
	require.NoError(t, s.AddToSet(ctx, "tag", ids, "posts", "p1"))

	got, err := s.GetDocument(ctx, "tag", tag["_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, []any{"p1"}, got["posts"])
	got, err = s.GetDocument(ctx, "tag", other["_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, []any{"p1"}, got["posts"])

	require.NoError(t, s.Pull(ctx, "tag", nil, "posts", "p1"))
	got, err = s.GetDocument(ctx, "tag", tag["_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, []any{}, got["posts"])
}
