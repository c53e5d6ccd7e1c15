//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"contentforge/internal/config"
	"contentforge/internal/metadata"
)

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("contentforge"),
		postgres.WithUsername("contentforge"),
		postgres.WithPassword("contentforge"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	s, err := New(ctx, config.DatabaseConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "contentforge",
		Password: "contentforge",
		Name:     "contentforge",
		PoolSize: 2,
	})
	require.NoError(t, err)
	require.NoError(t, s.Bootstrap(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresModelsAndDocuments(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	def := &metadata.ModelDefinition{Name: "Post", Fields: []metadata.FieldDefinition{{Name: "title", Type: "string"}}}
	require.NoError(t, s.CreateModel(ctx, def))
	require.ErrorIs(t, s.CreateModel(ctx, &metadata.ModelDefinition{Name: "post"}), ErrUniqueViolation)

	require.NoError(t, NewMigrator(s).EnsureCollection(ctx, "post"))
	doc, err := s.InsertDocument(ctx, "post", map[string]any{"title": "Hello Postgres", "tags": []any{}})
	require.NoError(t, err)

	found, err := s.FindDocuments(ctx, "post", FindOptions{Search: "postgres", SearchFields: []string{"title"}})
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, s.AddToSet(ctx, "post", []string{doc["_id"].(string)}, "tags", "t1"))
	got, err := s.GetDocument(ctx, "post", doc["_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, []any{"t1"}, got["tags"])

	require.NoError(t, NewMigrator(s).RenameCollection(ctx, "post", "entry"))
	_, err = s.GetDocument(ctx, "entry", doc["_id"].(string))
	require.NoError(t, err)
}
