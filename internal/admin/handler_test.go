package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentforge/internal/auth"
	"contentforge/internal/config"
	"contentforge/internal/engine"
	"contentforge/internal/generator"
	"contentforge/internal/instrument"
	"contentforge/internal/metadata"
	"contentforge/internal/rbac"
	"contentforge/internal/store"
)

const apiSecret = "api-secret"

type adminEnv struct {
	app   *fiber.App
	store *store.Store
	rbac  *rbac.Service
	pub   *generator.Publisher
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: dir, Name: "test"})
	require.NoError(t, err)
	require.NoError(t, s.Bootstrap(ctx))
	t.Cleanup(func() { s.Close() })

	reg := metadata.NewRegistry(s)
	pub := generator.NewPublisher(filepath.Join(dir, "generated"))
	pipeline := generator.NewPipeline(s, reg, pub, generator.NewMarker(filepath.Join(dir, ".needs-restart")))
	svc := rbac.New(rbac.DefaultTable())

	// X-Role stands in for the session middleware.
	asRole := func(c *fiber.Ctx) error {
		if role := c.Get("X-Role"); role != "" {
			c.Locals("user", &metadata.UserContext{ID: "u-" + role, Role: role})
		}
		return c.Next()
	}

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	buffer := instrument.NewBuffer(100)
	app.Use(instrument.Middleware(instrument.NewRecorder(buffer)))
	RegisterAdminRoutes(app, NewHandler(s, pipeline, svc, instrument.NewEventHandler(buffer), apiSecret, time.Hour), asRole)
	return &adminEnv{app: app, store: s, rbac: svc, pub: pub}
}

func (e *adminEnv) do(t *testing.T, role, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

var articleRequest = map[string]any{
	"modelName": "Article",
	"fields": []map[string]any{
		{"name": "title", "type": "string", "required": true},
		{"name": "views", "type": "number"},
	},
}

func TestModelLifecycle(t *testing.T) {
	env := newAdminEnv(t)

	status, body := env.do(t, "superadmin", "POST", "/api/_admin/models", articleRequest)
	require.Equal(t, 201, status, body)
	model := body["data"].(map[string]any)
	assert.Equal(t, "article", model["modelName"])
	assert.EqualValues(t, 1, model["version"])
	assert.Len(t, body["paths"], len(generator.Kinds))
	assert.True(t, env.pub.Exists("article"))
	id := model["_id"].(string)

	status, body = env.do(t, "superadmin", "POST", "/api/_admin/models", articleRequest)
	assert.Equal(t, 409, status)
	assert.Equal(t, "CONFLICT", errorCode(body))

	status, body = env.do(t, "superadmin", "GET", "/api/_admin/models?name=ARTICLE", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, id, body["data"].(map[string]any)["_id"])

	status, body = env.do(t, "superadmin", "GET", "/api/_admin/models/"+id, nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "article", body["data"].(map[string]any)["modelName"])

	status, body = env.do(t, "superadmin", "PUT", "/api/_admin/models/"+id, map[string]any{
		"modelName": "post",
		"fields":    []map[string]any{{"name": "title", "type": "string"}},
	})
	require.Equal(t, 200, status, body)
	assert.Equal(t, "post", body["data"].(map[string]any)["modelName"])
	assert.EqualValues(t, 2, body["data"].(map[string]any)["version"])
	assert.False(t, env.pub.Exists("article"))
	assert.True(t, env.pub.Exists("post"))

	status, body = env.do(t, "superadmin", "GET", "/api/_admin/models", nil)
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 1)

	status, _ = env.do(t, "superadmin", "DELETE", "/api/_admin/models/"+id, nil)
	require.Equal(t, 200, status)
	assert.False(t, env.pub.Exists("post"))

	status, body = env.do(t, "superadmin", "DELETE", "/api/_admin/models/"+id, nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, _ = env.do(t, "superadmin", "GET", "/api/_admin/models?name=post", nil)
	assert.Equal(t, 404, status)
}

func TestModelValidation(t *testing.T) {
	env := newAdminEnv(t)

	status, body := env.do(t, "superadmin", "POST", "/api/_admin/models", map[string]any{
		"modelName": "widget",
		"fields":    []map[string]any{{"name": "shape", "type": "polygon"}},
	})
	assert.Equal(t, 422, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, _ = env.do(t, "superadmin", "POST", "/api/_admin/models", map[string]any{"modelName": "9lives"})
	assert.Equal(t, 422, status)

	status, _ = env.do(t, "superadmin", "POST", "/api/_admin/models", map[string]any{"fields": []any{}})
	assert.Equal(t, 422, status)

	status, _ = env.do(t, "superadmin", "PUT", "/api/_admin/models/nope", articleRequest)
	assert.Equal(t, 404, status)
}

func TestModelAccess(t *testing.T) {
	env := newAdminEnv(t)

	status, _ := env.do(t, "", "GET", "/api/_admin/models", nil)
	assert.Equal(t, 401, status)

	// contentmanager is not on the /builder allow-list
	status, _ = env.do(t, "contentmanager", "GET", "/api/_admin/models", nil)
	assert.Equal(t, 403, status)

	status, _ = env.do(t, "demo", "GET", "/api/_admin/models", nil)
	assert.Equal(t, 200, status)
	status, _ = env.do(t, "demo", "POST", "/api/_admin/models", articleRequest)
	assert.Equal(t, 403, status)
}

func TestRoles(t *testing.T) {
	env := newAdminEnv(t)

	status, body := env.do(t, "superadmin", "GET", "/api/_admin/roles", nil)
	require.Equal(t, 200, status)
	assert.Len(t, body["data"].(map[string]any)["roles"], 3)

	status, _ = env.do(t, "contentmanager", "GET", "/api/_admin/roles", nil)
	assert.Equal(t, 403, status)

	status, body = env.do(t, "superadmin", "PUT", "/api/_admin/roles/Editor", map[string]any{
		"permissions": map[string]any{"create": true, "update": true},
		"routes":      []string{"/manager", "/media"},
	})
	require.Equal(t, 200, status, body)
	assert.True(t, env.rbac.Known("editor"))
	assert.True(t, env.rbac.HasPermission("editor", rbac.PermCreate))
	assert.False(t, env.rbac.HasPermission("editor", rbac.PermDelete))

	status, body = env.do(t, "editor", "GET", "/api/_admin/access?path=/manager", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, true, body["data"].(map[string]any)["allowed"])
	status, body = env.do(t, "editor", "GET", "/api/_admin/access?path=/builder", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, false, body["data"].(map[string]any)["allowed"])

	status, _ = env.do(t, "superadmin", "DELETE", "/api/_admin/roles/demo", nil)
	assert.Equal(t, 409, status)

	status, _ = env.do(t, "superadmin", "DELETE", "/api/_admin/roles/editor", nil)
	require.Equal(t, 200, status)
	assert.False(t, env.rbac.Known("editor"))

	status, _ = env.do(t, "superadmin", "DELETE", "/api/_admin/roles/editor", nil)
	assert.Equal(t, 404, status)
}

func TestAccessRequiresPath(t *testing.T) {
	env := newAdminEnv(t)
	status, _ := env.do(t, "demo", "GET", "/api/_admin/access", nil)
	assert.Equal(t, 400, status)
}

func TestTokens(t *testing.T) {
	env := newAdminEnv(t)
	ctx := context.Background()

	status, _ := env.do(t, "contentmanager", "POST", "/api/_admin/tokens", map[string]any{"name": "ci", "role": "superadmin"})
	assert.Equal(t, 403, status)

	status, _ = env.do(t, "contentmanager", "POST", "/api/_admin/tokens", map[string]any{"name": "ci", "role": "ghost"})
	assert.Equal(t, 422, status)

	status, _ = env.do(t, "demo", "POST", "/api/_admin/tokens", map[string]any{"name": "ci", "role": "contentmanager"})
	assert.Equal(t, 403, status, "demo cannot hand out write access")

	status, body := env.do(t, "contentmanager", "POST", "/api/_admin/tokens", map[string]any{"name": "ci", "role": "demo"})
	require.Equal(t, 201, status, body)
	data := body["data"].(map[string]any)
	record := data["record"].(map[string]any)
	assert.Equal(t, "u-contentmanager", record["createdBy"])

	claims, err := auth.ParseAPIToken(data["token"].(string), apiSecret)
	require.NoError(t, err)
	assert.Equal(t, "demo", claims.Role)
	assert.Equal(t, record["_id"], claims.ID)

	live, err := env.store.APITokenExists(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, live)

	status, body = env.do(t, "superadmin", "GET", "/api/_admin/tokens", nil)
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 1)

	status, _ = env.do(t, "superadmin", "DELETE", "/api/_admin/tokens/"+claims.ID, nil)
	require.Equal(t, 200, status)
	live, err = env.store.APITokenExists(ctx, claims.ID)
	require.NoError(t, err)
	assert.False(t, live)

	status, _ = env.do(t, "superadmin", "DELETE", "/api/_admin/tokens/"+claims.ID, nil)
	assert.Equal(t, 404, status)
}

func TestEvents(t *testing.T) {
	env := newAdminEnv(t)

	status, _ := env.do(t, "superadmin", "POST", "/api/_admin/models", articleRequest)
	require.Equal(t, 201, status)

	status, _ = env.do(t, "contentmanager", "GET", "/api/_admin/events", nil)
	assert.Equal(t, 403, status)

	status, body := env.do(t, "superadmin", "GET", "/api/_admin/events?source=generator&model=article", nil)
	require.Equal(t, 200, status, body)
	events := body["data"].([]any)
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, "model.create", ev["action"])
	assert.Equal(t, "ok", ev["status"])
	assert.NotEmpty(t, ev["trace_id"])
	assert.NotEmpty(t, ev["parent_span_id"], "pipeline span nests under the request span")

	status, _ = env.do(t, "superadmin", "GET", "/api/_admin/events?limit=0", nil)
	assert.Equal(t, 400, status)
}
