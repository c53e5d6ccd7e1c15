package admin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"contentforge/internal/auth"
	"contentforge/internal/engine"
	"contentforge/internal/generator"
	"contentforge/internal/instrument"
	"contentforge/internal/metadata"
	"contentforge/internal/rbac"
	"contentforge/internal/store"
)

const (
	routeBuilder     = "/builder"
	routePermissions = "/setting/permision"
	routeAPITokens   = "/setting/apitokens"
	routeEnvData     = "/setting/envdata"
)

type Handler struct {
	store    *store.Store
	pipeline *generator.Pipeline
	rbac     *rbac.Service
	events   *instrument.EventHandler

	apiTokenSecret string
	apiTokenTTL    time.Duration
}

func NewHandler(s *store.Store, p *generator.Pipeline, svc *rbac.Service, events *instrument.EventHandler, apiTokenSecret string, apiTokenTTL time.Duration) *Handler {
	return &Handler{store: s, pipeline: p, rbac: svc, events: events, apiTokenSecret: apiTokenSecret, apiTokenTTL: apiTokenTTL}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, session fiber.Handler) {
	admin := app.Group("/api/_admin", session)

	admin.Get("/models", h.ListModels)
	admin.Get("/models/:id", h.GetModel)
	admin.Post("/models", h.CreateModel)
	admin.Put("/models/:id", h.UpdateModel)
	admin.Delete("/models/:id", h.DeleteModel)

	admin.Get("/roles", h.ListRoles)
	admin.Put("/roles/:name", h.PutRole)
	admin.Delete("/roles/:name", h.DeleteRole)

	admin.Get("/access", h.Access)
	admin.Get("/events", h.Events)

	admin.Get("/tokens", h.ListTokens)
	admin.Post("/tokens", h.CreateToken)
	admin.Delete("/tokens/:id", h.DeleteToken)
}

// --- Model Endpoints ---

type modelRequest struct {
	ModelName string                     `json:"modelName"`
	Fields    []metadata.FieldDefinition `json:"fields"`
}

func (h *Handler) ListModels(c *fiber.Ctx) error {
	if err := h.gate(c, routeBuilder, rbac.PermRead); err != nil {
		return err
	}

	if name := c.Query("name"); name != "" {
		m, err := h.store.GetModelByName(c.UserContext(), name)
		if errors.Is(err, store.ErrNotFound) {
			return engine.UnknownModelError(name)
		}
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": m})
	}

	models, err := h.store.ListModels(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": models})
}

func (h *Handler) GetModel(c *fiber.Ctx) error {
	if err := h.gate(c, routeBuilder, rbac.PermRead); err != nil {
		return err
	}

	id := c.Params("id")
	m, err := h.store.GetModel(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError("model", id)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": m})
}

func (h *Handler) CreateModel(c *fiber.Ctx) error {
	if err := h.gate(c, routeBuilder, rbac.PermCreate); err != nil {
		return err
	}

	var body modelRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if strings.TrimSpace(body.ModelName) == "" {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "modelName", Rule: "required", Message: "modelName is required"}})
	}

	m, err := h.pipeline.CreateModel(c.UserContext(), body.ModelName, body.Fields)
	if err != nil {
		return modelError(err)
	}
	return c.Status(201).JSON(fiber.Map{
		"data":  m,
		"paths": h.pipeline.Publisher().Paths(m.Name),
	})
}

func (h *Handler) UpdateModel(c *fiber.Ctx) error {
	if err := h.gate(c, routeBuilder, rbac.PermUpdate); err != nil {
		return err
	}

	var body modelRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}

	m, err := h.pipeline.UpdateModel(c.UserContext(), c.Params("id"), body.ModelName, body.Fields)
	if err != nil {
		return modelError(err)
	}
	return c.JSON(fiber.Map{
		"data":  m,
		"paths": h.pipeline.Publisher().Paths(m.Name),
	})
}

func (h *Handler) DeleteModel(c *fiber.Ctx) error {
	if err := h.gate(c, routeBuilder, rbac.PermDelete); err != nil {
		return err
	}

	id := c.Params("id")
	if err := h.pipeline.DeleteModel(c.UserContext(), id); err != nil {
		return modelError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"_id": id, "deleted": true}})
}

// modelError maps pipeline failures onto API errors.
func modelError(err error) error {
	var compileErr *metadata.CompileError
	switch {
	case errors.As(err, &compileErr):
		return engine.ValidationError(engine.FieldDetails(compileErr.Problems))
	case errors.Is(err, generator.ErrInvalidName):
		return engine.ValidationError([]engine.ErrorDetail{{Field: "modelName", Rule: "identifier", Message: err.Error()}})
	case errors.Is(err, generator.ErrDuplicateModel):
		return engine.ConflictError(err.Error())
	case errors.Is(err, generator.ErrModelNotFound):
		return engine.NewAppError("NOT_FOUND", 404, err.Error())
	case errors.Is(err, generator.ErrGeneration):
		return engine.GenerationError(err.Error())
	}
	return err
}

// --- Role Endpoints ---

func (h *Handler) ListRoles(c *fiber.Ctx) error {
	if err := h.gate(c, routePermissions, ""); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"roles":  h.rbac.Roles(),
		"routes": h.rbac.Routes(),
	}})
}

func (h *Handler) PutRole(c *fiber.Ctx) error {
	if err := h.gate(c, routePermissions, ""); err != nil {
		return err
	}

	var role rbac.Role
	if err := c.BodyParser(&role); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	role.Name = strings.ToLower(strings.TrimSpace(c.Params("name")))
	if !metadata.IsIdentifier(role.Name) {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "name", Rule: "identifier", Message: fmt.Sprintf("invalid role name %q", role.Name)}})
	}
	if role.Routes == nil {
		role.Routes = []string{}
	}

	if err := h.store.UpsertRole(c.UserContext(), role); err != nil {
		return err
	}
	if err := h.rbac.Sync(c.UserContext(), h.store); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": role})
}

func (h *Handler) DeleteRole(c *fiber.Ctx) error {
	if err := h.gate(c, routePermissions, ""); err != nil {
		return err
	}

	name := strings.ToLower(c.Params("name"))
	if rbac.IsBuiltIn(name) {
		return engine.ConflictError(fmt.Sprintf("Built-in role %s cannot be deleted", name))
	}
	err := h.store.DeleteRole(c.UserContext(), name)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NewAppError("NOT_FOUND", 404, "Role not found: "+name)
	}
	if err != nil {
		return err
	}
	if err := h.rbac.Sync(c.UserContext(), h.store); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"name": name, "deleted": true}})
}

// Access reports whether the caller may open ?path=.
func (h *Handler) Access(c *fiber.Ctx) error {
	user := auth.GetUser(c)
	if user == nil {
		return engine.UnauthorizedError("Authentication required")
	}
	path := c.Query("path")
	if path == "" {
		return engine.InvalidPayloadError("path is required")
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"path":    path,
		"role":    user.RoleName(),
		"allowed": h.rbac.HasRouteAccess(user.RoleName(), path),
	}})
}

// Events lists recent request and pipeline spans.
func (h *Handler) Events(c *fiber.Ctx) error {
	if err := h.gate(c, routeEnvData, ""); err != nil {
		return err
	}
	return h.events.List(c)
}

// --- API Token Endpoints ---

type tokenRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (h *Handler) ListTokens(c *fiber.Ctx) error {
	if err := h.gate(c, routeAPITokens, ""); err != nil {
		return err
	}
	tokens, err := h.store.ListAPITokens(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": tokens})
}

func (h *Handler) CreateToken(c *fiber.Ctx) error {
	if err := h.gate(c, routeAPITokens, ""); err != nil {
		return err
	}
	user := auth.GetUser(c)

	var body tokenRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	body.Name = strings.TrimSpace(body.Name)
	body.Role = strings.ToLower(strings.TrimSpace(body.Role))
	if body.Name == "" {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "name", Rule: "required", Message: "name is required"}})
	}
	if !h.rbac.Known(body.Role) {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "role", Rule: "enum", Message: fmt.Sprintf("unknown role %q", body.Role)}})
	}
	if err := h.checkIssuable(user, body.Role); err != nil {
		return err
	}

	rec := &store.APIToken{Name: body.Name, Role: body.Role, CreatedBy: user.ID}
	if err := h.store.CreateAPIToken(c.UserContext(), rec, h.apiTokenTTL); err != nil {
		return err
	}
	token, err := auth.GenerateAPIToken(rec.ID, rec.Role, h.apiTokenSecret, rec.ExpiresAt)
	if err != nil {
		return engine.NewAppError("INTERNAL_ERROR", 500, "Failed to sign API token")
	}

	return c.Status(201).JSON(fiber.Map{"data": fiber.Map{
		"token":  token,
		"record": rec,
	}})
}

func (h *Handler) DeleteToken(c *fiber.Ctx) error {
	if err := h.gate(c, routeAPITokens, ""); err != nil {
		return err
	}
	id := c.Params("id")
	err := h.store.DeleteAPIToken(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError("token", id)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"_id": id, "deleted": true}})
}

// checkIssuable rejects tokens whose role grants more than the caller holds.
func (h *Handler) checkIssuable(user *metadata.UserContext, role string) error {
	if role == rbac.RoleSuperadmin && !user.HasRole(rbac.RoleSuperadmin) {
		return engine.ForbiddenError("Only superadmin may issue superadmin tokens")
	}
	for _, perm := range []string{rbac.PermCreate, rbac.PermRead, rbac.PermUpdate, rbac.PermDelete} {
		if h.rbac.HasPermission(role, perm) && !h.rbac.HasPermission(user.RoleName(), perm) {
			return engine.ForbiddenError(fmt.Sprintf("Role %s grants %s, which you do not hold", role, perm))
		}
	}
	return nil
}

// gate checks route access and, when perm is set, the CRUD permission.
func (h *Handler) gate(c *fiber.Ctx, route, perm string) error {
	user := auth.GetUser(c)
	if err := engine.CheckRouteAccess(h.rbac, user, route); err != nil {
		return err
	}
	if perm == "" {
		return nil
	}
	return engine.CheckPermission(h.rbac, user, "models", perm)
}
