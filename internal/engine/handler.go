package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"contentforge/internal/generator"
	"contentforge/internal/metadata"
	"contentforge/internal/rbac"
	"contentforge/internal/store"
)

// ProtectedRole names the document field and value whose last holder may
// not be deleted or demoted.
type ProtectedRole struct {
	Field string
	Value string
}

type Handler struct {
	store     *store.Store
	registry  *metadata.Registry
	rbac      *rbac.Service
	publisher *generator.Publisher
	protected ProtectedRole
}

func NewHandler(s *store.Store, reg *metadata.Registry, svc *rbac.Service, pub *generator.Publisher, protected ProtectedRole) *Handler {
	return &Handler{store: s, registry: reg, rbac: svc, publisher: pub, protected: protected}
}

// List handles GET /api/{content,public}/:model
func (h *Handler) List(c *fiber.Ctx) error {
	name := c.Params("model")
	if err := CheckPermission(h.rbac, getUser(c), name, rbac.PermRead); err != nil {
		return err
	}
	handle, err := h.resolveModel(c)
	if err != nil {
		return err
	}

	params, err := ParseListParams(c)
	if err != nil {
		return err
	}

	opts := store.FindOptions{Search: params.Search, SearchFields: handle.StringFields()}
	total, err := h.store.CountDocuments(c.Context(), handle.Model(), opts)
	if err != nil {
		return fmt.Errorf("count %s: %w", handle.Model(), err)
	}

	opts.Offset, opts.Limit = params.Offset(), params.Limit
	items, err := h.store.FindDocuments(c.Context(), handle.Model(), opts)
	if err != nil {
		return fmt.Errorf("list %s: %w", handle.Model(), err)
	}

	if err := LoadIncludes(c.Context(), h.store, h.registry, handle, items); err != nil {
		return fmt.Errorf("load includes: %w", err)
	}
	for _, item := range items {
		hideSecrets(handle, item)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"total": total,
		"page":  params.Page,
		"limit": params.Limit,
		"items": items,
	}})
}

// GetByID handles GET /api/{content,public}/:model/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	name := c.Params("model")
	if err := CheckPermission(h.rbac, getUser(c), name, rbac.PermRead); err != nil {
		return err
	}
	handle, err := h.resolveModel(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	doc, err := h.fetch(c.Context(), handle, id)
	if err != nil {
		return err
	}

	docs := []store.Document{doc}
	if err := LoadIncludes(c.Context(), h.store, h.registry, handle, docs); err != nil {
		return fmt.Errorf("load includes: %w", err)
	}
	hideSecrets(handle, doc)

	return c.JSON(fiber.Map{"data": doc})
}

// Create handles POST /api/{content,public}/:model
func (h *Handler) Create(c *fiber.Ctx) error {
	name := c.Params("model")
	if err := CheckPermission(h.rbac, getUser(c), name, rbac.PermCreate); err != nil {
		return err
	}
	handle, err := h.resolveModel(c)
	if err != nil {
		return err
	}

	body, err := parseBody(c)
	if err != nil {
		return err
	}
	clean, problems := handle.Validate(body, false)
	if len(problems) > 0 {
		return ValidationError(FieldDetails(problems))
	}
	if err := hashSecrets(handle, clean); err != nil {
		return err
	}
	if err := h.checkUnique(c.Context(), handle, clean, ""); err != nil {
		return err
	}

	doc, err := h.store.InsertDocument(c.Context(), handle.Model(), clean)
	if err != nil {
		return handleWriteError(err)
	}

	id := doc["_id"].(string)
	if err := ApplyBackReferences(c.Context(), h.store, h.registry, handle.Model(), id, DiffRelations(handle, nil, clean)); err != nil {
		return err
	}

	hideSecrets(handle, doc)
	return c.Status(201).JSON(fiber.Map{"data": doc})
}

// Update handles PUT /api/{content,public}/:model/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	name := c.Params("model")
	if err := CheckPermission(h.rbac, getUser(c), name, rbac.PermUpdate); err != nil {
		return err
	}
	handle, err := h.resolveModel(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	existing, err := h.fetch(c.Context(), handle, id)
	if err != nil {
		return err
	}

	body, err := parseBody(c)
	if err != nil {
		return err
	}
	// An empty secret keeps the stored value.
	for _, f := range handle.SecretFields() {
		if v, ok := body[f]; ok && (v == nil || v == "") {
			delete(body, f)
		}
	}

	clean, problems := handle.Validate(body, true)
	if len(problems) > 0 {
		return ValidationError(FieldDetails(problems))
	}
	if err := hashSecrets(handle, clean); err != nil {
		return err
	}
	if err := h.checkUnique(c.Context(), handle, clean, id); err != nil {
		return err
	}
	if v, ok := clean[h.protected.Field]; ok && v != h.protected.Value {
		if err := h.checkLastProtected(c.Context(), handle, existing, "demote"); err != nil {
			return err
		}
	}

	merged := make(map[string]any, len(existing)+len(clean))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range clean {
		merged[k] = v
	}

	doc, err := h.store.ReplaceDocument(c.Context(), handle.Model(), id, merged)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(handle.Model(), id)
		}
		return handleWriteError(err)
	}

	if err := ApplyBackReferences(c.Context(), h.store, h.registry, handle.Model(), id, DiffRelations(handle, existing, clean)); err != nil {
		return err
	}

	hideSecrets(handle, doc)
	return c.JSON(fiber.Map{"data": doc})
}

// Delete handles DELETE /api/{content,public}/:model/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	name := c.Params("model")
	if err := CheckPermission(h.rbac, getUser(c), name, rbac.PermDelete); err != nil {
		return err
	}
	handle, err := h.resolveModel(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	existing, err := h.fetch(c.Context(), handle, id)
	if err != nil {
		return err
	}
	if err := h.checkLastProtected(c.Context(), handle, existing, "delete"); err != nil {
		return err
	}

	if err := h.store.DeleteDocument(c.Context(), handle.Model(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(handle.Model(), id)
		}
		return fmt.Errorf("delete %s/%s: %w", handle.Model(), id, err)
	}

	if err := ApplyBackReferences(c.Context(), h.store, h.registry, handle.Model(), id, DiffRelations(handle, existing, nil)); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"_id": id}})
}

// UIPages handles GET /api/content/:model/_ui and returns the published
// list, form and component definitions of a model.
func (h *Handler) UIPages(c *fiber.Ctx) error {
	if err := CheckRouteAccess(h.rbac, getUser(c), "/manager"); err != nil {
		return err
	}
	handle, err := h.resolveModel(c)
	if err != nil {
		return err
	}

	pages := fiber.Map{}
	for key, kind := range map[string]string{
		"list":      generator.KindListPage,
		"forms":     generator.KindFormPages,
		"component": generator.KindUIComponent,
	} {
		data, err := h.publisher.Read(handle.Model(), kind)
		if errors.Is(err, fs.ErrNotExist) {
			return NewAppError("NOT_PUBLISHED", 404, fmt.Sprintf("UI pages for %s are not published", handle.Model()))
		}
		if err != nil {
			return fmt.Errorf("read %s artifact of %s: %w", kind, handle.Model(), err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode %s artifact of %s: %w", kind, handle.Model(), err)
		}
		pages[key] = doc
	}

	return c.JSON(fiber.Map{"data": pages})
}

// resolveModel looks the :model param up in the registry. An undefined model
// is UNKNOWN_MODEL; a model whose definition fails to load is served with
// the open handle.
func (h *Handler) resolveModel(c *fiber.Ctx) (*metadata.Handle, error) {
	name := c.Params("model")
	res, err := h.registry.Lookup(c.Context(), name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	if res.Status == metadata.Fallback && res.Reason == metadata.ReasonUndefined {
		return nil, UnknownModelError(name)
	}
	return res.Handle, nil
}

func (h *Handler) fetch(ctx context.Context, handle *metadata.Handle, id string) (store.Document, error) {
	doc, err := h.store.GetDocument(ctx, handle.Model(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NotFoundError(handle.Model(), id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", handle.Model(), id, err)
	}
	return doc, nil
}

// checkUnique rejects values of unique fields already held by another document.
func (h *Handler) checkUnique(ctx context.Context, handle *metadata.Handle, doc map[string]any, selfID string) error {
	for _, f := range handle.UniqueFields() {
		v, ok := doc[f].(string)
		if !ok || v == "" {
			continue
		}
		matches, err := h.store.FindDocuments(ctx, handle.Model(), store.FindOptions{Where: map[string]string{f: v}, Limit: 2})
		if err != nil {
			return fmt.Errorf("check unique %s.%s: %w", handle.Model(), f, err)
		}
		for _, m := range matches {
			if m["_id"] != selfID {
				return ConflictError(fmt.Sprintf("A %s with %s %q already exists", handle.Model(), f, v))
			}
		}
	}
	return nil
}

// checkLastProtected refuses to remove the protected role from the last
// document holding it.
func (h *Handler) checkLastProtected(ctx context.Context, handle *metadata.Handle, existing store.Document, action string) error {
	if h.protected.Field == "" || existing[h.protected.Field] != h.protected.Value {
		return nil
	}
	n, err := h.store.CountDocuments(ctx, handle.Model(), store.FindOptions{Where: map[string]string{h.protected.Field: h.protected.Value}})
	if err != nil {
		return fmt.Errorf("count %s holders: %w", h.protected.Value, err)
	}
	if n <= 1 {
		return ConflictError(fmt.Sprintf("Cannot %s the last %s", action, h.protected.Value))
	}
	return nil
}

func hashSecrets(handle *metadata.Handle, doc map[string]any) error {
	for _, f := range handle.SecretFields() {
		v, ok := doc[f].(string)
		if !ok || v == "" {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(v), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash %s: %w", f, err)
		}
		doc[f] = string(hash)
	}
	return nil
}

func parseBody(c *fiber.Ctx) (map[string]any, error) {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil || body == nil {
		return nil, InvalidPayloadError("Invalid JSON body")
	}
	return body, nil
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

func handleWriteError(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return ConflictError("A record with this value already exists")
	}
	return err
}
