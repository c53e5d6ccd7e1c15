package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"contentforge/internal/engine"
	"contentforge/internal/generator"
	"contentforge/internal/metadata"
	"contentforge/internal/rbac"
	"contentforge/internal/store"
)

// UserModel is the model holding login accounts.
const UserModel = "user"

// UserFields is the definition of the user model created by the first signup.
func UserFields() []metadata.FieldDefinition {
	return []metadata.FieldDefinition{
		{Name: "firstname", Type: metadata.TypeString, DataType: "textinput", Required: true},
		{Name: "lastname", Type: metadata.TypeString, DataType: "textinput", Required: true},
		{Name: "email", Type: metadata.TypeString, DataType: "textemail", Required: true},
		{Name: "password", Type: metadata.TypeString, DataType: "password", Required: true},
		{Name: "userRole", Type: metadata.TypeString, DataType: "singleselect",
			EnumValues: []string{rbac.RoleSuperadmin, rbac.RoleContentManager, rbac.RoleDemo}},
		{Name: "block", Type: metadata.TypeBoolean, DataType: "toggleinput"},
	}
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store     *store.Store
	registry  *metadata.Registry
	pipeline  *generator.Pipeline
	jwtSecret string
	ttl       time.Duration

	signupMu sync.Mutex
}

func NewAuthHandler(s *store.Store, reg *metadata.Registry, p *generator.Pipeline, jwtSecret string, ttl time.Duration) *AuthHandler {
	return &AuthHandler{store: s, registry: reg, pipeline: p, jwtSecret: jwtSecret, ttl: ttl}
}

type credentials struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Signup handles POST /api/auth/signup. Only the first account may sign up;
// it becomes the superadmin.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var body credentials
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))

	h.signupMu.Lock()
	defer h.signupMu.Unlock()

	ctx := c.UserContext()
	handle, err := h.userHandle(ctx)
	if err != nil {
		return err
	}

	n, err := h.store.CountDocuments(ctx, UserModel, store.FindOptions{})
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return engine.ForbiddenError("Signup is closed; ask an administrator for an account")
	}

	clean, problems := handle.Validate(map[string]any{
		"firstname": body.Firstname,
		"lastname":  body.Lastname,
		"email":     body.Email,
		"password":  body.Password,
		"userRole":  rbac.RoleSuperadmin,
		"block":     false,
	}, false)
	if len(problems) > 0 {
		return engine.ValidationError(engine.FieldDetails(problems))
	}
	if clean["password"], err = HashPassword(body.Password); err != nil {
		return err
	}

	user, err := h.store.InsertDocument(ctx, UserModel, clean)
	if err != nil {
		return fmt.Errorf("create first user: %w", err)
	}
	log.Printf("Created first user %s as %s", body.Email, rbac.RoleSuperadmin)

	return h.respondWithToken(c, 201, user)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body credentials
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.UserContext()
	res, err := h.registry.Lookup(ctx, UserModel)
	if err != nil {
		return err
	}
	if res.Status == metadata.Fallback && res.Reason == metadata.ReasonUndefined {
		return engine.UnauthorizedError("Invalid email or password")
	}

	users, err := h.store.FindDocuments(ctx, UserModel, store.FindOptions{
		Where: map[string]string{"email": strings.TrimSpace(strings.ToLower(body.Email))},
		Limit: 1,
	})
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if len(users) == 0 {
		return engine.UnauthorizedError("Invalid email or password")
	}
	user := users[0]

	if blocked, _ := user["block"].(bool); blocked {
		return engine.UnauthorizedError("Account is blocked")
	}
	hash, _ := user["password"].(string)
	if !CheckPassword(body.Password, hash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	return h.respondWithToken(c, 200, user)
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := GetUser(c)
	if user == nil {
		return engine.UnauthorizedError("Authentication required")
	}
	return c.JSON(fiber.Map{"data": user})
}

// RegisterAuthRoutes registers auth routes on the given Fiber app.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler, session fiber.Handler) {
	auth := app.Group("/api/auth")
	auth.Post("/signup", h.Signup)
	auth.Post("/login", h.Login)
	auth.Get("/me", session, h.Me)
}

// --- helpers ---

// userHandle returns the user model, creating it on first signup.
func (h *AuthHandler) userHandle(ctx context.Context) (*metadata.Handle, error) {
	res, err := h.registry.Lookup(ctx, UserModel)
	if err != nil {
		return nil, err
	}
	if res.Status == metadata.Found || res.Reason == metadata.ReasonLoadFailure {
		return res.Handle, nil
	}

	if _, err := h.pipeline.CreateModel(ctx, UserModel, UserFields()); err != nil {
		if errors.Is(err, generator.ErrGeneration) {
			return nil, engine.GenerationError(err.Error())
		}
		return nil, fmt.Errorf("create user model: %w", err)
	}
	if res, err = h.registry.Lookup(ctx, UserModel); err != nil {
		return nil, err
	}
	return res.Handle, nil
}

func (h *AuthHandler) respondWithToken(c *fiber.Ctx, status int, user store.Document) error {
	id, _ := user["_id"].(string)
	email, _ := user["email"].(string)
	role, _ := user["userRole"].(string)

	token, err := GenerateAccessToken(id, email, role, h.jwtSecret, h.ttl)
	if err != nil {
		return engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	delete(user, "password")
	return c.Status(status).JSON(fiber.Map{"data": fiber.Map{
		"token": token,
		"user":  user,
	}})
}
