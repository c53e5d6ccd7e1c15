package auth

import (
	"context"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"contentforge/internal/engine"
	"contentforge/internal/instrument"
	"contentforge/internal/metadata"
)

// TokenChecker reports whether an API token id is still live.
type TokenChecker interface {
	APITokenExists(ctx context.Context, id string) (bool, error)
}

// SessionMiddleware validates session JWTs and sets the UserContext.
func SessionMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c)
		if err != nil {
			return err
		}
		claims, err := ParseAccessToken(raw, secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		setUser(c, &metadata.UserContext{
			ID:    claims.Subject,
			Email: claims.Email,
			Role:  claims.Role,
		})
		return c.Next()
	}
}

// APITokenMiddleware validates public API tokens against their signature
// and the token store.
func APITokenMiddleware(secret string, checker TokenChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c)
		if err != nil {
			return err
		}
		claims, err := ParseAPIToken(raw, secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired API token")
		}

		live, err := checker.APITokenExists(c.UserContext(), claims.ID)
		if err != nil {
			log.Printf("ERROR: check api token %s: %v", claims.ID, err)
			return err
		}
		if !live {
			return engine.UnauthorizedError("API token has been revoked")
		}

		setUser(c, &metadata.UserContext{
			ID:       claims.ID,
			Role:     claims.Role,
			APIToken: true,
		})
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get("Authorization")
	if header == "" {
		return "", engine.UnauthorizedError("Missing auth token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", engine.UnauthorizedError("Invalid auth header format")
	}
	return parts[1], nil
}

// setUser stores the caller in Locals and tags later spans with its id.
func setUser(c *fiber.Ctx, user *metadata.UserContext) {
	c.Locals("user", user)
	c.SetUserContext(instrument.WithUserID(c.UserContext(), user.ID))
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
