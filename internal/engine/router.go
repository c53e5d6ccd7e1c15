package engine

import "github.com/gofiber/fiber/v2"

// RegisterContentRoutes mounts the document API twice: under /api/content
// behind session auth and under /api/public behind API-token auth.
func RegisterContentRoutes(app *fiber.App, h *Handler, session, apiToken fiber.Handler) {
	content := app.Group("/api/content", session)
	content.Get("/:model/_ui", h.UIPages)
	registerCRUD(content, h)

	public := app.Group("/api/public", apiToken)
	registerCRUD(public, h)
}

func registerCRUD(r fiber.Router, h *Handler) {
	r.Get("/:model", h.List)
	r.Get("/:model/:id", h.GetByID)
	r.Post("/:model", h.Create)
	r.Put("/:model/:id", h.Update)
	r.Delete("/:model/:id", h.Delete)
}
