package instrument

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventHandler exposes the recorded spans.
type EventHandler struct {
	buffer *Buffer
}

func NewEventHandler(buffer *Buffer) *EventHandler {
	return &EventHandler{buffer: buffer}
}

// List handles GET /api/_admin/events. Filters: source, model, trace_id,
// status; limit defaults to 50.
func (h *EventHandler) List(c *fiber.Ctx) error {
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxEventLimit)
	}

	source := c.Query("source")
	model := strings.ToLower(c.Query("model"))
	traceID := c.Query("trace_id")
	status := c.Query("status")

	events := h.buffer.Recent(limit, func(e Event) bool {
		return (source == "" || e.Source == source) &&
			(model == "" || e.Model == model) &&
			(traceID == "" || e.TraceID == traceID) &&
			(status == "" || e.Status == status)
	})
	return c.JSON(fiber.Map{"data": events})
}
