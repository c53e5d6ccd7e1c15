package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// ListParams are the paging and search options of a list request.
type ListParams struct {
	Page   int
	Limit  int
	Search string
}

func (p ListParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParseListParams reads page, limit and search from the query string.
// Missing values fall back to page 1 and limit 10; limit is capped at 100.
func ParseListParams(c *fiber.Ctx) (ListParams, error) {
	p := ListParams{Page: 1, Limit: defaultLimit, Search: strings.TrimSpace(c.Query("search"))}

	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, InvalidPayloadError(fmt.Sprintf("Invalid page: %s", v))
		}
		p.Page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, InvalidPayloadError(fmt.Sprintf("Invalid limit: %s", v))
		}
		p.Limit = min(n, maxLimit)
	}
	return p, nil
}
