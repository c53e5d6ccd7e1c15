package instrument

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"contentforge/internal/metadata"
)

// Middleware sets up tracing for each request. It generates (or propagates)
// a trace ID, creates a root HTTP span, and injects the recorder into the
// request's user context for downstream handlers.
func Middleware(recorder *Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = newUUID()
		}

		ctx := WithTraceID(c.UserContext(), traceID)
		ctx = WithInstrumenter(ctx, recorder)
		ctx, span := recorder.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", c.Method())
		span.SetMetadata("path", c.Path())
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		// Auth middleware runs downstream, so the user is only known now.
		if user, ok := c.Locals("user").(*metadata.UserContext); ok && user != nil {
			span.SetMetadata("user_id", user.ID)
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}
		span.SetMetadata("status_code", status)
		if status >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()

		return err
	}
}

// errorStatus resolves the status of an error the error handler has not
// written yet.
func errorStatus(err error) int {
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
