// Package logging provides the process-wide logger and the request-scoped
// Log(ctx) helper used throughout the core, following the teacher's
// main.go/_logHandler + internal/controller.go Log(ctx) pattern.
package logging

import (
	"context"
	"os"

	charm "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler is the process-wide logger. main bumps its level with --verbose
// the same way the teacher's logconfig.Run does.
var Handler = charm.NewWithOptions(os.Stderr, charm.Options{
	ReportTimestamp: true,
	Level:           charm.InfoLevel,
})

// Log returns a logger enriched with the request ID carried on ctx, if any.
func Log(ctx context.Context) *charm.Logger {
	if id, ok := ctx.Value(middleware.RequestIDKey).(string); ok && id != "" {
		return Handler.With("requestID", id)
	}
	return Handler
}
