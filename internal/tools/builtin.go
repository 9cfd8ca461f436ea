package tools

import (
	"context"
	"time"

	"github.com/zankora/agw/internal/domain"
)

// RegisterBuiltins adds the tools every gateway carries regardless of
// plugins.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(domain.ToolSpec{
		Name:        "core.echo",
		Description: "Echo args (debug).",
		Permission:  domain.PermissionRead,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}, func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"echo": args}, nil
	}); err != nil {
		return err
	}

	return r.Register(domain.ToolSpec{
		Name:        "core.time",
		Description: "Current gateway time, UTC.",
		Permission:  domain.PermissionRead,
		Parameters:  map[string]any{"type": "object"},
	}, func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"now": time.Now().UTC().Format(time.RFC3339)}, nil
	})
}
