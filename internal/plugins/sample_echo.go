package plugins

import (
	"context"
	"strings"

	"github.com/zankora/agw/internal/domain"
)

func registerSampleEcho(reg *Registry) error {
	return reg.RegisterTool(domain.ToolSpec{
		Name:        "sample.upper",
		Description: "Uppercase a string.",
		Permission:  domain.PermissionRead,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}, func(_ context.Context, args map[string]any) (map[string]any, error) {
		text, _ := args["text"].(string)
		return map[string]any{"upper": strings.ToUpper(text)}, nil
	})
}
