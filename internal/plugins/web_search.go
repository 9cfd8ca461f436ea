package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zankora/agw/internal/domain"
)

const fetchPreviewBytes = 1000

var webClient = &http.Client{Timeout: 10 * time.Second}

func registerWebSearch(reg *Registry) error {
	if err := reg.RegisterTool(domain.ToolSpec{
		Name:        "web.search",
		Description: "Search the web for information on any topic.",
		Permission:  domain.PermissionRead,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string"},
				"max_results": map[string]any{"type": "integer"},
			},
			"required": []any{"query"},
		},
	}, webSearch); err != nil {
		return err
	}

	return reg.RegisterTool(domain.ToolSpec{
		Name:        "web.fetch",
		Description: "Fetch content from a specific URL.",
		Permission:  domain.PermissionRead,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string"},
			},
			"required": []any{"url"},
		},
	}, webFetch)
}

// webSearch is a mock provider. Wiring a real search API means replacing
// this handler, the contract stays the same.
func webSearch(_ context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	max := intArg(args, "max_results")
	if max <= 0 || max > 10 {
		max = 5
	}
	results := make([]map[string]any, 0, max)
	for i := 1; i <= max; i++ {
		results = append(results, map[string]any{
			"title":   fmt.Sprintf("Result %d for: %s", i, query),
			"url":     fmt.Sprintf("https://example.com/result/%d", i),
			"snippet": fmt.Sprintf("This is a search result snippet for query: %s", query),
		})
	}
	return map[string]any{
		"query":         query,
		"total_results": len(results),
		"results":       results,
	}, nil
}

func webFetch(ctx context.Context, args map[string]any) (map[string]any, error) {
	url, _ := args["url"].(string)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return map[string]any{"url": url, "error": err.Error()}, nil
	}
	resp, err := webClient.Do(req)
	if err != nil {
		return map[string]any{"url": url, "error": err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchPreviewBytes))
	if err != nil {
		return map[string]any{"url": url, "error": err.Error()}, nil
	}
	return map[string]any{
		"url":             url,
		"status":          resp.StatusCode,
		"content_preview": string(body),
	}, nil
}
