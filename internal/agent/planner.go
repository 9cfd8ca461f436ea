// Package agent implements the run engine: a bounded state machine that
// plans, gates every tool call through policy, waits for approvals, and
// always leaves the user with some output.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zankora/agw/internal/domain"
)

// Turn is one conversation entry handed to the planner. Role is "user",
// "assistant", or the synthetic "tool" for tool results.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a planner's request to invoke a tool.
type ToolCall struct {
	Name string
	Args map[string]any
}

// PlanResult is the planner's decision: either content, or tool calls (the
// engine consumes only the first call per step).
type PlanResult struct {
	Content   string
	ToolCalls []ToolCall
}

// Planner decides the next action given history and available tools.
type Planner interface {
	Plan(ctx context.Context, messages []Turn, specs []domain.ToolSpec) (*PlanResult, error)
}

// MockPlanner is the deterministic planner used for development and tests.
// A last turn of the form "tool:<name> <json args>" becomes a tool call;
// anything else is echoed back as content.
type MockPlanner struct{}

func (MockPlanner) Plan(_ context.Context, messages []Turn, _ []domain.ToolSpec) (*PlanResult, error) {
	last := ""
	if len(messages) > 0 {
		last = strings.TrimSpace(messages[len(messages)-1].Content)
	}
	if !strings.HasPrefix(strings.ToLower(last), "tool:") {
		return &PlanResult{Content: fmt.Sprintf("Mock planner received: %s", last)}, nil
	}

	rest := last[len("tool:"):]
	name := rest
	args := map[string]any{}
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		name = rest[:idx]
		raw := strings.TrimSpace(rest[idx+1:])
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]any{"text": "invalid_json_args"}
			}
		}
	}
	return &PlanResult{
		Content:   "calling tool",
		ToolCalls: []ToolCall{{Name: name, Args: args}},
	}, nil
}
