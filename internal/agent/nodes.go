package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zankora/agw/internal/domain"
)

func (e *Engine) progress(st *runState, node, phase string, extra map[string]any) {
	payload := map[string]any{"node": node, "phase": phase, "step": st.step}
	for k, v := range extra {
		payload[k] = v
	}
	e.emitter.Emit(st.runID, domain.EventRunProgress, payload)
}

func (e *Engine) nodeBuildContext(st *runState) {
	e.progress(st, "build_context", "start", nil)
	slog.Debug("build_context", "run_id", st.runID, "messages", len(st.messages))
	e.progress(st, "build_context", "end", nil)
}

// nodePlan calls the planner under the run's remaining budget. A deadline
// hit that coincides with the global budget aborts the run; any other
// planner failure routes to clarification via blocked_reason.
func (e *Engine) nodePlan(ctx context.Context, st *runState) error {
	e.progress(st, "plan", "start", nil)

	res, err := e.planner.Plan(ctx, st.messages, e.tools.ListSpecs())
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		return errRunTimeout
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		slog.Error("plan timeout", "run_id", st.runID)
		st.toolRequest = nil
		st.blocked = "planning_timeout"
	case err != nil:
		slog.Error("plan error", "run_id", st.runID, "err", err)
		st.toolRequest = nil
		st.blocked = fmt.Sprintf("planning_error: %v", err)
	case len(res.ToolCalls) > 0:
		// Single-shot per step: only the first call is consumed.
		call := res.ToolCalls[0]
		st.toolRequest = &ToolCall{Name: call.Name, Args: call.Args}
		st.plan = "Tool requested: " + call.Name
		slog.Debug("plan tool", "run_id", st.runID, "tool", call.Name)
	default:
		st.toolRequest = nil
		st.plan = res.Content
		if res.Content != "" {
			st.outputChunks = append(st.outputChunks, res.Content)
		}
	}

	e.progress(st, "plan", "end", map[string]any{"plan": st.plan})
	return nil
}

func (e *Engine) nodePolicyCheck(st *runState) {
	e.progress(st, "policy_check", "start", nil)

	req := st.toolRequest
	if req == nil {
		return
	}

	tool, ok := e.tools.Get(req.Name)
	if !ok {
		slog.Warn("policy tool missing", "run_id", st.runID, "tool", req.Name)
		e.emitter.Emit(st.runID, domain.EventSecurityBlocked, map[string]any{
			"reason": "tool_missing", "tool": req.Name,
		})
		st.blocked = "tool_missing"
		st.toolRequest = nil
		return
	}

	allowed, reason, needsApproval := e.policy.AllowTool(tool.Spec)
	if !allowed {
		slog.Warn("policy denied", "run_id", st.runID, "tool", req.Name, "reason", reason)
		e.emitter.Emit(st.runID, domain.EventSecurityBlocked, map[string]any{
			"reason": reason, "tool": req.Name,
		})
		st.blocked = reason
		st.toolRequest = nil
		return
	}

	st.needsOK = needsApproval
	e.progress(st, "policy_check", "end", map[string]any{
		"allowed": allowed, "needs_approval": needsApproval,
	})
}

// nodeWaitApproval parks the run on a one-shot signal. No grant within the
// run's budget means approval_timeout, which terminates the run without a
// clarification fallback.
func (e *Engine) nodeWaitApproval(ctx context.Context, st *runState) {
	req := st.toolRequest
	if req == nil {
		return
	}

	slog.Info("waiting approval", "run_id", st.runID, "tool", req.Name)

	sig := make(chan struct{})
	e.mu.Lock()
	e.pending[st.runID] = PendingApproval{
		RunID:       st.runID,
		ToolName:    req.Name,
		ToolArgs:    req.Args,
		RequestedAt: time.Now().UTC(),
	}
	e.signals[st.runID] = sig
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, st.runID)
		delete(e.signals, st.runID)
		e.mu.Unlock()
	}()

	e.emitter.Emit(st.runID, domain.EventRunToolCall, map[string]any{
		"tool": req.Name, "args": req.Args, "approval_required": true,
	})
	e.progress(st, "wait_approval", "waiting", nil)

	select {
	case <-sig:
		slog.Info("approval granted", "run_id", st.runID, "tool", req.Name)
		st.needsOK = false
	case <-ctx.Done():
		slog.Error("approval timeout", "run_id", st.runID, "tool", req.Name)
		e.emitter.Emit(st.runID, domain.EventSecurityBlocked, map[string]any{
			"reason": ReasonApprovalTimeout, "tool": req.Name,
		})
		st.blocked = ReasonApprovalTimeout
		st.toolRequest = nil
		st.done = true
	}
}

func (e *Engine) nodeExecuteTool(ctx context.Context, st *runState) error {
	req := st.toolRequest
	if req == nil {
		return nil
	}

	e.progress(st, "execute_tool", "start", nil)
	e.emitter.Emit(st.runID, domain.EventRunToolCall, map[string]any{
		"tool": req.Name, "args": req.Args, "approval_required": false,
	})

	result, err := e.tools.Execute(ctx, req.Name, req.Args)
	st.toolRequest = nil

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		return errRunTimeout
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		slog.Error("tool timeout", "run_id", st.runID, "tool", req.Name)
		st.blocked = "tool_timeout"
	case err != nil:
		slog.Error("tool error", "run_id", st.runID, "tool", req.Name, "err", err)
		st.blocked = fmt.Sprintf("tool_error: %v", err)
	default:
		st.toolResult = map[string]any{"tool": req.Name, "result": result}
		st.messages = append(st.messages, Turn{
			Role:    "tool",
			Content: fmt.Sprintf("%s -> %v", req.Name, result),
		})
		e.progress(st, "execute_tool", "result", map[string]any{"tool": req.Name})
	}
	return nil
}

func (e *Engine) nodeDecideNext(st *runState) {
	e.progress(st, "decide_next", "start", nil)

	if len(st.outputChunks) > 0 {
		st.done = true
		e.emitter.Emit(st.runID, domain.EventRunOutput, map[string]any{
			"text": joinChunks(st.outputChunks),
		})
		return
	}

	if st.blocked != "" {
		// Routed to ask_clarification by the caller.
		return
	}

	if st.step >= e.maxSteps {
		slog.Info("max steps reached", "run_id", st.runID, "step", st.step)
		st.done = true
		st.outputChunks = append(st.outputChunks,
			"I've reached the maximum number of steps without completing the task.")
		return
	}

	st.step++
}

func (e *Engine) nodeAskClarification(st *runState) {
	e.progress(st, "ask_clarification", "start", nil)

	reason := st.blocked
	if reason == "" {
		reason = "unknown"
	}
	clarification := fmt.Sprintf(
		"I encountered an issue (%s) and couldn't complete the task. Could you provide more information or rephrase your request?",
		reason)

	st.outputChunks = append(st.outputChunks, clarification)
	st.done = true

	e.emitter.Emit(st.runID, domain.EventRunOutput, map[string]any{"text": clarification})
}

func joinChunks(chunks []string) string {
	return strings.Join(chunks, "\n")
}
