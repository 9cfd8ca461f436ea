package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zankora/agw/internal/agent"
	"github.com/zankora/agw/internal/domain"
)

// StartRun creates a queued run, assembles its context window, and launches
// it in the background. The returned run is the queued snapshot; progress
// arrives as events and the final state lands in the store.
func (g *Gateway) StartRun(ctx context.Context, chatID, channelID, requestedBy, prompt string) (domain.AgentRun, error) {
	run := domain.AgentRun{
		RunID:       domain.GenID("run"),
		ChatID:      chatID,
		ChannelID:   channelID,
		RequestedBy: requestedBy,
		Status:      domain.RunQueued,
	}

	repo := g.repository()
	if err := repo.SaveRun(ctx, run); err != nil {
		return domain.AgentRun{}, err
	}

	msgs, err := repo.ListMessages(ctx, chatID, g.cfg.Agent.MaxContextMessages)
	if err != nil {
		return domain.AgentRun{}, err
	}
	history := make([]agent.Turn, 0, len(msgs)+1)
	for _, m := range msgs {
		history = append(history, agent.Turn{Role: "user", Content: m.Text})
	}
	history = append(history, agent.Turn{Role: "user", Content: prompt})

	// Runs outlive the RPC that started them; they stop only with the
	// gateway itself.
	g.mu.Lock()
	runCtx := g.baseCtx
	g.mu.Unlock()
	if runCtx == nil {
		return domain.AgentRun{}, errNotStarted
	}
	g.runWG.Add(1)
	go g.runTask(runCtx, run, history)

	slog.Info("run queued", "run_id", run.RunID, "chat_id", chatID, "requested_by", requestedBy)
	return run, nil
}

// runTask drives one run to its terminal state, persists it, fires the
// post-run hooks, and emits the single authoritative run.completed event.
func (g *Gateway) runTask(ctx context.Context, run domain.AgentRun, history []agent.Turn) {
	defer g.runWG.Done()

	g.engine.Run(ctx, &run, history)

	if err := g.repository().SaveRun(context.Background(), run); err != nil {
		slog.Error("run persist failed", "run_id", run.RunID, "err", err)
	}

	for _, hook := range g.plugins.PostRunHooks() {
		hook(context.Background(), &run)
	}

	payload := map[string]any{
		"status":      run.Status,
		"summary":     run.Summary,
		"output_text": run.OutputText,
	}
	if run.Error != "" {
		payload["reason"] = run.Error
	}
	g.Emit(run.RunID, domain.EventRunCompleted, payload)

	if g.inst != nil {
		g.inst.AgentRuns.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", string(run.Status))))
		if run.StartedAt != nil && run.FinishedAt != nil {
			g.inst.RunLatency.Record(context.Background(),
				run.FinishedAt.Sub(*run.StartedAt).Seconds())
		}
	}
}

// GrantApproval releases a run waiting on a write-tool approval. Returns
// false when no such run is waiting.
func (g *Gateway) GrantApproval(runID string) bool {
	ok := g.engine.GrantApproval(runID)
	if ok {
		slog.Info("approval granted", "run_id", runID)
	}
	return ok
}

// PendingApprovals lists runs currently parked on approval.
func (g *Gateway) PendingApprovals() []agent.PendingApproval {
	return g.engine.PendingApprovals()
}

// WaitForRuns blocks until in-flight runs finish or the timeout expires.
// Used by tests and graceful shutdown paths that need a bound.
func (g *Gateway) WaitForRuns(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
