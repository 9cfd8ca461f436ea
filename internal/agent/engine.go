package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zankora/agw/internal/domain"
	"github.com/zankora/agw/internal/security"
	"github.com/zankora/agw/internal/tools"
)

// Terminal reasons reported alongside a failed run.
const (
	ReasonTimeout         = "timeout"
	ReasonApprovalTimeout = "approval_timeout"
)

// Emitter publishes run events. The gateway implements it by stamping a
// sequence number, persisting, and fanning out on the bus.
type Emitter interface {
	Emit(runID string, etype domain.EventType, payload map[string]any)
}

// PendingApproval records a run waiting for human sign-off.
type PendingApproval struct {
	RunID       string         `json:"run_id"`
	ToolName    string         `json:"tool_name"`
	ToolArgs    map[string]any `json:"tool_args"`
	RequestedAt time.Time      `json:"requested_at"`
}

// Engine drives agent runs. It mutates only the in-memory run object it is
// handed; all persistence stays with the caller.
type Engine struct {
	emitter  Emitter
	tools    *tools.Registry
	policy   *security.PolicyEngine
	planner  Planner
	maxSteps int
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]PendingApproval
	signals map[string]chan struct{}
}

// NewEngine builds an engine. A nil planner defaults to the mock.
func NewEngine(emitter Emitter, reg *tools.Registry, policy *security.PolicyEngine, planner Planner, maxSteps int, timeout time.Duration) *Engine {
	if planner == nil {
		planner = MockPlanner{}
	}
	if maxSteps < 1 {
		maxSteps = 1
	}
	return &Engine{
		emitter:  emitter,
		tools:    reg,
		policy:   policy,
		planner:  planner,
		maxSteps: maxSteps,
		timeout:  timeout,
		pending:  make(map[string]PendingApproval),
		signals:  make(map[string]chan struct{}),
	}
}

// runState is the per-run object carried through the state machine.
type runState struct {
	runID        string
	messages     []Turn
	step         int
	plan         string
	toolRequest  *ToolCall
	toolResult   map[string]any
	outputChunks []string
	needsOK      bool
	blocked      string
	done         bool
}

// errRunTimeout aborts the state machine when the global budget expires.
var errRunTimeout = errors.New("run timeout")

// Run executes the state machine for run with the given history. It sets
// the run's terminal status, summary, output, steps, and finished_at; the
// caller persists the result and emits the single run.completed event.
func (e *Engine) Run(ctx context.Context, run *domain.AgentRun, history []Turn) {
	start := time.Now().UTC()
	run.StartedAt = &start
	run.Status = domain.RunRunning

	e.emitter.Emit(run.RunID, domain.EventRunProgress, map[string]any{
		"status": "started", "at": start.Format(time.RFC3339Nano), "engine": "agent",
	})

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	st := &runState{
		runID:    run.RunID,
		messages: append([]Turn(nil), history...),
		step:     1,
	}

	err := e.runGraph(runCtx, st)

	end := time.Now().UTC()
	run.FinishedAt = &end
	run.StepsExecuted = st.step
	run.OutputText = joinChunks(st.outputChunks)

	switch {
	case err != nil:
		run.Status = domain.RunFailed
		if errors.Is(err, errRunTimeout) {
			run.Summary = "Timeout"
			run.Error = ReasonTimeout
			slog.Error("run timed out", "run_id", run.RunID)
		} else {
			run.Summary = fmt.Sprintf("Failed: %v", err)
			run.Error = err.Error()
			slog.Error("run failed", "run_id", run.RunID, "err", err)
		}
	case st.blocked == ReasonApprovalTimeout:
		run.Status = domain.RunFailed
		run.Summary = "Approval timeout"
		run.Error = ReasonApprovalTimeout
	case st.blocked != "":
		run.Status = domain.RunCompleted
		run.Summary = "Completed with issues: " + st.blocked
	default:
		run.Status = domain.RunCompleted
		run.Summary = "Completed successfully"
	}

	slog.Info("run finished", "run_id", run.RunID, "status", run.Status, "steps", st.step)
}

// runGraph walks the node graph until finalize. Returns errRunTimeout when
// the global budget expires mid-node.
func (e *Engine) runGraph(ctx context.Context, st *runState) error {
	e.nodeBuildContext(st)

	for {
		if err := e.nodePlan(ctx, st); err != nil {
			return err
		}

		if st.toolRequest != nil {
			e.nodePolicyCheck(st)
			if st.toolRequest != nil && st.blocked == "" {
				if st.needsOK {
					e.nodeWaitApproval(ctx, st)
				}
				if err := e.nodeExecuteTool(ctx, st); err != nil {
					return err
				}
			}
		}

		e.nodeDecideNext(st)

		if st.done {
			break
		}
		if st.blocked != "" && len(st.outputChunks) == 0 {
			e.nodeAskClarification(st)
			break
		}
	}

	e.emitter.Emit(st.runID, domain.EventRunProgress, map[string]any{
		"node": "finalize", "phase": "start", "step": st.step,
	})
	return nil
}
