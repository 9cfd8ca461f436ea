package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zankora/agw/internal/domain"
	"github.com/zankora/agw/internal/security"
	"github.com/zankora/agw/internal/tools"
)

type recordedEvent struct {
	RunID   string
	Type    domain.EventType
	Payload map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Emit(runID string, etype domain.EventType, payload map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{RunID: runID, Type: etype, Payload: payload})
	r.mu.Unlock()
}

func (r *recorder) ofType(t domain.EventType) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// scriptedPlanner returns its results in order, repeating the last one.
type scriptedPlanner struct {
	mu      sync.Mutex
	results []*PlanResult
	errs    []error
	idx     int
}

func (p *scriptedPlanner) Plan(context.Context, []Turn, []domain.ToolSpec) (*PlanResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.idx
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.idx++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.results[i], err
}

// blockingPlanner blocks until the context expires.
type blockingPlanner struct{}

func (blockingPlanner) Plan(ctx context.Context, _ []Turn, _ []domain.ToolSpec) (*PlanResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func testPolicy(allow map[string]domain.ToolPermission, requireApprovals bool) *security.PolicyEngine {
	p := domain.DefaultPolicy()
	for name, perm := range allow {
		p.ToolAllow[name] = perm
	}
	return security.NewPolicyEngine(p, security.NewRateLimiter(100, 100), requireApprovals)
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		t.Fatal(err)
	}
	return reg
}

func newRun() *domain.AgentRun {
	return &domain.AgentRun{
		RunID:     domain.GenID("run"),
		ChatID:    "chat_1",
		ChannelID: "ch_web",
		Status:    domain.RunQueued,
	}
}

func TestSimpleEchoRun(t *testing.T) {
	rec := &recorder{}
	reg := testRegistry(t)
	policy := testPolicy(map[string]domain.ToolPermission{"core.echo": domain.PermissionRead}, true)
	eng := NewEngine(rec, reg, policy, MockPlanner{}, 8, 30*time.Second)

	run := newRun()
	eng.Run(context.Background(), run, []Turn{
		{Role: "user", Content: `tool:core.echo {"text":"hi"}`},
	})

	if run.Status != domain.RunCompleted {
		t.Fatalf("status = %s, want completed (%s)", run.Status, run.Summary)
	}
	if !strings.Contains(run.OutputText, "hi") {
		t.Fatalf("output %q does not contain echo", run.OutputText)
	}

	calls := rec.ofType(domain.EventRunToolCall)
	if len(calls) != 1 {
		t.Fatalf("tool_call events = %d, want 1", len(calls))
	}
	if calls[0].Payload["tool"] != "core.echo" || calls[0].Payload["approval_required"] != false {
		t.Fatalf("unexpected tool_call payload: %v", calls[0].Payload)
	}
	if outs := rec.ofType(domain.EventRunOutput); len(outs) != 1 {
		t.Fatalf("run.output events = %d, want 1", len(outs))
	}
}

func TestReadToolNoApprovalWait(t *testing.T) {
	rec := &recorder{}
	reg := testRegistry(t)
	if err := reg.Register(domain.ToolSpec{
		Name: "weather.get", Permission: domain.PermissionRead,
	}, func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"forecast": "cloudy, 14C"}, nil
	}); err != nil {
		t.Fatal(err)
	}
	policy := testPolicy(map[string]domain.ToolPermission{"weather.get": domain.PermissionRead}, true)

	planner := &scriptedPlanner{results: []*PlanResult{
		{ToolCalls: []ToolCall{{Name: "weather.get", Args: map[string]any{"city": "London"}}}},
		{Content: "It is cloudy in London, around 14C."},
	}}
	eng := NewEngine(rec, reg, policy, planner, 8, 30*time.Second)

	run := newRun()
	eng.Run(context.Background(), run, []Turn{{Role: "user", Content: "What's the weather in London?"}})

	if run.Status != domain.RunCompleted {
		t.Fatalf("status = %s (%s)", run.Status, run.Summary)
	}
	calls := rec.ofType(domain.EventRunToolCall)
	if len(calls) != 1 || calls[0].Payload["approval_required"] != false {
		t.Fatalf("unexpected tool calls: %v", calls)
	}
	if run.OutputText == "" {
		t.Fatal("empty output")
	}
}

func TestWriteToolApprovalTimeout(t *testing.T) {
	rec := &recorder{}
	reg := testRegistry(t)
	if err := reg.Register(domain.ToolSpec{
		Name: "notify.send", Permission: domain.PermissionWrite,
	}, func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"sent": true}, nil
	}); err != nil {
		t.Fatal(err)
	}
	policy := testPolicy(map[string]domain.ToolPermission{"notify.send": domain.PermissionWrite}, true)
	eng := NewEngine(rec, reg, policy, MockPlanner{}, 8, 300*time.Millisecond)

	run := newRun()
	eng.Run(context.Background(), run, []Turn{
		{Role: "user", Content: `tool:notify.send {"to":"ops"}`},
	})

	if run.Status != domain.RunFailed || run.Summary != "Approval timeout" {
		t.Fatalf("got %s / %q", run.Status, run.Summary)
	}
	if !strings.Contains(run.Error, "timeout") {
		t.Fatalf("reason %q does not mention timeout", run.Error)
	}

	calls := rec.ofType(domain.EventRunToolCall)
	if len(calls) != 1 || calls[0].Payload["approval_required"] != true {
		t.Fatalf("unexpected tool calls: %v", calls)
	}
	blocked := rec.ofType(domain.EventSecurityBlocked)
	if len(blocked) != 1 || blocked[0].Payload["reason"] != "approval_timeout" {
		t.Fatalf("unexpected blocked events: %v", blocked)
	}
	if len(eng.PendingApprovals()) != 0 {
		t.Fatal("pending approval not deregistered")
	}
}

func TestWriteToolApprovalGranted(t *testing.T) {
	rec := &recorder{}
	reg := testRegistry(t)
	if err := reg.Register(domain.ToolSpec{
		Name: "notify.send", Permission: domain.PermissionWrite,
	}, func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"sent": true}, nil
	}); err != nil {
		t.Fatal(err)
	}
	policy := testPolicy(map[string]domain.ToolPermission{"notify.send": domain.PermissionWrite}, true)
	eng := NewEngine(rec, reg, policy, MockPlanner{}, 8, 30*time.Second)

	run := newRun()
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(context.Background(), run, []Turn{
			{Role: "user", Content: `tool:notify.send {"to":"ops"}`},
		})
	}()

	// Wait until the run parks on the approval.
	deadline := time.After(5 * time.Second)
	for len(eng.PendingApprovals()) == 0 {
		select {
		case <-deadline:
			t.Fatal("run never requested approval")
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(100 * time.Millisecond)
	if !eng.GrantApproval(run.RunID) {
		t.Fatal("grant found no waiter")
	}
	<-done

	if run.Status != domain.RunCompleted {
		t.Fatalf("status = %s (%s)", run.Status, run.Summary)
	}
	calls := rec.ofType(domain.EventRunToolCall)
	if len(calls) != 2 {
		t.Fatalf("tool_call events = %d, want 2", len(calls))
	}
	if calls[0].Payload["approval_required"] != true || calls[1].Payload["approval_required"] != false {
		t.Fatalf("unexpected approval flags: %v", calls)
	}
	if len(rec.ofType(domain.EventRunOutput)) != 1 {
		t.Fatal("missing run.output")
	}
}

func TestToolNotAllowedClarifies(t *testing.T) {
	rec := &recorder{}
	eng := NewEngine(rec, testRegistry(t), testPolicy(nil, true), MockPlanner{}, 8, 30*time.Second)

	run := newRun()
	eng.Run(context.Background(), run, []Turn{
		{Role: "user", Content: `tool:core.echo {"text":"hi"}`},
	})

	if run.Status != domain.RunCompleted {
		t.Fatalf("status = %s (%s)", run.Status, run.Summary)
	}
	blocked := rec.ofType(domain.EventSecurityBlocked)
	if len(blocked) != 1 || blocked[0].Payload["reason"] != "tool_not_allowed" {
		t.Fatalf("unexpected blocked events: %v", blocked)
	}
	outs := rec.ofType(domain.EventRunOutput)
	if len(outs) != 1 {
		t.Fatalf("run.output events = %d, want 1", len(outs))
	}
	if !strings.Contains(run.OutputText, "tool_not_allowed") {
		t.Fatalf("clarification missing reason: %q", run.OutputText)
	}
	if !strings.Contains(run.Summary, "tool_not_allowed") {
		t.Fatalf("summary = %q", run.Summary)
	}
}

func TestUnknownToolClarifies(t *testing.T) {
	rec := &recorder{}
	eng := NewEngine(rec, testRegistry(t), testPolicy(nil, true), MockPlanner{}, 8, 30*time.Second)

	run := newRun()
	eng.Run(context.Background(), run, []Turn{
		{Role: "user", Content: `tool:foo.bar {}`},
	})

	blocked := rec.ofType(domain.EventSecurityBlocked)
	if len(blocked) != 1 || blocked[0].Payload["reason"] != "tool_missing" {
		t.Fatalf("unexpected blocked events: %v", blocked)
	}
	if !strings.Contains(run.OutputText, "tool_missing") {
		t.Fatalf("output %q", run.OutputText)
	}
}

func TestMaxStepsBound(t *testing.T) {
	rec := &recorder{}
	reg := testRegistry(t)
	policy := testPolicy(map[string]domain.ToolPermission{"core.echo": domain.PermissionRead}, false)

	// Planner that always requests a tool, never produces content.
	planner := &scriptedPlanner{results: []*PlanResult{
		{ToolCalls: []ToolCall{{Name: "core.echo", Args: map[string]any{"text": "loop"}}}},
	}}
	eng := NewEngine(rec, reg, policy, planner, 1, 30*time.Second)

	run := newRun()
	eng.Run(context.Background(), run, []Turn{{Role: "user", Content: "loop forever"}})

	if run.Status != domain.RunCompleted {
		t.Fatalf("status = %s (%s)", run.Status, run.Summary)
	}
	if !strings.Contains(run.OutputText, "maximum number of steps") {
		t.Fatalf("output %q", run.OutputText)
	}
	if run.StepsExecuted != 1 {
		t.Fatalf("steps = %d, want 1", run.StepsExecuted)
	}
}

func TestRunTimeoutDuringPlanning(t *testing.T) {
	rec := &recorder{}
	eng := NewEngine(rec, testRegistry(t), testPolicy(nil, true), blockingPlanner{}, 8, 100*time.Millisecond)

	run := newRun()
	eng.Run(context.Background(), run, []Turn{{Role: "user", Content: "anything"}})

	if run.Status != domain.RunFailed || run.Summary != "Timeout" {
		t.Fatalf("got %s / %q", run.Status, run.Summary)
	}
	if run.Error != ReasonTimeout {
		t.Fatalf("reason = %q", run.Error)
	}
	if run.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
}

func TestPlannerErrorClarifies(t *testing.T) {
	rec := &recorder{}
	planner := &scriptedPlanner{
		results: []*PlanResult{nil},
		errs:    []error{context.Canceled},
	}
	eng := NewEngine(rec, testRegistry(t), testPolicy(nil, true), planner, 8, 30*time.Second)

	run := newRun()
	eng.Run(context.Background(), run, []Turn{{Role: "user", Content: "hello"}})

	if run.Status != domain.RunCompleted {
		t.Fatalf("status = %s (%s)", run.Status, run.Summary)
	}
	if !strings.Contains(run.Summary, "planning_error") {
		t.Fatalf("summary = %q", run.Summary)
	}
}

func TestGrantApprovalNoWaiter(t *testing.T) {
	eng := NewEngine(&recorder{}, testRegistry(t), testPolicy(nil, true), MockPlanner{}, 8, time.Second)
	if eng.GrantApproval("run_nope") {
		t.Fatal("grant succeeded with no waiter")
	}
}

func TestMockPlannerParsing(t *testing.T) {
	p := MockPlanner{}
	res, err := p.Plan(context.Background(), []Turn{
		{Role: "user", Content: `tool:core.echo {"text":"hi"}`},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "core.echo" {
		t.Fatalf("got %+v", res)
	}
	if res.ToolCalls[0].Args["text"] != "hi" {
		t.Fatalf("args = %v", res.ToolCalls[0].Args)
	}

	res, _ = p.Plan(context.Background(), []Turn{
		{Role: "user", Content: "tool:x.y not-json"},
	}, nil)
	if res.ToolCalls[0].Args["text"] != "invalid_json_args" {
		t.Fatalf("bad json args = %v", res.ToolCalls[0].Args)
	}

	res, _ = p.Plan(context.Background(), []Turn{
		{Role: "user", Content: "just chatting"},
	}, nil)
	if len(res.ToolCalls) != 0 || !strings.Contains(res.Content, "just chatting") {
		t.Fatalf("got %+v", res)
	}
}
