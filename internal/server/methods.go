package server

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/zankora/agw/internal/domain"
	"github.com/zankora/agw/pkg/protocol"
)

func (s *Server) handleHello(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	return map[string]any{
		"server":      ServerName,
		"version":     Version,
		"instance_id": s.cfg.InstanceID,
		"features":    []string{"rpc_ws", "event_stream", "plugins", "sqlite", "deny_by_default"},
	}, nil
}

func (s *Server) handleChannelsList(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	chs, err := s.gw.ListChannels(ctx)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return map[string]any{"channels": chs}, nil
}

func (s *Server) handleChatList(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	var p struct {
		ChannelID string `json:"channel_id"`
	}
	if perr := decode(payload, &p); perr != nil {
		return nil, perr
	}
	chats, err := s.gw.ListChats(ctx, p.ChannelID)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return map[string]any{"chats": chats}, nil
}

func (s *Server) handleChatMessages(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	var p struct {
		ChatID string `json:"chat_id"`
		Limit  int    `json:"limit"`
	}
	if perr := decode(payload, &p); perr != nil {
		return nil, perr
	}
	if p.ChatID == "" {
		return nil, protocol.BadRequest("chat_id is required")
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	msgs, err := s.gw.ListMessages(ctx, p.ChatID, p.Limit)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return map[string]any{"messages": msgs}, nil
}

func (s *Server) handleAgentRun(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	var p struct {
		ChatID      string `json:"chat_id"`
		ChannelID   string `json:"channel_id"`
		RequestedBy string `json:"requested_by"`
		Prompt      string `json:"prompt"`
	}
	if perr := decode(payload, &p); perr != nil {
		return nil, perr
	}
	if p.ChatID == "" || p.ChannelID == "" || p.Prompt == "" {
		return nil, protocol.BadRequest("chat_id, channel_id, and prompt are required")
	}
	if p.RequestedBy == "" {
		p.RequestedBy = "client"
	}
	run, err := s.gw.StartRun(ctx, p.ChatID, p.ChannelID, p.RequestedBy, p.Prompt)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return map[string]any{"run": run}, nil
}

func (s *Server) handleRunsTail(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	var p struct {
		RunID    string `json:"run_id"`
		AfterSeq int64  `json:"after_seq"`
	}
	if perr := decode(payload, &p); perr != nil {
		return nil, perr
	}
	evs, err := s.gw.TailEvents(ctx, p.RunID, p.AfterSeq, 200)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return map[string]any{"events": evs}, nil
}

func (s *Server) handleConfigGet(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	return map[string]any{
		"policy": s.gw.PolicySnapshot(),
		"tools":  s.gw.Tools().ListSpecs(),
		"agent":  s.cfg.Agent,
	}, nil
}

func (s *Server) handleConfigSet(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	var p struct {
		Policy *struct {
			Allowlist   map[string][]string              `json:"allowlist"`
			DMPolicy    *string                          `json:"dm_policy"`
			GroupPolicy *string                          `json:"group_policy"`
			ToolAllow   map[string]domain.ToolPermission `json:"tool_allow"`
		} `json:"policy"`
	}
	if perr := decode(payload, &p); perr != nil {
		return nil, perr
	}
	if p.Policy == nil {
		return nil, protocol.BadRequest("policy is required")
	}

	pol := s.gw.PolicySnapshot()
	if p.Policy.Allowlist != nil {
		pol.Allowlist = p.Policy.Allowlist
	}
	if p.Policy.ToolAllow != nil {
		pol.ToolAllow = p.Policy.ToolAllow
	}
	if p.Policy.DMPolicy != nil {
		pol.DMPolicy = *p.Policy.DMPolicy
	}
	if p.Policy.GroupPolicy != nil {
		pol.GroupPolicy = *p.Policy.GroupPolicy
	}
	s.gw.SetPolicy(pol)
	return map[string]any{"ok": true}, nil
}

func (s *Server) handleApprovalGrant(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	var p struct {
		RunID string `json:"run_id"`
	}
	if perr := decode(payload, &p); perr != nil {
		return nil, perr
	}
	if p.RunID == "" {
		return nil, protocol.BadRequest("run_id is required")
	}
	return map[string]any{"ok": s.gw.GrantApproval(p.RunID)}, nil
}

type finding struct {
	Severity string `json:"severity"`
	Issue    string `json:"issue"`
	Detail   string `json:"detail"`
}

type selfTest struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	Err  string `json:"err,omitempty"`
}

// handleDoctorAudit reviews the running configuration for risky settings
// and runs the plugin self-test commands.
func (s *Server) handleDoctorAudit(ctx context.Context, payload json.RawMessage) (any, *protocol.Error) {
	var findings []finding

	if s.cfg.Server.Host == "0.0.0.0" {
		findings = append(findings, finding{"high", "gateway_exposed",
			"host=0.0.0.0 binds all interfaces. Ensure firewall, TLS, and auth."})
	}
	if s.cfg.Security.RequireClientAuth && len(s.cfg.Security.ClientAPIKeys) == 0 {
		findings = append(findings, finding{"critical", "no_client_api_keys",
			"require_client_auth is enabled but no keys are configured; every connection is rejected."})
	}
	if !s.cfg.Security.RequireClientAuth {
		findings = append(findings, finding{"medium", "client_auth_disabled",
			"Control plane accepts unauthenticated connections. Fine for localhost only."})
	}
	if len(s.gw.PolicySnapshot().Allowlist) == 0 {
		findings = append(findings, finding{"high", "allowlist_empty",
			"Deny-by-default means all inbound is blocked; configure an allowlist if unintended."})
	}
	if !s.cfg.Security.RequireApprovalsForWriteTools {
		findings = append(findings, finding{"high", "write_tools_no_approval",
			"Write tools can execute without approvals. Recommended ON."})
	}
	if !s.cfg.Logging.JSONLogs {
		findings = append(findings, finding{"medium", "non_json_logs",
			"Prefer JSON logs for long-running operation."})
	}
	if loaded := s.gw.LoadedPlugins(); len(loaded) > 0 {
		findings = append(findings, finding{"low", "plugins_unsigned",
			"Plugins are trusted local code. Consider allowlisting plugin hashes."})
	}

	// Plugin commands double as self-tests.
	commands := s.gw.PluginCommands()
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	tests := make([]selfTest, 0, len(names))
	for _, name := range names {
		cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := commands[name](cmdCtx)
		cancel()
		st := selfTest{Name: name, OK: err == nil}
		if err != nil {
			st.Err = err.Error()
		}
		tests = append(tests, st)
	}

	return map[string]any{
		"findings":   findings,
		"self_tests": tests,
		"suggestions": []string{
			"Terminate TLS at a reverse proxy and keep the WS endpoint behind auth.",
			"Use separate API keys for human operators and automation clients.",
			"Run the gateway as a least-privilege user; restrict data_dir permissions.",
			"Rotate secrets and keep them out of the config file.",
		},
	}, nil
}
