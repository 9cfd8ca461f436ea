// Package security implements the gateway's gatekeeping: the deny-by-default
// policy engine, per-principal rate limiting, input sanitization, and
// constant-time client auth.
package security

import (
	"fmt"
	"sync"

	"github.com/zankora/agw/internal/domain"
)

// Decision reasons surfaced in security.blocked events and logs.
const (
	ReasonOK                 = "ok"
	ReasonSenderNotAllowed   = "sender_not_allowlisted"
	ReasonDMBlocked          = "dm_blocked"
	ReasonGroupBlocked       = "group_blocked"
	ReasonRateLimited        = "rate_limited"
	ReasonToolNotAllowed     = "tool_not_allowed"
)

// PolicyEngine evaluates the active policy for senders and tool calls.
// The policy is swappable at runtime via SetPolicy (config.set).
type PolicyEngine struct {
	mu                            sync.RWMutex
	policy                        domain.Policy
	rate                          *RateLimiter
	requireApprovalsForWriteTools bool
}

// NewPolicyEngine builds an engine over the given policy and limiter.
func NewPolicyEngine(policy domain.Policy, rate *RateLimiter, requireApprovals bool) *PolicyEngine {
	return &PolicyEngine{
		policy:                        policy.Clone(),
		rate:                          rate,
		requireApprovalsForWriteTools: requireApprovals,
	}
}

// Policy returns a copy of the active policy.
func (e *PolicyEngine) Policy() domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Clone()
}

// SetPolicy atomically replaces the active policy.
func (e *PolicyEngine) SetPolicy(p domain.Policy) {
	e.mu.Lock()
	e.policy = p.Clone()
	e.mu.Unlock()
}

// AllowSender gates an inbound message. Checks run in a fixed order:
// allowlist first, then dm/group policy, then the rate limiter. The rate
// bucket is only charged once the cheaper checks pass.
func (e *PolicyEngine) AllowSender(channelID, senderID string, isDM, isGroup bool) (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.policy.IsAllowedSender(channelID, senderID) {
		return false, ReasonSenderNotAllowed
	}
	if isDM && e.policy.DMPolicy != domain.PolicyAllow {
		return false, ReasonDMBlocked
	}
	if isGroup && e.policy.GroupPolicy != domain.PolicyAllow {
		return false, ReasonGroupBlocked
	}
	if !e.rate.Allow(fmt.Sprintf("sender:%s:%s", channelID, senderID)) {
		return false, ReasonRateLimited
	}
	return true, ReasonOK
}

// AllowTool gates a tool invocation. Tools are deny-by-default; write tools
// may additionally require a human approval.
func (e *PolicyEngine) AllowTool(spec domain.ToolSpec) (ok bool, reason string, needsApproval bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.policy.IsToolAllowed(spec.Name) {
		return false, ReasonToolNotAllowed, false
	}
	if spec.Permission == domain.PermissionWrite && e.requireApprovalsForWriteTools {
		return true, ReasonOK, true
	}
	return true, ReasonOK, false
}

// RequireApprovals reports whether write tools need human approval.
func (e *PolicyEngine) RequireApprovals() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.requireApprovalsForWriteTools
}
