// Package domain holds the core data model shared across the gateway:
// channels, chats, messages, agent runs, events, tool specs, and the
// security policy. These types are what the repository persists and what
// the event bus carries.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChannelType enumerates supported chat transports.
type ChannelType string

const (
	ChannelWebchat          ChannelType = "webchat"
	ChannelTelegram         ChannelType = "telegram"
	ChannelWhatsAppBusiness ChannelType = "whatsapp_business"
	ChannelSlack            ChannelType = "slack"
	ChannelDiscord          ChannelType = "discord"
)

// ChannelStatus is the operational state reported by an adapter.
type ChannelStatus string

const (
	ChannelOffline     ChannelStatus = "offline"
	ChannelReady       ChannelStatus = "ready"
	ChannelError       ChannelStatus = "error"
	ChannelRateLimited ChannelStatus = "rate_limited"
)

// RunStatus is the lifecycle state of an agent run.
type RunStatus string

const (
	RunQueued          RunStatus = "queued"
	RunRunning         RunStatus = "running"
	RunApprovalPending RunStatus = "approval_pending"
	RunCompleted       RunStatus = "completed"
	RunFailed          RunStatus = "failed"
	RunTimeout         RunStatus = "timeout"
	RunCancelled       RunStatus = "cancelled"
)

// EventType identifies events on the bus and in the audit log.
type EventType string

const (
	EventMessageInbound  EventType = "message.inbound"
	EventRunProgress     EventType = "run.progress"
	EventRunToolCall     EventType = "run.tool_call"
	EventRunOutput       EventType = "run.output"
	EventRunCompleted    EventType = "run.completed"
	EventSecurityBlocked EventType = "security.blocked"
	EventChannelStatus   EventType = "channel.status"
)

// ToolPermission classifies a tool's side effects. Write tools may require
// human approval depending on policy.
type ToolPermission string

const (
	PermissionRead  ToolPermission = "read"
	PermissionWrite ToolPermission = "write"
)

// Sender gating policies for direct and group messages.
const (
	PolicyAllow         = "allow"
	PolicyDeny          = "deny"
	PolicyAllowlistOnly = "allowlist_only"
)

// Channel is a chat transport instance registered with the gateway.
type Channel struct {
	ID       string         `json:"id"`
	Type     ChannelType    `json:"type"`
	Status   ChannelStatus  `json:"status"`
	Config   map[string]any `json:"config"`
	LastSeen *time.Time     `json:"last_seen,omitempty"`
}

// Chat is a conversation context inside a channel, created lazily on first
// inbound message.
type Chat struct {
	ChatID       string         `json:"chat_id"`
	ChannelID    string         `json:"channel_id"`
	Participants []string       `json:"participants"`
	Metadata     map[string]any `json:"metadata"`
}

// Message is an append-only chat message.
type Message struct {
	MsgID       string         `json:"msg_id"`
	ChatID      string         `json:"chat_id"`
	ChannelID   string         `json:"channel_id"`
	SenderID    string         `json:"sender_id"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp"`
	Attachments []Attachment   `json:"attachments"`
	Metadata    map[string]any `json:"metadata"`
}

// Attachment describes a file attached to a message.
type Attachment struct {
	Kind      string         `json:"kind"`
	URL       string         `json:"url,omitempty"`
	Name      string         `json:"name,omitempty"`
	SizeBytes int64          `json:"size_bytes,omitempty"`
	SHA256    string         `json:"sha256,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AgentRun is one agent task instance. Created by the Gateway in queued
// state, mutated only by the engine while running, persisted again at the
// terminal state.
type AgentRun struct {
	RunID         string     `json:"run_id"`
	ChatID        string     `json:"chat_id"`
	ChannelID     string     `json:"channel_id"`
	RequestedBy   string     `json:"requested_by"`
	Status        RunStatus  `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	StepsExecuted int        `json:"steps_executed"`
	ToolsCalled   []string   `json:"tools_called"`
	OutputText    string     `json:"output_text,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Event is one entry of the process-wide audit log. Seq is minted by the
// event bus under a mutex and defines the canonical total order.
type Event struct {
	RunID   string         `json:"run_id,omitempty"`
	Seq     int64          `json:"seq"`
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload"`
	TS      time.Time      `json:"ts"`
}

// ToolSpec describes a tool to planners and to the policy engine. Names are
// dotted ("namespace.op") and unique per registry. Parameters is a JSON
// Schema object for the argument map.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Permission  ToolPermission `json:"permission"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Policy is the security policy evaluated on every inbound message and tool
// call. Empty policies deny everything.
type Policy struct {
	Allowlist   map[string][]string       `json:"allowlist"`
	DMPolicy    string                    `json:"dm_policy"`
	GroupPolicy string                    `json:"group_policy"`
	ToolAllow   map[string]ToolPermission `json:"tool_allow"`
	RateLimits  map[string]float64        `json:"rate_limits"`
}

// DefaultPolicy returns the deny-by-default policy: nothing allowlisted,
// DMs gated to the allowlist, groups denied.
func DefaultPolicy() Policy {
	return Policy{
		Allowlist:   map[string][]string{},
		DMPolicy:    PolicyAllowlistOnly,
		GroupPolicy: PolicyDeny,
		ToolAllow:   map[string]ToolPermission{},
		RateLimits:  map[string]float64{},
	}
}

// IsAllowedSender reports whether the sender appears on the channel's
// allowlist.
func (p Policy) IsAllowedSender(channelID, senderID string) bool {
	for _, s := range p.Allowlist[channelID] {
		if s == senderID {
			return true
		}
	}
	return false
}

// IsToolAllowed reports whether the tool name appears in the allow map.
func (p Policy) IsToolAllowed(name string) bool {
	_, ok := p.ToolAllow[name]
	return ok
}

// Clone returns a deep copy so config snapshots never alias live state.
func (p Policy) Clone() Policy {
	out := p
	out.Allowlist = make(map[string][]string, len(p.Allowlist))
	for k, v := range p.Allowlist {
		out.Allowlist[k] = append([]string(nil), v...)
	}
	out.ToolAllow = make(map[string]ToolPermission, len(p.ToolAllow))
	for k, v := range p.ToolAllow {
		out.ToolAllow[k] = v
	}
	out.RateLimits = make(map[string]float64, len(p.RateLimits))
	for k, v := range p.RateLimits {
		out.RateLimits[k] = v
	}
	return out
}

// GenID mints a prefixed identifier like "run_3f2a9c1d04be".
func GenID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
