package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zankora/agw/internal/channels"
	"github.com/zankora/agw/internal/domain"
	"github.com/zankora/agw/internal/security"
)

// IngestInbound is the single entry point for messages arriving from any
// channel adapter. Order is fixed: sanitize, sender policy, plugin hooks,
// persist, then the message.inbound event. A policy denial drops the
// message and leaves only a security.blocked event behind.
func (g *Gateway) IngestInbound(ctx context.Context, env channels.InboundEnvelope) error {
	cleaned, issues := security.Sanitize(env.Text)

	ok, reason := g.policy.AllowSender(env.ChannelID, env.SenderID, env.IsDM, env.IsGroup)
	if !ok {
		slog.Warn("inbound blocked",
			"channel_id", env.ChannelID, "sender_id", env.SenderID, "reason", reason)
		if g.inst != nil {
			g.inst.BlockedActions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		}
		g.Emit("", domain.EventSecurityBlocked, map[string]any{
			"reason":     reason,
			"channel_id": env.ChannelID,
			"sender_id":  env.SenderID,
		})
		return nil
	}

	meta := make(map[string]any, len(env.Metadata)+1)
	for k, v := range env.Metadata {
		meta[k] = v
	}
	if len(issues) > 0 {
		meta["sanitize_issues"] = issues
	}

	msg := domain.Message{
		MsgID:       domain.GenID("msg"),
		ChatID:      env.ChatID,
		ChannelID:   env.ChannelID,
		SenderID:    env.SenderID,
		Text:        cleaned,
		Timestamp:   time.Now().UTC(),
		Attachments: env.Attachments,
		Metadata:    meta,
	}

	for _, hook := range g.plugins.PreMessageHooks() {
		if err := hook(ctx, &msg); err != nil {
			// Hooks annotate; a broken hook must not lose the message.
			slog.Warn("pre-message hook failed", "msg_id", msg.MsgID, "err", err)
		}
	}

	repo := g.repository()
	chat := domain.Chat{
		ChatID:       env.ChatID,
		ChannelID:    env.ChannelID,
		Participants: []string{env.SenderID},
		Metadata:     env.Metadata,
	}
	if err := repo.UpsertChat(ctx, chat); err != nil {
		return err
	}
	if err := repo.AddMessage(ctx, msg); err != nil {
		return err
	}

	if g.inst != nil {
		g.inst.InboundTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("channel_type", string(g.channelType(env.ChannelID)))))
	}
	g.Emit("", domain.EventMessageInbound, map[string]any{"message": msg})
	return nil
}

func (g *Gateway) channelType(channelID string) domain.ChannelType {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.adapters[channelID]; ok {
		return a.Channel().Type
	}
	return "unknown"
}
