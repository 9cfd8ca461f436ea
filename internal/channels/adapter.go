// Package channels defines the channel adapter contract and the built-in
// adapter skeletons. Adapters are owned by the Gateway and reach back into
// it only through the ingest callback they are handed at start.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/zankora/agw/internal/domain"
)

// InboundEnvelope is what an adapter hands the gateway for each received
// message, before sanitization or policy.
type InboundEnvelope struct {
	ChannelID   string
	ChatID      string
	SenderID    string
	Text        string
	IsDM        bool
	IsGroup     bool
	Attachments []domain.Attachment
	Metadata    map[string]any
}

// IngestFunc is the gateway's inbound entry point.
type IngestFunc func(ctx context.Context, env InboundEnvelope) error

// Adapter is a running channel transport.
type Adapter interface {
	// Start brings the transport up and begins delivering inbound messages
	// through ingest. It returns once the adapter is running.
	Start(ctx context.Context, ingest IngestFunc) error
	// Stop shuts the transport down. Idempotent.
	Stop()
	// SendMessage delivers outbound text to a chat.
	SendMessage(ctx context.Context, chatID, text string) error
	// Channel returns a snapshot of the adapter's channel record.
	Channel() domain.Channel
}

// base carries the lifecycle shared by the skeleton adapters: a heartbeat
// loop that flips status offline -> ready and keeps last_seen fresh.
type base struct {
	mu        sync.Mutex
	channel   domain.Channel
	cancel    context.CancelFunc
	heartbeat time.Duration
}

func newBase(ch domain.Channel, heartbeat time.Duration) *base {
	ch.Status = domain.ChannelOffline
	return &base{channel: ch, heartbeat: heartbeat}
}

func (b *base) Channel() domain.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

func (b *base) markReady() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel == nil {
		// Stopped between ticks.
		return
	}
	now := time.Now().UTC()
	b.channel.Status = domain.ChannelReady
	b.channel.LastSeen = &now
}

func (b *base) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	b.markReady()

	go func() {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.markReady()
			}
		}
	}()
}

func (b *base) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.channel.Status = domain.ChannelOffline
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
