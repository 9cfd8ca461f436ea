package channels

import (
	"context"
	"time"

	"github.com/zankora/agw/internal/domain"
)

// Telegram is a skeleton adapter. A real deployment would long-poll or
// register a webhook and map updates onto InboundEnvelope; this one only
// exercises the lifecycle so the channel shows up with live status.
type Telegram struct {
	*base
}

// NewTelegram builds the telegram adapter.
func NewTelegram(ch domain.Channel) *Telegram {
	return &Telegram{base: newBase(ch, 30*time.Second)}
}

func (t *Telegram) Start(ctx context.Context, _ IngestFunc) error {
	t.base.start(ctx)
	return nil
}

// SendMessage would POST to the Bot API sendMessage endpoint.
func (t *Telegram) SendMessage(context.Context, string, string) error { return nil }
