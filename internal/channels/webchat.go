package channels

import (
	"context"
	"time"

	"github.com/zankora/agw/internal/domain"
)

// WebChat is the in-process channel. Inbound messages arrive through the
// control-plane RPC rather than a transport, and outbound delivery happens
// as pushed events, so the adapter itself only tracks liveness.
type WebChat struct {
	*base
}

// NewWebChat builds the webchat adapter.
func NewWebChat(ch domain.Channel) *WebChat {
	return &WebChat{base: newBase(ch, 5*time.Second)}
}

func (w *WebChat) Start(ctx context.Context, _ IngestFunc) error {
	w.base.start(ctx)
	return nil
}

// SendMessage is a no-op: webchat outbound rides the event stream.
func (w *WebChat) SendMessage(context.Context, string, string) error { return nil }
