package channels

import (
	"context"
	"time"

	"github.com/zankora/agw/internal/domain"
)

// WhatsAppBusiness is a skeleton adapter for the Meta Cloud API. Inbound
// would arrive through an HTTPS webhook, outbound through the /messages
// endpoint; credentials stay in channel config, never in code.
type WhatsAppBusiness struct {
	*base
}

// NewWhatsAppBusiness builds the whatsapp_business adapter.
func NewWhatsAppBusiness(ch domain.Channel) *WhatsAppBusiness {
	return &WhatsAppBusiness{base: newBase(ch, 30*time.Second)}
}

func (w *WhatsAppBusiness) Start(ctx context.Context, _ IngestFunc) error {
	w.base.start(ctx)
	return nil
}

// SendMessage would POST to the Graph API messages endpoint.
func (w *WhatsAppBusiness) SendMessage(context.Context, string, string) error { return nil }
