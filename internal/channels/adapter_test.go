package channels

import (
	"context"
	"testing"

	"github.com/zankora/agw/internal/domain"
)

func TestAdapterLifecycle(t *testing.T) {
	adapters := []Adapter{
		NewWebChat(domain.Channel{ID: "ch_web", Type: domain.ChannelWebchat}),
		NewTelegram(domain.Channel{ID: "ch_tg", Type: domain.ChannelTelegram}),
		NewWhatsAppBusiness(domain.Channel{ID: "ch_wa", Type: domain.ChannelWhatsAppBusiness}),
	}
	for _, a := range adapters {
		if got := a.Channel().Status; got != domain.ChannelOffline {
			t.Fatalf("%s: status before start = %s, want offline", a.Channel().ID, got)
		}
		if err := a.Start(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
		ch := a.Channel()
		if ch.Status != domain.ChannelReady {
			t.Fatalf("%s: status after start = %s, want ready", ch.ID, ch.Status)
		}
		if ch.LastSeen == nil {
			t.Fatalf("%s: last_seen not set", ch.ID)
		}
		a.Stop()
		a.Stop() // idempotent
		if got := a.Channel().Status; got != domain.ChannelOffline {
			t.Fatalf("%s: status after stop = %s, want offline", a.Channel().ID, got)
		}
	}
}

func TestSendMessageNoop(t *testing.T) {
	w := NewWebChat(domain.Channel{ID: "ch_web", Type: domain.ChannelWebchat})
	if err := w.SendMessage(context.Background(), "chat", "hi"); err != nil {
		t.Fatal(err)
	}
}
