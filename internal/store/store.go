// Package store defines the persistence contract. The gateway is the only
// writer; everything else reads through it.
package store

import (
	"context"

	"github.com/zankora/agw/internal/domain"
)

// Repository persists channels, chats, messages, runs, and the event audit
// log.
type Repository interface {
	UpsertChannel(ctx context.Context, ch domain.Channel) error
	GetChannel(ctx context.Context, id string) (domain.Channel, bool, error)
	ListChannels(ctx context.Context) ([]domain.Channel, error)

	UpsertChat(ctx context.Context, chat domain.Chat) error
	GetChat(ctx context.Context, chatID string) (domain.Chat, bool, error)
	ListChats(ctx context.Context, channelID string) ([]domain.Chat, error)

	AddMessage(ctx context.Context, msg domain.Message) error
	// ListMessages returns the newest limit messages of a chat in
	// chronological order.
	ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error)

	SaveRun(ctx context.Context, run domain.AgentRun) error
	GetRun(ctx context.Context, runID string) (domain.AgentRun, bool, error)

	AppendEvent(ctx context.Context, ev domain.Event) error
	// ListEvents returns events with seq greater than afterSeq, ascending,
	// optionally filtered by run id.
	ListEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error)
	// MaxSeq returns the highest persisted sequence number, 0 when empty.
	MaxSeq(ctx context.Context) (int64, error)

	Close() error
}
