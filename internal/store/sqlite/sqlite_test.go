package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/zankora/agw/internal/domain"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "agw.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestChannelRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	ch := domain.Channel{
		ID:       "ch_web",
		Type:     domain.ChannelWebchat,
		Status:   domain.ChannelReady,
		Config:   map[string]any{"greeting": "hi"},
		LastSeen: &now,
	}
	if err := repo.UpsertChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}

	got, ok, err := repo.GetChannel(ctx, "ch_web")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Type != domain.ChannelWebchat || got.Status != domain.ChannelReady {
		t.Fatalf("got %+v", got)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(now) {
		t.Fatalf("last_seen = %v, want %v", got.LastSeen, now)
	}

	// Upsert updates in place.
	ch.Status = domain.ChannelOffline
	if err := repo.UpsertChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}
	all, err := repo.ListChannels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Status != domain.ChannelOffline {
		t.Fatalf("got %+v", all)
	}

	if _, ok, _ := repo.GetChannel(ctx, "ch_missing"); ok {
		t.Fatal("missing channel reported present")
	}
}

func TestMessagesChronologicalWindow(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertChannel(ctx, domain.Channel{ID: "ch_web", Type: domain.ChannelWebchat, Status: domain.ChannelReady}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertChat(ctx, domain.Chat{ChatID: "chat_1", ChannelID: "ch_web"}); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		msg := domain.Message{
			MsgID:     fmt.Sprintf("msg_%02d", i),
			ChatID:    "chat_1",
			ChannelID: "ch_web",
			SenderID:  "alice",
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.AddMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := repo.ListMessages(ctx, "chat_1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Newest three, oldest first.
	if msgs[0].Text != "message 7" || msgs[2].Text != "message 9" {
		t.Fatalf("window wrong: %q .. %q", msgs[0].Text, msgs[2].Text)
	}
}

func TestRunRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	run := domain.AgentRun{
		RunID:       "run_abc",
		ChatID:      "chat_1",
		ChannelID:   "ch_web",
		RequestedBy: "alice",
		Status:      domain.RunQueued,
	}
	if err := repo.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	start := time.Now().UTC().Truncate(time.Millisecond)
	run.Status = domain.RunCompleted
	run.StartedAt = &start
	run.StepsExecuted = 2
	run.ToolsCalled = []string{"core.echo"}
	run.OutputText = "done"
	run.Summary = "Completed successfully"
	if err := repo.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, ok, err := repo.GetRun(ctx, "run_abc")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.RunCompleted || got.StepsExecuted != 2 || got.OutputText != "done" {
		t.Fatalf("got %+v", got)
	}
	if len(got.ToolsCalled) != 1 || got.ToolsCalled[0] != "core.echo" {
		t.Fatalf("tools_called = %v", got.ToolsCalled)
	}
}

func TestEventsFilterAndMaxSeq(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		runID := "run_a"
		if i%2 == 0 {
			runID = "run_b"
		}
		ev := domain.Event{
			RunID:   runID,
			Seq:     i,
			Type:    domain.EventRunProgress,
			Payload: map[string]any{"step": i},
			TS:      time.Now().UTC(),
		}
		if err := repo.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	evs, err := repo.ListEvents(ctx, "run_a", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 3 {
		t.Fatalf("run_a events = %d, want 3", len(evs))
	}
	for i := 1; i < len(evs); i++ {
		if evs[i].Seq <= evs[i-1].Seq {
			t.Fatalf("out of order: %v", evs)
		}
	}

	evs, err = repo.ListEvents(ctx, "", 3, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 || evs[0].Seq != 4 {
		t.Fatalf("afterSeq filter wrong: %v", evs)
	}

	maxSeq, err := repo.MaxSeq(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if maxSeq != 5 {
		t.Fatalf("maxSeq = %d, want 5", maxSeq)
	}
}

func TestMaxSeqEmpty(t *testing.T) {
	repo := openTestRepo(t)
	maxSeq, err := repo.MaxSeq(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if maxSeq != 0 {
		t.Fatalf("maxSeq = %d, want 0", maxSeq)
	}
}
