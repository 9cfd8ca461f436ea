// Package sqlite implements store.Repository on a local SQLite file using
// the pure-Go driver. Schema setup runs embedded migrations at open time.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/zankora/agw/internal/domain"
	"github.com/zankora/agw/internal/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Repo is the SQLite-backed repository. A single connection serializes all
// writers, avoiding SQLITE_BUSY from concurrent run tasks.
type Repo struct {
	db *sql.DB
}

var _ store.Repository = (*Repo)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Repo{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (r *Repo) Close() error { return r.db.Close() }

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (r *Repo) UpsertChannel(ctx context.Context, ch domain.Channel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (id, type, status, config, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			config = excluded.config,
			last_seen = excluded.last_seen`,
		ch.ID, string(ch.Type), string(ch.Status), marshalJSON(ch.Config), fmtTimePtr(ch.LastSeen))
	return err
}

func scanChannel(row interface{ Scan(...any) error }) (domain.Channel, error) {
	var ch domain.Channel
	var typ, status, config string
	var lastSeen sql.NullString
	if err := row.Scan(&ch.ID, &typ, &status, &config, &lastSeen); err != nil {
		return ch, err
	}
	ch.Type = domain.ChannelType(typ)
	ch.Status = domain.ChannelStatus(status)
	ch.LastSeen = timePtr(lastSeen)
	if err := json.Unmarshal([]byte(config), &ch.Config); err != nil {
		ch.Config = map[string]any{}
	}
	return ch, nil
}

func (r *Repo) GetChannel(ctx context.Context, id string) (domain.Channel, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, type, status, config, last_seen FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, false, nil
	}
	if err != nil {
		return domain.Channel{}, false, err
	}
	return ch, true, nil
}

func (r *Repo) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, status, config, last_seen FROM channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertChat(ctx context.Context, chat domain.Chat) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chats (chat_id, channel_id, participants, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			participants = excluded.participants,
			metadata = excluded.metadata`,
		chat.ChatID, chat.ChannelID, marshalJSON(chat.Participants), marshalJSON(chat.Metadata))
	return err
}

func scanChat(row interface{ Scan(...any) error }) (domain.Chat, error) {
	var c domain.Chat
	var participants, metadata string
	if err := row.Scan(&c.ChatID, &c.ChannelID, &participants, &metadata); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		c.Participants = nil
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		c.Metadata = map[string]any{}
	}
	return c, nil
}

func (r *Repo) GetChat(ctx context.Context, chatID string) (domain.Chat, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT chat_id, channel_id, participants, metadata FROM chats WHERE chat_id = ?`, chatID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Chat{}, false, nil
	}
	if err != nil {
		return domain.Chat{}, false, err
	}
	return c, true, nil
}

func (r *Repo) ListChats(ctx context.Context, channelID string) ([]domain.Chat, error) {
	query := `SELECT chat_id, channel_id, participants, metadata FROM chats`
	args := []any{}
	if channelID != "" {
		query += ` WHERE channel_id = ?`
		args = append(args, channelID)
	}
	query += ` ORDER BY chat_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) AddMessage(ctx context.Context, msg domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (msg_id, chat_id, channel_id, sender_id, text, ts, attachments, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MsgID, msg.ChatID, msg.ChannelID, msg.SenderID, msg.Text,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
		marshalJSON(msg.Attachments), marshalJSON(msg.Metadata))
	return err
}

func (r *Repo) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Newest N, then reverse to chronological.
	rows, err := r.db.QueryContext(ctx, `
		SELECT msg_id, chat_id, channel_id, sender_id, text, ts, attachments, metadata
		FROM messages WHERE chat_id = ?
		ORDER BY ts DESC, msg_id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var ts, attachments, metadata string
		if err := rows.Scan(&m.MsgID, &m.ChatID, &m.ChannelID, &m.SenderID, &m.Text,
			&ts, &attachments, &metadata); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.Timestamp = t
		}
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			m.Attachments = nil
		}
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			m.Metadata = map[string]any{}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *Repo) SaveRun(ctx context.Context, run domain.AgentRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_runs
			(run_id, chat_id, channel_id, requested_by, status, started_at, finished_at,
			 steps_executed, tools_called, output_text, summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			steps_executed = excluded.steps_executed,
			tools_called = excluded.tools_called,
			output_text = excluded.output_text,
			summary = excluded.summary,
			error = excluded.error`,
		run.RunID, run.ChatID, run.ChannelID, run.RequestedBy, string(run.Status),
		fmtTimePtr(run.StartedAt), fmtTimePtr(run.FinishedAt),
		run.StepsExecuted, marshalJSON(run.ToolsCalled), run.OutputText, run.Summary, run.Error)
	return err
}

func (r *Repo) GetRun(ctx context.Context, runID string) (domain.AgentRun, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, chat_id, channel_id, requested_by, status, started_at, finished_at,
		       steps_executed, tools_called, output_text, summary, error
		FROM agent_runs WHERE run_id = ?`, runID)

	var run domain.AgentRun
	var status, toolsCalled string
	var startedAt, finishedAt sql.NullString
	err := row.Scan(&run.RunID, &run.ChatID, &run.ChannelID, &run.RequestedBy, &status,
		&startedAt, &finishedAt, &run.StepsExecuted, &toolsCalled,
		&run.OutputText, &run.Summary, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AgentRun{}, false, nil
	}
	if err != nil {
		return domain.AgentRun{}, false, err
	}
	run.Status = domain.RunStatus(status)
	run.StartedAt = timePtr(startedAt)
	run.FinishedAt = timePtr(finishedAt)
	if err := json.Unmarshal([]byte(toolsCalled), &run.ToolsCalled); err != nil {
		run.ToolsCalled = nil
	}
	return run, true, nil
}

func (r *Repo) AppendEvent(ctx context.Context, ev domain.Event) error {
	var runID any
	if ev.RunID != "" {
		runID = ev.RunID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (seq, run_id, type, payload, ts) VALUES (?, ?, ?, ?, ?)`,
		ev.Seq, runID, string(ev.Type), marshalJSON(ev.Payload),
		ev.TS.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *Repo) ListEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT seq, run_id, type, payload, ts FROM events WHERE seq > ?`
	args := []any{afterSeq}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var runID sql.NullString
		var typ, payload, ts string
		if err := rows.Scan(&ev.Seq, &runID, &typ, &payload, &ts); err != nil {
			return nil, err
		}
		ev.RunID = runID.String
		ev.Type = domain.EventType(typ)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			ev.Payload = map[string]any{}
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.TS = t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repo) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
