// Package gateway implements the single authority of the system. The
// Gateway owns the channel adapters, the policy engine, the tool and plugin
// registries, the persistence layer, and the agent engine; every event in
// the system is minted, persisted, and published by it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zankora/agw/internal/agent"
	"github.com/zankora/agw/internal/bus"
	"github.com/zankora/agw/internal/channels"
	"github.com/zankora/agw/internal/config"
	"github.com/zankora/agw/internal/domain"
	"github.com/zankora/agw/internal/metrics"
	"github.com/zankora/agw/internal/plugins"
	"github.com/zankora/agw/internal/security"
	"github.com/zankora/agw/internal/store"
	"github.com/zankora/agw/internal/store/sqlite"
	"github.com/zankora/agw/internal/tools"
)

// Gateway is the process authority. External access goes through the WS
// control plane; adapters reach back in only via IngestInbound.
type Gateway struct {
	cfg     *config.Config
	bus     *bus.Bus
	policy  *security.PolicyEngine
	tools   *tools.Registry
	plugins *plugins.Registry
	engine  *agent.Engine
	inst    *metrics.Instruments

	mu       sync.Mutex
	repo     store.Repository
	adapters map[string]channels.Adapter
	loaded   []plugins.LoadedPlugin
	lockHeld bool
	started  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	runWG   sync.WaitGroup
}

// New wires a Gateway from configuration. Start must be called before use.
// A nil planner selects the built-in mock; inst may be nil in tests.
func New(cfg *config.Config, planner agent.Planner, inst *metrics.Instruments) *Gateway {
	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		// Only possible with duplicate builtin names, which is a bug.
		slog.Error("builtin tool registration failed", "err", err)
	}

	pol := security.NewPolicyEngine(
		cfg.Security.Policy,
		security.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst),
		cfg.Security.RequireApprovalsForWriteTools,
	)

	g := &Gateway{
		cfg:      cfg,
		bus:      bus.New(bus.DefaultQueueSize),
		policy:   pol,
		tools:    reg,
		plugins:  plugins.NewRegistry(reg),
		inst:     inst,
		adapters: make(map[string]channels.Adapter),
	}
	g.engine = agent.NewEngine(g, reg, pol, planner,
		cfg.Agent.RunMaxSteps, time.Duration(cfg.Agent.RunTimeoutS)*time.Second)
	return g
}

// Start acquires the instance lock, opens storage, loads plugins, and
// brings the built-in channel adapters up.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return errors.New("gateway already started")
	}

	if err := os.MkdirAll(g.cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := g.acquireLock(); err != nil {
		return err
	}

	repo, err := sqlite.Open(g.cfg.SQLitePath())
	if err != nil {
		g.releaseLock()
		return fmt.Errorf("open store: %w", err)
	}
	g.repo = repo

	// Continue the audit sequence where the last process left off.
	maxSeq, err := repo.MaxSeq(ctx)
	if err != nil {
		repo.Close()
		g.releaseLock()
		return fmt.Errorf("read max seq: %w", err)
	}
	g.bus.Seed(maxSeq)

	g.loaded = plugins.Load(g.plugins, plugins.Builtin(), g.cfg.Plugins.Disable)

	g.baseCtx, g.cancel = context.WithCancel(context.Background())

	builtinChannels := []struct {
		id    string
		ctype domain.ChannelType
		build func(domain.Channel) channels.Adapter
	}{
		{"webchat-1", domain.ChannelWebchat, func(ch domain.Channel) channels.Adapter { return channels.NewWebChat(ch) }},
		{"telegram-1", domain.ChannelTelegram, func(ch domain.Channel) channels.Adapter { return channels.NewTelegram(ch) }},
		{"whatsapp-1", domain.ChannelWhatsAppBusiness, func(ch domain.Channel) channels.Adapter { return channels.NewWhatsAppBusiness(ch) }},
	}
	for _, bc := range builtinChannels {
		ch := domain.Channel{ID: bc.id, Type: bc.ctype, Status: domain.ChannelOffline, Config: map[string]any{}}
		if err := repo.UpsertChannel(ctx, ch); err != nil {
			slog.Error("channel upsert failed", "channel_id", bc.id, "err", err)
			continue
		}
		g.adapters[bc.id] = bc.build(ch)
	}

	for id, adapter := range g.adapters {
		if err := adapter.Start(g.baseCtx, g.IngestInbound); err != nil {
			slog.Error("channel start failed", "channel_id", id, "err", err)
		}
	}

	g.started = true
	slog.Info("gateway started",
		"instance_id", g.cfg.InstanceID,
		"channels", len(g.adapters),
		"plugins", len(g.loaded),
		"seq", maxSeq)
	return nil
}

// Stop shuts the adapters down, waits for in-flight runs, and releases the
// instance lock. Idempotent.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return
	}
	g.started = false
	cancel := g.cancel
	adapters := make([]channels.Adapter, 0, len(g.adapters))
	for _, a := range g.adapters {
		adapters = append(adapters, a)
	}
	g.mu.Unlock()

	for _, a := range adapters {
		a.Stop()
	}
	if cancel != nil {
		cancel()
	}
	g.runWG.Wait()

	g.mu.Lock()
	if g.repo != nil {
		if err := g.repo.Close(); err != nil {
			slog.Warn("store close failed", "err", err)
		}
		g.repo = nil
	}
	g.releaseLock()
	g.mu.Unlock()
	slog.Info("gateway stopped", "instance_id", g.cfg.InstanceID)
}

// ErrLocked means another gateway instance holds the data dir.
var ErrLocked = errors.New("instance lock held")

// acquireLock creates the lock file exclusively. A leftover lock means
// another gateway may be running against the same data dir.
func (g *Gateway) acquireLock() error {
	path := g.cfg.LockPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w at %s: another gateway may be running", ErrLocked, path)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	if _, err := f.WriteString(g.cfg.InstanceID + "\n"); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write lock: %w", err)
	}
	g.lockHeld = true
	return f.Close()
}

func (g *Gateway) releaseLock() {
	if !g.lockHeld {
		return
	}
	g.lockHeld = false
	if err := os.Remove(g.cfg.LockPath()); err != nil {
		slog.Warn("lock release failed", "err", err)
	}
}

// Emit stamps a sequence number, persists the event for tailing, and fans
// it out on the bus. Persist-then-publish keeps the audit log a superset of
// anything a live subscriber saw.
func (g *Gateway) Emit(runID string, etype domain.EventType, payload map[string]any) {
	ev := domain.Event{
		RunID:   runID,
		Seq:     g.bus.NextSeq(),
		Type:    etype,
		Payload: payload,
		TS:      time.Now().UTC(),
	}
	g.mu.Lock()
	repo := g.repo
	g.mu.Unlock()
	if repo != nil {
		if err := repo.AppendEvent(context.Background(), ev); err != nil {
			slog.Error("event persist failed", "seq", ev.Seq, "type", ev.Type, "err", err)
		}
	}
	g.bus.Publish(ev)
}

// Bus exposes the event bus for control-plane subscribers.
func (g *Gateway) Bus() *bus.Bus { return g.bus }

// Config returns the gateway configuration.
func (g *Gateway) Config() *config.Config { return g.cfg }

// Tools returns the tool registry.
func (g *Gateway) Tools() *tools.Registry { return g.tools }

// LoadedPlugins reports the plugin load outcomes from Start.
func (g *Gateway) LoadedPlugins() []plugins.LoadedPlugin {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]plugins.LoadedPlugin(nil), g.loaded...)
}

// PluginCommands returns the named plugin commands, for doctor self-tests.
func (g *Gateway) PluginCommands() map[string]plugins.Command {
	return g.plugins.Commands()
}

// PolicySnapshot returns a copy of the active security policy.
func (g *Gateway) PolicySnapshot() domain.Policy { return g.policy.Policy() }

// SetPolicy atomically replaces the active security policy.
func (g *Gateway) SetPolicy(p domain.Policy) {
	g.policy.SetPolicy(p)
	slog.Info("policy updated",
		"allowlisted_channels", len(p.Allowlist),
		"dm_policy", p.DMPolicy,
		"group_policy", p.GroupPolicy,
		"tools_allowed", len(p.ToolAllow))
}

// ListChannels returns persisted channels overlaid with live adapter state.
func (g *Gateway) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	g.mu.Lock()
	repo := g.repo
	g.mu.Unlock()
	if repo == nil {
		return nil, errors.New("gateway not started")
	}
	chs, err := repo.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, ch := range chs {
		if a, ok := g.adapters[ch.ID]; ok {
			chs[i] = a.Channel()
		}
	}
	return chs, nil
}

// ListChats returns chats, optionally filtered by channel.
func (g *Gateway) ListChats(ctx context.Context, channelID string) ([]domain.Chat, error) {
	return g.repository().ListChats(ctx, channelID)
}

// ListMessages returns the newest limit messages of a chat, chronological.
func (g *Gateway) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	return g.repository().ListMessages(ctx, chatID, limit)
}

// GetRun looks a run up by id.
func (g *Gateway) GetRun(ctx context.Context, runID string) (domain.AgentRun, bool, error) {
	return g.repository().GetRun(ctx, runID)
}

// TailEvents replays persisted events after afterSeq, optionally filtered
// by run id.
func (g *Gateway) TailEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	return g.repository().ListEvents(ctx, runID, afterSeq, limit)
}

// repository returns the live repo or a closed-over nil guard. Callers hit
// this only through RPC methods, which require a started gateway.
func (g *Gateway) repository() store.Repository {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.repo == nil {
		return unavailableRepo{}
	}
	return g.repo
}

var errNotStarted = errors.New("gateway not started")

// unavailableRepo fails every call; returned when the gateway is stopped so
// late RPCs get a clean error instead of a nil dereference.
type unavailableRepo struct{}

func (unavailableRepo) UpsertChannel(context.Context, domain.Channel) error { return errNotStarted }
func (unavailableRepo) GetChannel(context.Context, string) (domain.Channel, bool, error) {
	return domain.Channel{}, false, errNotStarted
}
func (unavailableRepo) ListChannels(context.Context) ([]domain.Channel, error) {
	return nil, errNotStarted
}
func (unavailableRepo) UpsertChat(context.Context, domain.Chat) error { return errNotStarted }
func (unavailableRepo) GetChat(context.Context, string) (domain.Chat, bool, error) {
	return domain.Chat{}, false, errNotStarted
}
func (unavailableRepo) ListChats(context.Context, string) ([]domain.Chat, error) {
	return nil, errNotStarted
}
func (unavailableRepo) AddMessage(context.Context, domain.Message) error { return errNotStarted }
func (unavailableRepo) ListMessages(context.Context, string, int) ([]domain.Message, error) {
	return nil, errNotStarted
}
func (unavailableRepo) SaveRun(context.Context, domain.AgentRun) error { return errNotStarted }
func (unavailableRepo) GetRun(context.Context, string) (domain.AgentRun, bool, error) {
	return domain.AgentRun{}, false, errNotStarted
}
func (unavailableRepo) AppendEvent(context.Context, domain.Event) error { return errNotStarted }
func (unavailableRepo) ListEvents(context.Context, string, int64, int) ([]domain.Event, error) {
	return nil, errNotStarted
}
func (unavailableRepo) MaxSeq(context.Context) (int64, error) { return 0, errNotStarted }
func (unavailableRepo) Close() error                          { return nil }
