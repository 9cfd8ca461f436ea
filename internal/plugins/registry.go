// Package plugins implements the plugin registry and the built-in plugin
// set. Plugins extend the gateway with tools, channel adapter factories,
// named commands, and ingest/run hooks. Plugins are trusted local code.
package plugins

import (
	"context"
	"sync"

	"github.com/zankora/agw/internal/channels"
	"github.com/zankora/agw/internal/domain"
	"github.com/zankora/agw/internal/tools"
)

// ChannelFactory builds a channel adapter for a configured channel.
type ChannelFactory func(channelID string, config map[string]any) channels.Adapter

// Command is a named plugin entry point, runnable from doctor.audit as a
// self-test.
type Command func(ctx context.Context) (map[string]any, error)

// PreMessageHook runs during ingest, after sanitization and policy but
// before persistence. It may annotate the message.
type PreMessageHook func(ctx context.Context, msg *domain.Message) error

// PostRunHook runs after a run reaches a terminal state.
type PostRunHook func(ctx context.Context, run *domain.AgentRun)

// Registry is what a plugin's register function receives.
type Registry struct {
	Tools *tools.Registry

	mu        sync.RWMutex
	channels  map[string]ChannelFactory
	commands  map[string]Command
	preHooks  []PreMessageHook
	postHooks []PostRunHook
}

// NewRegistry builds a plugin registry delegating tool registration to reg.
func NewRegistry(reg *tools.Registry) *Registry {
	return &Registry{
		Tools:    reg,
		channels: make(map[string]ChannelFactory),
		commands: make(map[string]Command),
	}
}

// RegisterTool delegates to the tool registry.
func (r *Registry) RegisterTool(spec domain.ToolSpec, h tools.Handler) error {
	return r.Tools.Register(spec, h)
}

// RegisterChannel registers an adapter factory under a channel type name.
func (r *Registry) RegisterChannel(name string, f ChannelFactory) {
	r.mu.Lock()
	r.channels[name] = f
	r.mu.Unlock()
}

// ChannelFactory looks up a registered factory.
func (r *Registry) ChannelFactory(name string) (ChannelFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.channels[name]
	return f, ok
}

// RegisterCommand registers a named command.
func (r *Registry) RegisterCommand(name string, cmd Command) {
	r.mu.Lock()
	r.commands[name] = cmd
	r.mu.Unlock()
}

// Commands returns a snapshot of registered commands.
func (r *Registry) Commands() map[string]Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// HookPreMessage appends an ingest hook.
func (r *Registry) HookPreMessage(h PreMessageHook) {
	r.mu.Lock()
	r.preHooks = append(r.preHooks, h)
	r.mu.Unlock()
}

// HookPostRun appends a run-finalization hook.
func (r *Registry) HookPostRun(h PostRunHook) {
	r.mu.Lock()
	r.postHooks = append(r.postHooks, h)
	r.mu.Unlock()
}

// PreMessageHooks returns the registered ingest hooks in order.
func (r *Registry) PreMessageHooks() []PreMessageHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PreMessageHook(nil), r.preHooks...)
}

// PostRunHooks returns the registered run hooks in order.
func (r *Registry) PostRunHooks() []PostRunHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PostRunHook(nil), r.postHooks...)
}
