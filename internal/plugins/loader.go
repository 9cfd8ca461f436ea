package plugins

import (
	"fmt"
	"log/slog"
	"sort"
)

// Plugin is a statically linked plugin: a name plus its register entry
// point. Registration runs in sorted name order; a failing plugin is logged
// and skipped without aborting the rest.
type Plugin struct {
	Name     string
	Register func(*Registry) error
}

// LoadedPlugin records one load outcome.
type LoadedPlugin struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	Err  string `json:"err,omitempty"`
}

// Builtin returns the plugins compiled into the gateway.
func Builtin() []Plugin {
	return []Plugin{
		{Name: "math_tools", Register: registerMathTools},
		{Name: "sample_echo", Register: registerSampleEcho},
		{Name: "web_search", Register: registerWebSearch},
	}
}

// Load registers each plugin, skipping names in disable. The returned slice
// covers every attempted plugin, failures included.
func Load(reg *Registry, set []Plugin, disable []string) []LoadedPlugin {
	skip := make(map[string]bool, len(disable))
	for _, name := range disable {
		skip[name] = true
	}

	sorted := append([]Plugin(nil), set...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var loaded []LoadedPlugin
	for _, p := range sorted {
		if skip[p.Name] {
			slog.Info("plugin disabled", "name", p.Name)
			continue
		}
		if err := safeRegister(p, reg); err != nil {
			slog.Warn("plugin load failed", "name", p.Name, "err", err)
			loaded = append(loaded, LoadedPlugin{Name: p.Name, Err: err.Error()})
			continue
		}
		slog.Info("plugin loaded", "name", p.Name)
		loaded = append(loaded, LoadedPlugin{Name: p.Name, OK: true})
	}
	return loaded
}

func safeRegister(p Plugin, reg *Registry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Name, rec)
		}
	}()
	return p.Register(reg)
}
