package plugins

import (
	"github.com/joshp123/homesafe/internal/config"
	"github.com/joshp123/homesafe/internal/core"
	"github.com/joshp123/homesafe/internal/poll"
)

// Factory builds a plugin instance from the loaded config. Plugins that poll
// arm slot instead of running their own loop.
type Factory func(*config.Config, *poll.Slot) (core.Plugin, bool)

type registration struct {
	id      string
	factory Factory
}

var compiled []registration

// Register adds a compiled-in plugin factory to the registry.
func Register(id string, factory Factory) {
	compiled = append(compiled, registration{id: id, factory: factory})
}

// IDs lists the compiled-in plugin IDs in registration order.
func IDs() []string {
	out := make([]string, 0, len(compiled))
	for _, r := range compiled {
		out = append(out, r.id)
	}
	return out
}

// Compiled returns the configured plugin instances for this build. Each
// plugin gets its own slot from slots.
func Compiled(cfg *config.Config, slots func(id string) *poll.Slot) []core.Plugin {
	if cfg == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, r := range compiled {
		var slot *poll.Slot
		if slots != nil {
			slot = slots(r.id)
		}
		plugin, ok := r.factory(cfg, slot)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
