package plugins

import (
	"github.com/joshp123/homesafe/internal/config"
	"github.com/joshp123/homesafe/internal/core"
	"github.com/joshp123/homesafe/internal/poll"
	"github.com/joshp123/homesafe/plugins/kidde"
)

func init() {
	Register("kidde", func(cfg *config.Config, slot *poll.Slot) (core.Plugin, bool) {
		p, ok := kidde.NewPlugin(cfg, slot)
		if !ok {
			return nil, false
		}
		return p, true
	})
}
