package plugins

import (
	"testing"

	"github.com/joshp123/homesafe/internal/config"
	"github.com/joshp123/homesafe/internal/poll"
)

func TestCompiledSkipsUnconfiguredPlugins(t *testing.T) {
	if got := Compiled(&config.Config{}, nil); len(got) != 0 {
		t.Fatalf("expected no plugins without config, got %d", len(got))
	}
	if got := Compiled(nil, nil); got != nil {
		t.Fatalf("expected nil for nil config")
	}
}

func TestCompiledBuildsKidde(t *testing.T) {
	cfg := &config.Config{Kidde: &config.KiddeConfig{
		BaseURL:      "http://127.0.0.1:1",
		Cookies:      map[string]string{"session": "abc"},
		PollInterval: config.DefaultPollInterval,
		StatePath:    t.TempDir() + "/session.json",
	}}

	var requested []string
	got := Compiled(cfg, func(id string) *poll.Slot {
		requested = append(requested, id)
		return &poll.Slot{}
	})
	if len(got) != 1 || got[0].ID() != "kidde" {
		t.Fatalf("expected kidde plugin, got %v", got)
	}
	if len(requested) != 1 || requested[0] != "kidde" {
		t.Fatalf("expected a slot requested for kidde, got %v", requested)
	}

	found := false
	for _, id := range IDs() {
		if id == "kidde" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected kidde in compiled ids %v", IDs())
	}
}
