package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joshp123/homesafe/internal/config"
	"github.com/joshp123/homesafe/internal/session"
	"github.com/joshp123/homesafe/plugins/kidde"
)

// loginMain logs in with the configured credentials and persists the
// session cookies so the daemon can start without logging in again.
func loginMain(args []string) {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config.yaml")
	statePath := flags.String("state-path", "", "Override persisted session path")
	skipBlob := flags.Bool("skip-blob", false, "Skip blob storage persistence")
	jsonOut := flags.Bool("json", false, "Output JSON to stdout")
	timeout := flags.Duration("timeout", 30*time.Second, "Timeout for login")
	_ = flags.Parse(args)

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fatal("load config", err)
	}
	if cfg.Kidde == nil {
		fatal("login", fmt.Errorf("kidde section is not configured"))
	}
	kcfg, err := kidde.ConfigFromCore(cfg.Kidde)
	if err != nil {
		fatal("login", err)
	}
	if !kcfg.HasCredentials() {
		fatal("login", fmt.Errorf("kidde.email and a password are required"))
	}

	path := kcfg.StatePath
	if *statePath != "" {
		path = *statePath
	}
	var blob session.BlobStore
	if cfg.SessionBlob != nil && !*skipBlob {
		s3, err := session.NewS3Store(cfg.SessionBlob)
		if err != nil {
			fatal("blob store", err)
		}
		blob = s3
	}
	store, err := session.NewStore("kidde", path, blob)
	if err != nil {
		fatal("session store", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sess, err := kidde.Login(ctx, kcfg, kcfg.Email, kcfg.Password)
	if err != nil {
		fatal("login", err)
	}
	if err := store.Save(ctx, sess); err != nil {
		fatal("persist session", err)
	}

	names := make([]string, 0, len(sess))
	for name := range sess {
		names = append(names, name)
	}
	sort.Strings(names)

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]any{
			"status":     "ok",
			"state_path": path,
			"blob":       blob != nil,
			"cookies":    names,
		}, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("ok: session persisted to %s (cookies: %v)\n", path, names)
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
