package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/homesafe/internal/config"
	"github.com/joshp123/homesafe/internal/core"
	"github.com/joshp123/homesafe/internal/logging"
	"github.com/joshp123/homesafe/internal/plugins"
	"github.com/joshp123/homesafe/internal/poll"
	"github.com/joshp123/homesafe/internal/rate"
	"github.com/joshp123/homesafe/internal/router"
	"github.com/joshp123/homesafe/internal/server"
	"github.com/joshp123/homesafe/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login":
			loginMain(os.Args[2:])
			return
		case "serve":
			serveMain(os.Args[2:])
			return
		case "-h", "--help", "help":
			usage()
			return
		}
	}
	serveMain(os.Args[1:])
}

func usage() {
	fmt.Println("homesafe [serve] [--config <path>]")
	fmt.Println("homesafe login [--config <path>] [--state-path <path>] [--skip-blob]")
}

func serveMain(args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config.yaml (default $HOMESAFE_CONFIG or "+config.DefaultPath+")")
	allPlugins := flags.Bool("all-plugins", false, "Start every compiled plugin regardless of config")
	_ = flags.Parse(args)

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.With().Str("component", "homesafe").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slots := newSlotSet()
	compiled := plugins.Compiled(cfg, slots.get)
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, *allPlugins); err != nil {
		log.Fatal().Err(err).Msg("plugin selection")
	}
	active := core.FilterPlugins(compiled, enabled, *allPlugins)
	if err := core.ValidatePlugins(active); err != nil {
		log.Fatal().Err(err).Msg("plugin validation")
	}
	if len(active) == 0 {
		log.Warn().Strs("compiled", plugins.IDs()).Msg("no plugins enabled")
	}

	for _, p := range active {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		if err := runner.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("plugin", p.ID()).Msg("start plugin")
		}
		log.Info().Str("plugin", p.ID()).Str("health", string(p.Health())).Msg("plugin started")
	}

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		log.Error().Err(err).Msg("write dashboards")
	}

	shared := append(rate.MetricsCollectors(), session.MetricsCollectors()...)
	shared = append(shared, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "homesafe_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	registry := core.MetricsRegistry(active, shared...)

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, log)
	if err != nil {
		log.Fatal().Err(err).Msg("grpc listen")
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		log.Fatal().Err(err).Msg("register plugins")
	}

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(active, registry))

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.Core.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.Core.GRPCAddr).Msg("grpc listening")
		if err := grpcServer.Serve(); err != nil {
			errs <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errs:
		log.Error().Err(err).Msg("server failed")
	}

	slots.disarmAll()
	for _, p := range active {
		if closer, ok := p.(core.Closer); ok {
			closer.Close()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	grpcServer.Server.GracefulStop()
}

// slotSet hands each plugin its own poll slot.
type slotSet struct {
	mu    sync.Mutex
	slots map[string]*poll.Slot
}

func newSlotSet() *slotSet {
	return &slotSet{slots: make(map[string]*poll.Slot)}
}

func (s *slotSet) get(id string) *poll.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		slot = &poll.Slot{}
		s.slots[id] = slot
	}
	return slot
}

func (s *slotSet) disarmAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		slot.Disarm()
	}
}
