package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nextlevelbuilder/relayclaw/internal/adapters"
	"github.com/nextlevelbuilder/relayclaw/internal/adapters/discord"
	"github.com/nextlevelbuilder/relayclaw/internal/adapters/slack"
	"github.com/nextlevelbuilder/relayclaw/internal/adapters/telegram"
	"github.com/nextlevelbuilder/relayclaw/internal/agent"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
	"github.com/nextlevelbuilder/relayclaw/internal/config"
	"github.com/nextlevelbuilder/relayclaw/internal/router"
	"github.com/nextlevelbuilder/relayclaw/internal/store"
	"github.com/nextlevelbuilder/relayclaw/internal/telemetry"
)

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Log.Level)
	slog.Info("relayclaw starting", "version", Version, "config", cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	messageBus := bus.NewMessageBus()
	defer messageBus.Close()
	emitter := telemetry.NewEmitter(messageBus)

	var cache router.SessionCache
	if cfg.Bridge.StateDB != "" {
		sc, err := store.OpenSessionCache(cfg.Bridge.StateDB)
		if err != nil {
			slog.Warn("state db unavailable, session persistence disabled", "error", err)
		} else {
			defer sc.Close()
			cache = sc
		}
	}

	backend := agent.NewClient(cfg.Backend.BaseURL, cfg.Backend.EventsURL)
	resolver := router.NewResolver(backend, cache, emitter, cfg.Backend.WorkingDir)

	states := router.NewStateStore(func(sessionID, action string, err error) {
		emitter.Error("outbound", action, err)
	})
	defer states.Close()

	registry := adapters.NewRegistry()
	buildAdapters(cfg, messageBus, registry)

	engine := router.New(router.Config{
		Adapters:      registry,
		Backend:       backend,
		Resolver:      resolver,
		States:        states,
		Telemetry:     emitter,
		MediaMaxBytes: cfg.Bridge.MediaMaxBytes,
		ThinkingText:  cfg.Bridge.ThinkingText,
	})

	if err := config.Watch(ctx, cfgPath, func(fresh *config.Config) {
		engine.SetMediaMaxBytes(fresh.Bridge.MediaMaxBytes)
	}); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	}

	registry.StartAll(ctx)
	defer registry.StopAll(context.Background())

	go engine.Run(ctx, messageBus)
	go backend.StreamEvents(ctx, func(ev agent.StreamEvent) {
		dispatchStreamEvent(ctx, engine, ev)
	})

	slog.Info("relayclaw running", "platforms", registry.Platforms())
	<-ctx.Done()
	slog.Info("relayclaw shutting down")
}

func buildAdapters(cfg *config.Config, messageBus *bus.MessageBus, registry *adapters.Registry) {
	if cfg.Adapters.Telegram.Enabled {
		a, err := telegram.New(cfg.Adapters.Telegram, messageBus)
		if err != nil {
			slog.Error("telegram adapter init failed", "error", err)
		} else {
			registry.Register(a)
		}
	}
	if cfg.Adapters.Discord.Enabled {
		a, err := discord.New(cfg.Adapters.Discord, messageBus)
		if err != nil {
			slog.Error("discord adapter init failed", "error", err)
		} else {
			registry.Register(a)
		}
	}
	if cfg.Adapters.Slack.Enabled {
		a, err := slack.New(cfg.Adapters.Slack, messageBus)
		if err != nil {
			slog.Error("slack adapter init failed", "error", err)
		} else {
			registry.Register(a)
		}
	}
}

func dispatchStreamEvent(ctx context.Context, engine *router.Router, ev agent.StreamEvent) {
	switch ev.Type {
	case agent.EventChatItem:
		if ev.Item != nil {
			engine.OnChatItem(ctx, ev.SessionID, *ev.Item)
		}
	case agent.EventChatItemUpdate:
		if ev.Update != nil {
			engine.OnChatItemUpdate(ctx, ev.SessionID, ev.ItemID, *ev.Update)
		}
	case agent.EventStreamDone:
		engine.OnStreamDone(ctx, ev.SessionID)
	case agent.EventStreamError:
		engine.OnStreamError(ctx, ev.SessionID, ev.Error)
	default:
		slog.Debug("unhandled stream event", "type", ev.Type)
	}
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
