package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/veilgate/internal/backoff"
	"github.com/nextlevelbuilder/veilgate/internal/brain"
	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/config"
	"github.com/nextlevelbuilder/veilgate/internal/dispatch"
	"github.com/nextlevelbuilder/veilgate/internal/filter"
	"github.com/nextlevelbuilder/veilgate/internal/gateway"
	"github.com/nextlevelbuilder/veilgate/internal/handle"
	"github.com/nextlevelbuilder/veilgate/internal/ingest"
	"github.com/nextlevelbuilder/veilgate/internal/integrations"
	"github.com/nextlevelbuilder/veilgate/internal/integrations/codereview"
	"github.com/nextlevelbuilder/veilgate/internal/integrations/discord"
	"github.com/nextlevelbuilder/veilgate/internal/integrations/mailbox"
	"github.com/nextlevelbuilder/veilgate/internal/integrations/slackws"
	"github.com/nextlevelbuilder/veilgate/internal/integrations/sms"
	"github.com/nextlevelbuilder/veilgate/internal/integrations/telegram"
	"github.com/nextlevelbuilder/veilgate/internal/providers"
	"github.com/nextlevelbuilder/veilgate/internal/store"
	"github.com/nextlevelbuilder/veilgate/internal/store/memory"
	"github.com/nextlevelbuilder/veilgate/internal/store/pg"
	"github.com/nextlevelbuilder/veilgate/internal/store/sqlite"
	"github.com/nextlevelbuilder/veilgate/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the triage pipeline and gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Insecure: cfg.Telemetry.Insecure,
		Service:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}()

	st, err := openStore(cfg.Database)
	if err != nil {
		slog.Error("failed to open message store", "mode", cfg.Database.Mode, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	retry := backoff.Policy{
		Initial:    time.Duration(cfg.Backoff.InitialSec) * time.Second,
		Multiplier: cfg.Backoff.Multiplier,
		Max:        time.Duration(cfg.Backoff.MaxSec) * time.Second,
	}

	msgBus := bus.New()
	defer msgBus.Close()

	noise := filter.New(filter.Policy(cfg.Filter))
	handles := handle.New()
	defer handles.Clear()

	ingestor := ingest.New(msgBus, noise, st, handles)
	go ingestor.Run(ctx)

	classifier, generator := buildProviders(cfg.Brain)

	auto := brain.NewAutoResponder(cfg.Brain.AutoRespondWindow())
	defer auto.Stop()

	processor := brain.New(st, classifier, generator, auto, brain.Config{
		Concurrency: cfg.Brain.Concurrency,
		Timeout:     cfg.Brain.Timeout(),
		Retry:       retry,
	})
	go processor.Run(ctx)

	registry := integrations.NewRegistry()
	pushSources, smsHook := buildSources(cfg.Sources, msgBus, registry)

	dispatcher := dispatch.New(st, handles, registry, msgBus, auto)
	auto.Bind(dispatcher)

	for _, src := range pushSources {
		if err := src.Start(ctx); err != nil {
			slog.Error("failed to start source", "source", src.SourceID(), "error", err)
			continue
		}
		slog.Info("source started", "source", src.SourceID())
	}
	defer func() {
		for _, src := range pushSources {
			if err := src.Stop(); err != nil {
				slog.Warn("source stop failed", "source", src.SourceID(), "error", err)
			}
		}
	}()

	scheduler := integrations.NewScheduler(registry, cfg.Sync.Interval(), retry)
	defer scheduler.StopAll()
	for _, src := range registry.All() {
		if _, push := src.(integrations.PushSource); push {
			continue
		}
		if err := scheduler.StartPolling(ctx, src.SourceID()); err != nil {
			slog.Warn("failed to start polling", "source", src.SourceID(), "error", err)
		}
	}
	if cfg.Sync.Cron != "" {
		go func() {
			if err := scheduler.RunCron(ctx, cfg.Sync.Cron); err != nil && ctx.Err() == nil {
				slog.Error("cron sync stopped", "error", err)
			}
		}()
	}

	go watchConfig(ctx, cfgPath, cfg, noise)

	server := gateway.NewServer(gateway.Config{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Token:          cfg.Gateway.Token,
	}, st, dispatcher, scheduler, msgBus, smsHook)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		cancel()
		<-serverErr
	case err := <-serverErr:
		if err != nil {
			slog.Error("gateway failed", "error", err)
			cancel()
			os.Exit(1)
		}
	}
}

func openStore(cfg config.DatabaseConfig) (store.MessageStore, error) {
	switch cfg.Mode {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return pg.Open(cfg.PostgresDSN)
	default:
		path := config.ExpandHome(cfg.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		return sqlite.Open(path)
	}
}

func buildProviders(cfg config.BrainConfig) (providers.Classifier, providers.Generator) {
	if cfg.Provider == "openai" && cfg.APIKey != "" {
		p := providers.NewOpenAIProvider(cfg.APIKey, cfg.APIBase, cfg.Model)
		slog.Info("brain provider", "provider", "openai", "model", cfg.Model)
		return p, p
	}
	slog.Info("brain provider", "provider", "template")
	return providers.NewKeywordClassifier(), providers.NewTemplateGenerator()
}

// buildSources registers every enabled integration and returns the push
// sources to start plus the SMS webhook handler when configured.
func buildSources(cfg config.SourcesConfig, msgBus *bus.Bus, registry *integrations.Registry) ([]integrations.PushSource, http.Handler) {
	var push []integrations.PushSource
	var smsHook http.Handler

	if cfg.Telegram.Enabled {
		src, err := telegram.New(telegram.Config{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
		}, msgBus)
		if err != nil {
			slog.Error("telegram source unavailable", "error", err)
		} else {
			registry.Register(src)
			push = append(push, src)
		}
	}

	if cfg.Discord.Enabled {
		src, err := discord.New(discord.Config{
			Token:     cfg.Discord.Token,
			AllowFrom: cfg.Discord.AllowFrom,
		}, msgBus)
		if err != nil {
			slog.Error("discord source unavailable", "error", err)
		} else {
			registry.Register(src)
			push = append(push, src)
		}
	}

	if cfg.SMS.Enabled {
		src := sms.New(sms.Config{
			GatewayURL: cfg.SMS.GatewayURL,
			APIKey:     cfg.SMS.APIKey,
			WebhookRPS: cfg.SMS.WebhookRPS,
		}, msgBus)
		registry.Register(src)
		smsHook = src.WebhookHandler()
	}

	if cfg.Slack.Enabled {
		registry.Register(slackws.New(slackws.Config{
			Token:    cfg.Slack.Token,
			APIBase:  cfg.Slack.APIBase,
			Channels: cfg.Slack.Channels,
		}, msgBus))
	}

	if cfg.Mailbox.Enabled {
		registry.Register(mailbox.New(mailbox.Config{
			BaseURL: cfg.Mailbox.BaseURL,
			Token:   cfg.Mailbox.Token,
		}, msgBus))
	}

	if cfg.CodeReview.Enabled {
		registry.Register(codereview.New(codereview.Config{
			BaseURL: cfg.CodeReview.BaseURL,
			Token:   cfg.CodeReview.Token,
			Repos:   cfg.CodeReview.Repos,
			Mention: cfg.CodeReview.Mention,
		}, msgBus))
	}

	return push, smsHook
}

// watchConfig hot-reloads the suppression policy when the config file
// changes. Other sections need a restart; a change there is only logged.
func watchConfig(ctx context.Context, path string, current *config.Config, noise *filter.Filter) {
	path = config.ExpandHome(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		if err := watcher.Add(path); err != nil {
			slog.Warn("config watcher unavailable", "path", path, "error", err)
			return
		}
	}

	lastHash := current.Hash()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce editor write bursts.
			time.Sleep(200 * time.Millisecond)

			next, err := config.Load(path)
			if err != nil {
				slog.Warn("config reload failed", "error", err)
				continue
			}
			if next.Hash() == lastHash {
				continue
			}
			lastHash = next.Hash()

			noise.SetPolicy(filter.Policy(next.Filter))
			slog.Info("config reloaded", "path", path)
			if next.Gateway.Host != current.Gateway.Host ||
				next.Gateway.Port != current.Gateway.Port ||
				next.Database != current.Database {
				slog.Warn("gateway/database changes require a restart")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
