package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ghostbot/pkg/bus"
	"ghostbot/pkg/command"
	"ghostbot/pkg/config"
	"ghostbot/pkg/dispatch"
	"ghostbot/pkg/plugins"
	provideropenai "ghostbot/pkg/provider/openai"
	"ghostbot/pkg/settings"
)

// Runtime bundles the process-wide dispatch state: settings store, command
// registry with the built-in plugins loaded, the dispatcher and the bus it
// reports to.
type Runtime struct {
	Settings   *settings.Store
	Registry   *command.Registry
	Dispatcher *dispatch.Dispatcher
	Bus        *bus.MessageBus
	// AI is nil when no OpenAI key is configured.
	AI *provideropenai.Client
}

// NewRuntime opens and seeds the settings store, loads the plugins and builds
// the dispatcher. Any error here is a bootstrap failure.
func NewRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}
	rlog := log.With("component", "gateway.runtime")

	policy, err := dispatch.ParseTriggerPolicy(cfg.Bot.TriggerPolicy)
	if err != nil {
		return nil, err
	}

	store, err := settings.Open(ctx, cfg.Settings.Path, log)
	if err != nil {
		return nil, err
	}

	defaults := settings.Defaults(cfg.Bot)
	seeded, err := store.Seed(ctx, defaults)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	pinned, err := store.Pin(ctx, settings.Pinned(cfg.Bot))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("pin settings: %w", err)
	}
	rlog.Debug("Settings seeded", "inserted", seeded, "pinned", pinned)

	ai, err := provideropenai.New(cfg.Providers.OpenAI, log)
	switch {
	case errors.Is(err, provideropenai.ErrNotConfigured):
		rlog.Info("OpenAI provider not configured, ai command disabled")
		ai = nil
	case err != nil:
		_ = store.Close()
		return nil, fmt.Errorf("initialize provider: %w", err)
	}

	deps := plugins.Deps{
		Settings:   store,
		AuthSecret: cfg.Bot.AuthSecret,
		StartedAt:  time.Now(),
		Log:        log,
	}
	if ai != nil {
		deps.AI = ai
		go func() {
			if err := ai.Health(ctx); err != nil {
				rlog.Warn("OpenAI provider health check failed", "model", ai.Model(), "error", err)
			}
		}()
	}

	registry := command.NewRegistry()
	plugins.Register(registry, deps)

	mb := bus.NewMessageBus()
	dispatcher, err := dispatch.New(dispatch.Options{
		Registry:       registry,
		Settings:       store,
		Fallback:       settings.SnapshotFrom(defaults),
		Events:         mb,
		HandlerTimeout: cfg.Bot.HandlerTimeout(),
		TriggerPolicy:  policy,
		Log:            log,
	})
	if err != nil {
		mb.Close()
		_ = store.Close()
		return nil, err
	}

	return &Runtime{
		Settings:   store,
		Registry:   registry,
		Dispatcher: dispatcher,
		Bus:        mb,
		AI:         ai,
	}, nil
}

// Close shuts the bus and releases the settings database.
func (r *Runtime) Close() error {
	r.Bus.Close()
	return r.Settings.Close()
}
