// Package plugins holds the built-in commands and triggers and the loader
// that registers them.
package plugins

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ghostbot/pkg/command"
	"ghostbot/pkg/settings"
)

// SettingsStore is the slice of the settings store the plugins edit.
type SettingsStore interface {
	Set(ctx context.Context, key, value string) (string, error)
	Visible(ctx context.Context) ([]settings.Entry, error)
	AddAuthUser(ctx context.Context, number string) (bool, error)
}

// Asker answers free-form prompts.
type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Deps are the collaborators shared by the built-in plugins. AI may be nil,
// in which case the ai command explains that it is not configured.
type Deps struct {
	Settings   SettingsStore
	AI         Asker
	AuthSecret string
	StartedAt  time.Time
	Log        *slog.Logger
}

// Builtins returns every built-in descriptor in registration order.
func Builtins(reg *command.Registry, deps Deps) []command.Descriptor {
	return []command.Descriptor{
		ping(deps),
		alive(),
		menu(reg),
		set(deps),
		auth(deps),
		ai(deps),
		autoReact(),
	}
}

// Register loads the built-ins into reg. A descriptor that collides with an
// earlier registration or is malformed is logged and skipped; the rest still
// load. It returns the number of descriptors registered.
func Register(reg *command.Registry, deps Deps) int {
	return Load(reg, deps.Log, Builtins(reg, deps)...)
}

// Load registers descriptors one by one, logging and skipping failures.
func Load(reg *command.Registry, log *slog.Logger, descriptors ...command.Descriptor) int {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "plugins.loader")

	loaded := 0
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			level := slog.LevelError
			if errors.Is(err, command.ErrDuplicatePattern) {
				level = slog.LevelWarn
			}
			log.Log(context.Background(), level, "Plugin skipped", "plugin", d.Label(), "error", err)
			continue
		}
		loaded++
	}
	log.Debug("Plugins loaded", "count", loaded, "skipped", len(descriptors)-loaded)

	return loaded
}
