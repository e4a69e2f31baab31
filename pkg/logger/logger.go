// Package logger builds the process slog logger. Text output is rendered by
// charmbracelet/log, json output by a handler that lifts the component and
// protocol module attributes to top-level fields.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"ghostbot/pkg/config"
)

const (
	formatText = "text"
	formatJSON = "json"

	envLevel         = "GHOSTBOT_LOG_LEVEL"
	envFormat        = "GHOSTBOT_LOG_FORMAT"
	envAddSource     = "GHOSTBOT_LOG_ADD_SOURCE"
	envWhatsAppLevel = "GHOSTBOT_WA_LOG_LEVEL"

	// moduleKey marks records emitted through the WhatsApp bridge.
	moduleKey = "module"
)

// options is LoggingConfig with env overrides applied and values parsed.
type options struct {
	format    string
	level     slog.Level
	waLevel   slog.Level
	addSource bool
}

func resolveOptions(cfg config.LoggingConfig) (options, error) {
	opts := options{
		format:    strings.ToLower(override(envFormat, cfg.Format, formatText)),
		addSource: cfg.AddSource,
	}
	if opts.format != formatText && opts.format != formatJSON {
		return options{}, fmt.Errorf("unsupported log format %q", opts.format)
	}

	var err error
	if opts.level, err = parseLevel(override(envLevel, cfg.Level, "info")); err != nil {
		return options{}, err
	}
	if opts.waLevel, err = parseLevel(override(envWhatsAppLevel, cfg.WhatsAppLevel, "warn")); err != nil {
		return options{}, fmt.Errorf("whatsapp %w", err)
	}

	if raw := strings.TrimSpace(os.Getenv(envAddSource)); raw != "" {
		switch strings.ToLower(raw) {
		case "1", "true", "yes", "on":
			opts.addSource = true
		default:
			opts.addSource = false
		}
	}

	return opts, nil
}

// override returns the env value when set, else configured, else fallback.
func override(env, configured, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		return value
	}
	if value := strings.TrimSpace(configured); value != "" {
		return value
	}

	return fallback
}

func parseLevel(input string) (slog.Level, error) {
	text := strings.ToLower(strings.TrimSpace(input))
	if text == "warning" {
		text = "warn"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return 0, fmt.Errorf("unsupported log level %q", input)
	}

	return level, nil
}

// New builds the process logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, err
	}

	// The sink admits the lower of both levels; levelHandler applies the
	// right one per record.
	floor := min(opts.level, opts.waLevel)

	var sink slog.Handler
	if opts.format == formatText {
		sink = charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(floor),
			ReportTimestamp: true,
			ReportCaller:    opts.addSource,
			Formatter:       charmLog.TextFormatter,
		})
	} else {
		sink = newJSONHandler(writer, floor, opts.addSource)
	}

	return slog.New(&levelHandler{next: sink, min: opts.level, moduleMin: opts.waLevel}), nil
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

// levelHandler gates records by level, switching to moduleMin once a module
// attribute has been attached through WithAttrs.
type levelHandler struct {
	next      slog.Handler
	min       slog.Level
	moduleMin slog.Level
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.next.Enabled(ctx, level)
}

func (h *levelHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.next.Handle(ctx, record)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &levelHandler{next: h.next.WithAttrs(attrs), min: h.min, moduleMin: h.moduleMin}
	for _, attr := range attrs {
		if attr.Key == moduleKey {
			next.min = h.moduleMin
			break
		}
	}

	return next
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{next: h.next.WithGroup(name), min: h.min, moduleMin: h.moduleMin}
}
