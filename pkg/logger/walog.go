package logger

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// WhatsApp adapts a logger built by New to the protocol library's logger
// interface. Records carry a "module" attribute, nested with "/" by Sub, and
// are filtered by the configured WhatsApp level instead of the app level.
func WhatsApp(log *slog.Logger, module string) waLog.Logger {
	if log == nil {
		log = slog.Default()
	}

	return &waLogger{base: log, module: module, log: log.With(moduleKey, module)}
}

type waLogger struct {
	base   *slog.Logger
	module string
	log    *slog.Logger
}

func (l *waLogger) Debugf(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args) }
func (l *waLogger) Infof(msg string, args ...any)  { l.emit(slog.LevelInfo, msg, args) }
func (l *waLogger) Warnf(msg string, args ...any)  { l.emit(slog.LevelWarn, msg, args) }
func (l *waLogger) Errorf(msg string, args ...any) { l.emit(slog.LevelError, msg, args) }

func (l *waLogger) Sub(module string) waLog.Logger {
	if l.module != "" {
		module = l.module + "/" + module
	}

	return WhatsApp(l.base, module)
}

func (l *waLogger) emit(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}

	l.log.Log(ctx, level, fmt.Sprintf(msg, args...))
}
