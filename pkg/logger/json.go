package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
)

// LogEntry is the shape of one line written by the json format.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Module    string         `json:"module,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

type jsonHandler struct {
	level     slog.Level
	addSource bool
	writer    io.Writer
	mu        *sync.Mutex

	attrs  []slog.Attr
	groups []string
}

func newJSONHandler(writer io.Writer, level slog.Level, addSource bool) *jsonHandler {
	return &jsonHandler{level: level, addSource: addSource, writer: writer, mu: &sync.Mutex{}}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *jsonHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Message:   record.Message,
	}

	fields := make(map[string]any)
	for _, attr := range h.attrs {
		h.apply(fields, &entry, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.apply(fields, &entry, attr)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}
	if h.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		if frame.File != "" {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(append(line, '\n'))
	return err
}

// apply routes component and module to their entry fields and everything
// else into fields under its group path.
func (h *jsonHandler) apply(fields map[string]any, entry *LogEntry, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if len(h.groups) == 0 && attr.Value.Kind() == slog.KindString {
		switch attr.Key {
		case "component":
			entry.Component = attr.Value.String()
			return
		case moduleKey:
			entry.Module = attr.Value.String()
			return
		}
	}

	key := attr.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + attr.Key
	}
	fields[key] = jsonValue(attr.Value)
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(slices.Clip(h.attrs), attrs...)
	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(slices.Clip(h.groups), name)
	return &next
}

// jsonValue converts v to something encoding/json renders readably. Durations
// and times become strings, errors and fmt.Stringers (such as JIDs) their text.
func jsonValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := v.Group()
		out := make(map[string]any, len(group))
		for _, item := range group {
			out[item.Key] = jsonValue(item.Value.Resolve())
		}
		return out
	case slog.KindAny:
		switch value := v.Any().(type) {
		case error:
			return value.Error()
		case fmt.Stringer:
			return value.String()
		}
	}

	return v.Any()
}
