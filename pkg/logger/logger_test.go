package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"ghostbot/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "dispatch.dispatcher").Info("Command invoked", "message_id", "42", "ok", true)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Message != "Command invoked" {
		t.Fatalf("message = %q, want %q", entry.Message, "Command invoked")
	}
	if entry.Component != "dispatch.dispatcher" {
		t.Fatalf("component = %q, want %q", entry.Component, "dispatch.dispatcher")
	}
	if entry.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if got := entry.Fields["message_id"]; got != "42" {
		t.Fatalf("fields.message_id = %v, want %q", got, "42")
	}
	if got := entry.Fields["ok"]; got != true {
		t.Fatalf("fields.ok = %v, want true", got)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv("GHOSTBOT_LOG_LEVEL", "debug")
	t.Setenv("GHOSTBOT_LOG_FORMAT", "text")
	defer unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	_ = os.Unsetenv("GHOSTBOT_LOG_LEVEL")
	_ = os.Unsetenv("GHOSTBOT_LOG_FORMAT")
	_ = os.Unsetenv("GHOSTBOT_LOG_ADD_SOURCE")
	_ = os.Unsetenv("GHOSTBOT_WA_LOG_LEVEL")
}

func TestWhatsAppLoggerBridgesToSlog(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	wa := WhatsApp(log, "Client").Sub("Socket")
	wa.Debugf("hidden %d", 1)
	wa.Warnf("frame %s dropped", "abc")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %d: %q", len(lines), out.String())
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry.Level != "warn" {
		t.Fatalf("level = %q, want warn", entry.Level)
	}
	if entry.Message != "frame abc dropped" {
		t.Fatalf("message = %q, want formatted text", entry.Message)
	}
	if entry.Module != "Client/Socket" {
		t.Fatalf("module = %q, want Client/Socket", entry.Module)
	}
	if _, ok := entry.Fields["module"]; ok {
		t.Fatalf("module must not repeat in fields: %v", entry.Fields)
	}
}

func TestWhatsAppLevelIsIndependent(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info", WhatsAppLevel: "debug"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("app debug stays hidden")
	WhatsApp(log, "Client").Debugf("protocol debug %d", 7)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "protocol debug 7") {
		t.Fatalf("output = %q, want only the protocol debug line", out.String())
	}

	out.Reset()
	t.Setenv("GHOSTBOT_WA_LOG_LEVEL", "error")
	quiet, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "debug"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	WhatsApp(quiet, "Client").Warnf("reconnecting")
	quiet.Debug("app debug shown")
	if got := out.String(); strings.Contains(got, "reconnecting") || !strings.Contains(got, "app debug shown") {
		t.Fatalf("output = %q, want app debug without protocol warn", got)
	}
}

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]string{"DEBUG": "DEBUG", "warning": "WARN", " error ": "ERROR"} {
		level, err := parseLevel(input)
		if err != nil || level.String() != want {
			t.Fatalf("parseLevel(%q) = %v, %v; want %s", input, level, err, want)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLoggerRejectsUnknownFormat(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
