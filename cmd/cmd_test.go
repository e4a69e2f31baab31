package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"ghostbot/pkg/command"
	"ghostbot/pkg/plugins"
)

func TestWriteCommands(t *testing.T) {
	reg := command.NewRegistry()
	plugins.Register(reg, plugins.Deps{})

	var out bytes.Buffer
	if err := writeCommands(&out, reg.All()); err != nil {
		t.Fatalf("writeCommands() error = %v", err)
	}

	text := out.String()
	for _, want := range []string{"NAME", "menu", "help,list", "gemini,gpt,chatgpt", "autoreact"} {
		if !strings.Contains(text, want) {
			t.Fatalf("writeCommands output missing %q:\n%s", want, text)
		}
	}
	if lines := strings.Count(strings.TrimSpace(text), "\n"); lines != reg.Len() {
		t.Fatalf("writeCommands rows = %d, want %d", lines, reg.Len())
	}
}

func TestSettingsCommands(t *testing.T) {
	t.Setenv("GHOSTBOT_CONFIG", "")
	t.Setenv("SETTINGS_DB", filepath.Join(t.TempDir(), "settings.db"))
	t.Setenv("OWNER_NUM", "+94 71 000 0000")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{"settings", "set", "mode", "Groups"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("settings set error = %v", err)
	}
	if got := out.String(); got != "MODE = groups\n" {
		t.Fatalf("settings set output = %q", got)
	}

	out.Reset()
	rootCmd.SetArgs([]string{"settings", "list"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("settings list error = %v", err)
	}
	listing := out.String()
	for _, want := range []string{"MODE", "groups", "OWNER_NUM", "94710000000", "PREFIX"} {
		if !strings.Contains(listing, want) {
			t.Fatalf("settings list missing %q:\n%s", want, listing)
		}
	}

	rootCmd.SetArgs([]string{"settings", "set", "MODE", "sometimes"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("settings set with invalid mode error = nil")
	}
}
