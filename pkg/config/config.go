package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envOwnerNumbers = "OWNER_NUM"
	envMode         = "MODE"
	envPrefix       = "PREFIX"
	envSessionDB    = "SESSION_DB"
	envSettingsDB   = "SETTINGS_DB"
	envPairPhone    = "PAIR_PHONE"
	envPort         = "PORT"
	envAuthSecret   = "AUTH_SECRET"

	envAliveMessage    = "ALIVE_MSG"
	envAliveImage      = "ALIVE_IMG"
	envAutoRead        = "AUTO_READ"
	envAutoReact       = "AUTO_REACT"
	envAutoReactEmoji  = "AUTO_REACT_EMOJI"
	envAutoStatusWatch = "AUTO_STATUS_WATCH"
	envAutoStatusReact = "AUTO_STATUS_REACT"

	defaultPrefix         = "."
	defaultMode           = "public"
	defaultSessionDB      = "session.db"
	defaultSettingsDB     = "settings.db"
	defaultHandlerTimeout = 10 * time.Minute
	defaultTriggerPolicy  = "always"
)

// envFiles are loaded (when present) before env overrides are applied.
var envFiles = []string{"config.env", ".env"}

// Config is the root static configuration loaded from config.json and the environment.
type Config struct {
	Bot       BotConfig       `json:"bot"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Settings  SettingsConfig  `json:"settings"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	// WhatsAppLevel filters records from the protocol library. Defaults to warn.
	WhatsAppLevel string `json:"whatsapp_level,omitempty"`
}

// BotConfig holds the defaults seeded into the runtime settings store and
// the dispatcher options that are fixed for the process lifetime.
type BotConfig struct {
	OwnerNumbers          []string `json:"owner_numbers"`
	Mode                  string   `json:"mode"`
	Prefix                string   `json:"prefix"`
	AliveMessage          string   `json:"alive_message"`
	AliveImage            string   `json:"alive_image"`
	AuthSecret            string   `json:"auth_secret"`
	AutoRead              bool     `json:"auto_read"`
	AutoReact             bool     `json:"auto_react"`
	AutoReactEmoji        string   `json:"auto_react_emoji"`
	AutoStatusWatch       bool     `json:"auto_status_watch"`
	AutoStatusReact       string   `json:"auto_status_react"`
	HandlerTimeoutSeconds int      `json:"handler_timeout_seconds"`
	TriggerPolicy         string   `json:"trigger_policy"`
}

// WhatsAppConfig configures the multi-device session.
type WhatsAppConfig struct {
	SessionDB                string  `json:"session_db"`
	PairPhone                string  `json:"pair_phone"`
	ReconnectDelaySeconds    int     `json:"reconnect_delay_seconds"`
	MaxConnectAttempts       int     `json:"max_connect_attempts"`
	SendRatePerSecond        float64 `json:"send_rate_per_second"`
	SendBurst                int     `json:"send_burst"`
	MediaFetchTimeoutSeconds int     `json:"media_fetch_timeout_seconds"`
}

// SettingsConfig locates the runtime settings database.
type SettingsConfig struct {
	Path string `json:"path"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI provider client used by the ai command.
type OpenAIProviderConfig struct {
	APIKeyEnv             string `json:"api_key_env"`
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	Model                 string `json:"model"`
	Instructions          string `json:"instructions"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// GatewayConfig configures the health server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// HandlerTimeout returns the per-handler deadline enforced by the dispatcher.
func (c BotConfig) HandlerTimeout() time.Duration {
	if c.HandlerTimeoutSeconds <= 0 {
		return defaultHandlerTimeout
	}

	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}

// LoadConfig resolves config.json (optional), unmarshals it, loads env files
// and applies environment overrides and defaults.
func LoadConfig() (*Config, error) {
	var cfg Config

	configPath, err := findConfigPath()
	switch {
	case err == nil:
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Running from the environment alone is supported.
	default:
		return nil, err
	}

	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// loadEnvFiles loads cwd-local env files without overriding variables that are already set.
func loadEnvFiles() error {
	for _, name := range envFiles {
		info, err := os.Stat(name)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if raw := strings.TrimSpace(os.Getenv(envOwnerNumbers)); raw != "" {
		cfg.Bot.OwnerNumbers = parseCSV(raw)
	}
	if mode := strings.TrimSpace(os.Getenv(envMode)); mode != "" {
		cfg.Bot.Mode = strings.ToLower(mode)
	}
	if prefix := strings.TrimSpace(os.Getenv(envPrefix)); prefix != "" {
		cfg.Bot.Prefix = prefix
	}
	if secret := strings.TrimSpace(os.Getenv(envAuthSecret)); secret != "" {
		cfg.Bot.AuthSecret = secret
	}
	if text := strings.TrimSpace(os.Getenv(envAliveMessage)); text != "" {
		cfg.Bot.AliveMessage = text
	}
	if url := strings.TrimSpace(os.Getenv(envAliveImage)); url != "" {
		cfg.Bot.AliveImage = url
	}
	if emoji := strings.TrimSpace(os.Getenv(envAutoReactEmoji)); emoji != "" {
		cfg.Bot.AutoReactEmoji = emoji
	}
	if emoji := strings.TrimSpace(os.Getenv(envAutoStatusReact)); emoji != "" {
		cfg.Bot.AutoStatusReact = emoji
	}
	envBool(envAutoRead, &cfg.Bot.AutoRead)
	envBool(envAutoReact, &cfg.Bot.AutoReact)
	envBool(envAutoStatusWatch, &cfg.Bot.AutoStatusWatch)
	if path := strings.TrimSpace(os.Getenv(envSessionDB)); path != "" {
		cfg.WhatsApp.SessionDB = path
	}
	if phone := strings.TrimSpace(os.Getenv(envPairPhone)); phone != "" {
		cfg.WhatsApp.PairPhone = phone
	}
	if path := strings.TrimSpace(os.Getenv(envSettingsDB)); path != "" {
		cfg.Settings.Path = path
	}
	if raw := strings.TrimSpace(os.Getenv(envPort)); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.Gateway.Port = port
		}
	}
}

// envBool sets *dst from key when the variable holds a recognizable boolean.
func envBool(key string, dst *bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Bot.Prefix) == "" {
		cfg.Bot.Prefix = defaultPrefix
	}
	if strings.TrimSpace(cfg.Bot.Mode) == "" {
		cfg.Bot.Mode = defaultMode
	}
	if strings.TrimSpace(cfg.Bot.TriggerPolicy) == "" {
		cfg.Bot.TriggerPolicy = defaultTriggerPolicy
	}
	if strings.TrimSpace(cfg.WhatsApp.SessionDB) == "" {
		cfg.WhatsApp.SessionDB = defaultSessionDB
	}
	if strings.TrimSpace(cfg.Settings.Path) == "" {
		cfg.Settings.Path = defaultSettingsDB
	}
	cfg.Bot.OwnerNumbers = NormalizeNumbers(cfg.Bot.OwnerNumbers)
}

// NormalizeNumbers strips everything but digits from phone numbers and drops empties and duplicates.
func NormalizeNumbers(numbers []string) []string {
	clean := make([]string, 0, len(numbers))
	for _, number := range numbers {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, number)
		if digits == "" || slices.Contains(clean, digits) {
			continue
		}
		clean = append(clean, digits)
	}

	return slices.Clip(clean)
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is GHOSTBOT_CONFIG first, then cwd-local fallback paths. When no
// candidate exists the returned error wraps fs.ErrNotExist.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("GHOSTBOT_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("GHOSTBOT_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s): %w", candidates[0], candidates[1], fs.ErrNotExist)
}
