package settings

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"ghostbot/pkg/config"
)

const (
	KeyMode            = "MODE"
	KeyPrefix          = "PREFIX"
	KeyOwnerNumbers    = "OWNER_NUM"
	KeyAliveMessage    = "ALIVE_MSG"
	KeyAliveImage      = "ALIVE_IMG"
	KeyAutoRead        = "AUTO_READ"
	KeyAutoReact       = "AUTO_REACT"
	KeyAutoReactEmoji  = "AUTO_REACT_EMOJI"
	KeyAutoStatusWatch = "AUTO_STATUS_WATCH"
	KeyAutoStatusReact = "AUTO_STATUS_REACT"
	KeyAuthUsers       = "AUTH_USERS"
)

var (
	// ErrUnknownKey is returned for keys outside the known settings set.
	ErrUnknownKey = errors.New("unknown setting")
	// ErrInvalidValue is returned when a value fails the key's validation.
	ErrInvalidValue = errors.New("invalid setting value")
)

// Mode is the coarse routing policy deciding who may trigger command handling.
type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
	ModeGroups  Mode = "groups"
	ModeInbox   Mode = "inbox"
)

// ParseMode lower-cases and validates a mode name.
func ParseMode(raw string) (Mode, bool) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case ModePublic, ModePrivate, ModeGroups, ModeInbox:
		return mode, true
	default:
		return "", false
	}
}

type keyRule struct {
	hidden    bool
	normalize func(string) (string, error)
}

var keyRules = map[string]keyRule{
	KeyMode:            {normalize: normalizeMode},
	KeyPrefix:          {normalize: normalizePrefix},
	KeyOwnerNumbers:    {normalize: normalizeNumbers},
	KeyAliveMessage:    {normalize: normalizeText},
	KeyAliveImage:      {normalize: normalizeText},
	KeyAutoRead:        {normalize: normalizeBool},
	KeyAutoReact:       {normalize: normalizeBool},
	KeyAutoReactEmoji:  {normalize: normalizeText},
	KeyAutoStatusWatch: {normalize: normalizeBool},
	KeyAutoStatusReact: {normalize: normalizeText},
	KeyAuthUsers:       {hidden: true, normalize: normalizeNumbers},
}

// Keys returns every known key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(keyRules))
	for key := range keyRules {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}

// IsHidden reports whether key must never be listed to chat users.
func IsHidden(key string) bool {
	return keyRules[strings.ToUpper(strings.TrimSpace(key))].hidden
}

// Normalize canonicalizes key and validates value for it.
func Normalize(key, value string) (string, string, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	rule, ok := keyRules[key]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	clean, err := rule.normalize(value)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", key, err)
	}

	return key, clean, nil
}

// Defaults derives the seed values from static configuration.
func Defaults(cfg config.BotConfig) map[string]string {
	aliveMessage := strings.TrimSpace(cfg.AliveMessage)
	if aliveMessage == "" {
		aliveMessage = "I'm alive and listening."
	}
	mode, ok := ParseMode(cfg.Mode)
	if !ok {
		mode = ModePublic
	}
	prefix, err := normalizePrefix(cfg.Prefix)
	if err != nil {
		prefix = "."
	}

	return map[string]string{
		KeyMode:            string(mode),
		KeyPrefix:          prefix,
		KeyOwnerNumbers:    strings.Join(config.NormalizeNumbers(cfg.OwnerNumbers), ","),
		KeyAliveMessage:    aliveMessage,
		KeyAliveImage:      strings.TrimSpace(cfg.AliveImage),
		KeyAutoRead:        strconv.FormatBool(cfg.AutoRead),
		KeyAutoReact:       strconv.FormatBool(cfg.AutoReact),
		KeyAutoReactEmoji:  cmp.Or(strings.TrimSpace(cfg.AutoReactEmoji), "❤️"),
		KeyAutoStatusWatch: strconv.FormatBool(cfg.AutoStatusWatch),
		KeyAutoStatusReact: cmp.Or(strings.TrimSpace(cfg.AutoStatusReact), "💚"),
		KeyAuthUsers:       "",
	}
}

// Pinned returns the keys whose static configuration wins over stored
// values on every boot. Owner numbers are pinned when configured.
func Pinned(cfg config.BotConfig) map[string]string {
	owners := config.NormalizeNumbers(cfg.OwnerNumbers)
	if len(owners) == 0 {
		return nil
	}

	return map[string]string{KeyOwnerNumbers: strings.Join(owners, ",")}
}

func normalizeMode(value string) (string, error) {
	mode, ok := ParseMode(value)
	if !ok {
		return "", fmt.Errorf("%w: mode must be one of public, private, groups, inbox", ErrInvalidValue)
	}

	return string(mode), nil
}

func normalizePrefix(value string) (string, error) {
	prefix := strings.TrimSpace(value)
	if prefix == "" || strings.ContainsAny(prefix, " \t\n") {
		return "", fmt.Errorf("%w: prefix must be non-empty without whitespace", ErrInvalidValue)
	}

	return prefix, nil
}

func normalizeNumbers(value string) (string, error) {
	return strings.Join(config.NormalizeNumbers(strings.Split(value, ",")), ","), nil
}

func normalizeText(value string) (string, error) {
	return strings.TrimSpace(value), nil
}

func normalizeBool(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return "true", nil
	case "0", "false", "no", "off":
		return "false", nil
	default:
		return "", fmt.Errorf("%w: expected true or false", ErrInvalidValue)
	}
}
