package settings

import (
	"slices"
	"strings"

	"ghostbot/pkg/config"
)

// Snapshot is an immutable view of the runtime settings taken once per
// dispatch cycle. Values may change between snapshots.
type Snapshot struct {
	Mode            Mode
	Prefix          string
	OwnerNumbers    []string
	AuthUsers       []string
	AliveMessage    string
	AliveImage      string
	AutoRead        bool
	AutoReact       bool
	AutoReactEmoji  string
	AutoStatusWatch bool
	AutoStatusReact string
}

// SnapshotFrom builds a snapshot from raw key/value pairs. Missing or
// malformed values fall back to the zero-risk choice: public mode, "." prefix
// and toggles off.
func SnapshotFrom(values map[string]string) Snapshot {
	mode, ok := ParseMode(values[KeyMode])
	if !ok {
		mode = ModePublic
	}

	prefix := strings.TrimSpace(values[KeyPrefix])
	if prefix == "" {
		prefix = "."
	}

	return Snapshot{
		Mode:            mode,
		Prefix:          prefix,
		OwnerNumbers:    config.NormalizeNumbers(strings.Split(values[KeyOwnerNumbers], ",")),
		AuthUsers:       config.NormalizeNumbers(strings.Split(values[KeyAuthUsers], ",")),
		AliveMessage:    values[KeyAliveMessage],
		AliveImage:      values[KeyAliveImage],
		AutoRead:        isTrue(values[KeyAutoRead]),
		AutoReact:       isTrue(values[KeyAutoReact]),
		AutoReactEmoji:  values[KeyAutoReactEmoji],
		AutoStatusWatch: isTrue(values[KeyAutoStatusWatch]),
		AutoStatusReact: values[KeyAutoStatusReact],
	}
}

// IsOwner reports whether number is a configured owner or an authorized user.
func (s Snapshot) IsOwner(number string) bool {
	if number == "" {
		return false
	}

	return slices.Contains(s.OwnerNumbers, number) || slices.Contains(s.AuthUsers, number)
}

// PrimaryOwner returns the first configured owner number, or "".
func (s Snapshot) PrimaryOwner() string {
	if len(s.OwnerNumbers) == 0 {
		return ""
	}

	return s.OwnerNumbers[0]
}

func isTrue(value string) bool {
	normalized, err := normalizeBool(value)
	return err == nil && normalized == "true"
}
