// Package command holds the registry of prefixed commands and passive
// triggers, and the per-message context handed to their handlers.
package command

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/message"
)

var (
	// ErrDuplicatePattern is returned when a pattern or alias is already registered.
	ErrDuplicatePattern = errors.New("duplicate command pattern")
	// ErrInvalidDescriptor is returned for descriptors that cannot be dispatched.
	ErrInvalidDescriptor = errors.New("invalid command descriptor")
)

// Handler runs one command or trigger. ctx carries the per-invocation
// deadline; handlers doing I/O must honor it.
type Handler func(ctx context.Context, conn channel.Conn, evt *events.Message, msg *message.Message, c *Context) error

// Trigger is a passive dispatch condition evaluated on every message.
type Trigger string

const (
	TriggerNone    Trigger = ""
	TriggerBody    Trigger = "body"
	TriggerText    Trigger = "text"
	TriggerImage   Trigger = "image"
	TriggerSticker Trigger = "sticker"
)

// Matches evaluates t against a normalized message and its parsed invocation.
func (t Trigger) Matches(msg *message.Message, inv Invocation) bool {
	if msg == nil {
		return false
	}

	switch t {
	case TriggerBody:
		return msg.Body != ""
	case TriggerText:
		return inv.Q != ""
	case TriggerImage:
		return msg.Type == message.TypeImage
	case TriggerSticker:
		return msg.Type == message.TypeSticker
	default:
		return false
	}
}

func (t Trigger) valid() bool {
	switch t {
	case TriggerNone, TriggerBody, TriggerText, TriggerImage, TriggerSticker:
		return true
	default:
		return false
	}
}

// Descriptor declares one command or trigger. A descriptor needs a Pattern,
// a Trigger, or both; trigger-only descriptors are never found by name.
type Descriptor struct {
	// Name labels trigger-only descriptors in logs. Defaults to Pattern.
	Name        string
	Pattern     string
	Aliases     []string
	Category    string
	Description string
	Usage       string
	Trigger     Trigger
	OwnerOnly   bool
	// React is sent as an acknowledgement before the handler runs.
	React string
	// Timeout overrides the dispatcher's default handler deadline.
	Timeout time.Duration
	Handler Handler
}

// Label is the identifier used in logs and dispatch outcomes.
func (d *Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Pattern != "" {
		return d.Pattern
	}

	return "on:" + string(d.Trigger)
}

// Invocation is the prefix-parsed view of a message body.
type Invocation struct {
	IsCmd   bool
	Command string
	Args    []string
	Q       string
}

// Parse splits body into a command invocation. The command is the first
// token after the prefix; Args are the whitespace-split body minus its first
// token, so a space after the prefix leaves the command name in Args. Q
// rejoins Args with single spaces. Args and Q are filled for non-command
// bodies too, for text triggers.
func Parse(body, prefix string) Invocation {
	var inv Invocation

	if prefix != "" && strings.HasPrefix(body, prefix) {
		inv.IsCmd = true
		if name := strings.Fields(body[len(prefix):]); len(name) > 0 {
			inv.Command = strings.ToLower(name[0])
		}
	}

	fields := strings.Fields(body)
	if len(fields) > 1 {
		inv.Args = fields[1:]
	} else {
		inv.Args = []string{}
	}
	inv.Q = strings.Join(inv.Args, " ")

	return inv
}
