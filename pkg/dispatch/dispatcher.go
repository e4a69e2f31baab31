// Package dispatch routes normalized messages to registered commands and
// triggers. It is the error boundary between handlers and the connection:
// nothing a handler does escapes Dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/bus"
	"ghostbot/pkg/channel"
	"ghostbot/pkg/command"
	"ghostbot/pkg/message"
	"ghostbot/pkg/settings"
)

const (
	defaultHandlerTimeout = 10 * time.Minute
	sideEffectTimeout     = 15 * time.Second
	groupLookupTimeout    = 10 * time.Second
)

// ErrHandlerPanic wraps a recovered handler panic.
var ErrHandlerPanic = errors.New("handler panicked")

// TriggerPolicy decides whether triggers still run when a command matched.
type TriggerPolicy string

const (
	// TriggersAlways scans triggers for every message that passed the mode gate.
	TriggersAlways TriggerPolicy = "always"
	// TriggersNoCommand scans triggers only when no command handler ran.
	TriggersNoCommand TriggerPolicy = "no_command"
)

// ParseTriggerPolicy maps a config value to a policy, defaulting to TriggersAlways.
func ParseTriggerPolicy(raw string) (TriggerPolicy, error) {
	switch TriggerPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TriggersAlways:
		return TriggersAlways, nil
	case TriggersNoCommand:
		return TriggersNoCommand, nil
	default:
		return "", fmt.Errorf("unsupported trigger policy %q", raw)
	}
}

// SettingsSource yields the current runtime settings.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// EventPublisher receives dispatch outcome events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Options configures a Dispatcher. Registry and Settings are required.
type Options struct {
	Registry *command.Registry
	Settings SettingsSource
	// Fallback is used when Settings fails; typically the seeded defaults.
	Fallback       settings.Snapshot
	Events         EventPublisher
	HandlerTimeout time.Duration
	TriggerPolicy  TriggerPolicy
	Channel        string
	Log            *slog.Logger
}

// Dispatcher runs the per-message pipeline: mode gate, command match,
// trigger scan. It holds no per-message state and is safe for concurrent use.
type Dispatcher struct {
	registry *command.Registry
	settings SettingsSource
	fallback settings.Snapshot
	events   EventPublisher
	timeout  time.Duration
	policy   TriggerPolicy
	channel  string
	log      *slog.Logger

	stats counters
}

// Outcome summarizes one dispatch cycle.
type Outcome struct {
	MessageID string
	// Skipped is set when processing stopped before command matching:
	// "status" for status broadcasts, "mode" for mode-gated senders.
	Skipped string
	IsCmd   bool
	// Command is the label of the command handler that ran.
	Command    string
	CommandErr error
	// Denied is the pattern of an owner-only command refused to a non-owner.
	Denied      string
	Triggers    []string
	TriggerErrs map[string]error
}

// Invoked reports whether any handler ran.
func (o Outcome) Invoked() bool {
	return o.Command != "" || len(o.Triggers) > 0
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("dispatch: settings source is required")
	}

	timeout := opts.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	policy := opts.TriggerPolicy
	if policy == "" {
		policy = TriggersAlways
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	channelName := opts.Channel
	if channelName == "" {
		channelName = "whatsapp"
	}

	return &Dispatcher{
		registry: opts.Registry,
		settings: opts.Settings,
		fallback: opts.Fallback,
		events:   opts.Events,
		timeout:  timeout,
		policy:   policy,
		channel:  channelName,
		log:      log.With("component", "dispatch.dispatcher"),
	}, nil
}

// Snapshot re-reads the runtime settings, falling back to the static
// defaults when the store is unavailable.
func (d *Dispatcher) Snapshot(ctx context.Context) settings.Snapshot {
	snap, err := d.settings.Snapshot(ctx)
	if err != nil {
		d.log.Warn("Settings unavailable, using defaults", "error", err)
		return d.fallback
	}

	return snap
}

// Dispatch normalizes evt and runs the full pipeline with a fresh settings snapshot.
func (d *Dispatcher) Dispatch(ctx context.Context, conn channel.Conn, evt *events.Message) Outcome {
	msg := message.Normalize(evt, conn.SelfID())
	return d.DispatchWith(ctx, conn, evt, msg, d.Snapshot(ctx))
}

// DispatchWith runs the pipeline for an already normalized message and snapshot.
func (d *Dispatcher) DispatchWith(ctx context.Context, conn channel.Conn, evt *events.Message, msg *message.Message, snap settings.Snapshot) Outcome {
	d.stats.received.Add(1)
	out := Outcome{MessageID: msg.ID}

	if msg.IsStatus() {
		out.Skipped = "status"
		return out
	}

	botNumber := message.Number(conn.SelfID())
	senderNumber := message.Number(msg.SenderID)
	isOwner := msg.FromMe || snap.IsOwner(senderNumber) || (senderNumber != "" && senderNumber == botNumber)

	if !modeAllows(snap.Mode, msg.IsGroup, isOwner) {
		d.stats.gated.Add(1)
		d.log.Debug("Message gated by mode", "mode", snap.Mode, "chat_id", msg.ChatID, "message_id", msg.ID)
		out.Skipped = "mode"
		return out
	}

	inv := command.Parse(msg.Body, snap.Prefix)
	out.IsCmd = inv.IsCmd

	var cmd *command.Descriptor
	if inv.IsCmd {
		if found, ok := d.registry.Find(inv.Command); ok {
			if found.OwnerOnly && !isOwner {
				d.log.Debug("Owner-only command refused", "command", found.Pattern, "sender", senderNumber)
				out.Denied = found.Pattern
			} else {
				cmd = found
			}
		}
	}

	triggers := d.matchTriggers(msg, inv, cmd, isOwner)
	if cmd == nil && len(triggers) == 0 {
		return out
	}

	c := &command.Context{
		ChatID:       msg.ChatID,
		Body:         msg.Body,
		IsCmd:        inv.IsCmd,
		Command:      inv.Command,
		Args:         inv.Args,
		Q:            inv.Q,
		IsGroup:      msg.IsGroup,
		Sender:       msg.SenderID,
		SenderNumber: senderNumber,
		BotNumber:    botNumber,
		PushName:     msg.PushName,
		IsOwner:      isOwner,
		Settings:     snap,
		Conn:         conn,
		Message:      msg,
	}
	if msg.IsGroup {
		d.loadGroup(ctx, conn, c)
	}

	if cmd != nil {
		out.Command = cmd.Label()
		d.stats.commands.Add(1)

		if cmd.React != "" {
			BestEffort(ctx, d.log, "react", func(ctx context.Context) error {
				return c.React(ctx, cmd.React)
			})
		}

		if err := d.invoke(ctx, cmd, conn, evt, msg, c); err != nil {
			out.CommandErr = err
			d.stats.commandFailures.Add(1)
			d.log.Error("Command failed", "command", cmd.Label(), "chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
			d.publish(ctx, bus.EventCommandFailed, msg, cmd.Label(), err)
		} else {
			d.publish(ctx, bus.EventCommandInvoked, msg, cmd.Label(), nil)
		}
	}

	for _, trigger := range triggers {
		out.Triggers = append(out.Triggers, trigger.Label())
		d.stats.triggers.Add(1)

		if err := d.invoke(ctx, trigger, conn, evt, msg, c); err != nil {
			if out.TriggerErrs == nil {
				out.TriggerErrs = make(map[string]error)
			}
			out.TriggerErrs[trigger.Label()] = err
			d.stats.triggerFailures.Add(1)
			d.log.Error("Trigger failed", "trigger", trigger.Label(), "chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
			d.publish(ctx, bus.EventTriggerFailed, msg, trigger.Label(), err)
		}
	}

	return out
}

// modeAllows is an allow-list per mode; owners pass every mode.
func modeAllows(mode settings.Mode, isGroup, isOwner bool) bool {
	if isOwner {
		return true
	}

	switch mode {
	case settings.ModePrivate:
		return false
	case settings.ModeInbox:
		return !isGroup
	case settings.ModeGroups:
		return isGroup
	default:
		return true
	}
}

func (d *Dispatcher) matchTriggers(msg *message.Message, inv command.Invocation, cmd *command.Descriptor, isOwner bool) []*command.Descriptor {
	if cmd != nil && d.policy == TriggersNoCommand {
		return nil
	}

	var matched []*command.Descriptor
	for _, trigger := range d.registry.Triggers() {
		if trigger == cmd {
			continue
		}
		if trigger.OwnerOnly && !isOwner {
			continue
		}
		if trigger.Trigger.Matches(msg, inv) {
			matched = append(matched, trigger)
		}
	}

	return matched
}

func (d *Dispatcher) loadGroup(ctx context.Context, conn channel.Conn, c *command.Context) {
	lookupCtx, cancel := context.WithTimeout(ctx, groupLookupTimeout)
	defer cancel()

	meta, err := conn.GroupMetadata(lookupCtx, c.ChatID)
	if err != nil {
		d.log.Warn("Group metadata unavailable", "chat_id", c.ChatID, "error", err)
		return
	}

	c.GroupMetadata = meta
	c.GroupAdmins = meta.Admins()
	c.IsAdmin = containsNumber(c.GroupAdmins, c.SenderNumber)
	c.IsBotAdmin = containsNumber(c.GroupAdmins, c.BotNumber)
}

// invoke runs one handler under its deadline on a private copy of c. A
// handler that ignores its context is abandoned when the deadline passes.
func (d *Dispatcher) invoke(ctx context.Context, desc *command.Descriptor, conn channel.Conn, evt *events.Message, msg *message.Message, c *command.Context) error {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hc := c.Clone()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Debug("Handler panic stack", "handler", desc.Label(), "stack", string(debug.Stack()))
				done <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		done <- desc.Handler(runCtx, conn, evt, msg, hc)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		return fmt.Errorf("%s: %w", desc.Label(), runCtx.Err())
	}
}

func (d *Dispatcher) publish(ctx context.Context, typ bus.EventType, msg *message.Message, label string, err error) {
	if d.events == nil {
		return
	}

	event := bus.Event{
		Type:      typ,
		Channel:   d.channel,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Command:   label,
	}
	if err != nil {
		event.Error = err.Error()
	}
	d.events.PublishEvent(context.WithoutCancel(ctx), event)
}

// BestEffort runs a fire-and-forget side effect (reaction, read receipt)
// under a short deadline. Failures are logged at debug level and dropped.
func BestEffort(ctx context.Context, log *slog.Logger, action string, fn func(context.Context) error) {
	effectCtx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Debug("Side effect panicked", "action", action, "panic", r)
		}
	}()

	if err := fn(effectCtx); err != nil {
		log.Debug("Side effect failed", "action", action, "error", err)
	}
}

func containsNumber(ids []string, number string) bool {
	if number == "" {
		return false
	}

	return slices.ContainsFunc(ids, func(id string) bool {
		return message.Number(id) == number
	})
}
