package command

import (
	"context"
	"errors"
	"slices"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/message"
	"ghostbot/pkg/settings"
)

// Context is built fresh for every dispatched message. Each handler of that
// message receives its own copy; Message, GroupMetadata and the Settings
// slices are shared and must be treated as read-only.
type Context struct {
	ChatID  string
	Body    string
	IsCmd   bool
	Command string
	Args    []string
	Q       string

	IsGroup      bool
	Sender       string
	SenderNumber string
	BotNumber    string
	PushName     string
	IsOwner      bool

	// Group fields are set only for group chats, and only when the metadata
	// lookup succeeded.
	GroupMetadata *channel.GroupMetadata
	GroupAdmins   []string
	IsAdmin       bool
	IsBotAdmin    bool

	// Settings is the snapshot the dispatch decision was made with.
	Settings settings.Snapshot

	Conn    channel.Conn
	Message *message.Message
}

var errNoConn = errors.New("context has no connection")

// Clone returns a copy of c whose Args and GroupAdmins can be modified
// without affecting c.
func (c *Context) Clone() *Context {
	cp := *c
	cp.Args = slices.Clone(c.Args)
	cp.GroupAdmins = slices.Clone(c.GroupAdmins)

	return &cp
}

// Reply sends text to the originating chat, quoting the inbound message.
func (c *Context) Reply(ctx context.Context, text string) (channel.Sent, error) {
	return c.send(ctx, channel.Payload{Text: text})
}

// ReplyWith sends an arbitrary payload to the originating chat, quoting the
// inbound message.
func (c *Context) ReplyWith(ctx context.Context, payload channel.Payload) (channel.Sent, error) {
	return c.send(ctx, payload)
}

// React reacts to the inbound message with emoji.
func (c *Context) React(ctx context.Context, emoji string) error {
	if c.Conn == nil {
		return errNoConn
	}

	_, err := c.Conn.Send(ctx, c.ChatID, channel.Payload{
		Reaction: &channel.Reaction{Emoji: emoji, Target: c.Message.Ref()},
	}, channel.SendOptions{})
	return err
}

func (c *Context) send(ctx context.Context, payload channel.Payload) (channel.Sent, error) {
	if c.Conn == nil {
		return channel.Sent{}, errNoConn
	}

	return c.Conn.Send(ctx, c.ChatID, payload, channel.SendOptions{Quoted: c.Message})
}
