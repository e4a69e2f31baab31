package plugins

import (
	"context"
	"strings"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/command"
	"ghostbot/pkg/message"
	"ghostbot/pkg/settings"
)

const fallbackAliveMessage = "👻 I'm alive!"

// AlivePayload renders the configured alive message, as an image caption
// when ALIVE_IMG is set.
func AlivePayload(snap settings.Snapshot) channel.Payload {
	text := strings.TrimSpace(snap.AliveMessage)
	if text == "" {
		text = fallbackAliveMessage
	}

	if image := strings.TrimSpace(snap.AliveImage); image != "" {
		return channel.Payload{Image: &channel.Media{URL: image, Caption: text}}
	}

	return channel.Payload{Text: text}
}

func alive() command.Descriptor {
	return command.Descriptor{
		Pattern:     "alive",
		Category:    "main",
		Description: "Check whether the bot is online",
		React:       "⚡",
		Handler: func(ctx context.Context, _ channel.Conn, _ *events.Message, _ *message.Message, c *command.Context) error {
			_, err := c.ReplyWith(ctx, AlivePayload(c.Settings))
			return err
		},
	}
}
