package plugins

import (
	"context"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/command"
	"ghostbot/pkg/message"
)

func autoReact() command.Descriptor {
	return command.Descriptor{
		Name:        "autoreact",
		Category:    "misc",
		Description: "React to incoming messages when AUTO_REACT is on",
		Trigger:     command.TriggerBody,
		Handler: func(ctx context.Context, _ channel.Conn, _ *events.Message, msg *message.Message, c *command.Context) error {
			if !c.Settings.AutoReact || c.Settings.AutoReactEmoji == "" || c.IsCmd || msg.FromMe {
				return nil
			}

			return c.React(ctx, c.Settings.AutoReactEmoji)
		},
	}
}
