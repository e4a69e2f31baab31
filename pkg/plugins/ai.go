package plugins

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/command"
	"ghostbot/pkg/message"
)

func ai(deps Deps) command.Descriptor {
	log := deps.Log
	return command.Descriptor{
		Pattern:     "ai",
		Aliases:     []string{"gemini", "gpt", "chatgpt"},
		Category:    "ai",
		Description: "Ask the AI assistant anything",
		Usage:       "ai <question>",
		OwnerOnly:   true,
		React:       "🤖",
		Timeout:     2 * time.Minute,
		Handler: func(ctx context.Context, _ channel.Conn, _ *events.Message, _ *message.Message, c *command.Context) error {
			if c.Q == "" {
				_, err := c.Reply(ctx, fmt.Sprintf("❗ Please ask me something.\nExample: `%sai What is AI?`", c.Settings.Prefix))
				return err
			}
			if deps.AI == nil {
				_, err := c.Reply(ctx, "❌ AI is not configured.")
				return err
			}

			answer, err := deps.AI.Ask(ctx, askPrompt(c.PushName, c.Q))
			if err != nil {
				if log != nil {
					log.Warn("AI request failed", "component", "plugins.ai", "error", err)
				}
				_, replyErr := c.Reply(ctx, "❌ AI error. Please try again later.")
				if replyErr != nil {
					return replyErr
				}
				return err
			}

			_, err = c.Reply(ctx, answer)
			return err
		},
	}
}

func askPrompt(pushName, question string) string {
	if pushName == "" {
		return question
	}

	return fmt.Sprintf("User (%s) asks:\n%s", pushName, question)
}
