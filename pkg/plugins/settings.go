package plugins

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/command"
	"ghostbot/pkg/message"
	"ghostbot/pkg/settings"
)

func set(deps Deps) command.Descriptor {
	return command.Descriptor{
		Pattern:     "set",
		Category:    "owner",
		Description: "Show or change bot settings",
		Usage:       "set <KEY> <VALUE>",
		OwnerOnly:   true,
		React:       "⚙️",
		Handler: func(ctx context.Context, _ channel.Conn, _ *events.Message, _ *message.Message, c *command.Context) error {
			if deps.Settings == nil {
				_, err := c.Reply(ctx, "❌ Settings store is not available.")
				return err
			}

			if len(c.Args) == 0 {
				entries, err := deps.Settings.Visible(ctx)
				if err != nil {
					return fmt.Errorf("list settings: %w", err)
				}
				_, err = c.Reply(ctx, renderSettings(entries))
				return err
			}

			if len(c.Args) < 2 {
				_, err := c.Reply(ctx, setUsage(c.Settings.Prefix))
				return err
			}

			key := c.Args[0]
			if settings.IsHidden(key) {
				_, err := c.Reply(ctx, "🚫 *You cannot update this key via this command.*")
				return err
			}

			stored, err := deps.Settings.Set(ctx, key, strings.Join(c.Args[1:], " "))
			switch {
			case errors.Is(err, settings.ErrUnknownKey):
				_, err = c.Reply(ctx, "❌ Unknown setting.\n"+setUsage(c.Settings.Prefix))
				return err
			case errors.Is(err, settings.ErrInvalidValue):
				_, err = c.Reply(ctx, "❌ "+err.Error())
				return err
			case err != nil:
				return fmt.Errorf("set %s: %w", key, err)
			}

			_, err = c.Reply(ctx, fmt.Sprintf("✅ Setting updated: %s = %s", strings.ToUpper(key), stored))
			return err
		},
	}
}

func renderSettings(entries []settings.Entry) string {
	var b strings.Builder
	b.WriteString("📌 *Current Bot Settings:*\n")
	for _, entry := range entries {
		b.WriteString("\n• " + entry.Key + ": " + entry.Value)
	}

	return b.String()
}

func setUsage(prefix string) string {
	visible := make([]string, 0, len(settings.Keys()))
	for _, key := range settings.Keys() {
		if !settings.IsHidden(key) {
			visible = append(visible, key)
		}
	}

	return fmt.Sprintf("📌 *Usage:* `%sset <KEY> <VALUE>`\nKeys: %s", prefix, strings.Join(visible, ", "))
}

func auth(deps Deps) command.Descriptor {
	return command.Descriptor{
		Pattern:     "auth",
		Category:    "auth",
		Description: "Authenticate to access owner commands",
		Usage:       "auth <secret>",
		React:       "🔑",
		Handler: func(ctx context.Context, _ channel.Conn, _ *events.Message, _ *message.Message, c *command.Context) error {
			if len(c.Args) == 0 {
				_, err := c.Reply(ctx, fmt.Sprintf("📌 *Usage:* `%sauth <secret_key>`", c.Settings.Prefix))
				return err
			}

			secret := strings.TrimSpace(deps.AuthSecret)
			if secret == "" || deps.Settings == nil {
				_, err := c.Reply(ctx, "❌ Authorization is disabled.")
				return err
			}
			if subtle.ConstantTimeCompare([]byte(c.Args[0]), []byte(secret)) != 1 {
				_, err := c.Reply(ctx, "❌ *Invalid secret key!*")
				return err
			}

			if _, err := deps.Settings.AddAuthUser(ctx, c.SenderNumber); err != nil {
				return fmt.Errorf("authorize %s: %w", c.SenderNumber, err)
			}

			_, err := c.Reply(ctx, "🔓 *Authorization successful!*\nYou now have access to owner commands.")
			return err
		},
	}
}
