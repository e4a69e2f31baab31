package plugins

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/command"
	"ghostbot/pkg/message"
)

func menu(reg *command.Registry) command.Descriptor {
	return command.Descriptor{
		Pattern:     "menu",
		Aliases:     []string{"help", "list"},
		Category:    "main",
		Description: "List available commands",
		React:       "📜",
		Handler: func(ctx context.Context, _ channel.Conn, _ *events.Message, _ *message.Message, c *command.Context) error {
			_, err := c.Reply(ctx, renderMenu(reg.All(), c.Settings.Prefix, c.IsOwner))
			return err
		},
	}
}

// renderMenu lists named commands grouped by category. Owner-only commands
// are shown to owners only.
func renderMenu(descriptors []*command.Descriptor, prefix string, owner bool) string {
	groups := make(map[string][]*command.Descriptor)
	for _, d := range descriptors {
		if d.Pattern == "" || (d.OwnerOnly && !owner) {
			continue
		}
		category := d.Category
		if category == "" {
			category = "misc"
		}
		groups[category] = append(groups[category], d)
	}

	categories := make([]string, 0, len(groups))
	for category := range groups {
		categories = append(categories, category)
	}
	slices.Sort(categories)

	var b strings.Builder
	b.WriteString("📜 *Commands*\n")
	for _, category := range categories {
		entries := groups[category]
		slices.SortFunc(entries, func(a, b *command.Descriptor) int {
			return cmp.Compare(a.Pattern, b.Pattern)
		})

		b.WriteString("\n*" + strings.ToUpper(category) + "*\n")
		for _, d := range entries {
			b.WriteString("• " + prefix + d.Pattern)
			if len(d.Aliases) > 0 {
				b.WriteString(" (" + strings.Join(d.Aliases, ", ") + ")")
			}
			if d.Description != "" {
				b.WriteString(": " + d.Description)
			}
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
