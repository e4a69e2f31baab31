package plugins

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"ghostbot/pkg/channel"
	"ghostbot/pkg/command"
	"ghostbot/pkg/message"
)

func ping(deps Deps) command.Descriptor {
	startedAt := deps.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	return command.Descriptor{
		Pattern:     "ping",
		Category:    "test",
		Description: "Latency, uptime and memory report",
		OwnerOnly:   true,
		React:       "🏓",
		Handler: func(ctx context.Context, _ channel.Conn, _ *events.Message, _ *message.Message, c *command.Context) error {
			start := time.Now()
			if _, err := c.Reply(ctx, "🏓 Pinging..."); err != nil {
				return err
			}
			latency := time.Since(start)

			_, err := c.Reply(ctx, pingReport(latency, time.Since(startedAt)))
			return err
		},
	}
}

func pingReport(latency, uptime time.Duration) string {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var b strings.Builder
	b.WriteString("🏓 *PONG!*\n\n")
	fmt.Fprintf(&b, "📶 *Latency:* %dms\n", latency.Milliseconds())
	fmt.Fprintf(&b, "⏱ *Uptime:* %s\n", formatUptime(uptime))
	fmt.Fprintf(&b, "🧠 *Memory:* %.2f MB heap / %.2f MB sys\n", mb(mem.HeapAlloc), mb(mem.Sys))
	fmt.Fprintf(&b, "🧵 *Goroutines:* %d", runtime.NumGoroutine())

	return b.String()
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func mb(bytes uint64) float64 {
	return float64(bytes) / 1024 / 1024
}
