package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"ghostbot/pkg/config"
	"ghostbot/pkg/logger"
	"ghostbot/pkg/settings"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or edit the runtime settings store",
	Long:  "Reads and writes the same settings the bot hot-reloads on every message. The bot does not need to be running.",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd.Context(), func(ctx context.Context, store *settings.Store) error {
			values, err := store.All(ctx)
			if err != nil {
				return err
			}
			return writeSettings(cmd.OutOrStdout(), values)
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <KEY> <VALUE>",
	Short: "Change one setting",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(cmd.Context(), func(ctx context.Context, store *settings.Store) error {
			value, err := store.Set(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", strings.ToUpper(strings.TrimSpace(args[0])), value)
			return err
		})
	},
}

func init() {
	settingsCmd.AddCommand(settingsListCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

// withSettings opens the configured store, seeds missing defaults and runs fn.
func withSettings(ctx context.Context, fn func(context.Context, *settings.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	store, err := settings.Open(ctx, cfg.Settings.Path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.Seed(ctx, settings.Defaults(cfg.Bot)); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	if _, err := store.Pin(ctx, settings.Pinned(cfg.Bot)); err != nil {
		return fmt.Errorf("pin settings: %w", err)
	}

	return fn(ctx, store)
}

func writeSettings(w io.Writer, values map[string]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, key := range settings.Keys() {
		value, ok := values[key]
		if !ok {
			continue
		}
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", key, value)
	}

	return tw.Flush()
}
