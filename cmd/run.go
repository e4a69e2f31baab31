package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ghostbot/pkg/channel/whatsapp"
	"ghostbot/pkg/config"
	"ghostbot/pkg/gateway"
	"ghostbot/pkg/logger"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to WhatsApp and serve commands",
	Long:  "Loads configuration, opens the settings and session stores, pairs or reconnects the WhatsApp session and dispatches incoming messages until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		if code := runBot(); code != 0 {
			os.Exit(code)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runBot returns the process exit code: 1 when bootstrap or the session fails.
func runBot() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	slog.SetDefault(appLogger)
	log := slog.Default().With("component", "cmd.run")

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := gateway.NewRuntime(runCtx, cfg, appLogger)
	if err != nil {
		log.Error("Failed to initialize runtime", "error", err)
		return 1
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("Failed to close settings store", "error", err)
		}
	}()

	adapter, err := whatsapp.NewAdapter(cfg.WhatsApp, appLogger)
	if err != nil {
		log.Error("WhatsApp configuration invalid", "error", err)
		return 1
	}
	if err := adapter.Open(runCtx); err != nil {
		log.Error("Failed to open WhatsApp session", "error", err)
		return 1
	}

	svc, err := gateway.NewService(cfg, adapter, rt.Dispatcher, rt.Bus, appLogger)
	if err != nil {
		log.Error("Failed to initialize gateway service", "error", err)
		return 1
	}

	log.Info("Bot started",
		"commands", rt.Registry.Len(),
		"mode", cfg.Bot.Mode,
		"prefix", cfg.Bot.Prefix,
		"ai", rt.AI != nil,
	)
	if err := svc.Run(runCtx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		log.Error("Bot stopped", "error", err)
		return 1
	}

	log.Info("Bot stopped")
	return 0
}
