package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prilive-com/telegrampoller/telegrampoller"
)

var (
	cfgFile  string
	token    string
	logLevel string
	rawJSON  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "telegrampoller",
		Short:         "Receive Telegram bot updates by long polling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("TELEGRAM_CONFIG"), "config file path (or set TELEGRAM_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bot token (defaults to TELEGRAM_BOT_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkConfigCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cliOptions turns the persistent flags into poller options.
func cliOptions() []telegrampoller.Option {
	var opts []telegrampoller.Option
	if token != "" {
		opts = append(opts, telegrampoller.WithBotToken(token))
	}
	if logLevel != "" {
		opts = append(opts, telegrampoller.WithLogLevel(logLevel))
	}
	return opts
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for updates and print them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			poller, err := telegrampoller.NewFromConfig(cfgFile, telegrampoller.HandlerFunc(printUpdate), cliOptions()...)
			if err != nil {
				return err
			}

			if err := poller.Start(ctx); err != nil {
				return fmt.Errorf("starting poller: %w", err)
			}
			fmt.Fprintln(os.Stderr, "Polling for updates. Press Ctrl+C to stop.")

			<-ctx.Done()

			// The session may already have wound down on its own after ctx ended.
			if err := poller.Stop(); err != nil && !errors.Is(err, telegrampoller.ErrNotRunning) {
				return err
			}

			waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := poller.Wait(waitCtx); err != nil {
				return fmt.Errorf("waiting for poller shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&rawJSON, "json", false, "print each update as a JSON line")
	return cmd
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration without polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := telegrampoller.LoadConfig(cfgFile, cliOptions()...)
			if err != nil {
				return err
			}
			if err := telegrampoller.ValidateBotToken(telegrampoller.SecretToken(cfg.BotToken)); err != nil {
				return fmt.Errorf("bot_token: %w", err)
			}

			fmt.Printf("config OK: timeout=%ds limit=%d allowed_updates=%v retry=%s..%s x%.1f\n",
				cfg.PollingTimeout,
				cfg.PollingLimit,
				cfg.AllowedUpdates,
				cfg.RetryInitialDelay,
				cfg.RetryMaxDelay,
				cfg.RetryBackoffFactor,
			)
			return nil
		},
	}
}

func printUpdate(_ context.Context, update telegrampoller.Update) error {
	if rawJSON {
		line, err := json.Marshal(update)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
		return nil
	}

	fmt.Printf("\n--- Update ID: %d (%s) ---\n", update.UpdateID, update.Type())

	if msg := update.Message; msg != nil {
		if msg.From != nil {
			fmt.Printf("From: %s (@%s)\n", msg.From.FirstName, msg.From.Username)
		}
		if msg.Text != "" {
			fmt.Printf("Text: %s\n", msg.Text)
		}
	}

	if cb := update.CallbackQuery; cb != nil && cb.From != nil {
		fmt.Printf("Callback: %s from %s\n", cb.Data, cb.From.Username)
	}
	return nil
}
