package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prilive-com/telegrampoller/telegrampoller"
)

// This example wires a handler programmatically.
// Run with: go run ./example
//
// Required environment variable: TELEGRAM_BOT_TOKEN

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN environment variable required")
	}

	poller, err := telegrampoller.New(token, telegrampoller.HandlerFunc(handleUpdate),
		telegrampoller.WithPolling(30, 100),
		telegrampoller.WithAllowedUpdates("message", "callback_query"),
		telegrampoller.WithDeleteWebhook(false),
		telegrampoller.DevelopmentPreset(),
	)
	if err != nil {
		log.Fatalf("Failed to create poller: %v", err)
	}

	if err := poller.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	slog.Info("Telegram poller running. Press Ctrl+C to stop.", "session_id", poller.SessionID())

	<-ctx.Done()
	if err := poller.Stop(); err != nil {
		// the session already ended with ctx
		slog.Debug("stop", "error", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	if err := poller.Wait(waitCtx); err != nil {
		slog.Warn("workers did not exit in time", "error", err)
	}
	slog.Info("stopped", "offset", poller.Offset())
}

func handleUpdate(_ context.Context, update telegrampoller.Update) error {
	fmt.Printf("\n--- Update ID: %d (%s) ---\n", update.UpdateID, update.Type())

	if update.Message != nil {
		msg := update.Message
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
