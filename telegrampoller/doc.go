// Package telegrampoller receives Telegram Bot API updates by long polling
// and delivers them, in order, to an application handler.
//
// # Quick Start
//
//	poller, err := telegrampoller.New(token,
//	    telegrampoller.HandlerFunc(func(ctx context.Context, u telegrampoller.Update) error {
//	        log.Println(u.UpdateID, u.Type())
//	        return nil
//	    }),
//	    telegrampoller.WithPolling(30, 100),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := poller.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer poller.Stop()
//
// # Pipeline
//
// Each session runs two goroutines joined by a Buffer:
//
//   - the fetcher calls getUpdates with offset = cursor+1, drops updates whose
//     id is not above the cursor, appends the rest and advances the cursor.
//     Empty responses pause for IdleInterval; failures pause for an exponential
//     backoff that resets after the next success. Failures never end the loop.
//   - the dispatcher drains the buffer and calls the handler once per update,
//     sequentially. Handler errors and panics are logged, not retried.
//
// Stop cancels both goroutines and discards updates still sitting in the
// buffer: delivery is at most once. A new Start begins from a zero cursor,
// which makes the remote side resend everything it has not seen acknowledged.
//
// # Features
//
//   - Circuit breaker with sony/gobreaker
//   - Outbound request pacing with x/time/rate
//   - Retry with exponential backoff and crypto jitter, honouring retry_after
//   - Config from defaults, YAML, TELEGRAM_* env vars and options (koanf)
//   - Token auto-redaction in logs
//   - Prometheus metrics and a health check for probes
package telegrampoller
