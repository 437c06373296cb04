package telegrampoller

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// defaultIdleInterval is the pause after an empty long-poll response.
const defaultIdleInterval = 500 * time.Millisecond

// fetcher runs the getUpdates loop of one polling session. The cursor is only
// touched by the fetcher goroutine; offset and consecutiveErrors are published
// copies for readers on other goroutines.
type fetcher struct {
	source  UpdateSource
	buffer  *Buffer
	logger  *slog.Logger
	metrics *Metrics

	limit          int
	timeout        int
	allowedUpdates []string
	idleInterval   time.Duration

	backoff *Backoff
	cursor  int

	offset            atomic.Int64
	consecutiveErrors atomic.Int32

	// wait pauses between polls; replaced in tests to observe delays.
	wait func(ctx context.Context, d time.Duration) bool
}

// run polls until ctx is cancelled. A failed fetch never ends the loop.
func (f *fetcher) run(ctx context.Context) {
	f.logger.Info("fetcher started",
		"timeout", f.timeout,
		"limit", f.limit,
	)

	for {
		if ctx.Err() != nil {
			f.logger.Info("fetcher stopped", "reason", context.Cause(ctx), "offset", f.cursor)
			return
		}

		pause := f.poll(ctx)
		if pause > 0 && !f.wait(ctx, pause) {
			f.logger.Info("fetcher stopped while waiting", "reason", context.Cause(ctx), "offset", f.cursor)
			return
		}
	}
}

// poll performs one getUpdates call and returns how long to pause before the next one.
func (f *fetcher) poll(ctx context.Context) time.Duration {
	params := GetUpdatesParams{
		Offset:         f.cursor + 1,
		Limit:          f.limit,
		Timeout:        f.timeout,
		AllowedUpdates: f.allowedUpdates,
	}

	started := time.Now()
	updates, err := f.source.GetUpdates(ctx, params)
	f.metrics.fetchDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// aborted by stop; the loop exits on its next check
			return 0
		}
		return f.onFailure(err, params.Offset)
	}

	f.consecutiveErrors.Store(0)
	f.backoff.Reset()

	if len(updates) == 0 {
		return f.idleInterval
	}

	fresh := f.accept(updates)
	if len(fresh) == 0 {
		return 0
	}

	if !f.buffer.Append(fresh) {
		f.logger.Debug("buffer closed, batch discarded", "count", len(fresh))
		return 0
	}
	f.metrics.updatesFetched.Add(float64(len(fresh)))
	f.metrics.bufferDepth.Set(float64(f.buffer.Len()))

	f.logger.Debug("updates buffered",
		"count", len(fresh),
		"first_update_id", fresh[0].UpdateID,
		"last_update_id", fresh[len(fresh)-1].UpdateID,
	)
	return 0
}

// accept drops stale updates and advances the cursor. An update is stale when
// its id is not above the highest id seen so far, which also removes duplicates
// and out-of-order entries within the batch.
func (f *fetcher) accept(batch []Update) []Update {
	fresh := make([]Update, 0, len(batch))
	for _, update := range batch {
		if update.UpdateID <= f.cursor {
			f.metrics.updatesStale.Inc()
			f.logger.Debug("dropping stale update",
				"update_id", update.UpdateID,
				"cursor", f.cursor,
			)
			continue
		}
		f.cursor = update.UpdateID
		fresh = append(fresh, update)
	}
	f.offset.Store(int64(f.cursor))
	return fresh
}

// onFailure records a failed fetch and returns the backoff delay. Transient
// failures log at Warn, failures that need operator action at Error.
func (f *fetcher) onFailure(err error, offset int) time.Duration {
	delay := f.backoff.Next()

	// Errors from sources other than the Bot API are treated as transient.
	level := slog.LevelWarn
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > delay {
			delay = apiErr.RetryAfter
		}
		if !apiErr.Temporary() {
			level = slog.LevelError
		}
	}

	errCount := f.consecutiveErrors.Add(1)
	f.metrics.fetchErrors.Inc()
	f.logger.Log(context.Background(), level, "failed to fetch updates",
		"error", err,
		"offset", offset,
		"consecutive_errors", errCount,
		"retry_delay", delay,
	)
	return delay
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
