package telegrampoller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"
)

// newTestFetcher builds a fetcher without jitter whose waits are recorded
// instead of slept.
func newTestFetcher(source UpdateSource) (*fetcher, *[]time.Duration) {
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	f := &fetcher{
		source:       source,
		buffer:       NewBuffer(),
		logger:       testLogger(),
		metrics:      NewMetrics(nil),
		limit:        100,
		timeout:      30,
		idleInterval: defaultIdleInterval,
		backoff:      NewBackoff(10*time.Millisecond, 80*time.Millisecond, 2.0, false),
	}
	f.wait = func(ctx context.Context, d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err() == nil
	}
	return f, &delays
}

func TestFetcher_AcceptsBatchAndAdvancesCursor(t *testing.T) {
	source := newScriptedSource(sourceStep{updates: updatesWithIDs(5, 7)})
	f, _ := newTestFetcher(source)

	pause := f.poll(context.Background())

	if pause != 0 {
		t.Errorf("expected no pause after a non-empty batch, got %v", pause)
	}
	if got := updateIDs(f.buffer.DrainAll()); !reflect.DeepEqual(got, []int{5, 7}) {
		t.Errorf("buffer = %v, want [5 7]", got)
	}
	if f.cursor != 7 {
		t.Errorf("cursor = %d, want 7", f.cursor)
	}
	if f.offset.Load() != 7 {
		t.Errorf("published offset = %d, want 7", f.offset.Load())
	}

	calls := source.Calls()
	if calls[0].Offset != 1 {
		t.Errorf("first request offset = %d, want 1", calls[0].Offset)
	}
	if calls[0].Limit != 100 || calls[0].Timeout != 30 {
		t.Errorf("unexpected request params: %+v", calls[0])
	}
}

func TestFetcher_DropsStaleUpdates(t *testing.T) {
	source := newScriptedSource(sourceStep{updates: updatesWithIDs(3)})
	f, _ := newTestFetcher(source)
	f.cursor = 7

	f.poll(context.Background())

	if f.buffer.Len() != 0 {
		t.Errorf("stale update must not be buffered, buffer has %d", f.buffer.Len())
	}
	if f.cursor != 7 {
		t.Errorf("cursor = %d, want 7", f.cursor)
	}
	if calls := source.Calls(); calls[0].Offset != 8 {
		t.Errorf("request offset = %d, want 8", calls[0].Offset)
	}
}

func TestFetcher_FiltersDuplicatesAndDisorderWithinBatch(t *testing.T) {
	tests := []struct {
		name       string
		cursor     int
		batch      []int
		want       []int
		wantCursor int
	}{
		{"id equal to cursor is stale", 4, []int{4, 5}, []int{5}, 5},
		{"duplicate ids in batch", 0, []int{1, 2, 2, 3}, []int{1, 2, 3}, 3},
		{"out of order entry", 0, []int{5, 3, 6}, []int{5, 6}, 6},
		{"everything stale", 10, []int{8, 9, 10}, []int{}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFetcher(nil)
			f.cursor = tt.cursor

			got := updateIDs(f.accept(updatesWithIDs(tt.batch...)))

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("accepted = %v, want %v", got, tt.want)
			}
			if f.cursor != tt.wantCursor {
				t.Errorf("cursor = %d, want %d", f.cursor, tt.wantCursor)
			}
		})
	}
}

func TestFetcher_CursorIsMonotonic(t *testing.T) {
	source := newScriptedSource(
		sourceStep{updates: updatesWithIDs(2, 4)},
		sourceStep{updates: updatesWithIDs(1, 3)},
		sourceStep{updates: updatesWithIDs(9)},
		sourceStep{err: errors.New("boom")},
		sourceStep{updates: updatesWithIDs(6, 10)},
	)
	f, _ := newTestFetcher(source)

	prev := f.cursor
	for range 5 {
		f.poll(context.Background())
		if f.cursor < prev {
			t.Fatalf("cursor moved backwards: %d -> %d", prev, f.cursor)
		}
		prev = f.cursor
	}

	if got := updateIDs(f.buffer.DrainAll()); !reflect.DeepEqual(got, []int{2, 4, 9, 10}) {
		t.Errorf("buffer = %v, want [2 4 9 10]", got)
	}
}

func TestFetcher_EmptyBatchPausesForIdleInterval(t *testing.T) {
	source := newScriptedSource(sourceStep{updates: []Update{}})
	f, _ := newTestFetcher(source)
	f.idleInterval = 250 * time.Millisecond

	if pause := f.poll(context.Background()); pause != 250*time.Millisecond {
		t.Errorf("pause = %v, want idle interval", pause)
	}
	if f.consecutiveErrors.Load() != 0 {
		t.Error("empty batch must not count as a failure")
	}
}

func TestFetcher_BackoffEscalatesAndResets(t *testing.T) {
	transportErr := errors.New("connection reset")
	source := newScriptedSource(
		sourceStep{err: transportErr},
		sourceStep{err: transportErr},
		sourceStep{err: transportErr},
		sourceStep{updates: updatesWithIDs(1)},
		sourceStep{err: transportErr},
	)
	f, delays := newTestFetcher(source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wait := f.wait
	f.wait = func(ctx context.Context, d time.Duration) bool {
		ok := wait(ctx, d)
		if len(*delays) == 4 {
			cancel()
		}
		return ok
	}

	done := make(chan struct{})
	go func() {
		f.run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fetcher did not stop after cancellation")
	}

	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		10 * time.Millisecond, // reset by the successful fetch
	}
	if !reflect.DeepEqual(*delays, want) {
		t.Errorf("delays = %v, want %v", *delays, want)
	}
	if got := updateIDs(f.buffer.DrainAll()); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("buffer = %v, want [1]", got)
	}
	if f.cursor != 1 {
		t.Errorf("cursor = %d, want 1", f.cursor)
	}
}

func TestFetcher_FailureLeavesCursorAndBufferAlone(t *testing.T) {
	source := newScriptedSource(sourceStep{err: &APIError{Code: 502, Description: "Bad Gateway"}})
	f, _ := newTestFetcher(source)
	f.cursor = 41
	f.buffer.Append(updatesWithIDs(40, 41))

	pause := f.poll(context.Background())

	if pause != 10*time.Millisecond {
		t.Errorf("pause = %v, want initial backoff", pause)
	}
	if f.cursor != 41 {
		t.Errorf("cursor = %d, want 41", f.cursor)
	}
	if f.buffer.Len() != 2 {
		t.Errorf("buffer len = %d, want 2", f.buffer.Len())
	}
	if f.consecutiveErrors.Load() != 1 {
		t.Errorf("consecutive errors = %d, want 1", f.consecutiveErrors.Load())
	}
}

func TestFetcher_HonoursRetryAfter(t *testing.T) {
	source := newScriptedSource(sourceStep{err: &APIError{
		Code:        429,
		Description: "Too Many Requests: retry after 3",
		RetryAfter:  3 * time.Second,
	}})
	f, _ := newTestFetcher(source)

	if pause := f.poll(context.Background()); pause != 3*time.Second {
		t.Errorf("pause = %v, want retry_after of 3s", pause)
	}
}

func TestFetcher_StopsWhileBlockedInFetch(t *testing.T) {
	source := newScriptedSource() // blocks like an idle long poll
	f, _ := newTestFetcher(source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fetcher blocked in fetch did not stop")
	}
	if f.consecutiveErrors.Load() != 0 {
		t.Error("cancellation must not be counted as a fetch failure")
	}
}

func TestFetcher_StopsWhileSleeping(t *testing.T) {
	source := newScriptedSource(sourceStep{err: errors.New("down")})
	f, _ := newTestFetcher(source)
	f.backoff = NewBackoff(time.Hour, time.Hour, 2, false)
	f.wait = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fetcher sleeping in backoff did not stop")
	}
}

func TestFetcher_DropsBatchIntoClosedBuffer(t *testing.T) {
	source := newScriptedSource(sourceStep{updates: updatesWithIDs(1, 2)})
	f, _ := newTestFetcher(source)
	f.buffer.Close()

	f.poll(context.Background())

	if f.buffer.Len() != 0 {
		t.Errorf("closed buffer must stay empty, has %d", f.buffer.Len())
	}
}

func TestFetcher_FailureLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
	}{
		{"transport failure", errors.New("connection reset"), "WARN"},
		{"bad gateway", &APIError{Code: 502, Description: "Bad Gateway"}, "WARN"},
		{"flood control", &APIError{Code: 429, Description: "Too Many Requests", RetryAfter: time.Second}, "WARN"},
		{"request failed without code", &APIError{Description: "request failed", Err: errors.New("eof")}, "WARN"},
		{"unauthorized", &APIError{Code: 401, Description: "Unauthorized"}, "ERROR"},
		{"webhook conflict", &APIError{Code: 409, Description: "Conflict"}, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			f, _ := newTestFetcher(newScriptedSource(sourceStep{err: tt.err}))
			f.logger = slog.New(slog.NewJSONHandler(&buf, nil))

			f.poll(context.Background())

			var entry struct {
				Level string `json:"level"`
				Msg   string `json:"msg"`
			}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("decoding log line %q: %v", buf.String(), err)
			}
			if entry.Msg != "failed to fetch updates" {
				t.Fatalf("unexpected log message %q", entry.Msg)
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", entry.Level, tt.wantLevel)
			}
		})
	}
}
