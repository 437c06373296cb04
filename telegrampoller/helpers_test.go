package telegrampoller

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"
)

// validTestToken matches the bot token format; it is never sent to Telegram.
const validTestToken = "123456789:ABCdefGHIjklMNOpqrSTUvwxYZ0123456789"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sourceStep is one scripted getUpdates outcome.
type sourceStep struct {
	updates []Update
	err     error
}

// scriptedSource replays steps in order, then behaves like an idle long poll
// and blocks until the request context ends.
type scriptedSource struct {
	mu    sync.Mutex
	steps []sourceStep
	calls []GetUpdatesParams
}

func newScriptedSource(steps ...sourceStep) *scriptedSource {
	return &scriptedSource{steps: steps}
}

func (s *scriptedSource) GetUpdates(ctx context.Context, params GetUpdatesParams) ([]Update, error) {
	s.mu.Lock()
	s.calls = append(s.calls, params)
	if len(s.steps) > 0 {
		step := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		return step.updates, step.err
	}
	s.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedSource) Calls() []GetUpdatesParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GetUpdatesParams(nil), s.calls...)
}

// recordingHandler records update ids in call order.
type recordingHandler struct {
	mu  sync.Mutex
	ids []int
	fn  func(ctx context.Context, update Update) error
}

func (h *recordingHandler) HandleUpdate(ctx context.Context, update Update) error {
	h.mu.Lock()
	h.ids = append(h.ids, update.UpdateID)
	h.mu.Unlock()

	if h.fn != nil {
		return h.fn(ctx, update)
	}
	return nil
}

func (h *recordingHandler) IDs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.ids...)
}

func updatesWithIDs(ids ...int) []Update {
	updates := make([]Update, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, Update{UpdateID: id})
	}
	return updates
}

func updateIDs(updates []Update) []int {
	ids := make([]int, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.UpdateID)
	}
	return ids
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

// testTransport intercepts HTTP requests and redirects them to the test server.
type testTransport struct {
	baseURL    string
	httpClient *http.Client
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Rewrite the URL to point to our test server
	newURL := t.baseURL + req.URL.Path
	if req.URL.RawQuery != "" {
		newURL += "?" + req.URL.RawQuery
	}

	newReq, err := http.NewRequestWithContext(req.Context(), req.Method, newURL, req.Body)
	if err != nil {
		return nil, err
	}
	newReq.Header = req.Header

	return t.httpClient.Transport.RoundTrip(newReq)
}
