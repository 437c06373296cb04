package telegrampoller

import (
	"context"
	"net/http"
)

// GetUpdatesParams are the arguments of a single long-poll request.
type GetUpdatesParams struct {
	// Offset is the identifier of the first update to return. Every update with
	// a smaller identifier is acknowledged by the remote side.
	Offset int
	// Limit caps the batch size (1-100).
	Limit int
	// Timeout is the long-poll timeout in seconds; 0 means short polling.
	Timeout int
	// AllowedUpdates filters update types; nil keeps the server-side setting.
	AllowedUpdates []string
}

// UpdateSource fetches batches of updates. APIClient is the HTTP implementation.
type UpdateSource interface {
	GetUpdates(ctx context.Context, params GetUpdatesParams) ([]Update, error)
}

// SourceFunc adapts a plain function to UpdateSource.
type SourceFunc func(ctx context.Context, params GetUpdatesParams) ([]Update, error)

// GetUpdates calls f.
func (f SourceFunc) GetUpdates(ctx context.Context, params GetUpdatesParams) ([]Update, error) {
	return f(ctx, params)
}

// UpdateHandler processes incoming Telegram updates.
// It is called sequentially, once per update, in update order.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update Update) error
}

// HandlerFunc adapts a plain function to UpdateHandler.
type HandlerFunc func(ctx context.Context, update Update) error

// HandleUpdate calls f.
func (f HandlerFunc) HandleUpdate(ctx context.Context, update Update) error {
	return f(ctx, update)
}

// WebhookRemover is implemented by sources that can drop a registered webhook
// before polling starts.
type WebhookRemover interface {
	DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error
}

// Receiver is the lifecycle surface of the poller. It allows for easy mocking in tests.
type Receiver interface {
	// Start begins a polling session.
	Start(ctx context.Context) error
	// Stop cancels the current polling session.
	Stop() error
	// IsRunning reports whether a session is active.
	IsRunning() bool
}

// Ensure Poller implements Receiver at compile time.
var _ Receiver = (*Poller)(nil)

// HTTPClient is an interface for HTTP client operations.
// This allows for mocking HTTP calls in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPClient.
var _ HTTPClient = (*http.Client)(nil)

// Ensure APIClient implements the source interfaces.
var (
	_ UpdateSource   = (*APIClient)(nil)
	_ WebhookRemover = (*APIClient)(nil)
)
