package telegrampoller

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for the polling lifecycle.
var (
	ErrAlreadyRunning = errors.New("poller is already running")
	ErrNotRunning     = errors.New("poller is not running")
	ErrStartAborted   = errors.New("start aborted by stop")
)

// ErrBufferClosed is returned by Buffer.AwaitNonEmpty once the buffer has been closed.
var ErrBufferClosed = errors.New("update buffer closed")

// Sentinel errors for construction and configuration.
var (
	ErrBotTokenRequired = errors.New("bot_token is required (set via TELEGRAM_BOT_TOKEN env var)")
	ErrInvalidBotToken  = errors.New("invalid bot token format")
	ErrNilSource        = errors.New("update source must not be nil")
	ErrNilHandler       = errors.New("update handler must not be nil")
)

// APIError represents an error response from the Bot API, or a transport
// failure while talking to it.
type APIError struct {
	Code        int
	Description string
	// RetryAfter is the flood-control hint sent with 429 responses.
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telegram API error [%d]: %s: %v", e.Code, e.Description, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("telegram API error [%d]: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("telegram API error: %s", e.Description)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is worth retrying soon: transport
// errors, flood control and 5xx responses.
func (e *APIError) Temporary() bool {
	switch {
	case e.Code == 0:
		return true
	case e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
