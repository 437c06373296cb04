package telegrampoller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Bot API endpoint prefix; the token is appended to it.
const DefaultBaseURL = "https://api.telegram.org/bot"

// APIClient talks to the Bot API getUpdates and deleteWebhook methods.
// Every call goes through a rate limiter and a circuit breaker.
type APIClient struct {
	botToken SecretToken
	baseURL  string
	logger   *slog.Logger

	client  HTTPClient
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
}

// APIOption configures the APIClient.
type APIOption func(*APIClient)

// WithAPIHTTPClient sets a custom HTTP client.
func WithAPIHTTPClient(client HTTPClient) APIOption {
	return func(c *APIClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAPIBaseURL overrides the Bot API endpoint (e.g. a local Bot API server).
func WithAPIBaseURL(baseURL string) APIOption {
	return func(c *APIClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithCircuitBreaker sets a custom circuit breaker.
func WithCircuitBreaker(breaker *gobreaker.CircuitBreaker[[]byte]) APIOption {
	return func(c *APIClient) {
		if breaker != nil {
			c.breaker = breaker
		}
	}
}

// WithRequestRate limits outbound requests to requestsPerSecond with the given burst.
// A non-positive rate disables limiting.
func WithRequestRate(requestsPerSecond float64, burst int) APIOption {
	return func(c *APIClient) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithAPILogger sets the logger used for circuit breaker events.
func WithAPILogger(logger *slog.Logger) APIOption {
	return func(c *APIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// BreakerSettings returns the circuit breaker configuration used by NewAPIClient.
func BreakerSettings(maxRequests uint32, interval, timeout time.Duration, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "telegram-polling",
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// A session stop aborts the in-flight long poll; that is not a remote failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
}

// NewAPIClient creates a Bot API client. pollTimeout (seconds) sizes the default
// HTTP client so that long-poll requests are not cut short.
func NewAPIClient(botToken SecretToken, pollTimeout int, opts ...APIOption) *APIClient {
	c := &APIClient{
		botToken: botToken,
		baseURL:  DefaultBaseURL,
		logger:   slog.Default(),
		client:   defaultPollingHTTPClient(pollTimeout),
		limiter:  rate.NewLimiter(rate.Inf, 0),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker[[]byte](
			BreakerSettings(5, 2*time.Minute, 60*time.Second, c.logger),
		)
	}

	return c
}

// defaultPollingHTTPClient creates an HTTP client optimized for long polling.
func defaultPollingHTTPClient(timeoutSeconds int) *http.Client {
	// Add extra time for network overhead beyond the Telegram timeout
	httpTimeout := time.Duration(timeoutSeconds+10) * time.Second

	return &http.Client{
		Timeout: httpTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: time.Duration(timeoutSeconds+5) * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// apiResponse is the envelope of every Bot API response.
type apiResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

type responseParameters struct {
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
	RetryAfter      int   `json:"retry_after,omitempty"`
}

// deleteWebhookRequest is the request body for the deleteWebhook call.
type deleteWebhookRequest struct {
	DropPendingUpdates bool `json:"drop_pending_updates,omitempty"`
}

// GetUpdates performs one getUpdates call. The server holds the request open
// for up to params.Timeout seconds when no update is pending.
func (c *APIClient) GetUpdates(ctx context.Context, params GetUpdatesParams) ([]Update, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(params.Offset))
	query.Set("timeout", strconv.Itoa(params.Timeout))
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if len(params.AllowedUpdates) > 0 {
		encoded, err := json.Marshal(params.AllowedUpdates)
		if err != nil {
			return nil, &APIError{Description: "failed to encode allowed_updates", Err: err}
		}
		query.Set("allowed_updates", string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getUpdates")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &APIError{Description: "failed to create request", Err: err}
	}

	var updates []Update
	if err := c.call(ctx, req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteWebhook removes the current webhook. getUpdates is refused by the
// remote side while a webhook is registered.
func (c *APIClient) DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error {
	body, err := json.Marshal(deleteWebhookRequest{DropPendingUpdates: dropPendingUpdates})
	if err != nil {
		return &APIError{Description: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("deleteWebhook"), bytes.NewReader(body))
	if err != nil {
		return &APIError{Description: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.call(ctx, req, nil)
}

// BreakerState returns the current circuit breaker state.
func (c *APIClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *APIClient) methodURL(method string) string {
	return fmt.Sprintf("%s%s/%s", c.baseURL, c.botToken.Value(), method)
}

// call sends req through the limiter and breaker and decodes the result into out.
func (c *APIClient) call(ctx context.Context, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Description: "rate limiter wait aborted", Err: err}
	}

	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			// Always drain remaining body for connection reuse
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		// 5xx counts against the breaker; 4xx bodies still carry a useful description.
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &APIError{Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return body, nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		// url.Error carries the request URL, and with it the token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return &APIError{Description: "request failed: " + urlErr.Op, Err: urlErr.Err}
		}
		return &APIError{Description: "request failed", Err: err}
	}

	var response apiResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return &APIError{Description: "failed to parse response", Err: err}
	}

	if !response.OK {
		apiErr := &APIError{
			Code:        response.ErrorCode,
			Description: response.Description,
		}
		if response.Parameters != nil && response.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(response.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(response.Result, out); err != nil {
		return &APIError{Description: "failed to parse result", Err: err}
	}
	return nil
}
