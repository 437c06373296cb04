package telegrampoller

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Poller. Use With* functions to create options.
// This interface-based approach prevents misuse and enables type safety.
type Option interface {
	apply(*Config)
}

// optionFunc wraps a function to implement Option interface.
type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// WithBotToken sets the bot token, overriding file and env values.
func WithBotToken(token string) Option {
	return optionFunc(func(c *Config) { c.BotToken = token })
}

// WithPolling sets the long-poll timeout (seconds) and batch limit.
func WithPolling(timeout, limit int) Option {
	return optionFunc(func(c *Config) {
		c.PollingTimeout = timeout
		c.PollingLimit = limit
	})
}

// WithAllowedUpdates filters which update types to receive.
// See https://core.telegram.org/bots/api#getupdates
func WithAllowedUpdates(types ...string) Option {
	return optionFunc(func(c *Config) { c.AllowedUpdates = types })
}

// WithIdleInterval sets the pause after an empty long-poll response.
func WithIdleInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.IdleInterval = d })
}

// WithDeleteWebhook deletes any registered webhook before each session starts.
func WithDeleteWebhook(dropPendingUpdates bool) Option {
	return optionFunc(func(c *Config) {
		c.DeleteWebhook = true
		c.DropPendingUpdates = dropPendingUpdates
	})
}

// WithUnhealthyAfter sets how many consecutive fetch failures mark the poller
// unhealthy. Polling continues regardless. Set to 0 to disable.
func WithUnhealthyAfter(n int) Option {
	return optionFunc(func(c *Config) { c.UnhealthyAfter = n })
}

// WithRetry configures exponential backoff retry settings.
func WithRetry(initialDelay, maxDelay time.Duration, backoffFactor float64) Option {
	return optionFunc(func(c *Config) {
		c.RetryInitialDelay = initialDelay
		c.RetryMaxDelay = maxDelay
		c.RetryBackoffFactor = backoffFactor
	})
}

// WithRetryJitter enables or disables random jitter on backoff delays.
func WithRetryJitter(enabled bool) Option {
	return optionFunc(func(c *Config) { c.RetryJitter = enabled })
}

// WithRateLimit paces outbound API requests.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return optionFunc(func(c *Config) {
		c.RateLimitRequests = requestsPerSecond
		c.RateLimitBurst = burst
	})
}

// WithBreakerConfig configures the circuit breaker.
func WithBreakerConfig(maxRequests uint32, interval, timeout time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.BreakerMaxRequests = maxRequests
		c.BreakerInterval = interval
		c.BreakerTimeout = timeout
	})
}

// WithBaseURL points the client at a different Bot API server.
func WithBaseURL(url string) Option {
	return optionFunc(func(c *Config) { c.BaseURL = url })
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(c *Config) { c.Logger = logger })
}

// WithLogLevel sets the level of the logger built when no Logger is given.
func WithLogLevel(level string) Option {
	return optionFunc(func(c *Config) { c.LogLevel = level })
}

// WithLogFile sets the log file path.
func WithLogFile(path string) Option {
	return optionFunc(func(c *Config) { c.LogFilePath = path })
}

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(client HTTPClient) Option {
	return optionFunc(func(c *Config) { c.HTTPClient = client })
}

// WithMetrics registers the poller's Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return optionFunc(func(c *Config) { c.Registerer = reg })
}

// Presets for common configurations

// ProductionPreset returns options suitable for production environments.
func ProductionPreset() Option {
	return optionFunc(func(c *Config) {
		c.UnhealthyAfter = 10
		c.RetryInitialDelay = 2 * time.Second
		c.RetryMaxDelay = 60 * time.Second
		c.RetryJitter = true
		c.BreakerMaxRequests = 5
	})
}

// DevelopmentPreset returns options suitable for development.
func DevelopmentPreset() Option {
	return optionFunc(func(c *Config) {
		c.UnhealthyAfter = 3
		c.RetryInitialDelay = 500 * time.Millisecond
		c.RetryMaxDelay = 5 * time.Second
		c.BreakerMaxRequests = 2
		c.LogLevel = "debug"
	})
}
