package telegrampoller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// errStopRequested is the cancellation cause of a session ended by Stop.
var errStopRequested = errors.New("stop requested")

// Poller owns the polling lifecycle: one fetcher and one dispatcher per
// session, connected by a Buffer. At most one session runs at a time.
// Use New, NewFromConfig or NewPoller to create a Poller.
type Poller struct {
	cfg     Config
	source  UpdateSource
	handler UpdateHandler
	logger  *slog.Logger
	metrics *Metrics

	// mu guards the session state below and every lifecycle transition.
	mu       sync.Mutex
	running  bool
	starting *startAttempt // non-nil while Start deletes the webhook
	current  *session      // nil when stopped
	last     *session      // most recent session, kept for Wait and Offset
}

// startAttempt is a Start call waiting on webhook deletion outside the lock.
type startAttempt struct {
	cancel context.CancelCauseFunc
}

// session is the state created fresh by every Start.
type session struct {
	id         string
	cancel     context.CancelCauseFunc
	buffer     *Buffer
	fetcher    *fetcher
	dispatcher *dispatcher
	done       chan struct{}
}

// New creates a Poller that fetches updates from the Bot API with the given token.
//
// Example:
//
//	poller, err := telegrampoller.New(os.Getenv("TELEGRAM_BOT_TOKEN"), handler,
//	    telegrampoller.WithPolling(30, 100),
//	    telegrampoller.WithLogger(logger),
//	)
func New(botToken string, handler UpdateHandler, opts ...Option) (*Poller, error) {
	cfg := DefaultConfig()
	cfg.BotToken = botToken

	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newAPIPoller(cfg, handler)
}

// NewFromConfig creates a Poller from a config file, TELEGRAM_* env vars and
// options, with the precedence documented on LoadConfig.
func NewFromConfig(configPath string, handler UpdateHandler, opts ...Option) (*Poller, error) {
	cfg, err := LoadConfig(configPath, opts...)
	if err != nil {
		return nil, err
	}
	return newAPIPoller(*cfg, handler)
}

// NewPoller creates a Poller reading from an arbitrary source. The bot token
// and HTTP settings of the config are ignored.
func NewPoller(source UpdateSource, handler UpdateHandler, opts ...Option) (*Poller, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := resolveLogger(cfg)
	if err != nil {
		return nil, err
	}
	return newPoller(cfg, source, handler, logger)
}

// newAPIPoller wires an APIClient from a validated config.
func newAPIPoller(cfg Config, handler UpdateHandler) (*Poller, error) {
	if cfg.BotToken == "" {
		return nil, ErrBotTokenRequired
	}

	logger, err := resolveLogger(cfg)
	if err != nil {
		return nil, err
	}

	apiOpts := []APIOption{
		WithAPILogger(logger),
		WithAPIBaseURL(cfg.BaseURL),
		WithAPIHTTPClient(cfg.HTTPClient),
		WithRequestRate(cfg.RateLimitRequests, cfg.RateLimitBurst),
		WithCircuitBreaker(gobreaker.NewCircuitBreaker[[]byte](BreakerSettings(
			cfg.BreakerMaxRequests,
			cfg.BreakerInterval,
			cfg.BreakerTimeout,
			logger,
		))),
	}
	source := NewAPIClient(SecretToken(cfg.BotToken), cfg.PollingTimeout, apiOpts...)

	return newPoller(cfg, source, handler, logger)
}

func newPoller(cfg Config, source UpdateSource, handler UpdateHandler, logger *slog.Logger) (*Poller, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
		metrics: NewMetrics(cfg.Registerer),
	}, nil
}

// resolveLogger returns the configured logger or builds one from LogLevel and LogFilePath.
func resolveLogger(cfg Config) (*slog.Logger, error) {
	if cfg.Logger != nil {
		return cfg.Logger, nil
	}
	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(level, cfg.LogFilePath)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, nil
}

// Config returns a copy of the poller configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Start begins a new polling session with a zero cursor, fresh backoff and an
// empty buffer. The session also ends when ctx is done.
// Returns ErrAlreadyRunning if a session is active or another Start is still
// deleting the webhook, and ErrStartAborted if Stop was called meanwhile.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.starting != nil {
		return ErrAlreadyRunning
	}

	if p.cfg.DeleteWebhook {
		if remover, ok := p.source.(WebhookRemover); ok {
			if err := p.deleteWebhook(ctx, remover); err != nil {
				return err
			}
		} else {
			p.logger.Warn("delete_webhook set but the update source cannot delete webhooks")
		}
	}

	s, sessionCtx := p.newSession(ctx)
	p.running = true
	p.current = s
	p.last = s

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.fetcher.run(sessionCtx)
	}()
	go func() {
		defer wg.Done()
		s.dispatcher.run(sessionCtx)
	}()
	go func() {
		wg.Wait()
		p.finish(s)
		close(s.done)
	}()

	p.logger.Info("long polling started",
		"session_id", s.id,
		"timeout", p.cfg.PollingTimeout,
		"limit", p.cfg.PollingLimit,
		"allowed_updates", p.cfg.AllowedUpdates,
	)
	return nil
}

// deleteWebhook removes the webhook with p.mu released, so that IsRunning and
// the health checks answer while the request is in flight. Called and returns
// with p.mu held.
func (p *Poller) deleteWebhook(ctx context.Context, remover WebhookRemover) error {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	attempt := &startAttempt{cancel: cancel}
	p.starting = attempt

	p.mu.Unlock()
	p.logger.Info("deleting existing webhook before starting long polling")
	err := remover.DeleteWebhook(attemptCtx, p.cfg.DropPendingUpdates)
	p.mu.Lock()

	if p.starting != attempt {
		// Stop ran while the request was in flight
		return ErrStartAborted
	}
	p.starting = nil

	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

// newSession builds the per-session state. The worker loops run on the returned
// context, which ends on Stop or when parent is done.
func (p *Poller) newSession(parent context.Context) (*session, context.Context) {
	id := uuid.NewString()
	logger := p.logger.With("session_id", id)
	buffer := NewBuffer()

	sessionCtx, cancel := context.WithCancelCause(parent)

	s := &session{
		id:     id,
		cancel: cancel,
		buffer: buffer,
		fetcher: &fetcher{
			source:         p.source,
			buffer:         buffer,
			logger:         logger.With("component", "fetcher"),
			metrics:        p.metrics,
			limit:          p.cfg.PollingLimit,
			timeout:        p.cfg.PollingTimeout,
			allowedUpdates: p.cfg.AllowedUpdates,
			idleInterval:   p.cfg.IdleInterval,
			backoff: NewBackoff(
				p.cfg.RetryInitialDelay,
				p.cfg.RetryMaxDelay,
				p.cfg.RetryBackoffFactor,
				p.cfg.RetryJitter,
			),
			wait: sleepCtx,
		},
		dispatcher: &dispatcher{
			buffer:  buffer,
			handler: p.handler,
			logger:  logger.With("component", "dispatcher"),
			metrics: p.metrics,
		},
		done: make(chan struct{}),
	}

	return s, sessionCtx
}

// Stop cancels the running session and discards updates that were buffered
// but not yet handed to the handler. It does not wait for the workers to
// exit; use Wait for that. An in-flight handler call is allowed to finish,
// so a Start issued right after Stop may run the new session's handler calls
// alongside the tail of the old one; call Wait between them to avoid that.
// A Stop during webhook deletion aborts that Start.
// Returns ErrNotRunning if no session is active.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		if p.starting != nil {
			p.starting.cancel(errStopRequested)
			p.starting = nil
			p.logger.Info("start aborted during webhook deletion")
			return nil
		}
		return ErrNotRunning
	}

	s := p.current
	p.running = false
	p.current = nil

	s.cancel(errStopRequested)
	discarded := s.buffer.Close()
	p.metrics.updatesDiscarded.Add(float64(discarded))
	p.metrics.bufferDepth.Set(0)

	p.logger.Info("long polling stopped",
		"session_id", s.id,
		"discarded", discarded,
		"offset", s.fetcher.offset.Load(),
	)
	return nil
}

// finish runs once both workers of s have returned. If s ended on its own
// (parent context done) it is still current and is transitioned to stopped here.
func (p *Poller) finish(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != s {
		return
	}

	p.running = false
	p.current = nil

	s.cancel(context.Canceled)
	discarded := s.buffer.Close()
	p.metrics.updatesDiscarded.Add(float64(discarded))
	p.metrics.bufferDepth.Set(0)

	p.logger.Info("long polling session ended",
		"session_id", s.id,
		"discarded", discarded,
	)
}

// Wait blocks until the workers of the most recent session have exited, or
// ctx is done. It returns immediately if no session was ever started.
// Only the latest session is joined: after Stop followed by Start without a
// Wait in between, the earlier session's workers are no longer tracked.
func (p *Poller) Wait(ctx context.Context) error {
	p.mu.Lock()
	s := p.last
	p.mu.Unlock()

	if s == nil {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a polling session is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SessionID returns the id of the active session, or "" when stopped.
func (p *Poller) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ""
	}
	return p.current.id
}

// Offset returns the highest update id accepted in the most recent session.
func (p *Poller) Offset() int {
	p.mu.Lock()
	s := p.last
	p.mu.Unlock()

	if s == nil {
		return 0
	}
	return int(s.fetcher.offset.Load())
}

// Pending returns the number of updates waiting for the dispatcher.
func (p *Poller) Pending() int {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()

	if s == nil {
		return 0
	}
	return s.buffer.Len()
}

// ConsecutiveErrors returns the current consecutive fetch failure count.
func (p *Poller) ConsecutiveErrors() int32 {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()

	if s == nil {
		return 0
	}
	return s.fetcher.consecutiveErrors.Load()
}

// IsHealthy returns health status for K8s probes: running, and fewer than
// UnhealthyAfter consecutive fetch failures (0 disables the threshold).
func (p *Poller) IsHealthy() bool {
	if !p.IsRunning() {
		return false
	}
	if p.cfg.UnhealthyAfter == 0 {
		return true
	}
	return int(p.ConsecutiveErrors()) < p.cfg.UnhealthyAfter
}
