package telegrampoller

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// envPrefix is the prefix of environment variables read by LoadConfig.
const envPrefix = "TELEGRAM_"

// Config holds all configuration for a Poller.
// Use DefaultConfig() to get sensible defaults.
type Config struct {
	// Required for New and NewFromConfig; unused when the source is injected.
	BotToken string `koanf:"bot_token" validate:"omitempty,bottoken"`
	BaseURL  string `koanf:"base_url" validate:"omitempty,url"`

	// Long polling settings
	PollingTimeout     int           `koanf:"polling_timeout" validate:"gte=0,lte=60"`
	PollingLimit       int           `koanf:"polling_limit" validate:"gte=1,lte=100"`
	AllowedUpdates     []string      `koanf:"allowed_updates" validate:"dive,required"`
	IdleInterval       time.Duration `koanf:"idle_interval" validate:"gte=0"`
	DeleteWebhook      bool          `koanf:"delete_webhook"`
	DropPendingUpdates bool          `koanf:"drop_pending_updates"`
	UnhealthyAfter     int           `koanf:"unhealthy_after" validate:"gte=0"`

	// Retry settings (exponential backoff)
	RetryInitialDelay  time.Duration `koanf:"retry_initial_delay" validate:"gt=0"`
	RetryMaxDelay      time.Duration `koanf:"retry_max_delay" validate:"gtefield=RetryInitialDelay"`
	RetryBackoffFactor float64       `koanf:"retry_backoff_factor" validate:"gt=1"`
	RetryJitter        bool          `koanf:"retry_jitter"`

	// Outbound request pacing; 0 disables it
	RateLimitRequests float64 `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitBurst    int     `koanf:"rate_limit_burst" validate:"gte=0"`

	// Circuit breaker
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests" validate:"gte=1"`
	BreakerInterval    time.Duration `koanf:"breaker_interval" validate:"gte=0"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout" validate:"gte=0"`

	// Logging
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFilePath string `koanf:"log_file_path"`

	// Programmatic only
	Logger     *slog.Logger          `koanf:"-" validate:"-"`
	HTTPClient HTTPClient            `koanf:"-" validate:"-"`
	Registerer prometheus.Registerer `koanf:"-" validate:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollingTimeout:     30,
		PollingLimit:       100,
		IdleInterval:       defaultIdleInterval,
		UnhealthyAfter:     10,
		RetryInitialDelay:  defaultRetryInitialDelay,
		RetryMaxDelay:      defaultRetryMaxDelay,
		RetryBackoffFactor: defaultRetryBackoffFactor,
		RetryJitter:        true,
		BreakerMaxRequests: 5,
		BreakerInterval:    2 * time.Minute,
		BreakerTimeout:     60 * time.Second,
		LogLevel:           "info",
	}
}

// validate is the shared validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use koanf keys in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	validate.RegisterValidation("bottoken", validateBotTokenField)
}

// botTokenPattern matches "<bot id>:<secret>", e.g. 123456789:ABCdefGHIjklMNOpqrSTUvwxYZ012345678.
var botTokenPattern = regexp.MustCompile(`^[0-9]{1,20}:[A-Za-z0-9_-]{30,}$`)

// ValidateBotToken checks the format of a bot token without contacting the API.
func ValidateBotToken(token SecretToken) error {
	if token.Value() == "" {
		return ErrBotTokenRequired
	}
	if !botTokenPattern.MatchString(token.Value()) {
		return ErrInvalidBotToken
	}
	return nil
}

// validateBotTokenField is a validator.Func for bot token format
func validateBotTokenField(fl validator.FieldLevel) bool {
	return ValidateBotToken(SecretToken(fl.Field().String())) == nil
}

// Validate checks cfg and returns a user-friendly error naming the offending key.
func (cfg *Config) Validate() error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "bottoken":
			msgs = append(msgs, fmt.Sprintf("%s: %v (format: 123456789:ABCdefGHI...)", fe.Field(), ErrInvalidBotToken))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: must be one of [%s]", fe.Field(), fe.Param()))
		case "gtefield":
			msgs = append(msgs, fmt.Sprintf("%s: must not be below retry_initial_delay", fe.Field()))
		case "":
			msgs = append(msgs, fmt.Sprintf("%s: invalid", fe.Field()))
		default:
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
			}
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// LoadConfig loads configuration from file, env vars, and applies options.
// Configuration precedence (highest to lowest):
//  1. Programmatic options (opts...)
//  2. Environment variables (TELEGRAM_*)
//  3. Config file (if path provided and present)
//  4. Default values
func LoadConfig(configPath string, opts ...Option) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	}

	// TELEGRAM_POLLING_TIMEOUT -> polling_timeout
	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if key == "allowed_updates" {
			return key, splitList(value)
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// splitList splits a comma separated env value, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
