package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"postagent-go/internal/scheduler"
	"postagent-go/internal/storage"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPPort      int    `json:"http_port" yaml:"http_port" validate:"gte=0,lte=65535"`
	MetricsPort   int    `json:"metrics_port" yaml:"metrics_port" validate:"gte=0,lte=65535"`
	LogLevel      string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string `json:"log_format" yaml:"log_format" validate:"oneof=json console"`
	NumWorkers    int    `json:"num_workers" yaml:"num_workers" validate:"min=1"`
	DBPath        string `json:"db_path" yaml:"db_path" validate:"required"`
	EncryptionKey string `json:"encryption_key" yaml:"encryption_key" validate:"required,encryption_key"`

	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	TokenStore TokenStoreConfig `json:"token_store" yaml:"token_store"`
	Platform   PlatformConfig   `json:"platform" yaml:"platform"`
	Webhook    WebhookConfig    `json:"webhook" yaml:"webhook"`
	Telegram   TelegramConfig   `json:"telegram" yaml:"telegram"`
	Content    ContentConfig    `json:"content" yaml:"content"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
}

// AuthConfig configures the authorization code flow.
type AuthConfig struct {
	ClientID        string   `json:"client_id" yaml:"client_id" validate:"required"`
	ClientSecret    string   `json:"client_secret" yaml:"client_secret"`
	AuthURL         string   `json:"auth_url" yaml:"auth_url" validate:"required,url"`
	TokenURL        string   `json:"token_url" yaml:"token_url" validate:"required,url"`
	RedirectURL     string   `json:"redirect_url" yaml:"redirect_url" validate:"required,url"`
	Scopes          []string `json:"scopes" yaml:"scopes"`
	VerifierBytes   int      `json:"verifier_bytes" yaml:"verifier_bytes" validate:"min=32,max=96"`
	SlotTTL         Duration `json:"slot_ttl" yaml:"slot_ttl" validate:"min=1s,max=5m"`
	ExchangeTimeout Duration `json:"exchange_timeout" yaml:"exchange_timeout" validate:"min=1s"`
	RefreshWindow   Duration `json:"refresh_window" yaml:"refresh_window" validate:"min=0"`
	// ExposeTokens makes the callback answer with the token pair instead of a
	// bare acknowledgement.
	ExposeTokens bool `json:"expose_tokens" yaml:"expose_tokens"`
	CookieSecure bool `json:"cookie_secure" yaml:"cookie_secure"`
}

// SessionConfig selects where login slots live.
type SessionConfig struct {
	Backend         string   `json:"backend" yaml:"backend" validate:"oneof=memory valkey"`
	ValkeyAddr      string   `json:"valkey_addr" yaml:"valkey_addr" validate:"required_if=Backend valkey"`
	KeyPrefix       string   `json:"key_prefix" yaml:"key_prefix"`
	CleanupInterval Duration `json:"cleanup_interval" yaml:"cleanup_interval" validate:"min=1s"`
}

// TokenStoreConfig selects where the encrypted token pair is kept.
type TokenStoreConfig struct {
	Backend  string `json:"backend" yaml:"backend" validate:"oneof=file sqlite"`
	FilePath string `json:"file_path" yaml:"file_path" validate:"required_if=Backend file"`
}

// PlatformConfig configures the post endpoint.
type PlatformConfig struct {
	APIBaseURL       string   `json:"api_base_url" yaml:"api_base_url" validate:"required,url"`
	PostPath         string   `json:"post_path" yaml:"post_path" validate:"required,startswith=/"`
	MaxContentLength int      `json:"max_content_length" yaml:"max_content_length" validate:"gte=0"`
	RequestTimeout   Duration `json:"request_timeout" yaml:"request_timeout" validate:"min=1s"`
}

// WebhookConfig configures the inbound webhook and its registration.
type WebhookConfig struct {
	// Secret enables the signature check on /api/webhook when set.
	Secret          string   `json:"secret" yaml:"secret"`
	RegistrationURL string   `json:"registration_url" yaml:"registration_url" validate:"omitempty,url"`
	APIKey          string   `json:"api_key" yaml:"api_key" validate:"required_with=RegistrationURL"`
	Timeout         Duration `json:"timeout" yaml:"timeout" validate:"min=1s"`
}

// TelegramConfig configures operator alerts. An empty bot token disables them.
type TelegramConfig struct {
	BotToken string   `json:"bot_token" yaml:"bot_token"`
	ChatID   int64    `json:"chat_id" yaml:"chat_id"`
	LoginURL string   `json:"login_url" yaml:"login_url" validate:"omitempty,url"`
	Cooldown Duration `json:"cooldown" yaml:"cooldown" validate:"min=0"`
}

// ContentConfig selects the source of scheduled posts.
type ContentConfig struct {
	Source string       `json:"source" yaml:"source" validate:"oneof=none static openai"`
	Posts  []string     `json:"posts" yaml:"posts" validate:"required_if=Source static"`
	OpenAI OpenAIConfig `json:"openai" yaml:"openai"`
}

// OpenAIConfig configures generated content.
type OpenAIConfig struct {
	APIKey       string `json:"api_key" yaml:"api_key"`
	BaseURL      string `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Model        string `json:"model" yaml:"model"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	Prompt       string `json:"prompt" yaml:"prompt"`
	MaxTokens    int    `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
}

// SchedulerConfig configures the recurring jobs. An empty schedule disables
// that job.
type SchedulerConfig struct {
	PostSchedule    string   `json:"post_schedule" yaml:"post_schedule" validate:"omitempty,cron"`
	RefreshSchedule string   `json:"refresh_schedule" yaml:"refresh_schedule" validate:"omitempty,cron"`
	CleanupSchedule string   `json:"cleanup_schedule" yaml:"cleanup_schedule" validate:"omitempty,cron"`
	PostRetention   Duration `json:"post_retention" yaml:"post_retention" validate:"min=1h"`
	MaxRetries      int      `json:"max_retries" yaml:"max_retries" validate:"min=1"`
	PollInterval    Duration `json:"poll_interval" yaml:"poll_interval" validate:"min=1s"`
}

// Duration is a wrapper around time.Duration that implements JSON and YAML
// unmarshaling from either a duration string or a number of nanoseconds.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalYAML implements yaml.BytesUnmarshaler
func (d *Duration) UnmarshalYAML(b []byte) error {
	var v interface{}
	if err := yaml.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

// MarshalYAML implements yaml.InterfaceMarshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) set(v interface{}) error {
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case int:
		d.Duration = time.Duration(value)
	case int64:
		d.Duration = time.Duration(value)
	case uint64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration")
	}
	return nil
}

// Default returns the configuration used for every field a file or the
// environment leaves unset.
func Default() Config {
	return Config{
		HTTPPort:    8080,
		MetricsPort: 9090,
		LogLevel:    "info",
		LogFormat:   "json",
		NumWorkers:  2,
		DBPath:      "postagent.db",
		Auth: AuthConfig{
			AuthURL:         "https://twitter.com/i/oauth2/authorize",
			TokenURL:        "https://api.twitter.com/2/oauth2/token",
			RedirectURL:     "http://localhost:8080/api/login/callback",
			VerifierBytes:   32,
			SlotTTL:         Duration{5 * time.Minute},
			ExchangeTimeout: Duration{10 * time.Second},
			RefreshWindow:   Duration{5 * time.Minute},
		},
		Session: SessionConfig{
			Backend:         "memory",
			KeyPrefix:       "postagent",
			CleanupInterval: Duration{time.Minute},
		},
		TokenStore: TokenStoreConfig{
			Backend:  "file",
			FilePath: "tokens.enc",
		},
		Platform: PlatformConfig{
			APIBaseURL:     "https://api.twitter.com",
			PostPath:       "/2/tweets",
			RequestTimeout: Duration{15 * time.Second},
		},
		Webhook: WebhookConfig{
			Timeout: Duration{10 * time.Second},
		},
		Telegram: TelegramConfig{
			Cooldown: Duration{30 * time.Minute},
		},
		Content: ContentConfig{
			Source: "none",
		},
		Scheduler: SchedulerConfig{
			RefreshSchedule: "0 * * * *",
			CleanupSchedule: "30 3 * * *",
			PostRetention:   Duration{30 * 24 * time.Hour},
			MaxRetries:      scheduler.DefaultMaxRetries,
			PollInterval:    Duration{time.Minute},
		},
	}
}

// Load reads configuration from a file, if path is set, on top of the
// defaults and overrides it with environment variables. Files ending in .yaml
// or .yml are read as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"AUTH_CLIENT_ID":     &c.Auth.ClientID,
		"AUTH_CLIENT_SECRET": &c.Auth.ClientSecret,
		"AUTH_REDIRECT_URL":  &c.Auth.RedirectURL,
		"ENCRYPTION_KEY":     &c.EncryptionKey,
		"LOG_LEVEL":          &c.LogLevel,
		"DB_PATH":            &c.DBPath,
		"WEBHOOK_SECRET":     &c.Webhook.Secret,
		"WEBHOOK_API_KEY":    &c.Webhook.APIKey,
		"OPENAI_API_KEY":     &c.Content.OpenAI.APIKey,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
	}
	for name, field := range strs {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	ints := map[string]*int{
		"HTTP_PORT":    &c.HTTPPort,
		"METRICS_PORT": &c.MetricsPort,
	}
	for name, field := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", name, err)
			}
			*field = n
		}
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing TELEGRAM_CHAT_ID: %w", err)
		}
		c.Telegram.ChatID = id
	}

	// Setting an address is enough to switch the slot store to Valkey.
	if v := os.Getenv("VALKEY_ADDR"); v != "" {
		c.Session.ValkeyAddr = v
		c.Session.Backend = "valkey"
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := scheduler.ParseCron(fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}
	if err := validate.RegisterValidation("encryption_key", func(fl validator.FieldLevel) bool {
		_, err := storage.ParseKey(fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// Additional custom validations
	if c.Content.Source == "openai" && (c.Content.OpenAI.APIKey == "" || c.Content.OpenAI.Prompt == "") {
		return fmt.Errorf("content.openai.api_key and content.openai.prompt are required for the openai source")
	}
	if c.Scheduler.PostSchedule != "" && c.Content.Source == "none" {
		return fmt.Errorf("scheduler.post_schedule needs a content source")
	}
	if c.Telegram.BotToken == "" && c.Telegram.ChatID != 0 {
		return fmt.Errorf("telegram.chat_id is set but telegram.bot_token is empty")
	}

	return nil
}

// EncryptionKeyBytes returns the decoded encryption key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	return storage.ParseKey(c.EncryptionKey)
}
