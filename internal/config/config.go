// Package config handles loading and validating the application
// configuration from a relay.json file.
//
// The configuration file is expected to be a JSON object with database
// connection details, the HTTP listen address, the session token secret,
// notifier selection, and the upstream LLM settings.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// Notifier backends selectable via the "notifier" key.
const (
	NotifierMemory = "memory"
	NotifierRedis  = "redis"
	NotifierNATS   = "nats"
)

// LLM modes and APIs selectable via the "llm" block.
const (
	LLMModeSynthetic = "synthetic"
	LLMModeVendor    = "vendor"

	LLMAPIResponses = "responses"
	LLMAPIChat      = "chat_completions"
	LLMAPIAuto      = "auto"
)

// Config holds all application configuration loaded from relay.json.
// The file is read once at startup; changes require a restart.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "infra-postgres:5432").
	DBConn string `json:"dbConn"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName"`

	// DBUser is the PostgreSQL username.
	DBUser string `json:"dbUser"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass"`

	// ListenAddr is the HTTP listen address (default ":8080").
	ListenAddr string `json:"listenAddr"`

	// JWTSecret signs and verifies session bearer tokens (HS256).
	JWTSecret string `json:"jwtSecret"`

	// Notifier selects the append fan-out backend: "memory", "redis",
	// or "nats" (default "memory"). Multi-replica deployments need
	// redis or nats so appends on one replica reach sessions on another.
	Notifier string `json:"notifier"`

	// RedisAddr is the redis host:port. Required when notifier is "redis".
	RedisAddr string `json:"redisAddr,omitempty"`

	// RedisPassword is the redis AUTH password, if any.
	RedisPassword string `json:"redisPassword,omitempty"`

	// RedisDB is the redis database number (default 0).
	RedisDB int `json:"redisDB,omitempty"`

	// NATSURL is the NATS server URL. Required when notifier is "nats".
	NATSURL string `json:"natsURL,omitempty"`

	// MaxDevicesPerSave caps how many distinct device cursors one
	// (user, save) stream may hold (default 10). Reconnects of a known
	// device never count against the cap.
	MaxDevicesPerSave int `json:"maxDevicesPerSave"`

	// MaxDeviceIDLen bounds the client-supplied device_id (default 200).
	MaxDeviceIDLen int `json:"maxDeviceIDLen"`

	// LLM configures the upstream chat stream provider.
	LLM LLMConfig `json:"llm"`
}

// LLMConfig selects and tunes the upstream token-stream provider.
type LLMConfig struct {
	// Mode is "synthetic" (no upstream I/O, echoes the prompt) or
	// "vendor" (OpenAI-compatible streaming endpoint).
	Mode string `json:"mode"`

	// BaseURL is the vendor endpoint root. Trailing slashes are trimmed
	// and a "/v1" suffix is ensured at client construction.
	BaseURL string `json:"baseURL,omitempty"`

	// APIKey is sent as "Authorization: Bearer <apiKey>".
	APIKey string `json:"apiKey,omitempty"`

	// Model is the vendor model name.
	Model string `json:"model,omitempty"`

	// API is "responses", "chat_completions", or "auto" (default "auto").
	// Auto tries responses first and falls back on 400/404/405.
	API string `json:"api"`

	// TimeoutSeconds is the total upstream request timeout (default 60).
	// The connect timeout is min(10, TimeoutSeconds).
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// Load reads and parses configuration from the given file path.
// It returns an error if the file cannot be read, parsed, or is missing
// required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills optional fields so validate only has to reject,
// never repair.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Notifier == "" {
		c.Notifier = NotifierMemory
	}
	if c.MaxDevicesPerSave == 0 {
		c.MaxDevicesPerSave = 10
	}
	if c.MaxDeviceIDLen == 0 {
		c.MaxDeviceIDLen = 200
	}
	if c.LLM.Mode == "" {
		c.LLM.Mode = LLMModeSynthetic
	}
	if c.LLM.API == "" {
		c.LLM.API = LLMAPIAuto
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
}

// validate checks that all required fields are present and enum fields
// hold known values.
func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	case c.JWTSecret == "":
		return fmt.Errorf("config: jwtSecret is required")
	case c.MaxDevicesPerSave < 1:
		return fmt.Errorf("config: maxDevicesPerSave must be positive")
	case c.MaxDeviceIDLen < 1:
		return fmt.Errorf("config: maxDeviceIDLen must be positive")
	}

	switch c.Notifier {
	case NotifierMemory:
	case NotifierRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: redisAddr is required when notifier is %q", NotifierRedis)
		}
	case NotifierNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("config: natsURL is required when notifier is %q", NotifierNATS)
		}
	default:
		return fmt.Errorf("config: unknown notifier %q", c.Notifier)
	}

	return c.LLM.validate()
}

func (l *LLMConfig) validate() error {
	switch l.Mode {
	case LLMModeSynthetic:
	case LLMModeVendor:
		switch {
		case l.BaseURL == "":
			return fmt.Errorf("config: llm.baseURL is required in vendor mode")
		case l.APIKey == "":
			return fmt.Errorf("config: llm.apiKey is required in vendor mode")
		case l.Model == "":
			return fmt.Errorf("config: llm.model is required in vendor mode")
		}
	default:
		return fmt.Errorf("config: unknown llm.mode %q", l.Mode)
	}

	switch l.API {
	case LLMAPIResponses, LLMAPIChat, LLMAPIAuto:
	default:
		return fmt.Errorf("config: unknown llm.api %q", l.API)
	}

	if l.TimeoutSeconds < 1 {
		return fmt.Errorf("config: llm.timeoutSeconds must be positive")
	}
	return nil
}

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}
