package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the per-profile config.toml.
type Config struct {
	Profile string `toml:"profile"`

	Server Server `toml:"server"`
	Push   Push   `toml:"push"`
	Send   Send   `toml:"send"`
	Sync   Sync   `toml:"sync"`
	Codec  Codec  `toml:"codec"`
}

// Server holds REST API settings.
type Server struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// Push holds websocket push channel settings.
type Push struct {
	URL                  string   `toml:"url"`
	HeartbeatInterval    duration `toml:"heartbeat_interval"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReconnectDelay       duration `toml:"reconnect_delay"`
}

// Send holds the outbound send retry policy.
type Send struct {
	Attempts       int      `toml:"attempts"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	Multiplier     float64  `toml:"multiplier"`
	Jitter         bool     `toml:"jitter"`
	AttemptTimeout duration `toml:"attempt_timeout"`
}

// Sync holds pagination and delta sync settings.
type Sync struct {
	PageSize int `toml:"page_size"`
}

// Codec selects the content codec applied at the store boundary.
type Codec struct {
	Scheme string `toml:"scheme"` // "xor" or "plain"
	Key    string `toml:"key"`
}

// duration wraps time.Duration with TOML string encoding ("30s", "2m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			BaseURL: "https://dev.v1.terracrypt.cc/api/v1",
			Timeout: duration{30 * time.Second},
		},
		Push: Push{
			URL:                  "wss://dev.v1.terracrypt.cc/api/v1/ws",
			HeartbeatInterval:    duration{30 * time.Second},
			MaxReconnectAttempts: 5,
			ReconnectDelay:       duration{2 * time.Second},
		},
		Send: Send{
			Attempts:       5,
			InitialBackoff: duration{500 * time.Millisecond},
			MaxBackoff:     duration{30 * time.Second},
			Multiplier:     2.0,
			Jitter:         true,
			AttemptTimeout: duration{15 * time.Second},
		},
		Sync: Sync{
			PageSize: 50,
		},
		Codec: Codec{
			Scheme: "xor",
			Key:    "hardcoded_key",
		},
	}
}

// Load reads config from path, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Push.URL == "" {
		return fmt.Errorf("push.url is required")
	}
	if c.Send.Attempts < 1 {
		return fmt.Errorf("send.attempts must be at least 1, got %d", c.Send.Attempts)
	}
	if c.Send.Multiplier < 1.0 {
		return fmt.Errorf("send.multiplier must be >= 1.0, got %v", c.Send.Multiplier)
	}
	if c.Sync.PageSize < 1 {
		return fmt.Errorf("sync.page_size must be at least 1, got %d", c.Sync.PageSize)
	}
	switch c.Codec.Scheme {
	case "xor":
		if c.Codec.Key == "" {
			return fmt.Errorf("codec.key is required when codec.scheme is \"xor\"")
		}
	case "plain":
	default:
		return fmt.Errorf("codec.scheme must be \"xor\" or \"plain\", got %q", c.Codec.Scheme)
	}
	return nil
}

// SendAttemptTimeout returns the per-attempt send timeout.
func (c *Config) SendAttemptTimeout() time.Duration { return c.Send.AttemptTimeout.Duration }

// ServerTimeout returns the REST client timeout.
func (c *Config) ServerTimeout() time.Duration { return c.Server.Timeout.Duration }

// PushHeartbeatInterval returns the websocket heartbeat interval.
func (c *Config) PushHeartbeatInterval() time.Duration { return c.Push.HeartbeatInterval.Duration }

// PushReconnectDelay returns the delay between reconnect attempts.
func (c *Config) PushReconnectDelay() time.Duration { return c.Push.ReconnectDelay.Duration }
