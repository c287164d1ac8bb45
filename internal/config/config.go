// ABOUTME: Configuration loading and parsing for the passkey popup gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete popup gateway configuration
type Config struct {
	RelyingParty RelyingPartyConfig `yaml:"relying_party"`
	Endpoints    EndpointsConfig    `yaml:"endpoints"`
	Server       ServerConfig       `yaml:"server"`
	Popup        PopupConfig        `yaml:"popup"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// RelyingPartyConfig identifies the WebAuthn relying party ceremonies are scoped to
type RelyingPartyConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// EndpointsConfig holds the URLs of every external collaborator
type EndpointsConfig struct {
	RPC        string `yaml:"rpc"`
	PasskeyDB  string `yaml:"passkey_db"`
	Payers     string `yaml:"payers"`
	ImageProxy string `yaml:"image_proxy"`

	// FrameAncestor is the only origin allowed to embed or open the popup
	FrameAncestor string `yaml:"frame_ancestor"`
}

// ServerConfig holds the bridge server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// PopupConfig holds popup session timing configuration
type PopupConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	RedirectDelay     time.Duration `yaml:"-"`
	CountdownTick     time.Duration `yaml:"-"`
	CountdownStart    int           `yaml:"countdown_start"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	RedirectDelayRaw     string `yaml:"redirect_delay"`
	CountdownTickRaw     string `yaml:"countdown_tick"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults for popup session timing
const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultRedirectDelay     = time.Second
	DefaultCountdownTick     = time.Second
	DefaultCountdownStart    = 2
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Every collaborator endpoint is mandatory: a popup that silently degrades
// because an endpoint is unset would fail mid-ceremony, so boot fails instead.
func (c *Config) Validate() error {
	if c.RelyingParty.ID == "" {
		return fmt.Errorf("relying_party.id is required")
	}
	if c.RelyingParty.Name == "" {
		return fmt.Errorf("relying_party.name is required")
	}

	required := []struct {
		name, value string
	}{
		{"endpoints.rpc", c.Endpoints.RPC},
		{"endpoints.passkey_db", c.Endpoints.PasskeyDB},
		{"endpoints.payers", c.Endpoints.Payers},
		{"endpoints.image_proxy", c.Endpoints.ImageProxy},
		{"endpoints.frame_ancestor", c.Endpoints.FrameAncestor},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
		if _, err := url.ParseRequestURI(r.value); err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", r.name, err)
		}
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	return nil
}

// applyDefaults fills in timing defaults for any unset popup fields.
func (c *Config) applyDefaults() {
	if c.Popup.HeartbeatInterval == 0 {
		c.Popup.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Popup.RedirectDelay == 0 {
		c.Popup.RedirectDelay = DefaultRedirectDelay
	}
	if c.Popup.CountdownTick == 0 {
		c.Popup.CountdownTick = DefaultCountdownTick
	}
	if c.Popup.CountdownStart == 0 {
		c.Popup.CountdownStart = DefaultCountdownStart
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Popup.HeartbeatIntervalRaw != "" {
		cfg.Popup.HeartbeatInterval, err = time.ParseDuration(cfg.Popup.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Popup.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Popup.RedirectDelayRaw != "" {
		cfg.Popup.RedirectDelay, err = time.ParseDuration(cfg.Popup.RedirectDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing redirect_delay %q: %w", cfg.Popup.RedirectDelayRaw, err)
		}
	}

	if cfg.Popup.CountdownTickRaw != "" {
		cfg.Popup.CountdownTick, err = time.ParseDuration(cfg.Popup.CountdownTickRaw)
		if err != nil {
			return fmt.Errorf("parsing countdown_tick %q: %w", cfg.Popup.CountdownTickRaw, err)
		}
	}

	return nil
}
