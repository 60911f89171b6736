// Package config loads and validates the gateway configuration document.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration. The on-disk document
// is JSON (a YAML subset), so a single parser covers both spellings.
type Config struct {
	// Token is the bearer credential for the remote control-plane session.
	// It has no default; a missing token is a fatal startup error.
	Token string `yaml:"token"`

	ShutdownTimeoutS int `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)

	Remote RemoteConfig `yaml:"remote"`
	PTZ    PTZConfig    `yaml:"ptz"`
	Camera CameraConfig `yaml:"camera"`
	Web    WebConfig    `yaml:"web"`
}

// RemoteConfig contains control-plane session settings.
type RemoteConfig struct {
	URL                string   `yaml:"url"`                  // control plane endpoint (default: wss://api.monoclecam.com/gateway)
	ReconnectIntervalS int      `yaml:"reconnect_interval_s"` // fixed reconnect interval in seconds (default: 30)
	Subscriptions      []string `yaml:"subscriptions"`        // event ids subscribed on connect (default: alexa.source)
}

// PTZConfig contains local controller server settings.
type PTZConfig struct {
	Port int `yaml:"port"` // local control protocol port (default: 8090)
}

// CameraConfig contains device connection defaults, used when a camera
// descriptor does not carry its own credentials.
type CameraConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TimeoutS int    `yaml:"timeout_s"` // device request timeout in seconds (default: 10)
}

// WebConfig contains status endpoint settings. Port is a pointer so an
// explicit 0 (disable the endpoint) is distinguishable from an absent key
// (use the default).
type WebConfig struct {
	Port *int `yaml:"port"` // status/health HTTP port (default: 8080, 0 disables)
}

// Load reads and parses the configuration document at path. A missing file
// is a fatal error; so is an absent token.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration and fills documented defaults in place.
func Validate(cfg *Config) error {
	if cfg.Token == "" {
		return fmt.Errorf("token is required")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Remote.URL == "" {
		cfg.Remote.URL = "wss://api.monoclecam.com/gateway"
	}
	if cfg.Remote.ReconnectIntervalS <= 0 {
		cfg.Remote.ReconnectIntervalS = 30
	}
	if len(cfg.Remote.Subscriptions) == 0 {
		cfg.Remote.Subscriptions = []string{"alexa.source"}
	}

	if cfg.PTZ.Port == 0 {
		cfg.PTZ.Port = 8090
	}
	if cfg.PTZ.Port < 1 || cfg.PTZ.Port > 65535 {
		return fmt.Errorf("invalid ptz port: %d", cfg.PTZ.Port)
	}

	if cfg.Camera.TimeoutS <= 0 {
		cfg.Camera.TimeoutS = 10
	}

	if cfg.Web.Port == nil {
		port := 8080
		cfg.Web.Port = &port
	}
	if *cfg.Web.Port < 0 || *cfg.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", *cfg.Web.Port)
	}

	return nil
}

// ShutdownTimeout returns the graceful shutdown timeout as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// ReconnectInterval returns the remote reconnect interval as a duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Remote.ReconnectIntervalS) * time.Second
}

// DeviceTimeout returns the device request timeout as a duration.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutS) * time.Second
}

// WebPort returns the status endpoint port, 0 when the endpoint is disabled.
func (c *Config) WebPort() int {
	if c.Web.Port == nil {
		return 0
	}
	return *c.Web.Port
}
