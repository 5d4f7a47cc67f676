// Package config loads the painter's YAML configuration and access token.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"canvaspaint/internal/ratelimit"
	"canvaspaint/internal/transport"
)

// ErrMissingToken is returned when no access token can be found.
var ErrMissingToken = errors.New("config: no access token")

// Config holds every setting that is not specific to one paint job.
type Config struct {
	BaseURL        string                     `yaml:"base_url"`
	APIVersion     string                     `yaml:"api_version"`
	Paths          Paths                      `yaml:"paths"`
	SetPixelMethod string                     `yaml:"set_pixel_method"`
	ColorField     string                     `yaml:"color_field"`
	TokenFile      string                     `yaml:"token_file"`
	UserAgent      string                     `yaml:"user_agent"`
	Timeout        time.Duration              `yaml:"timeout"`
	Limits         map[string]ratelimit.Limit `yaml:"limits"`
	Retry          Retry                      `yaml:"retry"`
	Workers        int                        `yaml:"workers"`
	QueueSize      int                        `yaml:"queue_size"`
	StatusAddr     string                     `yaml:"status_addr"`
	Journal        string                     `yaml:"journal"`
	LockFile       string                     `yaml:"lock_file"`
}

// Paths overrides individual endpoint paths of the selected api version.
type Paths struct {
	Size     string `yaml:"size"`
	GetPixel string `yaml:"get_pixel"`
	SetPixel string `yaml:"set_pixel"`
	Pixels   string `yaml:"pixels"`
	Auth     string `yaml:"auth"`
}

// Retry configures the backoff after failed requests.
type Retry struct {
	Delay           time.Duration `yaml:"delay"`
	NetworkAttempts int           `yaml:"network_attempts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:    "https://pixels.pythondiscord.com",
		APIVersion: "v1",
		TokenFile:  "auth.txt",
		UserAgent:  "canvaspaint",
		Timeout:    30 * time.Second,
		Retry: Retry{
			Delay:           5 * time.Second,
			NetworkAttempts: 10,
		},
		Workers:  1,
		LockFile: "canvaspaint.lock",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: base_url %q must be an http(s) url", c.BaseURL)
	}
	if _, err := transport.LookupSchema(c.APIVersion); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be > 0")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("config: retry.delay must not be negative")
	}
	if c.Retry.NetworkAttempts < 1 {
		return fmt.Errorf("config: retry.network_attempts must be >= 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("config: queue_size must not be negative")
	}
	for endpoint, l := range c.Limits {
		switch endpoint {
		case ratelimit.EndpointSize, ratelimit.EndpointGetPixel,
			ratelimit.EndpointSetPixel, ratelimit.EndpointGetPixels:
		default:
			return fmt.Errorf("config: limits: unknown endpoint %q", endpoint)
		}
		if l.Hits < 1 || l.Cooldown <= 0 {
			return fmt.Errorf("config: limits.%s needs hits >= 1 and cooldown > 0", endpoint)
		}
	}
	return nil
}

// Schema resolves the api version with every path override applied.
func (c *Config) Schema() (transport.Schema, error) {
	s, err := transport.LookupSchema(c.APIVersion)
	if err != nil {
		return transport.Schema{}, err
	}
	return s.Override(transport.Schema{
		SizePath:       c.Paths.Size,
		GetPixelPath:   c.Paths.GetPixel,
		SetPixelPath:   c.Paths.SetPixel,
		SetPixelMethod: strings.ToUpper(c.SetPixelMethod),
		PixelsPath:     c.Paths.Pixels,
		AuthPath:       c.Paths.Auth,
		ColorField:     c.ColorField,
	}), nil
}

// LimiterOptions turns the configured limits into coordinator options.
func (c *Config) LimiterOptions() []ratelimit.Option {
	opts := make([]ratelimit.Option, 0, len(c.Limits))
	for endpoint, l := range c.Limits {
		opts = append(opts, ratelimit.WithLimit(endpoint, l))
	}
	return opts
}

// LoadToken returns token if set, otherwise the first line of path.
func LoadToken(token, path string) (string, error) {
	if t := strings.TrimSpace(token); t != "" {
		return t, nil
	}
	if path == "" {
		return "", ErrMissingToken
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s not found", ErrMissingToken, path)
		}
		return "", fmt.Errorf("config: read token: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	if t := strings.TrimSpace(line); t != "" {
		return t, nil
	}
	return "", fmt.Errorf("%w: %s is empty", ErrMissingToken, path)
}
