package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/urfave/cli/v3"

	"canvaspaint/internal/canvas"
	"canvaspaint/internal/config"
	"canvaspaint/internal/ratelimit"
	"canvaspaint/internal/transport"
)

// ConfigError marks a problem with the invocation itself. It is reported
// before any network activity.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// session holds everything built from flags and the config file for one
// command invocation.
type session struct {
	cfg    *config.Config
	schema transport.Schema
	logger *slog.Logger
	out    io.Writer
	hc     *http.Client

	limiter *ratelimit.Coordinator
	canvas  *canvas.Canvas
}

func newSession(c *cli.Command) (*session, error) {
	root := c.Root()
	logger := newLogger(c, root.ErrWriter)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if c.IsSet("base-url") {
		cfg.BaseURL = c.String("base-url")
	}
	if c.IsSet("api-version") {
		cfg.APIVersion = c.String("api-version")
	}
	if c.IsSet("token-file") {
		cfg.TokenFile = c.String("token-file")
	}
	if c.IsSet("lock-file") {
		cfg.LockFile = c.String("lock-file")
	}
	if c.IsSet("workers") {
		cfg.Workers = int(c.Int("workers"))
	}
	if c.IsSet("queue-size") {
		cfg.QueueSize = int(c.Int("queue-size"))
	}
	if c.IsSet("status-addr") {
		cfg.StatusAddr = c.String("status-addr")
	}
	if c.IsSet("journal") {
		cfg.Journal = c.String("journal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	schema, err := cfg.Schema()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	return &session{
		cfg:    cfg,
		schema: schema,
		logger: logger,
		out:    root.Writer,
		hc:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// connect resolves credentials and builds the canvas client. It fails with
// config.ErrMissingToken when there is nothing to authenticate with.
func (s *session) connect(c *cli.Command) error {
	refresh := c.String("refresh-token")
	token, err := config.LoadToken(c.String("token"), s.cfg.TokenFile)
	if err != nil && (refresh == "" || !errors.Is(err, config.ErrMissingToken)) {
		return err
	}

	opts := []transport.ClientOption{
		transport.WithHTTPClient(s.hc),
		transport.WithUserAgent(s.cfg.UserAgent),
		transport.WithToken(token),
	}
	if refresh != "" {
		opts = append(opts, transport.WithRefreshToken(refresh, s.schema.AuthPath))
	}
	client := transport.NewClient(s.cfg.BaseURL, opts...)

	s.limiter = ratelimit.New(append(s.cfg.LimiterOptions(), ratelimit.WithLogger(s.logger))...)
	s.canvas = canvas.New(client, s.limiter, s.schema,
		canvas.WithLogger(s.logger),
		canvas.WithRetryDelay(s.cfg.Retry.Delay),
		canvas.WithNetworkAttempts(s.cfg.Retry.NetworkAttempts))
	s.logger.Debug("connected",
		"base_url", s.cfg.BaseURL,
		"api_version", s.schema.Name,
		"refresh", refresh != "")
	return nil
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
