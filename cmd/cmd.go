package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"canvaspaint/internal/config"
	"canvaspaint/internal/journal"
	"canvaspaint/internal/lockfile"
	"canvaspaint/internal/paint"
	"canvaspaint/internal/plan"
	"canvaspaint/internal/ratelimit"
	"canvaspaint/internal/status"
)

// Cmd is the canvaspaint command tree.
var Cmd = New()

// New builds a fresh command tree.
func New() *cli.Command {
	return &cli.Command{
		Name:      "canvaspaint",
		Usage:     "Paint an image onto a shared pixel canvas without tripping its rate limits",
		ArgsUsage: "[image]",
		Flags:     append(globalFlags(), paintFlags()...),
		Action:    paintAction,
		Commands: []*cli.Command{
			{
				Name:   "probe",
				Usage:  "Sync every endpoint's rate limit and print the budget",
				Action: probeAction,
			},
			{
				Name:  "download",
				Usage: "Save the whole canvas as PNG",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Usage:   "Where to write the PNG",
						Aliases: []string{"o"},
						Value:   defaultCanvasPNG,
					},
					&cli.IntFlag{
						Name:  "scale",
						Usage: "Upscale factor for the saved image",
						Value: 1,
					},
				},
				Action: downloadAction,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "YAML config file",
			Aliases: []string{"c"},
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL of the canvas API",
			Aliases: []string{"base", "api-url"},
		},
		&cli.StringFlag{
			Name:  "api-version",
			Usage: "Wire schema of the server (v1 or v2)",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "API access token",
			Aliases: []string{"auth", "A"},
			Sources: cli.EnvVars(envToken),
		},
		&cli.StringFlag{
			Name:    "refresh-token",
			Usage:   "Refresh token used to obtain new access tokens",
			Sources: cli.EnvVars(envRefreshToken),
		},
		&cli.StringFlag{
			Name:  "token-file",
			Usage: "File holding the access token",
		},
		&cli.StringFlag{
			Name:  "lock-file",
			Usage: "PID lock file guarding against a second painter",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Log debug output",
			Aliases: []string{"dev"},
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Usage:   "Only log warnings and errors",
			Aliases: []string{"Q"},
		},
		&cli.BoolFlag{
			Name:  "log-json",
			Usage: "Log as JSON",
		},
	}
}

func paintFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "image",
			Usage:   "Image path or http(s) URL",
			Aliases: []string{"I"},
		},
		&cli.IntFlag{
			Name:    "start-x",
			Usage:   "Canvas x where the image starts",
			Aliases: []string{"cursor-start-x", "X"},
		},
		&cli.IntFlag{
			Name:    "start-y",
			Usage:   "Canvas y where the image starts",
			Aliases: []string{"cursor-start-y", "Y"},
		},
		&cli.IntFlag{
			Name:    "end-x",
			Usage:   "Canvas x where the image ends (exclusive)",
			Aliases: []string{"cursor-end-x", "H"},
		},
		&cli.IntFlag{
			Name:    "end-y",
			Usage:   "Canvas y where the image ends (exclusive)",
			Aliases: []string{"cursor-end-y", "V"},
		},
		&cli.BoolFlag{
			Name:  "auto-fit",
			Usage: "Keep the image size and ignore the end coordinates",
		},
		&cli.StringFlag{
			Name:    "loop",
			Usage:   `How many passes to run: "once", a number, or "forever"`,
			Aliases: []string{"L"},
			Value:   "once",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Write every pixel without checking its current color",
		},
		&cli.StringFlag{
			Name:  "preview",
			Usage: "Save the resized image to this PNG and exit without painting",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Concurrent pixel writers sharing the rate limit",
		},
		&cli.IntFlag{
			Name:  "queue-size",
			Usage: "Pending pixels buffered for the writers",
		},
		&cli.StringFlag{
			Name:  "status-addr",
			Usage: "Serve progress on this address (GET /status)",
		},
		&cli.StringFlag{
			Name:  "journal",
			Usage: "SQLite file recording every pixel outcome",
		},
	}
}

func paintAction(ctx context.Context, c *cli.Command) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}

	loop, err := paint.ParseLoop(c.String("loop"))
	if err != nil {
		return &ConfigError{Err: err}
	}
	rect := plan.Rect{
		Start:   plan.Point{X: int(c.Int("start-x")), Y: int(c.Int("start-y"))},
		End:     plan.Point{X: int(c.Int("end-x")), Y: int(c.Int("end-y"))},
		AutoFit: c.Bool("auto-fit"),
	}
	if err := rect.Validate(); err != nil {
		return &ConfigError{Err: fmt.Errorf("%w (set --end-x/--end-y or use --auto-fit)", err)}
	}
	src := c.String("image")
	if src == "" {
		src = c.Args().First()
	}
	if src == "" {
		return &ConfigError{Err: errors.New("no image given, pass --image or a path argument")}
	}

	preview := c.String("preview")
	var lock *lockfile.Lock
	if preview == "" {
		if err := s.connect(c); err != nil {
			return err
		}
		if lock, err = lockfile.Acquire(s.cfg.LockFile); err != nil {
			return err
		}
		defer lock.Release()
	}

	img, err := openImage(ctx, s.hc, src)
	if err != nil {
		return err
	}
	p, err := plan.Build(img, rect)
	if err != nil {
		return &ConfigError{Err: err}
	}
	if preview != "" {
		if err := p.SavePreview(preview); err != nil {
			return err
		}
		s.printf("🟢 Saved preview '%s' (%dx%d)\n", preview, p.Width, p.Height)
		return nil
	}

	s.logger.InfoContext(ctx, "syncing ratelimit")
	if err := s.canvas.Probe(ctx, ratelimit.EndpointSetPixel); err != nil {
		if ctx.Err() != nil || errors.Is(err, ratelimit.ErrInvalidCooldown) {
			return err
		}
		s.logger.WarnContext(ctx, "ratelimit sync failed", "error", err)
	}

	w, h, err := s.canvas.Size(ctx)
	if err != nil {
		return err
	}
	if n := p.OutOfBounds(w, h); n > 0 {
		s.logger.WarnContext(ctx, "image overflows the canvas",
			"canvas", fmt.Sprintf("%dx%d", w, h),
			"out_of_bounds", n)
	}

	opts := []paint.Option{
		paint.WithLoop(loop),
		paint.WithForce(c.Bool("force")),
		paint.WithWorkers(s.cfg.Workers, s.cfg.QueueSize),
		paint.WithPassDelay(s.cfg.Retry.Delay, nil),
		paint.WithLogger(s.logger),
	}

	var jr *journal.Journal
	if s.cfg.Journal != "" {
		jr, err = journal.Open(ctx, s.cfg.Journal, src, p.Len(), s.logger)
		if err != nil {
			return err
		}
		defer jr.Close()
		opts = append(opts, paint.WithRecorder(jr))
	}

	d := paint.New(s.canvas, p, opts...)

	if s.cfg.StatusAddr != "" {
		statusCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			err := status.Serve(statusCtx, s.cfg.StatusAddr, status.Sources{
				Driver:  d.Status,
				Buckets: s.limiter.Snapshot,
			}, s.logger)
			if err != nil {
				s.logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	started := time.Now()
	runErr := d.Run(ctx)
	if jr != nil {
		if err := jr.Finish(ctx, runErr); err != nil {
			s.logger.Warn("journal finish failed", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	stats := d.Stats()
	s.printf("🟢 Painted '%s' in %s: %d written, %d already correct, %d out of range\n",
		src, time.Since(started).Round(time.Second), stats.Written, stats.Skipped, stats.OutOfRange)
	return nil
}

func probeAction(ctx context.Context, c *cli.Command) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if err := s.connect(c); err != nil {
		return err
	}
	lock, err := lockfile.Acquire(s.cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := s.canvas.Probe(ctx); err != nil {
		return err
	}
	for _, b := range s.limiter.Snapshot() {
		mark := "🟢"
		if b.Ratelimited {
			mark = "❌"
		}
		s.printf("%s %-10s %d/%d used, resets in %.1fs\n",
			mark, b.Endpoint, b.Hits, b.MaxHits, b.RetryAfter)
	}
	return nil
}

func downloadAction(ctx context.Context, c *cli.Command) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	scale := int(c.Int("scale"))
	if scale < 1 {
		return &ConfigError{Err: fmt.Errorf("scale must be >= 1, got %d", scale)}
	}
	if err := s.connect(c); err != nil {
		return err
	}
	lock, err := lockfile.Acquire(s.cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	snap, err := s.canvas.Snapshot(ctx)
	if err != nil {
		return err
	}
	out := c.String("output")
	w, h := 0, 0
	if scale > 1 {
		w, h = snap.Width*scale, snap.Height*scale
	}
	if err := snap.Save(out, w, h); err != nil {
		return err
	}
	s.printf("🟢 Saved canvas '%s' (%dx%d)\n", out, snap.Width, snap.Height)
	return nil
}

// ExitCode maps an error returned by Cmd to a process exit code.
func ExitCode(err error) int {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrMissingToken):
		return ExitMissingToken
	case errors.Is(err, lockfile.ErrAlreadyRunning):
		return ExitLocked
	case errors.As(err, &cfgErr):
		return ExitConfig
	}
	return ExitFailure
}
