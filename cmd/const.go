package cmd

// Process exit codes.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitConfig       = 2
	ExitLocked       = 3
	ExitMissingToken = 4
)

// Environment variables read for credentials.
const (
	envToken        = "PIXELS_TOKEN"
	envRefreshToken = "PIXELS_REFRESH_TOKEN"
)

// Default output of the download command.
const defaultCanvasPNG = "canvas.png"

// Largest source image fetched over HTTP (32MiB).
const maxImageDownload = 32 << 20
