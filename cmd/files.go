package cmd

import (
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"

	"canvaspaint/internal/plan"
)

// openImage decodes src, which is a file path or an http(s) URL.
func openImage(ctx context.Context, hc *http.Client, src string) (image.Image, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return fetchImage(ctx, hc, src)
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open image: '%s' is a directory", src)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return plan.Decode(f)
}

func fetchImage(ctx context.Context, hc *http.Client, src string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: %s returned %s", src, resp.Status)
	}
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return nil, fmt.Errorf("fetch image: %s is not an image (content type %q)", src, resp.Header.Get("Content-Type"))
	}
	return plan.Decode(io.LimitReader(resp.Body, maxImageDownload))
}
