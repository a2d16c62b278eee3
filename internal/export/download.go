package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/utafrali/catalog-indexer/pkg/httpclient"
)

// lineCounter counts newline-terminated lines written through it.
type lineCounter struct {
	lines int64
	last  byte
}

func (w *lineCounter) Write(p []byte) (int, error) {
	w.lines += int64(bytes.Count(p, []byte{'\n'}))
	if len(p) > 0 {
		w.last = p[len(p)-1]
	}
	return len(p), nil
}

func (w *lineCounter) total(size int64) int64 {
	if size > 0 && w.last != '\n' {
		return w.lines + 1
	}
	return w.lines
}

// Download streams the export file at url into a temporary file and returns
// its path and line count. The caller removes the file.
func (c *Client) Download(ctx context.Context, url string) (path string, lines int64, err error) {
	if c.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DownloadTimeout)
		defer cancel()
	}

	resp, err := c.download.Get(ctx, url)
	if err != nil {
		return "", 0, fmt.Errorf("download export: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("download export: %w", httpclient.ParseResponseError(resp, "export storage"))
	}
	defer func() { _ = resp.Body.Close() }()

	f, err := os.CreateTemp(c.cfg.TempDir, "catalog-export-*.jsonl")
	if err != nil {
		return "", 0, fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	counter := &lineCounter{}
	size, err := io.Copy(io.MultiWriter(f, counter), resp.Body)
	if err != nil {
		_ = f.Close()
		return "", 0, fmt.Errorf("write export file: %w", err)
	}
	if err = f.Close(); err != nil {
		return "", 0, fmt.Errorf("close export file: %w", err)
	}

	lines = counter.total(size)
	downloadedBytes.Add(float64(size))
	c.logger.InfoContext(ctx, "export downloaded",
		slog.String("path", f.Name()),
		slog.Int64("bytes", size),
		slog.Int64("lines", lines),
	)
	return f.Name(), lines, nil
}
