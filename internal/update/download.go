package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/updatekit/updatekit/internal/retry"
)

const downloadChunkSize = 32 * 1024

// DownloadUpdate downloads version to destPath, retrying up to MaxRetries times
// with a linear backoff of attempt * backoff unit. progress, if non-nil, is
// called after every chunk written.
//
// Only the error from the final attempt is returned. A partially written file
// is left in place and truncated by the next attempt.
func (c *Checker) DownloadUpdate(ctx context.Context, version, destPath string, progress ProgressFunc) error {
	cfg := retry.Config{
		MaxAttempts: c.config.MaxRetries + 1,
		Backoff:     retry.Linear(c.backoffUnit),
		Sleep:       c.sleep,
	}
	logger := c.logger.With().Str("version", version).Str("path", destPath).Logger()

	return retry.Do(ctx, "download", cfg, func(ctx context.Context, attempt int) error {
		logger.Debug().Int("attempt", attempt+1).Msg("Starting download attempt")
		return c.downloadOnce(ctx, version, destPath, progress)
	}, logger)
}

func (c *Checker) downloadOnce(ctx context.Context, version, destPath string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.downloadURL(version), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download failed: %w", statusError(resp))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	downloaded, err := c.downloadLoop(ctx, resp.Body, file, version, total, progress)
	if err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close download file: %w", err)
	}

	c.logger.Info().
		Str("version", version).
		Str("path", destPath).
		Int64("size", downloaded).
		Msg("Update downloaded")
	return nil
}

func (c *Checker) downloadLoop(ctx context.Context, reader io.Reader, writer io.Writer, version string, total int64, progress ProgressFunc) (int64, error) {
	var downloaded int64
	buf := make([]byte, downloadChunkSize)
	start := c.now()

	for {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}

		n, err := reader.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				return downloaded, fmt.Errorf("failed to write download: %w", writeErr)
			}
			downloaded += int64(n)

			if progress != nil {
				progress(c.progressAt(version, downloaded, total, start))
			}
		}

		if errors.Is(err, io.EOF) {
			return downloaded, nil
		}
		if err != nil {
			return downloaded, fmt.Errorf("download read error: %w", err)
		}
	}
}

func (c *Checker) progressAt(version string, downloaded, total int64, start time.Time) DownloadProgress {
	p := DownloadProgress{
		Version:    version,
		Downloaded: downloaded,
		Total:      total,
	}
	if total > 0 {
		p.Percentage = float64(downloaded) / float64(total) * 100
	}
	if elapsed := c.now().Sub(start).Seconds(); elapsed > 0 {
		p.Speed = float64(downloaded) / elapsed
	}
	return p
}
