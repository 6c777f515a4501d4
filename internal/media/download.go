// Package media downloads message attachments and transcodes them into
// feed-ready background assets: images re-encoded as bounded-width JPEG,
// videos as web-playable H.264 MP4. All intermediate files live in the
// OS temp directory and are removed via the returned cleanup functions.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxDownloadBytes caps attachment downloads. Slack file uploads top out
// well below this; anything larger is rejected rather than spooled.
const MaxDownloadBytes = 512 << 20

const downloadTimeout = 5 * time.Minute

// Downloader fetches attachment bytes from the chat platform's private
// file CDN, which requires bot-token bearer auth.
type Downloader struct {
	httpClient *http.Client
	botToken   string
}

// NewDownloader creates a Downloader authenticating with the given bot token.
func NewDownloader(httpClient *http.Client, botToken string) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: downloadTimeout}
	}
	return &Downloader{httpClient: httpClient, botToken: botToken}
}

// Download streams the file at url to a temporary file and returns its
// path and size. The cleanup function removes the temp file and must be
// called once the file is no longer needed.
func (d *Downloader) Download(ctx context.Context, url, filename string) (path string, size int64, cleanup func(), err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, nil, fmt.Errorf("build download request: %w", err)
	}
	if d.botToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.botToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", 0, nil, fmt.Errorf("download %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, nil, fmt.Errorf("download %s: unexpected status %d", filename, resp.StatusCode)
	}

	tempFile, err := os.CreateTemp("", "feedbridge-dl-*"+filepath.Ext(filename))
	if err != nil {
		return "", 0, nil, fmt.Errorf("create temp file: %w", err)
	}
	path = tempFile.Name()
	cleanup = func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove downloaded temp file")
		}
	}

	size, err = io.Copy(tempFile, io.LimitReader(resp.Body, MaxDownloadBytes+1))
	closeErr := tempFile.Close()
	if err != nil {
		cleanup()
		return "", 0, nil, fmt.Errorf("write download %s: %w", filename, err)
	}
	if closeErr != nil {
		cleanup()
		return "", 0, nil, fmt.Errorf("close temp file: %w", closeErr)
	}
	if size > MaxDownloadBytes {
		cleanup()
		return "", 0, nil, fmt.Errorf("download %s: exceeds %d byte limit", filename, int64(MaxDownloadBytes))
	}

	log.Debug().
		Str("filename", filename).
		Str("path", path).
		Int64("size_bytes", size).
		Msg("Attachment downloaded")

	return path, size, cleanup, nil
}
