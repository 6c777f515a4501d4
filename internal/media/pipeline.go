package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tkpar/feedbridge/internal/metrics"
	"github.com/tkpar/feedbridge/internal/store"
)

// ErrUnsupportedMedia marks attachments that are neither image nor video.
var ErrUnsupportedMedia = fmt.Errorf("media: unsupported attachment type")

// Uploader publishes a local file to public object storage and returns
// its public URL.
type Uploader interface {
	UploadPublic(ctx context.Context, localPath, contentType string) (string, error)
}

// Pipeline turns a message attachment into a hosted background asset:
// download, transcode by media class, upload.
type Pipeline struct {
	downloader *Downloader
	uploader   Uploader
}

// NewPipeline creates a Pipeline.
func NewPipeline(downloader *Downloader, uploader Uploader) *Pipeline {
	return &Pipeline{downloader: downloader, uploader: uploader}
}

// Process runs the full pipeline for one attachment and returns the
// background reference to embed in the post. Temp files are removed
// before return on every path.
func (p *Pipeline) Process(ctx context.Context, att *store.Attachment) (store.Background, error) {
	kind, err := classify(att.Mimetype)
	if err != nil {
		return store.Background{}, err
	}

	start := time.Now()

	inputPath, size, dlCleanup, err := p.downloader.Download(ctx, att.DownloadURL, att.Name)
	if err != nil {
		return store.Background{}, fmt.Errorf("download attachment: %w", err)
	}
	defer dlCleanup()

	var outputPath, contentType string
	var outCleanup func()
	switch kind {
	case store.BackgroundImage:
		outputPath, contentType, outCleanup, err = TranscodeImage(inputPath, att.Mimetype)
	case store.BackgroundVideo:
		outputPath, outCleanup, err = TranscodeVideo(ctx, inputPath)
		contentType = "video/mp4"
	}
	if err != nil {
		return store.Background{}, fmt.Errorf("transcode attachment: %w", err)
	}
	defer outCleanup()

	url, err := p.uploader.UploadPublic(ctx, outputPath, contentType)
	if err != nil {
		return store.Background{}, fmt.Errorf("upload attachment: %w", err)
	}

	metrics.New("FeedBridge").
		Dimension("MediaKind", kind).
		Duration("MediaPipelineMs", time.Since(start)).
		Metric("MediaInputBytes", float64(size), metrics.UnitBytes).
		Count("MediaProcessed").
		Flush()

	log.Info().
		Str("filename", att.Name).
		Str("kind", kind).
		Str("url", url).
		Dur("elapsed", time.Since(start)).
		Msg("Attachment processed")

	return store.Background{Kind: kind, URL: url}, nil
}

// classify maps an attachment MIME type to a background kind.
func classify(mimetype string) (string, error) {
	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return store.BackgroundImage, nil
	case strings.HasPrefix(mimetype, "video/"):
		return store.BackgroundVideo, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, mimetype)
	}
}
