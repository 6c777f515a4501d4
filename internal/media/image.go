package media

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"io"
	"os"
	"strings"
	"time"

	_ "image/png"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/webp"
)

// Image transcode targets. These are maximums; smaller sources are never
// upscaled.
const (
	// MaxImageWidth is the maximum output width for transcoded images.
	MaxImageWidth = 1080

	// JPEGQuality is the encoder quality for transcoded images.
	JPEGQuality = 80
)

// TranscodeImage re-encodes the image at inputPath as a JPEG no wider than
// MaxImageWidth, preserving aspect ratio. Animated GIFs are passed through
// untouched because re-encoding would flatten them to a single frame, and
// image types with no registered decoder (bmp, tiff, heic, ...) are passed
// through under their source mimetype rather than dropped.
//
// The cleanup function removes the output file; for the passthrough cases
// the output is the input and cleanup is a no-op (the caller owns the
// input file's lifetime separately).
func TranscodeImage(inputPath, mimetype string) (outputPath, contentType string, cleanup func(), err error) {
	if animated, err := isAnimatedGIF(inputPath); err == nil && animated {
		log.Debug().Str("path", inputPath).Msg("Animated GIF, passing through without re-encode")
		return inputPath, "image/gif", func() {}, nil
	}

	logImageMetadata(inputPath)

	f, err := os.Open(inputPath)
	if err != nil {
		return "", "", nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			log.Debug().
				Str("path", inputPath).
				Str("mimetype", mimetype).
				Msg("No decoder for image type, passing through without re-encode")
			return inputPath, mimetype, func() {}, nil
		}
		return "", "", nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	origWidth := bounds.Dx()
	origHeight := bounds.Dy()

	start := time.Now()
	if origWidth > MaxImageWidth {
		newWidth, newHeight := scaledDimensions(origWidth, origHeight, MaxImageWidth)
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	tempFile, err := os.CreateTemp("", "feedbridge-img-*.jpg")
	if err != nil {
		return "", "", nil, fmt.Errorf("create temp file: %w", err)
	}
	outputPath = tempFile.Name()
	cleanup = func() {
		if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", outputPath).Msg("Failed to remove transcoded image")
		}
	}

	err = jpeg.Encode(tempFile, img, &jpeg.Options{Quality: JPEGQuality})
	closeErr := tempFile.Close()
	if err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("encode jpeg: %w", err)
	}
	if closeErr != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("close temp file: %w", closeErr)
	}

	log.Debug().
		Str("path", inputPath).
		Str("source_format", format).
		Int("orig_width", origWidth).
		Int("orig_height", origHeight).
		Int("max_width", MaxImageWidth).
		Dur("elapsed", time.Since(start)).
		Msg("Image transcoded")

	return outputPath, "image/jpeg", cleanup, nil
}

// isAnimatedGIF reports whether the file is a GIF with more than one frame.
// Non-GIF files return false with no error.
func isAnimatedGIF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var header [6]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return false, nil
	}
	if string(header[:3]) != "GIF" {
		return false, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return false, err
	}

	g, err := gif.DecodeAll(f)
	if err != nil {
		return false, fmt.Errorf("decode gif: %w", err)
	}
	return len(g.Image) > 1, nil
}

// logImageMetadata extracts camera EXIF data for the structured log. Most
// chat uploads are screenshots with no EXIF, so failures are debug-only.
func logImageMetadata(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	exifData, err := imagemeta.Decode(f)
	if err != nil {
		log.Debug().Str("path", path).Msg("No EXIF metadata in image")
		return
	}

	evt := log.Debug().Str("path", path)
	if cameraMake := strings.TrimSpace(exifData.Make); cameraMake != "" {
		evt = evt.Str("camera_make", cameraMake)
	}
	if cameraModel := strings.TrimSpace(exifData.Model); cameraModel != "" {
		evt = evt.Str("camera_model", cameraModel)
	}
	if !exifData.DateTimeOriginal().IsZero() {
		evt = evt.Time("date_taken", exifData.DateTimeOriginal())
	}
	evt.Msg("Image EXIF metadata")
}

// scaledDimensions computes the output size for a width-bounded downscale,
// preserving aspect ratio. Callers must ensure width > maxWidth.
func scaledDimensions(width, height, maxWidth int) (int, int) {
	newHeight := int(float64(height) * float64(maxWidth) / float64(width))
	if newHeight < 1 {
		newHeight = 1
	}
	return maxWidth, newHeight
}
