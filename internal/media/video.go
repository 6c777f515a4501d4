package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tkpar/feedbridge/internal/metrics"
)

// Video transcode targets for web playback. These are maximums; smaller
// sources are never upscaled.
const (
	// MaxVideoWidth is the maximum output width for transcoded videos.
	MaxVideoWidth = 720

	// VideoCRF is the Constant Rate Factor for H.264 encoding (0-51,
	// lower is higher quality). 23 is the x264 default.
	VideoCRF = 23

	// VideoPreset trades encode speed for compression efficiency.
	VideoPreset = "fast"

	// AudioBitrate is the target AAC audio bitrate.
	AudioBitrate = "128k"
)

// CheckFFmpegAvailable reports whether ffmpeg is on the PATH. Called at
// startup so a misbuilt worker image fails fast instead of on first video.
func CheckFFmpegAvailable() error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: video transcoding unavailable")
	}
	log.Debug().Str("path", path).Msg("ffmpeg found")
	return nil
}

// TranscodeVideo re-encodes the video at inputPath as a web-playable MP4:
// H.264 video capped at MaxVideoWidth, AAC audio, moov atom up front for
// progressive playback. The cleanup function removes the output file and
// must be called.
func TranscodeVideo(ctx context.Context, inputPath string) (outputPath string, cleanup func(), err error) {
	var inputSize int64
	if info, err := os.Stat(inputPath); err == nil {
		inputSize = info.Size()
	}

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	tempFile, err := os.CreateTemp("", "feedbridge-video-*.mp4")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	outputPath = tempFile.Name()
	tempFile.Close()

	cleanup = func() {
		if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", outputPath).Msg("Failed to remove transcoded video")
		}
	}

	args := buildTranscodeArgs(inputPath, outputPath)

	log.Debug().Strs("args", args).Msg("Running ffmpeg transcode")

	start := time.Now()
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)
	if err != nil {
		cleanup()
		metrics.New("FeedBridge").
			Duration("VideoTranscodeMs", elapsed).
			Count("VideoTranscodeErrors").
			Flush()
		return "", nil, fmt.Errorf("ffmpeg transcode failed: %w\nOutput: %s", err, string(output))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stat transcoded file: %w", err)
	}

	metrics.New("FeedBridge").
		Duration("VideoTranscodeMs", elapsed).
		Metric("VideoInputBytes", float64(inputSize), metrics.UnitBytes).
		Metric("VideoOutputBytes", float64(info.Size()), metrics.UnitBytes).
		Count("VideoTranscodes").
		Flush()

	log.Info().
		Str("input_path", inputPath).
		Str("output_path", outputPath).
		Int64("input_size_bytes", inputSize).
		Int64("output_size_bytes", info.Size()).
		Dur("transcode_time", elapsed).
		Msg("Video transcode complete")

	return outputPath, cleanup, nil
}

// buildTranscodeArgs constructs the ffmpeg invocation. The scale filter
// downscales only when the source is wider than MaxVideoWidth; -2 keeps
// the height even as some decoders require.
func buildTranscodeArgs(inputPath, outputPath string) []string {
	args := []string{"-i", inputPath}

	args = append(args, "-c:v", "libx264")
	args = append(args, "-preset", VideoPreset)
	args = append(args, "-crf", strconv.Itoa(VideoCRF))
	args = append(args, "-vf", fmt.Sprintf("scale='min(%d,iw)':-2,format=yuv420p", MaxVideoWidth))

	// Video stream required, audio optional (silent clips are common).
	args = append(args, "-map", "0:v:0", "-map", "0:a?")

	args = append(args, "-c:a", "aac")
	args = append(args, "-b:a", AudioBitrate)

	// moov atom first so browsers can start playback before the full
	// download completes.
	args = append(args, "-movflags", "+faststart")

	args = append(args, "-y", outputPath)

	return args
}
