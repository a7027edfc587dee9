package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"veil/internal/config"
	"veil/internal/deps"
	"veil/internal/logging"
	"veil/internal/services"
)

// LocalEngine runs ffmpeg on this host.
type LocalEngine struct {
	logger *slog.Logger
	ffmpeg string
}

// NewLocalEngine builds the on-host engine.
func NewLocalEngine(cfg *config.Config, logger *slog.Logger) *LocalEngine {
	return &LocalEngine{
		logger: logging.NewComponentLogger(logger, "engine.local"),
		ffmpeg: cfg.FFmpegBinary(),
	}
}

// Kind reports the backend identity.
func (e *LocalEngine) Kind() Kind { return KindLocal }

// Available reports whether the media toolchain is present on PATH.
func (e *LocalEngine) Available(context.Context) bool {
	return deps.LocalEngineReady()
}

// Transcode runs one ffmpeg invocation with the request's filter graph.
func (e *LocalEngine) Transcode(ctx context.Context, req Request) error {
	args := TranscodeArgs(req)
	e.logger.Debug("running local transcode",
		logging.String(logging.FieldSource, req.SourcePath),
		logging.Any("args", args))

	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrProvider, "transcode", "local",
			fmt.Sprintf("ffmpeg failed: %s", string(output)), err)
	}
	return nil
}

// TranscodeArgs builds the ffmpeg argument list for a request. Filtered
// streams map their graph labels; untouched streams map straight from the
// source, with audio optional so silent clips still transcode.
func TranscodeArgs(req Request) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", req.SourcePath,
	}

	graph := req.Graph
	if graph != nil && !graph.Empty() {
		args = append(args, "-filter_complex", graph.Render())
	}

	if graph != nil && graph.VideoLabel() != "" {
		args = append(args, "-map", graph.VideoLabel())
	} else {
		args = append(args, "-map", "0:v:0")
	}
	if graph != nil && graph.AudioLabel() != "" {
		args = append(args, "-map", graph.AudioLabel())
	} else {
		args = append(args, "-map", "0:a?")
	}

	args = append(args,
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", crfForQuality(req.Quality)),
		"-preset", "medium",
		"-c:a", "aac",
		req.OutputPath,
	)
	return args
}

func crfForQuality(quality string) int {
	switch quality {
	case "high":
		return 18
	case "low":
		return 28
	default:
		return 23
	}
}

// Thumbnail extracts a single representative frame. The first attempt seeks
// one second in to skip fade-ins; clips shorter than that retry at zero.
func (e *LocalEngine) Thumbnail(ctx context.Context, videoPath, outputPath string) error {
	if err := e.extractFrame(ctx, videoPath, outputPath, "1"); err == nil {
		return nil
	}
	if err := e.extractFrame(ctx, videoPath, outputPath, "0"); err != nil {
		return services.Wrap(services.ErrMalformedInput, "thumbnail", "extract", "ffmpeg thumbnail failed", err)
	}
	return nil
}

func (e *LocalEngine) extractFrame(ctx context.Context, videoPath, outputPath, seek string) error {
	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", seek,
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		outputPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("extract frame at %ss: %s: %w", seek, string(output), err)
	}
	return nil
}
