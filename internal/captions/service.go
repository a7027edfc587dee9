package captions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"veil/internal/config"
	"veil/internal/logging"
	"veil/internal/services"
)

const sidecarExtension = ".captions.json"

// Service generates caption data for videos and serves repeat requests from
// a sidecar file next to the source.
type Service struct {
	logger   *slog.Logger
	ffmpeg   string
	provider Provider
}

// NewService wires a caption service around the given provider.
func NewService(cfg *config.Config, provider Provider, logger *slog.Logger) *Service {
	return &Service{
		logger:   logging.NewComponentLogger(logger, "captions"),
		ffmpeg:   cfg.FFmpegBinary(),
		provider: provider,
	}
}

// SidecarPath derives the caption sidecar filename for a video path.
func SidecarPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + sidecarExtension
}

// GenerateForVideo returns caption data for the video, reusing a fresh
// sidecar file unless force is set. A sidecar is fresh when it is at least as
// new as the video it describes.
func (s *Service) GenerateForVideo(ctx context.Context, videoPath string, durationSeconds float64, force bool) (*CaptionData, error) {
	sidecar := SidecarPath(videoPath)

	if !force {
		if data, ok := s.loadFreshSidecar(videoPath, sidecar); ok {
			s.logger.Debug("caption sidecar hit", logging.String(logging.FieldSource, videoPath))
			return data, nil
		}
	}

	audioPath, cleanup, err := s.demuxAudio(ctx, videoPath)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return nil, err
	}

	words, err := s.provider.Transcribe(ctx, audioPath, durationSeconds)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, services.Wrap(services.ErrProvider, "transcription", "transcribe", "provider returned no words", nil)
	}

	data := &CaptionData{Segments: Segmentize(words)}
	if err := s.writeSidecar(sidecar, data); err != nil {
		return nil, err
	}

	s.logger.Info("captions generated",
		logging.String(logging.FieldSource, videoPath),
		logging.Int("segments", len(data.Segments)))
	return data, nil
}

func (s *Service) loadFreshSidecar(videoPath, sidecar string) (*CaptionData, bool) {
	sidecarInfo, err := os.Stat(sidecar)
	if err != nil {
		return nil, false
	}
	videoInfo, err := os.Stat(videoPath)
	if err == nil && sidecarInfo.ModTime().Before(videoInfo.ModTime()) {
		return nil, false
	}

	payload, err := os.ReadFile(sidecar)
	if err != nil {
		return nil, false
	}
	var data CaptionData
	if err := json.Unmarshal(payload, &data); err != nil {
		s.logger.Warn("discarding unreadable caption sidecar",
			logging.String("sidecar", sidecar), logging.Error(err))
		return nil, false
	}
	return &data, true
}

func (s *Service) writeSidecar(sidecar string, data *CaptionData) error {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return services.Wrap(nil, "captions", "persist sidecar", "encode caption data", err)
	}
	if err := os.WriteFile(sidecar, payload, 0o644); err != nil {
		return services.Wrap(nil, "captions", "persist sidecar", "write sidecar", err)
	}
	return nil
}

// demuxAudio copies the audio track out of the container without re-encoding.
func (s *Service) demuxAudio(ctx context.Context, videoPath string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "veil-audio-")
	if err != nil {
		return "", nil, services.Wrap(nil, "captions", "demux audio", "create temp dir", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	audioPath := filepath.Join(dir, "audio.m4a")
	cmd := exec.CommandContext(ctx, s.ffmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "copy",
		audioPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", cleanup, services.Wrap(services.ErrMalformedInput, "captions", "demux audio",
			fmt.Sprintf("ffmpeg audio extraction failed: %s", string(output)), err)
	}
	return audioPath, cleanup, nil
}
