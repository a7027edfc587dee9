// Package faceblur locates faces in a video by sampling frames and produces
// the single region that the transcode blurs for the whole duration.
package faceblur

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"veil/internal/config"
	"veil/internal/logging"
	"veil/internal/services"
)

// Region is a detected face box in source-frame pixel coordinates.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detector finds face boxes in a single still frame.
type Detector interface {
	DetectFaces(ctx context.Context, framePath string) ([]Region, error)
}

// Analyzer samples frames from a video, runs the configured detector on each,
// and merges the detections into one blur region.
type Analyzer struct {
	logger         *slog.Logger
	ffmpeg         string
	detector       Detector
	sampleInterval int
	pad            int
	detectTimeout  time.Duration
}

// NewAnalyzer builds an analyzer from configuration. The detector is supplied
// by the caller so engines can share one instance.
func NewAnalyzer(cfg *config.Config, detector Detector, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		logger:         logging.NewComponentLogger(logger, "faceblur"),
		ffmpeg:         cfg.FFmpegBinary(),
		detector:       detector,
		sampleInterval: cfg.FaceBlur.SampleIntervalSeconds,
		pad:            cfg.FaceBlur.PadPixels,
		detectTimeout:  time.Duration(cfg.FaceBlur.DetectTimeout) * time.Second,
	}
}

// BlurRegion returns the region to blur for the given video. When no faces
// are detected in any sampled frame, the top half of the frame is returned so
// anonymization still errs toward coverage.
func (a *Analyzer) BlurRegion(ctx context.Context, videoPath string, frameWidth, frameHeight int) (Region, error) {
	frames, cleanup, err := a.sampleFrames(ctx, videoPath)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return Region{}, err
	}

	var detections []Region
	for _, frame := range frames {
		boxes, err := a.detectFrame(ctx, frame)
		if err != nil {
			return Region{}, err
		}
		detections = append(detections, boxes...)
	}

	if len(detections) == 0 {
		a.logger.Warn("no faces detected, blurring top half",
			logging.String(logging.FieldSource, videoPath))
		return TopHalf(frameWidth, frameHeight), nil
	}

	region := MergeRegions(detections, a.pad, frameWidth, frameHeight)
	a.logger.Info("face region resolved",
		logging.String(logging.FieldSource, videoPath),
		logging.Int("detections", len(detections)),
		logging.Int("region_w", region.W),
		logging.Int("region_h", region.H))
	return region, nil
}

func (a *Analyzer) detectFrame(ctx context.Context, framePath string) ([]Region, error) {
	if a.detectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.detectTimeout)
		defer cancel()
	}
	return a.detector.DetectFaces(ctx, framePath)
}

// sampleFrames extracts one still per sample interval into a temp directory.
// The returned cleanup removes the directory and is non-nil whenever the
// directory was created, even on error.
func (a *Analyzer) sampleFrames(ctx context.Context, videoPath string) ([]string, func(), error) {
	dir, err := os.MkdirTemp("", "veil-frames-")
	if err != nil {
		return nil, nil, services.Wrap(nil, "faceblur", "sample frames", "create temp dir", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	interval := a.sampleInterval
	if interval <= 0 {
		interval = 1
	}

	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", interval),
		"-f", "image2",
		filepath.Join(dir, "frame_%04d.jpg"),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, cleanup, services.Wrap(services.ErrMalformedInput, "faceblur", "sample frames",
			fmt.Sprintf("ffmpeg frame extraction failed: %s", string(output)), err)
	}

	frames, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, cleanup, services.Wrap(nil, "faceblur", "sample frames", "list frames", err)
	}
	sort.Strings(frames)
	return frames, cleanup, nil
}

// MergeRegions computes the bounding union of all detections, expands it by
// pad pixels on every side, and clamps the result to the frame.
func MergeRegions(regions []Region, pad, frameWidth, frameHeight int) Region {
	if len(regions) == 0 {
		return Region{}
	}

	minX, minY := regions[0].X, regions[0].Y
	maxX, maxY := regions[0].X+regions[0].W, regions[0].Y+regions[0].H
	for _, r := range regions[1:] {
		minX = min(minX, r.X)
		minY = min(minY, r.Y)
		maxX = max(maxX, r.X+r.W)
		maxY = max(maxY, r.Y+r.H)
	}

	minX = max(minX-pad, 0)
	minY = max(minY-pad, 0)
	maxX += pad
	maxY += pad
	if frameWidth > 0 {
		maxX = min(maxX, frameWidth)
	}
	if frameHeight > 0 {
		maxY = min(maxY, frameHeight)
	}

	return Region{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// TopHalf is the fallback blur region when detection finds nothing.
func TopHalf(frameWidth, frameHeight int) Region {
	return Region{X: 0, Y: 0, W: frameWidth, H: frameHeight / 2}
}
