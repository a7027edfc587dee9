package processing

import (
	"fmt"

	"veil/internal/services"
)

// Artifact is the finalized output of one processing job. Artifacts are
// read-only after creation; reprocessing a source supersedes the previous
// artifact instead of mutating it.
type Artifact struct {
	URI                string  `json:"uri"`
	Width              int     `json:"width"`
	Height             int     `json:"height"`
	Duration           float64 `json:"duration"`
	Size               int64   `json:"size"`
	Transcription      string  `json:"transcription"`
	ThumbnailURI       string  `json:"thumbnailUri,omitempty"`
	FaceBlurApplied    bool    `json:"faceBlurApplied"`
	VoiceChangeApplied bool    `json:"voiceChangeApplied"`
}

// StageError is a terminal processing failure carrying the failing stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Retryable reports whether the underlying error class is worth retrying.
func (e *StageError) Retryable() bool { return services.Retryable(e.Err) }
