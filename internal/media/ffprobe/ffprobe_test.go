package ffprobe_test

import (
	"testing"

	"veil/internal/media/ffprobe"
)

const sampleOutput = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "44100", "channels": 2}
  ],
  "format": {
    "filename": "clip.mp4",
    "nb_streams": 2,
    "duration": "10.043000",
    "size": "5242880",
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2"
  }
}`

func TestParse(t *testing.T) {
	result, err := ffprobe.Parse([]byte(sampleOutput))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	width, height := result.Dimensions()
	if width != 1920 || height != 1080 {
		t.Fatalf("expected 1920x1080, got %dx%d", width, height)
	}
	if got := result.DurationSeconds(); got < 10.0 || got > 10.1 {
		t.Fatalf("expected duration ~10.043, got %f", got)
	}
	if got := result.SizeBytes(); got != 5242880 {
		t.Fatalf("expected size 5242880, got %d", got)
	}
	if got := result.AudioStreamCount(); got != 1 {
		t.Fatalf("expected one audio stream, got %d", got)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := ffprobe.Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMissingFieldsDefaultToZero(t *testing.T) {
	result, err := ffprobe.Parse([]byte(`{"streams": [], "format": {}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if w, h := result.Dimensions(); w != 0 || h != 0 {
		t.Fatalf("expected zero dimensions, got %dx%d", w, h)
	}
	if result.DurationSeconds() != 0 {
		t.Fatal("expected zero duration")
	}
	if _, ok := result.VideoStream(); ok {
		t.Fatal("expected no video stream")
	}
}
