package processing_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"veil/internal/captions"
	"veil/internal/config"
	"veil/internal/delivery"
	"veil/internal/engine"
	"veil/internal/faceblur"
	"veil/internal/filtergraph"
	"veil/internal/processing"
	"veil/internal/services"
	"veil/internal/testsupport"
)

type fakeEngine struct {
	kind      engine.Kind
	available bool
	fail      bool
	block     chan struct{}
	started   chan struct{}
	calls     atomic.Int32
	lastGraph atomic.Pointer[filtergraph.Graph]
}

func (f *fakeEngine) Kind() engine.Kind              { return f.kind }
func (f *fakeEngine) Available(context.Context) bool { return f.available }

func (f *fakeEngine) Transcode(ctx context.Context, req engine.Request) error {
	f.calls.Add(1)
	f.lastGraph.Store(req.Graph)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail {
		return services.Wrap(services.ErrProvider, "transcode", "fake", "forced failure", nil)
	}
	return os.WriteFile(req.OutputPath, []byte("transcoded"), 0o644)
}

type fakeProvider struct {
	calls atomic.Int32
	err   error
	words []captions.Word
}

func (p *fakeProvider) Transcribe(context.Context, string, float64) ([]captions.Word, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.words, nil
}

func testWords() []captions.Word {
	words := make([]captions.Word, 0, 12)
	for i := 0; i < 12; i++ {
		words = append(words, captions.Word{
			Word:       "word" + string(rune('a'+i)),
			Confidence: 0.95,
			Start:      float64(i) * 0.8,
			End:        float64(i)*0.8 + 0.6,
		})
	}
	return words
}

func testProber(t *testing.T) processing.Prober {
	t.Helper()
	return func(_ context.Context, path string) (processing.MediaInfo, error) {
		info, err := os.Stat(path)
		if err != nil {
			return processing.MediaInfo{}, err
		}
		return processing.MediaInfo{Width: 1920, Height: 1080, Duration: 10.0, SizeBytes: info.Size()}, nil
	}
}

func poorNetwork(context.Context) (*delivery.NetworkProfile, error) {
	return &delivery.NetworkProfile{Quality: delivery.QualityPoor, BandwidthMbps: 0.5, LatencyMs: 800}, nil
}

func fixedRegion(_ context.Context, _ string, width, height int) (faceblur.Region, error) {
	return faceblur.Region{X: 100, Y: 100, W: 400, H: 300}, nil
}

func noThumbnail(_ context.Context, _, outputPath string) error {
	return os.WriteFile(outputPath, []byte("jpeg"), 0o644)
}

func newTestProcessor(t *testing.T, cfg *config.Config, local, remote engine.Engine, provider captions.Provider, opts ...processing.Option) *processing.Processor {
	t.Helper()
	base := []processing.Option{
		processing.WithEngines(local, remote),
		processing.WithCaptionProvider(provider),
		processing.WithProber(testProber(t)),
		processing.WithProfileFunc(poorNetwork),
		processing.WithRegionResolver(fixedRegion),
		processing.WithThumbnailer(noThumbnail),
	}
	return processing.New(cfg, nil, append(base, opts...)...)
}

func sourceVideo(t *testing.T, cfg *config.Config) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(cfg), "recording.mp4")
	testsupport.WriteFile(t, path, 4096)
	return path
}

func TestProcessFallsBackToRemoteEngine(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	source := sourceVideo(t, cfg)

	local := &fakeEngine{kind: engine.KindLocal, available: false}
	remote := &fakeEngine{kind: engine.KindRemote, available: true}
	provider := &fakeProvider{words: testWords()}
	processor := newTestProcessor(t, cfg, local, remote, provider)

	job, attached, err := processor.Submit(context.Background(), source, processing.Options{
		EnableFaceBlur:      true,
		EnableVoiceChange:   true,
		EnableTranscription: true,
		VoiceEffect:         "deep",
		Quality:             "medium",
		Mode:                "hybrid",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if attached {
		t.Fatal("expected a fresh job")
	}
	events := job.Events()

	artifact, err := job.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if local.calls.Load() != 0 {
		t.Fatal("unavailable local engine must not be invoked")
	}
	if remote.calls.Load() != 1 {
		t.Fatalf("expected one remote transcode, got %d", remote.calls.Load())
	}
	if !artifact.FaceBlurApplied || !artifact.VoiceChangeApplied {
		t.Fatalf("expected anonymization flags set, got %+v", artifact)
	}
	if artifact.Transcription == "" || artifact.Transcription == captions.UnavailableText {
		t.Fatalf("expected real transcription, got %q", artifact.Transcription)
	}
	if artifact.Duration < 9.9 || artifact.Duration > 10.1 {
		t.Fatalf("expected duration ~10, got %f", artifact.Duration)
	}
	if artifact.ThumbnailURI == "" {
		t.Fatal("expected thumbnail")
	}

	last := -1
	for event := range events {
		if event.Percent < last {
			t.Fatalf("progress regressed from %d to %d", last, event.Percent)
		}
		last = event.Percent
	}
	if last != 100 {
		t.Fatalf("expected progress to reach 100, got %d", last)
	}

	graph := remote.lastGraph.Load()
	rendered := graph.Render()
	for _, fragment := range []string{"boxblur", "asetrate", "drawtext"} {
		if !strings.Contains(rendered, fragment) {
			t.Fatalf("expected %q in filter graph %q", fragment, rendered)
		}
	}
}

func TestProcessWithFlagsOffEmitsNoDirectives(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	source := sourceVideo(t, cfg)

	local := &fakeEngine{kind: engine.KindLocal, available: true}
	remote := &fakeEngine{kind: engine.KindRemote, available: false}
	processor := newTestProcessor(t, cfg, local, remote, &fakeProvider{words: testWords()})

	artifact, err := processor.Process(context.Background(), source, processing.Options{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if artifact.FaceBlurApplied || artifact.VoiceChangeApplied {
		t.Fatalf("expected flags off, got %+v", artifact)
	}

	rendered := local.lastGraph.Load().Render()
	if strings.Contains(rendered, "boxblur") {
		t.Fatalf("unexpected blur directive in %q", rendered)
	}
	if strings.Contains(rendered, "asetrate") || strings.Contains(rendered, "atempo") {
		t.Fatalf("unexpected pitch directive in %q", rendered)
	}
}

func TestProcessTopHalfFallbackWithoutDetector(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	source := sourceVideo(t, cfg)

	local := &fakeEngine{kind: engine.KindLocal, available: true}
	processor := newTestProcessor(t, cfg, local, &fakeEngine{kind: engine.KindRemote}, &fakeProvider{words: testWords()},
		processing.WithRegionResolver(func(_ context.Context, _ string, w, h int) (faceblur.Region, error) {
			return faceblur.TopHalf(w, h), nil
		}))

	if _, err := processor.Process(context.Background(), source, processing.Options{EnableFaceBlur: true}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	rendered := local.lastGraph.Load().Render()
	if !strings.Contains(rendered, "crop=1920:540:0:0") {
		t.Fatalf("expected top-half crop in %q", rendered)
	}
}

func TestProcessSingleFlightAttachesSecondCaller(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	source := sourceVideo(t, cfg)

	local := &fakeEngine{
		kind:      engine.KindLocal,
		available: true,
		block:     make(chan struct{}),
		started:   make(chan struct{}, 1),
	}
	processor := newTestProcessor(t, cfg, local, &fakeEngine{kind: engine.KindRemote}, &fakeProvider{words: testWords()})

	first, attached, err := processor.Submit(context.Background(), source, processing.Options{})
	if err != nil || attached {
		t.Fatalf("first submit: attached=%v err=%v", attached, err)
	}

	select {
	case <-local.started:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never started")
	}

	second, attached, err := processor.Submit(context.Background(), source, processing.Options{})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !attached {
		t.Fatal("expected second caller to attach")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same job, got %s and %s", first.ID, second.ID)
	}

	close(local.block)
	firstArtifact, err := first.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait first: %v", err)
	}
	secondArtifact, err := second.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait second: %v", err)
	}
	if firstArtifact.URI != secondArtifact.URI {
		t.Fatal("attached caller saw a different artifact")
	}
	if local.calls.Load() != 1 {
		t.Fatalf("expected one transcode for both callers, got %d", local.calls.Load())
	}
}

func TestProcessTranscriptionTimeoutYieldsSentinel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	source := sourceVideo(t, cfg)

	provider := &fakeProvider{err: services.Wrap(services.ErrTimeout, "transcription", "poll", "no terminal status after 20 attempts", nil)}
	local := &fakeEngine{kind: engine.KindLocal, available: true}
	processor := newTestProcessor(t, cfg, local, &fakeEngine{kind: engine.KindRemote}, provider)

	artifact, err := processor.Process(context.Background(), source, processing.Options{EnableTranscription: true})
	if err != nil {
		t.Fatalf("expected job to survive transcription timeout, got %v", err)
	}
	if artifact.Transcription != captions.UnavailableText {
		t.Fatalf("expected sentinel transcription, got %q", artifact.Transcription)
	}

	rendered := local.lastGraph.Load().Render()
	if strings.Contains(rendered, "drawtext") {
		t.Fatalf("expected no captions after timeout, got %q", rendered)
	}
}

func TestProcessDegradesWhenNoEngineAvailable(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	source := sourceVideo(t, cfg)

	local := &fakeEngine{kind: engine.KindLocal, available: false}
	remote := &fakeEngine{kind: engine.KindRemote, available: false}
	processor := newTestProcessor(t, cfg, local, remote, &fakeProvider{words: testWords()})

	artifact, err := processor.Process(context.Background(), source, processing.Options{
		EnableFaceBlur:    true,
		EnableVoiceChange: true,
	})
	if err != nil {
		t.Fatalf("expected degraded artifact, got error %v", err)
	}
	if artifact.URI != source {
		t.Fatalf("expected unmodified source URI, got %q", artifact.URI)
	}
	if !artifact.FaceBlurApplied || !artifact.VoiceChangeApplied {
		t.Fatal("expected requested flags to stay set on degraded artifact")
	}
}

func TestProcessMissingSourceIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	processor := newTestProcessor(t, cfg,
		&fakeEngine{kind: engine.KindLocal, available: true},
		&fakeEngine{kind: engine.KindRemote},
		&fakeProvider{words: testWords()})

	_, err := processor.Process(context.Background(), filepath.Join(testsupport.BaseDir(cfg), "missing.mp4"), processing.Options{})
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	var stageErr *processing.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %T", err)
	}
	if stageErr.Stage != "prepare" {
		t.Fatalf("expected prepare stage, got %q", stageErr.Stage)
	}
	if stageErr.Retryable() {
		t.Fatal("missing source must not be retryable")
	}
}

func TestParseOptionsRejectsUnknownKeys(t *testing.T) {
	_, err := processing.ParseOptions([]byte(`{"enableFaceBlur": true, "enableSparkles": true}`))
	if !errors.Is(err, services.ErrMalformedInput) {
		t.Fatalf("expected malformed-input marker, got %v", err)
	}
}

func TestParseOptionsValidatesEnums(t *testing.T) {
	if _, err := processing.ParseOptions([]byte(`{"quality": "ultra"}`)); err == nil {
		t.Fatal("expected error for unknown quality")
	}
	opts, err := processing.ParseOptions([]byte(`{"quality": "high", "voiceEffect": "light", "mode": "server"}`))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if opts.Quality != "high" || opts.VoiceEffect != "light" || opts.Mode != "server" {
		t.Fatalf("unexpected options %+v", opts)
	}
}
