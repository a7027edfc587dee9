// Package processing sequences the anonymization pipeline: face scan,
// transcription, voice transform, one combined transcode, then thumbnail and
// finalization. It owns the per-source single-flight guarantee and the
// progress event stream.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"veil/internal/captions"
	"veil/internal/config"
	"veil/internal/delivery"
	"veil/internal/engine"
	"veil/internal/faceblur"
	"veil/internal/filtergraph"
	"veil/internal/logging"
	"veil/internal/media/ffprobe"
	"veil/internal/services"
	"veil/internal/voicefx"
)

// MediaInfo is the probed shape of a media file.
type MediaInfo struct {
	Width     int
	Height    int
	Duration  float64
	SizeBytes int64
}

// Prober inspects a media file.
type Prober func(ctx context.Context, path string) (MediaInfo, error)

// RegionResolver produces the blur region for a source video.
type RegionResolver func(ctx context.Context, source string, width, height int) (faceblur.Region, error)

// ProfileFunc measures current network conditions.
type ProfileFunc func(ctx context.Context) (*delivery.NetworkProfile, error)

// Thumbnailer extracts a representative frame from a video.
type Thumbnailer func(ctx context.Context, videoPath, outputPath string) error

// Processor is the orchestrator. All collaborators are injected so tests can
// run the full pipeline against fakes.
type Processor struct {
	cfg    *config.Config
	logger *slog.Logger

	local           engine.Engine
	remote          engine.Engine
	captionProvider captions.Provider
	captionSvc      *captions.Service
	prober          Prober
	regionResolver  RegionResolver
	profile         ProfileFunc
	thumbnail       Thumbnailer
	cache           *delivery.CacheManager

	mu       sync.Mutex
	inflight map[string]*Job
	slots    chan struct{}
}

// Option overrides a processor collaborator.
type Option func(*Processor)

// WithEngines replaces the transcoding backends.
func WithEngines(local, remote engine.Engine) Option {
	return func(p *Processor) {
		p.local = local
		p.remote = remote
	}
}

// WithCaptionProvider replaces the transcription provider.
func WithCaptionProvider(provider captions.Provider) Option {
	return func(p *Processor) { p.captionProvider = provider }
}

// WithProber replaces media inspection.
func WithProber(prober Prober) Option {
	return func(p *Processor) { p.prober = prober }
}

// WithRegionResolver replaces the face-region resolution step.
func WithRegionResolver(resolver RegionResolver) Option {
	return func(p *Processor) { p.regionResolver = resolver }
}

// WithProfileFunc replaces network measurement.
func WithProfileFunc(profile ProfileFunc) Option {
	return func(p *Processor) { p.profile = profile }
}

// WithThumbnailer replaces thumbnail extraction.
func WithThumbnailer(thumbnailer Thumbnailer) Option {
	return func(p *Processor) { p.thumbnail = thumbnailer }
}

// WithCache replaces the artifact cache manager.
func WithCache(cache *delivery.CacheManager) Option {
	return func(p *Processor) { p.cache = cache }
}

// New wires a processor from configuration, then applies overrides.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Processor {
	logger = logging.NewComponentLogger(logger, "processor")
	localEngine := engine.NewLocalEngine(cfg, logger)

	concurrency := cfg.Processing.MaxConcurrentJobs
	if concurrency <= 0 {
		concurrency = 1
	}

	p := &Processor{
		cfg:       cfg,
		logger:    logger,
		local:     localEngine,
		remote:    engine.NewRemoteEngine(cfg, logger),
		thumbnail: localEngine.Thumbnail,
		profile:   delivery.NewProfiler(cfg, logger).Measure,
		cache:     delivery.NewCacheManager(cfg, logger),
		inflight:  make(map[string]*Job),
		slots:     make(chan struct{}, concurrency),
	}

	p.prober = func(ctx context.Context, path string) (MediaInfo, error) {
		result, err := ffprobe.Inspect(ctx, cfg.FFprobeBinary(), path)
		if err != nil {
			return MediaInfo{}, err
		}
		width, height := result.Dimensions()
		return MediaInfo{
			Width:     width,
			Height:    height,
			Duration:  result.DurationSeconds(),
			SizeBytes: result.SizeBytes(),
		}, nil
	}

	if cfg.Transcription.Provider == "cloud" && cfg.Transcription.BaseURL != "" {
		p.captionProvider = captions.NewCloudProvider(cfg)
	} else {
		p.captionProvider = captions.NewSimulatedProvider()
	}

	p.regionResolver = defaultRegionResolver(cfg, logger)

	for _, opt := range opts {
		opt(p)
	}

	p.captionSvc = captions.NewService(cfg, p.captionProvider, logger)
	return p
}

// defaultRegionResolver runs the configured detector through the frame
// sampler. With no detector configured the conservative top-half policy
// applies directly.
func defaultRegionResolver(cfg *config.Config, logger *slog.Logger) RegionResolver {
	var detector faceblur.Detector
	switch {
	case cfg.FaceBlur.DetectorCommand != "":
		detector = faceblur.NewCommandDetector(cfg.FaceBlur.DetectorCommand)
	case cfg.FaceBlur.DetectorURL != "":
		detector = faceblur.NewHTTPDetector(cfg.FaceBlur.DetectorURL)
	}
	if detector == nil {
		return func(_ context.Context, _ string, width, height int) (faceblur.Region, error) {
			return faceblur.TopHalf(width, height), nil
		}
	}
	analyzer := faceblur.NewAnalyzer(cfg, detector, logger)
	return func(ctx context.Context, source string, width, height int) (faceblur.Region, error) {
		return analyzer.BlurRegion(ctx, source, width, height)
	}
}

// Cache exposes the artifact cache for telemetry and background jobs.
func (p *Processor) Cache() *delivery.CacheManager {
	return p.cache
}

// Job is one in-flight or finished processing run.
type Job struct {
	ID      string
	Source  string
	Options Options

	hub      *hub
	done     chan struct{}
	artifact *Artifact
	err      error
	timings  []logging.Attr
}

// Events subscribes to the job's progress stream. The channel closes when
// the job finishes.
func (j *Job) Events() <-chan Event {
	return j.hub.subscribe()
}

// Wait blocks until the job finishes or the context is cancelled.
func (j *Job) Wait(ctx context.Context) (*Artifact, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-j.done:
		return j.artifact, j.err
	}
}

// Submit starts processing a source, or attaches to the job already running
// for it. The second return reports whether the caller attached to an
// existing run.
func (p *Processor) Submit(ctx context.Context, sourcePath string, opts Options) (*Job, bool, error) {
	if err := opts.Validate(); err != nil {
		return nil, false, err
	}
	source, err := config.ExpandPath(sourcePath)
	if err != nil {
		return nil, false, services.Wrap(services.ErrMalformedInput, "prepare", "resolve source", "", err)
	}

	p.mu.Lock()
	if existing, ok := p.inflight[source]; ok {
		p.mu.Unlock()
		p.logger.Info("attaching to in-flight job",
			logging.String(logging.FieldSource, source),
			logging.String(logging.FieldJobID, existing.ID))
		return existing, true, nil
	}
	job := &Job{
		ID:      uuid.NewString(),
		Source:  source,
		Options: opts.withDefaults(p.cfg),
		hub:     newHub(),
		done:    make(chan struct{}),
	}
	p.inflight[source] = job
	p.mu.Unlock()

	go p.run(ctx, job)
	return job, false, nil
}

// Process is the synchronous path: submit and wait for the artifact.
func (p *Processor) Process(ctx context.Context, sourcePath string, opts Options) (*Artifact, error) {
	job, _, err := p.Submit(ctx, sourcePath, opts)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx)
}

func (p *Processor) run(ctx context.Context, job *Job) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, job.Source)
		p.mu.Unlock()
		job.hub.close()
		close(job.done)
	}()

	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-ctx.Done():
		job.err = &StageError{Stage: "prepare", Err: ctx.Err()}
		return
	}

	ctx = services.WithJobID(ctx, job.ID)
	log := logging.WithContext(ctx, p.logger).With(logging.String(logging.FieldSource, job.Source))
	log.Info("processing started",
		logging.Bool("face_blur", job.Options.EnableFaceBlur),
		logging.Bool("voice_change", job.Options.EnableVoiceChange),
		logging.Bool("transcription", job.Options.EnableTranscription),
		logging.String("mode", job.Options.Mode))

	start := time.Now()
	job.artifact, job.err = p.execute(ctx, job, log)
	if job.err != nil {
		log.Error("processing failed", logging.Error(job.err))
		return
	}
	attrs := append([]logging.Attr{
		logging.String("artifact", job.artifact.URI),
		logging.Duration("elapsed", time.Since(start)),
	}, job.timings...)
	log.Info("processing finished", logging.Args(attrs...)...)
}

func (p *Processor) execute(ctx context.Context, job *Job, log *slog.Logger) (*Artifact, error) {
	stageStart := time.Now()
	markStage := func(stage string) {
		now := time.Now()
		job.timings = append(job.timings, logging.Duration(stage+"_duration", now.Sub(stageStart)))
		stageStart = now
	}

	job.hub.publish(Event{Percent: 5, Stage: "prepare", Message: "Preparing source"})

	if err := p.cfg.EnsureDirectories(); err != nil {
		return nil, &StageError{Stage: "prepare", Err: err}
	}
	stat, err := os.Stat(job.Source)
	if err != nil {
		return nil, &StageError{Stage: "prepare", Err: services.Wrap(services.ErrMalformedInput, "prepare", "stat source", "", err)}
	}
	info, err := p.prober(ctx, job.Source)
	if err != nil {
		return nil, &StageError{Stage: "prepare", Err: services.Wrap(services.ErrMalformedInput, "prepare", "probe source", "", err)}
	}

	tier := p.selectTier(ctx, log)
	markStage("prepare")
	graph := filtergraph.New()
	artifact := &Artifact{
		Width:    info.Width,
		Height:   info.Height,
		Duration: info.Duration,
		Size:     stat.Size(),
	}

	if job.Options.EnableFaceBlur {
		job.hub.publish(Event{Percent: 15, Stage: "face_scan", Message: "Scanning for faces"})
		region, err := p.regionResolver(ctx, job.Source, info.Width, info.Height)
		if err != nil {
			log.Warn("face detection failed, using top-half fallback", logging.Error(err))
			region = faceblur.TopHalf(info.Width, info.Height)
		}
		graph.SetBlur(filtergraph.Rect{X: region.X, Y: region.Y, W: region.W, H: region.H})
		artifact.FaceBlurApplied = true
		job.hub.publish(Event{Percent: 30, Stage: "face_scan", Message: "Face region resolved"})
		markStage("face_scan")
	}

	var overlays []filtergraph.Drawtext
	if job.Options.EnableTranscription {
		job.hub.publish(Event{Percent: 35, Stage: "transcription", Message: "Transcribing audio"})
		data, err := p.captionSvc.GenerateForVideo(ctx, job.Source, info.Duration, false)
		if err != nil {
			log.Warn("transcription unavailable, skipping captions", logging.Error(err))
			artifact.Transcription = captions.UnavailableText
		} else {
			artifact.Transcription = data.FullText()
			overlays = captions.Overlays(data)
		}
		job.hub.publish(Event{Percent: 50, Stage: "transcription", Message: "Transcription finished"})
		markStage("transcription")
	}

	if job.Options.EnableVoiceChange {
		effect, err := voicefx.ParseEffect(job.Options.VoiceEffect)
		if err != nil {
			effect = voicefx.EffectDeep
		}
		graph.SetAudioFilters(voicefx.Filters(effect)...)
		artifact.VoiceChangeApplied = true
	}

	if info.Height > tier.Height() {
		graph.SetScaleHeight(tier.Height())
	}
	for _, overlay := range overlays {
		graph.AddCaption(overlay)
	}

	job.hub.publish(Event{Percent: 55, Stage: "transcode", Message: "Applying filters"})
	outputPath := p.outputPath(job)
	transcoded := p.transcode(ctx, job, graph, outputPath, log)
	markStage("transcode")
	if !transcoded {
		return p.degradedArtifact(job, artifact, info), nil
	}

	job.hub.publish(Event{Percent: 85, Stage: "finalize", Message: "Extracting thumbnail"})
	artifact.URI = outputPath

	thumbPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + "_thumb.jpg"
	if err := p.thumbnail(ctx, outputPath, thumbPath); err != nil {
		log.Warn("thumbnail extraction failed", logging.Error(err))
	} else {
		artifact.ThumbnailURI = thumbPath
	}

	if outInfo, err := p.prober(ctx, outputPath); err == nil && outInfo.Duration > 0 {
		artifact.Width = outInfo.Width
		artifact.Height = outInfo.Height
		artifact.Duration = outInfo.Duration
	}
	if outStat, err := os.Stat(outputPath); err == nil {
		artifact.Size = outStat.Size()
	}

	p.cache.Record(artifact.URI, artifact.Size)
	markStage("finalize")
	job.hub.publish(Event{Percent: 100, Stage: "completed", Message: "Processing complete"})
	return artifact, nil
}

// transcode tries each resolved engine in order. In hybrid mode that means
// one local attempt, then one remote retry before giving up.
func (p *Processor) transcode(ctx context.Context, job *Job, graph *filtergraph.Graph, outputPath string, log *slog.Logger) bool {
	engines, err := engine.Resolve(ctx, job.Options.Mode, p.local, p.remote)
	if err != nil {
		log.Warn("no transcoding engine available", logging.Error(err))
		return false
	}

	req := engine.Request{
		SourcePath: job.Source,
		OutputPath: outputPath,
		Graph:      graph,
		Quality:    job.Options.Quality,
	}
	for _, eng := range engines {
		if err := eng.Transcode(ctx, req); err != nil {
			log.Warn("transcode attempt failed",
				logging.String("engine", string(eng.Kind())),
				logging.Error(err))
			continue
		}
		log.Info("transcode succeeded", logging.String("engine", string(eng.Kind())))
		return true
	}
	return false
}

// degradedArtifact is the last-resort fallback: hand back the unmodified
// source so the caller's flow survives. Requested anonymization flags stay
// set so the UI reflects what the user asked for.
func (p *Processor) degradedArtifact(job *Job, artifact *Artifact, info MediaInfo) *Artifact {
	artifact.URI = job.Source
	artifact.Duration = info.Duration
	if job.Options.EnableTranscription && artifact.Transcription == "" {
		artifact.Transcription = captions.UnavailableText
	}
	job.hub.publish(Event{Percent: 95, Stage: "finalize", Message: "Returning degraded artifact"})
	job.hub.publish(Event{Percent: 100, Stage: "completed", Message: "Processing complete (degraded)"})
	return artifact
}

func (p *Processor) selectTier(ctx context.Context, log *slog.Logger) delivery.Tier {
	var bandwidth float64
	if profile, err := p.profile(ctx); err != nil {
		log.Warn("network probe failed, assuming zero bandwidth", logging.Error(err))
	} else {
		bandwidth = profile.BandwidthMbps
	}
	tier := delivery.SelectTier(bandwidth, delivery.DeviceScore())
	log.Debug("quality tier selected",
		logging.Float64("bandwidth_mbps", bandwidth),
		logging.Int("device_score", delivery.DeviceScore()),
		logging.String("tier", string(tier)))
	return tier
}

func (p *Processor) outputPath(job *Job) string {
	base := strings.TrimSuffix(filepath.Base(job.Source), filepath.Ext(job.Source))
	return filepath.Join(p.cfg.Paths.OutputDir, fmt.Sprintf("%s_veiled_%s.mp4", base, job.ID[:8]))
}
