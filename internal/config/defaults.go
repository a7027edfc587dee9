package config

const (
	defaultStagingDir = "~/.local/share/veil/staging"
	defaultOutputDir  = "~/.local/share/veil/output"
	defaultLogDir     = "~/.local/share/veil/logs"
	defaultCacheDir   = "~/.cache/veil/artifacts"

	defaultProcessingMode    = "hybrid"
	defaultMaxConcurrentJobs = 2
	defaultQualityTier       = "medium"

	defaultSampleIntervalSeconds = 1
	defaultPadPixels             = 40
	defaultDetectTimeout         = 30

	defaultVoiceEffect = "deep"

	defaultTranscriptionProvider = "local"
	defaultTranscriptionPoll     = 3
	defaultTranscriptionAttempts = 20
	defaultTranscriptionTimeout  = 30

	defaultRemoteUploadTimeout = 600
	defaultRemotePoll          = 5
	defaultRemoteAttempts      = 120

	defaultProbeURL          = "https://www.gstatic.com/generate_204"
	defaultProbeTimeout      = 10
	defaultCacheMaxMiB       = 2048
	defaultPressureThreshold = 0.8
	defaultPressureInterval  = 30

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultWorkerCount        = 2
	defaultJobMaxAttempts     = 3

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			CacheDir:   defaultCacheDir,
		},
		Processing: Processing{
			Mode:              defaultProcessingMode,
			MaxConcurrentJobs: defaultMaxConcurrentJobs,
			DefaultQuality:    defaultQualityTier,
		},
		FaceBlur: FaceBlur{
			SampleIntervalSeconds: defaultSampleIntervalSeconds,
			PadPixels:             defaultPadPixels,
			DetectTimeout:         defaultDetectTimeout,
		},
		Voice: Voice{
			DefaultEffect: defaultVoiceEffect,
		},
		Transcription: Transcription{
			Provider:            defaultTranscriptionProvider,
			PollIntervalSeconds: defaultTranscriptionPoll,
			MaxPollAttempts:     defaultTranscriptionAttempts,
			RequestTimeout:      defaultTranscriptionTimeout,
		},
		RemoteEngine: RemoteEngine{
			UploadTimeout:       defaultRemoteUploadTimeout,
			PollIntervalSeconds: defaultRemotePoll,
			MaxPollAttempts:     defaultRemoteAttempts,
		},
		Delivery: Delivery{
			ProbeURL:                 defaultProbeURL,
			ProbeTimeout:             defaultProbeTimeout,
			CacheMaxMiB:              defaultCacheMaxMiB,
			MemoryPressureThreshold:  defaultPressureThreshold,
			PressureCheckIntervalSec: defaultPressureInterval,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			WorkerCount:        defaultWorkerCount,
			JobMaxAttempts:     defaultJobMaxAttempts,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
