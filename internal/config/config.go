package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
	CacheDir   string `toml:"cache_dir"`
}

// Processing contains orchestrator-level settings.
type Processing struct {
	// Mode selects the default execution mode: "local", "server", or "hybrid".
	Mode string `toml:"mode"`
	// MaxConcurrentJobs bounds how many distinct sources process at once.
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
	// DefaultQuality is used when a job does not request a tier: "low",
	// "medium", or "high".
	DefaultQuality string `toml:"default_quality"`
}

// FaceBlur contains face detection and blur settings.
type FaceBlur struct {
	// DetectorCommand is a local executable that accepts an image path and
	// prints detected face boxes as JSON. Empty disables the local detector.
	DetectorCommand string `toml:"detector_command"`
	// DetectorURL is a remote detection endpoint used when no local detector
	// is available.
	DetectorURL string `toml:"detector_url"`
	// SampleIntervalSeconds is the spacing between sampled frames.
	SampleIntervalSeconds int `toml:"sample_interval_seconds"`
	// PadPixels is added around the merged detection region.
	PadPixels int `toml:"pad_pixels"`
	// DetectTimeout bounds a single frame detection, in seconds.
	DetectTimeout int `toml:"detect_timeout"`
}

// Voice contains voice transformation settings.
type Voice struct {
	// DefaultEffect applies when a job enables voice change without choosing
	// an effect: "deep" or "light".
	DefaultEffect string `toml:"default_effect"`
}

// Transcription contains speech-to-text provider settings.
type Transcription struct {
	// Provider selects "cloud" or "local".
	Provider            string `toml:"provider"`
	BaseURL             string `toml:"base_url"`
	APIKey              string `toml:"api_key"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	MaxPollAttempts     int    `toml:"max_poll_attempts"`
	RequestTimeout      int    `toml:"request_timeout"`
}

// RemoteEngine contains the server-side transcoding service settings.
type RemoteEngine struct {
	URL                 string `toml:"url"`
	APIKey              string `toml:"api_key"`
	UploadTimeout       int    `toml:"upload_timeout"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	MaxPollAttempts     int    `toml:"max_poll_attempts"`
}

// Delivery contains adaptive delivery settings.
type Delivery struct {
	ProbeURL                 string  `toml:"probe_url"`
	ProbeTimeout             int     `toml:"probe_timeout"`
	CacheMaxMiB              int     `toml:"cache_max_mib"`
	MemoryPressureThreshold  float64 `toml:"memory_pressure_threshold"`
	PressureCheckIntervalSec int     `toml:"pressure_check_interval_seconds"`
}

// Workflow contains background queue timing and sizing.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	WorkerCount        int `toml:"worker_count"`
	JobMaxAttempts     int `toml:"job_max_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Veil.
//
// Configuration sections by subsystem:
//   - Paths: staging, output, log, and cache directories
//   - Processing: execution mode, concurrency cap, default quality tier
//   - FaceBlur: detector selection and sampling/padding policy
//   - Voice: default pitch effect
//   - Transcription: speech-to-text provider and polling bounds
//   - RemoteEngine: server-side transcoding service
//   - Delivery: network probing and cache sizing/pressure policy
//   - Workflow: background queue intervals and worker pool size
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Processing    Processing    `toml:"processing"`
	FaceBlur      FaceBlur      `toml:"face_blur"`
	Voice         Voice         `toml:"voice"`
	Transcription Transcription `toml:"transcription"`
	RemoteEngine  RemoteEngine  `toml:"remote_engine"`
	Delivery      Delivery      `toml:"delivery"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/veil/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("veil.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for pipeline operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.LogDir, c.Paths.CacheDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for transcoding.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.StagingDir,
		&c.Paths.OutputDir,
		&c.Paths.LogDir,
		&c.Paths.CacheDir,
	} {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}

	c.Processing.Mode = strings.ToLower(strings.TrimSpace(c.Processing.Mode))
	c.Processing.DefaultQuality = strings.ToLower(strings.TrimSpace(c.Processing.DefaultQuality))
	c.Voice.DefaultEffect = strings.ToLower(strings.TrimSpace(c.Voice.DefaultEffect))
	c.Transcription.Provider = strings.ToLower(strings.TrimSpace(c.Transcription.Provider))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if key, ok := os.LookupEnv("VEIL_TRANSCRIPTION_API_KEY"); ok && strings.TrimSpace(key) != "" {
		c.Transcription.APIKey = strings.TrimSpace(key)
	}
	if key, ok := os.LookupEnv("VEIL_REMOTE_API_KEY"); ok && strings.TrimSpace(key) != "" {
		c.RemoteEngine.APIKey = strings.TrimSpace(key)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
