package config

import (
	"errors"
	"fmt"
	"strings"
)

var validModes = map[string]struct{}{"local": {}, "server": {}, "hybrid": {}}

var validQualities = map[string]struct{}{"low": {}, "medium": {}, "high": {}}

var validEffects = map[string]struct{}{"deep": {}, "light": {}}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateFaceBlur(); err != nil {
		return err
	}
	if err := c.validateVoice(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateRemoteEngine(); err != nil {
		return err
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if _, ok := validModes[c.Processing.Mode]; !ok {
		return fmt.Errorf("processing.mode must be one of local, server, hybrid (got %q)", c.Processing.Mode)
	}
	if _, ok := validQualities[c.Processing.DefaultQuality]; !ok {
		return fmt.Errorf("processing.default_quality must be one of low, medium, high (got %q)", c.Processing.DefaultQuality)
	}
	if c.Processing.MaxConcurrentJobs <= 0 {
		return errors.New("processing.max_concurrent_jobs must be positive")
	}
	return nil
}

func (c *Config) validateFaceBlur() error {
	if c.FaceBlur.SampleIntervalSeconds <= 0 {
		return errors.New("face_blur.sample_interval_seconds must be positive")
	}
	if c.FaceBlur.PadPixels < 0 {
		return errors.New("face_blur.pad_pixels must be >= 0")
	}
	if c.FaceBlur.DetectTimeout <= 0 {
		return errors.New("face_blur.detect_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateVoice() error {
	if _, ok := validEffects[c.Voice.DefaultEffect]; !ok {
		return fmt.Errorf("voice.default_effect must be one of deep, light (got %q)", c.Voice.DefaultEffect)
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.Provider {
	case "local":
	case "cloud":
		if strings.TrimSpace(c.Transcription.BaseURL) == "" {
			return errors.New("transcription.base_url must be set when transcription.provider is cloud")
		}
		if strings.TrimSpace(c.Transcription.APIKey) == "" {
			return errors.New("transcription.api_key must be set when transcription.provider is cloud (or set VEIL_TRANSCRIPTION_API_KEY)")
		}
	default:
		return fmt.Errorf("transcription.provider must be one of local, cloud (got %q)", c.Transcription.Provider)
	}
	if err := ensurePositiveMap(map[string]int{
		"transcription.poll_interval_seconds": c.Transcription.PollIntervalSeconds,
		"transcription.max_poll_attempts":     c.Transcription.MaxPollAttempts,
		"transcription.request_timeout":       c.Transcription.RequestTimeout,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRemoteEngine() error {
	if c.Processing.Mode == "server" && strings.TrimSpace(c.RemoteEngine.URL) == "" {
		return errors.New("remote_engine.url must be set when processing.mode is server")
	}
	return ensurePositiveMap(map[string]int{
		"remote_engine.upload_timeout":        c.RemoteEngine.UploadTimeout,
		"remote_engine.poll_interval_seconds": c.RemoteEngine.PollIntervalSeconds,
		"remote_engine.max_poll_attempts":     c.RemoteEngine.MaxPollAttempts,
	})
}

func (c *Config) validateDelivery() error {
	if strings.TrimSpace(c.Delivery.ProbeURL) == "" {
		return errors.New("delivery.probe_url must be set")
	}
	if c.Delivery.MemoryPressureThreshold <= 0 || c.Delivery.MemoryPressureThreshold > 1 {
		return errors.New("delivery.memory_pressure_threshold must be between 0 and 1")
	}
	return ensurePositiveMap(map[string]int{
		"delivery.probe_timeout":                   c.Delivery.ProbeTimeout,
		"delivery.cache_max_mib":                   c.Delivery.CacheMaxMiB,
		"delivery.pressure_check_interval_seconds": c.Delivery.PressureCheckIntervalSec,
	})
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.worker_count":         c.Workflow.WorkerCount,
		"workflow.job_max_attempts":     c.Workflow.JobMaxAttempts,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
