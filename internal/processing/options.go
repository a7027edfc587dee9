package processing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"veil/internal/config"
	"veil/internal/services"
)

// Options controls what a processing job does to its source. Unset enum
// fields take the configured defaults.
type Options struct {
	EnableFaceBlur      bool   `json:"enableFaceBlur"`
	EnableVoiceChange   bool   `json:"enableVoiceChange"`
	EnableTranscription bool   `json:"enableTranscription"`
	Quality             string `json:"quality,omitempty"`
	VoiceEffect         string `json:"voiceEffect,omitempty"`
	Mode                string `json:"mode,omitempty"`
}

var (
	validQualities = map[string]bool{"low": true, "medium": true, "high": true}
	validEffects   = map[string]bool{"deep": true, "light": true}
	validModes     = map[string]bool{"local": true, "server": true, "hybrid": true}
)

// ParseOptions decodes a JSON options document. Unknown keys are rejected so
// a typo never silently disables a feature.
func ParseOptions(data []byte) (Options, error) {
	var opts Options
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&opts); err != nil {
		return Options{}, services.Wrap(services.ErrMalformedInput, "options", "parse", "invalid options document", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks every enum field that is set.
func (o Options) Validate() error {
	if o.Quality != "" && !validQualities[strings.ToLower(o.Quality)] {
		return services.Wrap(services.ErrMalformedInput, "options", "validate",
			fmt.Sprintf("unknown quality %q", o.Quality), nil)
	}
	if o.VoiceEffect != "" && !validEffects[strings.ToLower(o.VoiceEffect)] {
		return services.Wrap(services.ErrMalformedInput, "options", "validate",
			fmt.Sprintf("unknown voice effect %q", o.VoiceEffect), nil)
	}
	if o.Mode != "" && !validModes[strings.ToLower(o.Mode)] {
		return services.Wrap(services.ErrMalformedInput, "options", "validate",
			fmt.Sprintf("unknown mode %q", o.Mode), nil)
	}
	return nil
}

// withDefaults fills unset enum fields from configuration and lowercases
// the rest.
func (o Options) withDefaults(cfg *config.Config) Options {
	o.Quality = strings.ToLower(o.Quality)
	o.VoiceEffect = strings.ToLower(o.VoiceEffect)
	o.Mode = strings.ToLower(o.Mode)

	if o.Quality == "" {
		o.Quality = cfg.Processing.DefaultQuality
	}
	if o.VoiceEffect == "" {
		o.VoiceEffect = cfg.Voice.DefaultEffect
	}
	if o.Mode == "" {
		o.Mode = cfg.Processing.Mode
	}
	return o
}
