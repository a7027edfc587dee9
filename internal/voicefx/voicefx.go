// Package voicefx builds the fixed pitch-alteration filter chains used to
// disguise voices. The transform is deliberately non-adaptive: a constant
// resample/tempo pair per effect, no pitch detection or formant handling.
package voicefx

import (
	"fmt"
	"strings"

	"veil/internal/services"
)

// Effect selects the direction of the pitch shift.
type Effect string

const (
	// EffectDeep lowers pitch: resample at x0.89 then stretch x1.12 to
	// restore the original duration.
	EffectDeep Effect = "deep"
	// EffectLight raises pitch with the inverse ratios.
	EffectLight Effect = "light"
)

const baseSampleRate = 44100

// ParseEffect validates a user-supplied effect name.
func ParseEffect(value string) (Effect, error) {
	switch Effect(strings.ToLower(strings.TrimSpace(value))) {
	case EffectDeep:
		return EffectDeep, nil
	case EffectLight:
		return EffectLight, nil
	default:
		return "", services.Wrap(services.ErrMalformedInput, "voice", "parse effect",
			fmt.Sprintf("unknown voice effect %q", value), nil)
	}
}

// Filters returns the audio filter chain for the effect. The asetrate step
// shifts pitch by changing the playback rate, aresample restores the output
// rate, and atempo compensates the duration change.
func Filters(effect Effect) []string {
	rate, tempo := ratios(effect)
	return []string{
		fmt.Sprintf("asetrate=%d*%.2f", baseSampleRate, rate),
		fmt.Sprintf("aresample=%d", baseSampleRate),
		fmt.Sprintf("atempo=%.2f", tempo),
	}
}

func ratios(effect Effect) (rate, tempo float64) {
	if effect == EffectLight {
		return 1.12, 0.89
	}
	return 0.89, 1.12
}
