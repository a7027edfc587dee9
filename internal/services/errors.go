package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermissionDenied marks failures caused by missing filesystem or API permissions.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEngineUnavailable marks failures caused by a missing local media toolchain.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrNetwork marks transport failures against remote services.
	ErrNetwork = errors.New("network error")
	// ErrTimeout marks bounded operations that exhausted their attempt budget.
	ErrTimeout = errors.New("timeout")
	// ErrMalformedInput marks unusable source media or options.
	ErrMalformedInput = errors.New("malformed input")
	// ErrProvider marks upstream transcription/transcoding failures.
	ErrProvider = errors.New("provider error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrProvider
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether an error class is worth retrying. Network and
// timeout failures are; malformed input and permission problems are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrTimeout):
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
