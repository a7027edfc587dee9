package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external dependency Veil relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Defaults returns the external binaries the local pipeline uses.
func Defaults(detectorCommand string) []Requirement {
	reqs := []Requirement{
		{Name: "FFmpeg", Command: "ffmpeg", Description: "Transcoding, filtering, and frame extraction"},
		{Name: "FFprobe", Command: "ffprobe", Description: "Media inspection (duration, dimensions)"},
	}
	if strings.TrimSpace(detectorCommand) != "" {
		reqs = append(reqs, Requirement{
			Name:        "Face detector",
			Command:     detectorCommand,
			Description: "Local face detection model",
			Optional:    true,
		})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// LocalEngineReady reports whether the required local media toolchain is present.
func LocalEngineReady() bool {
	for _, status := range CheckBinaries(Defaults("")) {
		if !status.Optional && !status.Available {
			return false
		}
	}
	return true
}
