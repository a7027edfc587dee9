package faceblur

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"veil/internal/services"
)

// CommandDetector shells out to a local detection executable. The command is
// invoked with the frame path as its only argument and must print a JSON
// array of face boxes on stdout.
type CommandDetector struct {
	command string
}

// NewCommandDetector wraps the configured detector executable.
func NewCommandDetector(command string) *CommandDetector {
	return &CommandDetector{command: command}
}

// DetectFaces runs the detector on one frame.
func (d *CommandDetector) DetectFaces(ctx context.Context, framePath string) ([]Region, error) {
	cmd := exec.CommandContext(ctx, d.command, framePath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "faceblur", "detect", "detector command timed out", ctx.Err())
		}
		return nil, services.Wrap(services.ErrProvider, "faceblur", "detect",
			fmt.Sprintf("detector command failed: %s", strings.TrimSpace(stderr.String())), err)
	}

	return parseRegions(stdout.Bytes())
}

// HTTPDetector posts frames to a remote detection endpoint that responds with
// the same JSON box array as the local command protocol.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector builds a detector against the given endpoint.
func NewHTTPDetector(url string) *HTTPDetector {
	return &HTTPDetector{
		url:    url,
		client: &http.Client{},
	}
}

// DetectFaces uploads the frame and decodes the detection response.
func (d *HTTPDetector) DetectFaces(ctx context.Context, framePath string) ([]Region, error) {
	frame, err := os.ReadFile(framePath)
	if err != nil {
		return nil, services.Wrap(nil, "faceblur", "detect", "read frame", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(frame))
	if err != nil {
		return nil, services.Wrap(nil, "faceblur", "detect", "build request", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "faceblur", "detect", "detector request timed out", ctx.Err())
		}
		return nil, services.Wrap(services.ErrNetwork, "faceblur", "detect", "detector request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrProvider, "faceblur", "detect",
			fmt.Sprintf("detector returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "faceblur", "detect", "read detector response", err)
	}
	return parseRegions(body)
}

func parseRegions(data []byte) ([]Region, error) {
	var regions []Region
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, services.Wrap(services.ErrProvider, "faceblur", "detect", "decode detector output", err)
	}
	for _, r := range regions {
		if r.W <= 0 || r.H <= 0 {
			return nil, services.Wrap(services.ErrProvider, "faceblur", "detect",
				fmt.Sprintf("detector reported degenerate box %dx%d", r.W, r.H), nil)
		}
	}
	return regions, nil
}
