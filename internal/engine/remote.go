package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"veil/internal/config"
	"veil/internal/logging"
	"veil/internal/services"
)

// RemoteEngine ships the source to a server-side transcoding service:
// multipart upload, bounded status polling, then result download.
type RemoteEngine struct {
	logger       *slog.Logger
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxAttempts  int
	client       *http.Client
}

// NewRemoteEngine builds the server-backed engine from configuration.
func NewRemoteEngine(cfg *config.Config, logger *slog.Logger) *RemoteEngine {
	section := cfg.RemoteEngine
	uploadTimeout := time.Duration(section.UploadTimeout) * time.Second
	if uploadTimeout <= 0 {
		uploadTimeout = 5 * time.Minute
	}
	return &RemoteEngine{
		logger:       logging.NewComponentLogger(logger, "engine.remote"),
		baseURL:      strings.TrimRight(section.URL, "/"),
		apiKey:       section.APIKey,
		pollInterval: time.Duration(section.PollIntervalSeconds) * time.Second,
		maxAttempts:  section.MaxPollAttempts,
		client:       &http.Client{Timeout: uploadTimeout},
	}
}

// Kind reports the backend identity.
func (e *RemoteEngine) Kind() Kind { return KindRemote }

// Available probes the service health endpoint.
func (e *RemoteEngine) Available(ctx context.Context) bool {
	if e.baseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type remoteJobSpec struct {
	FilterComplex string `json:"filterComplex,omitempty"`
	VideoLabel    string `json:"videoLabel,omitempty"`
	AudioLabel    string `json:"audioLabel,omitempty"`
	Quality       string `json:"quality,omitempty"`
}

type remoteJobStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Transcode uploads the source, waits for the remote job, and downloads the
// processed output.
func (e *RemoteEngine) Transcode(ctx context.Context, req Request) error {
	jobID, err := e.upload(ctx, req)
	if err != nil {
		return err
	}
	e.logger.Info("remote job submitted",
		logging.String(logging.FieldSource, req.SourcePath),
		logging.String("remote_job", jobID))

	if err := e.awaitCompletion(ctx, jobID); err != nil {
		return err
	}
	return e.download(ctx, jobID, req.OutputPath)
}

func (e *RemoteEngine) upload(ctx context.Context, req Request) (string, error) {
	source, err := os.Open(req.SourcePath)
	if err != nil {
		return "", services.Wrap(services.ErrMalformedInput, "transcode", "remote upload", "open source", err)
	}
	defer source.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	spec := remoteJobSpec{Quality: req.Quality}
	if req.Graph != nil && !req.Graph.Empty() {
		spec.FilterComplex = req.Graph.Render()
		spec.VideoLabel = req.Graph.VideoLabel()
		spec.AudioLabel = req.Graph.AudioLabel()
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return "", services.Wrap(nil, "transcode", "remote upload", "encode job spec", err)
	}
	if err := writer.WriteField("spec", string(specJSON)); err != nil {
		return "", services.Wrap(nil, "transcode", "remote upload", "write spec field", err)
	}

	part, err := writer.CreateFormFile("video", filepath.Base(req.SourcePath))
	if err != nil {
		return "", services.Wrap(nil, "transcode", "remote upload", "create form file", err)
	}
	if _, err := io.Copy(part, source); err != nil {
		return "", services.Wrap(nil, "transcode", "remote upload", "copy source", err)
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(nil, "transcode", "remote upload", "finalize form", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/jobs", &body)
	if err != nil {
		return "", services.Wrap(nil, "transcode", "remote upload", "build request", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	e.authorize(httpReq)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "transcode", "remote upload", "upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", services.Wrap(services.ErrProvider, "transcode", "remote upload",
			fmt.Sprintf("service returned status %d", resp.StatusCode), nil)
	}

	var submitted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", services.Wrap(services.ErrProvider, "transcode", "remote upload", "decode response", err)
	}
	if submitted.ID == "" {
		return "", services.Wrap(services.ErrProvider, "transcode", "remote upload", "service returned no job id", nil)
	}
	return submitted.ID, nil
}

func (e *RemoteEngine) awaitCompletion(ctx context.Context, jobID string) error {
	interval := e.pollInterval
	if interval <= 0 {
		interval = time.Second
	}

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrTimeout, "transcode", "remote poll", "context cancelled", ctx.Err())
		case <-time.After(interval):
		}

		status, err := e.pollOnce(ctx, jobID)
		if err != nil {
			return err
		}
		switch status.Status {
		case "completed":
			return nil
		case "error", "failed":
			return services.Wrap(services.ErrProvider, "transcode", "remote poll",
				fmt.Sprintf("remote job failed: %s", status.Error), nil)
		}
	}

	return services.Wrap(services.ErrTimeout, "transcode", "remote poll",
		fmt.Sprintf("no terminal status after %d attempts", e.maxAttempts), nil)
}

func (e *RemoteEngine) pollOnce(ctx context.Context, jobID string) (*remoteJobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, services.Wrap(nil, "transcode", "remote poll", "build request", err)
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "transcode", "remote poll", "poll failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrProvider, "transcode", "remote poll",
			fmt.Sprintf("service returned status %d", resp.StatusCode), nil)
	}

	var status remoteJobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, services.Wrap(services.ErrProvider, "transcode", "remote poll", "decode response", err)
	}
	return &status, nil
}

func (e *RemoteEngine) download(ctx context.Context, jobID, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/jobs/"+jobID+"/result", nil)
	if err != nil {
		return services.Wrap(nil, "transcode", "remote download", "build request", err)
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrNetwork, "transcode", "remote download", "download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrProvider, "transcode", "remote download",
			fmt.Sprintf("service returned status %d", resp.StatusCode), nil)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return services.Wrap(nil, "transcode", "remote download", "create output", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(outputPath)
		return services.Wrap(services.ErrNetwork, "transcode", "remote download", "write output", err)
	}
	return nil
}

func (e *RemoteEngine) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}
