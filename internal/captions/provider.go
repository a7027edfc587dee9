package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"veil/internal/config"
	"veil/internal/services"
)

// Provider produces word-level transcription for an isolated audio track.
// Duration is supplied by the caller so simulated providers can spread
// timestamps over the real clip length.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, durationSeconds float64) ([]Word, error)
}

// CloudProvider talks to an asynchronous speech-to-text HTTP API: one submit
// call, then bounded polling until the job reaches a terminal state.
type CloudProvider struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxAttempts  int
	client       *http.Client
}

// NewCloudProvider builds a provider from the transcription config section.
func NewCloudProvider(cfg *config.Config) *CloudProvider {
	section := cfg.Transcription
	return &CloudProvider{
		baseURL:      strings.TrimRight(section.BaseURL, "/"),
		apiKey:       section.APIKey,
		pollInterval: time.Duration(section.PollIntervalSeconds) * time.Second,
		maxAttempts:  section.MaxPollAttempts,
		client: &http.Client{
			Timeout: time.Duration(section.RequestTimeout) * time.Second,
		},
	}
}

type submitResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Words  []Word `json:"words"`
}

// Transcribe submits the audio and polls for the result.
func (p *CloudProvider) Transcribe(ctx context.Context, audioPath string, _ float64) ([]Word, error) {
	jobID, err := p.submit(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	return p.poll(ctx, jobID)
}

func (p *CloudProvider) submit(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", services.Wrap(nil, "transcription", "submit", "read audio", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/transcriptions", bytes.NewReader(audio))
	if err != nil {
		return "", services.Wrap(nil, "transcription", "submit", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "audio/mp4")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "transcription", "submit", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", services.Wrap(services.ErrProvider, "transcription", "submit",
			fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	}

	var submitted submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", services.Wrap(services.ErrProvider, "transcription", "submit", "decode response", err)
	}
	if submitted.ID == "" {
		return "", services.Wrap(services.ErrProvider, "transcription", "submit", "provider returned no job id", nil)
	}
	return submitted.ID, nil
}

func (p *CloudProvider) poll(ctx context.Context, jobID string) ([]Word, error) {
	interval := p.pollInterval
	if interval <= 0 {
		interval = time.Second
	}

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrTimeout, "transcription", "poll", "context cancelled", ctx.Err())
		case <-time.After(interval):
		}

		status, err := p.pollOnce(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case "completed":
			return status.Words, nil
		case "error":
			return nil, services.Wrap(services.ErrProvider, "transcription", "poll",
				fmt.Sprintf("provider reported failure: %s", status.Error), nil)
		}
	}

	return nil, services.Wrap(services.ErrTimeout, "transcription", "poll",
		fmt.Sprintf("no terminal status after %d attempts", p.maxAttempts), nil)
}

func (p *CloudProvider) pollOnce(ctx context.Context, jobID string) (*pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/transcriptions/"+jobID, nil)
	if err != nil {
		return nil, services.Wrap(nil, "transcription", "poll", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "transcription", "poll", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrProvider, "transcription", "poll",
			fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	}

	var status pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, services.Wrap(services.ErrProvider, "transcription", "poll", "decode response", err)
	}
	return &status, nil
}

// SimulatedProvider produces a deterministic placeholder transcription when
// no cloud provider is configured. Word timing is spread evenly across the
// clip so downstream segment gating still behaves.
type SimulatedProvider struct{}

// NewSimulatedProvider returns the local fallback provider.
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{}
}

// Transcribe generates placeholder words derived from the audio filename.
func (*SimulatedProvider) Transcribe(_ context.Context, audioPath string, durationSeconds float64) ([]Word, error) {
	if durationSeconds <= 0 {
		durationSeconds = 1
	}
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	tokens := []string{"simulated", "transcription", "for", base}

	step := durationSeconds / float64(len(tokens))
	words := make([]Word, 0, len(tokens))
	for i, token := range tokens {
		words = append(words, Word{
			Word:       token,
			Confidence: 1,
			Start:      float64(i) * step,
			End:        float64(i+1) * step,
		})
	}
	return words, nil
}
