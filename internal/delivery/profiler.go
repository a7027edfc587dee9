// Package delivery adapts output quality to network conditions and device
// capability, and owns the on-device artifact cache.
package delivery

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"veil/internal/config"
	"veil/internal/logging"
	"veil/internal/services"
)

// ConnectionQuality is the four-level classification of measured conditions.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityFair      ConnectionQuality = "fair"
	QualityPoor      ConnectionQuality = "poor"
)

// NetworkProfile is one measurement snapshot. Profiles are refreshed on
// demand and never persisted.
type NetworkProfile struct {
	Quality       ConnectionQuality `json:"quality"`
	BandwidthMbps float64           `json:"bandwidthMbps"`
	LatencyMs     float64           `json:"latencyMs"`
}

// Profiler measures bandwidth and latency against a fixed probe endpoint.
type Profiler struct {
	logger   *slog.Logger
	probeURL string
	client   *http.Client
}

// NewProfiler builds a profiler from the delivery config section.
func NewProfiler(cfg *config.Config, logger *slog.Logger) *Profiler {
	return &Profiler{
		logger:   logging.NewComponentLogger(logger, "profiler"),
		probeURL: cfg.Delivery.ProbeURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.Delivery.ProbeTimeout) * time.Second,
		},
	}
}

// Measure performs one probe round trip. Latency is time to first response
// header; bandwidth derives from body size over transfer time and stays zero
// for empty probe bodies.
func (p *Profiler) Measure(ctx context.Context) (*NetworkProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.probeURL, nil)
	if err != nil {
		return nil, services.Wrap(nil, "delivery", "probe", "build request", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "delivery", "probe", "probe request failed", err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	transferred, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "delivery", "probe", "read probe body", err)
	}
	total := time.Since(start)

	var bandwidth float64
	if transferred > 0 && total > 0 {
		bandwidth = float64(transferred) * 8 / total.Seconds() / 1e6
	}

	profile := &NetworkProfile{
		Quality:       Classify(bandwidth, float64(latency.Milliseconds())),
		BandwidthMbps: bandwidth,
		LatencyMs:     float64(latency.Milliseconds()),
	}
	p.logger.Debug("network measured",
		logging.String("quality", string(profile.Quality)),
		logging.Float64("bandwidth_mbps", profile.BandwidthMbps),
		logging.Float64("latency_ms", profile.LatencyMs))
	return profile, nil
}

// Classify maps raw measurements to a connection quality level. A zero
// bandwidth means the probe body was too small to estimate throughput, so
// classification falls back to latency alone.
func Classify(bandwidthMbps, latencyMs float64) ConnectionQuality {
	switch {
	case latencyMs < 50 && (bandwidthMbps >= 10 || bandwidthMbps == 0):
		return QualityExcellent
	case latencyMs < 150 && (bandwidthMbps >= 5 || bandwidthMbps == 0):
		return QualityGood
	case latencyMs < 400:
		return QualityFair
	default:
		return QualityPoor
	}
}
