package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"veil/internal/delivery"
	"veil/internal/testsupport"
)

func TestSelectTierThresholds(t *testing.T) {
	cases := []struct {
		bandwidth float64
		device    int
		want      delivery.Tier
	}{
		{20, 80, delivery.Tier1080}, // 50 + 40 = 90
		{12, 80, delivery.Tier1080}, // 30 + 40 = 70, boundary
		{10, 60, delivery.Tier720},  // 25 + 30 = 55
		{6, 50, delivery.Tier720},   // 15 + 25 = 40, boundary
		{2, 30, delivery.Tier360},   // 5 + 15 = 20
		{0, 0, delivery.Tier360},
	}
	for _, tc := range cases {
		if got := delivery.SelectTier(tc.bandwidth, tc.device); got != tc.want {
			t.Errorf("SelectTier(%.0f, %d): expected %s, got %s", tc.bandwidth, tc.device, tc.want, got)
		}
	}
}

func TestSelectTierMonotonicInBandwidth(t *testing.T) {
	for _, device := range []int{0, 30, 60, 90, 100} {
		previous := delivery.Tier360
		for bandwidth := 0.0; bandwidth <= 40; bandwidth += 0.5 {
			tier := delivery.SelectTier(bandwidth, device)
			if tier.Height() < previous.Height() {
				t.Fatalf("tier decreased from %s to %s at bandwidth %.1f device %d",
					previous, tier, bandwidth, device)
			}
			previous = tier
		}
	}
}

func TestSelectTierMonotonicInDeviceScore(t *testing.T) {
	for _, bandwidth := range []float64{0, 2, 8, 15, 25} {
		previous := delivery.Tier360
		for device := 0; device <= 100; device++ {
			tier := delivery.SelectTier(bandwidth, device)
			if tier.Height() < previous.Height() {
				t.Fatalf("tier decreased from %s to %s at device %d bandwidth %.1f",
					previous, tier, device, bandwidth)
			}
			previous = tier
		}
	}
}

func TestClassifyLatencyBands(t *testing.T) {
	cases := []struct {
		bandwidth float64
		latency   float64
		want      delivery.ConnectionQuality
	}{
		{50, 20, delivery.QualityExcellent},
		{0, 20, delivery.QualityExcellent},
		{8, 100, delivery.QualityGood},
		{2, 100, delivery.QualityFair},
		{1, 300, delivery.QualityFair},
		{0.5, 900, delivery.QualityPoor},
	}
	for _, tc := range cases {
		if got := delivery.Classify(tc.bandwidth, tc.latency); got != tc.want {
			t.Errorf("Classify(%.1f, %.0f): expected %s, got %s", tc.bandwidth, tc.latency, tc.want, got)
		}
	}
}

func TestProfilerMeasure(t *testing.T) {
	body := make([]byte, 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Delivery.ProbeURL = server.URL

	profile, err := delivery.NewProfiler(cfg, nil).Measure(context.Background())
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if profile.Quality == "" {
		t.Fatal("expected quality classification")
	}
	if profile.BandwidthMbps <= 0 {
		t.Fatalf("expected positive bandwidth estimate, got %f", profile.BandwidthMbps)
	}
}

func TestProfilerMeasureUnreachable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Delivery.ProbeURL = "http://127.0.0.1:1/probe"
	cfg.Delivery.ProbeTimeout = 1

	if _, err := delivery.NewProfiler(cfg, nil).Measure(context.Background()); err == nil {
		t.Fatal("expected error for unreachable probe")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Delivery.CacheMaxMiB = 1

	base := testsupport.BaseDir(cfg)
	first := filepath.Join(base, "first.mp4")
	second := filepath.Join(base, "second.mp4")
	third := filepath.Join(base, "third.mp4")
	for _, path := range []string{first, second, third} {
		testsupport.WriteFile(t, path, 512*1024)
	}

	manager := delivery.NewCacheManager(cfg, nil)
	manager.Record(first, 512*1024)
	time.Sleep(5 * time.Millisecond)
	manager.Record(second, 512*1024)
	time.Sleep(5 * time.Millisecond)

	// Touch first so second becomes the eviction candidate.
	if !manager.Lookup(first) {
		t.Fatal("expected first to be cached")
	}
	manager.Record(third, 512*1024)

	if manager.Lookup(second) {
		t.Fatal("expected second to be evicted")
	}
	if !manager.Lookup(third) {
		t.Fatal("expected third to be cached")
	}
}

func TestCacheStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	manager := delivery.NewCacheManager(cfg, nil)

	manager.Record("/tmp/a.mp4", 1024)
	manager.Record("/tmp/b.mp4", 2048)
	manager.Lookup("/tmp/a.mp4")
	manager.Lookup("/tmp/missing.mp4")

	stats := manager.Stats()
	if stats.Count != 2 {
		t.Fatalf("expected 2 entries, got %d", stats.Count)
	}
	if stats.SizeBytes != 3072 {
		t.Fatalf("expected 3072 bytes, got %d", stats.SizeBytes)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %f", stats.HitRate)
	}
	if stats.SizeHuman == "" {
		t.Fatal("expected humanized size")
	}
}

func TestPressureMonitorForcesCleanup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Delivery.CacheMaxMiB = 1
	cfg.Delivery.MemoryPressureThreshold = 0.8
	cfg.Delivery.PressureCheckIntervalSec = 1

	manager := delivery.NewCacheManager(cfg, nil)
	manager.Record("/tmp/pressure-a.mp4", 600*1024)
	manager.Record("/tmp/pressure-b.mp4", 400*1024)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.StartPressureMonitor(ctx, func() (float64, error) { return 0.95, nil })

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if manager.Stats().SizeBytes <= 512*1024 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected forced cleanup below half cap, size still %d", manager.Stats().SizeBytes)
}

func TestDeviceScoreStable(t *testing.T) {
	first := delivery.DeviceScore()
	second := delivery.DeviceScore()
	if first != second {
		t.Fatalf("device score changed between calls: %d vs %d", first, second)
	}
	switch first {
	case 30, 60, 90:
	default:
		t.Fatalf("unexpected device score %d", first)
	}
}
