package delivery

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"veil/internal/config"
	"veil/internal/logging"
)

type cacheEntry struct {
	size       int64
	lastAccess time.Time
}

// CacheStats is the telemetry snapshot exposed to callers.
type CacheStats struct {
	SizeBytes int64
	SizeHuman string
	Count     int
	HitRate   float64
}

// CacheManager tracks processed artifacts by URI and owns all eviction
// decisions. No other component deletes cached files directly.
type CacheManager struct {
	mu                sync.Mutex
	logger            *slog.Logger
	maxBytes          int64
	pressureThreshold float64
	checkInterval     time.Duration
	entries           map[string]*cacheEntry
	totalBytes        int64
	hits              uint64
	misses            uint64
}

// NewCacheManager builds a cache manager from the delivery config section.
func NewCacheManager(cfg *config.Config, logger *slog.Logger) *CacheManager {
	return &CacheManager{
		logger:            logging.NewComponentLogger(logger, "cache"),
		maxBytes:          int64(cfg.Delivery.CacheMaxMiB) * 1024 * 1024,
		pressureThreshold: cfg.Delivery.MemoryPressureThreshold,
		checkInterval:     time.Duration(cfg.Delivery.PressureCheckIntervalSec) * time.Second,
		entries:           make(map[string]*cacheEntry),
	}
}

// Record registers an artifact in the cache, evicting least-recently-used
// entries if the byte cap is exceeded.
func (m *CacheManager) Record(uri string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[uri]; ok {
		m.totalBytes -= existing.size
	}
	m.entries[uri] = &cacheEntry{size: size, lastAccess: time.Now()}
	m.totalBytes += size

	if m.maxBytes > 0 && m.totalBytes > m.maxBytes {
		m.evictLocked(m.maxBytes)
	}
}

// Lookup reports whether the artifact is cached, updating hit-rate
// accounting and the entry's last-access time.
func (m *CacheManager) Lookup(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[uri]
	if !ok {
		m.misses++
		return false
	}
	entry.lastAccess = time.Now()
	m.hits++
	return true
}

// Remove drops one entry and deletes its backing file.
func (m *CacheManager) Remove(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(uri)
}

// Stats returns the current cache telemetry.
func (m *CacheManager) Stats() CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hitRate float64
	if lookups := m.hits + m.misses; lookups > 0 {
		hitRate = float64(m.hits) / float64(lookups)
	}
	return CacheStats{
		SizeBytes: m.totalBytes,
		SizeHuman: humanize.IBytes(uint64(m.totalBytes)),
		Count:     len(m.entries),
		HitRate:   hitRate,
	}
}

// ForceCleanup evicts down to half the configured cap. Used when memory
// pressure crosses the threshold.
func (m *CacheManager) ForceCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(m.maxBytes / 2)
}

// StartPressureMonitor polls memory pressure on a fixed interval and forces
// a cleanup whenever the ratio exceeds the configured threshold. The monitor
// stops when the context is cancelled. A nil pressure function uses the
// host's real memory accounting.
func (m *CacheManager) StartPressureMonitor(ctx context.Context, pressure func() (float64, error)) {
	if pressure == nil {
		pressure = MemoryPressure
	}
	interval := m.checkInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ratio, err := pressure()
				if err != nil {
					m.logger.Warn("memory pressure check failed", logging.Error(err))
					continue
				}
				if ratio > m.pressureThreshold {
					m.logger.Info("memory pressure cleanup",
						logging.Float64("ratio", ratio),
						logging.Float64("threshold", m.pressureThreshold))
					m.ForceCleanup()
				}
			}
		}
	}()
}

func (m *CacheManager) evictLocked(targetBytes int64) {
	for m.totalBytes > targetBytes && len(m.entries) > 0 {
		oldest := ""
		var oldestAccess time.Time
		for uri, entry := range m.entries {
			if oldest == "" || entry.lastAccess.Before(oldestAccess) {
				oldest = uri
				oldestAccess = entry.lastAccess
			}
		}
		m.removeLocked(oldest)
	}
}

func (m *CacheManager) removeLocked(uri string) {
	entry, ok := m.entries[uri]
	if !ok {
		return
	}
	delete(m.entries, uri)
	m.totalBytes -= entry.size

	if err := os.Remove(uri); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("evict cache file", logging.String("uri", uri), logging.Error(err))
	} else {
		m.logger.Debug("evicted cache entry",
			logging.String("uri", uri),
			logging.String("size", humanize.IBytes(uint64(entry.size))))
	}
}
