package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// Probe is a named dependency check.
type Probe struct {
	Name  string
	Check CheckFunc
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, up bool)

// Status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HealthChecker periodically probes the service's dependencies (credential
// store, Redis) and marks each degraded after FailThreshold consecutive failures.
type HealthChecker struct {
	probes     []Probe
	failCounts map[string]int
	lastErr    map[string]string
	mu         sync.RWMutex
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new HealthChecker.
func New(probes []Probe, cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &HealthChecker{
		probes:     probes,
		failCounts: make(map[string]int),
		lastErr:    make(map[string]string),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs one check immediately, then on every interval until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently, each under ProbeTimeout.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.Check(pctx)
			cancel()

			if h.onMetrics != nil {
				h.onMetrics(p.Name, err == nil)
			}

			h.mu.Lock()
			prevCount := h.failCounts[p.Name]
			if err == nil {
				h.failCounts[p.Name] = 0
				delete(h.lastErr, p.Name)
			} else {
				h.failCounts[p.Name]++
				h.lastErr[p.Name] = err.Error()
			}
			count := h.failCounts[p.Name]
			h.mu.Unlock()

			switch {
			case err == nil && prevCount >= h.cfg.FailThreshold:
				h.logger.Info("health: recovered", zap.String("dependency", p.Name))
			case err != nil && count == h.cfg.FailThreshold:
				h.logger.Warn("health: degraded",
					zap.String("dependency", p.Name),
					zap.Int("fail_count", count),
					zap.Error(err),
				)
			case err != nil:
				h.logger.Debug("health: probe failed", zap.String("dependency", p.Name), zap.Error(err))
			}
		}(p)
	}
	wg.Wait()
}

// Status returns the current status of every probe, keyed by name.
func (h *HealthChecker) Status() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		if h.failCounts[p.Name] >= h.cfg.FailThreshold {
			out[p.Name] = StatusDegraded
		} else {
			out[p.Name] = StatusHealthy
		}
	}
	return out
}

// Ready reports whether no dependency is degraded.
func (h *HealthChecker) Ready() bool {
	for _, s := range h.Status() {
		if s != StatusHealthy {
			return false
		}
	}
	return true
}

// Handler serves the readiness report: 200 when ready, 503 otherwise.
func (h *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.Status()
		names := make([]string, 0, len(status))
		for n := range status {
			names = append(names, n)
		}
		sort.Strings(names)

		checks := make([]gin.H, 0, len(names))
		h.mu.RLock()
		for _, n := range names {
			entry := gin.H{"name": n, "status": status[n]}
			if msg, ok := h.lastErr[n]; ok {
				entry["error"] = msg
			}
			checks = append(checks, entry)
		}
		h.mu.RUnlock()

		code, overall := http.StatusOK, "ready"
		if !h.Ready() {
			code, overall = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(code, gin.H{"status": overall, "checks": checks})
	}
}
