// Package health aggregates component health checks behind liveness and
// readiness endpoints.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus is the outcome of a single check.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult is one component's health at a point in time.
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Critical  bool          `json:"critical"`
}

// Checker is a component health probe.
type Checker interface {
	Name() string
	// IsCritical marks checks whose failure makes the service not ready.
	IsCritical() bool
	Check(ctx context.Context) CheckResult
}

// Overall is the aggregated service health.
type Overall struct {
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Ready     bool          `json:"ready"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Manager runs registered checkers on demand with a per-check timeout.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{timeout: 5 * time.Second, logger: logger}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check runs every checker and aggregates: any critical failure makes the
// service unhealthy and not ready; non-critical failures degrade it.
func (m *Manager) Check(ctx context.Context) Overall {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	overall := Overall{
		Status:    StatusHealthy,
		Message:   "all checks passed",
		Timestamp: time.Now(),
		Ready:     true,
	}
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		result := c.Check(cctx)
		cancel()
		overall.Checks = append(overall.Checks, result)

		if result.Status == StatusUnhealthy {
			if c.IsCritical() {
				overall.Status = StatusUnhealthy
				overall.Ready = false
				overall.Message = result.Component + " unhealthy"
				m.logger.Warn("critical health check failed",
					zap.String("component", result.Component),
					zap.String("error", result.Error),
				)
				continue
			}
			if overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
				overall.Message = result.Component + " degraded"
			}
		}
	}
	return overall
}
