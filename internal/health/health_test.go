package health

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubChecker struct {
	name     string
	critical bool
	status   CheckStatus
}

func (s *stubChecker) Name() string     { return s.name }
func (s *stubChecker) IsCritical() bool { return s.critical }
func (s *stubChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Component: s.name, Status: s.status, Timestamp: time.Now(), Critical: s.critical}
}

func TestManagerAggregation(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(&stubChecker{name: "a", status: StatusHealthy})
	m.Register(&stubChecker{name: "b", status: StatusUnhealthy, critical: false})

	overall := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, overall.Status)
	assert.True(t, overall.Ready)

	m.Register(&stubChecker{name: "c", status: StatusUnhealthy, critical: true})
	overall = m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, overall.Ready)
	assert.Len(t, overall.Checks, 3)
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("locked") }

func TestJournalChecker(t *testing.T) {
	c := NewJournalChecker(failingPinger{})
	result := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "locked", result.Error)
}

func TestRedisChecker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	result := NewRedisChecker(client).Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)

	mr.Close()
	result = NewRedisChecker(client).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
}

func TestHTTPEndpoints(t *testing.T) {
	m := NewManager(zap.NewNop())
	h := NewHTTPHandler(m, zap.NewNop())

	rec := httptest.NewRecorder()
	h.handleLiveness(rec, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, 200, rec.Code)

	rec = httptest.NewRecorder()
	h.handleReadiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, 200, rec.Code)

	m.Register(&stubChecker{name: "down", status: StatusUnhealthy, critical: true})
	rec = httptest.NewRecorder()
	h.handleReadiness(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, 503, rec.Code)

	rec = httptest.NewRecorder()
	h.handleHealth(rec, httptest.NewRequest("POST", "/health", nil))
	assert.Equal(t, 405, rec.Code)
}
