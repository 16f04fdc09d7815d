package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChecker probes the streaming mirror's Redis connection.
type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string     { return "redis" }
func (c *RedisChecker) IsCritical() bool { return false } // mirror only

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", Timestamp: start}

	if err := c.client.Ping(ctx).Err(); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "redis ping failed"
		result.Duration = time.Since(start)
		return result
	}
	result.Duration = time.Since(start)
	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "redis responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "redis healthy"
	}
	return result
}

// Pinger is the slice of the journal the checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JournalChecker probes the run journal database.
type JournalChecker struct {
	journal Pinger
}

func NewJournalChecker(journal Pinger) *JournalChecker {
	return &JournalChecker{journal: journal}
}

func (c *JournalChecker) Name() string     { return "journal" }
func (c *JournalChecker) IsCritical() bool { return true }

func (c *JournalChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "journal", Timestamp: start, Critical: true}

	if err := c.journal.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "journal ping failed"
	} else {
		result.Status = StatusHealthy
		result.Message = "journal healthy"
	}
	result.Duration = time.Since(start)
	return result
}
