package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

const defaultCheckTimeout = 2 * time.Second

// SimpleChecker простая проверка с функцией
type SimpleChecker struct {
	name    string
	checkFn func() error
}

// NewSimpleChecker создаёт простую проверку
func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check выполняет проверку
func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.checkFn()
	return result(c.name, start, err)
}

// PingChecker проверяет доступность зависимости (например, postgres) с таймаутом.
type PingChecker struct {
	name    string
	timeout time.Duration
	ping    func(context.Context) error
}

// NewPingChecker создаёт проверку; timeout <= 0 заменяется на 2s.
func NewPingChecker(name string, timeout time.Duration, ping func(context.Context) error) *PingChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &PingChecker{name: name, timeout: timeout, ping: ping}
}

// Check выполняет ping.
func (c *PingChecker) Check() Check {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return result(c.name, start, c.ping(ctx))
}

// OutboxBacklogChecker помечает сервис degraded, когда неотправленных событий больше порога.
type OutboxBacklogChecker struct {
	repo       domain.OutboxRepository
	maxPending int
	timeout    time.Duration
}

// NewOutboxBacklogChecker создаёт проверку backlog'а outbox.
func NewOutboxBacklogChecker(repo domain.OutboxRepository, maxPending int) *OutboxBacklogChecker {
	return &OutboxBacklogChecker{repo: repo, maxPending: maxPending, timeout: defaultCheckTimeout}
}

// Check читает статистику outbox.
func (c *OutboxBacklogChecker) Check() Check {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.repo.Stats(ctx)
	if err != nil {
		return result("outbox", start, err)
	}
	check := result("outbox", start, nil)
	if c.maxPending > 0 && stats.PendingCount > c.maxPending {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("pending=%d exceeds %d", stats.PendingCount, c.maxPending)
	}
	return check
}

func result(name string, start time.Time, err error) Check {
	duration := time.Since(start)
	check := Check{
		Name:       name,
		Status:     StatusHealthy,
		Duration:   duration,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}
