package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"

	"certifier/internal/certificate/models"
)

// StatusCounter is implemented by the request stores.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.Status]int, error)
}

// BacklogReporter periodically copies per-status request counts into the
// certifier_requests gauge.
type BacklogReporter struct {
	counter StatusCounter
	metrics *Metrics
	logger  *slog.Logger
	timeout time.Duration
	cron    *cron.Cron
}

func NewBacklogReporter(counter StatusCounter, m *Metrics, logger *slog.Logger) *BacklogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BacklogReporter{counter: counter, metrics: m, logger: logger, timeout: 10 * time.Second}
}

// Refresh reads the counts once. Statuses with no rows are reported as zero.
func (r *BacklogReporter) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	counts, err := r.counter.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count requests by status: %w", err)
	}
	gauges := map[string]int{
		string(models.StatusPending):  0,
		string(models.StatusApproved): 0,
		string(models.StatusRejected): 0,
	}
	for status, n := range counts {
		gauges[string(status)] = n
	}
	r.metrics.SetRequests(gauges)
	return nil
}

// Start schedules Refresh on spec (cron syntax or "@every 1m").
func (r *BacklogReporter) Start(spec string) error {
	c := cron.New()
	if err := c.AddFunc(spec, func() {
		if err := r.Refresh(context.Background()); err != nil {
			r.logger.Warn("backlog refresh failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule backlog refresh: %w", err)
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule; a running refresh completes on its own.
func (r *BacklogReporter) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}
