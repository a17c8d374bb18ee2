package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Scheduler enqueues a summarize job every time its cron schedule fires.
type Scheduler struct {
	queue   Enqueuer
	spec    string
	sched   cron.Schedule
	payload Payload
	logger  *slog.Logger
}

// NewScheduler validates spec and returns a Scheduler for it.
func NewScheduler(queue Enqueuer, spec string, payload Payload) (*Scheduler, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		queue:   queue,
		spec:    strings.TrimSpace(spec),
		sched:   sched,
		payload: payload,
		logger:  slog.Default(),
	}, nil
}

// Next returns the first fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// Fire enqueues one summarize job.
func (s *Scheduler) Fire() (string, error) {
	return Enqueue(s.queue, TypeSummarize, s.payload, time.Time{})
}

// Run sleeps until each fire time and enqueues a job, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("summary rebuild scheduled", "cron", s.spec)
	for {
		now := time.Now()
		next := s.Next(now)
		if next.IsZero() {
			s.logger.Warn("schedule has no future fire times", "cron", s.spec)
			return
		}
		s.logger.Debug("next summary rebuild", "at", next.Format(time.RFC3339), "in", next.Sub(now).Round(time.Second))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		id, err := s.Fire()
		if err != nil {
			s.logger.Error("enqueueing scheduled summary failed", "error", err)
			continue
		}
		s.logger.Info("scheduled summary enqueued", "job_id", id)
	}
}
