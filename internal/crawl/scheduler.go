package crawl

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig bounds the randomized offset of a scheduled planner run.
type SchedulerConfig struct {
	OffsetMinutesMin int
	OffsetMinutesMax int
}

// Scheduler decouples "when does today's crawl begin" from how fast its
// items get processed: it arms the planner to run once at a randomized
// future time.
type Scheduler struct {
	cfg    SchedulerConfig
	queue  TaskQueue
	ids    IDGenerator
	clock  Clock
	rng    *rand.Rand
	logger *zap.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(cfg SchedulerConfig, queue TaskQueue, ids IDGenerator, clock Clock, rng *rand.Rand, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, queue: queue, ids: ids, clock: clock, rng: rng, logger: logger}
}

// ScheduleCrawl enqueues one planner run at a random time between the
// configured offsets from now, and returns that time.
func (s *Scheduler) ScheduleCrawl(ctx context.Context) (time.Time, error) {
	now := s.clock.Now()
	start := now.Add(time.Duration(s.cfg.OffsetMinutesMin) * time.Minute)
	end := now.Add(time.Duration(s.cfg.OffsetMinutesMax) * time.Minute)
	eta := GenerateRandomTimesBetween(s.rng, start, end, 1)[0]

	taskID, err := s.ids.NewID()
	if err != nil {
		return time.Time{}, fmt.Errorf("generate task id: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, Task{
		ID:   taskID,
		Kind: TaskPlanCrawl,
		ETA:  eta,
	}); err != nil {
		return time.Time{}, fmt.Errorf("enqueue planner task: %w", err)
	}
	s.logger.Info("scheduled crawl planning", zap.Time("eta", eta))
	return eta, nil
}
