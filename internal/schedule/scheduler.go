// Package schedule fires digest generation at configured local times.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"digestd/internal/event"
	"digestd/internal/storage"
)

// Store lists the schedules the ticker evaluates.
type Store interface {
	GetActiveSchedules() ([]storage.Schedule, error)
}

// Generator triggers one digest run.
type Generator interface {
	Generate(ctx context.Context, digestType string, projectIDs []string) (string, error)
}

// Publisher announces fired schedules on the bus.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// Scheduler checks active schedules once a minute and fires each at most
// once per matching minute. Times are compared as HH:MM in the schedule's
// own timezone.
type Scheduler struct {
	store     Store
	generator Generator
	bus       Publisher
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// lastFired maps schedule ID to the minute it last fired, so a tick
	// landing twice in the same minute does not double-generate.
	lastFired map[string]string
}

func New(store Store, generator Generator, bus Publisher) *Scheduler {
	return &Scheduler{
		store:     store,
		generator: generator,
		bus:       bus,
		interval:  time.Minute,
		now:       time.Now,
		logger:    slog.Default(),
		lastFired: make(map[string]string),
	}
}

// Run ticks until ctx is cancelled. It evaluates schedules immediately on
// start, then once per interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	schedules, err := s.store.GetActiveSchedules()
	if err != nil {
		s.logger.Error("loading schedules", "error", err)
		return
	}

	now := s.now()
	for _, sch := range schedules {
		if !s.due(sch, now) {
			continue
		}
		s.fire(ctx, sch, now)
	}
}

func (s *Scheduler) due(sch storage.Schedule, now time.Time) bool {
	loc, err := time.LoadLocation(sch.Timezone)
	if err != nil {
		s.logger.Warn("invalid schedule timezone", "schedule_id", sch.ID, "timezone", sch.Timezone)
		return false
	}

	local := now.In(loc)
	if local.Format("15:04") != sch.At {
		return false
	}

	minute := local.Format("2006-01-02 15:04")
	if s.lastFired[sch.ID] == minute {
		return false
	}
	s.lastFired[sch.ID] = minute
	return true
}

func (s *Scheduler) fire(ctx context.Context, sch storage.Schedule, now time.Time) {
	log := s.logger.With("schedule_id", sch.ID, "schedule_name", sch.Name, "digest_type", sch.DigestType)
	log.Info("schedule fired", "at", sch.At, "timezone", sch.Timezone)

	if err := s.bus.Publish(ctx, event.NewDigestScheduled(sch.ID, sch.DigestType, sch.ProjectIDs)); err != nil {
		log.Warn("publishing scheduled event", "error", err)
	}

	digestID, err := s.generator.Generate(ctx, sch.DigestType, sch.ProjectIDs)
	if err != nil {
		log.Error("scheduled digest failed", "digest_id", digestID, "error", err)
		return
	}
	log.Info("scheduled digest generated", "digest_id", digestID)
}
