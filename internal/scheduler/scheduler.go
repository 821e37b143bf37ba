package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunImmediately fires one tick before waiting for the first interval.
	RunImmediately bool
}

// Scheduler drives periodic execution of analysis jobs.
type Scheduler struct {
	opts   Options
	clock  clockwork.Clock
	logger zerolog.Logger
}

// New constructs a Scheduler. A nil clock uses the real clock.
func New(opts Options, clock clockwork.Clock, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{opts: opts, clock: clock, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// Run blocks, invoking the tick function at each interval until ctx is cancelled.
// Tick errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.execute(ctx, tick, s.bucketStart(s.clock.Now().UTC()))
	}

	next := s.nextTick(s.clock.Now().UTC())
	for {
		delay := next.Sub(s.clock.Now())
		if delay < 0 {
			next = s.nextTick(s.clock.Now().UTC())
			delay = next.Sub(s.clock.Now())
		}

		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}

		s.execute(ctx, tick, s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, bucket time.Time) {
	s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")
	if err := tick(ctx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
