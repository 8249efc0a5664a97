package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Signal is a one-slot wake-up channel. Nudge never blocks; nudges that arrive while
// one is already pending collapse into it.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

func (s *Signal) Nudge() {
	if s == nil {
		return
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *Signal) C() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.ch
}

// Task is the body of one tick.
type Task func(ctx context.Context) error

type PeriodicConfig struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	// Wake triggers an early tick; nil disables early ticks.
	Wake *Signal
}

// Periodic runs a task on a fixed interval until its context is cancelled.
type Periodic struct {
	cfg    PeriodicConfig
	task   Task
	logger zerolog.Logger
}

func NewPeriodic(cfg PeriodicConfig, task Task, logger zerolog.Logger) *Periodic {
	return &Periodic{
		cfg:    cfg,
		task:   task,
		logger: logger.With().Str("component", "periodic").Str("job", cfg.Name).Logger(),
	}
}

// Run blocks until ctx is done. Tick errors are logged and the loop keeps going.
// It returns nil on cancellation so it can run inside an errgroup.
func (p *Periodic) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.cfg.Interval).Msg("periodic job started")
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	if p.cfg.RunOnStart {
		p.tick(ctx, "start")
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("periodic job stopped")
			return nil
		case <-ticker.C:
			p.tick(ctx, "timer")
		case <-p.cfg.Wake.C():
			p.tick(ctx, "nudge")
		}
	}
}

func (p *Periodic) tick(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	if err := p.task(ctx); err != nil {
		// Log the error, but keep the schedule
		p.logger.Error().Err(err).Str("trigger", trigger).Msg("tick failed")
	}
}
