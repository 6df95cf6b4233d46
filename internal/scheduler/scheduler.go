// Package scheduler drives the work and break cycle: prompt, wait for Enter, run the interval,
// pick the next one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tomatoworks/pomo/internal/keyboard"
	"github.com/tomatoworks/pomo/internal/timer"
)

// StartedText is printed once when the cycle begins.
const StartedText = "Pomodoro timer started. Press p to pause or resume, s to skip."

// Runner runs a single interval.
type Runner interface {
	RunInterval(ctx context.Context, iv timer.Interval) (timer.Result, error)
}

// KeySource yields key presses.
type KeySource interface {
	NextKey(ctx context.Context) (rune, error)
}

// Display shows banners and prompts.
type Display interface {
	Banner(work bool, text string)
	Prompt(text string)
}

// Durations configures the cycle.
type Durations struct {
	Work           time.Duration
	ShortBreak     time.Duration
	LongBreak      time.Duration
	LongBreakEvery int
	TickEnabled    bool
}

// Scheduler alternates work and breaks until its context is cancelled.
type Scheduler struct {
	runner    Runner
	keys      KeySource
	display   Display
	durations Durations
	counter   *Counter
	logger    *log.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a scheduler. The pomodoro counter starts at zero.
func New(runner Runner, keys KeySource, display Display, durations Durations, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:    runner,
		keys:      keys,
		display:   display,
		durations: durations,
		counter:   NewCounter(durations.LongBreakEvery),
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Counter exposes the completed-work counter.
func (s *Scheduler) Counter() *Counter {
	return s.counter
}

// Run loops work -> break forever. It returns nil once ctx is cancelled and an error only when
// the cycle cannot continue, such as a console that can no longer be read.
func (s *Scheduler) Run(ctx context.Context) error {
	s.display.Prompt(StartedText)
	for {
		if err := s.step(ctx, timer.KindWork); err != nil {
			return quietCancel(err)
		}
		if err := s.step(ctx, s.counter.NextBreak()); err != nil {
			return quietCancel(err)
		}
	}
}

// RunOnce announces and runs a single interval without waiting for Enter.
func (s *Scheduler) RunOnce(ctx context.Context, kind timer.Kind) (timer.Result, error) {
	duration := s.durationFor(kind)
	s.display.Banner(kind == timer.KindWork, Banner(kind, duration))
	result, err := s.runner.RunInterval(ctx, timer.Interval{
		Kind:        kind,
		Duration:    duration,
		TickEnabled: s.durations.TickEnabled && kind == timer.KindWork,
	})
	if err != nil {
		return timer.Result{}, fmt.Errorf("run %s interval: %w", kind, err)
	}
	if kind == timer.KindWork && s.counter.Record(result.Outcome) {
		s.logger.Info("pomodoro recorded", "completed", s.counter.Completed())
	}
	return result, nil
}

func (s *Scheduler) step(ctx context.Context, kind timer.Kind) error {
	s.display.Prompt(PromptText(kind))
	if err := s.waitForEnter(ctx); err != nil {
		return err
	}
	if _, err := s.RunOnce(ctx, kind); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Scheduler) waitForEnter(ctx context.Context) error {
	for {
		key, err := s.keys.NextKey(ctx)
		if err != nil {
			return fmt.Errorf("wait for enter: %w", err)
		}
		if key == keyboard.KeyEnter || key == keyboard.KeyNewline {
			return nil
		}
	}
}

func (s *Scheduler) durationFor(kind timer.Kind) time.Duration {
	switch kind {
	case timer.KindShortBreak:
		return s.durations.ShortBreak
	case timer.KindLongBreak:
		return s.durations.LongBreak
	default:
		return s.durations.Work
	}
}

// PromptText is the line shown before waiting for Enter.
func PromptText(kind timer.Kind) string {
	switch kind {
	case timer.KindShortBreak:
		return "Press Enter to start the short break timer..."
	case timer.KindLongBreak:
		return "Press Enter to start the long break timer..."
	default:
		return "Press Enter to start the work timer..."
	}
}

// Banner is the announcement printed when an interval starts.
func Banner(kind timer.Kind, d time.Duration) string {
	switch kind {
	case timer.KindShortBreak:
		return fmt.Sprintf("Take a short break for %s.", describe(d))
	case timer.KindLongBreak:
		return fmt.Sprintf("Take a long break for %s.", describe(d))
	default:
		return fmt.Sprintf("Work for %s.", describe(d))
	}
}

func describe(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 minute"
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	case d == time.Second:
		return "1 second"
	case d > 0 && d%time.Second == 0 && d < time.Minute:
		return fmt.Sprintf("%d seconds", d/time.Second)
	default:
		return d.String()
	}
}

func quietCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
