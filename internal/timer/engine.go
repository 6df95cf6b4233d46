// Package timer runs one interval at a time: a countdown, the tick cue and the key listener
// race each other and the first terminal completion ends the interval.
package timer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomatoworks/pomo/internal/audio"
	"github.com/tomatoworks/pomo/internal/events"
	"github.com/tomatoworks/pomo/internal/state"
)

const (
	// DefaultTickInterval is the wall-clock length of one countdown second.
	DefaultTickInterval = time.Second
	// DefaultTickPoll bounds how long the tick activity sleeps between pause checks.
	DefaultTickPoll = 100 * time.Millisecond

	expiredText = "Time's up! Alarm ringing..."
)

// ErrBusy is returned when RunInterval is called while another interval is running.
var ErrBusy = errors.New("another interval is already running")

// Kind selects the alarm sound and whether the tick applies.
type Kind string

const (
	// KindWork is a focused work interval.
	KindWork Kind = "work"
	// KindShortBreak is the break after most work intervals.
	KindShortBreak Kind = "short_break"
	// KindLongBreak is the break after every Nth work interval.
	KindLongBreak Kind = "long_break"
)

// ParseKind maps user input such as "work", "short" or "long" to a Kind.
func ParseKind(value string) (Kind, error) {
	switch value {
	case "work", "w":
		return KindWork, nil
	case "short", "short_break", "s":
		return KindShortBreak, nil
	case "long", "long_break", "l":
		return KindLongBreak, nil
	default:
		return "", fmt.Errorf("unknown interval kind %q (want work, short or long)", value)
	}
}

// Outcome is how an interval ended.
type Outcome string

const (
	// OutcomeExpired means the countdown reached zero while unpaused and not skipped.
	OutcomeExpired Outcome = Outcome(state.Expired)
	// OutcomeAbandoned means the interval ended while paused.
	OutcomeAbandoned Outcome = Outcome(state.Abandoned)
	// OutcomeSkipped means the user pressed the skip key.
	OutcomeSkipped Outcome = Outcome(state.Skipped)
	// OutcomeCancelled means the context was cancelled while running and unpaused.
	OutcomeCancelled Outcome = Outcome(state.Cancelled)
)

// Interval describes one countdown to run.
type Interval struct {
	Kind        Kind
	Duration    time.Duration
	TickEnabled bool
}

// Result reports how an interval ended.
type Result struct {
	SessionID string
	Kind      Kind
	Outcome   Outcome
	Remaining time.Duration
	Elapsed   time.Duration
}

// Cues is the audio surface the engine drives.
type Cues interface {
	PlayTickLoop(ctx context.Context) error
	StopTick() error
	PlayAlarm(ctx context.Context, cue audio.Cue) error
}

// KeySource yields key presses.
type KeySource interface {
	NextKey(ctx context.Context) (rune, error)
}

// Reporter renders progress for the user.
type Reporter interface {
	Countdown(remaining time.Duration)
	Paused(paused bool)
	Skipped()
	Expired(text string)
	Warn(err error)
}

// Options wires an Engine. Nil collaborators are replaced with no-ops.
type Options struct {
	Cues         Cues
	Keys         KeySource
	Reporter     Reporter
	Bus          events.Bus
	Logger       *log.Logger
	Tracer       trace.Tracer
	Machine      *state.Machine
	TickInterval time.Duration
	TickPoll     time.Duration
	NewID        func() string
}

// Engine runs intervals. Only one interval runs at a time.
type Engine struct {
	cues         Cues
	keys         KeySource
	reporter     Reporter
	bus          events.Bus
	logger       *log.Logger
	tracer       trace.Tracer
	machine      *state.Machine
	tickInterval time.Duration
	tickPoll     time.Duration
	newID        func() string
}

// New builds an engine.
func New(opts Options) *Engine {
	e := &Engine{
		cues:         opts.Cues,
		keys:         opts.Keys,
		reporter:     opts.Reporter,
		bus:          opts.Bus,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
		machine:      opts.Machine,
		tickInterval: opts.TickInterval,
		tickPoll:     opts.TickPoll,
		newID:        opts.NewID,
	}
	if e.cues == nil {
		e.cues = nopCues{}
	}
	if e.keys == nil {
		e.keys = nopKeys{}
	}
	if e.reporter == nil {
		e.reporter = nopReporter{}
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("pomo/timer")
	}
	if e.machine == nil {
		e.machine = state.NewMachine(state.WithTracer(e.tracer))
	}
	if e.tickInterval <= 0 {
		e.tickInterval = DefaultTickInterval
	}
	if e.tickPoll <= 0 {
		e.tickPoll = DefaultTickPoll
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

type completion int

const (
	completionExpired completion = iota
	completionSkipped
	completionInputFailed
	completionCancelled
)

// RunInterval counts down one interval while playing the tick and listening for pause and
// skip keys. It returns once every activity has stopped and, for an expired interval, the
// alarm has finished ringing.
func (e *Engine) RunInterval(ctx context.Context, iv Interval) (Result, error) {
	if iv.Duration < time.Second {
		return Result{}, fmt.Errorf("interval duration must be at least 1s, got %s", iv.Duration)
	}
	seconds := int((iv.Duration + time.Second - 1) / time.Second)

	id := e.newID()
	ctx, span := e.tracer.Start(ctx, "interval.run", trace.WithAttributes(
		attribute.String("session_id", id),
		attribute.String("kind", string(iv.Kind)),
		attribute.Int("duration_s", seconds),
		attribute.Bool("tick_enabled", iv.TickEnabled),
	))
	defer span.End()

	if err := e.machine.Transition(ctx, id, state.Running, "interval started"); err != nil {
		if errors.Is(err, &state.IllegalTransitionError{}) {
			err = ErrBusy
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	logger := e.logger.With("session_id", id, "kind", string(iv.Kind))
	logger.Info("interval started", "duration", iv.Duration.String(), "tick", iv.TickEnabled)
	e.publish(events.Event{Type: events.EventTypeIntervalStarted, SessionID: id, Kind: string(iv.Kind),
		Remaining: time.Duration(seconds) * time.Second})

	started := time.Now()
	sess := newSession(id, iv.Kind, seconds)
	first := e.race(ctx, sess, iv, logger)

	outcome, remaining := sess.outcome()
	// leave-running transitions must succeed even when ctx is already cancelled
	settleCtx := context.WithoutCancel(ctx)
	if err := e.machine.Transition(settleCtx, id, string(outcome), completionReason(first)); err != nil {
		logger.Error("record interval outcome", "err", err)
	}

	if outcome == OutcomeExpired {
		e.publish(events.Event{Type: events.EventTypeIntervalExpired, SessionID: id, Kind: string(iv.Kind)})
		e.reporter.Expired(expiredText)
		e.ringAlarm(ctx, sess, logger)
	}

	if err := e.machine.Transition(settleCtx, id, state.Idle, "interval released"); err != nil {
		logger.Error("release interval", "err", err)
	}

	result := Result{
		SessionID: id,
		Kind:      iv.Kind,
		Outcome:   outcome,
		Remaining: remaining,
		Elapsed:   time.Since(started),
	}
	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int64("remaining_s", int64(remaining/time.Second)),
	)
	span.SetStatus(codes.Ok, "interval finished")
	logger.Info("interval ended", "outcome", string(outcome), "remaining", remaining.String(),
		"elapsed", result.Elapsed.Round(time.Millisecond).String())
	e.publish(events.Event{Type: events.EventTypeIntervalEnded, SessionID: id, Kind: string(iv.Kind),
		Remaining: remaining, Message: string(outcome)})
	return result, nil
}

// race starts the activities, waits for the first terminal completion, cancels the rest and
// joins them.
func (e *Engine) race(ctx context.Context, sess *session, iv Interval, logger *log.Logger) completion {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan completion, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.countdown(runCtx, sess, done)
	}()

	if iv.TickEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.tick(runCtx, sess, logger)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.listen(runCtx, sess, done, logger)
	}()

	var first completion
	select {
	case first = <-done:
	case <-ctx.Done():
		first = completionCancelled
	}
	// freeze the flags before the other activities see the cancellation
	sess.seal()
	cancel()
	wg.Wait()
	return first
}

func (e *Engine) countdown(ctx context.Context, sess *session, done chan<- completion) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	if remaining, visible := sess.display(); visible {
		e.reporter.Countdown(time.Duration(remaining) * time.Second)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		remaining, advanced, expired := sess.advance()
		if expired {
			done <- completionExpired
			return
		}
		if advanced {
			e.reporter.Countdown(time.Duration(remaining) * time.Second)
		}
	}
}

// tick keeps the looping tick in step with the pause flag. Audio failures end this activity
// only; the countdown carries on silently.
func (e *Engine) tick(ctx context.Context, sess *session, logger *log.Logger) {
	defer func() {
		if err := e.cues.StopTick(); err != nil {
			logger.Warn("stop tick", "err", err)
		}
	}()

	poll := time.NewTicker(e.tickPoll)
	defer poll.Stop()
	for {
		play, active := sess.tickState()
		if !active || ctx.Err() != nil {
			return
		}
		if play {
			if err := e.cues.PlayTickLoop(ctx); err != nil {
				e.cueFailure(sess, logger, "tick", err)
				return
			}
		} else if err := e.cues.StopTick(); err != nil {
			logger.Warn("stop tick while paused", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-sess.pauseChanged:
		case <-poll.C:
		}
	}
}

func (e *Engine) listen(ctx context.Context, sess *session, done chan<- completion, logger *log.Logger) {
	for {
		key, err := e.keys.NextKey(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// a dead console must not leave the race waiting for a skip that cannot arrive
			e.cueFailure(sess, logger, "input", err)
			if sess.latchSkip() {
				done <- completionInputFailed
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		switch unicode.ToLower(key) {
		case 'p':
			paused, ok := sess.togglePause()
			if !ok {
				continue
			}
			e.reporter.Paused(paused)
			eventType := events.EventTypeIntervalResumed
			if paused {
				eventType = events.EventTypeIntervalPaused
			}
			remaining, _ := sess.display()
			logger.Info("pause toggled", "paused", paused)
			e.publish(events.Event{Type: eventType, SessionID: sess.id, Kind: string(sess.kind),
				Remaining: time.Duration(remaining) * time.Second})
		case 's':
			if !sess.latchSkip() {
				continue
			}
			e.reporter.Skipped()
			logger.Info("interval skipped")
			e.publish(events.Event{Type: events.EventTypeIntervalSkipped, SessionID: sess.id, Kind: string(sess.kind)})
			done <- completionSkipped
			return
		}
	}
}

func (e *Engine) ringAlarm(ctx context.Context, sess *session, logger *log.Logger) {
	cue := audio.CueBreakAlarm
	if sess.kind == KindWork {
		cue = audio.CueWorkAlarm
	}
	if err := e.cues.PlayAlarm(ctx, cue); err != nil {
		e.reporter.Warn(err)
		logger.Warn("alarm failed", "cue", cue.String(), "err", err)
		e.publish(events.Event{Type: events.EventTypeAlarmFailed, SessionID: sess.id, Kind: string(sess.kind),
			Message: err.Error(), Severity: events.SeverityWarn})
	}
}

func (e *Engine) cueFailure(sess *session, logger *log.Logger, source string, err error) {
	e.reporter.Warn(err)
	logger.Warn("activity failed", "source", source, "err", err)
	e.publish(events.Event{Type: events.EventTypeCueFailure, SessionID: sess.id, Kind: string(sess.kind),
		Message: fmt.Sprintf("%s: %v", source, err), Severity: events.SeverityWarn})
}

func (e *Engine) publish(event events.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event)
}

func completionReason(c completion) string {
	switch c {
	case completionExpired:
		return "countdown reached zero"
	case completionSkipped:
		return "skip key pressed"
	case completionInputFailed:
		return "console input failed"
	default:
		return "context cancelled"
	}
}

type nopCues struct{}

func (nopCues) PlayTickLoop(context.Context) error         { return nil }
func (nopCues) StopTick() error                            { return nil }
func (nopCues) PlayAlarm(context.Context, audio.Cue) error { return nil }

type nopKeys struct{}

func (nopKeys) NextKey(ctx context.Context) (rune, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

type nopReporter struct{}

func (nopReporter) Countdown(time.Duration) {}
func (nopReporter) Paused(bool)             {}
func (nopReporter) Skipped()                {}
func (nopReporter) Expired(string)          {}
func (nopReporter) Warn(error)              {}
