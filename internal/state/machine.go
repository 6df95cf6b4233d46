package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Interval lifecycle states.
const (
	Idle      = "idle"
	Running   = "running"
	Expired   = "expired"
	Abandoned = "abandoned"
	Skipped   = "skipped"
	Cancelled = "cancelled"
)

var allowedTransitions = map[string]map[string]struct{}{
	Idle: {
		Running: {},
	},
	Running: {
		Expired:   {},
		Abandoned: {},
		Skipped:   {},
		Cancelled: {},
	},
	Expired:   {Idle: {}},
	Abandoned: {Idle: {}},
	Skipped:   {Idle: {}},
	Cancelled: {Idle: {}},
}

// Option configures Machine construction.
type Option func(*Machine)

// WithTracer configures the tracer used for state transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(machine *Machine) {
		if tracer == nil {
			return
		}
		machine.tracer = tracer
	}
}

// WithClock overrides the timestamp source for transition records.
func WithClock(now func() time.Time) Option {
	return func(machine *Machine) {
		if now != nil {
			machine.now = now
		}
	}
}

// TransitionRecord stores transition metadata for local history.
type TransitionRecord struct {
	SessionID string
	FromState string
	ToState   string
	Reason    string
	Timestamp time.Time
}

// IllegalTransitionError is returned for a disallowed transition.
type IllegalTransitionError struct {
	SessionID string
	FromState string
	ToState   string
	Reason    string
}

func (e *IllegalTransitionError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "illegal transition for interval lifecycle"
	}
	return fmt.Sprintf(
		"cannot transition interval %q from %q to %q: %s",
		e.SessionID,
		e.FromState,
		e.ToState,
		reason,
	)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// Machine tracks the lifecycle of the single interval slot:
// idle -> running -> {expired | abandoned | skipped | cancelled} -> idle.
type Machine struct {
	mu      sync.Mutex
	current string
	tracer  trace.Tracer
	now     func() time.Time
	history []TransitionRecord
}

// NewMachine builds a machine in the idle state.
func NewMachine(options ...Option) *Machine {
	machine := &Machine{
		current: Idle,
		tracer:  otel.Tracer("pomo/state"),
		now:     time.Now,
		history: []TransitionRecord{},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(machine)
	}
	return machine
}

// Current returns the current lifecycle state.
func (m *Machine) Current() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition validates and records one state transition. Check and update happen under one
// lock, so two callers racing for idle -> running cannot both win.
func (m *Machine) Transition(ctx context.Context, sessionID, toState, reason string) error {
	if m == nil {
		return errors.New("machine is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	normalizedReason := strings.TrimSpace(reason)

	_, span := m.tracer.Start(ctx, "state.transition")
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	sessionID = strings.TrimSpace(sessionID)
	toState = strings.TrimSpace(toState)

	m.mu.Lock()
	defer m.mu.Unlock()
	fromState := m.current

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("from_state", fromState),
		attribute.String("to_state", toState),
		attribute.String("reason", normalizedReason),
		attribute.Bool("terminal", isTerminal(toState)),
	)

	if sessionID == "" {
		err := errors.New("session id must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if !isAllowed(fromState, toState) {
		err := &IllegalTransitionError{
			SessionID: sessionID,
			FromState: fromState,
			ToState:   toState,
			Reason:    "illegal transition for interval lifecycle",
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.current = toState
	m.history = append(m.history, TransitionRecord{
		SessionID: sessionID,
		FromState: fromState,
		ToState:   toState,
		Reason:    normalizedReason,
		Timestamp: m.now().UTC(),
	})
	span.SetStatus(codes.Ok, "state transition recorded")
	return nil
}

// History returns transition records captured by this machine.
func (m *Machine) History() []TransitionRecord {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// isTerminal reports whether state ends a running interval.
func isTerminal(state string) bool {
	switch state {
	case Expired, Abandoned, Skipped, Cancelled:
		return true
	default:
		return false
	}
}

func isAllowed(fromState, toState string) bool {
	nextStates, ok := allowedTransitions[fromState]
	if !ok {
		return false
	}
	_, ok = nextStates[toState]
	return ok
}
