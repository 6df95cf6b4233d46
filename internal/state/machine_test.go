package state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTransitionFollowsIntervalLifecycle(t *testing.T) {
	t.Parallel()

	for _, terminal := range []string{Expired, Abandoned, Skipped, Cancelled} {
		terminal := terminal
		t.Run(terminal, func(t *testing.T) {
			t.Parallel()

			machine := NewMachine()
			sequence := []string{Running, terminal, Idle}
			for _, next := range sequence {
				if err := machine.Transition(context.Background(), "session-1", next, "step"); err != nil {
					t.Fatalf("transition to %s: %v", next, err)
				}
			}
			if got := machine.Current(); got != Idle {
				t.Fatalf("current = %q, want %q", got, Idle)
			}
			if !isTerminal(terminal) {
				t.Fatalf("isTerminal(%q) = false, want true", terminal)
			}
		})
	}
}

func TestTransitionRejectsIllegalTransitionWithTypedError(t *testing.T) {
	t.Parallel()

	machine := NewMachine()
	err := machine.Transition(context.Background(), "session-42", Expired, "expire without running")
	if err == nil {
		t.Fatal("expected illegal transition error, got nil")
	}

	var illegalErr *IllegalTransitionError
	if !errors.As(err, &illegalErr) {
		t.Fatalf("error = %T, want *IllegalTransitionError", err)
	}
	if !errors.Is(err, &IllegalTransitionError{}) {
		t.Fatalf("errors.Is(%v, IllegalTransitionError{}) = false, want true", err)
	}
	if illegalErr.SessionID != "session-42" {
		t.Fatalf("session id = %s, want session-42", illegalErr.SessionID)
	}
	if illegalErr.FromState != Idle || illegalErr.ToState != Expired {
		t.Fatalf("illegal transition = %s -> %s", illegalErr.FromState, illegalErr.ToState)
	}
	if !strings.Contains(err.Error(), "illegal transition for interval lifecycle") {
		t.Fatalf("error text missing reason: %v", err)
	}
	if got := machine.Current(); got != Idle {
		t.Fatalf("current = %q after rejected transition, want %q", got, Idle)
	}
}

func TestTransitionRejectsEmptySessionID(t *testing.T) {
	t.Parallel()

	machine := NewMachine()
	if err := machine.Transition(context.Background(), "  ", Running, "start"); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestConcurrentStartsAdmitExactlyOneInterval(t *testing.T) {
	t.Parallel()

	machine := NewMachine()
	const contenders = 16

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := machine.Transition(context.Background(), "session", Running, "start"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}

func TestTransitionRecordsTimestampAndReason(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 2, 11, 5, 0, 0, 0, time.UTC)
	machine := NewMachine(WithClock(func() time.Time { return fixed }))

	if err := machine.Transition(context.Background(), "session-1", Running, "work started"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	history := machine.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}

	record := history[0]
	if record.FromState != Idle || record.ToState != Running {
		t.Fatalf("record = %s -> %s", record.FromState, record.ToState)
	}
	if record.Timestamp != fixed {
		t.Fatalf("timestamp = %s, want %s", record.Timestamp, fixed)
	}
	if record.Reason != "work started" {
		t.Fatalf("reason = %q, want %q", record.Reason, "work started")
	}
}

func TestTransitionCreatesSpanWithRequiredAttributes(t *testing.T) {
	t.Parallel()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown tracer provider: %v", err)
		}
	})

	machine := NewMachine(WithTracer(provider.Tracer("state-test")))
	if err := machine.Transition(context.Background(), "session-7", Running, "scheduler started work"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	span := findTransitionSpan(t, spanRecorder.Ended())
	attrs := attributesToMap(span.Attributes())

	if got := attrs["session_id"]; got != "session-7" {
		t.Fatalf("session_id = %q, want %q", got, "session-7")
	}
	if got := attrs["from_state"]; got != Idle {
		t.Fatalf("from_state = %q, want %q", got, Idle)
	}
	if got := attrs["to_state"]; got != Running {
		t.Fatalf("to_state = %q, want %q", got, Running)
	}
	if got := attrs["reason"]; got != "scheduler started work" {
		t.Fatalf("reason = %q, want %q", got, "scheduler started work")
	}
	if _, ok := attrs["duration_ms"]; !ok {
		t.Fatal("duration_ms attribute missing")
	}
	if got := attrs["terminal"]; got != "false" {
		t.Fatalf("terminal = %q, want false for running", got)
	}

	if err := machine.Transition(context.Background(), "session-7", Skipped, "skip key pressed"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	ended := spanRecorder.Ended()
	last := attributesToMap(ended[len(ended)-1].Attributes())
	if got := last["terminal"]; got != "true" {
		t.Fatalf("terminal = %q, want true for skipped", got)
	}
}

func TestTransitionRecordsErrorsAndUsesParentContext(t *testing.T) {
	t.Parallel()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown tracer provider: %v", err)
		}
	})

	tracer := provider.Tracer("state-test")
	machine := NewMachine(WithTracer(tracer))

	parentCtx, parentSpan := tracer.Start(context.Background(), "parent")
	err := machine.Transition(parentCtx, "session-9", Idle, "idle to idle")
	parentSpan.End()

	if err == nil {
		t.Fatal("expected transition error, got nil")
	}

	transitionSpan := findTransitionSpan(t, spanRecorder.Ended())
	if transitionSpan.Parent().SpanID() != parentSpan.SpanContext().SpanID() {
		t.Fatalf(
			"transition span parent = %s, want %s",
			transitionSpan.Parent().SpanID(),
			parentSpan.SpanContext().SpanID(),
		)
	}
	if transitionSpan.Status().Code != codes.Error {
		t.Fatalf("status code = %v, want %v", transitionSpan.Status().Code, codes.Error)
	}
	if len(transitionSpan.Events()) == 0 {
		t.Fatal("expected at least one event recorded on error span")
	}
}

func findTransitionSpan(t *testing.T, spans []sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range spans {
		if span.Name() == "state.transition" {
			return span
		}
	}
	t.Fatalf("state.transition span not found in %d spans", len(spans))
	return nil
}

func attributesToMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		out[string(attr.Key)] = attr.Value.Emit()
	}
	return out
}
