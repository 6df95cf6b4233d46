package notify

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomatoworks/pomo/internal/events"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
	beeps    int
	err      error
}

func (r *recorder) notify(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, title+": "+message)
	return r.err
}

func (r *recorder) beep() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beeps++
	return r.err
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...), r.beeps
}

func newTestNotifier(rec *recorder, opts ...Option) *Notifier {
	n := New(opts...)
	n.notify = rec.notify
	n.beep = rec.beep
	return n
}

func TestAttachNotifiesOnExpiryOnly(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	n := newTestNotifier(rec)
	bus := events.New()
	n.Attach(bus)

	bus.Publish(events.Event{Type: events.EventTypeIntervalStarted, Kind: "work"})
	bus.Publish(events.Event{Type: events.EventTypeIntervalExpired, Kind: "work"})
	bus.Publish(events.Event{Type: events.EventTypeIntervalSkipped, Kind: "short_break"})
	bus.Close()

	messages, beeps := rec.snapshot()
	require.Equal(t, []string{"pomo: Work interval complete. Time for a break."}, messages)
	assert.Zero(t, beeps)
}

func TestAlarmFailureFallsBackToBeep(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	n := newTestNotifier(rec)
	bus := events.New()
	n.Attach(bus)

	bus.Publish(events.Event{Type: events.EventTypeAlarmFailed, Kind: "long_break"})
	bus.Close()

	messages, beeps := rec.snapshot()
	assert.Empty(t, messages)
	assert.Equal(t, 1, beeps)
}

func TestDeliveryFailureIsLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Formatter: log.JSONFormatter})
	rec := &recorder{err: errors.New("no dbus")}
	n := newTestNotifier(rec, WithLogger(logger))

	n.Handle(events.Event{Type: events.EventTypeIntervalExpired, Kind: "work", SessionID: "s-1", Timestamp: time.Now()})

	assert.Contains(t, buf.String(), "desktop notification failed")
	assert.Contains(t, buf.String(), "no dbus")
	assert.Contains(t, buf.String(), "s-1")
}

func TestExpiryMessage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"work":        "Work interval complete. Time for a break.",
		"short_break": "Break is over. Back to work.",
		"long_break":  "Break is over. Back to work.",
		"custom":      "custom interval complete.",
	}
	for kind, want := range tests {
		if got := ExpiryMessage(kind); got != want {
			t.Fatalf("ExpiryMessage(%q) = %q, want %q", kind, got, want)
		}
	}
}
