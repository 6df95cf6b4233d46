// Package notify raises desktop notifications for interval events.
package notify

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/beeep"

	"github.com/tomatoworks/pomo/internal/events"
)

// Title is the notification title.
const Title = "pomo"

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// Notifier turns bus events into desktop notifications and beeps.
type Notifier struct {
	notify func(title, message string) error
	beep   func() error
	logger *log.Logger
}

// New returns a notifier backed by the desktop notification service.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Attach subscribes the notifier to expiry and alarm failure events.
func (n *Notifier) Attach(bus events.Bus) {
	bus.Subscribe(events.EventTypeIntervalExpired, n.Handle)
	bus.Subscribe(events.EventTypeAlarmFailed, n.Handle)
}

// Handle delivers one event. Expiry raises a notification; a failed alarm falls back to the
// system beep so the user still hears the interval end.
func (n *Notifier) Handle(event events.Event) {
	switch event.Type {
	case events.EventTypeIntervalExpired:
		if err := n.notify(Title, ExpiryMessage(event.Kind)); err != nil {
			n.logger.Warn("desktop notification failed", "session_id", event.SessionID, "err", err)
		}
	case events.EventTypeAlarmFailed:
		if err := n.beep(); err != nil {
			n.logger.Warn("fallback beep failed", "session_id", event.SessionID, "err", err)
		}
	}
}

// ExpiryMessage is the notification body for an interval kind.
func ExpiryMessage(kind string) string {
	switch kind {
	case "work":
		return "Work interval complete. Time for a break."
	case "short_break", "long_break":
		return "Break is over. Back to work."
	default:
		return fmt.Sprintf("%s interval complete.", kind)
	}
}
