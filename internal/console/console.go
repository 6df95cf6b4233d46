// Package console renders prompts, banners and the live countdown line.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Lines end with CRLF because the terminal is in raw mode while the timer runs.
const lineEnd = "\r\n"

// Option configures a Console.
type Option func(*Console)

// WithColorProfile forces a color profile, mainly so tests get plain text.
func WithColorProfile(profile termenv.Profile) Option {
	return func(c *Console) {
		c.renderer.SetColorProfile(profile)
	}
}

// Console writes timer output. It is safe for concurrent use; the countdown and the input
// activity both report through it.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *lipgloss.Renderer
	theme    Theme
	live     bool
}

// New returns a console writing to out.
func New(out io.Writer, opts ...Option) *Console {
	c := &Console{
		out:      out,
		renderer: lipgloss.NewRenderer(out),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.theme = NewTheme(c.renderer)
	return c
}

// FormatClock renders d as MM:SS. Minutes are not wrapped at an hour.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Countdown rewrites the live line with the remaining time.
func (c *Console) Countdown(remaining time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, "\r"+c.theme.Countdown.Render(FormatClock(remaining)))
	c.live = true
}

// Banner announces an interval. Work banners use the work accent, everything else the
// break accent.
func (c *Console) Banner(work bool, text string) {
	style, icon := c.theme.Break, IconBreak
	if work {
		style, icon = c.theme.Work, IconWork
	}
	c.line(style.Render(icon + " " + text))
}

// Prompt prints an instruction for the user.
func (c *Console) Prompt(text string) {
	c.line(c.theme.Prompt.Render(text))
}

// Paused reports a pause toggle.
func (c *Console) Paused(paused bool) {
	if paused {
		c.line(c.theme.Status.Render(IconPaused + " Timer paused. Press p to resume."))
		return
	}
	c.line(c.theme.Status.Render("Timer resumed."))
}

// Skipped reports a skip.
func (c *Console) Skipped() {
	c.line(c.theme.Status.Render(IconSkipped + " Timer skipped."))
}

// Expired reports an interval that ran to zero.
func (c *Console) Expired(text string) {
	c.line(c.theme.Status.Render(IconAlarm + " " + text))
}

// Warn prints a non-fatal failure.
func (c *Console) Warn(err error) {
	if err == nil {
		return
	}
	c.line(c.theme.Warning.Render(IconWarning + " " + err.Error()))
}

func (c *Console) line(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	if c.live {
		b.WriteString(lineEnd)
		c.live = false
	}
	b.WriteString(text)
	b.WriteString(lineEnd)
	_, _ = io.WriteString(c.out, b.String())
}
