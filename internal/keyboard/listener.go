// Package keyboard reads single key presses from the console without waiting for Enter.
package keyboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/muesli/cancelreader"
	"golang.org/x/term"
)

// Control keys the scheduler and engine care about.
const (
	KeyPause     = 'p'
	KeySkip      = 's'
	KeyEnter     = '\r'
	KeyNewline   = '\n'
	KeyInterrupt = 0x03
)

// ErrClosed is returned by NextKey after Close.
var ErrClosed = errors.New("keyboard listener closed")

// InputReadError reports that the console could not be read.
type InputReadError struct {
	Err error
}

func (e *InputReadError) Error() string {
	return fmt.Sprintf("read console input: %v", e.Err)
}

// Unwrap exposes the underlying read error.
func (e *InputReadError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is checks against an empty *InputReadError.
func (e *InputReadError) Is(target error) bool {
	_, ok := target.(*InputReadError)
	return ok
}

// Option configures a Listener.
type Option func(*Listener)

// WithInterrupt registers fn to run when Ctrl-C is read. Raw mode turns off the terminal's
// own signal generation, so this is how an interrupt reaches the process.
func WithInterrupt(fn func()) Option {
	return func(l *Listener) {
		l.onInterrupt = fn
	}
}

// WithLogger sets the logger for read failures.
func WithLogger(logger *log.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Listener owns the console input. One goroutine reads keys and hands them over through a
// channel holding at most one pending key.
type Listener struct {
	reader      cancelreader.CancelReader
	keys        chan rune
	done        chan struct{}
	finished    chan struct{}
	onInterrupt func()
	logger      *log.Logger

	restore func() error

	mu      sync.Mutex
	readErr error
	held    []rune

	closeOnce sync.Once
}

// New starts listening on in. When in is a terminal it is switched to raw mode until Close.
func New(in io.Reader, opts ...Option) (*Listener, error) {
	restore := func() error { return nil }
	if file, ok := in.(*os.File); ok {
		fd := int(file.Fd())
		if term.IsTerminal(fd) {
			prev, err := term.MakeRaw(fd)
			if err != nil {
				return nil, fmt.Errorf("enable raw mode: %w", err)
			}
			restore = func() error { return term.Restore(fd, prev) }
		} else {
			// pipes and regular files cannot be polled for cancellation
			in = struct{ io.Reader }{file}
		}
	}

	reader, err := cancelreader.NewReader(in)
	if err != nil {
		_ = restore()
		return nil, fmt.Errorf("wrap console reader: %w", err)
	}

	l := &Listener{
		reader:   reader,
		keys:     make(chan rune, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		logger:   log.New(io.Discard),
		restore:  restore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	go l.readLoop()
	return l, nil
}

// NextKey blocks until a key is pressed, ctx is done or the console fails. A cancelled ctx
// never consumes a key: it stays queued for the next caller.
func (l *Listener) NextKey(ctx context.Context) (rune, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if l.closed() {
		return 0, ErrClosed
	}
	if key, ok := l.popHeld(); ok {
		return key, nil
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-l.done:
		return 0, ErrClosed
	case key, ok := <-l.keys:
		if !ok {
			if l.closed() {
				return 0, ErrClosed
			}
			return 0, &InputReadError{Err: l.err()}
		}
		if err := ctx.Err(); err != nil {
			l.hold(key)
			return 0, err
		}
		return key, nil
	}
}

// Close stops the reader goroutine and restores the terminal.
func (l *Listener) Close() error {
	var restoreErr error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.reader.Cancel() {
			<-l.finished
		}
		restoreErr = l.restore()
		_ = l.reader.Close()
	})
	if restoreErr != nil {
		return fmt.Errorf("restore terminal: %w", restoreErr)
	}
	return nil
}

func (l *Listener) readLoop() {
	defer close(l.finished)
	defer close(l.keys)

	buf := make([]byte, 64)
	var pending []byte
	for {
		n, err := l.reader.Read(buf)
		pending = append(pending, buf[:n]...)
		for len(pending) > 0 && utf8.FullRune(pending) {
			key, size := utf8.DecodeRune(pending)
			pending = pending[size:]
			if !l.deliver(key) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, cancelreader.ErrCanceled) && !errors.Is(err, io.EOF) {
				l.logger.Warn("console read failed", "err", err)
			}
			l.setErr(err)
			return
		}
	}
}

func (l *Listener) deliver(key rune) bool {
	if key == KeyInterrupt && l.onInterrupt != nil {
		l.onInterrupt()
		return true
	}
	select {
	case l.keys <- key:
		return true
	case <-l.done:
		return false
	}
}

func (l *Listener) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// hold queues a key taken by a caller whose ctx was cancelled mid-receive. Held keys came off
// the channel earlier than anything still in it, so they are served first.
func (l *Listener) hold(key rune) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = append(l.held, key)
}

func (l *Listener) popHeld() (rune, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.held) == 0 {
		return 0, false
	}
	key := l.held[0]
	l.held = l.held[1:]
	return key, true
}

func (l *Listener) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

func (l *Listener) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr == nil {
		return io.EOF
	}
	return l.readErr
}
