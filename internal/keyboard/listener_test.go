package keyboard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeListener(t *testing.T, opts ...Option) (*Listener, *io.PipeWriter) {
	t.Helper()
	r, w := io.Pipe()
	listener, err := New(r, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close()
		_ = listener.Close()
	})
	return listener, w
}

func nextKey(t *testing.T, listener *Listener) rune {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key, err := listener.NextKey(ctx)
	require.NoError(t, err)
	return key
}

func TestNextKeyDeliversKeysInOrder(t *testing.T) {
	t.Parallel()

	listener, w := newPipeListener(t)
	go func() { _, _ = w.Write([]byte("ps\r")) }()

	assert.Equal(t, KeyPause, nextKey(t, listener))
	assert.Equal(t, KeySkip, nextKey(t, listener))
	assert.Equal(t, KeyEnter, nextKey(t, listener))
}

func TestNextKeyDecodesMultibyteRunes(t *testing.T) {
	t.Parallel()

	listener, w := newPipeListener(t)
	go func() {
		_, _ = w.Write([]byte{0xc3})
		_, _ = w.Write([]byte{0xa9})
	}()

	assert.Equal(t, 'é', nextKey(t, listener))
}

func TestNextKeyReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	listener, w := newPipeListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := listener.NextKey(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// a later caller still gets the next key
	go func() { _, _ = w.Write([]byte("p")) }()
	assert.Equal(t, KeyPause, nextKey(t, listener))
}

func TestNextKeyReportsReadFailure(t *testing.T) {
	t.Parallel()

	listener, w := newPipeListener(t)
	require.NoError(t, w.CloseWithError(errors.New("tty gone")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := listener.NextKey(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, &InputReadError{})
	assert.Contains(t, err.Error(), "tty gone")

	_, err = listener.NextKey(ctx)
	assert.ErrorIs(t, err, &InputReadError{}, "failure is sticky")
}

func TestNextKeyReportsEOF(t *testing.T) {
	t.Parallel()

	listener, w := newPipeListener(t)
	require.NoError(t, w.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := listener.NextKey(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestInterruptKeyRunsCallback(t *testing.T) {
	t.Parallel()

	var interrupted atomic.Int32
	listener, w := newPipeListener(t, WithInterrupt(func() { interrupted.Add(1) }))
	go func() { _, _ = w.Write([]byte{KeyInterrupt, 'x'}) }()

	assert.Equal(t, 'x', nextKey(t, listener))
	assert.Equal(t, int32(1), interrupted.Load())
}

func TestCloseUnblocksNextKey(t *testing.T) {
	t.Parallel()

	listener, _ := newPipeListener(t)
	result := make(chan error, 1)
	go func() {
		_, err := listener.NextKey(context.Background())
		result <- err
	}()

	require.NoError(t, listener.Close())
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("NextKey did not return after Close")
	}
	require.NoError(t, listener.Close())
}

func TestCancelledNextKeyLeavesBufferedKey(t *testing.T) {
	t.Parallel()

	listener, w := newPipeListener(t)
	_, err := w.Write([]byte{KeyEnter})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 200; i++ {
		_, err := listener.NextKey(ctx)
		require.ErrorIs(t, err, context.Canceled, "attempt %d", i)
	}

	assert.Equal(t, KeyEnter, nextKey(t, listener))
}

func TestHeldKeyIsServedBeforeQueuedKeys(t *testing.T) {
	t.Parallel()

	listener, w := newPipeListener(t)
	listener.hold(KeyEnter)
	go func() { _, _ = w.Write([]byte("p")) }()

	assert.Equal(t, KeyEnter, nextKey(t, listener))
	assert.Equal(t, KeyPause, nextKey(t, listener))
}

func TestNextKeyAfterCloseIsAlwaysErrClosed(t *testing.T) {
	t.Parallel()

	listener, err := New(bytes.NewReader(nil))
	require.NoError(t, err)

	// let the reader hit EOF and close the key channel first
	_, err = listener.NextKey(context.Background())
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, listener.Close())
	for i := 0; i < 200; i++ {
		_, err := listener.NextKey(context.Background())
		require.ErrorIs(t, err, ErrClosed, "attempt %d", i)
	}
}

func TestEOFIsNotLoggedAsFailure(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger := log.NewWithOptions(&out, log.Options{Formatter: log.JSONFormatter})
	listener, err := New(bytes.NewReader([]byte("s")), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	assert.Equal(t, KeySkip, nextKey(t, listener))
	_, err = listener.NextKey(context.Background())
	require.ErrorIs(t, err, io.EOF)

	// the key channel closes after the read loop has finished logging
	assert.Empty(t, out.String())
}
