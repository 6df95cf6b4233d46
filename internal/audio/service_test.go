package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	playing atomic.Bool
	stops   atomic.Int32
}

func newFakeStream() *fakeStream {
	stream := &fakeStream{}
	stream.playing.Store(true)
	return stream
}

func (s *fakeStream) Playing() bool {
	return s.playing.Load()
}

func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	s.playing.Store(false)
	return nil
}

func (s *fakeStream) finish() {
	s.playing.Store(false)
}

type fakeStart struct {
	path   string
	volume float64
	stream *fakeStream
}

type fakePlayer struct {
	mu       sync.Mutex
	starts   []fakeStart
	startErr error
	// autoFinish makes every stream report done immediately.
	autoFinish bool
}

func (p *fakePlayer) Start(_ context.Context, path string, volume float64) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, p.startErr
	}
	stream := newFakeStream()
	if p.autoFinish {
		stream.finish()
	}
	p.starts = append(p.starts, fakeStart{path: path, volume: volume, stream: stream})
	return stream, nil
}

func (p *fakePlayer) Starts() []fakeStart {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]fakeStart(nil), p.starts...)
}

func writeSounds(t *testing.T) Sounds {
	t.Helper()
	dir := t.TempDir()
	sounds := Sounds{
		Tick:       filepath.Join(dir, "s_tick.mp3"),
		WorkAlarm:  filepath.Join(dir, "s_pom_alarm.mp3"),
		BreakAlarm: filepath.Join(dir, "s_break_alarm.mp3"),
	}
	for _, path := range []string{sounds.Tick, sounds.WorkAlarm, sounds.BreakAlarm} {
		require.NoError(t, os.WriteFile(path, []byte("ID3"), 0o600))
	}
	return sounds
}

func TestPlayTickLoopStartsOnceWhilePlaying(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	svc := NewService(Options{Player: player, Sounds: writeSounds(t), TickVolume: 0.3})

	require.NoError(t, svc.PlayTickLoop(context.Background()))
	require.NoError(t, svc.PlayTickLoop(context.Background()))

	starts := player.Starts()
	require.Len(t, starts, 1)
	assert.InDelta(t, 0.3, starts[0].volume, 1e-9)
	assert.Equal(t, CueTick, svc.ActiveCue())
}

func TestPlayTickLoopRestartsFinishedTick(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	svc := NewService(Options{Player: player, Sounds: writeSounds(t)})

	require.NoError(t, svc.PlayTickLoop(context.Background()))
	first := player.Starts()[0].stream
	first.finish()

	require.NoError(t, svc.PlayTickLoop(context.Background()))
	starts := player.Starts()
	require.Len(t, starts, 2)
	assert.Equal(t, int32(1), first.stops.Load(), "finished tick must be released before restart")
	assert.True(t, starts[1].stream.Playing())
}

func TestStopTickReleasesStream(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	svc := NewService(Options{Player: player, Sounds: writeSounds(t)})

	require.NoError(t, svc.PlayTickLoop(context.Background()))
	require.NoError(t, svc.StopTick())
	require.NoError(t, svc.StopTick())

	stream := player.Starts()[0].stream
	assert.Equal(t, int32(1), stream.stops.Load())
	assert.Equal(t, CueNone, svc.ActiveCue())
}

func TestPlayAlarmStopsTickFirstAndReleasesAfter(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	sounds := writeSounds(t)
	svc := NewService(Options{
		Player:            player,
		Sounds:            sounds,
		AlarmVolume:       0.9,
		AlarmPollInterval: time.Millisecond,
		AlarmMaxPolls:     3,
	})

	require.NoError(t, svc.PlayTickLoop(context.Background()))
	require.NoError(t, svc.PlayAlarm(context.Background(), CueWorkAlarm))

	starts := player.Starts()
	require.Len(t, starts, 2)
	assert.Equal(t, sounds.Tick, starts[0].path)
	assert.Equal(t, int32(1), starts[0].stream.stops.Load())
	assert.Equal(t, sounds.WorkAlarm, starts[1].path)
	assert.InDelta(t, 0.9, starts[1].volume, 1e-9)
	assert.Equal(t, int32(1), starts[1].stream.stops.Load(), "alarm must be released after polling")
	assert.Equal(t, CueNone, svc.ActiveCue())
}

func TestPlayAlarmIsBoundedByPollCap(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	svc := NewService(Options{
		Player:            player,
		Sounds:            writeSounds(t),
		AlarmPollInterval: 10 * time.Millisecond,
		AlarmMaxPolls:     3,
	})
	assert.Equal(t, 30*time.Millisecond, svc.AlarmCap())

	started := time.Now()
	require.NoError(t, svc.PlayAlarm(context.Background(), CueBreakAlarm))
	elapsed := time.Since(started)

	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestPlayAlarmReturnsEarlyWhenSoundFinishes(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{autoFinish: true}
	svc := NewService(Options{
		Player:            player,
		Sounds:            writeSounds(t),
		AlarmPollInterval: time.Second,
		AlarmMaxPolls:     5,
	})

	started := time.Now()
	require.NoError(t, svc.PlayAlarm(context.Background(), CueWorkAlarm))
	assert.Less(t, time.Since(started), 500*time.Millisecond)
}

func TestPlayAlarmHonoursCancellation(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	svc := NewService(Options{
		Player:            player,
		Sounds:            writeSounds(t),
		AlarmPollInterval: time.Second,
		AlarmMaxPolls:     5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	require.NoError(t, svc.PlayAlarm(ctx, CueWorkAlarm))
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, int32(1), player.Starts()[0].stream.stops.Load())
}

func TestPlayAlarmRejectsTickCue(t *testing.T) {
	t.Parallel()

	svc := NewService(Options{Player: &fakePlayer{}, Sounds: writeSounds(t)})
	require.Error(t, svc.PlayAlarm(context.Background(), CueTick))
}

func TestMissingAssetReturnsAudioLoadError(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	sounds := writeSounds(t)
	sounds.Tick = filepath.Join(t.TempDir(), "missing.mp3")
	svc := NewService(Options{Player: player, Sounds: sounds})

	err := svc.PlayTickLoop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, &AudioLoadError{})
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, player.Starts())
	assert.Equal(t, CueNone, svc.ActiveCue())
}

func TestStartFailureIsPlaybackDeviceError(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{startErr: errors.New("device busy")}
	svc := NewService(Options{Player: player, Sounds: writeSounds(t)})

	err := svc.PlayTickLoop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, &PlaybackDeviceError{})
	assert.Contains(t, err.Error(), "device busy")
}

func TestDefaultPlayerWithoutCommandFails(t *testing.T) {
	t.Parallel()

	svc := NewService(Options{Sounds: writeSounds(t)})
	err := svc.PlayTickLoop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPlayer)
}

func TestCloseReleasesActiveStream(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	svc := NewService(Options{Player: player, Sounds: writeSounds(t)})
	require.NoError(t, svc.PlayTickLoop(context.Background()))
	require.NoError(t, svc.Close())

	assert.False(t, player.Starts()[0].stream.Playing())
	assert.Equal(t, CueNone, svc.ActiveCue())
}

func TestCueString(t *testing.T) {
	t.Parallel()

	cases := map[Cue]string{
		CueNone:       "none",
		CueTick:       "tick",
		CueWorkAlarm:  "work_alarm",
		CueBreakAlarm: "break_alarm",
	}
	for cue, want := range cases {
		if got := cue.String(); got != want {
			t.Fatalf("Cue(%d).String() = %q, want %q", cue, got, want)
		}
	}
}
