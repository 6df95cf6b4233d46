package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultTickVolume is the low volume used for the looping tick.
	DefaultTickVolume = 0.5
	// DefaultAlarmVolume is the volume used for the expiry alarm.
	DefaultAlarmVolume = 0.75
	// DefaultAlarmPollInterval is how often PlayAlarm checks whether the alarm finished.
	DefaultAlarmPollInterval = 500 * time.Millisecond
	// DefaultAlarmMaxPolls caps how many poll intervals PlayAlarm waits.
	DefaultAlarmMaxPolls = 5
)

// Cue identifies one of the three sounds the timer plays.
type Cue int

const (
	// CueNone means no stream is active.
	CueNone Cue = iota
	// CueTick is the looping countdown tick.
	CueTick
	// CueWorkAlarm rings when a work interval expires.
	CueWorkAlarm
	// CueBreakAlarm rings when a short or long break expires.
	CueBreakAlarm
)

func (c Cue) String() string {
	switch c {
	case CueTick:
		return "tick"
	case CueWorkAlarm:
		return "work_alarm"
	case CueBreakAlarm:
		return "break_alarm"
	default:
		return "none"
	}
}

// Sounds maps cues to asset paths.
type Sounds struct {
	Tick       string
	WorkAlarm  string
	BreakAlarm string
}

func (s Sounds) path(cue Cue) string {
	switch cue {
	case CueTick:
		return s.Tick
	case CueWorkAlarm:
		return s.WorkAlarm
	case CueBreakAlarm:
		return s.BreakAlarm
	default:
		return ""
	}
}

// Options configures a Service.
type Options struct {
	Player            Player
	Sounds            Sounds
	TickVolume        float64
	AlarmVolume       float64
	AlarmPollInterval time.Duration
	AlarmMaxPolls     int
	Logger            *log.Logger
}

// Service owns the single audio handle. Starting any sound stops and releases the
// previous stream first, so tick and alarm never overlap.
type Service struct {
	mu                sync.Mutex
	player            Player
	sounds            Sounds
	tickVolume        float64
	alarmVolume       float64
	alarmPollInterval time.Duration
	alarmMaxPolls     int
	logger            *log.Logger

	active    Stream
	activeCue Cue
}

// NewService creates the cue service with defaults where omitted.
func NewService(opts Options) *Service {
	tickVolume := opts.TickVolume
	if tickVolume <= 0 {
		tickVolume = DefaultTickVolume
	}
	alarmVolume := opts.AlarmVolume
	if alarmVolume <= 0 {
		alarmVolume = DefaultAlarmVolume
	}
	pollInterval := opts.AlarmPollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultAlarmPollInterval
	}
	maxPolls := opts.AlarmMaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultAlarmMaxPolls
	}
	player := opts.Player
	if player == nil {
		player = NewExecPlayer(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(discard{})
	}

	return &Service{
		player:            player,
		sounds:            opts.Sounds,
		tickVolume:        tickVolume,
		alarmVolume:       alarmVolume,
		alarmPollInterval: pollInterval,
		alarmMaxPolls:     maxPolls,
		logger:            logger,
	}
}

// AlarmCap is the longest PlayAlarm blocks.
func (s *Service) AlarmCap() time.Duration {
	return time.Duration(s.alarmMaxPolls) * s.alarmPollInterval
}

// PlayTickLoop ensures the tick is playing. A tick that is already playing is left alone; a
// tick that finished on its own is restarted, which is what makes it loop.
func (s *Service) PlayTickLoop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeCue == CueTick && s.active != nil && s.active.Playing() {
		return nil
	}
	return s.startLocked(ctx, CueTick, s.tickVolume)
}

// StopTick stops and releases the tick stream. It does nothing when the tick is not active.
func (s *Service) StopTick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeCue != CueTick {
		return nil
	}
	return s.releaseLocked()
}

// PlayAlarm rings cue and blocks until it finishes or the poll cap is reached, then stops and
// releases the stream regardless. Cancelling ctx cuts the ring short.
func (s *Service) PlayAlarm(ctx context.Context, cue Cue) error {
	if cue != CueWorkAlarm && cue != CueBreakAlarm {
		return fmt.Errorf("cue %s is not an alarm", cue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.startLocked(ctx, cue, s.alarmVolume); err != nil {
		return err
	}

	stream := s.active
	timer := time.NewTimer(s.alarmPollInterval)
	defer timer.Stop()
	for polls := 0; stream.Playing() && polls < s.alarmMaxPolls; polls++ {
		select {
		case <-ctx.Done():
			polls = s.alarmMaxPolls
		case <-timer.C:
			timer.Reset(s.alarmPollInterval)
		}
	}
	return s.releaseLocked()
}

// ActiveCue reports which cue currently holds the audio handle.
func (s *Service) ActiveCue() Cue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCue
}

// Close stops whatever is playing.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Service) startLocked(ctx context.Context, cue Cue, volume float64) error {
	if err := s.releaseLocked(); err != nil {
		s.logger.Warn("release previous stream", "cue", s.activeCue.String(), "err", err)
	}

	path := s.sounds.path(cue)
	if err := checkAsset(path); err != nil {
		return err
	}

	stream, err := s.player.Start(ctx, path, volume)
	if err != nil {
		var deviceErr *PlaybackDeviceError
		if !errors.As(err, &deviceErr) {
			err = &PlaybackDeviceError{Err: err}
		}
		return err
	}

	s.active = stream
	s.activeCue = cue
	s.logger.Debug("audio stream started", "cue", cue.String(), "path", path, "volume", volume)
	return nil
}

func (s *Service) releaseLocked() error {
	if s.active == nil {
		s.activeCue = CueNone
		return nil
	}
	stream, cue := s.active, s.activeCue
	s.active = nil
	s.activeCue = CueNone
	if err := stream.Stop(); err != nil {
		return fmt.Errorf("stop %s stream: %w", cue, err)
	}
	s.logger.Debug("audio stream released", "cue", cue.String())
	return nil
}

func checkAsset(path string) error {
	if path == "" {
		return &AudioLoadError{Path: path, Err: errors.New("no sound file configured")}
	}
	// #nosec G304 -- sound paths come from the user's config.
	file, err := os.Open(path)
	if err != nil {
		return &AudioLoadError{Path: path, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return &AudioLoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return &AudioLoadError{Path: path, Err: errors.New("is a directory")}
	}
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) {
	return len(p), nil
}
