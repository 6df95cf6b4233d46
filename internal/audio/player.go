package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Player starts playback of one sound file. Decoding is left to the external program.
type Player interface {
	Start(ctx context.Context, path string, volume float64) (Stream, error)
}

// Stream is one running playback.
type Stream interface {
	// Playing reports whether playback is still in progress.
	Playing() bool
	// Stop ends playback and releases the process. Safe to call more than once.
	Stop() error
}

// Placeholders expanded in player command templates.
const (
	PlaceholderFile      = "{file}"
	PlaceholderVolume    = "{volume}"
	PlaceholderVolumePct = "{volume_pct}"
)

// knownPlayers are tried in order when no command is configured.
var knownPlayers = [][]string{
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-volume", PlaceholderVolumePct, PlaceholderFile},
	{"mpv", "--no-video", "--really-quiet", "--volume=" + PlaceholderVolumePct, PlaceholderFile},
	// paplay volume is on a 0-65536 scale; it plays at the sink's level instead
	{"paplay", PlaceholderFile},
	{"afplay", "-v", PlaceholderVolume, PlaceholderFile},
}

// DetectCommand returns the first known player template whose binary is on PATH.
func DetectCommand() ([]string, error) {
	return FindCommand(exec.LookPath)
}

// FindCommand is DetectCommand with a caller-supplied PATH lookup.
func FindCommand(lookPath func(string) (string, error)) ([]string, error) {
	for _, candidate := range knownPlayers {
		if _, err := lookPath(candidate[0]); err == nil {
			return append([]string(nil), candidate...), nil
		}
	}
	return nil, ErrNoPlayer
}

// ExecPlayer plays sounds by spawning a command-line player per stream.
type ExecPlayer struct {
	command []string
}

// NewExecPlayer builds a player from a command template such as
// ["ffplay", "-nodisp", "-autoexit", "{file}"]. An empty template yields a player whose
// every Start fails with a PlaybackDeviceError wrapping ErrNoPlayer.
func NewExecPlayer(command []string) *ExecPlayer {
	trimmed := make([]string, 0, len(command))
	for _, part := range command {
		if part = strings.TrimSpace(part); part != "" {
			trimmed = append(trimmed, part)
		}
	}
	return &ExecPlayer{command: trimmed}
}

// Name returns the player binary name, or "" when none is configured.
func (p *ExecPlayer) Name() string {
	if p == nil || len(p.command) == 0 {
		return ""
	}
	return filepath.Base(p.command[0])
}

// Start launches the player process for path.
func (p *ExecPlayer) Start(_ context.Context, path string, volume float64) (Stream, error) {
	if p == nil || len(p.command) == 0 {
		return nil, &PlaybackDeviceError{Err: ErrNoPlayer}
	}

	args := expandArgs(p.command[1:], path, volume)
	// #nosec G204 -- the player command comes from the user's own config file.
	cmd := exec.Command(p.command[0], args...)
	if err := cmd.Start(); err != nil {
		return nil, &PlaybackDeviceError{Player: p.Name(), Err: err}
	}

	stream := &execStream{cmd: cmd, done: make(chan struct{})}
	go func() {
		stream.waitErr = cmd.Wait()
		close(stream.done)
	}()
	return stream, nil
}

func expandArgs(template []string, path string, volume float64) []string {
	volume = math.Max(0, math.Min(1, volume))
	replacer := strings.NewReplacer(
		PlaceholderFile, path,
		PlaceholderVolumePct, strconv.Itoa(int(math.Round(volume*100))),
		PlaceholderVolume, strconv.FormatFloat(volume, 'f', 2, 64),
	)
	args := make([]string, len(template))
	for i, arg := range template {
		args[i] = replacer.Replace(arg)
	}
	return args
}

type execStream struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	once    sync.Once
	stopErr error
}

func (s *execStream) Playing() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *execStream) Stop() error {
	s.once.Do(func() {
		if s.Playing() && s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil && s.Playing() {
				s.stopErr = fmt.Errorf("kill player process %d: %w", s.cmd.Process.Pid, err)
			}
		}
		<-s.done
	})
	return s.stopErr
}
