// Package doctor checks that the local setup can actually run a timer: sounds on disk, a
// playback command on PATH and a writable log directory.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomatoworks/pomo/internal/audio"
	"github.com/tomatoworks/pomo/internal/config"
)

// Status grades one check.
type Status string

const (
	// StatusOK means the check passed.
	StatusOK Status = "ok"
	// StatusWarn means the timer runs but something is degraded, such as a silent tick.
	StatusWarn Status = "warn"
	// StatusFail means the timer cannot run as configured.
	StatusFail Status = "fail"
)

// Check is one line of the report.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Report is the full result of a doctor run.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Checks      []Check   `json:"checks"`
}

// Healthy reports whether no check failed.
func (r Report) Healthy() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return false
		}
	}
	return true
}

// Option overrides a probe, mainly for tests.
type Option func(*probe)

// WithLookPath replaces exec.LookPath.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(p *probe) {
		if lookPath != nil {
			p.lookPath = lookPath
		}
	}
}

// WithLogDir replaces the ~/.pomo/logs directory.
func WithLogDir(dir string) Option {
	return func(p *probe) {
		p.logDir = strings.TrimSpace(dir)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *probe) {
		if now != nil {
			p.now = now
		}
	}
}

type probe struct {
	lookPath func(string) (string, error)
	logDir   string
	now      func() time.Time
}

// Run executes every check against cfg.
func Run(ctx context.Context, cfg *config.Config, opts ...Option) Report {
	p := probe{lookPath: exec.LookPath, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}

	report := Report{GeneratedAt: p.now().UTC()}
	report.Checks = append(report.Checks, checkConfig(cfg))
	if cfg == nil {
		return report
	}
	report.Checks = append(report.Checks, p.checkPlayer(cfg.Audio.Player))
	report.Checks = append(report.Checks,
		checkSound("sound.tick", cfg.Sounds.Tick, cfg.TickEnabled),
		checkSound("sound.work_alarm", cfg.Sounds.WorkAlarm, true),
		checkSound("sound.break_alarm", cfg.Sounds.BreakAlarm, true),
	)
	report.Checks = append(report.Checks, p.checkLogDir())

	_ = ctx
	return report
}

func checkConfig(cfg *config.Config) Check {
	check := Check{Name: "config"}
	if err := cfg.Validate(); err != nil {
		check.Status = StatusFail
		check.Detail = err.Error()
		return check
	}
	check.Status = StatusOK
	check.Detail = fmt.Sprintf("work %s, short break %s, long break %s every %d, alarm cap %s",
		cfg.WorkDuration, cfg.ShortBreak, cfg.LongBreak, cfg.LongBreakEvery, cfg.Audio.AlarmCap())
	return check
}

func (p probe) checkPlayer(configured []string) Check {
	check := Check{Name: "audio.player"}
	if len(configured) > 0 {
		path, err := p.lookPath(configured[0])
		if err != nil {
			check.Status = StatusFail
			check.Detail = fmt.Sprintf("configured player %q not found: %v", configured[0], err)
			return check
		}
		check.Status = StatusOK
		check.Detail = "configured: " + path
		return check
	}

	command, err := audio.FindCommand(p.lookPath)
	if err != nil {
		check.Status = StatusWarn
		check.Detail = "no player found on PATH; set [audio] player in config.toml"
		return check
	}
	check.Status = StatusOK
	check.Detail = "detected: " + strings.Join(command, " ")
	return check
}

// checkSound skips sounds that will never play. A missing sound is a warning: the timer still
// runs, it is just silent.
func checkSound(name, path string, used bool) Check {
	check := Check{Name: name, Detail: path}
	if !used {
		check.Status = StatusOK
		check.Detail = "disabled"
		return check
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		err = errors.New("is a directory")
	}
	if err != nil {
		check.Status = StatusWarn
		check.Detail = fmt.Sprintf("%s: %v", path, err)
		return check
	}
	check.Status = StatusOK
	return check
}

func (p probe) checkLogDir() Check {
	check := Check{Name: "logs"}
	dir := p.logDir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			check.Status = StatusFail
			check.Detail = fmt.Sprintf("resolve home directory: %v", err)
			return check
		}
		dir = filepath.Join(homeDir, config.DirName, "logs")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		check.Status = StatusFail
		check.Detail = fmt.Sprintf("create %s: %v", dir, err)
		return check
	}
	probeFile, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		check.Status = StatusFail
		check.Detail = fmt.Sprintf("write %s: %v", dir, err)
		return check
	}
	name := probeFile.Name()
	_ = probeFile.Close()
	_ = os.Remove(name)

	check.Status = StatusOK
	check.Detail = dir
	return check
}
