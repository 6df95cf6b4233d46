package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultWorkDuration      = 25 * time.Minute
	defaultShortBreak        = 5 * time.Minute
	defaultLongBreak         = 15 * time.Minute
	defaultLongBreakEvery    = 4
	defaultTickVolume        = 0.5
	defaultAlarmVolume       = 0.75
	defaultAlarmPollInterval = 500 * time.Millisecond
	defaultAlarmMaxPolls     = 5
	defaultLogLevel          = "info"

	// DefaultTickSound is the tick asset resolved against the working directory.
	DefaultTickSound = "s_tick.mp3"
	// DefaultWorkAlarmSound is played when a work interval expires.
	DefaultWorkAlarmSound = "s_pom_alarm.mp3"
	// DefaultBreakAlarmSound is played when a short or long break expires.
	DefaultBreakAlarmSound = "s_break_alarm.mp3"
)

// DirName is the per-user and per-project configuration directory name.
const DirName = ".pomo"

// Config stores runtime settings loaded from TOML files.
type Config struct {
	WorkDuration   time.Duration `yaml:"work_duration"`
	ShortBreak     time.Duration `yaml:"short_break"`
	LongBreak      time.Duration `yaml:"long_break"`
	LongBreakEvery int           `yaml:"long_break_every"`
	TickEnabled    bool          `yaml:"tick_enabled"`
	Notifications  bool          `yaml:"notifications"`
	LogLevel       string        `yaml:"log_level"`
	Sounds         Sounds        `yaml:"sounds"`
	Audio          Audio         `yaml:"audio"`
	OTELEndpoint   string        `yaml:"otel_endpoint,omitempty"`
}

// Sounds holds absolute paths of the three cue assets.
type Sounds struct {
	Tick       string `yaml:"tick"`
	WorkAlarm  string `yaml:"work_alarm"`
	BreakAlarm string `yaml:"break_alarm"`
}

// Audio configures playback volume, the alarm ring cap and the player command.
type Audio struct {
	TickVolume        float64       `yaml:"tick_volume"`
	AlarmVolume       float64       `yaml:"alarm_volume"`
	AlarmPollInterval time.Duration `yaml:"alarm_poll_interval"`
	AlarmMaxPolls     int           `yaml:"alarm_max_polls"`
	Player            []string      `yaml:"player,omitempty"`
}

// AlarmCap is the longest PlayAlarm may block.
func (a Audio) AlarmCap() time.Duration {
	return time.Duration(a.AlarmMaxPolls) * a.AlarmPollInterval
}

type fileConfig struct {
	WorkDuration   *string     `toml:"work_duration"`
	ShortBreak     *string     `toml:"short_break"`
	LongBreak      *string     `toml:"long_break"`
	LongBreakEvery *int        `toml:"long_break_every"`
	TickEnabled    *bool       `toml:"tick_enabled"`
	Notifications  *bool       `toml:"notifications"`
	LogLevel       *string     `toml:"log_level"`
	Sounds         *soundsFile `toml:"sounds"`
	Audio          *audioFile  `toml:"audio"`
	OTEL           *otelFile   `toml:"otel"`
}

type soundsFile struct {
	Tick       *string `toml:"tick"`
	WorkAlarm  *string `toml:"work_alarm"`
	BreakAlarm *string `toml:"break_alarm"`
}

type audioFile struct {
	TickVolume        *float64 `toml:"tick_volume"`
	AlarmVolume       *float64 `toml:"alarm_volume"`
	AlarmPollInterval *string  `toml:"alarm_poll_interval"`
	AlarmMaxPolls     *int     `toml:"alarm_max_polls"`
	Player            []string `toml:"player"`
}

type otelFile struct {
	Endpoint *string `toml:"endpoint"`
}

// Load reads config from ~/.pomo/config.toml and overlays a project-local .pomo/config.toml.
// Relative sound paths resolve against the working directory.
func Load(ctx context.Context) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg := Defaults()
	paths := []string{
		filepath.Join(homeDir, DirName, "config.toml"),
		filepath.Join(workingDir, DirName, "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	resolveSoundPaths(&cfg.Sounds, workingDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	_ = ctx
	return &cfg, nil
}

// Defaults returns the built-in configuration with relative sound paths.
func Defaults() Config {
	return Config{
		WorkDuration:   defaultWorkDuration,
		ShortBreak:     defaultShortBreak,
		LongBreak:      defaultLongBreak,
		LongBreakEvery: defaultLongBreakEvery,
		TickEnabled:    true,
		Notifications:  true,
		LogLevel:       defaultLogLevel,
		Sounds: Sounds{
			Tick:       DefaultTickSound,
			WorkAlarm:  DefaultWorkAlarmSound,
			BreakAlarm: DefaultBreakAlarmSound,
		},
		Audio: Audio{
			TickVolume:        defaultTickVolume,
			AlarmVolume:       defaultAlarmVolume,
			AlarmPollInterval: defaultAlarmPollInterval,
			AlarmMaxPolls:     defaultAlarmMaxPolls,
		},
	}
}

// Validate rejects settings the timer cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	durations := []struct {
		key   string
		value time.Duration
	}{
		{"work_duration", c.WorkDuration},
		{"short_break", c.ShortBreak},
		{"long_break", c.LongBreak},
	}
	for _, d := range durations {
		if d.value < time.Second {
			return fmt.Errorf("%s must be at least 1s, got %s", d.key, d.value)
		}
	}
	if c.LongBreakEvery <= 0 {
		return fmt.Errorf("long_break_every must be > 0, got %d", c.LongBreakEvery)
	}
	if c.Audio.AlarmPollInterval <= 0 {
		return fmt.Errorf("audio.alarm_poll_interval must be > 0, got %s", c.Audio.AlarmPollInterval)
	}
	if c.Audio.AlarmMaxPolls <= 0 {
		return fmt.Errorf("audio.alarm_max_polls must be > 0, got %d", c.Audio.AlarmMaxPolls)
	}
	return nil
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	applyScalarOverrides(cfg, decoded)
	if decoded.Sounds != nil {
		applySoundOverrides(&cfg.Sounds, *decoded.Sounds)
	}
	if decoded.Audio != nil {
		if err := applyAudioOverrides(&cfg.Audio, *decoded.Audio, path); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	targets := []struct {
		key   string
		raw   *string
		field *time.Duration
	}{
		{"work_duration", decoded.WorkDuration, &cfg.WorkDuration},
		{"short_break", decoded.ShortBreak, &cfg.ShortBreak},
		{"long_break", decoded.LongBreak, &cfg.LongBreak},
	}
	for _, target := range targets {
		if target.raw == nil {
			continue
		}
		value, err := parseDuration(*target.raw, target.key, path)
		if err != nil {
			return err
		}
		*target.field = value
	}
	return nil
}

func applyScalarOverrides(cfg *Config, decoded fileConfig) {
	if decoded.LongBreakEvery != nil {
		cfg.LongBreakEvery = *decoded.LongBreakEvery
	}
	if decoded.TickEnabled != nil {
		cfg.TickEnabled = *decoded.TickEnabled
	}
	if decoded.Notifications != nil {
		cfg.Notifications = *decoded.Notifications
	}
	if decoded.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*decoded.LogLevel))
	}
	if decoded.OTEL != nil && decoded.OTEL.Endpoint != nil {
		cfg.OTELEndpoint = strings.TrimSpace(*decoded.OTEL.Endpoint)
	}
}

func applySoundOverrides(sounds *Sounds, decoded soundsFile) {
	if decoded.Tick != nil {
		sounds.Tick = strings.TrimSpace(*decoded.Tick)
	}
	if decoded.WorkAlarm != nil {
		sounds.WorkAlarm = strings.TrimSpace(*decoded.WorkAlarm)
	}
	if decoded.BreakAlarm != nil {
		sounds.BreakAlarm = strings.TrimSpace(*decoded.BreakAlarm)
	}
}

func applyAudioOverrides(audio *Audio, decoded audioFile, path string) error {
	if decoded.TickVolume != nil {
		if err := checkVolume(*decoded.TickVolume, "audio.tick_volume", path); err != nil {
			return err
		}
		audio.TickVolume = *decoded.TickVolume
	}
	if decoded.AlarmVolume != nil {
		if err := checkVolume(*decoded.AlarmVolume, "audio.alarm_volume", path); err != nil {
			return err
		}
		audio.AlarmVolume = *decoded.AlarmVolume
	}
	if decoded.AlarmPollInterval != nil {
		value, err := parseDuration(*decoded.AlarmPollInterval, "audio.alarm_poll_interval", path)
		if err != nil {
			return err
		}
		audio.AlarmPollInterval = value
	}
	if decoded.AlarmMaxPolls != nil {
		if *decoded.AlarmMaxPolls <= 0 {
			return fmt.Errorf("parse audio.alarm_max_polls in %q: must be > 0", path)
		}
		audio.AlarmMaxPolls = *decoded.AlarmMaxPolls
	}
	if len(decoded.Player) > 0 {
		audio.Player = append([]string(nil), decoded.Player...)
	}
	return nil
}

func checkVolume(value float64, key, path string) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("parse %s in %q: must be within [0, 1]", key, path)
	}
	return nil
}

func resolveSoundPaths(sounds *Sounds, workingDir string) {
	for _, field := range []*string{&sounds.Tick, &sounds.WorkAlarm, &sounds.BreakAlarm} {
		if *field == "" || filepath.IsAbs(*field) {
			continue
		}
		*field = filepath.Join(workingDir, *field)
	}
}
