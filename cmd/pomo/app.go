package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"

	"github.com/tomatoworks/pomo/internal/audio"
	"github.com/tomatoworks/pomo/internal/config"
	"github.com/tomatoworks/pomo/internal/console"
	"github.com/tomatoworks/pomo/internal/events"
	"github.com/tomatoworks/pomo/internal/keyboard"
	"github.com/tomatoworks/pomo/internal/notify"
	"github.com/tomatoworks/pomo/internal/scheduler"
	"github.com/tomatoworks/pomo/internal/timer"
)

// app holds the components of one pomo process.
type app struct {
	console   *console.Console
	listener  *keyboard.Listener
	cues      *audio.Service
	bus       *events.InMemoryBus
	scheduler *scheduler.Scheduler
	logger    *log.Logger
}

// newApp wires every component. interrupt runs when Ctrl-C arrives as a raw key.
func newApp(cfg *config.Config, logger *log.Logger, stdio streams, interrupt func(), consoleOpts ...console.Option) (*app, error) {
	out := console.New(stdio.out, consoleOpts...)

	listener, err := keyboard.New(stdio.in, keyboard.WithInterrupt(interrupt), keyboard.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open keyboard: %w", err)
	}

	bus := events.New(events.WithLogger(logger))
	bus.SubscribeAll(func(event events.Event) {
		logEvent(logger, event)
	})
	if cfg.Notifications {
		notify.New(notify.WithLogger(logger)).Attach(bus)
	}

	cues := audio.NewService(audio.Options{
		Player: newPlayer(cfg.Audio.Player, out, logger),
		Sounds: audio.Sounds{
			Tick:       cfg.Sounds.Tick,
			WorkAlarm:  cfg.Sounds.WorkAlarm,
			BreakAlarm: cfg.Sounds.BreakAlarm,
		},
		TickVolume:        cfg.Audio.TickVolume,
		AlarmVolume:       cfg.Audio.AlarmVolume,
		AlarmPollInterval: cfg.Audio.AlarmPollInterval,
		AlarmMaxPolls:     cfg.Audio.AlarmMaxPolls,
		Logger:            logger,
	})

	engine := timer.New(timer.Options{
		Cues:     cues,
		Keys:     listener,
		Reporter: out,
		Bus:      bus,
		Logger:   logger,
		Tracer:   otel.Tracer("pomo/timer"),
	})

	sched := scheduler.New(engine, listener, out, scheduler.Durations{
		Work:           cfg.WorkDuration,
		ShortBreak:     cfg.ShortBreak,
		LongBreak:      cfg.LongBreak,
		LongBreakEvery: cfg.LongBreakEvery,
		TickEnabled:    cfg.TickEnabled,
	}, scheduler.WithLogger(logger))

	return &app{
		console:   out,
		listener:  listener,
		cues:      cues,
		bus:       bus,
		scheduler: sched,
		logger:    logger,
	}, nil
}

// Close stops audio, restores the terminal and flushes pending events.
func (a *app) Close() error {
	var errs []error
	if err := a.cues.Close(); err != nil {
		errs = append(errs, fmt.Errorf("stop audio: %w", err))
	}
	if err := a.listener.Close(); err != nil {
		errs = append(errs, err)
	}
	a.bus.Close()
	return errors.Join(errs...)
}

func runCycle(ctx context.Context, cfg *config.Config, logger *log.Logger, stdio streams) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(cfg, logger, stdio, cancel)
	if err != nil {
		return err
	}
	logger.Info("pomodoro cycle started",
		"work", cfg.WorkDuration.String(), "short_break", cfg.ShortBreak.String(), "long_break", cfg.LongBreak.String(),
		"alarm_cap", a.cues.AlarmCap().String())

	runErr := a.scheduler.Run(ctx)
	closeErr := a.Close()
	logger.Info("pomodoro cycle stopped", "completed", a.scheduler.Counter().Completed())
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func runOnce(ctx context.Context, cfg *config.Config, logger *log.Logger, stdio streams, kind timer.Kind) (timer.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(cfg, logger, stdio, cancel)
	if err != nil {
		return timer.Result{}, err
	}
	result, runErr := a.scheduler.RunOnce(ctx, kind)
	closeErr := a.Close()
	if runErr != nil {
		return timer.Result{}, runErr
	}
	return result, closeErr
}

// newPlayer uses the configured command or the first known player on PATH. Without one every
// cue fails with a warning and the timer runs silently.
func newPlayer(configured []string, out *console.Console, logger *log.Logger) *audio.ExecPlayer {
	if len(configured) > 0 {
		return audio.NewExecPlayer(configured)
	}
	command, err := audio.DetectCommand()
	if err != nil {
		out.Warn(fmt.Errorf("%w: install ffplay, mpv or paplay, or set [audio] player in config.toml", err))
		logger.Warn("no audio player detected")
		return audio.NewExecPlayer(nil)
	}
	logger.Debug("audio player detected", "command", command[0])
	return audio.NewExecPlayer(command)
}

func logEvent(logger *log.Logger, event events.Event) {
	fields := []any{
		"type", event.Type,
		"session_id", event.SessionID,
		"kind", event.Kind,
	}
	if event.Message != "" {
		fields = append(fields, "message", event.Message)
	}
	if event.Severity == events.SeverityWarn || event.Severity == events.SeverityError {
		logger.Warn("interval event", fields...)
		return
	}
	logger.Debug("interval event", fields...)
}
