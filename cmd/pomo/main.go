package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomatoworks/pomo/internal/config"
	"github.com/tomatoworks/pomo/internal/doctor"
	"github.com/tomatoworks/pomo/internal/logging"
	"github.com/tomatoworks/pomo/internal/telemetry"
	"github.com/tomatoworks/pomo/internal/timer"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runID := uuid.NewString()
	logger, err := logging.New(ctx, logging.WithRunID(runID), logging.WithLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint: cfg.OTELEndpoint,
		Fallback: logger.Logger.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel}).Writer(),
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdown()

	cmd := newRootCommand(cfg, logger.Logger, streams{in: os.Stdin, out: os.Stdout})
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

type streams struct {
	in  io.Reader
	out io.Writer
}

type overrides struct {
	noTick   bool
	noNotify bool
}

func newRootCommand(cfg *config.Config, logger *log.Logger, stdio streams) *cobra.Command {
	var flags overrides

	root := &cobra.Command{
		Use:           "pomo",
		Short:         "Console pomodoro timer",
		Long:          "Cycles between work and break intervals with a ticking clock and an alarm.\nPress p to pause or resume and s to skip while a timer runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCycle(cmd.Context(), cfg, logger, stdio)
		},
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	pflags := root.PersistentFlags()
	if cfg != nil {
		pflags.DurationVar(&cfg.WorkDuration, "work", cfg.WorkDuration, "work interval length")
		pflags.DurationVar(&cfg.ShortBreak, "short-break", cfg.ShortBreak, "short break length")
		pflags.DurationVar(&cfg.LongBreak, "long-break", cfg.LongBreak, "long break length")
	}
	pflags.BoolVar(&flags.noTick, "no-tick", false, "do not play the ticking sound")
	pflags.BoolVar(&flags.noNotify, "no-notify", false, "do not raise desktop notifications")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		if flags.noTick {
			cfg.TickEnabled = false
		}
		if flags.noNotify {
			cfg.Notifications = false
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	root.AddCommand(
		newOnceCommand(cfg, logger, stdio),
		newConfigCommand(cfg),
		newDoctorCommand(cfg),
		newBugreportCommand(cfg, logger),
	)
	return root
}

func newOnceCommand(cfg *config.Config, logger *log.Logger, stdio streams) *cobra.Command {
	return &cobra.Command{
		Use:       "once <work|short|long>",
		Short:     "Run a single interval and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"work", "short", "long"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := timer.ParseKind(args[0])
			if err != nil {
				return err
			}
			result, err := runOnce(cmd.Context(), cfg, logger, stdio, kind)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(stdio.out, "%s interval %s.\n", kind, result.Outcome)
			return err
		},
	}
}

func newConfigCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			if err := encoder.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return encoder.Close()
		},
	}
}

func newDoctorCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check sounds, audio player and log directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := doctor.Run(cmd.Context(), cfg)
			out := cmd.OutOrStdout()
			for _, check := range report.Checks {
				if _, err := fmt.Fprintf(out, "%-4s  %-17s %s\n", check.Status, check.Name, check.Detail); err != nil {
					return fmt.Errorf("write doctor report: %w", err)
				}
			}
			if !report.Healthy() {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
}
