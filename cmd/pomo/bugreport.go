package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tomatoworks/pomo/internal/audio"
	"github.com/tomatoworks/pomo/internal/config"
	"github.com/tomatoworks/pomo/internal/doctor"
)

const (
	bugreportLogLimit = 3
	redactedValue     = "***REDACTED***"
)

var (
	bugreportNowFn = func() time.Time {
		return time.Now().UTC()
	}
	bugreportHomeDirFn = os.UserHomeDir
	bugreportGetwdFn   = os.Getwd
	bugreportRunCmdFn  = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).CombinedOutput()
	}
	bugreportDoctorFn = func(ctx context.Context, cfg *config.Config) doctor.Report {
		return doctor.Run(ctx, cfg)
	}
)

func newBugreportCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "bugreport",
		Short: "Collect a diagnostic bundle for debugging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if logger != nil {
				logger.With("command", "bugreport").Info("collecting diagnostic bundle")
			}
			return runBugReport(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func runBugReport(ctx context.Context, cfg *config.Config, out io.Writer) error {
	homeDir, err := bugreportHomeDirFn()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	homeDir = filepath.Clean(homeDir)
	if strings.TrimSpace(homeDir) == "" || homeDir == "." {
		return fmt.Errorf("home directory is not valid")
	}

	cwd, err := bugreportGetwdFn()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	cwd = filepath.Clean(cwd)

	timestamp := bugreportNowFn().Format("20060102-150405")
	bundlePath := filepath.Join(cwd, fmt.Sprintf(".pomo-bugreport-%s.tar.gz", timestamp))

	stagingDir, err := os.MkdirTemp("", "pomo-bugreport-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()

	summary, err := collectBugreportArtifacts(ctx, cfg, homeDir, cwd, stagingDir)
	if err != nil {
		return err
	}
	if err := writeBugreportREADME(stagingDir, summary); err != nil {
		return err
	}
	if err := archiveBugreport(stagingDir, bundlePath); err != nil {
		return err
	}

	if out == nil {
		out = os.Stdout
	}
	if _, err := fmt.Fprintf(out, "Bug report written to: %s. Share for debugging.\n", bundlePath); err != nil {
		return fmt.Errorf("write bugreport output: %w", err)
	}
	return nil
}

type bugreportSummary struct {
	Timestamp string
	Version   string
	LogFiles  []string
	RunID     string
	SessionID string
	Healthy   bool
	Warnings  []string
}

func collectBugreportArtifacts(
	ctx context.Context,
	cfg *config.Config,
	homeDir string,
	cwd string,
	stagingDir string,
) (bugreportSummary, error) {
	summary := bugreportSummary{
		Timestamp: bugreportNowFn().Format(time.RFC3339),
		Version:   Version,
		Warnings:  make([]string, 0),
	}

	logFiles, warnings := copyRecentLogs(homeDir, stagingDir, bugreportLogLimit)
	summary.LogFiles = logFiles
	summary.Warnings = append(summary.Warnings, warnings...)

	summary.RunID, summary.SessionID = extractLastCorrelation(logFiles)
	if summary.RunID == "" {
		summary.Warnings = append(summary.Warnings, "no run_id found in copied logs")
	}

	if err := writeLastRunFile(stagingDir, summary.RunID, summary.SessionID); err != nil {
		return bugreportSummary{}, err
	}
	if err := writeVersionFile(stagingDir, summary.Version); err != nil {
		return bugreportSummary{}, err
	}
	configs := []struct {
		source string
		target string
	}{
		{source: filepath.Join(homeDir, config.DirName, "config.toml"), target: "config.home.toml"},
		{source: filepath.Join(cwd, config.DirName, "config.toml"), target: "config.project.toml"},
	}
	for _, c := range configs {
		if err := copyRedactedConfig(c.source, filepath.Join(stagingDir, c.target), &summary); err != nil {
			return bugreportSummary{}, err
		}
	}
	healthy, err := writeDoctorReport(ctx, cfg, stagingDir)
	if err != nil {
		return bugreportSummary{}, err
	}
	summary.Healthy = healthy
	if err := writePlayerVersion(ctx, cfg, stagingDir); err != nil {
		return bugreportSummary{}, err
	}

	return summary, nil
}

func copyRecentLogs(homeDir string, stagingDir string, limit int) ([]string, []string) {
	logsDir := filepath.Join(homeDir, config.DirName, "logs")
	files, err := newestFiles(logsDir, limit)
	if err != nil {
		return nil, []string{fmt.Sprintf("unable to read logs directory: %v", err)}
	}

	destDir := filepath.Join(stagingDir, "logs")
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, []string{fmt.Sprintf("unable to create logs staging directory: %v", err)}
	}

	warnings := make([]string, 0)
	copiedPaths := make([]string, 0, len(files))
	for _, file := range files {
		// #nosec G304 -- source path comes from deterministic ~/.pomo/logs enumeration.
		data, readErr := os.ReadFile(file.path)
		if readErr != nil {
			warnings = append(warnings, fmt.Sprintf("unable to read log %s: %v", file.path, readErr))
			continue
		}
		dstPath := filepath.Join(destDir, filepath.Base(file.path))
		if writeErr := os.WriteFile(dstPath, data, 0o600); writeErr != nil {
			warnings = append(warnings, fmt.Sprintf("unable to stage log %s: %v", file.path, writeErr))
			continue
		}
		copiedPaths = append(copiedPaths, file.path)
	}
	return copiedPaths, warnings
}

// extractLastCorrelation returns the run_id and session_id of the newest record carrying a
// run_id. Logs are ordered newest first.
func extractLastCorrelation(logPaths []string) (string, string) {
	for _, logPath := range logPaths {
		// #nosec G304 -- log paths are selected from deterministic ~/.pomo/logs files.
		data, err := os.ReadFile(logPath)
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				continue
			}
			record := map[string]any{}
			if err := json.Unmarshal([]byte(line), &record); err != nil {
				continue
			}
			runID := asString(record["run_id"])
			if runID == "" {
				continue
			}
			return runID, asString(record["session_id"])
		}
	}
	return "", ""
}

func writeLastRunFile(stagingDir, runID, sessionID string) error {
	content := fmt.Sprintf("run_id: %s\nsession_id: %s\n", runID, sessionID)
	path := filepath.Join(stagingDir, "last-run.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write last-run.txt: %w", err)
	}
	return nil
}

func writeVersionFile(stagingDir, version string) error {
	content := fmt.Sprintf("pomo version: %s\n", strings.TrimSpace(version))
	path := filepath.Join(stagingDir, "version.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write version.txt: %w", err)
	}
	return nil
}

func copyRedactedConfig(source, target string, summary *bugreportSummary) error {
	// #nosec G304 -- config paths are deterministic under ~/.pomo and ./.pomo.
	configData, err := os.ReadFile(source)
	if err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("unable to read config: %v", err))
		configData = []byte("# config unavailable\n")
	}
	if err := os.WriteFile(target, []byte(redactSensitiveConfig(string(configData))), 0o600); err != nil {
		return fmt.Errorf("write redacted config: %w", err)
	}
	return nil
}

// redactSensitiveConfig masks credential-looking keys and any URL userinfo, which is how an
// OTLP endpoint usually carries a token.
func redactSensitiveConfig(configText string) string {
	lines := strings.Split(configText, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		switch {
		case isSensitiveToken(key):
			lines[i] = parts[0] + "= \"" + redactedValue + "\""
		case strings.Contains(parts[1], "@") && strings.Contains(parts[1], "://"):
			lines[i] = parts[0] + "=" + redactUserinfo(parts[1])
		}
	}
	return strings.Join(lines, "\n")
}

func redactUserinfo(value string) string {
	scheme := strings.Index(value, "://")
	at := strings.LastIndex(value, "@")
	if scheme < 0 || at < scheme {
		return value
	}
	return value[:scheme+3] + redactedValue + value[at:]
}

func isSensitiveToken(value string) bool {
	for _, marker := range []string{"token", "secret", "password", "passwd", "api_key", "apikey", "auth", "credential", "header"} {
		if strings.Contains(value, marker) {
			return true
		}
	}
	return false
}

func writeDoctorReport(ctx context.Context, cfg *config.Config, stagingDir string) (bool, error) {
	report := bugreportDoctorFn(ctx, cfg)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode doctor report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "doctor.json"), append(data, '\n'), 0o600); err != nil {
		return false, fmt.Errorf("write doctor.json: %w", err)
	}
	return report.Healthy(), nil
}

// writePlayerVersion records the first line of the player's -version output. Every known
// player accepts that flag except afplay, whose output is just usage text.
func writePlayerVersion(ctx context.Context, cfg *config.Config, stagingDir string) error {
	var command []string
	if cfg != nil && len(cfg.Audio.Player) > 0 {
		command = cfg.Audio.Player
	} else if detected, err := audio.DetectCommand(); err == nil {
		command = detected
	}

	content := "no audio player found\n"
	if len(command) > 0 {
		output := runCommandForBugreport(ctx, command[0], "-version")
		firstLine, _, _ := strings.Cut(output, "\n")
		content = fmt.Sprintf("command: %s\nversion: %s\n", strings.Join(command, " "), firstLine)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "player.txt"), []byte(content), 0o600); err != nil {
		return fmt.Errorf("write player.txt: %w", err)
	}
	return nil
}

func runCommandForBugreport(ctx context.Context, name string, args ...string) string {
	output, err := bugreportRunCmdFn(ctx, name, args...)
	text := strings.TrimSpace(string(output))
	if err == nil {
		return text
	}
	if text == "" {
		return fmt.Sprintf("error: %v", err)
	}
	return text + "\nerror: " + err.Error()
}

func writeBugreportREADME(stagingDir string, summary bugreportSummary) error {
	health := "healthy"
	if !summary.Healthy {
		health = "problems found"
	}

	builder := strings.Builder{}
	builder.WriteString("pomo Bug Report\n")
	builder.WriteString("===============\n\n")
	builder.WriteString(fmt.Sprintf("Generated: %s\n", summary.Timestamp))
	builder.WriteString(fmt.Sprintf("Version: %s\n", summary.Version))
	builder.WriteString(fmt.Sprintf("run_id: %s\n", summary.RunID))
	builder.WriteString(fmt.Sprintf("session_id: %s\n", summary.SessionID))
	builder.WriteString(fmt.Sprintf("doctor: %s\n\n", health))
	builder.WriteString("Included artifacts:\n")
	builder.WriteString("- logs/ (up to last 3 log files)\n")
	builder.WriteString("- config.home.toml and config.project.toml (redacted)\n")
	builder.WriteString("- doctor.json\n")
	builder.WriteString("- player.txt\n")
	builder.WriteString("- version.txt\n")
	builder.WriteString("- last-run.txt\n\n")
	builder.WriteString("Usage:\n")
	builder.WriteString("- Share this archive with maintainers for debugging.\n")
	builder.WriteString("- Use run_id and session_id to find the interval in the logs.\n")
	if len(summary.Warnings) > 0 {
		builder.WriteString("\nWarnings:\n")
		for _, warning := range summary.Warnings {
			builder.WriteString("- " + warning + "\n")
		}
	}

	if err := os.WriteFile(filepath.Join(stagingDir, "README.txt"), []byte(builder.String()), 0o600); err != nil {
		return fmt.Errorf("write README.txt: %w", err)
	}
	return nil
}

func archiveBugreport(stagingDir, destination string) (err error) {
	// #nosec G304 -- destination is generated in current working directory with deterministic file name.
	archiveFile, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", destination, err)
	}
	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)
	defer func() {
		for _, closer := range []io.Closer{tarWriter, gzipWriter, archiveFile} {
			if closeErr := closer.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("finalize archive %s: %w", destination, closeErr)
			}
		}
	}()

	walkErr := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return addToArchive(tarWriter, stagingDir, path, d)
	})
	if walkErr != nil {
		return fmt.Errorf("archive bugreport: %w", walkErr)
	}
	return nil
}

func addToArchive(tarWriter *tar.Writer, stagingDir, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("read file info for %s: %w", path, err)
	}
	relPath, err := filepath.Rel(stagingDir, path)
	if err != nil {
		return fmt.Errorf("compute archive path for %s: %w", path, err)
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("create tar header for %s: %w", path, err)
	}
	header.Name = filepath.ToSlash(relPath)
	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %s: %w", path, err)
	}

	// #nosec G304 -- walk paths originate from controlled staging directory.
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s for archive: %w", path, err)
	}
	defer func() { _ = file.Close() }()
	if _, err := io.Copy(tarWriter, file); err != nil {
		return fmt.Errorf("copy %s into archive: %w", path, err)
	}
	return nil
}

type datedFile struct {
	path    string
	modTime time.Time
}

func newestFiles(dir string, limit int) ([]datedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]datedFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, datedFile{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func asString(value any) string {
	typed, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(typed)
}
