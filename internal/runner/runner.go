package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"homecheck/internal/browser"
	"homecheck/internal/config"
	"homecheck/internal/verify"

	"github.com/oklog/ulid/v2"
)

// Options configure a run.
type Options struct {
	Config config.Config
	// Record keeps a run directory with manifest, log and screenshots under
	// Workspace/runs/<id>. Without it screenshots land in Config.OutputDir.
	Record    bool
	Workspace string // base path; defaults to cwd
	// Out receives the console status lines.
	Out io.Writer
	// Logger receives diagnostics for unrecorded runs.
	Logger *slog.Logger
	// Launcher overrides the engine named by Config.Engine.
	Launcher browser.Launcher
}

// Result contains the check report and, for recorded runs, artifact paths.
type Result struct {
	RunID    string
	RunDir   string
	Manifest Manifest
	LogPath  string
	Report   verify.Report
}

// Manifest is persisted to run.json.
type Manifest struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	TargetURL     string         `json:"target_url"`
	Engine        string         `json:"engine"`
	Outcome       verify.Outcome `json:"outcome"`
	Balance       string         `json:"balance,omitempty"`
	WidgetVisible bool           `json:"widget_visible"`
	Screenshot    string         `json:"screenshot,omitempty"`
	Error         string         `json:"error,omitempty"`
	LogPath       string         `json:"log_path,omitempty"`
}

// Run validates the configuration and executes one check. The returned
// error is the check's *verify.StepError, if any; the Result is filled in
// either way.
func Run(ctx context.Context, opts Options) (Result, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	launcher := opts.Launcher
	if launcher == nil {
		var err error
		if launcher, err = browser.New(cfg.Engine); err != nil {
			return Result{}, err
		}
	}
	if !opts.Record {
		rep, err := verify.New(cfg, launcher, opts.Out, opts.Logger).Run(ctx)
		return Result{Report: rep, Manifest: manifestFor("", cfg, rep)}, err
	}

	if opts.Workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Result{}, err
		}
		opts.Workspace = cwd
	}

	runID := ulid.Make().String()
	runDir := filepath.Join(opts.Workspace, "runs", runID)
	artifactsDir := filepath.Join(runDir, "artifacts")
	logsDir := filepath.Join(runDir, "logs")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return Result{}, err
	}

	logPath := filepath.Join(logsDir, "runner.ndjson")
	logFile, err := os.Create(logPath)
	if err != nil {
		return Result{}, err
	}
	defer logFile.Close()
	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With(slog.String("run_id", runID))

	cfg.OutputDir = artifactsDir
	logger.Info("run started", "url", cfg.URL, "engine", cfg.Engine)
	rep, runErr := verify.New(cfg, launcher, opts.Out, logger).Run(ctx)

	manifest := manifestFor(runID, cfg, rep)
	manifest.LogPath = logPath
	if err := writeManifest(filepath.Join(runDir, "run.json"), manifest); err != nil {
		logger.Warn("write manifest failed", "error", err)
		runErr = errors.Join(runErr, err)
	}
	logger.Info("run finished", "outcome", rep.Outcome, "duration", rep.Duration())

	return Result{
		RunID:    runID,
		RunDir:   runDir,
		Manifest: manifest,
		LogPath:  logPath,
		Report:   rep,
	}, runErr
}

func manifestFor(runID string, cfg config.Config, rep verify.Report) Manifest {
	m := Manifest{
		RunID:         runID,
		StartedAt:     rep.StartedAt,
		FinishedAt:    rep.FinishedAt,
		TargetURL:     cfg.URL,
		Engine:        cfg.Engine,
		Outcome:       rep.Outcome,
		Balance:       rep.Balance,
		WidgetVisible: rep.WidgetVisible,
		Error:         rep.Error,
	}
	if rep.Screenshot != "" {
		m.Screenshot = filepath.Base(rep.Screenshot)
	}
	return m
}

func writeManifest(path string, manifest Manifest) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

// LoadManifest reads a manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}

// FindRuns returns run ids under workspace/runs, oldest first.
func FindRuns(workspace string) ([]string, error) {
	runsDir := filepath.Join(workspace, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := ulid.ParseStrict(e.Name()); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// ManifestPath is where a run's manifest lives.
func ManifestPath(workspace, runID string) string {
	return filepath.Join(workspace, "runs", runID, "run.json")
}

// LogPath is where a run's NDJSON log lives.
func LogPath(workspace, runID string) string {
	return filepath.Join(workspace, "runs", runID, "logs", "runner.ndjson")
}
