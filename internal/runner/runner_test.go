package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"homecheck/internal/browser"
	"homecheck/internal/config"
	"homecheck/internal/verify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPage struct{ balance string }

func (p stubPage) Goto(context.Context, string) error { return nil }

func (p stubPage) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	if p.balance == "" {
		return &timeoutErr{}
	}
	return nil
}

func (p stubPage) InnerText(context.Context, string) (string, error) { return p.balance, nil }
func (p stubPage) IsVisible(context.Context, string) (bool, error)  { return true, nil }

func (p stubPage) Screenshot(_ context.Context, path string) error {
	return os.WriteFile(path, []byte("png"), 0o644)
}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "waiting for selector: timeout" }
func (*timeoutErr) Unwrap() error { return browser.ErrTimeout }

type stubSession struct{ page stubPage }

func (s stubSession) NewPage(context.Context) (browser.Page, error) { return s.page, nil }
func (s stubSession) Close() error                                  { return nil }

type stubLauncher struct{ balance string }

func (l stubLauncher) Launch(context.Context, browser.LaunchOptions) (browser.Session, error) {
	return stubSession{page: stubPage{balance: l.balance}}, nil
}

func TestRunRecorded(t *testing.T) {
	ws := t.TempDir()
	var out bytes.Buffer

	res, err := Run(context.Background(), Options{
		Config:    config.Default(),
		Record:    true,
		Workspace: ws,
		Out:       &out,
		Launcher:  stubLauncher{balance: "$12.00"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	assert.Equal(t, verify.OutcomePassed, res.Manifest.Outcome)
	assert.Equal(t, "$12.00", res.Manifest.Balance)
	assert.Equal(t, "verification_home.png", res.Manifest.Screenshot)
	assert.FileExists(t, filepath.Join(res.RunDir, "artifacts", "verification_home.png"))
	assert.Contains(t, out.String(), "Balance: $12.00")

	loaded, err := LoadManifest(ManifestPath(ws, res.RunID))
	require.NoError(t, err)
	assert.Equal(t, res.Manifest.RunID, loaded.RunID)
	assert.Equal(t, verify.OutcomePassed, loaded.Outcome)

	f, err := os.Open(LogPath(ws, res.RunID))
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var msgs []string
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		assert.Equal(t, res.RunID, line["run_id"])
		msgs = append(msgs, line["msg"].(string))
	}
	assert.Equal(t, "run started", msgs[0])
	assert.Equal(t, "run finished", msgs[len(msgs)-1])
}

func TestRunRecordedTimeout(t *testing.T) {
	ws := t.TempDir()

	res, err := Run(context.Background(), Options{
		Config:    config.Default(),
		Record:    true,
		Workspace: ws,
		Launcher:  stubLauncher{},
	})
	require.NoError(t, err)
	assert.Equal(t, verify.OutcomeElementTimeout, res.Manifest.Outcome)
	assert.Equal(t, "verification_error.png", res.Manifest.Screenshot)

	strict := config.Default()
	strict.FailOnTimeout = true
	assert.Equal(t, 0, ExitCode(config.Default(), res.Report.Outcome, err))
	assert.Equal(t, 1, ExitCode(strict, res.Report.Outcome, err))
}

func TestRunRecordedCanceled(t *testing.T) {
	ws := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, Options{
		Config:    config.Default(),
		Record:    true,
		Workspace: ws,
		Launcher:  stubLauncher{balance: "$1"},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotEmpty(t, res.RunID, "a failed run is still recorded")
	assert.Equal(t, verify.OutcomeCanceled, res.Manifest.Outcome)
	assert.NotEmpty(t, res.Manifest.Error)
	assert.Equal(t, 1, ExitCode(config.Default(), res.Report.Outcome, err))

	loaded, err := LoadManifest(ManifestPath(ws, res.RunID))
	require.NoError(t, err)
	assert.Equal(t, verify.OutcomeCanceled, loaded.Outcome)
}

func TestRunUnrecordedUsesOutputDir(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()

	res, err := Run(context.Background(), Options{Config: cfg, Launcher: stubLauncher{balance: "$1"}})
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "verification_home.png"))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.WaitTimeout = 0
	_, err := Run(context.Background(), Options{Config: cfg, Launcher: stubLauncher{}})
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestFindRuns(t *testing.T) {
	ws := t.TempDir()

	ids, err := FindRuns(ws)
	require.NoError(t, err)
	assert.Empty(t, ids)

	var want []string
	for i := 0; i < 3; i++ {
		res, err := Run(context.Background(), Options{
			Config:    config.Default(),
			Record:    true,
			Workspace: ws,
			Launcher:  stubLauncher{balance: "$1"},
		})
		require.NoError(t, err)
		want = append(want, res.RunID)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "runs", "not-a-run"), 0o755))

	ids, err = FindRuns(ws)
	require.NoError(t, err)
	assert.Equal(t, want, ids, "oldest first")
}
