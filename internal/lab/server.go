// Package lab serves recorded runs over HTTP and triggers new ones.
package lab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"homecheck/internal/browser"
	"homecheck/internal/config"
	"homecheck/internal/runner"
	"homecheck/internal/verify"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Server exposes the run workspace.
type Server struct {
	workspace string
	base      config.Config
	launcher  browser.Launcher
	logger    *slog.Logger
	// hosts a POSTed url may point at; always includes the base URL's host
	allowedHosts map[string]bool

	// one browser at a time
	runMu sync.Mutex

	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
}

// Option customises a Server.
type Option func(*Server)

// WithLauncher replaces the engine selected by the run config.
func WithLauncher(l browser.Launcher) Option {
	return func(s *Server) { s.launcher = l }
}

// WithAllowedHosts lets POSTed runs target these hosts (host or host:port)
// in addition to the base URL's host.
func WithAllowedHosts(hosts ...string) Option {
	return func(s *Server) {
		for _, h := range hosts {
			s.allowedHosts[strings.ToLower(h)] = true
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer serves runs under workspace; base is the config POSTed runs
// start from.
func NewServer(workspace string, base config.Config, opts ...Option) *Server {
	s := &Server{
		workspace:    workspace,
		base:         base,
		logger:       slog.New(slog.DiscardHandler),
		allowedHosts: map[string]bool{},
		registry:     prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homecheck",
			Name:      "runs_total",
			Help:      "Checks run by the lab server, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homecheck",
			Name:      "run_duration_seconds",
			Help:      "Wall time of checks run by the lab server.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
	if u, err := url.Parse(base.URL); err == nil && u.Host != "" {
		s.allowedHosts[strings.ToLower(u.Host)] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry.MustRegister(s.runs, s.duration)
	for _, o := range verify.Outcomes {
		s.runs.WithLabelValues(string(o))
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/runs", s.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.createRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/logs", s.getRunLogs).Methods(http.MethodGet)

	// static files for artifacts
	runsDir := filepath.Join(s.workspace, "runs")
	r.PathPrefix("/runs/").Handler(http.StripPrefix("/runs/", http.FileServer(http.Dir(runsDir))))

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("lab serve listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

// runRequest overrides fields of the base config for one run.
type runRequest struct {
	URL      string `json:"url"`
	Engine   string `json:"engine"`
	Headless *bool  `json:"headless"`
	// TimeoutMS is the balance wait in milliseconds.
	TimeoutMS int64 `json:"timeout_ms"`
}

func (req runRequest) apply(cfg config.Config) (config.Config, error) {
	if req.URL != "" {
		cfg.URL = req.URL
	}
	if req.Engine != "" {
		cfg.Engine = req.Engine
	}
	if req.Headless != nil {
		cfg.Headless = *req.Headless
	}
	if req.TimeoutMS != 0 {
		d, err := config.MillisTimeout(req.TimeoutMS)
		if err != nil {
			return cfg, fmt.Errorf("%w: timeout_ms: %v", config.ErrInvalid, err)
		}
		cfg.WaitTimeout = d
	}
	return cfg, nil
}

// checkTarget keeps runs triggered over HTTP on http(s) pages of allowed
// hosts. Screenshots are served back to any origin, so a file:// or
// arbitrary-host target would leak whatever the browser can render.
func (s *Server) checkTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: url: %v", config.ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url %q must be http or https", config.ErrInvalid, target)
	}
	if !s.allowedHosts[strings.ToLower(u.Host)] {
		return fmt.Errorf("%w: host %q is not allowed", config.ErrInvalid, u.Host)
	}
	return nil
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := req.apply(s.base)
	if err == nil {
		err = s.checkTarget(cfg.URL)
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.runMu.Lock()
	res, err := runner.Run(r.Context(), runner.Options{
		Config:    cfg,
		Record:    true,
		Workspace: s.workspace,
		Launcher:  s.launcher,
	})
	s.runMu.Unlock()

	if res.RunID == "" {
		// nothing was recorded
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.runs.WithLabelValues(string(res.Manifest.Outcome)).Inc()
	s.duration.Observe(res.Report.Duration().Seconds())
	if err != nil {
		s.logger.Warn("run failed", "run_id", res.RunID, "outcome", res.Manifest.Outcome, "error", err)
	}
	writeJSON(w, http.StatusOK, s.public(res.Manifest))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := runner.FindRuns(s.workspace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"runs": ids})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	manifest, err := runner.LoadManifest(runner.ManifestPath(s.workspace, runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.public(manifest))
}

func (s *Server) getRunLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	path := runner.LogPath(s.workspace, runID)
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	http.ServeFile(w, r, path)
}

// runID rejects anything that is not a ULID, which also keeps ids from
// escaping the workspace.
func (s *Server) runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if _, err := ulid.ParseStrict(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return "", false
	}
	return id, true
}

// public rewrites filesystem paths into URLs served by Handler.
func (s *Server) public(m runner.Manifest) runner.Manifest {
	if m.Screenshot != "" {
		m.Screenshot = "/runs/" + m.RunID + "/artifacts/" + m.Screenshot
	}
	m.LogPath = "/v1/runs/" + m.RunID + "/logs"
	return m
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
