// Package server implements the development server: it serves the built
// site, pushes live reload messages over a websocket and shows an error
// overlay while the last rebuild is failing.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bep/debounce"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
	"github.com/kohki-shikata/psbg-boilerplate/internal/metrics"
	"github.com/kohki-shikata/psbg-boilerplate/internal/version"
)

// Endpoints served next to the site.
const (
	WebSocketPath = "/__psbg/ws"
	HealthPath    = "/__psbg/health"
	MetricsPath   = "/metrics"
)

// DefaultReloadDelay coalesces bursts of reload requests.
const DefaultReloadDelay = 100 * time.Millisecond

// Options configures a Server.
type Options struct {
	Addr        string
	Root        string
	ReloadDelay time.Duration
	Logger      logging.Logger
	Recorder    *metrics.PrometheusRecorder
}

// Server is the live reloading development server.
type Server struct {
	opts     Options
	logger   logging.Logger
	hub      *Hub
	debounce func(f func())
	started  time.Time

	mutex       sync.RWMutex
	failures    map[string]error
	pendingFull bool
}

// New creates a Server. Start runs it.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("server")
	if opts.ReloadDelay <= 0 {
		opts.ReloadDelay = DefaultReloadDelay
	}

	return &Server{
		opts:     opts,
		logger:   logger,
		hub:      NewHub(logger),
		debounce: debounce.New(opts.ReloadDelay),
		started:  time.Now(),
		failures: make(map[string]error),
	}
}

// Hub returns the live reload hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler serving the site and the internal
// endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(WebSocketPath, s.hub)
	mux.HandleFunc(HealthPath, s.handleHealth)
	if s.opts.Recorder != nil {
		mux.Handle(MetricsPath, s.opts.Recorder.Handler())
	}
	mux.Handle("/", s.staticHandler())
	return Chain(mux, RecoveryMiddleware(s.logger), LoggingMiddleware(s.logger))
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return perrors.NewNetworkError(perrors.ErrCodeServerFailed, "failed to listen on "+s.opts.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.logger.Info(ctx, "Serving", "url", "http://"+listener.Addr().String(), "root", s.opts.Root)

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return perrors.NewNetworkError(perrors.ErrCodeServerFailed, "server stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Close websockets first so Shutdown is not held open by them.
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, err, "Graceful shutdown failed")
		return perrors.NewNetworkError(perrors.ErrCodeServerFailed, "shutdown failed", err)
	}
	s.logger.Info(shutdownCtx, "Server stopped")
	return nil
}

// Reload asks every browser to reload the page. Calls close together
// collapse into one message.
func (s *Server) Reload() {
	s.queue(true)
}

// CSSUpdate asks every browser to refresh its stylesheets in place. A
// full reload queued in the same window wins.
func (s *Server) CSSUpdate() {
	s.queue(false)
}

func (s *Server) queue(full bool) {
	s.mutex.Lock()
	s.pendingFull = s.pendingFull || full
	s.mutex.Unlock()
	s.debounce(s.flushReload)
}

func (s *Server) flushReload() {
	s.mutex.Lock()
	full := s.pendingFull
	s.pendingFull = false
	s.mutex.Unlock()

	msgType := MessageCSSUpdate
	if full {
		msgType = MessageFullReload
	}
	s.opts.Recorder.IncReloads()
	s.hub.Broadcast(UpdateMessage{Type: msgType})
}

// buildStage keys failures that carry no stage name.
const buildStage = "build"

// SetBuildResult records the outcome of a full build, replacing every
// previously recorded failure.
func (s *Server) SetBuildResult(err error) {
	s.mutex.Lock()
	s.failures = perrors.ByStage(err, buildStage)
	current := s.currentError()
	s.mutex.Unlock()

	s.broadcastFailure(current)
}

// SetStageResults records the outcome of a rebuild that ran stages. Only
// the entries of those stages change, so a failure elsewhere stays shown
// until its own stage passes. While any stage is failing every page shows
// the overlay.
func (s *Server) SetStageResults(stages []string, err error) {
	s.mutex.Lock()
	for _, stage := range stages {
		delete(s.failures, stage)
	}
	delete(s.failures, buildStage)
	for stage, stageErr := range perrors.ByStage(err, buildStage) {
		s.failures[stage] = stageErr
	}
	current := s.currentError()
	s.mutex.Unlock()

	s.broadcastFailure(current)
}

func (s *Server) broadcastFailure(err error) {
	if err == nil {
		return
	}
	s.hub.Broadcast(UpdateMessage{
		Type:    MessageBuildError,
		Stages:  failedStages(err),
		Content: err.Error(),
	})
}

// LastError returns the failures of every stage that is still failing,
// or nil when the site is up to date.
func (s *Server) LastError() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.currentError()
}

func (s *Server) currentError() error {
	collector := perrors.NewStageCollector(buildStage)
	for stage, err := range s.failures {
		collector.Add(stage, err)
	}
	return collector.Err()
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	Uptime       string   `json:"uptime"`
	Clients      int      `json:"clients"`
	FailedStages []string `json:"failed_stages,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:  "healthy",
		Version: version.GetVersion(),
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
		Clients: s.hub.ClientCount(),
	}
	if err := s.LastError(); err != nil {
		status.Status = "degraded"
		status.FailedStages = failedStages(err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		http.Error(w, "failed to encode health status", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

// failedStages names the stages behind err, or "build" when err carries
// no stage information.
func failedStages(err error) []string {
	var se *perrors.StageError
	if stderrors.As(err, &se) {
		return se.FailedStages()
	}
	var e *perrors.Error
	if stderrors.As(err, &e) && e.Stage != "" {
		return []string{e.Stage}
	}
	return []string{buildStage}
}
