package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"nsocal/internal/config"
	appLog "nsocal/internal/log"
	"nsocal/internal/pipeline"
)

const calendarContentType = "text/calendar; charset=utf-8"

// Server exposes the generated calendars and the outcome of the most recent
// harvest over HTTP.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	statusMu sync.RWMutex
	status   statusResponse
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Running   bool             `json:"running"`
	Runs      int              `json:"runs"`
	LastError string           `json:"last_error,omitempty"`
	LastRunAt *time.Time       `json:"last_run_at,omitempty"`
	Report    *pipeline.Report `json:"report,omitempty"`
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// RunStarted marks a harvest as in progress.
func (s *Server) RunStarted() {
	s.statusMu.Lock()
	s.status.Running = true
	s.statusMu.Unlock()
}

// RunFinished records the result of a harvest. A failed run keeps the
// previous report, since the calendars on disk are still the ones it wrote.
func (s *Server) RunFinished(report *pipeline.Report, err error) {
	now := time.Now().UTC()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Running = false
	s.status.Runs++
	s.status.LastRunAt = &now
	if err != nil {
		s.status.LastError = err.Error()
		return
	}
	s.status.LastError = ""
	s.status.Report = report
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="nsocal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/calendars", s.handleCalendars)
	s.mux.HandleFunc("GET /calendars/{file}", s.handleCalendarFile)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.statusMu.RLock()
	resp := s.status
	s.statusMu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

// calendarDTO describes one published calendar for /api/calendars.
type calendarDTO struct {
	Name      string   `json:"name"`
	File      string   `json:"file"`
	URL       string   `json:"url"`
	Audiences []string `json:"audiences,omitempty"`
}

func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	out := make([]calendarDTO, 0, len(s.cfg.Partitions))
	for _, p := range s.cfg.Partitions {
		out = append(out, calendarDTO{
			Name:      p.Name,
			File:      p.File,
			URL:       "/calendars/" + p.File,
			Audiences: p.Audiences,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCalendarFile serves a generated calendar. Only files named by a
// configured partition are reachable.
func (s *Server) handleCalendarFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if !s.isPublished(name) {
		writeError(w, http.StatusNotFound, "unknown calendar")
		return
	}
	// ServeFile keeps a Content-Type that is already set.
	w.Header().Set("Content-Type", calendarContentType)
	http.ServeFile(w, r, filepath.Join(s.cfg.OutputDir, name))
}

func (s *Server) isPublished(name string) bool {
	for _, p := range s.cfg.Partitions {
		if p.File == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
