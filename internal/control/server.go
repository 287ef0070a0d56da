// Package control implements an optional loopback-only HTTP control plane
// over a running Scheduler, grounded on the teacher's chi-based
// ControlServer (internal/api/server.go) but simplified: there is no
// multi-tenant AI-interface/token-auth concept here, only a single local
// batch, so only the localhost enforcement is carried forward.
package control

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ytdle/internal/history"
)

// Batch is the subset of *scheduler.Scheduler the control plane needs.
// Defined as an interface here (rather than importing the scheduler
// package) to avoid a dependency cycle with internal/scheduler, which
// may itself host the control server.
type Batch interface {
	Cancel()
	Pause()
	Resume()
	SkipCurrent()
	IsPaused() bool
}

// Server is the loopback control plane.
type Server struct {
	batch   Batch
	history *history.Store
	router  *chi.Mux
}

func New(batch Batch, hist *history.Store) *Server {
	s := &Server{batch: batch, history: hist, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.localhostOnly)

	s.router.Get("/v1/status", s.handleStatus)
	s.router.Post("/v1/pause", s.handleControl("pause"))
	s.router.Post("/v1/resume", s.handleControl("resume"))
	s.router.Post("/v1/cancel", s.handleControl("cancel"))
	s.router.Post("/v1/skip", s.handleControl("skip"))
	s.router.Get("/v1/history", s.handleHistory)
}

// localhostOnly enforces loopback access (mirrors ControlServer's
// securityMiddleware, minus the token-auth layer).
func (s *Server) localhostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, _ := net.SplitHostPort(r.RemoteAddr)
		if host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start binds to 127.0.0.1:port in the background.
func (s *Server) Start(port int) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	go func() {
		conn, err := net.Listen("tcp", addr)
		if err != nil {
			log.Printf("control server failed to bind %s: %v", addr, err)
			return
		}
		if err := http.Serve(conn, s.router); err != nil {
			log.Printf("control server stopped: %v", err)
		}
	}()
}

func (s *Server) handleControl(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch action {
		case "pause":
			s.batch.Pause()
		case "resume":
			s.batch.Resume()
		case "cancel":
			s.batch.Cancel()
		case "skip":
			s.batch.SkipCurrent()
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"paused": s.batch.IsPaused()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.GetAll(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}
