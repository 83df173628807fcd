// Package api exposes the task subsystem over a loopback-only HTTP
// control surface: submit a launch or install task, inspect a task's
// state, or cancel one. Grounded on the teacher's internal/api package
// (chi router, token + localhost auth, per-request concurrency limit),
// rewired from the teacher's monolithic TachyonEngine onto the task
// subsystem's Manager facade.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"hako-launcher/internal/config"
	"hako-launcher/internal/download"
	"hako-launcher/internal/launch"
	"hako-launcher/internal/network"
	"hako-launcher/internal/security"
	"hako-launcher/internal/task"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// ControlServer is the task subsystem's HTTP front door: submit work,
// poll a handle, cancel it. downloadClient, congestion, and scanner are
// the install pipeline's collaborators, kept here so POST
// /v1/tasks/download can build an InstallTask per request without the
// caller having to assemble one itself.
type ControlServer struct {
	manager        *task.Manager
	cfg            *config.ConfigManager
	audit          *security.AuditLogger
	downloadClient *download.Client
	congestion     *network.CongestionController
	scanner        security.Scanner
	logger         *slog.Logger
	router         *chi.Mux
	activeReqs     int64
}

func NewControlServer(manager *task.Manager, cfg *config.ConfigManager, audit *security.AuditLogger, downloadClient *download.Client, congestion *network.CongestionController, scanner security.Scanner, logger *slog.Logger) *ControlServer {
	s := &ControlServer{
		manager:        manager,
		cfg:            cfg,
		audit:          audit,
		downloadClient: downloadClient,
		congestion:     congestion,
		scanner:        scanner,
		logger:         logger,
		router:         chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *ControlServer) concurrencyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		max := int64(s.cfg.GetControlMaxConcurrent())
		if max <= 0 {
			max = 1 // Safety default
		}

		current := atomic.AddInt64(&s.activeReqs, 1)
		defer atomic.AddInt64(&s.activeReqs, -1)

		if current > max {
			s.audit.Log("127.0.0.1", r.UserAgent(), "Overloaded "+r.URL.Path, 429, "Max Concurrent Reached")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *ControlServer) Start(port int) {
	if !s.cfg.GetEnableControlServer() {
		return
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Control Server listening on %s", addr)

	go func() {
		conn, err := net.Listen("tcp", addr)
		if err != nil {
			log.Printf("Control Server failed to bind: %v", err)
			return
		}

		if err := http.Serve(conn, s.router); err != nil {
			log.Printf("Control Server failed: %v", err)
		}
	}()
}

func (s *ControlServer) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(s.securityMiddleware)
	s.router.Use(s.concurrencyLimitMiddleware)

	s.router.Post("/v1/tasks/launch", s.handleLaunch)
	s.router.Post("/v1/tasks/download", s.handleDownload)
	s.router.Get("/v1/tasks/{id}", s.handleGetTask)
	s.router.Post("/v1/tasks/{id}/cancel", s.handleCancelTask)
	s.router.Get("/v1/status", s.handleGetStatus)
}

func (s *ControlServer) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		userAgent := r.UserAgent()
		action := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		if !s.cfg.GetEnableControlServer() {
			s.audit.Log(sourceIP, userAgent, action, 503, "Feature Disabled")
			http.Error(w, "Control Server Disabled", http.StatusServiceUnavailable)
			return
		}

		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			s.audit.Log(sourceIP, userAgent, action, 403, "External Access Denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		token := r.Header.Get("X-Hako-Token")
		expectedToken := s.cfg.GetControlToken()

		if token != expectedToken {
			s.audit.Log(sourceIP, userAgent, action, 401, "Invalid Token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		s.audit.Log(sourceIP, userAgent, action, 200, "Authorized")
		next.ServeHTTP(w, r)
	})
}

// Request/Response models.

type LaunchRequest struct {
	GameDir      string   `json:"game_dir"`
	Version      string   `json:"version"`
	Username     string   `json:"username"`
	MaxMemoryMB  uint32   `json:"max_memory_mb"`
	ExtraJVMArgs []string `json:"extra_jvm_args"`
}

type DownloadRequest struct {
	GameDir    string `json:"game_dir"`
	Version    string `json:"version"`
	VersionURL string `json:"version_url"`
}

type TaskResponse struct {
	TaskID string `json:"task_id"`
}

func (s *ControlServer) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.audit.Log("127.0.0.1", r.UserAgent(), "POST /v1/tasks/launch", 400, "Bad Request JSON")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	defaults := config.DefaultGameConfig
	maxMem := defaults.MaxMemoryMB
	if req.MaxMemoryMB > 0 {
		maxMem = req.MaxMemoryMB
	}

	body := &launch.StartTask{Opts: launch.StartOptions{
		GameDir:      req.GameDir,
		Version:      req.Version,
		Username:     req.Username,
		MaxMemoryMB:  maxMem,
		ExtraJVMArgs: req.ExtraJVMArgs,
	}}

	d := task.Descriptor{
		Class:    task.ClassBlocking,
		Priority: task.PriorityNormal,
		Keys:     body.LockKeys(),
		Body:     body,
	}

	h, err := s.manager.SubmitBlocking(r.Context(), d)
	if err != nil {
		s.audit.Log("127.0.0.1", r.UserAgent(), "POST /v1/tasks/launch", 500, err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(TaskResponse{TaskID: h.ID.String()})
}

func (s *ControlServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.audit.Log("127.0.0.1", r.UserAgent(), "POST /v1/tasks/download", 400, "Bad Request JSON")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body := &launch.InstallTask{Opts: launch.InstallOptions{
		GameDir:    req.GameDir,
		Version:    req.Version,
		VersionURL: req.VersionURL,
		Client:     s.downloadClient,
		Congestion: s.congestion,
		Scanner:    s.scanner,
		Logger:     s.logger,
	}}

	d := task.Descriptor{
		Class:    task.ClassConcurrent,
		Priority: task.PriorityNormal,
		Keys:     body.LockKeys(),
		Body:     body,
	}

	h, err := s.manager.SubmitConcurrent(r.Context(), d)
	if err != nil {
		s.audit.Log("127.0.0.1", r.UserAgent(), "POST /v1/tasks/download", 500, err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(TaskResponse{TaskID: h.ID.String()})
}

func (s *ControlServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	h, ok := s.manager.Handle(id)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"task_id": id.String(),
		"state":   h.State().String(),
	})
}

func (s *ControlServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	if err := s.manager.Cancel(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *ControlServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"status": "running"}`))
}
