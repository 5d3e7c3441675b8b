// Package api wires the REST and WebSocket surface onto the Orchestrator.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maumercado/task-queue-go/internal/api/handlers"
	"github.com/maumercado/task-queue-go/internal/api/websocket"
	"github.com/maumercado/task-queue-go/internal/config"
	"github.com/maumercado/task-queue-go/internal/orchestrator"
	"github.com/maumercado/task-queue-go/internal/workflow"
)

// Server is the HTTP(S) front door onto the orchestration engine.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	taskHandler     *handlers.TaskHandler
	instanceHandler *handlers.InstanceHandler
	workflowHandler *handlers.WorkflowHandler
	wsHub           *websocket.Hub
	wsHandler       *websocket.Handler
}

// NewServer builds a Server bound to the given Orchestrator and WorkflowExecutor.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, exec *workflow.Executor) *Server {
	wsHub := websocket.NewHub(orch.Bus())

	s := &Server{
		router:          chi.NewRouter(),
		cfg:             cfg,
		taskHandler:     handlers.NewTaskHandler(orch),
		instanceHandler: handlers.NewInstanceHandler(orch),
		workflowHandler: handlers.NewWorkflowHandler(exec),
		wsHub:           wsHub,
		wsHandler:       websocket.NewHandler(wsHub),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.instanceHandler.Health)
	s.router.Get("/status", s.instanceHandler.Status)

	s.router.Route("/instances", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/spawn", s.instanceHandler.Spawn)
		r.Get("/", s.instanceHandler.List)
		r.Get("/{id}", s.instanceHandler.Get)
		r.Delete("/{id}", s.instanceHandler.Terminate)
		r.Post("/scale", s.instanceHandler.Scale)
	})

	s.router.Route("/tasks", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/", s.taskHandler.Create)
		r.Post("/batch", s.taskHandler.CreateBatch)
		r.Get("/", s.taskHandler.List)
		r.Get("/{taskID}", s.taskHandler.Get)
		r.Delete("/{taskID}", s.taskHandler.Cancel)
	})

	s.router.Route("/workflows", func(r chi.Router) {
		r.Post("/execute", s.workflowHandler.Execute)
	})

	s.router.Get("/ws/stream", s.wsHandler.ServeWS)

	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub.
func (s *Server) Start(ctx context.Context) {
	s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
