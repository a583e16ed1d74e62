// Package httpapi wires the Gin HTTP surface (spec.md §6) on top of the
// Identity Verifier, Instance Manager, Workspace Materializer, Run
// Coordinator, PTY Broker, and Orchestrator Adapter. Grounded on the teacher's
// handler/middleware conventions (internal/handlers, internal/middleware)
// and, for the exact request/response shapes, on
// original_source/app/main.py's endpoint bodies.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/jaewoo-rain/webide-broker/internal/auth"
	"github.com/jaewoo-rain/webide-broker/internal/instances"
	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
	"github.com/jaewoo-rain/webide-broker/internal/ptybroker"
	"github.com/jaewoo-rain/webide-broker/internal/runcoordinator"
	"github.com/jaewoo-rain/webide-broker/internal/workspace"
)

// Server holds every collaborator a handler needs. It carries no mutable
// state of its own — all state lives in the components it wraps.
type Server struct {
	verifier     *auth.Verifier
	manager      *instances.Manager
	materializer *workspace.Materializer
	coordinator  *runcoordinator.Coordinator
	broker       *ptybroker.Broker
	adapter      orchestrator.Adapter
	vncPassword  string
}

// Config bundles the Server's collaborators.
type Config struct {
	Verifier     *auth.Verifier
	Manager      *instances.Manager
	Materializer *workspace.Materializer
	Coordinator  *runcoordinator.Coordinator
	Broker       *ptybroker.Broker
	Adapter      orchestrator.Adapter
	VNCPassword  string
	CORSOrigins  []string
}

// NewRouter builds the full Gin engine: ambient middleware, then every
// route named in spec.md §6 plus SPEC_FULL.md's added GET /containers/{id}
// and GET /healthz.
func NewRouter(cfg Config) *gin.Engine {
	s := &Server{
		verifier:     cfg.Verifier,
		manager:      cfg.Manager,
		materializer: cfg.Materializer,
		coordinator:  cfg.Coordinator,
		broker:       cfg.Broker,
		adapter:      cfg.Adapter,
		vncPassword:  cfg.VNCPassword,
	}

	r := gin.New()
	r.Use(RequestID(), Recovery(), CORS(cfg.CORSOrigins))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/me", auth.RequireAuth(s.verifier), s.handleMe)

	r.GET("/ws", func(c *gin.Context) { s.broker.Handle(c, s.manager.Resolve) })

	containers := r.Group("/containers", auth.RequireAuth(s.verifier))
	{
		containers.POST("", s.handleCreateContainer)
		containers.GET("/my", s.handleListContainers)
		containers.GET("/:id", s.handleGetContainer)
		containers.GET("/:id/urls", s.handleContainerUrls)
		containers.DELETE("/:id", s.handleDeleteContainer)
		containers.PATCH("/:id", s.handleRenameContainer)
	}

	files := r.Group("/files", auth.RequireAuth(s.verifier))
	{
		files.GET("/:id", s.handleGetFiles)
		files.PATCH("/:id", s.handleRenameFile)
		files.DELETE("/:id", s.handleDeleteFile)
	}

	r.POST("/save", auth.RequireAuth(s.verifier), s.handleSave)
	r.POST("/run", auth.RequireAuth(s.verifier), s.handleRun)

	return r
}
