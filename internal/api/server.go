package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"freshtrack-relay-go/internal/api/handlers"
	"freshtrack-relay-go/internal/config"
	"freshtrack-relay-go/internal/services"
)

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	healthHandler *handlers.HealthHandler
	streamHandler *handlers.StreamHandler
	wsHandler     *handlers.WSHandler
	systemHandler *handlers.SystemHandler
}

func NewServer(cfg *config.Config, sc *services.ServiceContainer) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	return &Server{
		config:        cfg,
		router:        router,
		healthHandler: handlers.NewHealthHandler(cfg.RelayID, sc.Messaging, sc.Analyzer),
		streamHandler: handlers.NewStreamHandler(sc.StreamManager),
		wsHandler:     handlers.NewWSHandler(sc.StreamManager, sc.Hub),
		systemHandler: handlers.NewSystemHandler(sc.Stats),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	return nil
}

func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) GetServer() *http.Server {
	return s.server
}
