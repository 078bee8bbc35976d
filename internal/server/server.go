// Package server wires the HTTP surface: one route group per provider
// prefix, plugin routers, and the models listing.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ccproxy-dev/ccproxy/internal/config"
	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/plugin"
	"github.com/ccproxy-dev/ccproxy/internal/proxy"
)

// Server hosts the proxy's HTTP endpoints.
type Server struct {
	settings   *config.Settings
	engine     *gin.Engine
	dispatcher *proxy.Dispatcher
	registry   *plugin.Registry
	httpServer *http.Server
}

// New assembles the gin engine and mounts all provider routes.
func New(settings *config.Settings, dispatcher *proxy.Dispatcher, registry *plugin.Registry) *Server {
	if settings.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(CORS(settings.CORSOrigins))
	engine.Use(ClientAuth(settings.ClientAuthEnabled, settings.JWTSecret))

	s := &Server{
		settings:   settings,
		engine:     engine,
		dispatcher: dispatcher,
		registry:   registry,
	}
	s.mountRoutes()
	return s
}

// Engine exposes the router, used by tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) mountRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for prefix, provider := range s.registry.Providers() {
		s.mountProvider(s.engine.Group(prefix), provider)
	}

	for _, runtime := range s.registry.Runtimes() {
		for _, router := range runtime.Routers {
			router.Register(s.engine.Group(router.Prefix))
		}
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound,
			format.NewErrorResponse(format.ErrNotFound, fmt.Sprintf("no route for %s", c.Request.URL.Path)))
	})
}

func (s *Server) mountProvider(group *gin.RouterGroup, provider plugin.Provider) {
	group.POST("/v1/messages", func(c *gin.Context) {
		s.dispatcher.Handle(c, provider, "/v1/messages", format.Anthropic)
	})
	group.POST("/v1/chat/completions", func(c *gin.Context) {
		s.dispatcher.Handle(c, provider, "/v1/chat/completions", format.Chat)
	})
	group.POST("/v1/responses", func(c *gin.Context) {
		s.dispatcher.Handle(c, provider, "/v1/responses", format.Responses)
	})
	group.GET("/v1/models", func(c *gin.Context) {
		cards := provider.Models()
		if cards == nil {
			cards = []plugin.ModelCard{}
		}
		c.JSON(http.StatusOK, gin.H{"object": "list", "data": cards})
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.settings.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", s.settings.Addr()).Info("Proxy server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logrus.Info("Shutting down proxy server")
	return s.httpServer.Shutdown(shutdownCtx)
}
