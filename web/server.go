// Package web serves the single-page research UI and its JSON API.
package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/effective-security/biomcp/hub"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/store"
	"github.com/effective-security/xlog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/biomcp", "web")

//go:embed static
var staticFS embed.FS

// Server hosts the UI and routes API calls into the hub and the agent.
type Server struct {
	registry *hub.Registry
	model    llms.Model
	store    store.MessageStoreManager
}

// New creates the web server over a registry, an LLM and a chat store.
func New(registry *hub.Registry, model llms.Model, chatStore store.MessageStoreManager) *Server {
	return &Server{
		registry: registry,
		model:    model,
		store:    chatStore,
	}
}

// Handler builds the gin engine with all routes.
func (s *Server) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), accessLog())

	static, _ := fs.Sub(staticFS, "static")
	router.StaticFS("/ui", http.FS(static))
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/ui/")
	})

	api := router.Group("/api/v1")
	{
		api.GET("/servers", s.listServers)
		api.POST("/servers/:name/connect", s.connectServer)
		api.POST("/servers/:name/disconnect", s.disconnectServer)
		api.GET("/tools", s.listTools)
		api.POST("/tools/call", s.callTool)
		api.POST("/query", s.query)
		api.POST("/chat", s.chat)
		api.GET("/chats", s.listChats)
		api.GET("/chats/:id", s.getChat)
	}
	return router
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.KV(xlog.INFO, "status", "listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// accessLog logs every request with a generated request ID.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-Id", requestID)
		started := time.Now()

		c.Next()

		logger.KV(xlog.INFO,
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(started).Round(time.Millisecond).String(),
		)
	}
}
