package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"

	"github.com/agri-rag/server/internal/agent/graph"
	"github.com/agri-rag/server/internal/core"
	logx "github.com/agri-rag/server/pkg/logger"
)

// Threads exposes persisted conversations.
type Threads interface {
	History(ctx context.Context, threadID string) ([]*schema.Message, error)
	Reset(ctx context.Context, threadID string) error
}

type Config struct {
	Addr        string
	Environment core.Environment
	// TurnTimeout bounds one chat request. Zero means no bound.
	TurnTimeout time.Duration
}

// HTTPServer serves the chat API.
type HTTPServer struct {
	router *gin.Engine
	addr   string
	server *http.Server
}

// New wires the routes. threads may be nil, which disables the thread routes.
func New(cfg Config, runner graph.Runner, threads Threads) *HTTPServer {
	gin.SetMode(cfg.Environment.GinMode())
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	h := &ChatHandler{runner: runner, threads: threads, turnTimeout: cfg.TurnTimeout}

	api := router.Group("/api/v1")
	{
		api.POST("/chat", h.Chat)
		if threads != nil {
			api.GET("/threads/:thread_id/messages", h.History)
			api.DELETE("/threads/:thread_id", h.Reset)
		}
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &HTTPServer{router: router, addr: cfg.Addr}
}

// Handler returns the routed engine.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", s.addr).Msg("HTTP server starting")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logx.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(shutdownCtx)
}
