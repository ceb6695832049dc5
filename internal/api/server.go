// Package api serves a read-only JSON view of lineups, the queue, running
// drafts and the leaderboard.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/matchmaking"
)

// Server holds the services the API reads from.
type Server struct {
	db    *gorm.DB
	stack *matchmaking.Stack
	log   *zap.Logger
}

// Opts holds parameters for creating a Server.
type Opts struct {
	DB    *gorm.DB
	Stack *matchmaking.Stack
	Log   *zap.Logger
}

// New creates a Server.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("api: db is required")
	}
	if opts.Stack == nil {
		return nil, fmt.Errorf("api: stack is required")
	}
	return &Server{db: opts.DB, stack: opts.Stack, log: logging.OrNop(opts.Log).Named("api")}, nil
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())
	registerRoutes(router, s)
	return router
}

// Run serves the API on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	if port <= 0 {
		port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("status API listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
