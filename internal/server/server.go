package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/api/routes"
	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/metrics"
	"github.com/vigilguard/vigil/internal/services"
)

// Server wraps the HTTP engine, the service registry and the periodic
// scheduler for easier testing.
type Server struct {
	Engine   *gin.Engine
	Registry *services.Registry
	cfg      config.Config
}

// New wires up the HTTP router, the service graph and the metrics registry.
func New(db *gorm.DB, cfg config.Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "development" {
		gin.SetMode(gin.DebugMode)
	}

	registry := services.NewRegistry(cfg, db)

	promRegistry := prometheus.NewRegistry()
	metrics.Register(promRegistry)

	router := gin.New()
	routes.Register(router, registry, cfg, promRegistry)

	return &Server{Engine: router, Registry: registry, cfg: cfg}, nil
}

// Run starts the periodic sweeps and the HTTP server with proper shutdown
// semantics.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Registry.Sweep.Start(); err != nil {
		return fmt.Errorf("start sweeps: %w", err)
	}
	defer s.Registry.Sweep.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler: s.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
