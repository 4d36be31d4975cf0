// Package api exposes the machine operations over HTTP with gin. Failures are
// answered with the status code of their errdefs class.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine with all routes.
func NewRouter(m Machines, corsOrigins []string, logger *zap.Logger) *gin.Engine {
	logger = logger.Named("api")
	h := NewHandler(m, logger)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), corsMiddleware(corsOrigins))

	router.GET("/health", h.Health)

	config := router.Group("/config")
	{
		config.GET("/read/all", h.ReadAllConfigs)
		config.GET("/read/one", h.ReadOneConfig)
		config.POST("/create", h.CreateConfig)
		config.PUT("/update", h.UpdateConfig)
		config.GET("/remove", h.RemoveConfig)
	}

	machine := router.Group("/machine")
	{
		machine.GET("/start", h.StartMachine)
		machine.GET("/stop", h.StopMachine)
		machine.GET("/online", h.OnlineMachines)
		machine.GET("/state", h.MachineState)
		machine.GET("/configured", h.ConfiguredMachines)
		machine.GET("/standby", h.StandbyMachines)
		machine.GET("/remove", h.RemoveMachine)
		machine.GET("/overview", h.Overview)
	}

	return router
}

// Serve runs handler on addr until ctx is cancelled, then shuts down within
// shutdownTimeout.
func Serve(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
