//go:build !windows

// Package service runs the daemon in the foreground on platforms without a
// service control manager; systemd or a container runtime supervises it.
package service

import (
	"context"

	"go.uber.org/zap"
)

// DaemonService calls the daemon's run function directly.
type DaemonService struct {
	logger *zap.Logger
	run    func(ctx context.Context) error
}

// New wraps run.
func New(logger *zap.Logger, run func(ctx context.Context) error) *DaemonService {
	return &DaemonService{logger: logger.Named("service"), run: run}
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

// Run calls run with ctx.
func (s *DaemonService) Run(ctx context.Context) error {
	return s.run(ctx)
}
