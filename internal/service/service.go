//go:build windows

// Package service runs the daemon under the Windows Service Control Manager.
// From a terminal it runs in the foreground.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

const serviceName = "PLCDatalink"

// stopTimeout bounds how long the SCM waits for the daemon to drain.
const stopTimeout = 10 * time.Second

// DaemonService adapts the daemon's run function to svc.Handler.
type DaemonService struct {
	logger *zap.Logger
	run    func(ctx context.Context) error
}

// New wraps run. run must return once its context is cancelled.
func New(logger *zap.Logger, run func(ctx context.Context) error) *DaemonService {
	return &DaemonService{logger: logger.Named("service"), run: run}
}

// IsWindowsService reports whether the process was started by the SCM.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Run enters the SCM control loop when started as a service and otherwise
// calls run directly.
func (s *DaemonService) Run(ctx context.Context) error {
	if !IsWindowsService() {
		return s.run(ctx)
	}
	return svc.Run(serviceName, s)
}

// Execute implements svc.Handler.
func (s *DaemonService) Execute(_ []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	s.logger.Info("Windows service started")

	for {
		select {
		case err := <-done:
			if err != nil {
				s.logger.Error("Daemon exited", zap.Error(err))
				return true, 1
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				s.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-done:
				case <-time.After(stopTimeout):
					s.logger.Warn("Daemon did not stop in time")
				}
				return false, 0
			default:
				s.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
