package lifecycle

import (
	"context"
	"os/exec"

	"go.uber.org/zap"
)

// ExecLauncher spawns the collector binary as a detached child process.
type ExecLauncher struct {
	binary    string
	watchMode string
	logger    *zap.Logger
}

// NewExecLauncher creates a launcher for binary. A non-empty watchMode
// ("notify" or "poll") makes the collector reload its configuration file on
// change.
func NewExecLauncher(binary, watchMode string, logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{
		binary:    binary,
		watchMode: watchMode,
		logger:    logger.Named("launcher"),
	}
}

// Args returns the collector arguments for a configuration path.
func (l *ExecLauncher) Args(configPath string) []string {
	args := []string{"--config", configPath}
	if l.watchMode != "" {
		args = append(args, "--watch-config", l.watchMode)
	}
	return args
}

// Launch starts the collector and returns its PID. The child is not bound to
// ctx: it must outlive the request that started it. The collector writes its
// own log file, so stdio is discarded.
func (l *ExecLauncher) Launch(_ context.Context, configPath string) (int32, error) {
	cmd := exec.Command(l.binary, l.Args(configPath)...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	pid := int32(cmd.Process.Pid)
	go l.reap(cmd, pid)
	return pid, nil
}

// reap waits for the child so it does not linger as a zombie.
func (l *ExecLauncher) reap(cmd *exec.Cmd, pid int32) {
	err := cmd.Wait()
	if err == nil {
		l.logger.Info("Collector exited", zap.Int32("pid", pid))
		return
	}
	l.logger.Warn("Collector exited with error", zap.Int32("pid", pid), zap.Error(err))
}
