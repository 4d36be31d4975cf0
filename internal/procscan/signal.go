package procscan

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrProcessGone is returned when the target process exited between being
// located and being signalled.
var ErrProcessGone = errors.New("process no longer exists")

// Signaler sends termination signals through gopsutil.
type Signaler struct{}

// Terminate asks the process to exit (SIGTERM on POSIX).
func (Signaler) Terminate(ctx context.Context, pid int32) error {
	p, err := lookup(ctx, pid)
	if err != nil {
		return err
	}
	return classify(p.TerminateWithContext(ctx))
}

// Kill forcibly stops the process.
func (Signaler) Kill(ctx context.Context, pid int32) error {
	p, err := lookup(ctx, pid)
	if err != nil {
		return err
	}
	return classify(p.KillWithContext(ctx))
}

// Alive reports whether pid is still present in the process table.
func (Signaler) Alive(ctx context.Context, pid int32) (bool, error) {
	return process.PidExistsWithContext(ctx, pid)
}

func lookup(ctx context.Context, pid int32) (*process.Process, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, ErrProcessGone
		}
		return nil, err
	}
	return p, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return ErrProcessGone
	}
	return err
}
