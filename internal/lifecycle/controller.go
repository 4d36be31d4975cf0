// Package lifecycle starts, restarts and stops the per-machine collector
// processes. It keeps no state of its own: whether a machine is running is
// re-derived from the process table on every call, and the configuration file
// on disk is the only durable artifact it writes.
//
// The controller does not serialize calls for the same machine; callers that
// need that guarantee hold a per-machine lock around it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
	"github.com/plc-datalink/rfc1006/internal/procscan"
	"github.com/plc-datalink/rfc1006/internal/render"
)

// ConfigFiles materializes and removes per-machine configuration files.
type ConfigFiles interface {
	ConfigPath(machine string) string
	Write(p models.MachineProfile) (string, error)
	Remove(machine string) error
}

// Finder locates the collector process that uses a configuration path.
type Finder interface {
	Find(ctx context.Context, configPath string) (models.ProcessHandle, bool, error)
}

// Signaler delivers termination signals. Implementations return
// procscan.ErrProcessGone when the process has already exited.
type Signaler interface {
	Terminate(ctx context.Context, pid int32) error
	Kill(ctx context.Context, pid int32) error
	Alive(ctx context.Context, pid int32) (bool, error)
}

// Launcher spawns a collector for a configuration path and returns its PID.
type Launcher interface {
	Launch(ctx context.Context, configPath string) (int32, error)
}

// Options tunes termination and resume behaviour.
type Options struct {
	// StopGrace, when positive, makes termination wait up to this long for the
	// process to exit and then kill it. Zero sends the signal and moves on.
	StopGrace time.Duration

	// PollInterval is how often exit is checked during StopGrace.
	PollInterval time.Duration

	// ResumeStagger spaces out spawns in Resume.
	ResumeStagger time.Duration
}

// StartResult describes a completed start.
type StartResult struct {
	Machine     string `json:"machine_name"`
	ConfigPath  string `json:"config_path"`
	PID         int32  `json:"pid"`
	Replaced    bool   `json:"replaced"`
	ReplacedPID int32  `json:"replaced_pid,omitempty"`
}

// StopOutcome distinguishes a real stop from a no-op.
type StopOutcome int

const (
	// Stopped means a collector was signalled and its configuration removed.
	Stopped StopOutcome = iota + 1
	// NothingToStop means no collector was running for the machine.
	NothingToStop
)

func (o StopOutcome) String() string {
	switch o {
	case Stopped:
		return "stopped"
	case NothingToStop:
		return "nothing_to_stop"
	default:
		return "unknown"
	}
}

// StopResult describes a completed stop.
type StopResult struct {
	Machine string
	Outcome StopOutcome
	PID     int32
}

// Controller orchestrates config rendering, process lookup and process control.
type Controller struct {
	configs  ConfigFiles
	finder   Finder
	signals  Signaler
	launcher Launcher
	opts     Options
	logger   *zap.Logger
}

// New creates a Controller.
func New(configs ConfigFiles, finder Finder, signals Signaler, launcher Launcher, opts Options, logger *zap.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Controller{
		configs:  configs,
		finder:   finder,
		signals:  signals,
		launcher: launcher,
		opts:     opts,
		logger:   logger.Named("lifecycle"),
	}
}

// Start (re)writes the machine's configuration, terminates any collector
// already running with it and spawns a new one. Starting a running machine is
// a restart, not an error. Success only means the spawn call succeeded; PLC
// connectivity shows up later in the collector log.
func (c *Controller) Start(ctx context.Context, p models.MachineProfile) (StartResult, error) {
	if err := p.Validate(); err != nil {
		return StartResult{}, err
	}

	path, err := c.configs.Write(p)
	if err != nil {
		return StartResult{}, err
	}
	res := StartResult{Machine: p.Name(), ConfigPath: path}
	log := c.logger.With(zap.String("machine", p.Name()), zap.String("config", path))

	prior, found, err := c.finder.Find(ctx, path)
	if err != nil {
		return res, apperr.ProcessControl("locate collector", err)
	}
	if found {
		log.Info("Collector already running, restarting", zap.Int32("pid", prior.PID))
		if err := c.terminate(ctx, prior.PID); err != nil {
			return res, err
		}
		res.Replaced = true
		res.ReplacedPID = prior.PID
	}

	pid, err := c.launcher.Launch(ctx, path)
	if err != nil {
		log.Error("Failed to start collector", zap.Error(err))
		return res, apperr.ProcessControl("spawn collector", err)
	}
	res.PID = pid
	log.Info("Started collector", zap.Int32("pid", pid))
	return res, nil
}

// Stop terminates the machine's collector and removes its configuration file.
// With no collector running it does nothing and reports NothingToStop.
func (c *Controller) Stop(ctx context.Context, machine string) (StopResult, error) {
	if err := models.ValidateMachineName(machine); err != nil {
		return StopResult{}, err
	}

	path := c.configs.ConfigPath(machine)
	log := c.logger.With(zap.String("machine", machine), zap.String("config", path))

	h, found, err := c.finder.Find(ctx, path)
	if err != nil {
		return StopResult{}, apperr.ProcessControl("locate collector", err)
	}
	if !found {
		log.Info("No active collector, nothing to stop")
		return StopResult{Machine: machine, Outcome: NothingToStop}, nil
	}

	log.Info("Stopping collector", zap.Int32("pid", h.PID))
	if err := c.terminate(ctx, h.PID); err != nil {
		return StopResult{}, err
	}
	if err := c.configs.Remove(machine); err != nil {
		return StopResult{}, err
	}
	return StopResult{Machine: machine, Outcome: Stopped, PID: h.PID}, nil
}

// Resume relaunches collectors from configuration files already on disk,
// replacing stale instances. Files that no longer parse are skipped.
// Spawns are spaced by ResumeStagger.
func (c *Controller) Resume(ctx context.Context, machines []string) ([]StartResult, error) {
	if len(machines) == 0 {
		c.logger.Warn("No configuration files found, nothing to resume")
		return nil, nil
	}

	var (
		results []StartResult
		errs    []error
	)
	for i, machine := range machines {
		if i > 0 && c.opts.ResumeStagger > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.opts.ResumeStagger):
			}
		}

		path := c.configs.ConfigPath(machine)
		if _, err := render.Inspect(path); err != nil {
			c.logger.Warn("Skipping unreadable configuration",
				zap.String("machine", machine),
				zap.Error(err))
			continue
		}

		res, err := c.relaunch(ctx, machine, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", machine, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (c *Controller) relaunch(ctx context.Context, machine, path string) (StartResult, error) {
	res := StartResult{Machine: machine, ConfigPath: path}

	prior, found, err := c.finder.Find(ctx, path)
	if err != nil {
		return res, apperr.ProcessControl("locate collector", err)
	}
	if found {
		if err := c.terminate(ctx, prior.PID); err != nil {
			return res, err
		}
		res.Replaced = true
		res.ReplacedPID = prior.PID
	}

	pid, err := c.launcher.Launch(ctx, path)
	if err != nil {
		return res, apperr.ProcessControl("spawn collector", err)
	}
	res.PID = pid
	c.logger.Info("Resumed collector",
		zap.String("machine", machine),
		zap.Int32("pid", pid))
	return res, nil
}

// terminate signals pid. A process that already exited counts as stopped.
func (c *Controller) terminate(ctx context.Context, pid int32) error {
	err := c.signals.Terminate(ctx, pid)
	if errors.Is(err, procscan.ErrProcessGone) {
		c.logger.Warn("Collector process no longer exists", zap.Int32("pid", pid))
		return nil
	}
	if err != nil {
		return apperr.ProcessControl("terminate collector", err)
	}
	c.logger.Info("Terminated collector", zap.Int32("pid", pid))

	if c.opts.StopGrace <= 0 {
		return nil
	}
	return c.awaitExit(ctx, pid)
}

// awaitExit polls until pid exits, killing it once StopGrace has elapsed.
func (c *Controller) awaitExit(ctx context.Context, pid int32) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(c.opts.StopGrace)
	defer timer.Stop()

	for {
		alive, err := c.signals.Alive(ctx, pid)
		if err == nil && !alive {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			c.logger.Warn("Collector did not exit in time, killing",
				zap.Int32("pid", pid),
				zap.Duration("grace", c.opts.StopGrace))
			err := c.signals.Kill(ctx, pid)
			if err != nil && !errors.Is(err, procscan.ErrProcessGone) {
				return apperr.ProcessControl("kill collector", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}
