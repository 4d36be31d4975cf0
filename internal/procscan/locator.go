// Package procscan locates running collector processes in the OS process
// table. A collector belongs to a machine when the machine's configuration
// file path appears among its arguments; no PID file is kept, so every query
// re-reads the live process table. Uses gopsutil for cross-platform listing.
package procscan

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/models"
)

const configFlag = "--config"

// Proc is a process table entry reduced to what matching needs.
type Proc struct {
	PID     int32
	Cmdline []string
}

// ListFunc enumerates the process table.
type ListFunc func(ctx context.Context) ([]Proc, error)

// Locator matches processes of one collector binary.
type Locator struct {
	binary string
	list   ListFunc
	logger *zap.Logger
}

// New creates a Locator for processes whose executable name contains binary.
func New(binary string, logger *zap.Logger) *Locator {
	return NewWithLister(binary, ListProcesses, logger)
}

// NewWithLister creates a Locator over a custom process source.
func NewWithLister(binary string, list ListFunc, logger *zap.Logger) *Locator {
	return &Locator{
		binary: filepath.Base(binary),
		list:   list,
		logger: logger.Named("procscan"),
	}
}

// ListProcesses reads the process table through gopsutil. Processes that exit
// or deny access while being inspected are skipped rather than failing the
// whole enumeration.
func ListProcesses(ctx context.Context) ([]Proc, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Proc, 0, len(procs))
	for _, p := range procs {
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(args) == 0 {
			continue
		}
		out = append(out, Proc{PID: p.Pid, Cmdline: args})
	}
	return out, nil
}

// Find returns the first collector process whose arguments reference configPath.
func (l *Locator) Find(ctx context.Context, configPath string) (models.ProcessHandle, bool, error) {
	procs, err := l.list(ctx)
	if err != nil {
		return models.ProcessHandle{}, false, err
	}

	want := filepath.Clean(configPath)
	for _, p := range procs {
		if !l.isCollector(p.Cmdline) {
			continue
		}
		for _, arg := range p.Cmdline[1:] {
			if pathArg(arg) == want {
				l.logger.Debug("Found collector process",
					zap.String("config", want),
					zap.Int32("pid", p.PID))
				return models.ProcessHandle{MachineName: machineFromPath(want), PID: p.PID}, true, nil
			}
		}
	}
	return models.ProcessHandle{}, false, nil
}

// ListAll returns one handle per collector process started with --config.
// The machine name is the config file's base name without extension.
func (l *Locator) ListAll(ctx context.Context) ([]models.ProcessHandle, error) {
	procs, err := l.list(ctx)
	if err != nil {
		return nil, err
	}

	var handles []models.ProcessHandle
	for _, p := range procs {
		if !l.isCollector(p.Cmdline) {
			continue
		}
		path, ok := configArg(p.Cmdline[1:])
		if !ok {
			continue
		}
		handles = append(handles, models.ProcessHandle{
			MachineName: machineFromPath(path),
			PID:         p.PID,
		})
	}
	return handles, nil
}

func (l *Locator) isCollector(cmdline []string) bool {
	if len(cmdline) == 0 {
		return false
	}
	return strings.Contains(filepath.Base(cmdline[0]), l.binary)
}

// configArg extracts the value of --config from args, in either the
// "--config path" or "--config=path" form.
func configArg(args []string) (string, bool) {
	for i, arg := range args {
		if arg == configFlag && i+1 < len(args) {
			return args[i+1], true
		}
		if v, ok := strings.CutPrefix(arg, configFlag+"="); ok {
			return v, true
		}
	}
	return "", false
}

// pathArg normalizes an argument for comparison against a config path.
func pathArg(arg string) string {
	if v, ok := strings.CutPrefix(arg, configFlag+"="); ok {
		arg = v
	}
	return filepath.Clean(arg)
}

func machineFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
