// Package catalog enumerates machines from the artifacts in the collector
// directory and from the process table. The three views may disagree; the
// divergence is reported, never reconciled here.
package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
)

// LogExt is the extension of collector log files.
const LogExt = ".log"

// ProcessLister enumerates running collectors.
type ProcessLister interface {
	ListAll(ctx context.Context) ([]models.ProcessHandle, error)
}

// Catalog answers "which machines exist" questions.
type Catalog struct {
	dir       string
	configExt string
	procs     ProcessLister
	logger    *zap.Logger
}

// New creates a Catalog over dir, where configuration files end in configExt.
func New(dir, configExt string, procs ProcessLister, logger *zap.Logger) *Catalog {
	return &Catalog{
		dir:       dir,
		configExt: configExt,
		procs:     procs,
		logger:    logger.Named("catalog"),
	}
}

// Dir returns the collector directory.
func (c *Catalog) Dir() string { return c.dir }

// Configured lists machines that have a configuration file.
func (c *Catalog) Configured() ([]string, error) {
	return c.basenames(c.configExt)
}

// Logged lists machines that have a collector log, running or not.
func (c *Catalog) Logged() ([]string, error) {
	return c.basenames(LogExt)
}

// Active lists running collectors.
func (c *Catalog) Active(ctx context.Context) ([]models.ProcessHandle, error) {
	handles, err := c.procs.ListAll(ctx)
	if err != nil {
		return nil, apperr.ProcessControl("list collectors", err)
	}
	slices.SortFunc(handles, func(a, b models.ProcessHandle) int {
		return strings.Compare(a.MachineName, b.MachineName)
	})
	return handles, nil
}

// IsActive reports whether a collector is running for machine.
func (c *Catalog) IsActive(ctx context.Context, machine string) (bool, error) {
	handles, err := c.Active(ctx)
	if err != nil {
		return false, err
	}
	for _, h := range handles {
		if h.MachineName == machine {
			return true, nil
		}
	}
	return false, nil
}

// LogPath returns the log file path for machine.
func (c *Catalog) LogPath(machine string) string {
	return filepath.Join(c.dir, machine+LogExt)
}

// RemoveLog deletes the machine's log file. A missing log is not an error.
// Callers must check that the machine is not running first.
func (c *Catalog) RemoveLog(machine string) error {
	if err := models.ValidateMachineName(machine); err != nil {
		return err
	}
	path := c.LogPath(machine)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Info("Log file not found", zap.String("path", path))
			return nil
		}
		return apperr.IO("remove log", err)
	}
	c.logger.Warn("Log file removed", zap.String("path", path))
	return nil
}

func (c *Catalog) basenames(ext string) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Collector directory does not exist", zap.String("dir", c.dir))
		return []string{}, nil
	}
	if err != nil {
		return nil, apperr.IO("list collector directory", err)
	}

	names := []string{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ext); ok && name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
