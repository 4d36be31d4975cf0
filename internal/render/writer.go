package render

import (
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
)

// Writer materializes rendered configurations in the shared collector directory.
type Writer struct {
	dir    string
	ext    string
	logger *zap.Logger
}

// NewWriter creates a Writer for configuration files named <machine><ext> in dir.
// The collector logs are expected in the same directory.
func NewWriter(dir, ext string, logger *zap.Logger) *Writer {
	return &Writer{
		dir:    dir,
		ext:    ext,
		logger: logger.Named("render"),
	}
}

// ConfigPath returns the configuration file path for a machine.
func (w *Writer) ConfigPath(machine string) string {
	return filepath.Join(w.dir, machine+w.ext)
}

// Write renders p and replaces the machine's configuration file with the result.
// A profile that fails validation leaves the filesystem untouched.
func (w *Writer) Write(p models.MachineProfile) (string, error) {
	text, err := Render(p, Options{LogDir: w.dir})
	if err != nil {
		return "", err
	}

	path := w.ConfigPath(p.Name())
	if _, err := os.Stat(path); err == nil {
		w.logger.Warn("Configuration file already exists, reconfiguring",
			zap.String("path", path))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", apperr.IO("remove previous configuration", err)
		}
	}

	if err := writeFileSynced(w.dir, path, []byte(text)); err != nil {
		w.logger.Error("Failed to write configuration file",
			zap.String("path", path),
			zap.Error(err))
		return "", apperr.IO("write configuration", err)
	}

	w.logger.Info("Configuration written",
		zap.String("machine", p.Name()),
		zap.String("path", path),
		zap.Int("tags", len(p.Tags)))
	return path, nil
}

// Remove deletes the machine's configuration file. A missing file is not an error.
func (w *Writer) Remove(machine string) error {
	path := w.ConfigPath(machine)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.logger.Info("Configuration file not found", zap.String("path", path))
			return nil
		}
		return apperr.IO("remove configuration", err)
	}
	w.logger.Warn("Configuration file removed", zap.String("path", path))
	return nil
}

// writeFileSynced writes data to a temp file next to path, flushes it and
// renames it into place. The temp file is removed on any failure.
func writeFileSynced(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Not supported on every
// platform, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
