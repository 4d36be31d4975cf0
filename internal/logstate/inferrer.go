// Package logstate infers whether a collector is talking to its PLC from the
// tail of the collector's log file.
package logstate

import (
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
)

// DefaultTailLines is the log window inspected per query.
const DefaultTailLines = 50

// timestampWidth is the fixed-width timestamp prefix of every collector line.
const timestampWidth = 19

// Inferrer reads machine logs from the collector directory.
type Inferrer struct {
	dir    string
	lines  int
	logger *zap.Logger
}

// New creates an Inferrer for <dir>/<machine>.log. A non-positive lines uses
// DefaultTailLines.
func New(dir string, lines int, logger *zap.Logger) *Inferrer {
	if lines <= 0 {
		lines = DefaultTailLines
	}
	return &Inferrer{dir: dir, lines: lines, logger: logger.Named("logstate")}
}

// LogPath returns the log file path for a machine.
func (i *Inferrer) LogPath(machine string) string {
	return filepath.Join(i.dir, machine+".log")
}

// Infer returns the connection state of machine. A machine without a log is
// inactive with no timestamps.
func (i *Inferrer) Infer(machine string) (models.ConnectionState, error) {
	if err := models.ValidateMachineName(machine); err != nil {
		return models.ConnectionState{}, err
	}

	path := i.LogPath(machine)
	lines, err := TailLines(path, i.lines)
	if errors.Is(err, os.ErrNotExist) {
		i.logger.Debug("No log file", zap.String("machine", machine))
		return models.ConnectionState{}, nil
	}
	if err != nil {
		i.logger.Error("Failed to read log", zap.String("path", path), zap.Error(err))
		return models.ConnectionState{}, apperr.IO("read log", err)
	}
	return Resolve(lines), nil
}

// Resolve derives the connection state from a window of log lines in file
// order.
//
// Lines are visited newest first and every matching line overwrites the
// recorded timestamp, so the oldest matching line in the window is the one
// that sticks. Timestamps are compared as strings.
func Resolve(lines []string) models.ConnectionState {
	var lastConnect, lastDisconnect models.Timestamp
	for idx := len(lines) - 1; idx >= 0; idx-- {
		line := lines[idx]
		connect, disconnect := Classify(line)
		if !connect && !disconnect {
			continue
		}
		ts := models.Timestamp(timestamp(line))
		if connect {
			lastConnect = ts
		}
		if disconnect {
			lastDisconnect = ts
		}
	}

	st := models.ConnectionState{LastConnect: lastConnect, LastDisconnect: lastDisconnect}
	switch {
	case lastDisconnect != "" && (lastConnect == "" || lastConnect < lastDisconnect):
		st.Active = false
	case lastConnect != "":
		st.Active = true
	}
	if st.Active {
		st.LastUpdate = lastConnect
	} else {
		st.LastUpdate = lastDisconnect
	}
	return st
}

func timestamp(line string) string {
	if len(line) < timestampWidth {
		return line
	}
	return line[:timestampWidth]
}
