// Package setup installs datalinkd as a boot-time service: it copies the
// binary, writes the daemon configuration and registers the service.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/plc-datalink/rfc1006/internal/autostart"
	"github.com/plc-datalink/rfc1006/internal/config"
)

// Paths are the install locations.
type Paths struct {
	BinDir     string
	BinPath    string
	ConfigDir  string
	ConfigPath string
	DataDir    string
}

// Options holds the install flags. Empty values are prompted for unless
// Defaults is set.
type Options struct {
	StoreDriver string
	StoreURL    string
	ConfigDir   string
	Defaults    bool
}

// Installer performs an installation into Paths.
type Installer struct {
	Paths   Paths
	Manager autostart.Manager
	In      io.Reader
	Out     io.Writer
}

// Run installs the binary and a configuration derived from base, then
// registers and starts the service.
func (i *Installer) Run(version string, base *config.Config, opts Options) error {
	out := i.Out
	check := color.GreenString("✓")

	fmt.Fprintf(out, "\nPLC Datalink Setup %s\n", version)
	fmt.Fprintln(out, strings.Repeat("─", 30))

	reader := bufio.NewReader(i.In)
	cfg := *base

	var err error
	if cfg.Store.Driver, err = i.resolveValue(opts.StoreDriver, "Profile store (couchdb|sqlite)", cfg.Store.Driver, opts.Defaults, reader); err != nil {
		return err
	}
	switch cfg.Store.Driver {
	case "couchdb":
		if cfg.Store.URL, err = i.resolveValue(opts.StoreURL, "CouchDB URL", cfg.Store.URL, opts.Defaults, reader); err != nil {
			return err
		}
	case "sqlite":
		cfg.Store.SQLitePath = filepath.Join(i.Paths.DataDir, "profiles.db")
	}
	if cfg.Collector.ConfigDir, err = i.resolveValue(opts.ConfigDir, "Collector configuration directory", cfg.Collector.ConfigDir, opts.Defaults, reader); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintln(out, "\nInstalling...")

	for _, dir := range []string{i.Paths.BinDir, i.Paths.ConfigDir, i.Paths.DataDir, cfg.Collector.ConfigDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		fmt.Fprintf(out, "  %s Created %s\n", check, dir)
	}

	copied, err := copyBinary(i.Paths.BinPath)
	if err != nil {
		return fmt.Errorf("copying binary: %w", err)
	}
	if copied {
		fmt.Fprintf(out, "  %s Copied binary → %s\n", check, i.Paths.BinPath)
	} else {
		fmt.Fprintf(out, "  %s Binary already in place\n", check)
	}

	if err := config.WriteConfig(&cfg, i.Paths.ConfigPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(out, "  %s Written config → %s\n", check, i.Paths.ConfigPath)

	args := []string{"serve", "--config", i.Paths.ConfigPath}
	if err := i.Manager.Install(i.Paths.BinPath, args); err != nil {
		return fmt.Errorf("registering service: %w", err)
	}
	fmt.Fprintf(out, "  %s Registered service (%s)\n", check, i.Manager.ServiceName())

	fmt.Fprintln(out, "\nDone! datalinkd is running.")
	return nil
}

// copyBinary copies the running executable to dst. It reports false when
// the executable already is dst.
func copyBinary(dst string) (bool, error) {
	src, err := os.Executable()
	if err != nil {
		return false, err
	}
	if src, err = filepath.Abs(filepath.Clean(src)); err != nil {
		return false, err
	}
	if dst, err = filepath.Abs(filepath.Clean(dst)); err != nil {
		return false, err
	}
	if src == dst {
		return false, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return false, err
	}
	return true, out.Close()
}

// resolveValue returns flagValue if set, otherwise prompts with defaultVal
// offered. With useDefault set it never prompts.
func (i *Installer) resolveValue(flagValue, prompt, defaultVal string, useDefault bool, reader *bufio.Reader) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if useDefault {
		return defaultVal, nil
	}
	if defaultVal != "" {
		fmt.Fprintf(i.Out, "%s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(i.Out, "%s: ", prompt)
	}
	val, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(prompt), err)
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return defaultVal, nil
	}
	return val, nil
}
