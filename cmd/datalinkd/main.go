// Command datalinkd manages one telegraf collector per PLC machine: it renders
// their configuration, starts and stops them, and reports connection state
// from their logs over an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/plc-datalink/rfc1006/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

type globalFlags struct {
	configPath  string
	envFile     string
	configDir   string
	storeDriver string
	httpAddr    string
	logLevel    string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var gf globalFlags

	cmd := &cobra.Command{
		Use:           "datalinkd",
		Short:         "PLC collector lifecycle manager",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, &gf)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&gf.configPath, "config", "", "Path to configuration file (default: search standard locations)")
	pf.StringVar(&gf.envFile, "env-file", ".env", "Environment file loaded before configuration")
	pf.StringVar(&gf.configDir, "config-dir", "", "Collector configuration directory")
	pf.StringVar(&gf.storeDriver, "store", "", "Profile store driver (couchdb|sqlite)")
	pf.StringVar(&gf.httpAddr, "addr", "", "HTTP listen address")
	pf.StringVar(&gf.logLevel, "log-level", "", "Log level (debug|info|warn|error)")

	cmd.AddCommand(
		serveCmd(&gf),
		renderCmd(&gf),
		stateCmd(&gf),
		machinesCmd(&gf),
		stopCmd(&gf),
		installCmd(&gf),
		uninstallCmd(),
	)
	return cmd
}

// load resolves the layered configuration for any subcommand.
func (gf *globalFlags) load() (*config.Config, error) {
	if err := config.LoadDotEnv(gf.envFile); err != nil {
		return nil, err
	}
	cli := config.CLIOverrides{
		ConfigDir:   gf.configDir,
		HTTPAddr:    gf.httpAddr,
		LogLevel:    gf.logLevel,
		StoreDriver: gf.storeDriver,
	}

	var (
		cfg *config.Config
		err error
	)
	if gf.configPath != "" {
		cfg, err = config.LoadLayered(cli, embeddedConfig, gf.configPath)
	} else {
		cfg, err = config.LoadLayered(cli, embeddedConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
