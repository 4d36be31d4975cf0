package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plc-datalink/rfc1006/internal/autostart"
	"github.com/plc-datalink/rfc1006/internal/setup"
)

func installCmd(gf *globalFlags) *cobra.Command {
	var opts setup.Options

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install datalinkd as a boot-time service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup.CheckElevation(); err != nil {
				return err
			}
			cfg, err := gf.load()
			if err != nil {
				return err
			}
			inst := &setup.Installer{
				Paths:   setup.DefaultPaths(),
				Manager: autostart.New(),
				In:      os.Stdin,
				Out:     os.Stdout,
			}
			return inst.Run(version, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.StoreDriver, "store-driver", "", "Profile store for the installed service (couchdb|sqlite)")
	cmd.Flags().StringVar(&opts.StoreURL, "store-url", "", "CouchDB URL for the installed service")
	cmd.Flags().StringVar(&opts.ConfigDir, "collector-dir", "", "Collector configuration directory for the installed service")
	cmd.Flags().BoolVarP(&opts.Defaults, "yes", "y", false, "Accept defaults instead of prompting")
	return cmd
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the datalinkd service registration (collectors keep running)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup.CheckElevation(); err != nil {
				return err
			}
			mgr := autostart.New()
			installed, err := mgr.IsInstalled()
			if err != nil {
				return err
			}
			if !installed {
				fmt.Println(muted(mgr.ServiceName() + " is not installed"))
				return nil
			}
			if err := mgr.Uninstall(); err != nil {
				return err
			}
			fmt.Printf("%s %s removed\n", green("✓"), mgr.ServiceName())
			return nil
		},
	}
}
