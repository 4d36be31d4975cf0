package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/lifecycle"
	"github.com/plc-datalink/rfc1006/internal/models"
	"github.com/plc-datalink/rfc1006/internal/procscan"
	"github.com/plc-datalink/rfc1006/internal/render"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	muted  = color.New(color.Faint).SprintFunc()
)

func renderCmd(gf *globalFlags) *cobra.Command {
	var inspect bool

	cmd := &cobra.Command{
		Use:   "render <profile.json | config-file>",
		Short: "Print the collector configuration for a profile document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inspect {
				s, err := render.Inspect(args[0])
				if err != nil {
					return err
				}
				printSummary(s)
				return nil
			}

			cfg, err := gf.load()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := models.ParseDocument(data)
			if err != nil {
				return err
			}
			text, err := render.Render(p, render.Options{LogDir: cfg.Collector.ConfigDir})
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&inspect, "inspect", false, "Summarize an existing configuration file instead")
	return cmd
}

func printSummary(s render.Summary) {
	fmt.Printf("%s  %s\n", muted("machine "), s.MachineName)
	fmt.Printf("%s  %s\n", muted("server  "), s.Server)
	fmt.Printf("%s  %s\n", muted("interval"), s.Interval)
	fmt.Printf("%s  %s\n", muted("brokers "), strings.Join(s.Brokers, ", "))
	fmt.Printf("%s  %s\n", muted("topic   "), s.Topic)
	fmt.Printf("%s  %s\n", muted("dedup   "), s.DedupInterval)
	for _, t := range s.Tags {
		fmt.Printf("  %s %s\n", t.Name, muted(t.Address))
	}
}

func stateCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "state <machine>",
		Short: "Infer a machine's PLC connection state from its collector log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.load()
			if err != nil {
				return err
			}
			comp := buildComponents(cfg, initLogger(cfg.Logging, false))
			st, err := comp.state.Infer(args[0])
			if err != nil {
				return err
			}

			verdict := red("disconnected")
			if st.Active {
				verdict = green("connected")
			}
			fmt.Printf("%s %s\n", args[0], verdict)
			fmt.Printf("%s  %s\n", muted("last update    "), orDash(st.LastUpdate))
			fmt.Printf("%s  %s\n", muted("last connect   "), orDash(st.LastConnect))
			fmt.Printf("%s  %s\n", muted("last disconnect"), orDash(st.LastDisconnect))
			return nil
		},
	}
}

func machinesCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "machines",
		Aliases: []string{"ls"},
		Short:   "List configured, logged and running machines",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.load()
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Logging, false)
			comp := buildComponents(cfg, logger)

			snap, err := comp.catalog.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			pids := make(map[string]int32, len(snap.Active))
			names := slices.Concat(snap.Configured, snap.Logged)
			for _, h := range snap.Active {
				pids[h.MachineName] = h.PID
				names = append(names, h.MachineName)
			}
			slices.Sort(names)
			names = slices.Compact(names)
			if len(names) == 0 {
				fmt.Println(muted("no machines found in " + cfg.Collector.ConfigDir))
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MACHINE\tCONFIG\tPID\tCPU\tMEM\tCONNECTION\tSTATUS")
			for _, name := range names {
				configured := slices.Contains(snap.Configured, name)
				pid, running := pids[name]

				conn := "-"
				if st, err := comp.state.Infer(name); err != nil {
					logger.Debug("State unavailable", zap.String("machine", name), zap.Error(err))
				} else if st.Active {
					conn = "connected"
				} else if !st.LastUpdate.IsZero() {
					conn = "disconnected"
				}

				pidCol, cpuCol, memCol := "-", "-", "-"
				if running {
					pidCol = strconv.Itoa(int(pid))
					if u, err := procscan.Usage(cmd.Context(), pid); err == nil {
						cpuCol = fmt.Sprintf("%.1f%%", u.CPU)
						memCol = fmt.Sprintf("%.1f%%", u.Memory)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					name, yesNo(configured), pidCol, cpuCol, memCol, conn, machineStatus(configured, running))
			}
			return tw.Flush()
		},
	}
}

func machineStatus(configured, running bool) string {
	switch {
	case configured && running:
		return green("running")
	case running:
		return red("orphaned")
	case configured:
		return yellow("idle")
	default:
		return muted("standby")
	}
}

func stopCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <machine>",
		Short: "Stop a machine's collector and remove its configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.load()
			if err != nil {
				return err
			}
			comp := buildComponents(cfg, initLogger(cfg.Logging, false))
			res, err := comp.controller.Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Outcome == lifecycle.NothingToStop {
				fmt.Printf("%s %s\n", args[0], yellow("not running, nothing to stop"))
				return nil
			}
			fmt.Printf("%s %s (pid %d)\n", args[0], green("stopped"), res.PID)
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func orDash(ts models.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return string(ts)
}
