package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/scanmux/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Replay a scan scenario against a simulated controller",
	Long: `Replay a YAML scenario against the scheduler driving a simulated radio
controller on a virtual clock, then print every controller command each step
issued and the final client table.

Scenario format:

  screen_on: true          # optional, default true
  location_enabled: true   # optional, default true
  steps:
    - {op: start, id: 1, uid: 1000, mode: low_power}
    - {op: start, id: 2, uid: 1001, mode: low_latency, filters: ["name=tag"]}
    - {op: start, id: 3, uid: 1002, mode: balanced, report_delay: 10s, result: both}
    - {op: advertise, name: tag, address: "aa:bb:cc:dd:ee:01", rssi: -50}
    - {op: advance, duration: 11s}
    - {op: importance, uid: 1001, importance: background}
    - {op: screen_off}
    - {op: location, enabled: false}
    - {op: flush, id: 3}
    - {op: stop, id: 2}
    - {op: caller_died, uid: 1000}

Filters use "addr=..,name=..,service=180d,manufacturer=004c:0215".`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

var (
	runConfigPath string
	runFormat     string
)

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Configuration file (YAML)")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "", "Output format (table, json); overrides the configuration")
	runCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}
	if runFormat != "" {
		cfg.OutputFormat = runFormat
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	sc, err := LoadScenario(args[0])
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := newRunner(cfg.SchedulerOptions(), sc, logger).Run(ctx, sc.Steps)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", args[0], err)
	}
	return writeReport(cmd.OutOrStdout(), report, cfg.OutputFormat)
}
