package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/scanmux/internal/scan"
)

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List scan modes and their controller timings",
	Long: `List every scan mode in rank order with the interval and window the controller
runs for regular and batch scans, in milliseconds and controller units (0.625 ms).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeModes(cmd.OutOrStdout())
	},
}

func writeModes(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODE\tRANK\tREGULAR (ms)\tREGULAR (units)\tBATCH (ms)\tBATCH (units)")
	for _, m := range scan.AllModes {
		regular, regularUnits := "-", "-"
		if t := scan.RegularTiming(m); !t.IsZero() {
			regular = fmt.Sprintf("%d/%d", t.Interval.Milliseconds(), t.Window.Milliseconds())
			regularUnits = fmt.Sprintf("%d/%d", scan.ToControllerUnits(t.Interval), scan.ToControllerUnits(t.Window))
		}
		b := scan.BatchTiming(m)
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d/%d\t%d/%d\n",
			m, m.Rank(), regular, regularUnits,
			b.Interval.Milliseconds(), b.Window.Milliseconds(),
			scan.ToControllerUnits(b.Interval), scan.ToControllerUnits(b.Window))
	}
	return tw.Flush()
}
