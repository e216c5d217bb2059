package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/scanmux/internal/scan"
	"github.com/srg/scanmux/internal/scheduler"
)

var (
	opColor      = color.New(color.FgCyan, color.Bold)
	okColor      = color.New(color.FgGreen)
	errColor     = color.New(color.FgRed)
	commandColor = color.New(color.FgYellow)
)

func writeReport(w io.Writer, report *Report, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "table", "":
		return writeReportTable(w, report)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeReportTable(w io.Writer, report *Report) error {
	for _, st := range report.Steps {
		outcome := okColor.Sprint("ok")
		if st.Error != "" {
			outcome = errColor.Sprint("error: " + st.Error)
		}
		line := fmt.Sprintf("[%d] t+%s %s", st.Index, st.Elapsed, opColor.Sprint(st.Op))
		if st.Detail != "" {
			line += " " + st.Detail
		}
		fmt.Fprintf(w, "%s -> %s\n", line, outcome)
		for _, c := range st.Commands {
			fmt.Fprintf(w, "    %s %s\n", commandColor.Sprint(c.Kind), c.Args)
		}
	}

	fmt.Fprintln(w)
	writeSummary(w, report.Final)
	fmt.Fprintln(w)
	return writeClients(w, report.Final.Clients, report.Received)
}

func writeSummary(w io.Writer, snap scheduler.Snapshot) {
	regular := "idle"
	if snap.Regular.Scanning {
		regular = fmt.Sprintf("scanning mode=%s %s", snap.Regular.Mode, snap.Regular.Timing)
	}
	if snap.Regular.Stale {
		regular += " (stale)"
	}
	batch := "idle"
	if snap.Batch.Active {
		batch = fmt.Sprintf("active mode=%s flush_every=%s", snap.Batch.Mode, snap.Batch.FlushEvery)
	}
	if snap.Batch.Stale {
		batch += " (stale)"
	}

	fmt.Fprintf(w, "Screen:   %s\n", onOff(snap.ScreenOn))
	fmt.Fprintf(w, "Location: %s\n", onOff(snap.LocationEnabled))
	fmt.Fprintf(w, "Regular:  %s\n", regular)
	fmt.Fprintf(w, "Batch:    %s\n", batch)
	fmt.Fprintf(w, "Slots:    %d free, tracking %d/%d\n",
		snap.Pool.FreeSlots, snap.Pool.TrackingUsed, snap.Pool.TrackingTotal)
}

func writeClients(w io.Writer, clients []scheduler.ClientInfo, received map[scan.ClientID]int) error {
	if len(clients) == 0 {
		fmt.Fprintln(w, "No active clients.")
		return nil
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUID\tPARTITION\tREQUESTED\tEFFECTIVE\tSLOTS\tRESULTS")
	for _, c := range clients {
		effective := c.EffectiveMode.String()
		var flags []string
		if c.Upgraded {
			flags = append(flags, "upgraded")
		}
		if c.TimedOut {
			flags = append(flags, "timed out")
		}
		if len(flags) > 0 {
			effective += " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%d\n",
			c.ID, c.CallerUID, c.Partition, c.RequestedMode, effective, formatSlots(c.Slots), received[c.ID])
	}
	return tw.Flush()
}

func formatSlots(slots []int) string {
	if len(slots) == 0 {
		return "-"
	}
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = fmt.Sprint(s)
	}
	return strings.Join(parts, ",")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
