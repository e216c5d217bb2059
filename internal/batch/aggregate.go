// Package batch derives the single controller batch configuration from the active
// batch clients and drives the stop/reconfigure/start sequence when it changes.
package batch

import (
	"time"

	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/scan"
)

// NotifyThresholdPct is the storage fill level at which the controller signals.
const NotifyThresholdPct = 95

// Aggregate is the batch configuration serving at most one full and one
// truncated consumer. It is compared by value.
type Aggregate struct {
	ScanMode        scan.Mode
	FullClient      scan.ClientID
	TruncatedClient scan.ClientID
}

// Empty is the aggregate of no batch clients.
var Empty = Aggregate{
	ScanMode:        scan.ModeOpportunistic,
	FullClient:      scan.NoClient,
	TruncatedClient: scan.NoClient,
}

// Compute derives the aggregate from clients. The first client wanting each report
// flavor becomes its consumer; the mode is the most aggressive among all clients.
func Compute(clients []*scan.Client) Aggregate {
	agg := Empty
	for i, c := range clients {
		if i == 0 || c.EffectiveMode().MoreAggressive(agg.ScanMode) {
			agg.ScanMode = c.EffectiveMode()
		}
		rt := c.Settings.ResultType
		if rt.WantsFull() && agg.FullClient == scan.NoClient {
			agg.FullClient = c.ID
		}
		if rt.WantsTruncated() && agg.TruncatedClient == scan.NoClient {
			agg.TruncatedClient = c.ID
		}
	}
	return agg
}

// IsEmpty reports whether the aggregate has no consumer.
func (a Aggregate) IsEmpty() bool {
	return a.FullClient == scan.NoClient && a.TruncatedClient == scan.NoClient
}

// ResultType returns the report flavor the controller must buffer.
func (a Aggregate) ResultType() scan.ResultType {
	switch {
	case a.FullClient != scan.NoClient && a.TruncatedClient != scan.NoClient:
		return scan.ResultBoth
	case a.FullClient != scan.NoClient:
		return scan.ResultFull
	default:
		return scan.ResultTruncated
	}
}

// Timing returns the batch interval/window of the aggregate's mode.
func (a Aggregate) Timing() scan.Timing {
	return scan.BatchTiming(a.ScanMode)
}

// Storage returns the split of controller storage between report flavors.
func (a Aggregate) Storage() controller.Storage {
	s := controller.Storage{NotifyThresholdPct: NotifyThresholdPct}
	switch a.ResultType() {
	case scan.ResultBoth:
		s.FullPct, s.TruncatedPct = 50, 50
	case scan.ResultFull:
		s.FullPct = 100
	default:
		s.TruncatedPct = 100
	}
	return s
}

// Consumers returns the report flavors to read on flush, full first.
func (a Aggregate) Consumers() []scan.ResultType {
	var out []scan.ResultType
	if a.FullClient != scan.NoClient {
		out = append(out, scan.ResultFull)
	}
	if a.TruncatedClient != scan.NoClient {
		out = append(out, scan.ResultTruncated)
	}
	return out
}

// MinReportDelay returns the shortest report delay among clients, or 0 for none.
func MinReportDelay(clients []*scan.Client) time.Duration {
	var min time.Duration
	for _, c := range clients {
		d := c.Settings.ReportDelay
		if d > 0 && (min == 0 || d < min) {
			min = d
		}
	}
	return min
}

// Window is the span in which a flush alarm may fire, relative to arming.
type Window struct {
	Earliest time.Duration
	Latest   time.Duration
}

// FlushWindow returns [delay, delay+jitterPct% of delay].
func FlushWindow(delay time.Duration, jitterPct int) Window {
	if jitterPct < 0 {
		jitterPct = 0
	}
	return Window{
		Earliest: delay,
		Latest:   delay + delay*time.Duration(jitterPct)/100,
	}
}
