package scheduler

import (
	"time"

	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/scan"
)

// Options tunes the scheduler. Start from DefaultOptions.
type Options struct {
	// CommandTimeout bounds the wait for one controller acknowledgement.
	CommandTimeout time.Duration
	// UpgradeDuration is how long a freshly started client runs one tier higher.
	// Zero disables the start boost.
	UpgradeDuration time.Duration
	// ScanTimeout is how long a non-exempt regular client may scan before it is
	// downgraded. Zero disables the downgrade.
	ScanTimeout time.Duration
	// BackgroundMode caps background callers while the screen is on.
	BackgroundMode scan.Mode
	// FlushJitterPct widens the flush alarm window to [T, T+T*pct/100].
	FlushJitterPct int

	// A caller with ScanQuotaCount starts inside ScanQuotaWindow is not boosted.
	ScanQuotaCount  int
	ScanQuotaWindow time.Duration

	QueueSize    int
	ResultBuffer int

	FilterSlots    int
	ReservedSlots  int
	TrackingBudget int

	// Power state at construction.
	ScreenOn        bool
	LocationEnabled bool
}

// DefaultOptions returns the production defaults with the screen on and location enabled.
func DefaultOptions() Options {
	return Options{
		CommandTimeout:  controller.DefaultTimeout,
		UpgradeDuration: 10 * time.Second,
		ScanTimeout:     30 * time.Minute,
		BackgroundMode:  scan.ModeLowPower,
		FlushJitterPct:  10,
		ScanQuotaCount:  5,
		ScanQuotaWindow: 30 * time.Second,
		QueueSize:       64,
		ResultBuffer:    32,
		FilterSlots:     16,
		ReservedSlots:   3,
		TrackingBudget:  32,
		ScreenOn:        true,
		LocationEnabled: true,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = def.CommandTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.ResultBuffer <= 0 {
		o.ResultBuffer = def.ResultBuffer
	}
	if o.FlushJitterPct < 0 {
		o.FlushJitterPct = 0
	}
	if !o.BackgroundMode.Valid() {
		o.BackgroundMode = def.BackgroundMode
	}
	return o
}
