// Package arbiter holds the regular-scan mode policy: picking the single controller
// configuration out of many concurrent clients, and the rules that move a client's
// effective mode away from its requested one (start boost, timeout downgrade,
// screen and importance mapping).
//
// Every function here is pure; the scheduler applies the results.
package arbiter

import (
	"github.com/srg/scanmux/internal/scan"
)

// Eligible reports whether c takes part in regular arbitration.
func Eligible(c *scan.Client) bool {
	return !c.IsBatch() && !c.IsOpportunistic()
}

// Winner returns the eligible client with the highest ranked effective mode.
// Ties keep the earliest client in clients.
func Winner(clients []*scan.Client) (*scan.Client, bool) {
	var best *scan.Client
	for _, c := range clients {
		if !Eligible(c) {
			continue
		}
		if best == nil || c.EffectiveMode().MoreAggressive(best.EffectiveMode()) {
			best = c
		}
	}
	return best, best != nil
}

// Target returns the mode and controller timing the set of clients requires.
// ok is false when no client needs the controller to scan.
func Target(clients []*scan.Client) (scan.Mode, scan.Timing, bool) {
	w, ok := Winner(clients)
	if !ok {
		return scan.ModeOpportunistic, scan.Timing{}, false
	}
	m := w.EffectiveMode()
	return m, scan.RegularTiming(m), true
}

// Boost returns the mode one tier above m used for a freshly started client.
// Opportunistic, LowLatency and screen-off tiers are never boosted.
func Boost(m scan.Mode) (scan.Mode, bool) {
	switch m {
	case scan.ModeLowPower:
		return scan.ModeBalanced, true
	case scan.ModeBalanced, scan.ModeAmbientDiscovery:
		return scan.ModeLowLatency, true
	default:
		return m, false
	}
}

// ExemptFromTimeout reports whether c may scan indefinitely.
func ExemptFromTimeout(c *scan.Client) bool {
	return c.IsOpportunistic() || c.IsFirstMatch()
}

// TimeoutMode returns the mode a client is downgraded to after scanning too long:
// unfiltered clients become opportunistic, filtered ones drop to at most LowPower.
func TimeoutMode(c *scan.Client) scan.Mode {
	if !c.IsFiltered() {
		return scan.ModeOpportunistic
	}
	if c.EffectiveMode().MoreAggressive(scan.ModeLowPower) {
		return scan.ModeLowPower
	}
	return c.EffectiveMode()
}

// ScreenOffMode returns the tier c runs in while the screen is off.
func ScreenOffMode(c *scan.Client, importance scan.Importance) scan.Mode {
	if c.TimedOut || c.IsOpportunistic() {
		return c.EffectiveMode()
	}
	switch c.RequestedMode {
	case scan.ModeLowPower:
		return scan.ModeScreenOff
	case scan.ModeBalanced, scan.ModeAmbientDiscovery:
		return scan.ModeScreenOffBalanced
	case scan.ModeLowLatency:
		if importance == scan.ImportanceBackground {
			return scan.ModeScreenOff
		}
		return scan.ModeLowLatency
	default:
		return c.RequestedMode
	}
}

// ScreenOnMode returns the tier c runs in while the screen is on. Background callers
// are held to background, never above what they requested.
func ScreenOnMode(c *scan.Client, importance scan.Importance, background scan.Mode) scan.Mode {
	if c.TimedOut || c.RequestedMode == scan.ModeOpportunistic {
		return c.EffectiveMode()
	}
	if importance == scan.ImportanceBackground && c.RequestedMode.MoreAggressive(background) {
		return background
	}
	return c.RequestedMode
}
