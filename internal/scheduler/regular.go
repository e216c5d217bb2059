package scheduler

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/arbiter"
	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/registry"
	"github.com/srg/scanmux/internal/scan"
)

// applyRegular arbitrates the active regular clients and reconfigures the
// controller if the winning timing differs from the applied one.
func (s *Scheduler) applyRegular() {
	mode, timing, ok := arbiter.Target(s.reg.List(registry.Regular))
	prev := s.regular

	if !ok {
		if !prev.scanning && !prev.stale {
			return
		}
		var errs []error
		errs = append(errs, s.issue(controller.StopScan()))
		errs = append(errs, s.issue(controller.EnableFilter(false)))
		err := errors.Join(errs...)
		s.regular = regularState{stale: err != nil}
		s.logger.Info("Regular scan stopped, no eligible client")
		return
	}

	if prev.scanning && prev.timing == timing && !prev.stale {
		s.regular.mode = mode
		return
	}

	var errs []error
	if prev.scanning {
		errs = append(errs, s.issue(controller.StopScan()))
	}
	errs = append(errs, s.issue(controller.SetScanParams(timing)))
	if !prev.filterEnabled || prev.stale {
		errs = append(errs, s.issue(controller.EnableFilter(true)))
	}
	errs = append(errs, s.issue(controller.StartScan()))
	err := errors.Join(errs...)

	s.regular = regularState{
		scanning:      true,
		filterEnabled: true,
		mode:          mode,
		timing:        timing,
		stale:         err != nil,
	}
	s.logger.WithFields(logrus.Fields{
		"mode":     mode.String(),
		"interval": scan.ToControllerUnits(timing.Interval),
		"window":   scan.ToControllerUnits(timing.Window),
		"stale":    err != nil,
	}).Info("Regular scan reconfigured")
}

func (s *Scheduler) importanceOf(uid int) scan.Importance {
	if imp, ok := s.importance[uid]; ok {
		return imp
	}
	return scan.ImportanceForeground
}

// mapForPower moves c to the tier the current screen state and its caller's
// importance allow. It reports whether the effective mode changed.
func (s *Scheduler) mapForPower(c *scan.Client) bool {
	imp := s.importanceOf(c.CallerUID)

	var m scan.Mode
	if s.screenOn {
		if c.Upgraded && imp == scan.ImportanceForeground {
			return false
		}
		m = arbiter.ScreenOnMode(c, imp, s.opts.BackgroundMode)
	} else {
		m = arbiter.ScreenOffMode(c, imp)
	}
	if !c.SetEffectiveMode(m) {
		return false
	}
	if c.Upgraded {
		c.Upgraded = false
		s.timers.cancel(timerKey{kind: timerUpgradeRevert, client: c.ID})
	}
	s.clientLogger(c).WithField("importance", imp.String()).Debug("Client mode remapped")
	return true
}

// upgrade boosts a freshly started foreground client one tier for UpgradeDuration.
func (s *Scheduler) upgrade(c *scan.Client) {
	if s.opts.UpgradeDuration <= 0 || !s.screenOn {
		return
	}
	if s.importanceOf(c.CallerUID) != scan.ImportanceForeground {
		return
	}
	boosted, ok := arbiter.Boost(c.EffectiveMode())
	if !ok {
		return
	}
	c.SetEffectiveMode(boosted)
	c.Upgraded = true

	id := c.ID
	at := s.clock.Now().Add(s.opts.UpgradeDuration)
	s.timers.schedule(timerKey{kind: timerUpgradeRevert, client: id}, at, at, func() { s.revertUpgrade(id) })
	s.clientLogger(c).WithField("until", at).Debug("Client upgraded on start")
}

func (s *Scheduler) revertUpgrade(id scan.ClientID) {
	c, p := s.reg.Get(id)
	if p != registry.Regular || !c.Upgraded {
		return
	}
	c.Upgraded = false
	if !c.EffectiveMode().MoreAggressive(c.RequestedMode) {
		return
	}
	c.SetEffectiveMode(c.RequestedMode)
	s.dirtyRegular = true
	s.clientLogger(c).Info("Start upgrade reverted")
}

func (s *Scheduler) armTimeout(c *scan.Client) {
	if s.opts.ScanTimeout <= 0 || c.TimedOut || arbiter.ExemptFromTimeout(c) {
		return
	}
	id := c.ID
	at := s.clock.Now().Add(s.opts.ScanTimeout)
	s.timers.schedule(timerKey{kind: timerScanTimeout, client: id}, at, at, func() { s.scanTimedOut(id) })
}

// scanTimedOut downgrades a client that scanned for too long. The timeout is not
// re-armed afterwards.
func (s *Scheduler) scanTimedOut(id scan.ClientID) {
	c, p := s.reg.Get(id)
	if p != registry.Regular {
		return
	}
	s.dirtyRegular = true
	if arbiter.ExemptFromTimeout(c) {
		return
	}

	c.TimedOut = true
	if c.Upgraded {
		c.Upgraded = false
		s.timers.cancel(timerKey{kind: timerUpgradeRevert, client: id})
	}
	to := arbiter.TimeoutMode(c)
	if to == scan.ModeOpportunistic {
		h := s.held[id]
		s.releaseAllPass(h.allPass)
		h.allPass = -1
		s.held[id] = h
	}
	c.SetEffectiveMode(to)
	s.clientLogger(c).Info("Client downgraded after scan timeout")
}
