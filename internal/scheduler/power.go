package scheduler

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/registry"
	"github.com/srg/scanmux/internal/scan"
)

// OnScreenOn resumes clients that were waiting for the screen and maps active
// clients back to their screen-on tiers.
func (s *Scheduler) OnScreenOn(ctx context.Context) error {
	return s.call(ctx, "screen_on", func() error {
		s.screenOn = true
		s.resume()
		s.remap(nil)
		s.logger.WithField("clients", s.reg.Len(registry.Regular)).Debug("Screen on")
		return nil
	})
}

// OnScreenOff suspends unfiltered regular clients and maps the rest to their
// screen-off tiers. The controller is reconfigured at most once.
func (s *Scheduler) OnScreenOff(ctx context.Context) error {
	return s.call(ctx, "screen_off", func() error {
		s.screenOn = false
		for _, c := range s.reg.List(registry.Regular) {
			if requiresScreenOn(c) {
				s.suspend(c)
			}
		}
		s.remap(nil)
		s.logger.WithField("suspended", s.reg.Len(registry.Suspended)).Debug("Screen off")
		return nil
	})
}

// OnLocationEnabled suspends or resumes clients that need location services.
func (s *Scheduler) OnLocationEnabled(ctx context.Context, enabled bool) error {
	return s.call(ctx, "location", func() error {
		s.locationOn = enabled
		if enabled {
			s.resume()
		} else {
			for _, c := range s.reg.List(registry.Regular) {
				if requiresLocation(c) {
					s.suspend(c)
				}
			}
		}
		s.logger.WithField("enabled", enabled).Debug("Location state changed")
		return nil
	})
}

// OnForegroundChanged records the importance of a caller and remaps its clients.
func (s *Scheduler) OnForegroundChanged(ctx context.Context, uid int, importance scan.Importance) error {
	return s.call(ctx, "importance", func() error {
		if s.importanceOf(uid) == importance {
			return nil
		}
		s.importance[uid] = importance
		s.remap(func(c *scan.Client) bool { return c.CallerUID == uid })
		s.logger.WithFields(logrus.Fields{
			"caller_uid": uid,
			"importance": importance.String(),
		}).Debug("Caller importance changed")
		return nil
	})
}

// remap applies the power mapping to the active clients accepted by match, or all
// of them for a nil match. Each partition is reconfigured at most once per sweep.
func (s *Scheduler) remap(match func(*scan.Client) bool) {
	for _, p := range []registry.Partition{registry.Regular, registry.Batch} {
		for _, c := range s.reg.List(p) {
			if match != nil && !match(c) {
				continue
			}
			if s.mapForPower(c) {
				s.markDirty(p)
			}
		}
	}
}
