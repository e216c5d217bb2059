package scheduler

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/registry"
	"github.com/srg/scanmux/internal/resource"
	"github.com/srg/scanmux/internal/ringchan"
	"github.com/srg/scanmux/internal/scan"
)

// Start admits c. The scheduler keeps its own copy of c. A client whose screen or
// location precondition does not hold is suspended without touching the controller.
func (s *Scheduler) Start(ctx context.Context, c *scan.Client) error {
	if c == nil {
		return fmt.Errorf("%w: nil client", ErrInvalidClient)
	}
	if c.ID == scan.NoClient {
		return fmt.Errorf("%w: reserved id %d", ErrInvalidClient, c.ID)
	}
	if !c.Settings.Mode.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidClient, scan.ErrUnknownMode)
	}
	cl := c.Clone()
	return s.call(ctx, "start", func() error { return s.start(cl) })
}

// Stop removes the client from whichever partition holds it.
func (s *Scheduler) Stop(ctx context.Context, id scan.ClientID) error {
	return s.call(ctx, "stop", func() error { return s.stop(id) })
}

// FlushBatch reads the controller's buffered batch reports now and restarts the
// flush alarm.
func (s *Scheduler) FlushBatch(ctx context.Context, id scan.ClientID) error {
	return s.call(ctx, "flush", func() error {
		_, p := s.reg.Get(id)
		switch p {
		case registry.None:
			return fmt.Errorf("%w: %d", ErrUnknownClient, id)
		case registry.Batch:
		default:
			return fmt.Errorf("%w: %d is %s", ErrNotBatch, id, p)
		}
		s.flush()
		return nil
	})
}

// OnCallerDied force-stops every client of uid and frees their resources.
func (s *Scheduler) OnCallerDied(ctx context.Context, uid int) error {
	return s.call(ctx, "caller_died", func() error {
		s.dead[uid] = true
		clients := s.reg.ByCaller(uid)
		for _, c := range clients {
			if err := s.stop(c.ID); err != nil {
				return err
			}
		}
		s.stats.forget(uid)
		delete(s.importance, uid)
		s.logger.WithFields(logrus.Fields{
			"caller_uid": uid,
			"clients":    len(clients),
		}).Info("Caller died, clients stopped")
		return nil
	})
}

func (s *Scheduler) clientLogger(c *scan.Client) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"client_id":  int(c.ID),
		"caller_uid": c.CallerUID,
		"mode":       c.EffectiveMode().String(),
	})
}

func (s *Scheduler) start(c *scan.Client) error {
	if _, p := s.reg.Get(c.ID); p != registry.None {
		s.clientLogger(c).WithField("partition", p.String()).Warn("Rejecting duplicate client")
		return fmt.Errorf("%w: %d in %s", ErrDuplicateClient, c.ID, p)
	}

	now := s.clock.Now()
	c.RequestedMode = c.Settings.Mode
	c.StartedAt = now
	c.Upgraded, c.TimedOut = false, false
	delete(s.dead, c.CallerUID)
	recent := s.stats.record(c.CallerUID, now)

	if !s.preconditionsHold(c) {
		if err := s.reg.Add(registry.Suspended, c); err != nil {
			return err
		}
		s.openResults(c)
		s.clientLogger(c).WithFields(logrus.Fields{
			"screen_on":        s.screenOn,
			"location_enabled": s.locationOn,
		}).Info("Client suspended until its preconditions hold")
		return nil
	}

	if err := s.activate(c, !recent); err != nil {
		return err
	}
	s.openResults(c)
	s.clientLogger(c).WithFields(logrus.Fields{
		"batch":   c.IsBatch(),
		"filters": len(c.Filters),
	}).Info("Client started")
	return nil
}

func (s *Scheduler) stop(id scan.ClientID) error {
	c, p := s.remove(id)
	if p == registry.None {
		s.logger.WithField("client_id", int(id)).Warn("Stop for unknown client")
		return fmt.Errorf("%w: %d", ErrUnknownClient, id)
	}
	s.clientLogger(c).WithField("partition", p.String()).Info("Client stopped")

	if s.dead[c.CallerUID] && s.unregister != nil {
		s.unregister.Unregister(c.CallerUID, c.ID)
	}
	return nil
}

// requiresScreenOn holds for unfiltered clients that drive the radio themselves.
func requiresScreenOn(c *scan.Client) bool {
	return !c.IsOpportunistic() && !c.IsFiltered()
}

func requiresLocation(c *scan.Client) bool {
	return !c.HasLocationExemption && !c.IsFiltered()
}

func (s *Scheduler) preconditionsHold(c *scan.Client) bool {
	if requiresScreenOn(c) && !s.screenOn {
		return false
	}
	if requiresLocation(c) && !s.locationOn {
		return false
	}
	return true
}

// activate places c into its active partition. boost allows the start upgrade.
func (s *Scheduler) activate(c *scan.Client, boost bool) error {
	s.mapForPower(c)
	if err := s.acquire(c); err != nil {
		s.clientLogger(c).WithError(err).Warn("Client admission failed")
		return err
	}

	if c.IsBatch() {
		if err := s.reg.Add(registry.Batch, c); err != nil {
			s.release(c)
			return err
		}
		s.dirtyBatch = true
		return nil
	}

	if boost {
		s.upgrade(c)
	}
	if err := s.reg.Add(registry.Regular, c); err != nil {
		s.release(c)
		return err
	}
	s.armTimeout(c)
	s.dirtyRegular = true
	return nil
}

// suspend parks an active client until its preconditions hold again.
func (s *Scheduler) suspend(c *scan.Client) {
	_, p := s.reg.Get(c.ID)
	s.timers.cancelClient(c.ID)
	s.release(c)
	c.Upgraded = false
	if !c.TimedOut {
		c.SetEffectiveMode(c.RequestedMode)
	}
	if err := s.reg.Move(c.ID, registry.Suspended); err != nil {
		s.clientLogger(c).WithError(err).Warn("Suspend of unregistered client")
		return
	}
	s.markDirty(p)
	s.clientLogger(c).Info("Client suspended")
}

// resume reactivates every suspended client whose preconditions now hold.
func (s *Scheduler) resume() {
	for _, c := range s.reg.List(registry.Suspended) {
		if !s.preconditionsHold(c) {
			continue
		}
		s.reg.Remove(c.ID)
		if err := s.activate(c, false); err != nil {
			_ = s.reg.Add(registry.Suspended, c)
			continue
		}
		s.clientLogger(c).Info("Client resumed")
	}
}

// remove drops id from the registry and releases everything it held.
func (s *Scheduler) remove(id scan.ClientID) (*scan.Client, registry.Partition) {
	c, p := s.reg.Remove(id)
	if p == registry.None {
		return nil, p
	}
	s.timers.cancelClient(id)
	s.release(c)
	s.markDirty(p)
	s.status.Del(id)
	if rc, ok := s.results.Get(id); ok {
		rc.Close()
		s.results.Del(id)
	}
	return c, p
}

func (s *Scheduler) markDirty(p registry.Partition) {
	switch p {
	case registry.Regular:
		s.dirtyRegular = true
	case registry.Batch:
		s.dirtyBatch = true
	}
}

// acquire takes the filter slots and tracking entries c needs, atomically, and
// installs its filters on the controller. Unfiltered clients share one reserved
// all-pass slot per kind.
func (s *Scheduler) acquire(c *scan.Client) error {
	h := holding{allPass: -1}

	switch {
	case c.IsFiltered():
		slots, err := s.pool.Allocate(c.ID, len(c.Filters))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
		}
		if n := c.MatchTrackingBudget(s.pool.TrackingTotal()); n > 0 {
			if !s.pool.AllocateTracking(n) {
				s.pool.Free(c.ID)
				return fmt.Errorf("%w: tracking budget, want %d", ErrResourceExhausted, n)
			}
			h.tracking = n
		}
		for i, f := range c.Filters {
			_ = s.issue(controller.AddFilter(slots[i], f))
		}
	case !c.IsOpportunistic():
		slot := resource.SlotAllPassRegular
		if c.IsBatch() {
			slot = resource.SlotAllPassBatch
		}
		s.allPass[slot]++
		if s.allPass[slot] == 1 {
			_ = s.issue(controller.AddFilter(slot, scan.Filter{}))
		}
		h.allPass = slot
	}

	s.held[c.ID] = h
	return nil
}

// release returns everything c holds. Releasing twice is a no-op.
func (s *Scheduler) release(c *scan.Client) {
	h, ok := s.held[c.ID]
	if !ok {
		return
	}
	delete(s.held, c.ID)

	for _, slot := range s.pool.Free(c.ID) {
		_ = s.issue(controller.DeleteFilterParam(slot))
	}
	s.pool.FreeTracking(h.tracking)
	s.releaseAllPass(h.allPass)
}

func (s *Scheduler) releaseAllPass(slot int) {
	if slot < 0 {
		return
	}
	s.allPass[slot]--
	if s.allPass[slot] > 0 {
		return
	}
	delete(s.allPass, slot)
	_ = s.issue(controller.DeleteFilterParam(slot))
}

func (s *Scheduler) openResults(c *scan.Client) {
	if _, ok := s.results.Get(c.ID); ok {
		return
	}
	s.results.Set(c.ID, ringchan.New[scan.Result](s.opts.ResultBuffer))
}
