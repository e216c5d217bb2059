package scheduler

import (
	"time"

	"github.com/srg/scanmux/internal/batch"
	"github.com/srg/scanmux/internal/registry"
)

// applyBatch pushes the aggregate of the batch clients and keeps the flush alarm
// at the shortest report delay.
func (s *Scheduler) applyBatch() {
	clients := s.reg.List(registry.Batch)
	changed, _ := s.batcher.Apply(s.ctx, batch.Compute(clients))

	delay := batch.MinReportDelay(clients)
	if delay == 0 {
		s.timers.cancel(flushKey)
		s.flushDelay = 0
		return
	}
	if changed || delay != s.flushDelay {
		s.armFlush(delay)
	}
}

// armFlush replaces the flush alarm with one due in [delay, delay+jitter].
func (s *Scheduler) armFlush(delay time.Duration) {
	w := batch.FlushWindow(delay, s.opts.FlushJitterPct)
	now := s.clock.Now()
	s.timers.schedule(flushKey, now.Add(w.Earliest), now.Add(w.Latest), s.flushAlarm)
	s.flushDelay = delay
}

func (s *Scheduler) flushAlarm() {
	if s.batcher.Applied().IsEmpty() {
		return
	}
	s.flush()
}

// flush reads the pending reports and restarts the alarm period.
func (s *Scheduler) flush() {
	_ = s.batcher.Flush(s.ctx)
	if s.flushDelay > 0 {
		s.armFlush(s.flushDelay)
	}
}
