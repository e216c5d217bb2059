package scheduler

import "time"

// scanStats remembers recent start times per caller.
type scanStats struct {
	window time.Duration
	quota  int
	starts map[int][]time.Time
}

func newScanStats(quota int, window time.Duration) *scanStats {
	return &scanStats{window: window, quota: quota, starts: make(map[int][]time.Time)}
}

// record notes a start at now and reports whether the caller had already used
// its quota inside the window before it.
func (s *scanStats) record(uid int, now time.Time) bool {
	cutoff := now.Add(-s.window)
	kept := s.starts[uid][:0]
	for _, t := range s.starts[uid] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	recent := s.quota > 0 && len(kept) >= s.quota
	s.starts[uid] = append(kept, now)
	return recent
}

func (s *scanStats) forget(uid int) {
	delete(s.starts, uid)
}
