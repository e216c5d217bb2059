package scheduler

import (
	"sort"
	"time"

	"github.com/srg/scanmux/internal/scan"
)

type timerKind int

const (
	timerUpgradeRevert timerKind = iota
	timerScanTimeout
	timerFlush
)

func (k timerKind) String() string {
	switch k {
	case timerUpgradeRevert:
		return "upgrade_revert"
	case timerScanTimeout:
		return "scan_timeout"
	default:
		return "batch_flush"
	}
}

type timerKey struct {
	kind   timerKind
	client scan.ClientID
}

// flushKey is the single batch flush alarm.
var flushKey = timerKey{kind: timerFlush, client: scan.NoClient}

// delayed is a message that becomes due at earliest and must run by latest.
type delayed struct {
	key      timerKey
	earliest time.Time
	latest   time.Time
	seq      uint64
	fire     func()
}

// timerSet holds the pending delayed messages, at most one per key.
type timerSet struct {
	entries map[timerKey]*delayed
	seq     uint64
}

func newTimerSet() *timerSet {
	return &timerSet{entries: make(map[timerKey]*delayed)}
}

// schedule replaces any pending message under key.
func (ts *timerSet) schedule(key timerKey, earliest, latest time.Time, fire func()) {
	if latest.Before(earliest) {
		latest = earliest
	}
	ts.seq++
	ts.entries[key] = &delayed{key: key, earliest: earliest, latest: latest, seq: ts.seq, fire: fire}
}

func (ts *timerSet) cancel(key timerKey) bool {
	if _, ok := ts.entries[key]; !ok {
		return false
	}
	delete(ts.entries, key)
	return true
}

func (ts *timerSet) cancelClient(id scan.ClientID) {
	for key := range ts.entries {
		if key.client == id && key.kind != timerFlush {
			delete(ts.entries, key)
		}
	}
}

func (ts *timerSet) pending(key timerKey) (*delayed, bool) {
	d, ok := ts.entries[key]
	return d, ok
}

// due removes and returns every message whose earliest time has passed, in
// earliest-then-scheduling order.
func (ts *timerSet) due(now time.Time) []*delayed {
	var out []*delayed
	for key, d := range ts.entries {
		if !now.Before(d.earliest) {
			out = append(out, d)
			delete(ts.entries, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].earliest.Equal(out[j].earliest) {
			return out[i].earliest.Before(out[j].earliest)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// nextWake returns the earliest latest-time of all pending messages.
func (ts *timerSet) nextWake() (time.Time, bool) {
	var next time.Time
	found := false
	for _, d := range ts.entries {
		if !found || d.latest.Before(next) {
			next = d.latest
			found = true
		}
	}
	return next, found
}

func (ts *timerSet) len() int {
	return len(ts.entries)
}
