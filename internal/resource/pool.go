// Package resource manages the controller-wide scarce resources: hardware filter
// slots and the found/lost tracking budget.
//
// A Pool is not safe for concurrent use; it is owned by the scheduler loop.
package resource

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/scan"
)

// ErrExhausted is returned when not enough filter slots are free.
var ErrExhausted = errors.New("filter slots exhausted")

// Reserved slot indices below the pooled range.
const (
	SlotSettings       = 0
	SlotAllPassRegular = 1
	SlotAllPassBatch   = 2
)

// Stats is a point-in-time view of the pool.
type Stats struct {
	FreeSlots     int `json:"free_slots"`
	OwnedSlots    int `json:"owned_slots"`
	TrackingUsed  int `json:"tracking_used"`
	TrackingTotal int `json:"tracking_total"`
}

// Pool hands out filter slots with explicit per-client ownership and tracks the
// tracking-advertisement budget.
type Pool struct {
	logger *logrus.Logger

	free  []int
	owned map[scan.ClientID][]int

	trackingTotal int
	trackingUsed  int
}

// NewPool seeds the slot stack with indices [reserved, total) and a tracking budget.
func NewPool(total, reserved, trackingBudget int, logger *logrus.Logger) *Pool {
	if logger == nil {
		logger = logrus.New()
	}
	if reserved < 0 {
		reserved = 0
	}
	p := &Pool{
		logger:        logger,
		owned:         make(map[scan.ClientID][]int),
		trackingTotal: trackingBudget,
	}
	for i := reserved; i < total; i++ {
		p.free = append(p.free, i)
	}
	return p
}

// Allocate pops n slots for owner. It fails without side effects if fewer than n are free.
func (p *Pool) Allocate(owner scan.ClientID, n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	if len(p.free) < n {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrExhausted, n, len(p.free))
	}
	slots := make([]int, 0, n)
	for i := 0; i < n; i++ {
		last := len(p.free) - 1
		slots = append(slots, p.free[last])
		p.free = p.free[:last]
	}
	p.owned[owner] = append(p.owned[owner], slots...)
	return slots, nil
}

// Free returns every slot owned by owner to the pool and reports which were freed.
// Slots are pushed back in reverse allocation order so an Allocate/Free pair
// restores the stack exactly.
func (p *Pool) Free(owner scan.ClientID) []int {
	slots, ok := p.owned[owner]
	if !ok {
		return nil
	}
	delete(p.owned, owner)
	for i := len(slots) - 1; i >= 0; i-- {
		p.free = append(p.free, slots[i])
	}
	return slots
}

// Owned returns the slots currently held by owner.
func (p *Pool) Owned(owner scan.ClientID) []int {
	return append([]int(nil), p.owned[owner]...)
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	return len(p.free)
}

// FreeSlots returns a copy of the free stack, top last.
func (p *Pool) FreeSlots() []int {
	return append([]int(nil), p.free...)
}

// AllocateTracking reserves n tracking entries. It returns false and changes nothing
// if the budget would be exceeded.
func (p *Pool) AllocateTracking(n int) bool {
	if n <= 0 {
		return true
	}
	if p.trackingUsed+n > p.trackingTotal {
		p.logger.WithFields(logrus.Fields{
			"requested": n,
			"used":      p.trackingUsed,
			"total":     p.trackingTotal,
		}).Debug("Tracking budget exhausted")
		return false
	}
	p.trackingUsed += n
	return true
}

// FreeTracking releases n tracking entries, clamping at zero.
func (p *Pool) FreeTracking(n int) {
	if n <= 0 {
		return
	}
	if n > p.trackingUsed {
		p.logger.WithFields(logrus.Fields{
			"requested": n,
			"used":      p.trackingUsed,
		}).Warn("Freeing more tracking entries than allocated, clamping")
		p.trackingUsed = 0
		return
	}
	p.trackingUsed -= n
}

// TrackingTotal returns the configured tracking budget.
func (p *Pool) TrackingTotal() int {
	return p.trackingTotal
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	owned := 0
	for _, s := range p.owned {
		owned += len(s)
	}
	return Stats{
		FreeSlots:     len(p.free),
		OwnedSlots:    owned,
		TrackingUsed:  p.trackingUsed,
		TrackingTotal: p.trackingTotal,
	}
}
