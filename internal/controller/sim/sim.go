// Package sim is an in-process radio controller. It keeps the state the command
// set describes, buffers batch reports in overwriting ring storage and
// acknowledges every command. The scanmux CLI runs scenarios against it.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/groutine"
	"github.com/srg/scanmux/internal/scan"
)

// ErrNotBound is returned by Submit before an acknowledgement receiver is bound.
var ErrNotBound = errors.New("controller acknowledgement receiver not bound")

// AckFunc receives controller acknowledgements.
type AckFunc func(id uuid.UUID, status controller.Status)

// Options configures a simulated controller.
type Options struct {
	// StorageSize is the per-flavor batch report capacity.
	StorageSize uint32
	// Async acknowledges from a separate goroutine instead of inside Submit.
	Async bool
}

// Report is one ReadReports answer waiting to be delivered.
type Report struct {
	Type    scan.ResultType
	Reports []scan.Advertisement
}

// State is the observable controller state.
type State struct {
	Scanning      bool
	FilterEnabled bool
	Timing        scan.Timing
	Filters       map[int]scan.Filter
	Batching      bool
	BatchResult   scan.ResultType
	BatchTiming   scan.Timing
	Storage       controller.Storage
}

// Controller is a simulated radio controller. All methods are thread-safe.
type Controller struct {
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	ack      AckFunc
	state    State
	full     mpmc.RichOverlappedRingBuffer[scan.Advertisement]
	trunc    mpmc.RichOverlappedRingBuffer[scan.Advertisement]
	pending  []Report
	commands []controller.Command
	fail     map[controller.Kind]bool
	dropped  int
}

// New creates a simulated controller with empty state.
func New(opts Options, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.StorageSize == 0 {
		opts.StorageSize = 64
	}
	return &Controller{
		opts:   opts,
		logger: logger,
		state:  State{Filters: make(map[int]scan.Filter)},
		full:   mpmc.NewOverlappedRingBuffer[scan.Advertisement](opts.StorageSize),
		trunc:  mpmc.NewOverlappedRingBuffer[scan.Advertisement](opts.StorageSize),
		fail:   make(map[controller.Kind]bool),
	}
}

// Bind sets the acknowledgement receiver.
func (c *Controller) Bind(ack AckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ack = ack
}

// FailAck makes commands of kind k acknowledge with StatusFailure.
func (c *Controller) FailAck(k controller.Kind, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[k] = fail
}

// Submit implements controller.Controller.
func (c *Controller) Submit(cmd controller.Command) error {
	c.mu.Lock()
	ack := c.ack
	if ack == nil {
		c.mu.Unlock()
		return ErrNotBound
	}
	c.commands = append(c.commands, cmd)
	status := controller.StatusSuccess
	if c.fail[cmd.Kind] {
		status = controller.StatusFailure
	} else {
		c.apply(cmd)
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"command": cmd.Kind.String(),
		"args":    cmd.Args(),
		"status":  status.String(),
	}).Debug("Simulated controller executed command")

	if c.opts.Async {
		groutine.Go(context.Background(), "sim-ack", func(_ context.Context) { ack(cmd.ID, status) })
		return nil
	}
	ack(cmd.ID, status)
	return nil
}

// apply mutates the state for cmd. Callers hold mu.
func (c *Controller) apply(cmd controller.Command) {
	st := &c.state
	switch cmd.Kind {
	case controller.KindSetScanParams:
		st.Timing = cmd.Timing
	case controller.KindStartScan:
		st.Scanning = true
	case controller.KindStopScan:
		st.Scanning = false
	case controller.KindAddFilter:
		st.Filters[cmd.Slot] = cmd.Filter
	case controller.KindDeleteFilterParam:
		delete(st.Filters, cmd.Slot)
	case controller.KindEnableFilter:
		st.FilterEnabled = cmd.Enable
	case controller.KindConfigureBatchStorage:
		st.Storage = cmd.Storage
	case controller.KindStartBatch:
		st.Batching = true
		st.BatchResult = cmd.ResultType
		st.BatchTiming = cmd.Timing
	case controller.KindStopBatch:
		st.Batching = false
	case controller.KindReadReports:
		c.pending = append(c.pending, Report{Type: cmd.ResultType, Reports: c.drain(cmd.ResultType)})
	}
}

func (c *Controller) drain(rt scan.ResultType) []scan.Advertisement {
	buf := c.full
	if rt == scan.ResultTruncated {
		buf = c.trunc
	}
	var out []scan.Advertisement
	for !buf.IsEmpty() {
		adv, err := buf.Dequeue()
		if err != nil {
			break
		}
		out = append(out, adv)
	}
	return out
}

// Inject presents one received advertisement to the controller. It reports whether
// the regular scan delivers it live; batch storage buffers it when batching.
func (c *Controller) Inject(adv scan.Advertisement) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state
	if st.Batching {
		if st.BatchResult.WantsFull() {
			c.enqueue(c.full, adv)
		}
		if st.BatchResult.WantsTruncated() {
			c.enqueue(c.trunc, adv)
		}
	}

	if !st.Scanning {
		return false
	}
	if !st.FilterEnabled {
		return true
	}
	for _, f := range st.Filters {
		if f.Matches(adv) {
			return true
		}
	}
	return false
}

func (c *Controller) enqueue(buf mpmc.RichOverlappedRingBuffer[scan.Advertisement], adv scan.Advertisement) {
	overwrites, err := buf.EnqueueM(adv)
	if err != nil {
		c.logger.WithError(err).Warn("Batch storage enqueue failed")
		return
	}
	if overwrites > 0 {
		c.dropped += int(overwrites)
	}
}

// TakeReports returns and forgets the ReadReports answers produced so far.
func (c *Controller) TakeReports() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// State returns a copy of the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	st.Filters = make(map[int]scan.Filter, len(c.state.Filters))
	for k, v := range c.state.Filters {
		st.Filters[k] = v
	}
	return st
}

// Commands returns every command received, in order.
func (c *Controller) Commands() []controller.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]controller.Command(nil), c.commands...)
}

// Dropped returns how many buffered batch reports were overwritten.
func (c *Controller) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (s State) String() string {
	return fmt.Sprintf("scanning=%t filter=%t timing=%s filters=%d batching=%t",
		s.Scanning, s.FilterEnabled, s.Timing, len(s.Filters), s.Batching)
}
