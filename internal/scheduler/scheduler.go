// Package scheduler multiplexes many concurrent discovery requests onto one radio
// controller that runs a single configuration at a time.
//
// Every mutation happens on one loop goroutine fed by a message queue: admission
// requests, power and context events, result routing and delayed messages (start
// boost revert, scan timeout, batch flush alarm). Controller acknowledgements bypass
// the queue and complete the waiter of the command the loop is blocked on, so the loop
// never waits on itself.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/batch"
	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/groutine"
	"github.com/srg/scanmux/internal/registry"
	"github.com/srg/scanmux/internal/resource"
	"github.com/srg/scanmux/internal/ringchan"
	"github.com/srg/scanmux/internal/scan"
	"github.com/srg/scanmux/internal/timeutil"
)

// Unregisterer is told when the last trace of a dead caller's client is gone.
type Unregisterer interface {
	Unregister(callerUID int, id scan.ClientID)
}

// UnregisterFunc adapts a function to Unregisterer.
type UnregisterFunc func(callerUID int, id scan.ClientID)

func (f UnregisterFunc) Unregister(callerUID int, id scan.ClientID) { f(callerUID, id) }

type message struct {
	name  string
	fn    func() error
	reply chan error
}

// regularState is the last regular configuration pushed to the controller.
type regularState struct {
	scanning      bool
	filterEnabled bool
	mode          scan.Mode
	timing        scan.Timing
	stale         bool
}

// holding is what one client took from the resource pool.
type holding struct {
	tracking int
	allPass  int // reserved all-pass slot, or -1
}

// Scheduler is the shared-radio discovery scheduler.
type Scheduler struct {
	opts   Options
	logger *logrus.Logger
	clock  timeutil.Clock
	ch     *controller.Channel

	queue   chan message
	done    chan struct{}
	exited  chan struct{}
	running atomic.Bool
	once    sync.Once

	// Loop owned.
	ctx        context.Context
	reg        *registry.Registry
	pool       *resource.Pool
	batcher    *batch.Coordinator
	timers     *timerSet
	wake       timeutil.Timer
	stats      *scanStats
	regular    regularState
	flushDelay time.Duration
	held       map[scan.ClientID]holding
	allPass    map[int]int
	screenOn   bool
	locationOn bool
	importance map[int]scan.Importance
	dead       map[int]bool
	unregister Unregisterer

	dirtyRegular bool
	dirtyBatch   bool

	// Readable from any goroutine.
	status  *hashmap.Map[scan.ClientID, ClientInfo]
	results *hashmap.Map[scan.ClientID, *ringchan.RingChannel[scan.Result]]
}

// New creates a scheduler driving ctrl. Call Run before using it.
func New(opts Options, ctrl controller.Controller, clock timeutil.Clock, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	opts = opts.normalized()

	ch := controller.NewChannel(ctrl, opts.CommandTimeout, logger)
	return &Scheduler{
		opts:       opts,
		logger:     logger,
		clock:      clock,
		ch:         ch,
		queue:      make(chan message, opts.QueueSize),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
		ctx:        context.Background(),
		reg:        registry.New(),
		pool:       resource.NewPool(opts.FilterSlots, opts.ReservedSlots, opts.TrackingBudget, logger),
		batcher:    batch.NewCoordinator(ch, logger),
		timers:     newTimerSet(),
		stats:      newScanStats(opts.ScanQuotaCount, opts.ScanQuotaWindow),
		held:       make(map[scan.ClientID]holding),
		allPass:    make(map[int]int),
		screenOn:   opts.ScreenOn,
		locationOn: opts.LocationEnabled,
		importance: make(map[int]scan.Importance),
		dead:       make(map[int]bool),
		status:     hashmap.New[scan.ClientID, ClientInfo](),
		results:    hashmap.New[scan.ClientID, *ringchan.RingChannel[scan.Result]](),
	}
}

// SetUnregisterer installs the hook called when a dead caller's client is stopped.
// It must be called before Run.
func (s *Scheduler) SetUnregisterer(u Unregisterer) {
	s.unregister = u
}

// Run starts the scheduling loop. The loop stops when ctx is cancelled or Close is called.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.wake = s.clock.NewTimer(time.Hour)
	s.wake.Stop()

	groutine.Go(ctx, "scan-scheduler", func(ctx context.Context) {
		defer close(s.exited)
		s.loop(ctx)
	})
	return nil
}

// Close stops the loop, stops every client and waits for the loop to exit.
func (s *Scheduler) Close() error {
	s.once.Do(func() { close(s.done) })
	if s.running.Load() {
		<-s.exited
	}
	return nil
}

// OnControllerAck completes the pending command id. It reports false for
// acknowledgements that arrive after their command timed out.
func (s *Scheduler) OnControllerAck(id uuid.UUID, status controller.Status) bool {
	return s.ch.Ack(id, status)
}

func (s *Scheduler) loop(ctx context.Context) {
	s.ctx = ctx
	s.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Scheduler loop started")
	defer s.shutdown()

	for {
		s.fireDue()
		s.rearm()

		select {
		case msg := <-s.queue:
			s.fireDue()
			err := msg.fn()
			s.reconcile()
			msg.reply <- err
		case <-s.wake.C():
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// call runs fn on the loop and waits for its result.
func (s *Scheduler) call(ctx context.Context, name string, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := message{name: name, fn: fn, reply: make(chan error, 1)}

	select {
	case s.queue <- msg:
	case <-s.done:
		return ErrClosed
	case <-s.exited:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-msg.reply:
		return err
	case <-s.exited:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fireDue() {
	due := s.timers.due(s.clock.Now())
	if len(due) == 0 {
		return
	}
	for _, d := range due {
		s.logger.WithFields(logrus.Fields{
			"timer":     d.key.kind.String(),
			"client_id": int(d.key.client),
		}).Debug("Delayed message fired")
		d.fire()
	}
	s.reconcile()
}

func (s *Scheduler) rearm() {
	s.wake.Stop()
	next, ok := s.timers.nextWake()
	if !ok {
		return
	}
	d := next.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.wake.Reset(d)
}

// reconcile pushes pending regular and batch changes to the controller, then
// refreshes the published client status.
func (s *Scheduler) reconcile() {
	if s.dirtyRegular {
		s.dirtyRegular = false
		s.applyRegular()
	}
	if s.dirtyBatch {
		s.dirtyBatch = false
		s.applyBatch()
	}
	s.publish()
}

// issue sends one command and waits for it. Failures are logged and returned; they
// never abort the loop.
func (s *Scheduler) issue(cmd controller.Command) error {
	err := s.ch.Do(s.ctx, cmd)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"command": cmd.Kind.String(),
			"args":    cmd.Args(),
		}).WithError(err).Warn("Controller command failed")
	}
	return err
}

func (s *Scheduler) shutdown() {
	s.ctx = context.WithoutCancel(s.ctx)
	s.timers = newTimerSet()
	s.wake.Stop()
	for _, p := range []registry.Partition{registry.Regular, registry.Batch, registry.Suspended} {
		for _, c := range s.reg.List(p) {
			s.remove(c.ID)
		}
	}
	s.reconcile()
	s.logger.Debug("Scheduler loop stopped")
}

// ClientInfo is the published status of one admitted client.
type ClientInfo struct {
	ID            scan.ClientID `json:"id"`
	CallerUID     int           `json:"caller_uid"`
	Partition     string        `json:"partition"`
	RequestedMode scan.Mode     `json:"requested_mode"`
	EffectiveMode scan.Mode     `json:"effective_mode"`
	Batch         bool          `json:"batch"`
	Filters       int           `json:"filters"`
	Slots         []int         `json:"slots,omitempty"`
	Tracking      int           `json:"tracking,omitempty"`
	Upgraded      bool          `json:"upgraded,omitempty"`
	TimedOut      bool          `json:"timed_out,omitempty"`
}

func (s *Scheduler) info(c *scan.Client, p registry.Partition) ClientInfo {
	return ClientInfo{
		ID:            c.ID,
		CallerUID:     c.CallerUID,
		Partition:     p.String(),
		RequestedMode: c.RequestedMode,
		EffectiveMode: c.EffectiveMode(),
		Batch:         c.IsBatch(),
		Filters:       len(c.Filters),
		Slots:         s.pool.Owned(c.ID),
		Tracking:      s.held[c.ID].tracking,
		Upgraded:      c.Upgraded,
		TimedOut:      c.TimedOut,
	}
}

func (s *Scheduler) publish() {
	for _, p := range []registry.Partition{registry.Regular, registry.Batch, registry.Suspended} {
		for _, c := range s.reg.List(p) {
			s.status.Set(c.ID, s.info(c, p))
		}
	}
}

// ClientInfo returns the last published status of id. It does not go through the loop.
func (s *Scheduler) ClientInfo(id scan.ClientID) (ClientInfo, bool) {
	return s.status.Get(id)
}

// Results returns the result channel of id. It is closed when the client stops.
func (s *Scheduler) Results(id scan.ClientID) (<-chan scan.Result, bool) {
	rc, ok := s.results.Get(id)
	if !ok {
		return nil, false
	}
	return rc.C(), true
}

// RegularStatus is the regular configuration last applied to the controller.
type RegularStatus struct {
	Scanning bool        `json:"scanning"`
	Mode     scan.Mode   `json:"mode"`
	Timing   scan.Timing `json:"timing"`
	Stale    bool        `json:"stale,omitempty"`
}

// BatchStatus is the batch configuration last applied to the controller.
type BatchStatus struct {
	Active          bool          `json:"active"`
	Mode            scan.Mode     `json:"mode"`
	FullClient      scan.ClientID `json:"full_client"`
	TruncatedClient scan.ClientID `json:"truncated_client"`
	FlushEvery      time.Duration `json:"flush_every,omitempty"`
	Stale           bool          `json:"stale,omitempty"`
}

// Snapshot is a consistent view of the scheduler taken on the loop.
type Snapshot struct {
	ScreenOn        bool           `json:"screen_on"`
	LocationEnabled bool           `json:"location_enabled"`
	Regular         RegularStatus  `json:"regular"`
	Batch           BatchStatus    `json:"batch"`
	Clients         []ClientInfo   `json:"clients"`
	Pool            resource.Stats `json:"pool"`
	PendingTimers   int            `json:"pending_timers"`
}

// Snapshot returns the current state. Due delayed messages run first.
func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, "snapshot", func() error {
		agg := s.batcher.Applied()
		snap = Snapshot{
			ScreenOn:        s.screenOn,
			LocationEnabled: s.locationOn,
			Regular: RegularStatus{
				Scanning: s.regular.scanning,
				Mode:     s.regular.mode,
				Timing:   s.regular.timing,
				Stale:    s.regular.stale,
			},
			Batch: BatchStatus{
				Active:          !agg.IsEmpty(),
				Mode:            agg.ScanMode,
				FullClient:      agg.FullClient,
				TruncatedClient: agg.TruncatedClient,
				FlushEvery:      s.flushDelay,
				Stale:           s.batcher.Stale(),
			},
			Pool:          s.pool.Stats(),
			PendingTimers: s.timers.len(),
		}
		for _, p := range []registry.Partition{registry.Regular, registry.Batch, registry.Suspended} {
			for _, c := range s.reg.List(p) {
				snap.Clients = append(snap.Clients, s.info(c, p))
			}
		}
		return nil
	})
	return snap, err
}
