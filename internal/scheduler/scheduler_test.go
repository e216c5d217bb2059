package scheduler_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/scan"
	"github.com/srg/scanmux/internal/scheduler"
	"github.com/srg/scanmux/internal/testutils"
	"github.com/srg/scanmux/internal/timeutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const callerUID = 1000

type mockUnregisterer struct {
	mock.Mock
}

func (m *mockUnregisterer) Unregister(callerUID int, id scan.ClientID) {
	m.Called(callerUID, id)
}

type SchedulerTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	rec    *testutils.RecordingController
	clock  *timeutil.MockClock
	opts   scheduler.Options
	sched  *scheduler.Scheduler
	ctx    context.Context
}

func (s *SchedulerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.rec = testutils.NewRecordingController()
	s.clock = s.helper.NewMockClock()
	s.ctx = context.Background()
	s.sched = nil

	s.opts = scheduler.DefaultOptions()
	s.opts.UpgradeDuration = 0
	s.opts.CommandTimeout = 50 * time.Millisecond
}

func (s *SchedulerTestSuite) TearDownTest() {
	if s.sched != nil {
		s.NoError(s.sched.Close())
	}
}

func (s *SchedulerTestSuite) build() {
	s.sched = scheduler.New(s.opts, s.rec, s.clock, s.helper.Logger)
	s.rec.Bind(func(id uuid.UUID, st controller.Status) { s.sched.OnControllerAck(id, st) })
}

// boot builds and runs the scheduler with the current s.opts.
func (s *SchedulerTestSuite) boot() {
	s.build()
	s.Require().NoError(s.sched.Run(s.ctx))
}

func regular(id scan.ClientID, m scan.Mode, filters ...scan.Filter) *scan.Client {
	return scan.NewClient(id, callerUID, scan.Settings{Mode: m}, filters...)
}

func batchClient(id scan.ClientID, m scan.Mode, rt scan.ResultType, delay time.Duration) *scan.Client {
	return scan.NewClient(id, callerUID, scan.Settings{Mode: m, ReportDelay: delay, ResultType: rt})
}

func (s *SchedulerTestSuite) snapshot() scheduler.Snapshot {
	snap, err := s.sched.Snapshot(s.ctx)
	s.Require().NoError(err)
	return snap
}

// advance moves the clock and waits until the loop has run what became due.
func (s *SchedulerTestSuite) advance(d time.Duration) scheduler.Snapshot {
	s.clock.Advance(d)
	return s.snapshot()
}

func (s *SchedulerTestSuite) info(id scan.ClientID) scheduler.ClientInfo {
	info, ok := s.sched.ClientInfo(id)
	s.Require().True(ok, "client %d MUST be published", id)
	return info
}

func (s *SchedulerTestSuite) lastTiming() scan.Timing {
	cmd, ok := s.rec.Last(controller.KindSetScanParams)
	s.Require().True(ok, "SetScanParams MUST have been issued")
	return cmd.Timing
}

func (s *SchedulerTestSuite) TestEndToEndArbitration() {
	s.boot()
	tag := scan.Filter{Name: "tag"}

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower)))

	snap := s.snapshot()
	s.Equal(scan.ModeLowPower, snap.Regular.Mode)
	s.Equal(scan.RegularTiming(scan.ModeLowPower), s.lastTiming())
	s.Equal(1, s.rec.Count(controller.KindStartScan))
	free := snap.Pool.FreeSlots

	s.rec.Reset()
	s.Require().NoError(s.sched.Start(s.ctx, regular(2, scan.ModeLowLatency, tag)))

	snap = s.snapshot()
	s.Equal(scan.ModeLowLatency, snap.Regular.Mode)
	s.Equal(1, s.rec.Count(controller.KindSetScanParams), "controller MUST be reconfigured once")
	s.Equal(scan.RegularTiming(scan.ModeLowLatency), s.lastTiming())
	s.Equal(1, s.rec.Count(controller.KindAddFilter))
	s.Equal(free-1, snap.Pool.FreeSlots)
	slots := s.info(2).Slots
	s.Require().Len(slots, 1)
	s.Equal(15, slots[0], "slots MUST be handed out from the top of the stack")

	s.rec.Reset()
	s.Require().NoError(s.sched.Stop(s.ctx, 2))

	snap = s.snapshot()
	s.Equal(scan.ModeLowPower, snap.Regular.Mode)
	s.Equal(1, s.rec.Count(controller.KindSetScanParams), "controller MUST be reconfigured once more")
	s.Equal(scan.RegularTiming(scan.ModeLowPower), s.lastTiming())
	del, ok := s.rec.Last(controller.KindDeleteFilterParam)
	s.Require().True(ok)
	s.Equal(15, del.Slot)
	s.Equal(free, snap.Pool.FreeSlots)
	_, ok = s.sched.ClientInfo(2)
	s.False(ok)
}

func (s *SchedulerTestSuite) TestArbitrationTracksHighestMode() {
	s.boot()
	rng := rand.New(rand.NewSource(7))
	modes := []scan.Mode{
		scan.ModeOpportunistic, scan.ModeLowPower, scan.ModeBalanced,
		scan.ModeAmbientDiscovery, scan.ModeLowLatency,
	}

	var active []*scan.Client
	next := scan.ClientID(1)
	for step := 0; step < 200; step++ {
		if len(active) == 0 || rng.Intn(3) > 0 {
			c := regular(next, modes[rng.Intn(len(modes))])
			next++
			s.Require().NoError(s.sched.Start(s.ctx, c))
			active = append(active, c)
		} else {
			i := rng.Intn(len(active))
			s.Require().NoError(s.sched.Stop(s.ctx, active[i].ID))
			active = append(active[:i], active[i+1:]...)
		}

		var winner *scan.Client
		for _, c := range active {
			if c.Settings.Mode == scan.ModeOpportunistic {
				continue
			}
			if winner == nil || c.Settings.Mode.MoreAggressive(winner.Settings.Mode) {
				winner = c
			}
		}

		snap := s.snapshot()
		if winner == nil {
			s.False(snap.Regular.Scanning, "step %d: no eligible client MUST stop the scan", step)
			continue
		}
		s.Require().True(snap.Regular.Scanning, "step %d", step)
		s.Equal(winner.Settings.Mode.Rank(), snap.Regular.Mode.Rank(), "step %d", step)
		s.Equal(scan.RegularTiming(winner.Settings.Mode), s.lastTiming(), "step %d", step)
	}
}

func (s *SchedulerTestSuite) TestSuspendedUntilScreenOn() {
	s.opts.ScreenOn = false
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower)))

	s.Equal("suspended", s.info(1).Partition)
	s.Empty(s.rec.Commands(), "a suspended client MUST NOT touch the controller")

	s.Require().NoError(s.sched.OnScreenOn(s.ctx))

	s.Equal("regular", s.info(1).Partition)
	s.Equal(1, s.rec.Count(controller.KindSetScanParams))
	s.Equal(1, s.rec.Count(controller.KindStartScan))

	s.Require().NoError(s.sched.OnScreenOn(s.ctx))
	s.Equal(1, s.rec.Count(controller.KindStartScan), "start sequence MUST be issued exactly once")
}

func (s *SchedulerTestSuite) TestFilteredClientRunsWithScreenOff() {
	s.opts.ScreenOn = false
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower, scan.Filter{Name: "tag"})))

	info := s.info(1)
	s.Equal("regular", info.Partition)
	s.Equal(scan.ModeScreenOff, info.EffectiveMode)
	s.Equal(scan.RegularTiming(scan.ModeScreenOff), s.lastTiming())
}

func (s *SchedulerTestSuite) TestUpgradeThenRevert() {
	s.opts.UpgradeDuration = 10 * time.Second
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeBalanced)))

	s.True(s.info(1).Upgraded)
	s.Equal(scan.ModeLowLatency, s.info(1).EffectiveMode)
	s.Equal(scan.RegularTiming(scan.ModeLowLatency), s.lastTiming())

	s.advance(9 * time.Second)
	s.Equal(1, s.rec.Count(controller.KindSetScanParams), "revert MUST NOT run early")

	s.advance(time.Second)
	s.Equal(2, s.rec.Count(controller.KindSetScanParams))
	s.Equal(scan.RegularTiming(scan.ModeBalanced), s.lastTiming())
	s.Equal(scan.ModeBalanced, s.info(1).EffectiveMode)
	s.False(s.info(1).Upgraded)

	s.advance(time.Minute)
	s.Equal(2, s.rec.Count(controller.KindSetScanParams), "revert MUST happen exactly once")
}

func (s *SchedulerTestSuite) TestUpgradeSkipsBusyCaller() {
	s.opts.UpgradeDuration = 10 * time.Second
	s.opts.ScanQuotaCount = 2
	s.boot()

	for id := scan.ClientID(1); id <= 3; id++ {
		s.Require().NoError(s.sched.Start(s.ctx, regular(id, scan.ModeLowPower, scan.Filter{Name: "x"})))
	}

	s.True(s.info(1).Upgraded)
	s.True(s.info(2).Upgraded)
	s.False(s.info(3).Upgraded, "a caller over its start quota MUST NOT be boosted")
	s.Equal(scan.ModeLowPower, s.info(3).EffectiveMode)
}

func (s *SchedulerTestSuite) TestRevertLeavesIndependentlyChangedClient() {
	s.opts.UpgradeDuration = 10 * time.Second
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeBalanced)))
	s.Require().NoError(s.sched.OnForegroundChanged(s.ctx, callerUID, scan.ImportanceBackground))

	s.Equal(scan.ModeLowPower, s.info(1).EffectiveMode)
	s.False(s.info(1).Upgraded)
	count := s.rec.Count(controller.KindSetScanParams)

	snap := s.advance(10 * time.Second)
	s.Equal(scan.ModeLowPower, s.info(1).EffectiveMode)
	s.Equal(count, s.rec.Count(controller.KindSetScanParams))
	s.Equal(1, snap.PendingTimers, "only the scan timeout MUST stay armed")
}

func (s *SchedulerTestSuite) TestDowngradeUnfilteredOnTimeout() {
	s.opts.ScanTimeout = time.Minute
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowLatency)))
	free := s.snapshot().Pool.FreeSlots
	s.rec.Reset()

	snap := s.advance(time.Minute)

	info := s.info(1)
	s.Equal(scan.ModeOpportunistic, info.EffectiveMode)
	s.True(info.TimedOut)
	s.Empty(info.Slots)
	s.False(snap.Regular.Scanning)
	s.Equal(free, snap.Pool.FreeSlots)
	s.Equal([]controller.Kind{
		controller.KindDeleteFilterParam,
		controller.KindStopScan,
		controller.KindEnableFilter,
	}, s.rec.Kinds())

	s.rec.Reset()
	snap = s.advance(time.Hour)
	s.Empty(s.rec.Commands(), "timeout MUST NOT be re-armed for an opportunistic client")
	s.Zero(snap.PendingTimers)

	s.Require().NoError(s.sched.Stop(s.ctx, 1))
	s.Empty(s.rec.Commands(), "released resources MUST NOT be released twice")
}

func (s *SchedulerTestSuite) TestDowngradeFilteredOnTimeout() {
	s.opts.ScanTimeout = time.Minute
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowLatency, scan.Filter{Name: "tag"})))
	slots := s.info(1).Slots

	s.advance(time.Minute)

	info := s.info(1)
	s.Equal(scan.ModeLowPower, info.EffectiveMode)
	s.Equal(slots, info.Slots, "filtered clients MUST keep their slots")
	s.Equal(scan.RegularTiming(scan.ModeLowPower), s.lastTiming())
}

func (s *SchedulerTestSuite) TestTimeoutExemptClient() {
	s.opts.ScanTimeout = time.Minute
	s.boot()

	c := regular(1, scan.ModeLowLatency, scan.Filter{Name: "tag"})
	c.Settings.CallbackType = scan.CallbackFirstMatch
	s.Require().NoError(s.sched.Start(s.ctx, c))
	s.Zero(s.snapshot().PendingTimers)

	s.advance(time.Hour)

	s.Equal(scan.ModeLowLatency, s.info(1).EffectiveMode)
	s.False(s.info(1).TimedOut)
}

func (s *SchedulerTestSuite) TestResourceExhaustion() {
	s.opts.FilterSlots = 5
	s.opts.TrackingBudget = 2
	s.boot()

	many := regular(1, scan.ModeBalanced, scan.Filter{Name: "a"}, scan.Filter{Name: "b"}, scan.Filter{Name: "c"})
	err := s.sched.Start(s.ctx, many)
	s.ErrorIs(err, scheduler.ErrResourceExhausted)

	tracked := regular(2, scan.ModeBalanced, scan.Filter{Name: "a"}, scan.Filter{Name: "b"})
	tracked.Settings.CallbackType = scan.CallbackFirstMatch
	tracked.Settings.MatchNum = scan.MatchFew
	err = s.sched.Start(s.ctx, tracked)
	s.ErrorIs(err, scheduler.ErrResourceExhausted)

	snap := s.snapshot()
	s.Empty(snap.Clients, "failed admissions MUST retain nothing")
	s.Equal(2, snap.Pool.FreeSlots)
	s.Zero(snap.Pool.TrackingUsed)
	s.Empty(s.rec.Commands())

	ok := regular(3, scan.ModeBalanced, scan.Filter{Name: "a"})
	ok.Settings.CallbackType = scan.CallbackFirstMatch
	s.Require().NoError(s.sched.Start(s.ctx, ok))
	s.Equal(1, s.info(3).Tracking)
}

func (s *SchedulerTestSuite) TestDuplicateAndUnknownClients() {
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower)))
	s.ErrorIs(s.sched.Start(s.ctx, regular(1, scan.ModeLowLatency)), scheduler.ErrDuplicateClient)
	s.Equal(scan.ModeLowPower, s.info(1).EffectiveMode, "a duplicate MUST NOT change the admitted client")

	s.ErrorIs(s.sched.Stop(s.ctx, 99), scheduler.ErrUnknownClient)
	s.ErrorIs(s.sched.Start(s.ctx, nil), scheduler.ErrInvalidClient)
	s.ErrorIs(s.sched.Start(s.ctx, regular(scan.NoClient, scan.ModeLowPower)), scheduler.ErrInvalidClient)
}

func (s *SchedulerTestSuite) TestScreenOffSweep() {
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeBalanced)))
	s.Require().NoError(s.sched.Start(s.ctx, regular(2, scan.ModeLowPower, scan.Filter{Name: "tag"})))
	s.rec.Reset()

	s.Require().NoError(s.sched.OnScreenOff(s.ctx))

	s.Equal("suspended", s.info(1).Partition)
	s.Equal(scan.ModeScreenOff, s.info(2).EffectiveMode)
	s.Equal(1, s.rec.Count(controller.KindSetScanParams), "one sweep MUST reconfigure once")
	s.Equal(scan.RegularTiming(scan.ModeScreenOff), s.lastTiming())
	s.rec.Reset()

	s.Require().NoError(s.sched.OnScreenOn(s.ctx))

	s.Equal("regular", s.info(1).Partition)
	s.Equal(scan.ModeLowPower, s.info(2).EffectiveMode)
	s.Equal(1, s.rec.Count(controller.KindSetScanParams))
	s.Equal(scan.RegularTiming(scan.ModeBalanced), s.lastTiming())
}

func (s *SchedulerTestSuite) TestLocationSweep() {
	s.boot()

	exempt := regular(1, scan.ModeLowPower)
	exempt.HasLocationExemption = true
	s.Require().NoError(s.sched.Start(s.ctx, exempt))
	s.Require().NoError(s.sched.Start(s.ctx, regular(2, scan.ModeBalanced)))

	s.Require().NoError(s.sched.OnLocationEnabled(s.ctx, false))

	s.Equal("regular", s.info(1).Partition)
	s.Equal("suspended", s.info(2).Partition)
	s.Equal(scan.ModeLowPower, s.snapshot().Regular.Mode)

	s.Require().NoError(s.sched.OnLocationEnabled(s.ctx, true))

	s.Equal("regular", s.info(2).Partition)
	s.Equal(scan.ModeBalanced, s.snapshot().Regular.Mode)
}

func (s *SchedulerTestSuite) TestBackgroundCallerIsCapped() {
	s.boot()
	s.Require().NoError(s.sched.OnForegroundChanged(s.ctx, callerUID, scan.ImportanceBackground))

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowLatency)))
	s.Equal(scan.ModeLowPower, s.info(1).EffectiveMode)

	s.Require().NoError(s.sched.OnForegroundChanged(s.ctx, callerUID, scan.ImportanceForeground))
	s.Equal(scan.ModeLowLatency, s.info(1).EffectiveMode)
	s.Equal(scan.RegularTiming(scan.ModeLowLatency), s.lastTiming())
}

func (s *SchedulerTestSuite) TestRegularModeFollowsTimingTwin() {
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeBalanced, scan.Filter{Name: "tag"})))
	s.rec.Reset()

	s.Require().NoError(s.sched.OnScreenOff(s.ctx))

	snap := s.snapshot()
	s.Equal(scan.ModeScreenOffBalanced, s.info(1).EffectiveMode)
	s.Equal(scan.ModeScreenOffBalanced, snap.Regular.Mode)
	s.Equal(scan.RegularTiming(scan.ModeBalanced), snap.Regular.Timing)
	s.Empty(s.rec.Kinds(), "same timing MUST NOT reconfigure the controller")

	s.Require().NoError(s.sched.OnScreenOn(s.ctx))

	snap = s.snapshot()
	s.Equal(scan.ModeBalanced, snap.Regular.Mode)
	s.Empty(s.rec.Kinds())
}

func (s *SchedulerTestSuite) TestBatchClientFollowsScreenState() {
	s.opts.ScreenOn = false
	s.boot()

	c := scan.NewClient(1, callerUID, scan.Settings{
		Mode:        scan.ModeBalanced,
		ReportDelay: 10 * time.Second,
		ResultType:  scan.ResultFull,
	}, scan.Filter{Name: "tag"})
	s.Require().NoError(s.sched.Start(s.ctx, c))

	s.Equal("batch", s.info(1).Partition)
	s.Equal(scan.ModeScreenOffBalanced, s.info(1).EffectiveMode)
	start, ok := s.rec.Last(controller.KindStartBatch)
	s.Require().True(ok)
	s.Equal(scan.BatchTiming(scan.ModeScreenOffBalanced), start.Timing)
	s.rec.Reset()

	s.Require().NoError(s.sched.OnScreenOn(s.ctx))

	s.Equal(scan.ModeBalanced, s.info(1).EffectiveMode)
	s.Equal(scan.ModeBalanced, s.snapshot().Batch.Mode)
	s.Equal(1, s.rec.Count(controller.KindStartBatch), "one sweep MUST restart the batch scan once")
	start, _ = s.rec.Last(controller.KindStartBatch)
	s.Equal(scan.BatchTiming(scan.ModeBalanced), start.Timing)
	s.rec.Reset()

	s.Require().NoError(s.sched.OnScreenOff(s.ctx))

	s.Equal("batch", s.info(1).Partition, "filtered batch clients MUST keep running with the screen off")
	s.Equal(scan.ModeScreenOffBalanced, s.snapshot().Batch.Mode)
	start, _ = s.rec.Last(controller.KindStartBatch)
	s.Equal(scan.BatchTiming(scan.ModeScreenOffBalanced), start.Timing)
}

func (s *SchedulerTestSuite) TestBatchLifecycle() {
	s.boot()

	s.Require().NoError(s.sched.Start(s.ctx, batchClient(1, scan.ModeLowPower, scan.ResultFull, 10*time.Second)))

	s.Equal([]controller.Kind{
		controller.KindAddFilter,
		controller.KindConfigureBatchStorage,
		controller.KindStartBatch,
	}, s.rec.Kinds())
	add, _ := s.rec.Last(controller.KindAddFilter)
	s.Equal(2, add.Slot, "unfiltered batch clients MUST share the batch all-pass slot")
	snap := s.snapshot()
	s.True(snap.Batch.Active)
	s.Equal(scan.ClientID(1), snap.Batch.FullClient)
	s.Equal(1, snap.PendingTimers)
	s.False(snap.Regular.Scanning, "batch clients MUST NOT take part in regular arbitration")

	s.advance(10 * time.Second)
	s.Equal(1, s.rec.Count(controller.KindReadReports))

	s.advance(9 * time.Second)
	s.Equal(1, s.rec.Count(controller.KindReadReports), "the next window MUST be measured from the last flush")
	s.advance(time.Second)
	s.Equal(2, s.rec.Count(controller.KindReadReports))

	s.rec.Reset()
	s.Require().NoError(s.sched.Start(s.ctx, batchClient(2, scan.ModeLowLatency, scan.ResultTruncated, 30*time.Second)))
	s.Equal([]controller.Kind{
		controller.KindStopBatch,
		controller.KindReadReports,
		controller.KindConfigureBatchStorage,
		controller.KindStartBatch,
	}, s.rec.Kinds())
	start, _ := s.rec.Last(controller.KindStartBatch)
	s.Equal(scan.ResultBoth, start.ResultType)
	s.Equal(scan.BatchTiming(scan.ModeLowLatency), start.Timing)

	s.rec.Reset()
	s.Require().NoError(s.sched.Stop(s.ctx, 1))
	s.Require().NoError(s.sched.Stop(s.ctx, 2))

	snap = s.snapshot()
	s.False(snap.Batch.Active)
	s.Zero(snap.PendingTimers, "flush alarm MUST be cancelled with the last batch client")
	s.Equal(1, s.rec.Count(controller.KindDeleteFilterParam))
}

func (s *SchedulerTestSuite) TestFlushBatch() {
	s.boot()
	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower)))
	s.Require().NoError(s.sched.Start(s.ctx, batchClient(2, scan.ModeLowPower, scan.ResultBoth, time.Minute)))
	s.rec.Reset()

	s.ErrorIs(s.sched.FlushBatch(s.ctx, 1), scheduler.ErrNotBatch)
	s.ErrorIs(s.sched.FlushBatch(s.ctx, 9), scheduler.ErrUnknownClient)

	s.Require().NoError(s.sched.FlushBatch(s.ctx, 2))
	cmds := s.rec.Commands()
	s.Require().Len(cmds, 2)
	s.Equal(scan.ResultFull, cmds[0].ResultType)
	s.Equal(scan.ResultTruncated, cmds[1].ResultType)
}

func (s *SchedulerTestSuite) TestCallerDied() {
	s.build()
	hook := &mockUnregisterer{}
	hook.On("Unregister", 42, scan.ClientID(1)).Return().Once()
	hook.On("Unregister", 42, scan.ClientID(2)).Return().Once()
	s.sched.SetUnregisterer(hook)
	s.Require().NoError(s.sched.Run(s.ctx))

	dying := scan.NewClient(1, 42, scan.Settings{Mode: scan.ModeLowLatency}, scan.Filter{Name: "a"})
	dyingBatch := scan.NewClient(2, 42, scan.Settings{Mode: scan.ModeLowPower, ReportDelay: time.Second})
	survivor := scan.NewClient(3, 7, scan.Settings{Mode: scan.ModeLowPower})
	free := s.snapshot().Pool.FreeSlots
	for _, c := range []*scan.Client{dying, dyingBatch, survivor} {
		s.Require().NoError(s.sched.Start(s.ctx, c))
	}

	s.Require().NoError(s.sched.OnCallerDied(s.ctx, 42))

	snap := s.snapshot()
	s.Require().Len(snap.Clients, 1)
	s.Equal(scan.ClientID(3), snap.Clients[0].ID)
	s.Equal(free, snap.Pool.FreeSlots)
	s.Equal(scan.ModeLowPower, snap.Regular.Mode)
	s.False(snap.Batch.Active)
	hook.AssertExpectations(s.T())

	s.Require().NoError(s.sched.Stop(s.ctx, 3))
	hook.AssertNumberOfCalls(s.T(), "Unregister", 2)
}

func (s *SchedulerTestSuite) TestUnregisterFuncAdapter() {
	var got []scan.ClientID
	var u scheduler.Unregisterer = scheduler.UnregisterFunc(func(_ int, id scan.ClientID) { got = append(got, id) })
	u.Unregister(1, 5)
	s.Equal([]scan.ClientID{5}, got)
}

func (s *SchedulerTestSuite) TestControllerTimeoutIsSoft() {
	s.boot()
	s.rec.Silence(controller.KindStartScan, true)

	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower)), "a timeout MUST NOT fail admission")
	snap := s.snapshot()
	s.True(snap.Regular.Stale)
	s.True(snap.Regular.Scanning, "state MUST be retained optimistically")

	s.rec.Silence(controller.KindStartScan, false)
	s.Require().NoError(s.sched.Start(s.ctx, regular(2, scan.ModeLowPower)))

	snap = s.snapshot()
	s.False(snap.Regular.Stale)
	s.Equal(2, s.rec.Count(controller.KindSetScanParams), "the next change MUST re-issue the configuration")
}

func (s *SchedulerTestSuite) TestLateAckIsDropped() {
	s.boot()
	s.rec.Silence(controller.KindStartScan, true)
	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower)))

	cmd, ok := s.rec.Last(controller.KindStartScan)
	s.Require().True(ok)
	s.False(s.sched.OnControllerAck(cmd.ID, controller.StatusSuccess))
}

func (s *SchedulerTestSuite) TestScanResultRouting() {
	s.boot()
	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower)))
	s.Require().NoError(s.sched.Start(s.ctx, regular(2, scan.ModeLowPower, scan.Filter{Name: "tag"})))
	all, ok := s.sched.Results(1)
	s.Require().True(ok)
	tagged, ok := s.sched.Results(2)
	s.Require().True(ok)

	tag := testutils.CreateMockAdvertisement("tag", "aa:bb:cc:dd:ee:01", -50).Build()
	other := testutils.CreateMockAdvertisement("other", "aa:bb:cc:dd:ee:02", -70).Build()
	s.Require().NoError(s.sched.OnScanResult(s.ctx, tag))
	s.Require().NoError(s.sched.OnScanResult(s.ctx, other))

	s.Len(all, 2)
	s.Require().Len(tagged, 1)
	res := <-tagged
	s.Equal("tag", res.Name)
	s.Equal(-50, res.RSSI)
	s.Equal(testutils.Epoch, res.Timestamp)

	s.Require().NoError(s.sched.Stop(s.ctx, 1))
	<-all
	<-all
	_, open := <-all
	s.False(open, "results MUST be closed when the client stops")
}

func (s *SchedulerTestSuite) TestBatchReportRouting() {
	s.boot()
	s.Require().NoError(s.sched.Start(s.ctx, batchClient(1, scan.ModeLowPower, scan.ResultTruncated, time.Minute)))
	s.Require().NoError(s.sched.Start(s.ctx, batchClient(2, scan.ModeLowPower, scan.ResultFull, time.Minute)))
	trunc, _ := s.sched.Results(1)
	full, _ := s.sched.Results(2)

	adv := testutils.CreateMockAdvertisement("tag", "aa:bb:cc:dd:ee:01", -50).Build()
	s.Require().NoError(s.sched.OnBatchReports(s.ctx, scan.ResultTruncated, []scan.Advertisement{adv}))

	s.Require().Len(trunc, 1)
	s.Empty(full)
	res := <-trunc
	s.True(res.Truncated)
	s.Empty(res.Name)
	s.Equal("aa:bb:cc:dd:ee:01", res.Address)

	s.Error(s.sched.OnBatchReports(s.ctx, scan.ResultBoth, nil))
}

func (s *SchedulerTestSuite) TestCloseRejectsCalls() {
	s.boot()
	s.Require().NoError(s.sched.Start(s.ctx, regular(1, scan.ModeLowPower, scan.Filter{Name: "tag"})))
	s.Require().NoError(s.sched.Close())

	s.ErrorIs(s.sched.Start(s.ctx, regular(2, scan.ModeLowPower)), scheduler.ErrClosed)
	s.ErrorIs(s.sched.Run(s.ctx), scheduler.ErrAlreadyRunning)
	s.Equal(1, s.rec.Count(controller.KindDeleteFilterParam), "close MUST release held slots")
	s.Equal(1, s.rec.Count(controller.KindStopScan))
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}
