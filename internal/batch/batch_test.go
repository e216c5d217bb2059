package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/srg/scanmux/internal/batch"
	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/scan"
	"github.com/srg/scanmux/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func batchClient(id scan.ClientID, m scan.Mode, rt scan.ResultType, delay time.Duration) *scan.Client {
	return scan.NewClient(id, 1000, scan.Settings{Mode: m, ReportDelay: delay, ResultType: rt})
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		clients []*scan.Client
		want    batch.Aggregate
	}{
		{name: "no clients", want: batch.Empty},
		{
			name:    "single full consumer",
			clients: []*scan.Client{batchClient(1, scan.ModeLowPower, scan.ResultFull, time.Second)},
			want:    batch.Aggregate{ScanMode: scan.ModeLowPower, FullClient: 1, TruncatedClient: scan.NoClient},
		},
		{
			name: "first consumer of each flavor wins, mode is most aggressive",
			clients: []*scan.Client{
				batchClient(1, scan.ModeLowPower, scan.ResultTruncated, time.Second),
				batchClient(2, scan.ModeLowLatency, scan.ResultFull, time.Second),
				batchClient(3, scan.ModeBalanced, scan.ResultFull, time.Second),
			},
			want: batch.Aggregate{ScanMode: scan.ModeLowLatency, FullClient: 2, TruncatedClient: 1},
		},
		{
			name:    "both consumes both flavors",
			clients: []*scan.Client{batchClient(4, scan.ModeBalanced, scan.ResultBoth, time.Second)},
			want:    batch.Aggregate{ScanMode: scan.ModeBalanced, FullClient: 4, TruncatedClient: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := batch.Compute(tt.clients)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Compute() mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, got, batch.Compute(tt.clients), "Compute MUST be deterministic")
		})
	}
}

func TestAggregate_Storage(t *testing.T) {
	full := batch.Aggregate{FullClient: 1, TruncatedClient: scan.NoClient}
	trunc := batch.Aggregate{FullClient: scan.NoClient, TruncatedClient: 2}
	both := batch.Aggregate{FullClient: 1, TruncatedClient: 2}

	assert.Equal(t, controller.Storage{FullPct: 100, NotifyThresholdPct: 95}, full.Storage())
	assert.Equal(t, controller.Storage{TruncatedPct: 100, NotifyThresholdPct: 95}, trunc.Storage())
	assert.Equal(t, controller.Storage{FullPct: 50, TruncatedPct: 50, NotifyThresholdPct: 95}, both.Storage())

	assert.Equal(t, scan.ResultBoth, both.ResultType())
	assert.Equal(t, []scan.ResultType{scan.ResultFull, scan.ResultTruncated}, both.Consumers())
}

func TestMinReportDelayAndWindow(t *testing.T) {
	clients := []*scan.Client{
		batchClient(1, scan.ModeLowPower, scan.ResultFull, 30*time.Second),
		batchClient(2, scan.ModeLowPower, scan.ResultFull, 10*time.Second),
	}
	assert.Equal(t, 10*time.Second, batch.MinReportDelay(clients))
	assert.Zero(t, batch.MinReportDelay(nil))

	w := batch.FlushWindow(10*time.Second, 10)
	assert.Equal(t, batch.Window{Earliest: 10 * time.Second, Latest: 11 * time.Second}, w)
	assert.Equal(t, batch.Window{Earliest: time.Second, Latest: time.Second}, batch.FlushWindow(time.Second, 0))
}

type CoordinatorTestSuite struct {
	suite.Suite
	rec   *testutils.RecordingController
	ch    *controller.Channel
	coord *batch.Coordinator
}

func (s *CoordinatorTestSuite) SetupTest() {
	logger := testutils.NewTestHelper(s.T()).Logger
	s.rec = testutils.NewRecordingController()
	s.ch = controller.NewChannel(s.rec, 20*time.Millisecond, logger)
	s.rec.Bind(func(id uuid.UUID, st controller.Status) { s.ch.Ack(id, st) })
	s.coord = batch.NewCoordinator(s.ch, logger)
}

func (s *CoordinatorTestSuite) TestFirstApplyStartsBatch() {
	agg := batch.Compute([]*scan.Client{batchClient(1, scan.ModeBalanced, scan.ResultFull, time.Second)})

	changed, err := s.coord.Apply(context.Background(), agg)

	s.Require().NoError(err)
	s.True(changed)
	s.Equal([]controller.Kind{controller.KindConfigureBatchStorage, controller.KindStartBatch}, s.rec.Kinds())
	start, _ := s.rec.Last(controller.KindStartBatch)
	s.Equal(scan.ResultFull, start.ResultType)
	s.Equal(scan.BatchTiming(scan.ModeBalanced), start.Timing)
}

func (s *CoordinatorTestSuite) TestIdempotentApply() {
	agg := batch.Compute([]*scan.Client{batchClient(1, scan.ModeBalanced, scan.ResultFull, time.Second)})
	_, err := s.coord.Apply(context.Background(), agg)
	s.Require().NoError(err)
	s.rec.Reset()

	changed, err := s.coord.Apply(context.Background(), batch.Compute([]*scan.Client{
		batchClient(1, scan.ModeBalanced, scan.ResultFull, time.Second),
	}))

	s.NoError(err)
	s.False(changed)
	s.Empty(s.rec.Commands())
}

func (s *CoordinatorTestSuite) TestReconfigureStopsFlushesAndRestarts() {
	_, err := s.coord.Apply(context.Background(), batch.Aggregate{
		ScanMode: scan.ModeLowPower, FullClient: 1, TruncatedClient: 2,
	})
	s.Require().NoError(err)
	s.rec.Reset()

	_, err = s.coord.Apply(context.Background(), batch.Aggregate{
		ScanMode: scan.ModeLowLatency, FullClient: 1, TruncatedClient: scan.NoClient,
	})

	s.Require().NoError(err)
	s.Equal([]controller.Kind{
		controller.KindStopBatch,
		controller.KindReadReports,
		controller.KindReadReports,
		controller.KindConfigureBatchStorage,
		controller.KindStartBatch,
	}, s.rec.Kinds())
	cmds := s.rec.Commands()
	s.Equal(scan.ResultFull, cmds[1].ResultType, "full reports MUST be read first")
	s.Equal(scan.ResultTruncated, cmds[2].ResultType)
}

func (s *CoordinatorTestSuite) TestEmptyAggregateOnlyStops() {
	_, err := s.coord.Apply(context.Background(), batch.Aggregate{
		ScanMode: scan.ModeLowPower, FullClient: scan.NoClient, TruncatedClient: 3,
	})
	s.Require().NoError(err)
	s.rec.Reset()

	changed, err := s.coord.Apply(context.Background(), batch.Empty)

	s.NoError(err)
	s.True(changed)
	s.Equal([]controller.Kind{controller.KindStopBatch, controller.KindReadReports}, s.rec.Kinds())
	s.True(s.coord.Applied().IsEmpty())
}

func (s *CoordinatorTestSuite) TestTimeoutMarksStaleAndReissues() {
	s.rec.Silence(controller.KindStartBatch, true)
	agg := batch.Aggregate{ScanMode: scan.ModeBalanced, FullClient: 1, TruncatedClient: scan.NoClient}

	_, err := s.coord.Apply(context.Background(), agg)

	s.ErrorIs(err, controller.ErrTimeout)
	s.True(s.coord.Stale())
	s.Equal(agg, s.coord.Applied(), "state MUST be retained optimistically")

	s.rec.Silence(controller.KindStartBatch, false)
	s.rec.Reset()
	changed, err := s.coord.Apply(context.Background(), agg)

	s.NoError(err)
	s.True(changed, "stale configuration MUST be re-issued")
	s.False(s.coord.Stale())
	s.Equal(1, s.rec.Count(controller.KindStartBatch))
}

func (s *CoordinatorTestSuite) TestFlush() {
	s.NoError(s.coord.Flush(context.Background()))
	s.Empty(s.rec.Commands(), "nothing applied, nothing to read")

	_, err := s.coord.Apply(context.Background(), batch.Aggregate{
		ScanMode: scan.ModeBalanced, FullClient: 1, TruncatedClient: 1,
	})
	s.Require().NoError(err)
	s.rec.Reset()

	s.rec.FailAck(controller.KindReadReports, true)
	err = s.coord.Flush(context.Background())

	s.ErrorIs(err, controller.ErrRejected)
	s.Equal(2, s.rec.Count(controller.KindReadReports), "each read MUST be attempted independently")
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func TestCoordinator_ZeroValueLogger(t *testing.T) {
	rec := testutils.NewRecordingController()
	ch := controller.NewChannel(rec, time.Second, nil)
	rec.Bind(func(id uuid.UUID, st controller.Status) { ch.Ack(id, st) })

	coord := batch.NewCoordinator(ch, nil)
	changed, err := coord.Apply(context.Background(), batch.Empty)

	require.NoError(t, err)
	assert.False(t, changed)
}
