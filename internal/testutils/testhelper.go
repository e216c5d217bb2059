package testutils

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/timeutil"
)

// Epoch is the start time of every mock clock built by the helper.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper. Logs are discarded unless SCANMUX_TEST_LOGS is set.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if os.Getenv("SCANMUX_TEST_LOGS") == "" {
		logger.SetOutput(io.Discard)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewMockClock returns a mock clock set to Epoch.
func (h *TestHelper) NewMockClock() *timeutil.MockClock {
	return timeutil.NewMockClock(Epoch)
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}
