package testutils

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blescale/internal/config"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger so test
// output tracks the execution flow.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// QuietLogger returns a logger that discards everything, for tests that
// assert on behavior rather than output.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// FastConfig compresses every delay so bootstrap and polling flows
// complete within a test's patience.
func FastConfig() *config.Config {
	cfg := config.Default()
	cfg.Timing.Settle = 5 * time.Millisecond
	cfg.Timing.CommandGap = 5 * time.Millisecond
	cfg.Timing.PollBackstop = 20 * time.Millisecond
	cfg.Timing.PollInterval = 25 * time.Millisecond
	return cfg
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

func CreateMockPeripheral() *PeripheralBuilder {
	return NewPeripheralBuilder()
}
