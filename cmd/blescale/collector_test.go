package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blescale/internal/frame"
)

// CollectorTestSuite provides testify/suite for proper test isolation
type CollectorTestSuite struct {
	suite.Suite
	readings chan frame.Reading
	messages chan string
}

// SetupTest runs before each test in the suite
func (suite *CollectorTestSuite) SetupTest() {
	suite.readings = make(chan frame.Reading, 16)
	suite.messages = make(chan string, 16)
}

func (suite *CollectorTestSuite) newStarted(size uint32) *recordCollector {
	c, err := newRecordCollector(suite.readings, suite.messages, size)
	suite.Require().NoError(err, "collector construction MUST succeed")
	suite.Require().NoError(c.Start(), "collector MUST start")
	return c
}

// waitForCollected polls until the collector absorbed at least want records.
func (suite *CollectorTestSuite) waitForCollected(c *recordCollector, want int64) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m := c.Metrics()
		if m.Collected() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	m := c.Metrics()
	suite.Require().FailNowf("collector lag", "collector MUST absorb %d records, got %d", want, m.Collected())
}

func (suite *CollectorTestSuite) drainAll(c *recordCollector) []outputRecord {
	var records []outputRecord
	suite.Require().NoError(c.Drain(func(rec outputRecord) {
		records = append(records, rec)
	}), "drain MUST succeed")
	return records
}

func (suite *CollectorTestSuite) TestRejectsBadConfiguration() {
	// GOAL: Verify constructor validation
	//
	// TEST SCENARIO: nil feeds, zero size and oversized rings are all refused

	_, err := newRecordCollector(nil, nil, 8)
	suite.Assert().Error(err, "nil feeds MUST be rejected")

	_, err = newRecordCollector(suite.readings, suite.messages, 0)
	suite.Assert().Error(err, "zero buffer size MUST be rejected")

	_, err = newRecordCollector(suite.readings, suite.messages, maxCollectorBuffer+1)
	suite.Assert().Error(err, "oversized buffer MUST be rejected")
}

func (suite *CollectorTestSuite) TestCollectsReadingsAndMessagesInOrder() {
	// GOAL: Verify both feeds land in one ring in arrival order
	//
	// TEST SCENARIO: reading → message → reading → drain yields all three with their payloads

	c := suite.newStarted(16)
	defer c.Stop()

	suite.readings <- frame.Reading{Weight: 71.45, Stable: false, Unit: frame.Kilogram}
	suite.waitForCollected(c, 1)
	suite.messages <- "ST,GS,   71.45,kg"
	suite.waitForCollected(c, 2)
	suite.readings <- frame.Reading{Weight: 71.45, Stable: true, Unit: frame.Kilogram}
	suite.waitForCollected(c, 3)

	records := suite.drainAll(c)
	suite.Require().Len(records, 3)

	suite.Require().NotNil(records[0].Reading, "first record MUST be a reading")
	suite.Assert().InDelta(71.45, records[0].Reading.Weight, 0.001)
	suite.Assert().False(records[0].Reading.Stable)

	suite.Assert().Nil(records[1].Reading, "second record MUST be a message")
	suite.Assert().Equal("ST,GS,   71.45,kg", records[1].Message)

	suite.Require().NotNil(records[2].Reading)
	suite.Assert().True(records[2].Reading.Stable)

	m := c.Metrics()
	suite.Assert().EqualValues(0, m.Overwritten(), "nothing MUST be lost below capacity")
}

func (suite *CollectorTestSuite) TestOverwritesOldestWhenFull() {
	// GOAL: Verify a stalled consumer loses the oldest records, never the newest
	//
	// TEST SCENARIO: push more messages than the ring holds without draining →
	// drain returns the newest ones and the loss is accounted

	c := suite.newStarted(4)
	defer c.Stop()

	lines := []string{"one", "two", "three", "four", "five", "six", "seven", "eight"}
	for _, line := range lines {
		suite.messages <- line
	}
	suite.waitForCollected(c, int64(len(lines)))

	records := suite.drainAll(c)
	suite.Require().NotEmpty(records)
	suite.Assert().LessOrEqual(len(records), 4, "ring MUST NOT hold more than its capacity")
	suite.Assert().Equal("eight", records[len(records)-1].Message, "the newest record MUST survive")
	m := c.Metrics()
	suite.Assert().EqualValues(len(lines)-len(records), m.Overwritten(),
		"every record is either drained or counted as overwritten")
}

func (suite *CollectorTestSuite) TestSkipsEmptyMessages() {
	// GOAL: Verify blank lines never reach the renderer
	//
	// TEST SCENARIO: push "" then a real line → only the real line is buffered

	c := suite.newStarted(8)
	defer c.Stop()

	suite.messages <- ""
	suite.messages <- "WT: 71.45 kg"
	suite.waitForCollected(c, 1)

	records := suite.drainAll(c)
	suite.Require().Len(records, 1)
	suite.Assert().Equal("WT: 71.45 kg", records[0].Message)
}

func (suite *CollectorTestSuite) TestDoubleStartFails() {
	// GOAL: Verify the collector is single-use
	//
	// TEST SCENARIO: Start twice → second call errors; Stop twice → no panic, no hang

	c := suite.newStarted(8)
	suite.Assert().Error(c.Start(), "second Start MUST fail")

	c.Stop()
	c.Stop()
}

func (suite *CollectorTestSuite) TestStopsWhenFeedsClose() {
	// GOAL: Verify closed feeds shut the collector down on their own
	//
	// TEST SCENARIO: close both inputs → Stop returns without hanging

	c := suite.newStarted(8)

	close(suite.readings)
	close(suite.messages)

	c.Stop()
}

// TestCollectorSuite runs the test suite
func TestCollectorSuite(t *testing.T) {
	suite.Run(t, new(CollectorTestSuite))
}
