package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srg/blescale/internal/frame"
)

// outputRecord is one item of monitor output: a decoded weight reading or
// a raw protocol line, never both.
type outputRecord struct {
	When    time.Time
	Reading *frame.Reading // nil for message records
	Message string
}

// collectorMetrics tracks collector counters with atomic access.
type collectorMetrics struct {
	collected   int64 // records accepted into the ring
	overwritten int64 // records lost to overwrite when the renderer lagged
}

func (m *collectorMetrics) Collected() int64   { return atomic.LoadInt64(&m.collected) }
func (m *collectorMetrics) Overwritten() int64 { return atomic.LoadInt64(&m.overwritten) }

// recordCollector lifecycle states, advanced atomically.
const (
	collectorStateNotRunning uint32 = iota
	collectorStateRunning
	collectorStateStopping

	// maxCollectorBuffer guards against accidental misconfiguration.
	maxCollectorBuffer uint32 = 1 << 16
)

// recordCollector fans readings and protocol messages into a fixed-size
// overwrite-oldest ring so a slow renderer never stalls the feed and
// always sees the newest records.
//
// A recordCollector is single-use. All methods are safe for concurrent
// use, but Drain expects one consumer.
type recordCollector struct {
	readings <-chan frame.Reading
	messages <-chan string
	buffer   mpmc.RichOverlappedRingBuffer[outputRecord]
	stop     chan struct{}
	done     chan struct{} // closed when the fan-in goroutine exits
	metrics  collectorMetrics
	state    uint32
}

// newRecordCollector creates a collector over the given feeds. Either
// channel may be nil; at least one must be set.
func newRecordCollector(readings <-chan frame.Reading, messages <-chan string, bufferSize uint32) (*recordCollector, error) {
	if readings == nil && messages == nil {
		return nil, fmt.Errorf("at least one input channel is required")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > maxCollectorBuffer {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, maxCollectorBuffer)
	}

	return &recordCollector{
		readings: readings,
		messages: messages,
		buffer:   mpmc.NewOverlappedRingBuffer[outputRecord](bufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins collecting in a background goroutine. Returns an error if
// the collector is not in its initial state.
func (c *recordCollector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, collectorStateNotRunning, collectorStateRunning) {
		switch atomic.LoadUint32(&c.state) {
		case collectorStateRunning:
			return fmt.Errorf("collector is already running")
		default:
			return fmt.Errorf("collector cannot be restarted")
		}
	}
	go c.collect()
	return nil
}

func (c *recordCollector) collect() {
	defer close(c.done)

	// Local copies let an exhausted feed be nilled out of the select.
	readings, messages := c.readings, c.messages
	for {
		select {
		case <-c.stop:
			return
		case r, ok := <-readings:
			if !ok {
				readings = nil
				if messages == nil {
					return
				}
				continue
			}
			c.push(outputRecord{When: time.Now(), Reading: &r})
		case m, ok := <-messages:
			if !ok {
				messages = nil
				if readings == nil {
					return
				}
				continue
			}
			if m == "" {
				continue
			}
			c.push(outputRecord{When: time.Now(), Message: m})
		}
	}
}

func (c *recordCollector) push(rec outputRecord) {
	// The overlapped ring drops the oldest record on overflow and reports
	// how many were lost.
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		return
	}
	atomic.AddInt64(&c.metrics.overwritten, int64(overwrites))
	atomic.AddInt64(&c.metrics.collected, 1)
}

// Stop shuts the fan-in goroutine down and waits for it to exit. Safe to
// call more than once.
func (c *recordCollector) Stop() {
	if atomic.CompareAndSwapUint32(&c.state, collectorStateRunning, collectorStateStopping) {
		close(c.stop)
	} else if atomic.LoadUint32(&c.state) == collectorStateNotRunning {
		return
	}
	<-c.done
}

// Drain dequeues every buffered record in arrival order and hands each to
// consume. Records pushed while draining are picked up too.
func (c *recordCollector) Drain(consume func(outputRecord)) error {
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			return fmt.Errorf("buffer dequeue error: %w", err)
		}
		consume(rec)
	}
	return nil
}

// Metrics returns a snapshot of the collector counters.
func (c *recordCollector) Metrics() collectorMetrics {
	return collectorMetrics{
		collected:   c.metrics.Collected(),
		overwritten: c.metrics.Overwritten(),
	}
}
