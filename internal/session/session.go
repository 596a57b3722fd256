// Package session implements the scale session: a state machine owning
// scanning, the single BLE link, the post-connect bootstrap and the
// polling fallback. Everything observable about the session is published
// through latest-value watches; everything the transport reports flows
// through one serialized event queue.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blescale/internal/config"
	"github.com/srg/blescale/internal/endpoint"
	"github.com/srg/blescale/internal/frame"
	"github.com/srg/blescale/internal/groutine"
	"github.com/srg/blescale/internal/scan"
	"github.com/srg/blescale/internal/stream"
	"github.com/srg/blescale/internal/transport"
	"github.com/srg/blescale/internal/watch"
)

// Peer identifies the peripheral the session is connected to.
type Peer struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Session is the only surface callers touch. Control operations validate
// under the session mutex and issue transport calls outside it; transport
// events are handled one at a time on the event loop goroutine. gen
// counts connection attempts so timers scheduled for a dead link never
// act on a live one.
type Session struct {
	logger *logrus.Logger
	cfg    *config.Config
	tr     transport.Transport
	perm   transport.PermissionSource

	mu         sync.Mutex
	closed     bool
	state      State
	scanning   bool
	gen        uint64
	conn       transport.Conn
	endpoints  endpoint.Set
	dialCancel context.CancelFunc
	poller     *poller

	// start-command handshake progress
	hsActive  bool
	hsAwait   bool
	hsIdx     int
	hsTimeout *time.Timer

	reasm    *stream.Reassembler
	registry *scan.Registry

	tasks chan func()
	done  chan struct{}

	stateW    *watch.Value[State]
	devicesW  *watch.Value[[]scan.Device]
	scanningW *watch.Value[bool]
	messageW  *watch.Value[string]
	readingW  *watch.Value[frame.Reading]
	peerW     *watch.Value[Peer]
}

// New creates a session and starts its event loop. A nil cfg means
// defaults, a nil perm means permissions are treated as granted.
func New(tr transport.Transport, perm transport.PermissionSource, cfg *config.Config, logger *logrus.Logger) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if perm == nil {
		perm = transport.GrantedPermissions{}
	}

	s := &Session{
		logger:    logger,
		cfg:       cfg,
		tr:        tr,
		perm:      perm,
		registry:  scan.NewRegistry(logger),
		tasks:     make(chan func(), 128),
		done:      make(chan struct{}),
		stateW:    watch.NewValue[State](),
		devicesW:  watch.NewValue[[]scan.Device](),
		scanningW: watch.NewValue[bool](),
		messageW:  watch.NewValue[string](),
		readingW:  watch.NewValue[frame.Reading](),
		peerW:     watch.NewValue[Peer](),
	}
	s.reasm = stream.New(func(line string) {
		s.logger.WithField("message", line).Debug("Message assembled")
		s.messageW.Set(line)
	})

	s.registry.SetNameFilter(cfg.Scan.NameFilter)

	s.stateW.Set(Disconnected)
	s.scanningW.Set(false)
	s.devicesW.Set(nil)

	groutine.Go(nil, "session-events", s.run)
	return s
}

// StartScan clears the device registry and starts advertising delivery.
// Scanning while already scanning is a no-op.
func (s *Session) StartScan() error {
	if !s.perm.HasPermissions() {
		return ErrPermissionDenied
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = true
	s.mu.Unlock()

	s.registry.Clear()
	s.devicesW.Set(s.registry.Snapshot())
	s.scanningW.Set(true)
	s.logger.Info("Starting BLE scan")

	// Duplicates keep RSSI fresh; no filters, every match reported.
	err := s.tr.Scan(context.Background(), transport.ScanOptions{AllowDuplicates: true}, s.sink)
	if err != nil {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
		s.scanningW.Set(false)
		return &ScanError{Err: err}
	}

	// Teardown may have completed while the scan request was in flight;
	// it saw scanning=true before the transport did, so undo the request
	// it could not stop.
	s.mu.Lock()
	if s.closed {
		s.scanning = false
		s.mu.Unlock()
		s.tr.StopScan()
		return ErrClosed
	}
	s.mu.Unlock()
	return nil
}

// StopScan cancels a running scan. A no-op when not scanning.
func (s *Session) StopScan() {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return
	}
	s.scanning = false
	s.mu.Unlock()

	s.tr.StopScan()
	s.scanningW.Set(false)
	s.logger.Info("Scan stopped")
}

// Connect dials the peripheral at address. Rejected unless the session
// is disconnected; an active scan is stopped first. The outcome arrives
// through the state watch, not the return value.
func (s *Session) Connect(address string) error {
	if !s.perm.HasPermissions() {
		return ErrPermissionDenied
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = Connecting
	s.gen++
	wasScanning := s.scanning
	s.scanning = false
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	s.dialCancel = cancel
	s.mu.Unlock()

	if wasScanning {
		s.tr.StopScan()
		s.scanningW.Set(false)
	}
	s.stateW.Set(Connecting)

	name := ""
	if e, ok := s.registry.Get(address); ok {
		name = e.Name
	}
	s.peerW.Set(Peer{Address: address, Name: name})
	s.logger.WithFields(logrus.Fields{"device": name, "address": address}).Info("Connecting")

	if err := s.tr.Connect(ctx, address, s.sink); err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.gen++
		if s.dialCancel != nil {
			s.dialCancel()
			s.dialCancel = nil
		}
		s.mu.Unlock()
		s.stateW.Set(Disconnected)
		s.peerW.Set(Peer{})
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return nil
}

// Disconnect tears the active link down. Allowed only while connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return transport.ErrNotConnected
	}
	s.state = Disconnecting
	conn := s.conn
	p := s.poller
	s.poller = nil
	s.mu.Unlock()

	s.stateW.Set(Disconnecting)
	if p != nil {
		p.stop()
	}
	s.logger.Info("Disconnecting")
	if err := conn.Close(); err != nil {
		s.logger.WithError(err).Warn("Transport disconnect reported an error")
	}
	return nil
}

// SendCommand writes one command verbatim to the resolved write
// endpoint. The write completes asynchronously; a failure is logged, not
// returned.
func (s *Session) SendCommand(cmd string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return transport.ErrNotConnected
	}
	conn, set := s.conn, s.endpoints
	s.mu.Unlock()

	if set.Write == nil {
		return ErrEndpointUnavailable
	}
	s.logger.WithField("command", fmt.Sprintf("%q", cmd)).Debug("Sending command")
	conn.Write(set.Write, []byte(cmd), set.Write.Properties.CanWrite())
	return nil
}

// RequestRead issues one read on the resolved read endpoint. The value
// arrives through the message watch once reassembled.
func (s *Session) RequestRead() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return transport.ErrNotConnected
	}
	conn, set := s.conn, s.endpoints
	s.mu.Unlock()

	if set.Read == nil {
		return ErrEndpointUnavailable
	}
	conn.Read(set.Read)
	return nil
}

// SetNameFilter toggles the name-presence filter and republishes the
// device list. No rescan happens.
func (s *Session) SetNameFilter(enabled bool) {
	s.registry.SetNameFilter(enabled)
	s.devicesW.Set(s.registry.Snapshot())
}

// Teardown stops scanning, cancels polling, disconnects and releases
// everything the session owns. Safe to call more than once.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	scanning := s.scanning
	s.scanning = false
	prev := s.state
	s.state = Disconnected
	s.gen++
	conn := s.conn
	s.conn = nil
	s.endpoints = endpoint.Set{}
	p := s.poller
	s.poller = nil
	s.hsActive = false
	if s.hsTimeout != nil {
		s.hsTimeout.Stop()
		s.hsTimeout = nil
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.mu.Unlock()

	if scanning {
		s.tr.StopScan()
		s.scanningW.Set(false)
	}
	if p != nil {
		p.stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if prev != Disconnected {
		s.stateW.Set(Disconnected)
		s.peerW.Set(Peer{})
	}
	close(s.done)

	s.registry.Close()
	s.stateW.Close()
	s.devicesW.Close()
	s.scanningW.Close()
	s.messageW.Close()
	s.readingW.Close()
	s.peerW.Close()
	s.logger.Info("Session torn down")
}

// State publishes connection state transitions.
func (s *Session) State() *watch.Value[State] { return s.stateW }

// Devices publishes the filtered, RSSI-ordered device list after every
// advertisement.
func (s *Session) Devices() *watch.Value[[]scan.Device] { return s.devicesW }

// Scanning publishes the scanning flag.
func (s *Session) Scanning() *watch.Value[bool] { return s.scanningW }

// LastMessage publishes each reassembled text line and each unstable
// weight reading, newest value only.
func (s *Session) LastMessage() *watch.Value[string] { return s.messageW }

// LastReading publishes every decoded weight reading, stable or not.
func (s *Session) LastReading() *watch.Value[frame.Reading] { return s.readingW }

// ConnectedPeer publishes the identity of the connected peripheral, and
// a zero Peer after disconnect.
func (s *Session) ConnectedPeer() *watch.Value[Peer] { return s.peerW }

// DiscoveryEvents exposes the registry's per-advertisement feed.
func (s *Session) DiscoveryEvents() <-chan scan.DeviceEvent { return s.registry.Events() }

// Snapshot returns the current device list without subscribing.
func (s *Session) Snapshot() []scan.Device { return s.registry.Snapshot() }

// CurrentState returns the state without subscribing.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsScanning reports the scanning flag without subscribing.
func (s *Session) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}
