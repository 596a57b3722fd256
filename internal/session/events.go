package session

import (
	"context"
	"fmt"
	"time"

	"github.com/srg/blescale/internal/endpoint"
	"github.com/srg/blescale/internal/transport"
)

// run consumes the task queue. Every transport event and every deferred
// timer lands here, so handlers never race each other and characteristic
// values reach the reassembler in arrival order.
func (s *Session) run(ctx context.Context) {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sink is handed to every transport call.
func (s *Session) sink(ev transport.Event) {
	s.enqueue(func() { s.handleEvent(ev) })
}

func (s *Session) enqueue(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// afterGen schedules fn on the event queue after d. The closure is
// dropped when the connection generation moved on in the meantime, so
// timers armed for a dead link never touch its successor.
func (s *Session) afterGen(d time.Duration, gen uint64, fn func()) {
	time.AfterFunc(d, func() {
		s.enqueue(func() {
			s.mu.Lock()
			current := s.gen == gen && !s.closed
			s.mu.Unlock()
			if current {
				fn()
			}
		})
	})
}

func (s *Session) handleEvent(e transport.Event) {
	switch ev := e.(type) {
	case transport.AdvertisementEvent:
		s.onAdvertisement(ev)
	case transport.ScanFailedEvent:
		s.onScanFailed(ev)
	case transport.ConnectedEvent:
		s.onConnected(ev)
	case transport.DisconnectedEvent:
		s.onDisconnected(ev)
	case transport.ServicesEvent:
		s.onServices(ev)
	case transport.ValueEvent:
		s.feed(ev.Data)
	case transport.ReadResultEvent:
		s.onReadResult(ev)
	case transport.WriteResultEvent:
		s.onWriteResult(ev)
	case transport.DescriptorWriteEvent:
		s.onDescriptorWrite(ev)
	}
}

func (s *Session) onAdvertisement(ev transport.AdvertisementEvent) {
	s.mu.Lock()
	scanning := s.scanning
	s.mu.Unlock()
	if !scanning {
		return
	}

	reading, ok := s.registry.Upsert(ev.Adv)
	s.devicesW.Set(s.registry.Snapshot())
	if !ok {
		return
	}

	s.readingW.Set(reading)
	// Only in-progress readings reach the message slot. The scale spams
	// its final value while a person stands still; surfacing the moving
	// values and dropping the settled repeats is the shipped behavior
	// this implementation preserves.
	if !reading.Stable {
		s.messageW.Set(reading.Text())
	}
}

func (s *Session) onScanFailed(ev transport.ScanFailedEvent) {
	s.mu.Lock()
	wasScanning := s.scanning
	s.scanning = false
	s.mu.Unlock()

	if wasScanning {
		s.scanningW.Set(false)
	}
	s.logger.WithError(&ScanError{Code: ev.Code, Err: ev.Err}).Error("Scan failed")
}

func (s *Session) onConnected(ev transport.ConnectedEvent) {
	s.mu.Lock()
	if s.closed || s.state != Connecting {
		s.mu.Unlock()
		// Landed on a session that moved on; drop the link.
		_ = ev.Conn.Close()
		return
	}
	s.state = Connected
	s.conn = ev.Conn
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	gen := s.gen
	settle := s.cfg.Timing.Settle
	s.mu.Unlock()

	s.stateW.Set(Connected)

	peer := Peer{Address: ev.Conn.Address(), Name: ev.Conn.Name()}
	if peer.Name == "" {
		if e, ok := s.registry.Get(peer.Address); ok {
			peer.Name = e.Name
		}
	}
	s.peerW.Set(peer)
	s.logger.WithField("address", peer.Address).WithField("device", peer.Name).Info("Connected")

	s.afterGen(settle, gen, func() {
		s.mu.Lock()
		conn := s.conn
		ready := s.state == Connected && conn != nil
		s.mu.Unlock()
		if ready {
			s.logger.Debug("Discovering services")
			conn.Discover()
		}
	})
}

func (s *Session) onDisconnected(ev transport.DisconnectedEvent) {
	s.mu.Lock()
	prev := s.state
	s.state = Disconnected
	s.gen++
	s.conn = nil
	s.endpoints = endpoint.Set{}
	p := s.poller
	s.poller = nil
	s.hsActive = false
	s.hsAwait = false
	if s.hsTimeout != nil {
		s.hsTimeout.Stop()
		s.hsTimeout = nil
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.reasm.Reset()
	s.mu.Unlock()

	if p != nil {
		p.stop()
	}
	if prev != Disconnected {
		s.stateW.Set(Disconnected)
		s.peerW.Set(Peer{})
	}

	entry := s.logger.WithField("address", ev.Address)
	switch {
	case ev.Err != nil && prev == Connecting:
		entry.WithError(ev.Err).Warn("Connect failed")
	case ev.Err != nil:
		entry.WithError(ev.Err).Warn("Link lost")
	default:
		entry.Info("Disconnected")
	}
}

func (s *Session) onServices(ev transport.ServicesEvent) {
	s.mu.Lock()
	if s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return
	}
	if ev.Err != nil {
		s.mu.Unlock()
		// The link stays up with nothing resolved; only a disconnect or
		// teardown gets it out of this state.
		s.logger.WithError(&DiscoveryError{Err: ev.Err}).Error("Service discovery failed")
		return
	}
	set := endpoint.Resolve(ev.Services)
	s.endpoints = set
	conn := s.conn
	gen := s.gen
	s.mu.Unlock()

	s.logger.WithFields(set.Fields()).Info("Endpoints resolved")

	// The GAP device name only becomes readable once discovery ran; it is
	// more authoritative than the advertised name, so refresh the peer.
	if name := conn.Name(); name != "" {
		if peer, ok := s.peerW.Get(); ok && peer.Name != name {
			peer.Name = name
			s.peerW.Set(peer)
		}
	}

	if set.Notify == nil {
		s.startPolling(gen)
		return
	}
	if set.CCCD == nil {
		s.logger.Warn("Subscription endpoint has no CCCD, falling back to polling")
		s.startPolling(gen)
		return
	}
	if err := conn.Subscribe(set.Notify, set.Indicate); err != nil {
		s.logger.WithError(err).Warn("Subscribe failed, falling back to polling")
		s.startPolling(gen)
		return
	}
	conn.WriteDescriptor(set.CCCD, set.EnableValue())
}

func (s *Session) onDescriptorWrite(ev transport.DescriptorWriteEvent) {
	s.mu.Lock()
	gen := s.gen
	connected := s.state == Connected
	s.mu.Unlock()
	if !connected {
		return
	}

	if ev.Err != nil {
		s.logger.WithError(&DescriptorWriteError{Err: ev.Err}).Warn("Failed to enable notifications, falling back to polling")
		s.startPolling(gen)
		return
	}
	s.logger.Debug("Notifications enabled")
	s.beginHandshake(gen)
}

func (s *Session) onReadResult(ev transport.ReadResultEvent) {
	if ev.Err != nil {
		s.logger.WithError(&ReadError{CharUUID: ev.CharUUID, Err: ev.Err}).Warn("Read failed")
		return
	}
	s.feed(ev.Data)
}

func (s *Session) feed(data []byte) {
	s.mu.Lock()
	if s.state == Connected {
		s.reasm.Feed(data)
	}
	s.mu.Unlock()
}

func (s *Session) onWriteResult(ev transport.WriteResultEvent) {
	if ev.Err != nil {
		s.logger.WithError(&WriteError{CharUUID: ev.CharUUID, Err: ev.Err}).Warn("Command write failed")
	}

	s.mu.Lock()
	advancing := s.hsActive && s.hsAwait &&
		s.endpoints.Write != nil && ev.CharUUID == s.endpoints.Write.UUID
	if advancing {
		s.hsAwait = false
		if s.hsTimeout != nil {
			s.hsTimeout.Stop()
			s.hsTimeout = nil
		}
	}
	gen := s.gen
	gap := s.cfg.Timing.CommandGap
	s.mu.Unlock()

	if advancing {
		// Completion-driven pacing: the gap is a floor between one
		// command finishing and the next going out.
		s.afterGen(gap, gen, func() { s.advanceHandshake(gen) })
	}
}

// beginHandshake starts the start-command sequence after notifications
// were enabled. Each command waits for its write completion, bounded by
// a timeout, with the configured gap between commands.
func (s *Session) beginHandshake(gen uint64) {
	s.mu.Lock()
	s.hsActive = true
	s.hsAwait = false
	s.hsIdx = 0
	gap := s.cfg.Timing.CommandGap
	s.mu.Unlock()

	s.afterGen(gap, gen, func() { s.advanceHandshake(gen) })
}

func (s *Session) advanceHandshake(gen uint64) {
	s.mu.Lock()
	if !s.hsActive || s.gen != gen || s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return
	}

	cmds := s.cfg.Commands.Start
	if s.hsIdx >= len(cmds) || s.endpoints.Write == nil {
		s.hsActive = false
		backstop := s.cfg.Timing.PollBackstop
		s.mu.Unlock()
		// Polling starts even when the handshake went out cleanly; a
		// scale that ignored every start command still gets polled.
		s.afterGen(backstop, gen, func() { s.startPolling(gen) })
		return
	}

	cmd := cmds[s.hsIdx]
	s.hsIdx++
	s.hsAwait = true
	conn, set := s.conn, s.endpoints
	timeout := 4 * s.cfg.Timing.CommandGap
	s.hsTimeout = time.AfterFunc(timeout, func() {
		s.enqueue(func() { s.handshakeTimeout(gen) })
	})
	s.mu.Unlock()

	s.logger.WithField("command", fmt.Sprintf("%q", cmd)).Debug("Sending start command")
	conn.Write(set.Write, []byte(cmd), set.Write.Properties.CanWrite())
}

func (s *Session) handshakeTimeout(gen uint64) {
	s.mu.Lock()
	stale := s.gen != gen || !s.hsActive || !s.hsAwait
	if !stale {
		s.hsAwait = false
		s.hsTimeout = nil
	}
	s.mu.Unlock()
	if stale {
		return
	}

	s.logger.Debug("Start command completion missing, continuing")
	s.advanceHandshake(gen)
}

// startPolling is idempotent; exactly one poller runs per connection.
func (s *Session) startPolling(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != Connected || s.poller != nil {
		s.mu.Unlock()
		return
	}
	p := newPoller(s)
	s.poller = p
	s.mu.Unlock()

	p.start()
}
