package session

import (
	"context"
	"time"

	"github.com/srg/blescale/internal/groutine"
)

// poller is the fallback when the scale never pushes values: each cycle
// issues one read on the read endpoint and the request commands on the
// write endpoint, paced by the configured gap, then sleeps the poll
// interval. It watches the session state and quits on its own once the
// link is gone.
type poller struct {
	s      *Session
	ctx    context.Context
	cancel context.CancelFunc
}

func newPoller(s *Session) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &poller{s: s, ctx: ctx, cancel: cancel}
}

func (p *poller) start() {
	groutine.Go(p.ctx, "scale-poller", p.run)
}

func (p *poller) stop() {
	p.cancel()
}

func (p *poller) run(ctx context.Context) {
	s := p.s
	s.logger.WithField("interval", s.cfg.Timing.PollInterval).Info("Polling started")
	defer s.logger.Debug("Polling stopped")

	for {
		s.mu.Lock()
		state, conn, set := s.state, s.conn, s.endpoints
		s.mu.Unlock()

		if state != Connected || conn == nil {
			return
		}

		if set.Read != nil {
			conn.Read(set.Read)
		}
		if set.Write != nil {
			for _, cmd := range s.cfg.Commands.Request {
				if !p.sleep(s.cfg.Timing.CommandGap) {
					return
				}
				conn.Write(set.Write, []byte(cmd), set.Write.Properties.CanWrite())
			}
		}

		if !p.sleep(s.cfg.Timing.PollInterval) {
			return
		}
	}
}

func (p *poller) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
