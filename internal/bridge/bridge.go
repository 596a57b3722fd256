// Package bridge exposes a connected session's text protocol as a
// pseudo-terminal. External tools open the slave path like a serial
// port: lines typed into it become commands to the scale, and every
// message the scale produces comes back out terminated with a newline.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/blescale/internal/groutine"
	"github.com/srg/blescale/internal/session"
)

const (
	// DefaultOutboundCap is the session-to-TTY ring capacity. Messages are
	// short lines; 4 KiB absorbs minutes of scale output.
	DefaultOutboundCap = 4096

	// DefaultPollTimeoutMs bounds how long the I/O loops sit in poll
	// before rechecking shutdown. Lower is snappier teardown, higher is
	// less idle wakeup.
	DefaultPollTimeoutMs = 50

	// DefaultTerminator is appended to each inbound line before it is
	// handed to the session as a command.
	DefaultTerminator = "\r\n"
)

// Options configures a bridge. Zero values take the defaults above.
type Options struct {
	OutboundCap   int
	PollTimeoutMs int
	Terminator    string
}

// Stats are instantaneous counters for monitoring the bridge.
type Stats struct {
	TTYName        string
	OutboundQueued int
	OutboundCap    int

	// DroppedBytes counts outbound bytes overwritten because the TTY
	// reader lagged behind the scale.
	DroppedBytes uint64
	MessagesOut  uint64
	CommandsIn   uint64
}

// Bridge pumps bytes between one session and one PTY pair. The master
// side stays inside this process; the slave path (TTYName) is what
// external programs open.
type Bridge struct {
	sess   *session.Session
	logger *logrus.Logger

	master  *os.File
	slave   *os.File
	ttyName string

	out        *ringbuffer.RingBuffer
	outNotify  chan struct{}
	terminator string

	pollTimeoutMs int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed uint32

	dropped uint64
	msgsOut uint64
	cmdsIn  uint64
}

// Open allocates the PTY pair, puts the slave into raw mode, makes the
// master nonblocking and starts the pump loops. The returned bridge is
// live immediately; commands typed into the slave reach the session
// whether or not it is connected (the session rejects them with its own
// errors when it is not).
func Open(sess *session.Session, logger *logrus.Logger, opts *Options) (*Bridge, error) {
	if sess == nil {
		return nil, errors.New("bridge: session is nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &Options{}
	}

	outCap := opts.OutboundCap
	if outCap <= 0 {
		outCap = DefaultOutboundCap
	}
	pollTimeout := opts.PollTimeoutMs
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeoutMs
	}
	terminator := opts.Terminator
	if terminator == "" {
		terminator = DefaultTerminator
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		closeBoth(master, slave, logger)
		return nil, fmt.Errorf("failed to set PTY %s to raw mode: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		closeBoth(master, slave, logger)
		return nil, fmt.Errorf("failed to set PTY master to nonblocking mode: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		sess:          sess,
		logger:        logger,
		master:        master,
		slave:         slave, // kept open so the slave node outlives external closers
		ttyName:       slave.Name(),
		out:           ringbuffer.New(outCap),
		outNotify:     make(chan struct{}, 1),
		terminator:    terminator,
		pollTimeoutMs: pollTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}

	b.wg.Add(3)
	groutine.Go(ctx, "bridge-tty-read", func(ctx context.Context) { b.readLoop() })
	groutine.Go(ctx, "bridge-tty-write", func(ctx context.Context) { b.writeLoop() })
	groutine.Go(ctx, "bridge-messages", func(ctx context.Context) { b.messageLoop() })

	logger.WithField("tty", b.ttyName).Info("Bridge TTY created")
	return b, nil
}

// TTYName returns the slave device path, e.g. "/dev/pts/5".
func (b *Bridge) TTYName() string { return b.ttyName }

// Stats returns instantaneous counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		TTYName:        b.ttyName,
		OutboundQueued: b.out.Length(),
		OutboundCap:    b.out.Capacity(),
		DroppedBytes:   atomic.LoadUint64(&b.dropped),
		MessagesOut:    atomic.LoadUint64(&b.msgsOut),
		CommandsIn:     atomic.LoadUint64(&b.cmdsIn),
	}
}

// Close stops the loops and closes both PTY ends. Idempotent. Closing
// the FDs first turns any blocked read or write into EBADF so the loops
// exit without waiting out a full poll cycle.
func (b *Bridge) Close() error {
	if !atomic.CompareAndSwapUint32(&b.closed, 0, 1) {
		return nil
	}

	b.cancel()

	if err := b.master.Close(); err != nil {
		b.logger.WithError(err).Warn("Failed to close PTY master")
	}
	if err := b.slave.Close(); err != nil {
		b.logger.WithError(err).Warn("Failed to close PTY slave")
	}

	b.wg.Wait()
	b.logger.WithField("tty", b.ttyName).Info("Bridge closed")
	return nil
}

// messageLoop feeds the outbound ring from the session's message slot.
// The subscription is drop-oldest itself, so a burst only ever costs
// intermediate values, never a stall.
func (b *Bridge) messageLoop() {
	defer b.wg.Done()

	for msg := range b.sess.LastMessage().Subscribe(b.ctx) {
		if msg == "" {
			continue
		}
		b.enqueueOut([]byte(msg + "\n"))
		atomic.AddUint64(&b.msgsOut, 1)
	}
}

// enqueueOut appends data to the outbound ring, discarding oldest bytes
// when the reader is not keeping up. Only messageLoop calls this.
func (b *Bridge) enqueueOut(data []byte) {
	if over := len(data) - b.out.Capacity(); over > 0 {
		atomic.AddUint64(&b.dropped, uint64(over))
		data = data[over:]
	}
	for b.out.Free() < len(data) {
		var scratch [256]byte
		n, err := b.out.TryRead(scratch[:])
		if n == 0 || (err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty)) {
			break
		}
		atomic.AddUint64(&b.dropped, uint64(n))
	}
	if _, err := b.out.Write(data); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		b.logger.WithError(err).Warn("Bridge outbound enqueue failed")
		return
	}

	select {
	case b.outNotify <- struct{}{}:
	default:
		// signal already pending
	}
}

// writeLoop drains the outbound ring into the PTY master.
func (b *Bridge) writeLoop() {
	defer b.wg.Done()

	master := b.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.outNotify:
		}

		for {
			n, err := b.out.TryRead(buf)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			if err != nil {
				b.logger.WithError(err).Warn("Bridge outbound dequeue failed")
				break
			}
			if !b.writeAll(master, pollFd, buf[:n]) {
				return
			}
		}
	}
}

// writeAll pushes data into the master, polling through EAGAIN. Returns
// false when the loop should exit.
func (b *Bridge) writeAll(master *os.File, pollFd []unix.PollFd, data []byte) bool {
	offset := 0
	for offset < len(data) {
		select {
		case <-b.ctx.Done():
			return false
		default:
		}

		written, err := master.Write(data[offset:])
		if written > 0 {
			offset += written
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
			if _, pollErr := unix.Poll(pollFd, b.pollTimeoutMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
				b.logger.WithError(pollErr).Warn("Bridge write poll error")
			}
			continue
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
			// FD closed, expected during Close()
			return false
		default:
			b.logger.WithError(err).Warn("Bridge TTY write failed")
			return false
		}
	}
	return true
}

// readLoop pulls bytes typed into the slave out of the master and turns
// complete lines into session commands.
func (b *Bridge) readLoop() {
	defer b.wg.Done()

	master := b.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)
	var pending []byte

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		nReady, err := unix.Poll(pollFd, b.pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			b.logger.WithError(err).Warn("Bridge read poll error")
			continue
		}
		if nReady == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			pending = b.consume(pending, buf[:n])
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
				// FD closed or slave side gone, expected during Close()
				return
			default:
				b.logger.WithError(err).Warn("Bridge TTY read failed")
				return
			}
		}
	}
}

// consume appends chunk to the pending line and dispatches every complete
// line. CR, LF and CRLF all terminate a line; empty lines are dropped.
func (b *Bridge) consume(pending, chunk []byte) []byte {
	pending = append(pending, chunk...)
	for {
		i := bytes.IndexAny(pending, "\r\n")
		if i < 0 {
			return pending
		}
		line := string(pending[:i])
		next := i + 1
		if pending[i] == '\r' && next < len(pending) && pending[next] == '\n' {
			next++
		}
		pending = pending[next:]
		if line == "" {
			continue
		}
		b.dispatch(line)
	}
}

func (b *Bridge) dispatch(line string) {
	atomic.AddUint64(&b.cmdsIn, 1)
	if err := b.sess.SendCommand(line + b.terminator); err != nil {
		b.logger.WithError(err).WithField("command", fmt.Sprintf("%q", line)).Warn("Bridge command rejected")
	}
}

func closeBoth(master, slave *os.File, logger *logrus.Logger) {
	if err := master.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close PTY master during setup")
	}
	if err := slave.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close PTY slave during setup")
	}
}
