package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blescale/internal/config"
	"github.com/srg/blescale/internal/session"
	"github.com/srg/blescale/internal/transport/goble"
)

// loadConfig reads the file named by the global --config flag. An empty
// flag means built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// newSession wires the BLE transport into a fresh session.
func newSession(cfg *config.Config, logger *logrus.Logger) *session.Session {
	return session.New(goble.New(logger), nil, cfg, logger)
}

// connectSession dials the address and blocks until the session reports
// Connected. It fails on a refused dial, on the configured connect
// timeout, or when ctx is canceled.
func connectSession(ctx context.Context, sess *session.Session, cfg *config.Config, address string) error {
	if err := sess.Connect(address); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	states := sess.State().Subscribe(waitCtx)
	sawConnecting := false
	for {
		select {
		case <-waitCtx.Done():
			_ = sess.Disconnect()
			if ctx.Err() != nil {
				// User cancellation outranks the timeout.
				return ctx.Err()
			}
			return fmt.Errorf("timed out connecting to %s after %s", address, cfg.ConnectTimeout)
		case st, ok := <-states:
			if !ok {
				return session.ErrClosed
			}
			switch st {
			case session.Connecting:
				sawConnecting = true
			case session.Connected:
				return nil
			case session.Disconnected:
				// The subscription replays the current state, which stays
				// Disconnected until the dial task runs. Only a fallback
				// after Connecting means the dial failed.
				if sawConnecting {
					return fmt.Errorf("failed to connect to %s", address)
				}
			}
		}
	}
}

// sendWhenReady writes one command, retrying while endpoint discovery is
// still in flight on a freshly connected link.
func sendWhenReady(ctx context.Context, sess *session.Session, cfg *config.Config, payload string) error {
	deadline := time.Now().Add(cfg.ConnectTimeout)
	for {
		err := sess.SendCommand(payload)
		if err == nil || !errors.Is(err, session.ErrEndpointUnavailable) {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
