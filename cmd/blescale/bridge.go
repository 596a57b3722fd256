package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blescale/internal/bridge"
	"github.com/srg/blescale/internal/session"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Bridge a scale to a PTY",
	Long: fmt.Sprintf(`Creates a bidirectional PTY (pseudoterminal) bridge to a scale, so
applications that expect a serial port can talk to it.

Protocol text from the scale is written to the PTY one line at a time.
Lines typed into the PTY are sent to the scale as commands, with the
terminator chosen by --terminator appended.

This is useful for:
- Connecting terminal emulators to a scale
- Driving a scale from existing serial tooling
- Protocol exploration and debugging

Example:
  blescale bridge %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var bridgeTerminator string

func init() {
	bridgeCmd.Flags().StringVar(&bridgeTerminator, "terminator", "crlf", "Line terminator appended to commands typed into the PTY (cr, lf, crlf)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	terminator, err := terminatorSequence(bridgeTerminator)
	if err != nil {
		return err
	}

	// Configure logger based on --log-level and --verbose flags
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	address := args[0]
	sess := newSession(cfg, logger)
	defer sess.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, shutting the bridge down...")
		cancel()
	}()

	progress := NewProgressPrinter(fmt.Sprintf("Starting bridge for %s", address), "Connecting", "Running")
	progress.Start()
	defer progress.Stop()

	if err := connectSession(ctx, sess, cfg, address); err != nil {
		progress.Stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	b, err := bridge.Open(sess, logger, &bridge.Options{Terminator: terminator})
	if err != nil {
		progress.Stop()
		return err
	}
	defer func() {
		_ = b.Close()
		stats := b.Stats()
		logger.WithFields(logrus.Fields{
			"messages_out":  stats.MessagesOut,
			"commands_in":   stats.CommandsIn,
			"dropped_bytes": stats.DroppedBytes,
		}).Info("Bridge finished")
	}()

	progress.Callback()("Running")
	fmt.Printf("PTY bridge ready: %s\n", b.TTYName())
	fmt.Println("Press Ctrl+C to stop.")

	states := sess.State().Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if st == session.Disconnected {
				fmt.Println("Device disconnected.")
				return ErrConnectionLost
			}
		}
	}
}
