package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blescale/internal/session"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Stream weight readings from a scale",
	Long: fmt.Sprintf(`Connects to a scale and streams decoded weight readings and raw
protocol lines until interrupted with Ctrl+C.

Stable readings print green, in-motion readings yellow, protocol lines
cyan. With --raw only the protocol lines are printed, verbatim.

Example:
  blescale monitor %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var monitorRaw bool

// monitorBufferSize bounds how many records survive a stalled terminal.
const monitorBufferSize = 256

func init() {
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Print raw protocol lines only, skip decoding")
}

func runMonitor(cmd *cobra.Command, args []string) error {
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
		fmt.Println("\nCtrl+C pressed, disconnecting...")
		cancel()
	}()

	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", address), "Connecting", "Connected")
	progress.Start()
	defer progress.Stop()

	if err := connectSession(ctx, sess, cfg, address); err != nil {
		progress.Stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	progress.Callback()("Connected")

	if peer, ok := sess.ConnectedPeer().Get(); ok {
		fmt.Printf("Connected to %s (%s). Press Ctrl+C to stop.\n", peer.Name, peer.Address)
	}

	// Subscribe before the scale starts streaming so nothing is missed,
	// then let the ring absorb whatever the terminal cannot keep up with.
	collector, err := newRecordCollector(
		sess.LastReading().Subscribe(ctx),
		sess.LastMessage().Subscribe(ctx),
		monitorBufferSize,
	)
	if err != nil {
		return err
	}
	if err := collector.Start(); err != nil {
		return err
	}
	defer collector.Stop()

	states := sess.State().Subscribe(ctx)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = collector.Drain(printRecord)
			_ = sess.Disconnect()
			return nil
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if st == session.Disconnected {
				_ = collector.Drain(printRecord)
				fmt.Println("Device disconnected.")
				return ErrConnectionLost
			}
		case <-ticker.C:
			if err := collector.Drain(printRecord); err != nil {
				return err
			}
		}
	}
}

var (
	stableColor   = color.New(color.FgGreen)
	unstableColor = color.New(color.FgYellow)
	messageColor  = color.New(color.FgCyan)
)

func printRecord(rec outputRecord) {
	switch {
	case rec.Reading != nil:
		if monitorRaw {
			return
		}
		c := unstableColor
		label := "unstable"
		if rec.Reading.Stable {
			c = stableColor
			label = "stable"
		}
		c.Printf("%s  %7.2f %s  %s\n",
			rec.When.Format("15:04:05"), rec.Reading.Weight, rec.Reading.Unit, label)
	case rec.Message != "":
		if monitorRaw {
			fmt.Println(rec.Message)
			return
		}
		messageColor.Printf("%s  %s\n", rec.When.Format("15:04:05"), rec.Message)
	}
}
