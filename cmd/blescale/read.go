package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blescale/internal/frame"
	"github.com/srg/blescale/internal/session"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address>",
	Short: "Read a single weight measurement",
	Long: fmt.Sprintf(`Connects to a scale, prints the first decoded weight reading and
disconnects.

If no decodable reading arrives before the timeout but the scale did
send protocol text, the last text line is printed instead.

Examples:
  # Wait up to the default 15 seconds for a measurement
  blescale read %s

  # Machine-readable output
  blescale read %s --json

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var (
	readTimeout time.Duration
	readJSON    bool
)

func init() {
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 15*time.Second, "How long to wait for a reading")
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Output as JSON")
}

// readingOutput is the JSON shape of a one-shot measurement.
type readingOutput struct {
	Address string  `json:"address"`
	Name    string  `json:"name,omitempty"`
	Weight  float64 `json:"weight"`
	Unit    string  `json:"unit"`
	Stable  bool    `json:"stable"`
}

func runRead(cmd *cobra.Command, args []string) error {
	if readTimeout <= 0 {
		return fmt.Errorf("invalid timeout %s: must be positive", readTimeout)
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
		fmt.Println("\nCtrl+C pressed, disconnecting...")
		cancel()
	}()

	progress := NewProgressPrinter(fmt.Sprintf("Reading from %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	if err := connectSession(ctx, sess, cfg, address); err != nil {
		progress.Stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	progress.Callback()("Waiting for measurement")

	readings := sess.LastReading().Subscribe(ctx)
	messages := sess.LastMessage().Subscribe(ctx)
	states := sess.State().Subscribe(ctx)

	timer := time.NewTimer(readTimeout)
	defer timer.Stop()

	lastMessage := ""
	for {
		select {
		case <-ctx.Done():
			_ = sess.Disconnect()
			return ctx.Err()
		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			progress.Stop()
			err := printReading(sess, address, r)
			_ = sess.Disconnect()
			return err
		case m, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			if m != "" {
				lastMessage = m
			}
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if st == session.Disconnected {
				progress.Stop()
				return ErrConnectionLost
			}
		case <-timer.C:
			progress.Stop()
			_ = sess.Disconnect()
			if lastMessage != "" {
				// The scale spoke but never produced a decodable frame.
				fmt.Println(lastMessage)
				return nil
			}
			return ErrNoReading
		}
	}
}

func printReading(sess *session.Session, address string, r frame.Reading) error {
	if readJSON {
		out := readingOutput{
			Address: address,
			Weight:  r.Weight,
			Unit:    r.Unit.String(),
			Stable:  r.Stable,
		}
		if peer, ok := sess.ConnectedPeer().Get(); ok {
			out.Address = peer.Address
			out.Name = peer.Name
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	state := "unstable"
	if r.Stable {
		state = "stable"
	}
	fmt.Printf("%.2f %s (%s)\n", r.Weight, r.Unit, state)
	return nil
}
