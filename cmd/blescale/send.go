package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blescale/internal/session"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <device-address> <command>",
	Short: "Send a raw protocol command",
	Long: fmt.Sprintf(`Connects to a scale and writes one protocol command to its write
endpoint. The command text is sent verbatim with the terminator chosen
by --terminator appended.

Examples:
  # Ask for a single measurement frame
  blescale send %s SI

  # Same, but print the first reply line
  blescale send %s SI --await-reply

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var (
	sendAwaitReply bool
	sendTerminator string
)

// awaitReplyTimeout bounds how long --await-reply blocks for the first line.
const awaitReplyTimeout = 10 * time.Second

func init() {
	sendCmd.Flags().BoolVar(&sendAwaitReply, "await-reply", false, "Wait for the first reply line and print it")
	sendCmd.Flags().StringVar(&sendTerminator, "terminator", "crlf", "Line terminator appended to the command (cr, lf, crlf)")
}

// terminatorSequence maps a terminator flag value to the bytes it names.
func terminatorSequence(name string) (string, error) {
	switch name {
	case "cr":
		return "\r", nil
	case "lf":
		return "\n", nil
	case "crlf":
		return "\r\n", nil
	default:
		return "", fmt.Errorf("invalid terminator '%s': must be one of [cr lf crlf]", name)
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	terminator, err := terminatorSequence(sendTerminator)
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

	address, command := args[0], args[1]
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

	progress := NewProgressPrinter(fmt.Sprintf("Sending to %s", address), "Connecting", "Done")
	progress.Start()
	defer progress.Stop()

	if err := connectSession(ctx, sess, cfg, address); err != nil {
		progress.Stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	progress.Callback()("Sending")

	var messages <-chan string
	if sendAwaitReply {
		messages = sess.LastMessage().Subscribe(ctx)
		// Discard anything assembled before the send; only lines that
		// arrive afterwards count as the reply.
		select {
		case <-messages:
		default:
		}
	}

	if err := sendWhenReady(ctx, sess, cfg, command+terminator); err != nil {
		progress.Stop()
		return err
	}

	if !sendAwaitReply {
		progress.Callback()("Done")
		_ = sess.Disconnect()
		return nil
	}

	progress.Callback()("Awaiting reply")
	timer := time.NewTimer(awaitReplyTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = sess.Disconnect()
			return ctx.Err()
		case m, ok := <-messages:
			if !ok {
				// The feed only closes when ctx is canceled or the
				// session is torn down.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				progress.Stop()
				return session.ErrClosed
			}
			if m == "" {
				continue
			}
			progress.Stop()
			fmt.Println(m)
			_ = sess.Disconnect()
			return nil
		case <-timer.C:
			progress.Stop()
			_ = sess.Disconnect()
			return fmt.Errorf("no reply within %s", awaitReplyTimeout)
		}
	}
}
