package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blescale/internal/scan"
	"github.com/srg/blescale/internal/session"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE weight scales",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed strongest signal first. A scale that embeds weight
records in its advertisements is decoded on the fly; connect with
'blescale monitor' to stream readings continuously.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanJSON      bool
	scanWatch     bool
	scanNamedOnly bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output as JSON instead of a table")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
	scanCmd.Flags().BoolVar(&scanNamedOnly, "named-only", false, "Only show devices that advertised a name")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanDuration < 0 {
		return fmt.Errorf("invalid duration %s: must not be negative", scanDuration)
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

	sess := newSession(cfg, logger)
	defer sess.Teardown()
	sess.SetNameFilter(scanNamedOnly)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	if err := sess.StartScan(); err != nil {
		return err
	}

	if scanWatch {
		return runWatchScan(ctx, sess)
	}
	return runSingleScan(ctx, sess, scanDuration)
}

func runSingleScan(ctx context.Context, sess *session.Session, duration time.Duration) error {
	var progress *ProgressPrinter
	if duration > 0 {
		progress = NewCountdownProgressPrinter("Scanning for weight scales", "Scanning", duration, "Processing results")
	} else {
		progress = NewProgressPrinter("Scanning for weight scales", "Scanning", "Processing results")
	}
	progress.Start()
	defer progress.Stop()

	var timer <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		timer = t.C
	}

	// Scanning flips to false early only when the platform killed the scan.
	scanning := sess.Scanning().Subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			progress.Callback()("Processing results")
			sess.StopScan()
			return displayDevices(sess.Snapshot())
		case <-timer:
			progress.Callback()("Processing results")
			sess.StopScan()
			return displayDevices(sess.Snapshot())
		case active, ok := <-scanning:
			if !ok {
				scanning = nil
				continue
			}
			if !active {
				progress.Stop()
				return fmt.Errorf("scan stopped unexpectedly; is Bluetooth powered on?")
			}
		}
	}
}

func runWatchScan(ctx context.Context, sess *session.Session) error {
	events := sess.DiscoveryEvents()

	render := func() error {
		clearScreen()
		return displayDevices(sess.Snapshot())
	}
	if err := render(); err != nil {
		return err
	}

	// Re-render on a tick, not per event: a busy radio delivers hundreds
	// of advertisements per second.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			sess.StopScan()
			return render()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			dirty = true
		case <-ticker.C:
			if dirty {
				if err := render(); err != nil {
					return err
				}
				dirty = false
			}
		}
	}
}

func displayDevices(devices []scan.Device) error {
	if scanJSON {
		return displayDevicesJSON(devices)
	}
	return displayDevicesTable(devices)
}

func displayDevicesTable(devices []scan.Device) error {
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, d := range devices {
		name := d.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", name, d.Address, d.RSSI)
	}

	return w.Flush()
}

func displayDevicesJSON(devices []scan.Device) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

func clearScreen() {
	fmt.Print("\033[2J\033[H")
}
