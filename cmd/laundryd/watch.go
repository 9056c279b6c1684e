package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"laundry-display-sync/config"
	"laundry-display-sync/internal/device"
	"laundry-display-sync/internal/engine"
	"laundry-display-sync/internal/transport"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow one device in the terminal",
	Long: "watch polls (or streams from) a single device and prints its display " +
		"line every time it changes. No config file or database is needed.",
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("url", "", "device status URL (required)")
	watchCmd.Flags().Duration("interval", 2*time.Second, "poll interval")
	watchCmd.Flags().Int("drift", engine.DefaultDriftThreshold, "drift threshold in seconds")
	watchCmd.Flags().Bool("stream", false, "treat --url as a server-sent event stream")
	watchCmd.Flags().String("timezone", "UTC", "timezone for timestamps without an offset")
	_ = watchCmd.MarkFlagRequired("url")
}

func runWatch(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	interval, _ := cmd.Flags().GetDuration("interval")
	drift, _ := cmd.Flags().GetInt("drift")
	stream, _ := cmd.Flags().GetBool("stream")
	tz, _ := cmd.Flags().GetString("timezone")

	if interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	tc := config.TransportConfig{
		Kind:          config.TransportPoll,
		URL:           url,
		Interval:      interval,
		MaxBackoff:    max(30*time.Second, interval),
		ReconnectWait: 3 * time.Second,
		Timezone:      tz,
	}
	if stream {
		tc.Kind = config.TransportStream
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	runner := device.NewRunner("watch", url, engine.Config{DriftThreshold: drift}, clock)
	t, err := transport.New(runner.ID, tc, runner, clock, nil)
	if err != nil {
		return err
	}

	updates, unsubscribe := runner.Subscribe()
	defer unsubscribe()

	go runner.Run(ctx)
	go t.Run(ctx)

	printUpdates(ctx, cmd.OutOrStdout(), updates)
	return nil
}

// printUpdates writes a line whenever the rendered display changes.
func printUpdates(ctx context.Context, out io.Writer, updates <-chan engine.DisplayState) {
	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-updates:
			if !ok {
				return
			}
			line := renderLine(d)
			if line == last {
				continue
			}
			last = line
			fmt.Fprintln(out, line)
		}
	}
}

// renderLine formats a display the way the machine's own panel reads.
func renderLine(d engine.DisplayState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-7s %s", strings.ToUpper(string(d.Phase)), "["+string(d.Indicator)+"]", d.Remaining)
	if d.Phase == engine.PhaseComplete {
		fmt.Fprintf(&b, " +%s", engine.FormatRemaining(d.Overtime))
	}
	if d.ExpectedMinutes > 0 {
		fmt.Fprintf(&b, "  expected %d min", d.ExpectedMinutes)
	}
	fmt.Fprintf(&b, "  tag %s", d.IdentityTag)
	return b.String()
}
