package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilis/sentinel/internal/app"
	"github.com/vigilis/sentinel/internal/metrics"
)

var flagScanOutput string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan cycle and exit",
	Long: `scan loads the registry, probes every eligible agent, persists the
updated registry and publishes the public status view. It exits non-zero
when the registry cannot be loaded or written back.

Alerts are delivered in-process unless ALERT_QUEUE_ENABLED is set, in which
case they are handed to the queue worker.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&flagScanOutput, "output", "o", "table", "Report format: table, json")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if flagScanOutput != "table" && flagScanOutput != "json" {
		return fmt.Errorf("unknown output format %q", flagScanOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The report goes to stdout, logs go to stderr.
	log := initLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Scheduler.CycleTimeout)
	defer cancel()

	d, err := newDeps(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	dispatcher, err := d.dispatcher(false)
	if err != nil {
		return err
	}
	cycle, err := d.scanCycle(ctx, dispatcher)
	if err != nil {
		return err
	}
	locker, err := d.locker()
	if err != nil {
		return err
	}

	report, runErr := app.RunLocked(ctx, locker, cycle, log)

	if report != nil {
		summary := scanSummary{
			CycleReport:      report,
			JudgeUnavailable: int(metrics.CounterValue(metrics.JudgeUnavailable)),
			AlertsSuppressed: int(metrics.CounterValue(metrics.AlertsSuppressed)),
		}
		if err := writeReport(cmd.OutOrStdout(), summary, flagScanOutput); err != nil {
			return err
		}
	}
	return runErr
}

// scanSummary is the cycle report plus process counters. A scan process runs
// exactly one cycle, so the counters cover that cycle only.
type scanSummary struct {
	*app.CycleReport
	JudgeUnavailable int `json:"judge_unavailable"`
	AlertsSuppressed int `json:"alerts_suppressed"`
}

func writeReport(w io.Writer, r scanSummary, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "CYCLE\t%s\n", r.CycleID)
	fmt.Fprintf(tw, "DURATION\t%s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(tw, "RECORDS\t%d\n", r.Total)
	fmt.Fprintf(tw, "PROBED\t%d\n", r.Probed)
	for _, k := range sortedKeys(r.Verdicts) {
		fmt.Fprintf(tw, "  %s\t%d\n", k, r.Verdicts[k])
	}
	for _, k := range sortedKeys(r.Excluded) {
		fmt.Fprintf(tw, "EXCLUDED %s\t%d\n", k, r.Excluded[k])
	}
	if r.Pruned > 0 {
		fmt.Fprintf(tw, "PRUNED\t%d\n", r.Pruned)
	}
	if r.Deferred > 0 {
		fmt.Fprintf(tw, "DEFERRED\t%d\n", r.Deferred)
	}
	if r.JudgeUnavailable > 0 {
		fmt.Fprintf(tw, "JUDGE UNAVAILABLE\t%d\n", r.JudgeUnavailable)
	}
	if r.AlertsSuppressed > 0 {
		fmt.Fprintf(tw, "ALERTS SUPPRESSED\t%d\n", r.AlertsSuppressed)
	}
	fmt.Fprintf(tw, "PERSISTED\t%t\n", r.Persisted)
	fmt.Fprintf(tw, "PUBLISHED\t%t\n", r.Published)
	return tw.Flush()
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
