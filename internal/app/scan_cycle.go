package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

// ScanCycleConfig holds orchestrator settings.
type ScanCycleConfig struct {
	Concurrency   int
	PruneExcluded bool
	MaskNames     bool
	// PersistTimeout bounds Replace and Publish. They run after the probe
	// fan-out and are not subject to the cycle deadline (default: 30s).
	PersistTimeout time.Duration
}

// CycleOutput is the pure result of one orchestration pass.
type CycleOutput struct {
	Registry  *client.Registry
	Results   []ProbeResult
	Selection Selection
	View      client.PublicView
	Pruned    int
	// Deferred counts eligible records left untouched because the cycle
	// deadline passed before their probe started or shutdown interrupted it.
	Deferred int
}

// CycleReport summarizes a completed cycle.
type CycleReport struct {
	CycleID    string                  `json:"cycle_id"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Total      int                     `json:"total"`
	Probed     int                     `json:"probed"`
	Excluded   map[ExclusionReason]int `json:"excluded"`
	Verdicts   map[client.Status]int   `json:"verdicts"`
	Pruned     int                     `json:"pruned"`
	Deferred   int                     `json:"deferred"`
	Persisted  bool                    `json:"persisted"`
	Published  bool                    `json:"published"`
}

// ScanCycle runs one scan cycle: load, select, probe, merge, persist, publish.
type ScanCycle struct {
	repo      client.Repository
	publisher client.PublicViewWriter
	prober    ProbeRunner
	filter    *EligibilityFilter
	cfg       ScanCycleConfig
	now       func() time.Time
	logger    *logger.Logger
}

// NewScanCycle creates a ScanCycle. publisher may be nil.
func NewScanCycle(
	repo client.Repository,
	publisher client.PublicViewWriter,
	prober ProbeRunner,
	filter *EligibilityFilter,
	cfg ScanCycleConfig,
	log *logger.Logger,
) *ScanCycle {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 32
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	return &ScanCycle{
		repo:      repo,
		publisher: publisher,
		prober:    prober,
		filter:    filter,
		cfg:       cfg,
		now:       time.Now,
		logger:    log.With("component", "scan_cycle"),
	}
}

// RunCycle executes a full cycle. A registry load failure aborts the cycle
// before anything is written. Persist and publish failures are returned
// together with the report.
//
// The deadline of ctx bounds probe dispatch only. Whatever was probed is
// persisted and published under a fresh PersistTimeout context.
func (s *ScanCycle) RunCycle(ctx context.Context) (*CycleReport, error) {
	cycleID := uuid.NewString()
	ctx = logger.WithCycleID(ctx, cycleID)
	log := s.logger.WithContext(ctx)

	CyclesInProgress.Inc()
	defer CyclesInProgress.Dec()

	started := s.now()
	report := &CycleReport{CycleID: cycleID, StartedAt: started}
	defer func() {
		CycleDuration.Observe(time.Since(started).Seconds())
	}()

	log.Info("scan cycle started")

	reg, err := s.repo.Load(ctx)
	if err != nil {
		RegistryOpsTotal.WithLabelValues("load", ResultFailure).Inc()
		CyclesTotal.WithLabelValues("aborted").Inc()
		log.Error("registry load failed, cycle aborted", "error", err)
		if !errors.Is(err, client.ErrRegistryUnavailable) {
			err = fmt.Errorf("%w: %w", client.ErrRegistryUnavailable, err)
		}
		return nil, err
	}
	RegistryOpsTotal.WithLabelValues("load", ResultSuccess).Inc()
	RegistryClients.Set(float64(len(reg.Clients)))

	out := s.Run(ctx, reg, started)
	report.Total = len(reg.Clients)
	report.Probed = len(out.Results)
	report.Excluded = out.Selection.Counts()
	report.Verdicts = verdictCounts(out.Results)
	report.Pruned = out.Pruned
	report.Deferred = out.Deferred
	if out.Deferred > 0 {
		log.Warn("cycle deadline reached, some eligible clients were not probed", "deferred", out.Deferred)
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()

	if err := s.repo.Replace(persistCtx, out.Registry); err != nil {
		RegistryOpsTotal.WithLabelValues("replace", ResultFailure).Inc()
		CyclesTotal.WithLabelValues("persist_failed").Inc()
		report.FinishedAt = s.now()
		log.Error("registry persist failed", "error", err)
		if !errors.Is(err, client.ErrRegistryPersist) {
			err = fmt.Errorf("%w: %w", client.ErrRegistryPersist, err)
		}
		return report, err
	}
	RegistryOpsTotal.WithLabelValues("replace", ResultSuccess).Inc()
	report.Persisted = true

	if s.publisher != nil {
		if err := s.publisher.Publish(persistCtx, out.View); err != nil {
			RegistryOpsTotal.WithLabelValues("publish", ResultFailure).Inc()
			CyclesTotal.WithLabelValues("publish_failed").Inc()
			report.FinishedAt = s.now()
			log.Error("public view publish failed", "error", err)
			if !errors.Is(err, client.ErrPublishFailed) {
				err = fmt.Errorf("%w: %w", client.ErrPublishFailed, err)
			}
			return report, err
		}
		RegistryOpsTotal.WithLabelValues("publish", ResultSuccess).Inc()
		report.Published = true
	}

	report.FinishedAt = s.now()
	CyclesTotal.WithLabelValues("completed").Inc()
	log.Info("scan cycle completed",
		"total", report.Total,
		"probed", report.Probed,
		"excluded", report.Excluded,
		"verdicts", report.Verdicts,
		"pruned", report.Pruned,
		"deferred", report.Deferred,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// Run selects eligible records, probes them concurrently and merges the
// results into a copy of reg. reg itself is not modified.
func (s *ScanCycle) Run(ctx context.Context, reg *client.Registry, now time.Time) CycleOutput {
	merged := reg.Clone()
	if merged == nil {
		merged = &client.Registry{}
	}
	sel := s.filter.Select(merged.Clients, now)

	for reason, n := range sel.Counts() {
		ClientsSelected.WithLabelValues(string(reason)).Add(float64(n))
	}
	ClientsSelected.WithLabelValues("eligible").Add(float64(len(sel.Eligible)))

	probeCtx, stop := withoutDeadline(ctx)
	defer stop()

	slots := make([]ProbeResult, len(sel.Eligible))
	done := make([]bool, len(sel.Eligible))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for slot, idx := range sel.Eligible {
		rec := merged.Clients[idx]
		g.Go(func() error {
			// Past the deadline nothing new starts. Probes already running
			// finish under their own timeouts.
			if ctx.Err() != nil {
				return nil
			}
			res := s.prober.Probe(probeCtx, rec)
			if probeCtx.Err() != nil {
				// Interrupted by shutdown, the verdict is not trustworthy.
				return nil
			}
			slots[slot], done[slot] = res, true
			return nil
		})
	}
	_ = g.Wait()

	results := make([]ProbeResult, 0, len(slots))
	byIndex := make(map[int]ProbeResult, len(slots))
	for slot, idx := range sel.Eligible {
		if !done[slot] {
			continue
		}
		results = append(results, slots[slot])
		byIndex[idx] = slots[slot]
	}
	merged.Clients = MergeResults(merged.Clients, byIndex)

	pruned := 0
	if s.cfg.PruneExcluded {
		merged.Clients, pruned = PruneRecords(merged.Clients, sel)
	}

	return CycleOutput{
		Registry:  merged,
		Results:   results,
		Selection: sel,
		View:      client.NewPublicView(merged.Clients, client.PublicViewOptions{MaskNames: s.cfg.MaskNames}),
		Pruned:    pruned,
		Deferred:  len(sel.Eligible) - len(results),
	}
}

// withoutDeadline returns a context carrying the values of ctx that is
// cancelled when ctx is cancelled, but not when its deadline passes.
func withoutDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cancel()
		}
	})
	return detached, func() {
		stop()
		cancel()
	}
}

// MergeResults writes probe results into the records at the given indices.
// Every other record is returned unchanged and the order is kept.
func MergeResults(records []client.Record, results map[int]ProbeResult) []client.Record {
	out := make([]client.Record, len(records))
	for i, rec := range records {
		r, ok := results[i]
		if !ok {
			out[i] = rec
			continue
		}
		rec.Status = r.Verdict
		rec.Detail = r.Detail
		rec.LastCheck = client.FormatTimestamp(r.CheckedAt)
		if r.Trap != "" {
			rec.LastTrap = r.Trap
		}
		rec.LastReply = r.Reply
		out[i] = rec
	}
	return out
}

// PruneRecords drops records excluded as duplicate or expired. Throttled
// records are kept.
func PruneRecords(records []client.Record, sel Selection) ([]client.Record, int) {
	out := make([]client.Record, 0, len(records))
	for i, rec := range records {
		switch sel.Excluded[i] {
		case ExcludedDuplicate, ExcludedExpired:
			continue
		}
		out = append(out, rec)
	}
	return out, len(records) - len(out)
}

func verdictCounts(results []ProbeResult) map[client.Status]int {
	out := make(map[client.Status]int, 4)
	for _, r := range results {
		out[r.Verdict]++
	}
	return out
}
