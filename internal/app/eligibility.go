package app

import (
	"strings"
	"time"

	"github.com/vigilis/sentinel/pkg/domain/client"
)

// ExclusionReason explains why a record is not probed this cycle.
type ExclusionReason string

const (
	ExcludedDuplicate ExclusionReason = "duplicate"
	ExcludedExpired   ExclusionReason = "expired"
	ExcludedThrottled ExclusionReason = "throttled"
)

// DedupPolicy picks the survivor among records sharing a transaction id.
type DedupPolicy string

const (
	DedupKeepFirst  DedupPolicy = "keep_first"
	DedupKeepLatest DedupPolicy = "keep_latest"
)

// placeholderTransactionIDs never take part in deduplication.
var placeholderTransactionIDs = map[string]struct{}{
	"":        {},
	"n/a":     {},
	"na":      {},
	"none":    {},
	"null":    {},
	"-":       {},
	"pending": {},
	"unknown": {},
	"test":    {},
}

// EligibilityConfig holds eligibility filter settings.
type EligibilityConfig struct {
	DedupPolicy    DedupPolicy
	ValidityWindow time.Duration // zero disables expiry
	WindowInterval time.Duration // zero disables throttling
	WindowOpen     time.Duration
	AlwaysOnTag    string
}

// Selection is the result of the eligibility filter. Indices refer to the
// input record slice.
type Selection struct {
	Eligible []int
	Excluded map[int]ExclusionReason
	// InsideWindow is true when the throttle window was open at selection time.
	InsideWindow bool
}

// IDs returns the ids of the eligible records, in order.
func (s Selection) IDs(records []client.Record) []string {
	ids := make([]string, 0, len(s.Eligible))
	for _, i := range s.Eligible {
		ids = append(ids, records[i].ID.String())
	}
	return ids
}

// Counts returns the number of records per exclusion reason.
func (s Selection) Counts() map[ExclusionReason]int {
	out := make(map[ExclusionReason]int, 3)
	for _, r := range s.Excluded {
		out[r]++
	}
	return out
}

// EligibilityFilter decides which records are probed. It is a pure function of
// the records and the reference time.
type EligibilityFilter struct {
	cfg EligibilityConfig
}

// NewEligibilityFilter creates an EligibilityFilter.
func NewEligibilityFilter(cfg EligibilityConfig) *EligibilityFilter {
	if cfg.DedupPolicy != DedupKeepLatest {
		cfg.DedupPolicy = DedupKeepFirst
	}
	return &EligibilityFilter{cfg: cfg}
}

// Select applies dedup, expiry and throttling in that order. Each excluded
// record carries the first reason that applied.
func (f *EligibilityFilter) Select(records []client.Record, now time.Time) Selection {
	sel := Selection{
		Eligible:     make([]int, 0, len(records)),
		Excluded:     make(map[int]ExclusionReason),
		InsideWindow: f.insideWindow(now),
	}

	for i := range f.duplicates(records) {
		sel.Excluded[i] = ExcludedDuplicate
	}

	for i, rec := range records {
		if _, ok := sel.Excluded[i]; ok {
			continue
		}
		if f.expired(rec, now) {
			sel.Excluded[i] = ExcludedExpired
			continue
		}
		if !sel.InsideWindow && !f.alwaysProbe(rec) {
			sel.Excluded[i] = ExcludedThrottled
			continue
		}
		sel.Eligible = append(sel.Eligible, i)
	}
	return sel
}

// duplicates returns the indices that lose deduplication.
func (f *EligibilityFilter) duplicates(records []client.Record) map[int]struct{} {
	var order []string
	groups := make(map[string][]int)

	for i, rec := range records {
		key := TransactionKey(string(rec.TransactionID))
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	losers := make(map[int]struct{})
	for _, key := range order {
		idx := groups[key]
		if len(idx) < 2 {
			continue
		}
		winner := idx[0]
		if f.cfg.DedupPolicy == DedupKeepLatest {
			winner = latest(records, idx)
		}
		for _, i := range idx {
			if i != winner {
				losers[i] = struct{}{}
			}
		}
	}
	return losers
}

// latest returns the index with the most recent parsable last_check. Ties and
// unparsable timestamps resolve to the earliest index.
func latest(records []client.Record, idx []int) int {
	winner := idx[0]
	winnerAt, winnerOK := client.ParseTimestamp(records[winner].LastCheck)
	for _, i := range idx[1:] {
		at, ok := client.ParseTimestamp(records[i].LastCheck)
		if !ok {
			continue
		}
		if !winnerOK || at.After(winnerAt) {
			winner, winnerAt, winnerOK = i, at, true
		}
	}
	return winner
}

// TransactionKey normalizes a transaction id for deduplication. Placeholder
// values map to "".
func TransactionKey(id string) string {
	key := strings.ToLower(strings.TrimSpace(id))
	if _, ok := placeholderTransactionIDs[key]; ok {
		return ""
	}
	return key
}

func (f *EligibilityFilter) expired(rec client.Record, now time.Time) bool {
	if f.cfg.ValidityWindow <= 0 {
		return false
	}
	ref, ok := client.ParseTimestamp(rec.LastCheck)
	if !ok {
		ref, ok = client.ParseTimestamp(rec.CreatedAt)
	}
	if !ok {
		return false
	}
	return now.Sub(ref) > f.cfg.ValidityWindow
}

// insideWindow reports whether now falls in the open part of a throttle
// window. Windows are aligned to UTC midnight.
func (f *EligibilityFilter) insideWindow(now time.Time) bool {
	if f.cfg.WindowInterval <= 0 {
		return true
	}
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return utc.Sub(midnight)%f.cfg.WindowInterval < f.cfg.WindowOpen
}

func (f *EligibilityFilter) alwaysProbe(rec client.Record) bool {
	return rec.CurrentStatus() == client.StatusPending || rec.HasTag(f.cfg.AlwaysOnTag)
}
