// Package baseline tracks per-actor sharing history. The intent classifier
// asks three questions of it: has this actor shared with this domain before,
// how often do they share externally, and do they mostly share their own
// files. Counts decay so the answers reflect a rolling ~30 day window.
package baseline

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"exfilwatch/internal/events"
	"exfilwatch/internal/observability"
	"exfilwatch/internal/reconstate"
)

const (
	// countHalfLife makes the decayed counts approximate a 30-day rolling
	// window: activity older than a month carries little weight.
	countHalfLife = 15 * 24 * time.Hour

	// minHistoryShares is the cold-start cutoff. Below it the tracker
	// reports insufficient history and the classifier treats every
	// destination as unknown.
	minHistoryShares = 5.0

	windowDays = 30.0
)

// Record is the persisted per-actor baseline.
type Record struct {
	Actor                string    `json:"actor"`
	KnownExternalDomains []string  `json:"known_external_domains,omitempty"`
	ExternalShareCount   float64   `json:"external_share_count"`
	TotalShareCount      float64   `json:"total_share_count"`
	OwnShareCount        float64   `json:"own_share_count"`
	LastUpdate           time.Time `json:"last_update_ts"`
}

// Stats is the read-side view handed to the intent classifier.
type Stats struct {
	KnownExternalDomains map[string]bool
	ExternalSharesPerDay float64
	OwnFileShareRatio    float64
	TotalShares          float64
	// Sufficient is false during cold start (fewer than five observed
	// shares); the classifier then treats destinations as unknown.
	Sufficient bool
}

// HasSeenDomain reports whether the actor has previously shared with domain.
func (s Stats) HasSeenDomain(domain string) bool {
	return s.KnownExternalDomains[domain]
}

// Backend stores baseline records. The tracker is the sole mutator.
type Backend interface {
	Get(ctx context.Context, actor string) (Record, bool, error)
	// Mutate applies fn to the actor's record under mutual exclusion.
	Mutate(ctx context.Context, actor string, fn func(cur Record, ok bool) Record) error
	Close() error
}

// Tracker answers baseline questions and folds observed exfil events in.
type Tracker struct {
	backend Backend
	logger  *zap.SugaredLogger
	metrics *observability.MetricsManager
}

// New creates a Tracker over the given backend.
func New(backend Backend, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{backend: backend, logger: logger}
}

// SetMetrics attaches a metrics manager; a nil manager disables counting.
func (t *Tracker) SetMetrics(mm *observability.MetricsManager) {
	t.metrics = mm
}

func (t *Tracker) recordFailure() {
	if t.metrics != nil {
		t.metrics.RecordBackendFailure()
	}
}

// Observe updates the actor's baseline with one processed exfil event. It is
// called for every exfil event regardless of whether a finding came out of
// it. Best effort: a storage error loses one increment, not the batch.
func (t *Tracker) Observe(ctx context.Context, ev *events.ExfilEvent) {
	actor := events.NormalizeEmail(ev.Actor)
	dest := events.DestinationDomain(ev.DestinationACL, ev.NewValue)
	external := ev.IsExternalShare()
	own := ev.Owner == "" || events.NormalizeEmail(ev.Owner) == actor

	err := t.backend.Mutate(ctx, actor, func(cur Record, ok bool) Record {
		next := decayRecord(cur, ev.Timestamp)
		next.Actor = actor

		next.TotalShareCount++
		if external {
			next.ExternalShareCount++
		}
		if own {
			next.OwnShareCount++
		}
		if dest != "" {
			next.KnownExternalDomains = addDomain(next.KnownExternalDomains, dest)
		}
		if ev.Timestamp.After(next.LastUpdate) {
			next.LastUpdate = ev.Timestamp
		}
		return next
	})
	if err != nil {
		t.logger.Warnw("Baseline update failed, dropping observation",
			"actor", actor, "error", err)
		t.recordFailure()
	}
}

// Lookup returns the actor's decayed stats at the given instant. Storage
// errors degrade to an empty (insufficient) baseline.
func (t *Tracker) Lookup(ctx context.Context, actor string, at time.Time) Stats {
	rec, ok, err := t.backend.Get(ctx, events.NormalizeEmail(actor))
	if err != nil {
		t.logger.Warnw("Baseline read failed, treating as cold start",
			"actor", actor, "error", err)
		t.recordFailure()
		return Stats{KnownExternalDomains: map[string]bool{}}
	}
	if !ok {
		return Stats{KnownExternalDomains: map[string]bool{}}
	}

	rec = decayRecord(rec, at)

	known := make(map[string]bool, len(rec.KnownExternalDomains))
	for _, d := range rec.KnownExternalDomains {
		known[d] = true
	}

	stats := Stats{
		KnownExternalDomains: known,
		ExternalSharesPerDay: rec.ExternalShareCount / windowDays,
		TotalShares:          rec.TotalShareCount,
		Sufficient:           rec.TotalShareCount >= minHistoryShares,
	}
	if rec.TotalShareCount > 0 {
		stats.OwnFileShareRatio = rec.OwnShareCount / rec.TotalShareCount
	}
	return stats
}

// Close releases the backend.
func (t *Tracker) Close() error {
	return t.backend.Close()
}

func decayRecord(r Record, at time.Time) Record {
	if r.LastUpdate.IsZero() {
		return r
	}
	elapsed := at.Sub(r.LastUpdate)
	r.ExternalShareCount = reconstate.Decay(r.ExternalShareCount, elapsed, countHalfLife)
	r.TotalShareCount = reconstate.Decay(r.TotalShareCount, elapsed, countHalfLife)
	r.OwnShareCount = reconstate.Decay(r.OwnShareCount, elapsed, countHalfLife)
	return r
}

func addDomain(domains []string, d string) []string {
	for _, have := range domains {
		if have == d {
			return domains
		}
	}
	domains = append(domains, d)
	sort.Strings(domains)
	return domains
}
