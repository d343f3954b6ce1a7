// Package correlate joins the recon and exfil streams per actor. Each exfil
// event gets at most one recon match: an in-window immediate match when one
// exists, otherwise a delayed match when the actor's cumulative recon score
// clears the threshold.
package correlate

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"exfilwatch/internal/baseline"
	"exfilwatch/internal/events"
	"exfilwatch/internal/observability"
	"exfilwatch/internal/reconstate"
)

const maxWorkers = 8

// Match is one correlation candidate handed to the classifier and resolver.
type Match struct {
	Exfil        *events.ExfilEvent
	Recon        *events.ReconEvent // nil for delayed matches
	DeltaMinutes *float64           // nil for delayed matches
	ReconScore   float64
	Baseline     baseline.Stats
	BurstScore   float64
}

// Options configures the correlator.
type Options struct {
	Window           time.Duration
	DelayedThreshold float64
	SkewTolerance    time.Duration
	Workers          int // 0 means min(NumCPU, 8)
}

// Correlator runs the per-actor temporal join.
type Correlator struct {
	store     *reconstate.Store
	baselines *baseline.Tracker
	opts      Options
	logger    *zap.SugaredLogger
	metrics   *observability.MetricsManager
}

// New creates a Correlator. metrics may be nil.
func New(store *reconstate.Store, baselines *baseline.Tracker, opts Options, logger *zap.SugaredLogger, metrics *observability.MetricsManager) *Correlator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
		if opts.Workers > maxWorkers {
			opts.Workers = maxWorkers
		}
	}
	return &Correlator{
		store:     store,
		baselines: baselines,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// actorBatch is one actor's slice of both streams, sorted by timestamp.
type actorBatch struct {
	actor string
	recon []events.ReconEvent
	exfil []events.ExfilEvent
}

// Correlate processes one batch. Duplicate event ids are dropped, future
// timestamps are clamped to now, and actors are processed concurrently by a
// bounded pool; within an actor, recon ingestion precedes exfil correlation
// and exfil events are handled in timestamp order. On cancellation the
// matches produced so far are returned with ctx.Err().
func (c *Correlator) Correlate(ctx context.Context, recon []events.ReconEvent, exfil []events.ExfilEvent, now time.Time) ([]*Match, error) {
	deduped := events.DedupRecon(recon)
	dedupedE := events.DedupExfil(exfil)
	if c.metrics != nil {
		c.metrics.RecordDeduped(observability.StreamRecon, len(recon)-len(deduped))
		c.metrics.RecordDeduped(observability.StreamExfil, len(exfil)-len(dedupedE))
	}
	recon, exfil = deduped, dedupedE

	for i := range recon {
		recon[i].Timestamp = events.ClampFuture(recon[i].Timestamp, now, c.opts.SkewTolerance)
	}
	for i := range exfil {
		exfil[i].Timestamp = events.ClampFuture(exfil[i].Timestamp, now, c.opts.SkewTolerance)
	}

	markReverts(exfil)

	batches := groupByActor(recon, exfil)

	var (
		mu      sync.Mutex
		matches []*Match
		wg      sync.WaitGroup
		sem     = make(chan struct{}, c.opts.Workers)
	)

	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(b *actorBatch) {
			defer wg.Done()
			defer func() { <-sem }()

			out := c.processActor(ctx, b)
			mu.Lock()
			matches = append(matches, out...)
			mu.Unlock()
		}(b)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return matches, err
	}
	return matches, nil
}

// processActor runs one actor sequentially: every recon event feeds the score
// store first, then each exfil event is matched in timestamp order.
func (c *Correlator) processActor(ctx context.Context, b *actorBatch) []*Match {
	for i := range b.recon {
		if ctx.Err() != nil {
			return nil
		}
		c.store.ObserveRecon(ctx, b.actor, b.recon[i].Action, b.recon[i].Timestamp)
	}

	burst := Burstiness(reconTimestamps(b.recon))

	var out []*Match
	for i := range b.exfil {
		if ctx.Err() != nil {
			return out
		}
		e := &b.exfil[i]

		stats := c.baselines.Lookup(ctx, b.actor, e.Timestamp)

		if m := c.matchImmediate(b.recon, e); m != nil {
			delta := e.Timestamp.Sub(m.Timestamp).Minutes()
			out = append(out, &Match{
				Exfil:        e,
				Recon:        m,
				DeltaMinutes: &delta,
				ReconScore:   c.store.CurrentScore(ctx, b.actor, e.Timestamp),
				Baseline:     stats,
				BurstScore:   burst,
			})
		} else if score := c.store.CurrentScore(ctx, b.actor, e.Timestamp); score >= c.opts.DelayedThreshold {
			out = append(out, &Match{
				Exfil:      e,
				ReconScore: score,
				Baseline:   stats,
				BurstScore: burst,
			})
		}

		c.baselines.Observe(ctx, e)
	}
	return out
}

// matchImmediate selects the recon event for e: among recon events within the
// window whose doc matches (or that are file-agnostic), prefer a same-doc
// match, then the most recent one.
func (c *Correlator) matchImmediate(recon []events.ReconEvent, e *events.ExfilEvent) *events.ReconEvent {
	var sameDoc, agnostic *events.ReconEvent

	// Walk newest first so the first hit in each class is the most recent.
	for i := len(recon) - 1; i >= 0; i-- {
		r := &recon[i]
		delta := e.Timestamp.Sub(r.Timestamp)
		if delta < 0 {
			continue
		}
		if delta > c.opts.Window {
			break
		}

		switch {
		case r.DocID != "" && e.DocID != "" && r.DocID == e.DocID:
			if sameDoc == nil {
				sameDoc = r
			}
		case r.DocID == "" || e.DocID == "":
			if agnostic == nil {
				agnostic = r
			}
		}
		if sameDoc != nil {
			break
		}
	}

	if sameDoc != nil {
		return sameDoc
	}
	return agnostic
}

func groupByActor(recon []events.ReconEvent, exfil []events.ExfilEvent) []*actorBatch {
	byActor := make(map[string]*actorBatch)
	get := func(actor string) *actorBatch {
		key := events.NormalizeEmail(actor)
		b, ok := byActor[key]
		if !ok {
			b = &actorBatch{actor: key}
			byActor[key] = b
		}
		return b
	}

	for _, r := range recon {
		b := get(r.Actor)
		b.recon = append(b.recon, r)
	}
	for _, e := range exfil {
		b := get(e.Actor)
		b.exfil = append(b.exfil, e)
	}

	batches := make([]*actorBatch, 0, len(byActor))
	for _, b := range byActor {
		sort.SliceStable(b.recon, func(i, j int) bool {
			return b.recon[i].Timestamp.Before(b.recon[j].Timestamp)
		})
		sort.SliceStable(b.exfil, func(i, j int) bool {
			return b.exfil[i].Timestamp.Before(b.exfil[j].Timestamp)
		})
		batches = append(batches, b)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].actor < batches[j].actor })
	return batches
}

func reconTimestamps(recon []events.ReconEvent) []time.Time {
	ts := make([]time.Time, len(recon))
	for i := range recon {
		ts[i] = recon[i].Timestamp
	}
	return ts
}
