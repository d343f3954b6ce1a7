// Package reconstate maintains the per-actor cumulative recon score with
// exponential time decay. The score is the detector's memory: it lets an
// exfil act days after the reconnaissance still attribute to it.
package reconstate

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"exfilwatch/internal/events"
	"exfilwatch/internal/observability"
)

// evictionFloor is the score below which an actor's entry is deleted instead
// of kept decaying forever.
const evictionFloor = 0.1

// maxScore clamps the cumulative score so a noisy actor cannot grow an
// unbounded value.
const maxScore = 100.0

// casAttempts bounds optimistic-concurrency retries per observation.
const casAttempts = 3

// Entry is the persisted per-actor score record.
type Entry struct {
	Score      float64   `json:"score"`
	LastUpdate time.Time `json:"last_update_ts"`
}

// Backend is the narrow storage contract shared by the memory and kv
// implementations: atomic read, compare-and-swap write, and conditional
// delete for decayed-out actors.
type Backend interface {
	// Get returns the entry for actor; ok is false when absent.
	Get(ctx context.Context, actor string) (Entry, bool, error)
	// PutCAS writes next if the stored entry still equals expected
	// (expectedOK=false means "only if absent"). Returns false on conflict.
	PutCAS(ctx context.Context, actor string, expected Entry, expectedOK bool, next Entry) (bool, error)
	// DeleteIfBelow removes the actor's entry when its decayed score at
	// the given instant is under threshold.
	DeleteIfBelow(ctx context.Context, actor string, threshold float64, at time.Time, halfLife time.Duration) error
	Close() error
}

// actionWeights maps recon actions to score increments. File-targeted
// analysis actions carry the most signal; writing aids carry almost none.
var actionWeights = map[events.ReconAction]float64{
	events.ActionAskAboutThisFile:       2.0,
	events.ActionSummarizeFile:          2.0,
	events.ActionAnalyzeDocuments:       2.0,
	events.ActionCatchMeUp:              2.0,
	events.ActionReportUnspecifiedFiles: 2.0,
	events.ActionHelpMeWrite:            0.5,
	events.ActionProofread:              0.5,
	events.ActionSearchWeb:              1.0,
}

// ActionWeight returns the score increment for a recon action.
func ActionWeight(action events.ReconAction) float64 {
	return actionWeights[action]
}

// Decay returns score decayed over elapsed at the given half-life. Negative
// elapsed (out-of-order events) decays nothing.
func Decay(score float64, elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || score == 0 {
		return score
	}
	return score * math.Exp2(-elapsed.Hours()/halfLife.Hours())
}

// Store layers the decay model on a Backend.
type Store struct {
	backend  Backend
	halfLife time.Duration
	logger   *zap.SugaredLogger
	metrics  *observability.MetricsManager
}

// New creates a Store with the given half-life.
func New(backend Backend, halfLife time.Duration, logger *zap.SugaredLogger) *Store {
	return &Store{backend: backend, halfLife: halfLife, logger: logger}
}

// SetMetrics attaches a metrics manager; a nil manager disables counting.
func (s *Store) SetMetrics(mm *observability.MetricsManager) {
	s.metrics = mm
}

func (s *Store) recordRetry() {
	if s.metrics != nil {
		s.metrics.RecordBackendRetry()
	}
}

func (s *Store) recordFailure() {
	if s.metrics != nil {
		s.metrics.RecordBackendFailure()
	}
}

// ObserveRecon folds one recon event into the actor's score: decay the stored
// value to the event time, add the action weight, clamp, persist. Recon
// tracking is best effort; backend errors are logged and the update dropped
// so detection never blocks on the store.
func (s *Store) ObserveRecon(ctx context.Context, actor string, action events.ReconAction, ts time.Time) {
	weight := ActionWeight(action)
	if weight == 0 {
		return
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		cur, ok, err := s.backend.Get(ctx, actor)
		if err != nil {
			s.logger.Warnw("Recon score read failed, dropping observation",
				"actor", actor, "error", err)
			s.recordFailure()
			return
		}

		next := Entry{Score: weight, LastUpdate: ts}
		if ok {
			next.Score = Decay(cur.Score, ts.Sub(cur.LastUpdate), s.halfLife) + weight
			if ts.Before(cur.LastUpdate) {
				// Keep last_update_ts monotone when events arrive out of order.
				next.LastUpdate = cur.LastUpdate
			}
		}
		if next.Score > maxScore {
			next.Score = maxScore
		}

		written, err := s.backend.PutCAS(ctx, actor, cur, ok, next)
		if err != nil {
			s.logger.Warnw("Recon score write failed, dropping observation",
				"actor", actor, "error", err)
			s.recordFailure()
			return
		}
		if written {
			return
		}
		s.recordRetry()
	}
	s.logger.Warnw("Recon score update lost CAS race, dropping observation", "actor", actor)
	s.recordFailure()
}

// CurrentScore returns the decayed score at the given instant without
// mutating storage. Backend errors fail open to 0 so a broken store degrades
// to windowed-only detection. Entries decayed under the eviction floor are
// deleted on the way out.
func (s *Store) CurrentScore(ctx context.Context, actor string, at time.Time) float64 {
	cur, ok, err := s.backend.Get(ctx, actor)
	if err != nil {
		s.logger.Warnw("Recon score read failed, treating as zero",
			"actor", actor, "error", err)
		s.recordFailure()
		return 0
	}
	if !ok {
		return 0
	}

	score := Decay(cur.Score, at.Sub(cur.LastUpdate), s.halfLife)
	if score < evictionFloor {
		if err := s.backend.DeleteIfBelow(ctx, actor, evictionFloor, at, s.halfLife); err != nil {
			s.logger.Debugw("Recon score eviction failed", "actor", actor, "error", err)
		}
		return score
	}
	return score
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
