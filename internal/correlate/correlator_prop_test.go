package correlate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"exfilwatch/internal/events"
)

// Random batches must uphold the match invariants: at most one match per
// exfil event, immediate matches stay inside the window with the same actor,
// and matched ids always come from the input.
func TestCorrelationInvariants(t *testing.T) {
	actors := []string{"a@x.com", "b@x.com", "c@y.org"}
	docs := []string{"", "D1", "D2"}
	actions := []events.ReconAction{
		events.ActionSummarizeFile, events.ActionAnalyzeDocuments,
		events.ActionCatchMeUp, events.ActionProofread,
	}

	rapid.Check(t, func(t *rapid.T) {
		window := 30 * time.Minute

		var recon []events.ReconEvent
		n := rapid.IntRange(0, 20).Draw(t, "recon_count")
		for i := 0; i < n; i++ {
			recon = append(recon, events.ReconEvent{
				EventID:   fmt.Sprintf("rc-%d", i),
				Actor:     rapid.SampledFrom(actors).Draw(t, "recon_actor"),
				Action:    rapid.SampledFrom(actions).Draw(t, "action"),
				App:       events.AppDrive,
				DocID:     rapid.SampledFrom(docs).Draw(t, "recon_doc"),
				Timestamp: testNow.Add(-time.Duration(rapid.IntRange(0, 120).Draw(t, "recon_age")) * time.Minute),
			})
		}

		var exfil []events.ExfilEvent
		m := rapid.IntRange(0, 20).Draw(t, "exfil_count")
		for i := 0; i < m; i++ {
			exfil = append(exfil, events.ExfilEvent{
				EventID:   fmt.Sprintf("ex-%d", i),
				Actor:     rapid.SampledFrom(actors).Draw(t, "exfil_actor"),
				Type:      events.ExfilDownload,
				DocID:     rapid.SampledFrom(docs[1:]).Draw(t, "exfil_doc"),
				Timestamp: testNow.Add(-time.Duration(rapid.IntRange(0, 120).Draw(t, "exfil_age")) * time.Minute),
			})
		}

		c := newTestCorrelator(Options{Window: window, DelayedThreshold: 1000})
		matches, err := c.Correlate(context.Background(), recon, exfil, testNow)
		if err != nil {
			t.Fatalf("correlate: %v", err)
		}

		reconByID := map[string]events.ReconEvent{}
		for _, r := range recon {
			reconByID[r.EventID] = r
		}

		seenExfil := map[string]bool{}
		for _, match := range matches {
			if seenExfil[match.Exfil.EventID] {
				t.Fatalf("exfil %s matched twice", match.Exfil.EventID)
			}
			seenExfil[match.Exfil.EventID] = true

			if match.Recon == nil {
				continue
			}
			r, ok := reconByID[match.Recon.EventID]
			if !ok {
				t.Fatalf("matched recon %s not in input", match.Recon.EventID)
			}
			if events.NormalizeEmail(r.Actor) != events.NormalizeEmail(match.Exfil.Actor) {
				t.Fatalf("cross-actor match %s -> %s", r.Actor, match.Exfil.Actor)
			}
			delta := match.Exfil.Timestamp.Sub(match.Recon.Timestamp)
			if delta < 0 || delta > window {
				t.Fatalf("match outside window: %v", delta)
			}
		}
	})
}
