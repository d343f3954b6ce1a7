package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exfilwatch/internal/baseline"
	"exfilwatch/internal/events"
	"exfilwatch/internal/filecontext"
)

// Wednesday, mid-afternoon UTC.
var businessHours = time.Date(2025, 1, 15, 14, 23, 45, 0, time.UTC)

func newClassifier() *Classifier {
	return New(Options{
		AllowedExternalDomains: []string{"trusted.com"},
		PartnerDomains:         []string{"partner.com"},
	})
}

func candidate(mutate func(*Input)) *Input {
	in := &Input{
		Exfil: &events.ExfilEvent{
			EventID:   "e1",
			Actor:     "u@x.com",
			Type:      events.ExfilChangeACL,
			DocID:     "D1",
			Owner:     "u@x.com",
			Timestamp: businessHours,
		},
		FileCtx: &filecontext.FileContext{
			DocID:       "D1",
			Owner:       "u@x.com",
			Sensitivity: filecontext.SensitivityLow,
		},
		Baseline: baseline.Stats{KnownExternalDomains: map[string]bool{}},
	}
	if mutate != nil {
		mutate(in)
	}
	return in
}

func TestTrustedDomainIsBenignAndSuppressed(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.DestinationACL = "bob@trusted.com"
	})

	got := c.Classify(in)
	// 0.5 - 0.35 = 0.15
	assert.Equal(t, VerdictBenign, got.Intent)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	assert.True(t, got.ShouldSuppress)
	assert.Contains(t, got.Reasons, "trusted partner domain")
	require.NotNil(t, got.DestinationDomain)
	assert.Equal(t, "trusted.com", *got.DestinationDomain)
}

func TestPartnerDomainReducesScoreWithoutSuppression(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.DestinationACL = "bob@partner.com"
	})

	got := c.Classify(in)
	// 0.5 - 0.15 = 0.35 -> benign, but not allowlisted and not routine.
	assert.Equal(t, VerdictBenign, got.Intent)
	assert.False(t, got.ShouldSuppress)
}

func TestStackedSignalsAreMalicious(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.DestinationACL = "bob@stranger.net" // first time: +0.20
		in.Exfil.Owner = "victim@x.com"              // foreign file: +0.10
		in.Exfil.Timestamp = time.Date(2025, 1, 15, 22, 30, 0, 0, time.UTC) // off-hours: +0.10
		in.ReconScore = 12                            // high recon: +0.15
		in.FileCtx.Sensitivity = filecontext.SensitivityHigh // +0.15
	})

	got := c.Classify(in)
	// 0.5 + 0.70 clamps to 1.0.
	assert.Equal(t, VerdictMalicious, got.Intent)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.False(t, got.ShouldSuppress)
	assert.Contains(t, got.Reasons, "first-time share with stranger.net")
	assert.Contains(t, got.Reasons, "sharing someone else's file")
	assert.Contains(t, got.Reasons, "off-hours activity")
	assert.Contains(t, got.Reasons, "high cumulative recon")
}

func TestSuspiciousMidRange(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.DestinationACL = "bob@stranger.net" // +0.20
	})

	got := c.Classify(in)
	// 0.5 + 0.20 = 0.70 crosses the malicious bar exactly.
	assert.Equal(t, VerdictMalicious, got.Intent)

	in2 := candidate(func(in *Input) {
		in.Exfil.Owner = "victim@x.com" // +0.10 only
	})
	got2 := c.Classify(in2)
	assert.Equal(t, VerdictSuspicious, got2.Intent)
}

func TestKnownDomainNotFirstTime(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.DestinationACL = "bob@stranger.net"
		in.Baseline = baseline.Stats{
			KnownExternalDomains: map[string]bool{"stranger.net": true},
			Sufficient:           true,
		}
	})

	got := c.Classify(in)
	assert.NotContains(t, got.Reasons, "first-time share with stranger.net")
	// No signal fires, so the score stays at the 0.5 midpoint.
	assert.Equal(t, VerdictSuspicious, got.Intent)
	assert.Zero(t, got.Confidence)
}

func TestColdStartTreatsDestinationAsUnknown(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.DestinationACL = "bob@stranger.net"
		// Domain seen, but fewer than five observed shares.
		in.Baseline = baseline.Stats{
			KnownExternalDomains: map[string]bool{"stranger.net": true},
			Sufficient:           false,
		}
	})

	got := c.Classify(in)
	assert.Contains(t, got.Reasons, "first-time share with stranger.net")
}

func TestRoutineSharerSuppression(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Baseline = baseline.Stats{
			KnownExternalDomains: map[string]bool{},
			ExternalSharesPerDay: 5,
			Sufficient:           true,
		}
	})

	got := c.Classify(in)
	// 0.5 - 0.10 = 0.40 is exactly the suspicious bar.
	assert.Equal(t, VerdictSuspicious, got.Intent)
	assert.False(t, got.ShouldSuppress)

	// Push the score under the bar and the routine baseline suppresses.
	in.Exfil.DestinationACL = "bob@partner.com"
	got = c.Classify(in)
	assert.Equal(t, VerdictBenign, got.Intent)
	assert.True(t, got.ShouldSuppress)
}

func TestWeekendIsOffHours(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		// Saturday noon.
		in.Exfil.Timestamp = time.Date(2025, 1, 18, 12, 0, 0, 0, time.UTC)
	})

	got := c.Classify(in)
	assert.Contains(t, got.Reasons, "off-hours activity")
}

func TestOffHoursUsesConfiguredTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	c := New(Options{Location: tokyo})

	// 03:00 UTC Wednesday is noon in Tokyo: working hours.
	in := candidate(func(in *Input) {
		in.Exfil.Timestamp = time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)
	})
	got := c.Classify(in)
	assert.NotContains(t, got.Reasons, "off-hours activity")

	// 15:00 UTC Wednesday is midnight in Tokyo.
	in.Exfil.Timestamp = time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)
	got = c.Classify(in)
	assert.Contains(t, got.Reasons, "off-hours activity")
}

func TestPreviouslySharedDestinationReducesScore(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.DestinationACL = "bob@stranger.net"
		in.FileCtx.SharedExternallyBefore = true
		in.Baseline = baseline.Stats{
			KnownExternalDomains: map[string]bool{"stranger.net": true},
			Sufficient:           true,
		}
	})

	got := c.Classify(in)
	// 0.5 - 0.10 = 0.40 exactly.
	assert.Equal(t, VerdictSuspicious, got.Intent)
}

func TestDeterministic(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.DestinationACL = "bob@stranger.net"
		in.ReconScore = 11
	})

	first := c.Classify(in)
	second := c.Classify(in)
	assert.Equal(t, first, second)
}

func TestNoDestinationDomainIsNil(t *testing.T) {
	c := newClassifier()
	in := candidate(func(in *Input) {
		in.Exfil.Type = events.ExfilDownload
	})

	got := c.Classify(in)
	assert.Nil(t, got.DestinationDomain)
}
