// Package intent separates malicious exfiltration from legitimate workflows.
// The classifier is rule-based: a fixed table of additive signals over a 0.5
// midpoint, deterministic and pure given its inputs, with tunable verdict
// thresholds.
package intent

import (
	"fmt"
	"math"
	"strings"
	"time"

	"exfilwatch/internal/baseline"
	"exfilwatch/internal/events"
	"exfilwatch/internal/filecontext"
)

// Verdict labels.
const (
	VerdictMalicious  = "malicious"
	VerdictSuspicious = "suspicious"
	VerdictBenign     = "benign"
)

// Input is one correlation candidate as seen by the classifier.
type Input struct {
	Exfil      *events.ExfilEvent
	Recon      *events.ReconEvent // nil for delayed candidates
	FileCtx    *filecontext.FileContext
	ReconScore float64
	Baseline   baseline.Stats
}

// Analysis is the classifier verdict attached to findings.
type Analysis struct {
	Intent            string   `json:"intent"`
	Confidence        float64  `json:"confidence"`
	Reasons           []string `json:"reasons"`
	ShouldSuppress    bool     `json:"should_suppress"`
	DestinationDomain *string  `json:"destination_domain"`
}

// Options tunes the classifier.
type Options struct {
	AllowedExternalDomains []string
	PartnerDomains         []string
	MaliciousThreshold     float64 // default 0.7
	SuspiciousThreshold    float64 // default 0.4
	RoutineSharesPerDay    float64 // default 3.0
	Location               *time.Location
}

// signal is one row of the weight table. applies may append to the reasons
// list; rows evaluate in fixed order so the output is deterministic.
type signal struct {
	name    string
	delta   float64
	applies func(in *Input, dest string, c *Classifier) (bool, string)
}

// Classifier evaluates the weight table.
type Classifier struct {
	allowed  map[string]bool
	partner  map[string]bool
	opts     Options
	loc      *time.Location
	signals  []signal
	highBar  float64
	midBar   float64
	routine  float64
}

// New creates a Classifier.
func New(opts Options) *Classifier {
	if opts.MaliciousThreshold == 0 {
		opts.MaliciousThreshold = 0.7
	}
	if opts.SuspiciousThreshold == 0 {
		opts.SuspiciousThreshold = 0.4
	}
	if opts.RoutineSharesPerDay == 0 {
		opts.RoutineSharesPerDay = 3.0
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	c := &Classifier{
		allowed: lowerSet(opts.AllowedExternalDomains),
		partner: lowerSet(opts.PartnerDomains),
		opts:    opts,
		loc:     loc,
		highBar: opts.MaliciousThreshold,
		midBar:  opts.SuspiciousThreshold,
		routine: opts.RoutineSharesPerDay,
	}
	c.signals = weightTable()
	return c
}

// weightTable is the full signal contract. Adjusting detection behavior means
// editing a row here, not scattering conditionals through the correlator.
func weightTable() []signal {
	return []signal{
		{
			name:  "allowed_domain",
			delta: -0.35,
			applies: func(_ *Input, dest string, c *Classifier) (bool, string) {
				return dest != "" && c.allowed[dest], "trusted partner domain"
			},
		},
		{
			name:  "partner_domain",
			delta: -0.15,
			applies: func(_ *Input, dest string, c *Classifier) (bool, string) {
				return dest != "" && !c.allowed[dest] && c.partner[dest], ""
			},
		},
		{
			name:  "first_time_destination",
			delta: 0.20,
			applies: func(in *Input, dest string, c *Classifier) (bool, string) {
				if dest == "" || c.allowed[dest] || c.partner[dest] {
					return false, ""
				}
				if in.Baseline.Sufficient && in.Baseline.HasSeenDomain(dest) {
					return false, ""
				}
				return true, fmt.Sprintf("first-time share with %s", dest)
			},
		},
		{
			name:  "foreign_file",
			delta: 0.10,
			applies: func(in *Input, _ string, _ *Classifier) (bool, string) {
				owner := in.Exfil.Owner
				if owner == "" && in.FileCtx != nil {
					owner = in.FileCtx.Owner
				}
				if owner == "" {
					return false, ""
				}
				foreign := events.NormalizeEmail(owner) != events.NormalizeEmail(in.Exfil.Actor)
				return foreign, "sharing someone else's file"
			},
		},
		{
			name:  "off_hours",
			delta: 0.10,
			applies: func(in *Input, _ string, c *Classifier) (bool, string) {
				return c.isOffHours(in.Exfil.Timestamp), "off-hours activity"
			},
		},
		{
			name:  "high_recon",
			delta: 0.15,
			applies: func(in *Input, _ string, _ *Classifier) (bool, string) {
				return in.ReconScore >= 10, "high cumulative recon"
			},
		},
		{
			name:  "sensitive_file",
			delta: 0.15,
			applies: func(in *Input, _ string, _ *Classifier) (bool, string) {
				return in.FileCtx != nil && in.FileCtx.Sensitivity == filecontext.SensitivityHigh, ""
			},
		},
		{
			name:  "previously_shared_destination",
			delta: -0.10,
			applies: func(in *Input, dest string, _ *Classifier) (bool, string) {
				if in.FileCtx == nil || !in.FileCtx.SharedExternallyBefore || dest == "" {
					return false, ""
				}
				return in.Baseline.HasSeenDomain(dest), ""
			},
		},
		{
			name:  "routine_sharer",
			delta: -0.10,
			applies: func(in *Input, _ string, c *Classifier) (bool, string) {
				return in.Baseline.Sufficient && in.Baseline.ExternalSharesPerDay > c.routine, ""
			},
		},
	}
}

// Classify scores one candidate.
func (c *Classifier) Classify(in *Input) Analysis {
	dest := events.DestinationDomain(in.Exfil.DestinationACL, in.Exfil.NewValue)

	score := 0.5
	var reasons []string
	for _, sig := range c.signals {
		hit, reason := sig.applies(in, dest, c)
		if !hit {
			continue
		}
		score += sig.delta
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}
	score = clamp01(score)

	verdict := VerdictBenign
	switch {
	case score >= c.highBar:
		verdict = VerdictMalicious
	case score >= c.midBar:
		verdict = VerdictSuspicious
	}

	routine := in.Baseline.Sufficient && in.Baseline.ExternalSharesPerDay > c.routine
	suppress := verdict == VerdictBenign && ((dest != "" && c.allowed[dest]) || routine)

	analysis := Analysis{
		Intent:         verdict,
		Confidence:     round2(math.Abs(score-0.5) * 2),
		Reasons:        reasons,
		ShouldSuppress: suppress,
	}
	if dest != "" {
		analysis.DestinationDomain = &dest
	}
	return analysis
}

// isOffHours: outside 07:00-19:59 local, or a weekend.
func (c *Classifier) isOffHours(ts time.Time) bool {
	local := ts.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	h := local.Hour()
	return h < 7 || h > 19
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func lowerSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[strings.ToLower(s)] = true
	}
	return out
}
