// Package severity turns a correlation candidate into a final severity, or
// drops it. Base severity comes from temporal proximity and exfil kind;
// override rules elevate, suppression rules drop. Override-to-high wins over
// intent suppression.
package severity

import (
	"fmt"
	"strings"

	"exfilwatch/internal/events"
	"exfilwatch/internal/filecontext"
	"exfilwatch/internal/intent"
)

// Level is an ordered severity.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

var rank = map[Level]int{Low: 0, Medium: 1, High: 2}

// Rank orders levels for sorting; higher is more severe.
func Rank(l Level) int {
	return rank[l]
}

func step(l Level, n int) Level {
	r := rank[l] + n
	if r >= rank[High] {
		return High
	}
	if r <= rank[Low] {
		return Low
	}
	return Medium
}

// Candidate is the severity-relevant view of a correlation match.
type Candidate struct {
	Exfil        *events.ExfilEvent
	DeltaMinutes *float64 // nil for delayed matches
	ReconScore   float64
	FileCtx      *filecontext.FileContext
	Analysis     intent.Analysis
	ActorOU      string
}

// Decision is the resolver output.
type Decision struct {
	Level       Level
	Drop        bool
	DropCause   string
	Reasons     []string
	ReasonCodes []string
}

// Options configures the resolver.
type Options struct {
	HighRiskOUs              []string
	HighRiskFolders          []string
	ExcludeActors            []string
	SecurityInvestigationOUs []string
	CanaryDocIDs             []string
}

// Resolver applies the severity rubric.
type Resolver struct {
	highRiskOUs     map[string]bool
	highRiskFolders map[string]bool
	excludeActors   map[string]bool
	securityOUs     map[string]bool
	canaryDocs      map[string]bool
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	return &Resolver{
		highRiskOUs:     toSet(opts.HighRiskOUs, false),
		highRiskFolders: toSet(opts.HighRiskFolders, false),
		excludeActors:   toSet(opts.ExcludeActors, true),
		securityOUs:     toSet(opts.SecurityInvestigationOUs, false),
		canaryDocs:      toSet(opts.CanaryDocIDs, false),
	}
}

// Resolve assigns the final severity for a candidate.
func (r *Resolver) Resolve(c *Candidate) Decision {
	// Actor-level exclusions drop everything, canaries included.
	actor := events.NormalizeEmail(c.Exfil.Actor)
	if r.excludeActors[actor] {
		return Decision{Drop: true, DropCause: "excluded actor"}
	}
	if c.ActorOU != "" && r.securityOUs[c.ActorOU] {
		return Decision{Drop: true, DropCause: "security investigation OU"}
	}

	level, reasons, codes := r.base(c)

	elevatedToHigh := false
	if n := r.overrideConditions(c); n > 0 {
		boost := 1
		if n >= 2 {
			boost = 2
		}
		next := step(level, boost)
		elevatedToHigh = next == High
		level = next
		codes = append(codes, "severity_override")
		if c.FileCtx != nil && c.FileCtx.Sensitivity == filecontext.SensitivityHigh {
			reasons = append(reasons, "high-sensitivity file")
		}
		if c.ActorOU != "" && r.highRiskOUs[c.ActorOU] {
			reasons = append(reasons, "high-risk org unit")
		}
	}

	canary := c.Exfil.DocID != "" && r.canaryDocs[c.Exfil.DocID]
	if canary {
		level = High
		reasons = append([]string{"CANARY DOCUMENT ACCESS"}, reasons...)
		codes = append(codes, "canary_doc_access")
	}

	// Suppression discounts the temporal rubric but never outranks a finding
	// that reached high through overrides or a canary doc.
	if c.Analysis.ShouldSuppress && !elevatedToHigh && !canary {
		return Decision{Drop: true, DropCause: "benign intent"}
	}

	return Decision{Level: level, Reasons: reasons, ReasonCodes: codes}
}

// base applies the proximity rubric.
func (r *Resolver) base(c *Candidate) (Level, []string, []string) {
	qualifying := c.Exfil.IsExternalShare() ||
		c.Exfil.Type == events.ExfilExport ||
		c.Exfil.Type == events.ExfilDownload

	if c.Exfil.IsRevert {
		return High,
			[]string{"external toggle with rapid revert (evasion pattern)"},
			[]string{"external_toggle_revert"}
	}

	if c.DeltaMinutes == nil {
		reason := fmt.Sprintf("delayed exfil after cumulative recon (score=%.2f)", c.ReconScore)
		if c.Exfil.IsExternalShare() || c.Exfil.Type == events.ExfilExport {
			return Medium, []string{reason}, []string{"delayed_exfil"}
		}
		return Low, []string{reason}, []string{"delayed_exfil"}
	}

	delta := *c.DeltaMinutes
	switch {
	case delta <= 10 && qualifying:
		return High,
			[]string{fmt.Sprintf("%s within 10min of recon", describe(c.Exfil))},
			[]string{"exfil_immediate"}
	case delta <= 30 && qualifying:
		return Medium,
			[]string{fmt.Sprintf("%s within 30min of recon", describe(c.Exfil))},
			[]string{"exfil_correlated"}
	default:
		return Low,
			[]string{"activity correlation detected"},
			[]string{"activity_correlated"}
	}
}

// overrideConditions counts how many elevation rules match.
func (r *Resolver) overrideConditions(c *Candidate) int {
	n := 0
	if c.FileCtx != nil && c.FileCtx.Sensitivity == filecontext.SensitivityHigh {
		n++
	}
	if c.ActorOU != "" && r.highRiskOUs[c.ActorOU] {
		n++
	}
	if c.Exfil.ParentFolderID != "" && r.highRiskFolders[c.Exfil.ParentFolderID] {
		n++
	}
	return n
}

func describe(e *events.ExfilEvent) string {
	if e.IsExternalShare() {
		return "external share"
	}
	switch e.Type {
	case events.ExfilExport:
		return "export"
	case events.ExfilDownload:
		return "download"
	default:
		return string(e.Type)
	}
}

func toSet(in []string, normalizeEmails bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		if normalizeEmails {
			s = strings.ToLower(strings.TrimSpace(s))
		}
		out[s] = true
	}
	return out
}
