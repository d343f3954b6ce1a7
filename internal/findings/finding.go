// Package findings defines the detector's output record and the sinks it
// flows to. Serialization is stable: fixed key order, timestamps rendered in
// the configured timezone, delta and score truncated to two decimals, so
// replaying a batch yields byte-identical output.
package findings

import (
	"math"
	"strconv"
	"time"

	"exfilwatch/internal/events"
	"exfilwatch/internal/filecontext"
	"exfilwatch/internal/intent"
	"exfilwatch/internal/severity"
)

// timeLayout renders with the zone offset, e.g. 2025-01-15T09:23:45-05:00.
const timeLayout = "2006-01-02T15:04:05-07:00"

// Fixed2 marshals as a number truncated to two decimals ("5.55", "0.00").
type Fixed2 float64

// MarshalJSON implements json.Marshaler.
func (f Fixed2) MarshalJSON() ([]byte, error) {
	truncated := math.Trunc(float64(f)*100) / 100
	return []byte(strconv.FormatFloat(truncated, 'f', 2, 64)), nil
}

// EventIDs references the source audit records.
type EventIDs struct {
	Recon *string `json:"recon"`
	Exfil string  `json:"exfil"`
}

// FileContextRecord is the enrichment block of a finding.
type FileContextRecord struct {
	Sensitivity            string   `json:"sensitivity"`
	Labels                 []string `json:"labels"`
	Owner                  string   `json:"owner"`
	SharedExternallyBefore bool     `json:"shared_externally_before"`
}

// Finding is one emitted detection. Field order is the output key order.
type Finding struct {
	Severity       string            `json:"severity"`
	Actor          string            `json:"actor"`
	ExfilEvent     string            `json:"exfil_event"`
	ExfilTime      string            `json:"exfil_time"`
	DocID          string            `json:"doc_id"`
	DocTitle       string            `json:"doc_title"`
	ReconAction    *string           `json:"recon_action"`
	ReconTime      *string           `json:"recon_time"`
	DeltaMinutes   *Fixed2           `json:"delta_minutes"`
	Visibility     string            `json:"visibility"`
	Reason         string            `json:"reason"`
	EventIDs       EventIDs          `json:"event_ids"`
	ReconScore     Fixed2            `json:"recon_score"`
	FileContext    FileContextRecord `json:"file_context"`
	IntentAnalysis intent.Analysis   `json:"intent_analysis"`
	ReasonCodes    []string          `json:"reason_codes,omitempty"`

	// exfilTS carries the source timestamp for deterministic ordering.
	exfilTS time.Time
}

// Build assembles a Finding from a resolved candidate.
func Build(
	exfil *events.ExfilEvent,
	recon *events.ReconEvent,
	deltaMinutes *float64,
	reconScore float64,
	fileCtx *filecontext.FileContext,
	analysis intent.Analysis,
	decision severity.Decision,
	reason string,
	loc *time.Location,
) *Finding {
	f := &Finding{
		Severity:    string(decision.Level),
		Actor:       events.NormalizeEmail(exfil.Actor),
		ExfilEvent:  string(exfil.Type),
		ExfilTime:   exfil.Timestamp.In(loc).Format(timeLayout),
		DocID:       exfil.DocID,
		DocTitle:    exfil.DocTitle,
		Visibility:  string(exfil.Visibility),
		Reason:      reason,
		EventIDs:    EventIDs{Exfil: exfil.EventID},
		ReconScore:  Fixed2(reconScore),
		ReasonCodes: decision.ReasonCodes,
		exfilTS:     exfil.Timestamp,
	}

	if recon != nil {
		action := string(recon.Action)
		ts := recon.Timestamp.In(loc).Format(timeLayout)
		f.ReconAction = &action
		f.ReconTime = &ts
		f.EventIDs.Recon = &recon.EventID
	}
	if deltaMinutes != nil {
		d := Fixed2(*deltaMinutes)
		f.DeltaMinutes = &d
	}

	if fileCtx != nil {
		f.FileContext = FileContextRecord{
			Sensitivity:            string(fileCtx.Sensitivity),
			Labels:                 fileCtx.Labels,
			Owner:                  fileCtx.Owner,
			SharedExternallyBefore: fileCtx.SharedExternallyBefore,
		}
	}
	if f.FileContext.Labels == nil {
		f.FileContext.Labels = []string{}
	}

	f.IntentAnalysis = analysis
	if f.IntentAnalysis.Reasons == nil {
		f.IntentAnalysis.Reasons = []string{}
	}
	return f
}

// ExfilTimestamp exposes the source timestamp for ordering.
func (f *Finding) ExfilTimestamp() time.Time {
	return f.exfilTS
}

// Less orders findings for output: severity first (high before low), then
// exfil timestamp, then actor and exfil event id to break the remaining ties
// deterministically.
func Less(a, b *Finding) bool {
	ra, rb := severity.Rank(severity.Level(a.Severity)), severity.Rank(severity.Level(b.Severity))
	if ra != rb {
		return ra > rb
	}
	if !a.exfilTS.Equal(b.exfilTS) {
		return a.exfilTS.Before(b.exfilTS)
	}
	if a.Actor != b.Actor {
		return a.Actor < b.Actor
	}
	return a.EventIDs.Exfil < b.EventIDs.Exfil
}
