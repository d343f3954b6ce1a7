// Package events defines the two audit event streams the engine correlates:
// recon events produced by AI-assistant activity and exfil events produced by
// the file service. Adapters validate raw records into these types at the
// boundary; everything downstream treats them as immutable.
package events

import (
	"fmt"
	"strings"
	"time"
)

// ReconAction enumerates assistant features that count as reconnaissance.
type ReconAction string

const (
	ActionAskAboutThisFile       ReconAction = "ask_about_this_file"
	ActionSummarizeFile          ReconAction = "summarize_file"
	ActionAnalyzeDocuments       ReconAction = "analyze_documents"
	ActionCatchMeUp              ReconAction = "catch_me_up"
	ActionReportUnspecifiedFiles ReconAction = "report_unspecified_files"
	ActionHelpMeWrite            ReconAction = "help_me_write"
	ActionProofread              ReconAction = "proofread"
	ActionSearchWeb              ReconAction = "search_web"
)

// App enumerates the Workspace surfaces a recon event can originate from.
type App string

const (
	AppDocs   App = "docs"
	AppDrive  App = "drive"
	AppSheets App = "sheets"
	AppSlides App = "slides"
	AppGmail  App = "gmail"
	AppMeet   App = "meet"
)

// ExfilType enumerates file-service events that move a file out of the
// actor's sole control.
type ExfilType string

const (
	ExfilChangeVisibility ExfilType = "change_visibility"
	ExfilChangeACL        ExfilType = "change_acl"
	ExfilDownload         ExfilType = "download"
	ExfilExport           ExfilType = "export"
	ExfilCopy             ExfilType = "copy"
	ExfilAddToFolder      ExfilType = "add_to_folder"
)

// Visibility enumerates the file-visibility values carried on ACL and
// visibility-change events.
type Visibility string

const (
	VisibilityPrivate          Visibility = "private"
	VisibilityDomain           Visibility = "domain"
	VisibilityPeopleWithLink   Visibility = "people_with_link"
	VisibilityPublicOnTheWeb   Visibility = "public_on_the_web"
	VisibilitySharedExternally Visibility = "shared_externally"
)

var reconActions = map[ReconAction]bool{
	ActionAskAboutThisFile:       true,
	ActionSummarizeFile:          true,
	ActionAnalyzeDocuments:       true,
	ActionCatchMeUp:              true,
	ActionReportUnspecifiedFiles: true,
	ActionHelpMeWrite:            true,
	ActionProofread:              true,
	ActionSearchWeb:              true,
}

var apps = map[App]bool{
	AppDocs:   true,
	AppDrive:  true,
	AppSheets: true,
	AppSlides: true,
	AppGmail:  true,
	AppMeet:   true,
}

var exfilTypes = map[ExfilType]bool{
	ExfilChangeVisibility: true,
	ExfilChangeACL:        true,
	ExfilDownload:         true,
	ExfilExport:           true,
	ExfilCopy:             true,
	ExfilAddToFolder:      true,
}

// ExternalVisibilities are the visibility values that expose a file outside
// the tenant.
var ExternalVisibilities = map[Visibility]bool{
	VisibilityPeopleWithLink:   true,
	VisibilityPublicOnTheWeb:   true,
	VisibilitySharedExternally: true,
}

// ReconEvent is a single assistant-activity audit record.
type ReconEvent struct {
	EventID   string      `json:"event_id"`
	Actor     string      `json:"actor"`
	Action    ReconAction `json:"action"`
	App       App         `json:"app"`
	DocID     string      `json:"doc_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ExfilEvent is a single file-service audit record matching an exfil pattern.
type ExfilEvent struct {
	EventID        string     `json:"event_id"`
	Actor          string     `json:"actor"`
	Type           ExfilType  `json:"event_type"`
	DocID          string     `json:"doc_id,omitempty"`
	DocTitle       string     `json:"doc_title,omitempty"`
	Visibility     Visibility `json:"visibility,omitempty"`
	NewValue       string     `json:"new_value,omitempty"`
	OldValue       string     `json:"old_value,omitempty"`
	DestinationACL string     `json:"destination_acl,omitempty"`
	Owner          string     `json:"owner,omitempty"`
	ParentFolderID string     `json:"parent_folder_id,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`

	// IsRevert marks events that participate in an external-toggle-and-revert
	// sequence. Set by the correlator's revert pre-pass, never by adapters.
	IsRevert bool `json:"-"`
}

// NormalizeEmail lowercases and trims an actor or owner address so map keys
// and comparisons are stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate reports the first missing or invalid required field.
func (r *ReconEvent) Validate() error {
	switch {
	case r.EventID == "":
		return fmt.Errorf("recon event: missing event_id")
	case r.Actor == "":
		return fmt.Errorf("recon event %s: missing actor", r.EventID)
	case !reconActions[r.Action]:
		return fmt.Errorf("recon event %s: unknown action %q", r.EventID, r.Action)
	case !apps[r.App]:
		return fmt.Errorf("recon event %s: unknown app %q", r.EventID, r.App)
	case r.Timestamp.IsZero():
		return fmt.Errorf("recon event %s: missing timestamp", r.EventID)
	}
	return nil
}

// Validate reports the first missing or invalid required field.
func (e *ExfilEvent) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("exfil event: missing event_id")
	case e.Actor == "":
		return fmt.Errorf("exfil event %s: missing actor", e.EventID)
	case !exfilTypes[e.Type]:
		return fmt.Errorf("exfil event %s: unknown event_type %q", e.EventID, e.Type)
	case e.Timestamp.IsZero():
		return fmt.Errorf("exfil event %s: missing timestamp", e.EventID)
	}
	if e.Visibility != "" {
		switch e.Visibility {
		case VisibilityPrivate, VisibilityDomain, VisibilityPeopleWithLink,
			VisibilityPublicOnTheWeb, VisibilitySharedExternally:
		default:
			return fmt.Errorf("exfil event %s: unknown visibility %q", e.EventID, e.Visibility)
		}
	}
	return nil
}

// IsExternalShare reports whether the event exposes a file outside the
// tenant: a visibility or ACL change landing on an external visibility, or an
// ACL grant to an address outside the actor's domain.
func (e *ExfilEvent) IsExternalShare() bool {
	if e.Type != ExfilChangeVisibility && e.Type != ExfilChangeACL {
		return false
	}
	if ExternalVisibilities[e.Visibility] {
		return true
	}
	dest := DestinationDomain(e.DestinationACL, e.NewValue)
	return dest != "" && dest != actorDomain(e.Actor)
}

// DestinationDomain extracts the external destination domain from an ACL
// grant. Email grants yield the part after "@"; bare domain grants are
// returned as-is. Returns "" when no destination can be derived.
func DestinationDomain(destinationACL, newValue string) string {
	for _, v := range []string{destinationACL, newValue} {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if at := strings.LastIndex(v, "@"); at >= 0 && at < len(v)-1 {
			return v[at+1:]
		}
		if strings.Contains(v, ".") && !strings.ContainsAny(v, " /") {
			return v
		}
	}
	return ""
}

func actorDomain(actor string) string {
	if at := strings.LastIndex(actor, "@"); at >= 0 && at < len(actor)-1 {
		return strings.ToLower(actor[at+1:])
	}
	return ""
}

// DedupRecon drops duplicate recon events by event id, keeping first
// occurrence. Adapters retry fetches, so duplicates are expected.
func DedupRecon(in []ReconEvent) []ReconEvent {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, ev := range in {
		if seen[ev.EventID] {
			continue
		}
		seen[ev.EventID] = true
		out = append(out, ev)
	}
	return out
}

// DedupExfil drops duplicate exfil events by event id, keeping first
// occurrence.
func DedupExfil(in []ExfilEvent) []ExfilEvent {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, ev := range in {
		if seen[ev.EventID] {
			continue
		}
		seen[ev.EventID] = true
		out = append(out, ev)
	}
	return out
}

// ClampFuture clamps a timestamp that sits further than tolerance in the
// future back to now. Compensates for source clock skew.
func ClampFuture(ts, now time.Time, tolerance time.Duration) time.Time {
	if ts.After(now.Add(tolerance)) {
		return now
	}
	return ts
}
