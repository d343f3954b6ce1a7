package severity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"exfilwatch/internal/events"
	"exfilwatch/internal/filecontext"
	"exfilwatch/internal/intent"
)

func minutes(v float64) *float64 {
	return &v
}

func externalVis(doc string) *events.ExfilEvent {
	return &events.ExfilEvent{
		EventID:    "e1",
		Actor:      "u@x.com",
		Type:       events.ExfilChangeVisibility,
		DocID:      doc,
		Visibility: events.VisibilityPeopleWithLink,
		Timestamp:  time.Date(2025, 1, 15, 14, 23, 45, 0, time.UTC),
	}
}

func lowCtx() *filecontext.FileContext {
	return &filecontext.FileContext{DocID: "D1", Sensitivity: filecontext.SensitivityLow}
}

func TestBaseRubric(t *testing.T) {
	r := New(Options{})

	cases := []struct {
		name  string
		cand  *Candidate
		want  Level
	}{
		{
			"external share within 10min is high",
			&Candidate{Exfil: externalVis("D1"), DeltaMinutes: minutes(5.55), FileCtx: lowCtx()},
			High,
		},
		{
			"external share at 15min is medium",
			&Candidate{Exfil: externalVis("D1"), DeltaMinutes: minutes(15), FileCtx: lowCtx()},
			Medium,
		},
		{
			"download within 10min is high",
			&Candidate{
				Exfil: &events.ExfilEvent{EventID: "e2", Actor: "u@x.com",
					Type: events.ExfilDownload, DocID: "D1"},
				DeltaMinutes: minutes(3), FileCtx: lowCtx(),
			},
			High,
		},
		{
			"copy within window is low",
			&Candidate{
				Exfil: &events.ExfilEvent{EventID: "e3", Actor: "u@x.com",
					Type: events.ExfilCopy, DocID: "D1"},
				DeltaMinutes: minutes(5), FileCtx: lowCtx(),
			},
			Low,
		},
		{
			"qualifying exfil beyond 30min is low",
			&Candidate{Exfil: externalVis("D1"), DeltaMinutes: minutes(45), FileCtx: lowCtx()},
			Low,
		},
		{
			"delayed external share is medium",
			&Candidate{Exfil: externalVis("D1"), ReconScore: 6.3, FileCtx: lowCtx()},
			Medium,
		},
		{
			"delayed download is low",
			&Candidate{
				Exfil: &events.ExfilEvent{EventID: "e4", Actor: "u@x.com",
					Type: events.ExfilDownload, DocID: "D1"},
				ReconScore: 6.3, FileCtx: lowCtx(),
			},
			Low,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Resolve(tc.cand)
			assert.False(t, got.Drop)
			assert.Equal(t, tc.want, got.Level)
		})
	}
}

func TestDelayedReason(t *testing.T) {
	r := New(Options{})
	got := r.Resolve(&Candidate{Exfil: externalVis("D1"), ReconScore: 6.3, FileCtx: lowCtx()})
	assert.Contains(t, got.Reasons[0], "delayed exfil after cumulative recon")
	assert.Contains(t, got.Reasons[0], "6.30")
}

func TestSingleOverrideStepsUpOne(t *testing.T) {
	r := New(Options{HighRiskOUs: []string{"/Executives"}})

	cand := &Candidate{Exfil: externalVis("D1"), DeltaMinutes: minutes(15), FileCtx: lowCtx()}
	cand.FileCtx.Sensitivity = filecontext.SensitivityHigh

	got := r.Resolve(cand)
	assert.Equal(t, High, got.Level)
	assert.Contains(t, got.Reasons, "high-sensitivity file")
}

func TestDoubleOverrideStepsUpTwo(t *testing.T) {
	r := New(Options{HighRiskOUs: []string{"/Executives"}})

	// Low base (copy within window) with two override conditions.
	cand := &Candidate{
		Exfil: &events.ExfilEvent{EventID: "e1", Actor: "u@x.com",
			Type: events.ExfilCopy, DocID: "D1"},
		DeltaMinutes: minutes(15),
		FileCtx:      &filecontext.FileContext{DocID: "D1", Sensitivity: filecontext.SensitivityHigh},
		ActorOU:      "/Executives",
	}

	got := r.Resolve(cand)
	assert.Equal(t, High, got.Level)
}

func TestHighRiskFolderOverride(t *testing.T) {
	r := New(Options{HighRiskFolders: []string{"F-secret"}})

	ev := externalVis("D1")
	ev.ParentFolderID = "F-secret"
	got := r.Resolve(&Candidate{Exfil: ev, DeltaMinutes: minutes(15), FileCtx: lowCtx()})
	assert.Equal(t, High, got.Level)
}

func TestSuppressDropsNonHigh(t *testing.T) {
	r := New(Options{})

	cand := &Candidate{
		Exfil:        externalVis("D1"),
		DeltaMinutes: minutes(15), // medium base
		FileCtx:      lowCtx(),
		Analysis:     intent.Analysis{Intent: intent.VerdictBenign, ShouldSuppress: true},
	}
	got := r.Resolve(cand)
	assert.True(t, got.Drop)
	assert.Equal(t, "benign intent", got.DropCause)
}

func TestSuppressDropsTemporalHigh(t *testing.T) {
	r := New(Options{})

	// A tight delta alone does not save a benign allowlisted share; only an
	// override or a canary keeps it.
	cand := &Candidate{
		Exfil:        externalVis("D1"),
		DeltaMinutes: minutes(5),
		FileCtx:      lowCtx(),
		Analysis:     intent.Analysis{Intent: intent.VerdictBenign, ShouldSuppress: true},
	}
	got := r.Resolve(cand)
	assert.True(t, got.Drop)
	assert.Equal(t, "benign intent", got.DropCause)
}

func TestOverrideToHighBeatsSuppression(t *testing.T) {
	r := New(Options{})

	cand := &Candidate{
		Exfil:        externalVis("D1"),
		DeltaMinutes: minutes(15),
		FileCtx:      &filecontext.FileContext{DocID: "D1", Sensitivity: filecontext.SensitivityHigh},
		Analysis:     intent.Analysis{Intent: intent.VerdictBenign, ShouldSuppress: true},
	}
	got := r.Resolve(cand)
	assert.False(t, got.Drop)
	assert.Equal(t, High, got.Level)
}

func TestExcludedActorAlwaysDropped(t *testing.T) {
	r := New(Options{
		ExcludeActors: []string{"U@X.com"},
		CanaryDocIDs:  []string{"D1"},
	})

	got := r.Resolve(&Candidate{Exfil: externalVis("D1"), DeltaMinutes: minutes(1), FileCtx: lowCtx()})
	assert.True(t, got.Drop)
	assert.Equal(t, "excluded actor", got.DropCause)
}

func TestSecurityInvestigationOUDropped(t *testing.T) {
	r := New(Options{SecurityInvestigationOUs: []string{"/Security/RedTeam"}})

	got := r.Resolve(&Candidate{
		Exfil: externalVis("D1"), DeltaMinutes: minutes(1),
		FileCtx: lowCtx(), ActorOU: "/Security/RedTeam",
	})
	assert.True(t, got.Drop)
}

func TestCanaryForcedHighAndNeverSuppressed(t *testing.T) {
	r := New(Options{CanaryDocIDs: []string{"D-canary"}})

	ev := &events.ExfilEvent{EventID: "e1", Actor: "u@x.com",
		Type: events.ExfilCopy, DocID: "D-canary"}
	cand := &Candidate{
		Exfil:        ev,
		DeltaMinutes: minutes(25),
		FileCtx:      lowCtx(),
		Analysis:     intent.Analysis{Intent: intent.VerdictBenign, ShouldSuppress: true},
	}
	got := r.Resolve(cand)
	assert.False(t, got.Drop)
	assert.Equal(t, High, got.Level)
	assert.Equal(t, "CANARY DOCUMENT ACCESS", got.Reasons[0])
}

func TestRevertElevatesToHigh(t *testing.T) {
	r := New(Options{})

	ev := externalVis("D1")
	ev.IsRevert = true
	got := r.Resolve(&Candidate{Exfil: ev, DeltaMinutes: minutes(25), FileCtx: lowCtx()})
	assert.Equal(t, High, got.Level)
	assert.Contains(t, got.ReasonCodes, "external_toggle_revert")
}

func TestStepClampsAtHigh(t *testing.T) {
	assert.Equal(t, High, step(High, 2))
	assert.Equal(t, High, step(Medium, 1))
	assert.Equal(t, High, step(Low, 2))
	assert.Equal(t, Medium, step(Low, 1))
}
