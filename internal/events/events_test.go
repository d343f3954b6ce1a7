package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconEventValidate(t *testing.T) {
	valid := ReconEvent{
		EventID:   "r1",
		Actor:     "u@x.com",
		Action:    ActionSummarizeFile,
		App:       AppDocs,
		Timestamp: time.Now(),
	}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.Actor = ""
	assert.Error(t, missing.Validate())

	badAction := valid
	badAction.Action = "translate_file"
	assert.Error(t, badAction.Validate())

	badApp := valid
	badApp.App = "keep"
	assert.Error(t, badApp.Validate())
}

func TestExfilEventValidate(t *testing.T) {
	valid := ExfilEvent{
		EventID:   "e1",
		Actor:     "u@x.com",
		Type:      ExfilChangeVisibility,
		DocID:     "D1",
		Timestamp: time.Now(),
	}
	require.NoError(t, valid.Validate())

	badType := valid
	badType.Type = "rename"
	assert.Error(t, badType.Validate())

	badVis := valid
	badVis.Visibility = "everyone"
	assert.Error(t, badVis.Validate())
}

func TestDestinationDomain(t *testing.T) {
	cases := []struct {
		acl, newValue, want string
	}{
		{"bob@partner.com", "", "partner.com"},
		{"", "Bob@Partner.COM", "partner.com"},
		{"partner.com", "", "partner.com"},
		{"", "can_view", ""},
		{"", "", ""},
		{"bob@", "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DestinationDomain(tc.acl, tc.newValue),
			"acl=%q new=%q", tc.acl, tc.newValue)
	}
}

func TestIsExternalShare(t *testing.T) {
	ev := ExfilEvent{
		EventID:    "e1",
		Actor:      "u@x.com",
		Type:       ExfilChangeVisibility,
		Visibility: VisibilityPeopleWithLink,
	}
	assert.True(t, ev.IsExternalShare())

	ev.Visibility = VisibilityDomain
	assert.False(t, ev.IsExternalShare())

	acl := ExfilEvent{
		EventID:        "e2",
		Actor:          "u@x.com",
		Type:           ExfilChangeACL,
		DestinationACL: "bob@other.org",
	}
	assert.True(t, acl.IsExternalShare())

	internal := acl
	internal.DestinationACL = "carol@x.com"
	assert.False(t, internal.IsExternalShare())

	download := ExfilEvent{EventID: "e3", Actor: "u@x.com", Type: ExfilDownload,
		Visibility: VisibilityPublicOnTheWeb}
	assert.False(t, download.IsExternalShare())
}

func TestDedupKeepsFirstOccurrence(t *testing.T) {
	now := time.Now()
	recon := []ReconEvent{
		{EventID: "a", Actor: "u@x.com", Timestamp: now},
		{EventID: "a", Actor: "u@x.com", Timestamp: now.Add(time.Minute)},
		{EventID: "b", Actor: "u@x.com", Timestamp: now},
	}
	got := DedupRecon(recon)
	require.Len(t, got, 2)
	assert.Equal(t, now, got[0].Timestamp)

	exfil := []ExfilEvent{
		{EventID: "x"},
		{EventID: "x"},
	}
	assert.Len(t, DedupExfil(exfil), 1)
}

func TestClampFuture(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	tol := 5 * time.Minute

	within := now.Add(4 * time.Minute)
	assert.Equal(t, within, ClampFuture(within, now, tol))

	beyond := now.Add(10 * time.Minute)
	assert.Equal(t, now, ClampFuture(beyond, now, tol))

	past := now.Add(-time.Hour)
	assert.Equal(t, past, ClampFuture(past, now, tol))
}
