package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeLines(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileClientFetchRecon(t *testing.T) {
	path := writeLines(t, "recon.jsonl",
		`{"event_id":"r1","actor":"u@x.com","action":"summarize_file","app":"docs","doc_id":"D1","timestamp":"2025-01-15T14:18:12Z"}`,
		`{"event_id":"r2","actor":"u@x.com","action":"catch_me_up","app":"drive","timestamp":"2025-01-15T02:00:00Z"}`,
		`not json at all`,
		`{"event_id":"r3","actor":"u@x.com","action":"not_an_action","app":"docs","timestamp":"2025-01-15T14:20:00Z"}`,
	)

	c := NewFileClient(path, "", zap.NewNop().Sugar())
	start := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)

	got, err := c.FetchRecon(context.Background(), start, end)
	require.NoError(t, err)
	// r2 is out of range, the garbage line and the unknown action are skipped.
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].EventID)
	assert.Equal(t, "D1", got[0].DocID)
}

func TestFileClientFetchExfil(t *testing.T) {
	path := writeLines(t, "exfil.jsonl",
		`{"event_id":"e1","actor":"u@x.com","event_type":"change_visibility","doc_id":"D1","visibility":"people_with_link","timestamp":"2025-01-15T14:23:45Z"}`,
		`{"event_id":"e2","actor":"u@x.com","event_type":"download","doc_id":"D2","timestamp":"2025-01-15T14:25:00Z"}`,
	)

	c := NewFileClient("", path, zap.NewNop().Sugar())
	start := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)

	got, err := c.FetchExfil(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].EventID)
}

func TestFileClientMissingFileIsUnavailable(t *testing.T) {
	c := NewFileClient("/does/not/exist.jsonl", "", zap.NewNop().Sugar())

	_, err := c.FetchRecon(context.Background(), time.Time{}, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileClientEmptyPathYieldsNoEvents(t *testing.T) {
	c := NewFileClient("", "", zap.NewNop().Sugar())

	recon, err := c.FetchRecon(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, recon)

	exfil, err := c.FetchExfil(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, exfil)
}
