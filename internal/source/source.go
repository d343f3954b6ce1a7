// Package source defines the audit-log adapter boundary. Real deployments
// plug in Workspace Admin SDK clients here; the engine only sees the two
// fetch interfaces and treats any fetch failure as fatal for the run.
package source

import (
	"context"
	"errors"
	"time"

	"exfilwatch/internal/events"
)

// ErrUnavailable indicates an adapter could not return events (auth, quota,
// network). It aborts the run with the source-unavailable exit code.
var ErrUnavailable = errors.New("event source unavailable")

// ReconSource returns assistant-activity events in [start, end).
type ReconSource interface {
	FetchRecon(ctx context.Context, start, end time.Time) ([]events.ReconEvent, error)
}

// ExfilSource returns file-service events in [start, end).
type ExfilSource interface {
	FetchExfil(ctx context.Context, start, end time.Time) ([]events.ExfilEvent, error)
}

// Client bundles both streams; most adapters talk to one upstream API.
type Client interface {
	ReconSource
	ExfilSource
}
