package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"exfilwatch/internal/events"
	"exfilwatch/internal/observability"
)

// FileClient replays audit events from JSON Lines files, one event object per
// line. It backs offline runs and incident replay; timestamps outside the
// requested range are filtered out to match the live adapters' contract.
type FileClient struct {
	reconPath string
	exfilPath string
	logger    *zap.SugaredLogger
	metrics   *observability.MetricsManager
}

// NewFileClient creates a replay client. Either path may be empty, in which
// case the corresponding stream is empty.
func NewFileClient(reconPath, exfilPath string, logger *zap.SugaredLogger) *FileClient {
	return &FileClient{
		reconPath: reconPath,
		exfilPath: exfilPath,
		logger:    logger,
	}
}

// SetMetrics attaches a metrics manager; a nil manager disables counting.
func (c *FileClient) SetMetrics(mm *observability.MetricsManager) {
	c.metrics = mm
}

// FetchRecon implements ReconSource.
func (c *FileClient) FetchRecon(ctx context.Context, start, end time.Time) ([]events.ReconEvent, error) {
	if c.reconPath == "" {
		return nil, nil
	}

	var out []events.ReconEvent
	malformed := 0
	err := c.readLines(ctx, c.reconPath, func(line []byte) {
		var ev events.ReconEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Infow("Skipping malformed recon record", "error", err)
			malformed++
			return
		}
		if err := ev.Validate(); err != nil {
			c.logger.Infow("Skipping invalid recon record", "error", err)
			malformed++
			return
		}
		if inRange(ev.Timestamp, start, end) {
			out = append(out, ev)
		}
	})
	if err != nil {
		return nil, err
	}
	if c.metrics != nil && malformed > 0 {
		c.metrics.RecordMalformed(observability.StreamRecon, malformed)
	}
	return out, nil
}

// FetchExfil implements ExfilSource.
func (c *FileClient) FetchExfil(ctx context.Context, start, end time.Time) ([]events.ExfilEvent, error) {
	if c.exfilPath == "" {
		return nil, nil
	}

	var out []events.ExfilEvent
	malformed := 0
	err := c.readLines(ctx, c.exfilPath, func(line []byte) {
		var ev events.ExfilEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Infow("Skipping malformed exfil record", "error", err)
			malformed++
			return
		}
		if err := ev.Validate(); err != nil {
			c.logger.Infow("Skipping invalid exfil record", "error", err)
			malformed++
			return
		}
		if inRange(ev.Timestamp, start, end) {
			out = append(out, ev)
		}
	})
	if err != nil {
		return nil, err
	}
	if c.metrics != nil && malformed > 0 {
		c.metrics.RecordMalformed(observability.StreamExfil, malformed)
	}
	return out, nil
}

func (c *FileClient) readLines(ctx context.Context, path string, handle func([]byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrUnavailable, path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		handle(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrUnavailable, path, err)
	}
	return nil
}

func inRange(ts, start, end time.Time) bool {
	return !ts.Before(start) && ts.Before(end)
}
