package findings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"
)

// ErrEmission marks a failure to deliver findings after retries. Callers map
// it to the emission exit code.
var ErrEmission = errors.New("findings emission failed")

// Emitter writes the sorted findings batch to a file or stdout.
type Emitter struct {
	logger *zap.SugaredLogger
	stdout io.Writer
}

// NewEmitter creates an emitter. stdout may be nil, defaulting to os.Stdout.
func NewEmitter(logger *zap.SugaredLogger, stdout io.Writer) *Emitter {
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Emitter{logger: logger, stdout: stdout}
}

// Sort orders findings in place for output.
func Sort(list []*Finding) {
	sort.SliceStable(list, func(i, j int) bool {
		return Less(list[i], list[j])
	})
}

// Marshal renders the sorted batch as an indented JSON array. An empty batch
// renders as "[]".
func Marshal(list []*Finding) ([]byte, error) {
	Sort(list)
	if len(list) == 0 {
		return []byte("[]\n"), nil
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal findings: %w", err)
	}
	return append(data, '\n'), nil
}

// Emit writes the batch to path, or to stdout when path is empty. The file is
// written even when the batch is empty so downstream consumers can tell a
// clean sweep from a failed one. A failed write is retried once; on the
// second failure the payload is dumped to a sibling file and ErrEmission is
// returned.
func (e *Emitter) Emit(list []*Finding, path string) error {
	data, err := Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmission, err)
	}

	if path == "" {
		if _, err := e.stdout.Write(data); err != nil {
			return fmt.Errorf("%w: write stdout: %v", ErrEmission, err)
		}
		return nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.logger.Warnw("Findings write failed, retrying", "path", path, "error", err)
		if err = os.WriteFile(path, data, 0o644); err != nil {
			sibling := path + ".dump"
			if dumpErr := os.WriteFile(sibling, data, 0o644); dumpErr != nil {
				e.logger.Errorw("Findings dump failed", "path", sibling, "error", dumpErr)
			} else {
				e.logger.Errorw("Findings written to dump file after write failure",
					"path", path, "dump", sibling)
			}
			return fmt.Errorf("%w: write %s: %v", ErrEmission, path, err)
		}
	}

	e.logger.Infow("Findings written", "path", path, "count", len(list))
	return nil
}
