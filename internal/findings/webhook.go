package findings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"exfilwatch/internal/observability"
)

const (
	webhookTimeout    = 10 * time.Second
	webhookRetryDelay = 2 * time.Second
)

// Webhook posts qualifying findings to an alerting endpoint.
type Webhook struct {
	url        string
	severities map[string]bool
	client     *http.Client
	logger     *zap.SugaredLogger
	metrics    *observability.MetricsManager
}

// NewWebhook creates a dispatcher. severities lists the levels worth alerting
// on; an empty list means every level. metrics may be nil.
func NewWebhook(url string, severities []string, logger *zap.SugaredLogger, metrics *observability.MetricsManager) *Webhook {
	set := make(map[string]bool, len(severities))
	for _, s := range severities {
		set[s] = true
	}
	return &Webhook{
		url:        url,
		severities: set,
		client:     &http.Client{Timeout: webhookTimeout},
		logger:     logger,
		metrics:    metrics,
	}
}

// Dispatch posts the findings matching the severity filter as one JSON array.
// Nothing is posted when no finding qualifies. A failed delivery is retried
// once; the final failure is returned wrapped in ErrEmission.
func (w *Webhook) Dispatch(ctx context.Context, list []*Finding) error {
	if w.url == "" {
		return nil
	}

	var batch []*Finding
	for _, f := range list {
		if len(w.severities) == 0 || w.severities[f.Severity] {
			batch = append(batch, f)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("%w: marshal webhook payload: %v", ErrEmission, err)
	}

	if err := w.post(ctx, payload); err != nil {
		w.logger.Warnw("Webhook delivery failed, retrying", "url", w.url, "error", err)
		if w.metrics != nil {
			w.metrics.RecordWebhookDelivery("retry")
		}

		select {
		case <-time.After(webhookRetryDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrEmission, ctx.Err())
		}

		if err = w.post(ctx, payload); err != nil {
			if w.metrics != nil {
				w.metrics.RecordWebhookDelivery("failure")
			}
			return fmt.Errorf("%w: webhook delivery: %v", ErrEmission, err)
		}
	}

	if w.metrics != nil {
		w.metrics.RecordWebhookDelivery("success")
	}
	w.logger.Infow("Webhook delivered", "url", w.url, "findings", len(batch))
	return nil
}

func (w *Webhook) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
